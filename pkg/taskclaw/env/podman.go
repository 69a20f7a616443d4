// podman.go executa o comando dentro de um contêiner podman. Apenas o
// diretório de trabalho e as credenciais do agente são expostos ao
// contêiner; a imagem padrão é construída automaticamente no primeiro
// uso a partir da receita embutida.
package env

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// DefaultImage é a imagem usada quando o job não nomeia uma.
const DefaultImage = "taskclaw-agent:latest"

//go:embed Containerfile
var containerfile []byte

type podman struct {
	image   string
	workDir string

	// buildOnce garante uma única construção da imagem padrão por processo.
	buildOnce sync.Once
	buildErr  error
}

func newPodman(image, workDir string) *podman {
	if image == "" {
		image = DefaultImage
	}
	return &podman{image: image, workDir: workDir}
}

func (p *podman) Name() string { return "podman" }

// EnsureReady verifica o binário e a imagem; a imagem padrão ausente é
// construída a partir da receita embutida.
func (p *podman) EnsureReady(ctx context.Context) error {
	if _, err := exec.LookPath("podman"); err != nil {
		return &Error{Env: p.Name(), Err: fmt.Errorf("binário podman não encontrado: %w", err)}
	}

	if err := exec.CommandContext(ctx, "podman", "image", "exists", p.image).Run(); err == nil {
		return nil
	}

	if p.image != DefaultImage {
		return &Error{Env: p.Name(), Err: fmt.Errorf("imagem %q não existe", p.image)}
	}

	p.buildOnce.Do(func() {
		p.buildErr = p.buildDefaultImage(ctx)
	})
	if p.buildErr != nil {
		return &Error{Env: p.Name(), Err: p.buildErr}
	}
	return nil
}

func (p *podman) Wrap(cmd string, args []string) (string, []string) {
	out := []string{
		"run", "--rm", "--network=host",
		"-v", p.workDir + ":" + p.workDir,
		"-w", p.workDir,
	}
	if home, err := os.UserHomeDir(); err == nil {
		claudeDir := filepath.Join(home, ".claude")
		if _, statErr := os.Stat(claudeDir); statErr == nil {
			out = append(out, "-v", claudeDir+":"+claudeDir+":ro")
		}
	}
	out = append(out, p.image, cmd)
	out = append(out, args...)
	return "podman", out
}

func (p *podman) WorkDir() string { return p.workDir }

func (p *podman) buildDefaultImage(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "taskclaw-image-*")
	if err != nil {
		return fmt.Errorf("criando diretório de build: %w", err)
	}
	defer os.RemoveAll(dir)

	recipe := filepath.Join(dir, "Containerfile")
	if err := os.WriteFile(recipe, containerfile, 0o644); err != nil {
		return fmt.Errorf("gravando receita: %w", err)
	}

	build := exec.CommandContext(ctx, "podman", "build", "-t", p.image, "-f", recipe, dir)
	if out, err := build.CombinedOutput(); err != nil {
		return fmt.Errorf("construindo imagem %s: %w: %s", p.image, err, out)
	}
	return nil
}
