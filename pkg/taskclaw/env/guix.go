// guix.go envelopa o comando em `guix shell`, com a variante --container
// adicionando isolamento de sistema de arquivos mantendo rede para a
// chamada do agente.
package env

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// defaultContainerPackages é o conjunto mínimo para rodar o agente de
// linha de comando dentro do contêiner guix.
var defaultContainerPackages = []string{
	"coreutils", "bash", "grep", "sed", "gawk", "git",
	"node", "claude-code", "nss-certs",
}

type guixShell struct {
	workDir   string
	packages  []string
	manifest  string
	container bool
}

func (g *guixShell) Name() string {
	if g.container {
		return "guix-shell-container"
	}
	return "guix-shell"
}

func (g *guixShell) EnsureReady(ctx context.Context) error {
	if _, err := exec.LookPath("guix"); err != nil {
		return &Error{Env: g.Name(), Err: fmt.Errorf("binário guix não encontrado: %w", err)}
	}
	return nil
}

func (g *guixShell) Wrap(cmd string, args []string) (string, []string) {
	out := []string{"shell"}

	if g.container {
		out = append(out, "--container", "--network")
		if home, err := os.UserHomeDir(); err == nil {
			out = append(out, "--share="+filepath.Join(home, ".claude"))
		}
		out = append(out, "--share="+g.workDir)
		out = append(out, "--preserve=^COLORTERM$")
	}

	switch {
	case g.manifest != "":
		out = append(out, "-m", g.manifest)
	case len(g.packages) > 0:
		out = append(out, g.packages...)
	case g.container:
		out = append(out, defaultContainerPackages...)
	}

	out = append(out, "--")
	out = append(out, cmd)
	out = append(out, args...)
	return "guix", out
}

func (g *guixShell) WorkDir() string { return g.workDir }
