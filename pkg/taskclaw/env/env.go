// Package env resolve a política de isolamento de um job em um
// lançamento concreto de processo: execução direta, guix shell (com ou
// sem contêiner) ou podman. O backend de agente por subprocesso passa
// por Wrap antes de ser executado.
package env

import (
	"context"
	"fmt"
	"os"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
)

// Error descreve uma falha de ambiente: binário ausente, construção de
// imagem falhou, lançamento impossível. Aborta a execução corrente.
type Error struct {
	Env string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("environment %s: %v", e.Env, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Environment envelopa um comando na política de isolamento do job.
type Environment interface {
	// Name identifica o tipo do ambiente.
	Name() string

	// EnsureReady valida pré-requisitos (binários, imagem) antes do
	// primeiro uso. Deve ser barato quando já pronto.
	EnsureReady(ctx context.Context) error

	// Wrap transforma o comando do agente no comando final a executar.
	Wrap(cmd string, args []string) (string, []string)

	// WorkDir é o diretório de trabalho da execução.
	WorkDir() string
}

// New constrói o ambiente para a configuração dada.
func New(cfg config.EnvironmentConfig) (Environment, error) {
	workDir := cfg.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, &Error{Env: cfg.Type, Err: fmt.Errorf("resolving working directory: %w", err)}
		}
		workDir = wd
	}

	switch cfg.Type {
	case "", "local":
		return &local{workDir: workDir}, nil
	case "guix-shell":
		return &guixShell{workDir: workDir, packages: cfg.Packages, manifest: cfg.Manifest}, nil
	case "guix-shell-container":
		return &guixShell{workDir: workDir, packages: cfg.Packages, manifest: cfg.Manifest, container: true}, nil
	case "podman":
		return newPodman(cfg.Image, workDir), nil
	default:
		return nil, &Error{Env: cfg.Type, Err: fmt.Errorf("tipo de ambiente desconhecido")}
	}
}
