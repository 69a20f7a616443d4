// Package main é o ponto de entrada do CLI do taskclaw.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jholhewres/taskclaw/cmd/taskclaw/commands"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/agent"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/daemon"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/env"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/template"
)

// version é injetado em build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode traduz a classe da falha para o código de saída do processo:
// 1 configuração, 2 job inexistente, 3 agente, 4 ambiente, 5 template.
func exitCode(err error) int {
	var (
		cfgErr    *config.Error
		agentErr  *agent.Error
		envErr    *env.Error
		renderErr *template.RenderError
	)
	switch {
	case errors.Is(err, daemon.ErrJobNotFound):
		return 2
	case errors.As(err, &agentErr):
		return 3
	case errors.As(err, &envErr):
		return 4
	case errors.As(err, &renderErr):
		return 5
	case errors.As(err, &cfgErr):
		return 1
	}
	return 1
}
