// Package agent adapta os backends de linguagem: o CLI claude executado
// como subprocesso (dentro do ambiente de isolamento do job) e o ollama
// via HTTP. Ambos expõem o mesmo contrato síncrono prompt → texto com
// timeout limitado.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/env"
)

// Timeout padrão de uma chamada ao backend.
const defaultTimeout = 5 * time.Minute

// Kinds de erro de backend.
const (
	KindUnreachable = "unreachable"
	KindTimeout     = "timeout"
	KindMalformed   = "malformed_response"
	KindExit        = "nonzero_exit"
)

// Error descreve uma falha do backend. Aborta a execução corrente;
// nenhuma repetição implícita.
type Error struct {
	Backend string
	Kind    string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent %s (%s): %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Agent é o contrato de um backend de linguagem.
type Agent interface {
	// Complete envia o prompt e devolve o texto da resposta.
	Complete(ctx context.Context, prompt, system string) (string, error)
}

// New constrói o backend configurado. O ambiente só se aplica ao backend
// por subprocesso; o ollama fala HTTP direto do daemon.
func New(cfg config.AgentConfig, environment env.Environment, logger *slog.Logger) (Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "", "claude":
		return newClaude(cfg, environment, logger), nil
	case "ollama":
		return newOllama(cfg, logger), nil
	default:
		return nil, fmt.Errorf("backend de agente desconhecido %q", cfg.Type)
	}
}
