// claude.go executa o CLI claude como subprocesso. O prompt entra por
// stdin e a resposta sai por stdout; o comando inteiro é envelopado pelo
// ambiente de isolamento do job.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/env"
)

type claude struct {
	cfg     config.AgentConfig
	env     env.Environment
	logger  *slog.Logger
	timeout time.Duration
}

func newClaude(cfg config.AgentConfig, environment env.Environment, logger *slog.Logger) *claude {
	return &claude{
		cfg:     cfg,
		env:     environment,
		logger:  logger.With("component", "agent.claude"),
		timeout: defaultTimeout,
	}
}

// buildArgs monta a linha de invocação do CLI.
func (c *claude) buildArgs(system string) []string {
	args := []string{"--print"}

	if c.cfg.SkipPermissionsEnabled() {
		args = append(args, "--dangerously-skip-permissions")
	} else {
		for _, tool := range c.cfg.AllowedTools {
			args = append(args, "--allowedTools", tool)
		}
	}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	if system != "" {
		args = append(args, "--system-prompt", system)
	}
	return args
}

func (c *claude) Complete(ctx context.Context, prompt, system string) (string, error) {
	if system == "" {
		system = c.cfg.SystemPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name, args := "claude", c.buildArgs(system)
	if c.env != nil {
		name, args = c.env.Wrap(name, args)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if c.env != nil {
		cmd.Dir = c.env.WorkDir()
	}
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", &Error{Backend: "claude", Kind: KindTimeout,
			Err: fmt.Errorf("subprocesso excedeu %s", c.timeout)}
	}
	if err != nil {
		return "", &Error{Backend: "claude", Kind: KindExit,
			Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", &Error{Backend: "claude", Kind: KindMalformed,
			Err: fmt.Errorf("stdout vazio")}
	}

	c.logger.Debug("resposta do claude", "elapsed", elapsed, "bytes", len(out))
	return out, nil
}
