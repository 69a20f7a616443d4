// ollama.go fala com um servidor ollama local via HTTP. O envelope de
// ambiente não se aplica: a chamada sai direto do processo do daemon.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "gemma3"
)

type ollama struct {
	host    string
	model   string
	system  string
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration
}

func newOllama(cfg config.AgentConfig, logger *slog.Logger) *ollama {
	host := cfg.Host
	if host == "" {
		host = defaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &ollama{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		system: cfg.SystemPrompt,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		logger:  logger.With("component", "agent.ollama"),
		timeout: defaultTimeout,
	}
}

// generateRequest é o corpo de POST /api/generate.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (o *ollama) Complete(ctx context.Context, prompt, system string) (string, error) {
	if system == "" {
		system = o.system
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: prompt,
		System: system,
	})
	if err != nil {
		return "", &Error{Backend: "ollama", Kind: KindMalformed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Backend: "ollama", Kind: KindMalformed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &Error{Backend: "ollama", Kind: KindTimeout,
				Err: fmt.Errorf("requisição excedeu %s", o.timeout)}
		}
		return "", &Error{Backend: "ollama", Kind: KindUnreachable,
			Err: fmt.Errorf("conectando a %s: %w", o.host, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &Error{Backend: "ollama", Kind: KindMalformed,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &Error{Backend: "ollama", Kind: KindMalformed,
			Err: fmt.Errorf("decodificando resposta: %w", err)}
	}
	if parsed.Response == "" {
		return "", &Error{Backend: "ollama", Kind: KindMalformed,
			Err: fmt.Errorf("campo response vazio")}
	}

	return strings.TrimSpace(parsed.Response), nil
}
