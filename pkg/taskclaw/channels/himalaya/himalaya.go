// Package himalaya implements the e-mail channel by shelling out to the
// himalaya CLI: the inbox is polled on a fixed interval, new envelopes
// are read as plain text and deduplicated by envelope ID. Polls never
// overlap; a cycle is skipped while the previous one is in flight.
package himalaya

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels"
)

const (
	defaultPollInterval = time.Minute

	// commandTimeout bounds each himalaya invocation.
	commandTimeout = 30 * time.Second

	// maxSeen bounds the dedup set; beyond it, oldest knowledge is reset.
	maxSeen = 10000
)

// Envelope is one parsed line of `himalaya envelope list`.
type Envelope struct {
	ID      string
	Flags   string
	From    string
	Subject string
}

// Himalaya implements channels.Channel over the himalaya CLI.
type Himalaya struct {
	name     string
	account  string
	interval time.Duration
	logger   *slog.Logger

	messages  chan *channels.IncomingMessage
	connected atomic.Bool

	// polling impede sobreposição de ciclos.
	polling atomic.Bool

	// seen deduplica envelopes por ID.
	seen map[string]struct{}

	// primed: a primeira varredura só semeia o dedup, sem despachar
	// a caixa de entrada pré-existente.
	primed bool

	cancel context.CancelFunc
}

// New creates a himalaya channel. Empty account uses the CLI default;
// zero interval uses one minute.
func New(name, account string, interval time.Duration, logger *slog.Logger) *Himalaya {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Himalaya{
		name:     name,
		account:  account,
		interval: interval,
		logger:   logger.With("component", "himalaya", "channel", name),
		messages: make(chan *channels.IncomingMessage, 64),
		seen:     make(map[string]struct{}),
	}
}

func (h *Himalaya) Name() string { return h.name }

func (h *Himalaya) Connect(ctx context.Context) error {
	if _, err := exec.LookPath("himalaya"); err != nil {
		return channels.Fatal(h.name, fmt.Errorf("binário himalaya não encontrado: %w", err))
	}
	if h.connected.Load() {
		return nil
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.connected.Store(true)

	go h.pollLoop(ctx)
	return nil
}

func (h *Himalaya) Disconnect() error {
	if h.cancel != nil {
		h.cancel()
	}
	h.connected.Store(false)
	return nil
}

// Send is not supported: replies to e-mail go through the msmtp output
// sink, not back through the inbox poller.
func (h *Himalaya) Send(ctx context.Context, to, text string) error {
	return channels.Fatal(h.name, fmt.Errorf("canal de e-mail não envia respostas diretas"))
}

func (h *Himalaya) Receive() <-chan *channels.IncomingMessage { return h.messages }

func (h *Himalaya) IsConnected() bool { return h.connected.Load() }

// ---------- Polling ----------

func (h *Himalaya) pollLoop(ctx context.Context) {
	defer close(h.messages)
	defer h.connected.Store(false)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Primeira varredura imediata, apenas para semear o dedup.
	h.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.polling.CompareAndSwap(false, true) {
				h.logger.Debug("ciclo anterior ainda em andamento, pulando")
				continue
			}
			h.poll(ctx)
			h.polling.Store(false)
		}
	}
}

func (h *Himalaya) poll(ctx context.Context) {
	out, err := h.run(ctx, "envelope", "list", "--max-width", "0")
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Warn("falha ao listar envelopes",
				"error", channels.Transient(h.name, err))
		}
		return
	}

	envelopes := ParseEnvelopeList(out)
	for _, env := range envelopes {
		if _, dup := h.seen[env.ID]; dup {
			continue
		}
		h.remember(env.ID)

		if !h.primed {
			continue
		}

		body, err := h.run(ctx, "message", "read", env.ID, "--mime-type", "plain")
		if err != nil {
			h.logger.Warn("falha ao ler mensagem",
				"id", env.ID, "error", channels.Transient(h.name, err))
			continue
		}

		msg := &channels.IncomingMessage{
			Channel:    h.name,
			Sender:     env.From,
			Text:       env.Subject + "\n\n" + strings.TrimSpace(body),
			ReplyTo:    env.From,
			ReceivedAt: time.Now(),
		}
		select {
		case h.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
	h.primed = true
}

func (h *Himalaya) remember(id string) {
	if len(h.seen) >= maxSeen {
		h.seen = make(map[string]struct{})
	}
	h.seen[id] = struct{}{}
}

func (h *Himalaya) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if h.account != "" {
		args = append(args, "--account", h.account)
	}

	cmd := exec.CommandContext(ctx, "himalaya", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("himalaya %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ParseEnvelopeList parses the tab-separated output of
// `himalaya envelope list --max-width 0`: ID, flags, from, subject.
// The header line and malformed lines are skipped.
func ParseEnvelopeList(out string) []Envelope {
	var envelopes []Envelope
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			continue
		}
		id := strings.TrimSpace(fields[0])
		if id == "" || id == "ID" {
			continue
		}
		envelopes = append(envelopes, Envelope{
			ID:      id,
			Flags:   strings.TrimSpace(fields[1]),
			From:    strings.TrimSpace(fields[2]),
			Subject: strings.TrimSpace(fields[3]),
		})
	}
	return envelopes
}
