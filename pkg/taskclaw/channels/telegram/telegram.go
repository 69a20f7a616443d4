// Package telegram implements the Telegram channel using the Bot API
// directly via HTTP long polling, without an SDK dependency.
//
// Incoming text is normalized by stripping a leading @botname mention
// before it reaches trigger matching.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels"
)

// pollTimeout is the getUpdates long-poll wait in seconds.
const pollTimeout = 30

// Telegram implements channels.Channel over the Bot API.
type Telegram struct {
	name   string
	token  string
	logger *slog.Logger
	client *http.Client

	// baseURL is https://api.telegram.org/bot<token>.
	baseURL string

	// botName is the bot username learned from getMe, for mention stripping.
	botName string

	messages  chan *channels.IncomingMessage
	connected atomic.Bool

	// offset is the last processed update ID + 1.
	offset int64

	cancel context.CancelFunc
}

// New creates a Telegram channel with the given join name and bot token.
func New(name, token string, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		name:   name,
		token:  token,
		logger: logger.With("component", "telegram", "channel", name),
		// Timeout acima do long poll para não cortar getUpdates.
		client:   &http.Client{Timeout: (pollTimeout + 15) * time.Second},
		baseURL:  "https://api.telegram.org/bot" + token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

func (t *Telegram) Name() string { return t.name }

// Connect verifies the token via getMe and starts the polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.token == "" {
		return channels.Fatal(t.name, fmt.Errorf("bot token is required"))
	}
	if t.connected.Load() {
		return nil
	}

	ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe(ctx)
	if err != nil {
		return channels.Fatal(t.name, fmt.Errorf("verifying token: %w", err))
	}
	t.botName = me.Username
	t.connected.Store(true)
	t.logger.Info("telegram conectado", "bot", me.Username)

	go t.pollLoop(ctx)
	return nil
}

func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	return nil
}

// Send sends a text message to the chat identified by to.
func (t *Telegram) Send(ctx context.Context, to, text string) error {
	if !t.connected.Load() {
		return channels.Transient(t.name, fmt.Errorf("not connected"))
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return channels.Fatal(t.name, fmt.Errorf("invalid chat ID %q: %w", to, err))
	}

	payload := map[string]any{"chat_id": chatID, "text": text}
	return t.call(ctx, "sendMessage", payload, nil)
}

func (t *Telegram) Receive() <-chan *channels.IncomingMessage { return t.messages }

func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// ---------- Polling ----------

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Date int64  `json:"date"`
		From *struct {
			ID        int64  `json:"id"`
			Username  string `json:"username"`
			FirstName string `json:"first_name"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type user struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (t *Telegram) pollLoop(ctx context.Context) {
	defer close(t.messages)
	defer t.connected.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := t.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("falha no long poll, recuando",
				"error", channels.Transient(t.name, err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, u := range updates {
			t.offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Text == "" || u.Message.From == nil {
				continue
			}

			msg := &channels.IncomingMessage{
				Channel:    t.name,
				Sender:     strconv.FormatInt(u.Message.Chat.ID, 10),
				SenderName: u.Message.From.FirstName,
				Text:       StripMention(u.Message.Text, t.botName),
				ReplyTo:    strconv.FormatInt(u.Message.Chat.ID, 10),
				ReceivedAt: time.Unix(u.Message.Date, 0),
			}
			select {
			case t.messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// StripMention removes a leading @botname mention, case-insensitively.
// Exported for tests and for adapters with the same convention.
func StripMention(text, botName string) string {
	if botName == "" {
		return text
	}
	trimmed := strings.TrimSpace(text)
	mention := "@" + botName
	if len(trimmed) < len(mention) || !strings.EqualFold(trimmed[:len(mention)], mention) {
		return text
	}
	rest := trimmed[len(mention):]
	// A menção precisa terminar a palavra: "@botname2" não é o bot.
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return text
	}
	return strings.TrimSpace(rest)
}

// ---------- Bot API plumbing ----------

func (t *Telegram) getMe(ctx context.Context) (*user, error) {
	var me user
	if err := t.call(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

func (t *Telegram) getUpdates(ctx context.Context) ([]update, error) {
	var updates []update
	payload := map[string]any{
		"offset":          t.offset,
		"timeout":         pollTimeout,
		"allowed_updates": []string{"message"},
	}
	if err := t.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// call issues a Bot API method and decodes the result into out.
func (t *Telegram) call(ctx context.Context, method string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", method, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var wrapper struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !wrapper.OK {
		return fmt.Errorf("%s failed: %s", method, wrapper.Description)
	}
	if out != nil {
		if err := json.Unmarshal(wrapper.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}
