// Package matrix implements the Matrix channel over the client-server
// API directly via HTTP: password login plus a long-poll /sync loop.
// Events sent by the bot itself and history from before login are
// ignored.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels"
)

// syncTimeoutMs is the /sync long-poll wait in milliseconds.
const syncTimeoutMs = 30000

// Matrix implements channels.Channel over the client-server API.
type Matrix struct {
	name       string
	homeserver string
	user       string
	password   string
	logger     *slog.Logger
	client     *http.Client

	// accessToken and userID are set by login.
	accessToken string
	userID      string

	// nextBatch is the sync token; the initial sync establishes it so
	// history before login never reaches the trigger matcher.
	nextBatch string

	messages  chan *channels.IncomingMessage
	connected atomic.Bool
	cancel    context.CancelFunc
}

// New creates a Matrix channel with the given join name and credentials.
func New(name, homeserver, user, password string, logger *slog.Logger) *Matrix {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matrix{
		name:       name,
		homeserver: strings.TrimRight(homeserver, "/"),
		user:       user,
		password:   password,
		logger:     logger.With("component", "matrix", "channel", name),
		client:     &http.Client{Timeout: (syncTimeoutMs/1000 + 15) * time.Second},
		messages:   make(chan *channels.IncomingMessage, 256),
	}
}

func (m *Matrix) Name() string { return m.name }

// Connect logs in, performs the initial sync and starts the sync loop.
func (m *Matrix) Connect(ctx context.Context) error {
	if m.homeserver == "" || m.user == "" {
		return channels.Fatal(m.name, fmt.Errorf("homeserver and user are required"))
	}
	if m.connected.Load() {
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)

	if err := m.login(ctx); err != nil {
		return channels.Fatal(m.name, fmt.Errorf("login: %w", err))
	}
	if err := m.initialSync(ctx); err != nil {
		return channels.Fatal(m.name, fmt.Errorf("initial sync: %w", err))
	}

	m.connected.Store(true)
	m.logger.Info("matrix conectado", "user", m.userID)

	go m.syncLoop(ctx)
	return nil
}

func (m *Matrix) Disconnect() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.connected.Store(false)
	return nil
}

// Send posts an m.room.message text event to the room identified by to.
func (m *Matrix) Send(ctx context.Context, to, text string) error {
	if !m.connected.Load() {
		return channels.Transient(m.name, fmt.Errorf("not connected"))
	}

	txn := fmt.Sprintf("%d", time.Now().UnixNano())
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(to), txn)
	body := map[string]any{"msgtype": "m.text", "body": text}

	return m.call(ctx, http.MethodPut, path, body, nil)
}

func (m *Matrix) Receive() <-chan *channels.IncomingMessage { return m.messages }

func (m *Matrix) IsConnected() bool { return m.connected.Load() }

// ---------- Client-server API ----------

func (m *Matrix) login(ctx context.Context) error {
	body := map[string]any{
		"type": "m.login.password",
		"identifier": map[string]any{
			"type": "m.id.user",
			"user": m.user,
		},
		"password": m.password,
	}
	var out struct {
		AccessToken string `json:"access_token"`
		UserID      string `json:"user_id"`
	}
	if err := m.call(ctx, http.MethodPost, "/_matrix/client/v3/login", body, &out); err != nil {
		return err
	}
	if out.AccessToken == "" {
		return fmt.Errorf("empty access token")
	}
	m.accessToken = out.AccessToken
	m.userID = out.UserID
	return nil
}

// initialSync fetches the current sync token without emitting history.
func (m *Matrix) initialSync(ctx context.Context) error {
	var out syncResponse
	if err := m.call(ctx, http.MethodGet, "/_matrix/client/v3/sync?timeout=0", nil, &out); err != nil {
		return err
	}
	m.nextBatch = out.NextBatch
	return nil
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]struct {
			Timeline struct {
				Events []roomEvent `json:"events"`
			} `json:"timeline"`
		} `json:"join"`
	} `json:"rooms"`
}

type roomEvent struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	Content struct {
		MsgType string `json:"msgtype"`
		Body    string `json:"body"`
	} `json:"content"`
	OriginServerTS int64 `json:"origin_server_ts"`
}

func (m *Matrix) syncLoop(ctx context.Context) {
	defer close(m.messages)
	defer m.connected.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		path := fmt.Sprintf("/_matrix/client/v3/sync?timeout=%d&since=%s",
			syncTimeoutMs, url.QueryEscape(m.nextBatch))
		var out syncResponse
		if err := m.call(ctx, http.MethodGet, path, nil, &out); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("falha no sync, recuando",
				"error", channels.Transient(m.name, err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		m.nextBatch = out.NextBatch

		for roomID, room := range out.Rooms.Join {
			for _, ev := range room.Timeline.Events {
				if ev.Type != "m.room.message" || ev.Content.MsgType != "m.text" {
					continue
				}
				// Ecos do próprio bot não voltam ao matcher.
				if ev.Sender == m.userID {
					continue
				}
				msg := &channels.IncomingMessage{
					Channel:    m.name,
					Sender:     ev.Sender,
					Text:       ev.Content.Body,
					ReplyTo:    roomID,
					ReceivedAt: time.UnixMilli(ev.OriginServerTS),
				}
				select {
				case m.messages <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// call issues an authenticated client-server API request.
func (m *Matrix) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.homeserver+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+m.accessToken)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode,
			strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}
