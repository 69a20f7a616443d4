// Package discord implements the Discord channel using discordgo with
// gateway intents for guild and direct messages.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels"
)

// maxMessageLen is Discord's hard limit per message.
const maxMessageLen = 2000

// Discord implements channels.Channel over a discordgo session.
type Discord struct {
	name   string
	token  string
	logger *slog.Logger

	session *discordgo.Session

	messages chan *channels.IncomingMessage

	// closeMu guarda o par checagem+envio contra um close concorrente;
	// o lado de escrita pertence a closeMessages.
	closeMu        sync.RWMutex
	messagesClosed bool

	connected atomic.Bool
	cancel    context.CancelFunc
}

// New creates a Discord channel with the given join name and bot token.
func New(name, token string, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		name:     name,
		token:    token,
		logger:   logger.With("component", "discord", "channel", name),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

func (d *Discord) Name() string { return d.name }

func (d *Discord) Connect(ctx context.Context) error {
	if d.token == "" {
		return channels.Fatal(d.name, fmt.Errorf("bot token is required"))
	}
	if d.connected.Load() {
		return nil
	}

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return channels.Fatal(d.name, fmt.Errorf("creating session: %w", err))
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return channels.Fatal(d.name, fmt.Errorf("opening gateway: %w", err))
	}

	d.session = session
	d.connected.Store(true)
	d.logger.Info("discord conectado", "bot", session.State.User.Username)

	ctx, d.cancel = context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		d.closeMessages()
	}()
	return nil
}

func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.connected.Store(false)
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return channels.Transient(d.name, err)
		}
	}
	d.closeMessages()
	return nil
}

// Send sends text to the channel identified by to, chunked at the
// Discord message size limit.
func (d *Discord) Send(ctx context.Context, to, text string) error {
	if !d.connected.Load() {
		return channels.Transient(d.name, fmt.Errorf("not connected"))
	}

	for _, chunk := range chunkMessage(text, maxMessageLen) {
		if _, err := d.session.ChannelMessageSend(to, chunk); err != nil {
			return channels.Transient(d.name, fmt.Errorf("sending message: %w", err))
		}
	}
	return nil
}

func (d *Discord) Receive() <-chan *channels.IncomingMessage { return d.messages }

func (d *Discord) IsConnected() bool { return d.connected.Load() }

// ---------- Internal ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if m.Content == "" {
		return
	}

	msg := &channels.IncomingMessage{
		Channel:    d.name,
		Sender:     m.Author.ID,
		SenderName: m.Author.Username,
		Text:       m.Content,
		ReplyTo:    m.ChannelID,
		ReceivedAt: time.Now(),
	}

	d.deliver(msg)
}

// deliver repassa ao stream agregado, nunca competindo com o close.
func (d *Discord) deliver(msg *channels.IncomingMessage) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.messagesClosed {
		return
	}
	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("fila de mensagens cheia, descartando", "sender", msg.Sender)
	}
}

func (d *Discord) closeMessages() {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()

	if !d.messagesClosed {
		d.messagesClosed = true
		close(d.messages)
	}
}

// chunkMessage splits text into pieces within the size limit, preferring
// line boundaries.
func chunkMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if text[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
