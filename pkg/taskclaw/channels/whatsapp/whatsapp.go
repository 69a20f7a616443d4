// Package whatsapp implements the WhatsApp channel using whatsmeow.
// The session lives in its own SQLite database under the data directory;
// first login prints a QR code to the terminal for pairing.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.
)

// WhatsApp implements channels.Channel over whatsmeow.
type WhatsApp struct {
	name   string
	dbPath string
	logger *slog.Logger

	client *whatsmeow.Client

	messages chan *channels.IncomingMessage

	// closeMu guarda o par checagem+envio contra um close concorrente;
	// o lado de escrita pertence a closeMessages.
	closeMu        sync.RWMutex
	messagesClosed bool

	connected atomic.Bool
	cancel    context.CancelFunc
}

// New creates a WhatsApp channel; dbPath is the session database file.
func New(name, dbPath string, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsApp{
		name:     name,
		dbPath:   dbPath,
		logger:   logger.With("component", "whatsapp", "channel", name),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

func (w *WhatsApp) Name() string { return w.name }

// Connect opens the session store and connects, pairing via QR code when
// no session exists yet.
func (w *WhatsApp) Connect(ctx context.Context) error {
	if w.connected.Load() {
		return nil
	}

	ctx, w.cancel = context.WithCancel(ctx)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.dbPath),
		waLog.Noop)
	if err != nil {
		return channels.Fatal(w.name, fmt.Errorf("creating session store: %w", err))
	}

	device, err := w.getDevice(ctx, container)
	if err != nil {
		return channels.Fatal(w.name, fmt.Errorf("getting device: %w", err))
	}

	// Device name shown in the WhatsApp linked devices list.
	store.SetOSInfo("taskclaw", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true

	if w.client.Store.ID == nil {
		if err := w.loginWithQR(ctx); err != nil {
			return channels.Fatal(w.name, fmt.Errorf("QR login: %w", err))
		}
	} else {
		if err := w.client.Connect(); err != nil {
			return channels.Fatal(w.name, fmt.Errorf("connecting: %w", err))
		}
	}

	w.connected.Store(true)
	w.logger.Info("whatsapp conectado", "jid", w.client.Store.ID.String())

	go func() {
		<-ctx.Done()
		w.closeMessages()
	}()
	return nil
}

func (w *WhatsApp) Disconnect() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.connected.Store(false)
	if w.client != nil {
		w.client.Disconnect()
	}
	w.closeMessages()
	return nil
}

// Send sends a text message to the JID (or bare phone number) in to.
func (w *WhatsApp) Send(ctx context.Context, to, text string) error {
	if !w.connected.Load() {
		return channels.Transient(w.name, fmt.Errorf("not connected"))
	}

	jid, err := parseJID(to)
	if err != nil {
		return channels.Fatal(w.name, fmt.Errorf("invalid JID %q: %w", to, err))
	}

	_, err = w.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return channels.Transient(w.name, fmt.Errorf("sending message: %w", err))
	}
	return nil
}

func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage { return w.messages }

func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// ---------- Internal ----------

func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR prints pairing codes to the terminal until scanned.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				fmt.Printf("whatsapp: escaneie o QR code para parear:\n%s\n", evt.Code)
			case "success":
				w.logger.Info("whatsapp pareado com sucesso")
				return nil
			case "timeout":
				return fmt.Errorf("QR code expirado")
			}
		}
	}
}

func (w *WhatsApp) handleEvent(rawEvt any) {
	evt, ok := rawEvt.(*events.Message)
	if !ok {
		return
	}
	if evt.Info.IsFromMe {
		return
	}
	// Status broadcasts are not conversations.
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	text := extractText(evt)
	if text == "" {
		return
	}

	msg := &channels.IncomingMessage{
		Channel:    w.name,
		Sender:     evt.Info.Sender.User,
		SenderName: evt.Info.PushName,
		Text:       text,
		ReplyTo:    evt.Info.Chat.String(),
		ReceivedAt: evt.Info.Timestamp,
	}

	w.deliver(msg)
}

// deliver repassa ao stream agregado, nunca competindo com o close.
func (w *WhatsApp) deliver(msg *channels.IncomingMessage) {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()

	if w.messagesClosed {
		return
	}
	select {
	case w.messages <- msg:
	default:
		w.logger.Warn("fila de mensagens cheia, descartando", "sender", msg.Sender)
	}
}

func (w *WhatsApp) closeMessages() {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()

	if !w.messagesClosed {
		w.messagesClosed = true
		close(w.messages)
	}
}

func extractText(evt *events.Message) string {
	waMsg := evt.Message
	if waMsg == nil {
		return ""
	}
	if conv := waMsg.GetConversation(); conv != "" {
		return conv
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

// parseJID accepts full JIDs and bare phone numbers.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %q", s)
	}
	return types.ParseJID(digits + "@s.whatsapp.net")
}
