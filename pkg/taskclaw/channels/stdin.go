// stdin.go implementa o canal de terminal, usado como fallback quando
// nenhum canal está configurado. Lê linhas com edição via readline e
// imprime respostas no próprio terminal.
package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
)

// Stdin é o canal de terminal interativo.
type Stdin struct {
	name      string
	messages  chan *IncomingMessage
	rl        *readline.Instance
	connected atomic.Bool
	cancel    context.CancelFunc
}

// NewStdin cria o canal de terminal com o nome de junção dado.
func NewStdin(name string) *Stdin {
	return &Stdin{
		name:     name,
		messages: make(chan *IncomingMessage, 16),
	}
}

func (s *Stdin) Name() string { return s.name }

func (s *Stdin) Connect(ctx context.Context) error {
	rl, err := readline.New("> ")
	if err != nil {
		return Fatal(s.name, fmt.Errorf("inicializando readline: %w", err))
	}
	s.rl = rl
	s.connected.Store(true)

	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		rl.Close()
	}()
	go s.readLoop()
	return nil
}

func (s *Stdin) Disconnect() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.connected.Store(false)
	return nil
}

func (s *Stdin) Send(ctx context.Context, to, text string) error {
	if !s.connected.Load() {
		return Transient(s.name, fmt.Errorf("terminal encerrado"))
	}
	_, err := io.WriteString(s.rl.Stdout(), text+"\n")
	return err
}

func (s *Stdin) Receive() <-chan *IncomingMessage { return s.messages }

func (s *Stdin) IsConnected() bool { return s.connected.Load() }

func (s *Stdin) readLoop() {
	defer close(s.messages)
	defer s.connected.Store(false)

	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			// io.EOF ou terminal fechado pelo Disconnect.
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.messages <- &IncomingMessage{
			Channel:    s.name,
			Sender:     "local",
			Text:       line,
			ReceivedAt: time.Now(),
		}
	}
}
