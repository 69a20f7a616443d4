package whatsapp

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels"
)

func TestDeliverConcurrentWithClose(t *testing.T) {
	t.Parallel()

	// A delivery racing the shutdown close must never panic with a send
	// on a closed channel.
	for i := 0; i < 200; i++ {
		w := New("wa", "", slog.New(slog.NewTextHandler(io.Discard, nil)))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				w.deliver(&channels.IncomingMessage{Channel: "wa", Text: "x"})
			}
		}()
		go func() {
			defer wg.Done()
			w.closeMessages()
		}()
		wg.Wait()

		for range w.messages {
		}
		w.deliver(&channels.IncomingMessage{Channel: "wa", Text: "late"})
	}
}

func TestCloseMessagesIdempotente(t *testing.T) {
	t.Parallel()

	w := New("wa", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.closeMessages()
	w.closeMessages()
}
