package output

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	channel string
	to      string
	text    string
	err     error
}

func (f *fakeSender) Send(_ context.Context, channel, to, text string) error {
	f.channel = channel
	f.to = to
	f.text = text
	return f.err
}

func TestSanitizeHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"limpo", "Relatório diário", "Relatório diário"},
		{"crlf", "Oi\r\nBcc: alvo@mal.com", "Oi  Bcc: alvo@mal.com"},
		{"lf", "linha\ninjetada", "linha injetada"},
		{"espacos", "  bordas  ", "bordas"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sanitizeHeader(tt.in); got != tt.want {
				t.Errorf("sanitizeHeader(%q) = %q, quer %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDispatchChannel(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	d := NewDispatcher(sender, discard())

	err := d.Dispatch(context.Background(), []Delivery{
		{Kind: "channel", Channel: "telegram", To: "12345", Body: "Sunny, 18°C"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sender.channel != "telegram" || sender.to != "12345" || sender.text != "Sunny, 18°C" {
		t.Errorf("envio = (%q, %q, %q)", sender.channel, sender.to, sender.text)
	}
}

func TestDispatchChannelSemSender(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, discard())
	err := d.Dispatch(context.Background(), []Delivery{
		{Kind: "channel", Channel: "telegram", To: "12345", Body: "oi"},
	})
	if err == nil {
		t.Fatal("esperava erro sem sender configurado")
	}
}

func TestDispatchCommandExpoeResultado(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "resultado.txt")
	d := NewDispatcher(nil, discard())

	err := d.Dispatch(context.Background(), []Delivery{
		{
			Kind:    "command",
			Command: `printf '%s' "$` + ResultEnvVar + `" > ` + out,
			Result:  "Sunny, 18°C",
		},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, readErr := os.ReadFile(out)
	if readErr != nil {
		t.Fatalf("ReadFile: %v", readErr)
	}
	if string(got) != "Sunny, 18°C" {
		t.Errorf("resultado exportado = %q", got)
	}
}

func TestDispatchColetaFalhas(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "ok.txt")
	d := NewDispatcher(nil, discard())

	err := d.Dispatch(context.Background(), []Delivery{
		{Kind: "command", Command: "exit 3", Result: "x"},
		{Kind: "inexistente"},
		{Kind: "command", Command: "printf ok > " + out, Result: "x"},
	})
	if err == nil {
		t.Fatal("esperava erro agregado")
	}

	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Errorf("erro agregado não expõe *SinkError: %v", err)
	}
	if !strings.Contains(err.Error(), "inexistente") {
		t.Errorf("erro agregado não menciona o destino desconhecido: %v", err)
	}

	// O destino seguinte às falhas ainda foi entregue.
	if _, statErr := os.Stat(out); statErr != nil {
		t.Errorf("destino posterior não executou: %v", statErr)
	}
}

func TestDispatchMsmtpSemDestinatario(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, discard())
	err := d.Dispatch(context.Background(), []Delivery{
		{Kind: "msmtp", Subject: "Oi", Body: "corpo"},
	})
	if err == nil {
		t.Fatal("esperava erro para destinatário vazio")
	}
}
