package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	sink := make(chan *Dispatch, 8)
	s := New(sink, discard())

	if err := s.Register(&config.Job{Alias: "no-interval"}); err != nil {
		t.Errorf("job without interval should be a no-op: %v", err)
	}
	if err := s.Register(&config.Job{Alias: "ok", Interval: "* * * * *"}); err != nil {
		t.Errorf("valid cron: %v", err)
	}
	if err := s.Register(&config.Job{Alias: "desc", Interval: "@hourly"}); err != nil {
		t.Errorf("descriptor cron: %v", err)
	}
	if err := s.Register(&config.Job{Alias: "bad", Interval: "not cron"}); err == nil {
		t.Error("invalid cron should fail this job only")
	}
	if err := s.Register(&config.Job{Alias: "ok", Interval: "* * * * *"}); err == nil {
		t.Error("duplicate alias should fail")
	}
}

func TestEveryDescriptorFires(t *testing.T) {
	t.Parallel()

	sink := make(chan *Dispatch, 8)
	s := New(sink, discard())

	if err := s.Register(&config.Job{Alias: "tick", Interval: "@every 100ms"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	select {
	case d := <-sink:
		if d.Alias != "tick" {
			t.Errorf("alias = %q", d.Alias)
		}
		if d.ID == "" {
			t.Error("dispatch should carry an ID")
		}
		if d.Message != nil {
			t.Error("cron dispatch should carry no message")
		}
		if d.At.IsZero() {
			t.Error("dispatch should freeze the clock")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for cron fire")
	}
}

func TestStopReleasesBlockedEmit(t *testing.T) {
	t.Parallel()

	sink := make(chan *Dispatch, 1)
	s := New(sink, discard())

	// Fila cheia: o próximo emit bloqueia como um callback de cron faria
	// com todos os workers ocupados.
	sink <- NewDispatch("cheio", nil)

	emitDone := make(chan struct{})
	go func() {
		s.emit("preso")
		close(emitDone)
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Stop(ctx)

	select {
	case <-emitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("emit bloqueado não foi liberado pelo Stop")
	}

	// Com o Stop retornado nenhum emissor resta; fechar o sink é seguro.
	close(sink)
}

func TestNewDispatchUniqueIDs(t *testing.T) {
	t.Parallel()

	a, b := NewDispatch("x", nil), NewDispatch("x", nil)
	if a.ID == b.ID {
		t.Error("dispatch IDs should be unique")
	}
}
