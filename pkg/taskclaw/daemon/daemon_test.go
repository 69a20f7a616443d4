package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/scheduler"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/store"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/template"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeModel sobe um servidor compatível com /api/generate que devolve
// reply para cada prompt e registra os prompts recebidos.
type fakeModel struct {
	srv *httptest.Server

	mu      sync.Mutex
	prompts []string

	reply func(prompt string) string
	delay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeModel(t *testing.T, reply func(prompt string) string) *fakeModel {
	t.Helper()
	f := &fakeModel{reply: reply}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			max := f.maxInFlight.Load()
			if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
				break
			}
		}
		if f.delay > 0 {
			time.Sleep(f.delay)
		}

		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.prompts = append(f.prompts, req.Prompt)
		f.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]string{"response": f.reply(req.Prompt)})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeModel) promptAt(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.prompts) {
		return ""
	}
	return f.prompts[i]
}

func ollamaJob(alias, prompt, host string) *config.Job {
	return &config.Job{
		Alias:       alias,
		Prompt:      prompt,
		Agent:       config.AgentConfig{Type: "ollama", Host: host, Model: "test"},
		Environment: config.EnvironmentConfig{Type: "local"},
	}
}

func newTestDaemon(t *testing.T, cfg *config.AppConfig) (*Daemon, *store.Store) {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	d, err := New(cfg, st, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, st
}

func TestExecutePipelineCompleto(t *testing.T) {
	t.Parallel()

	model := newFakeModel(t, func(string) string { return "Sunny, 18°C" })
	cfg := &config.AppConfig{
		Jobs: map[string]*config.Job{
			"clima": ollamaJob("clima", "Previsão para {% custom:cidade %}", model.srv.URL),
		},
		Dictionary: map[string]string{"cidade": "Lisboa"},
	}
	d, st := newTestDaemon(t, cfg)

	result, err := d.RunOnce(context.Background(), "clima")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result != "Sunny, 18°C" {
		t.Errorf("resultado = %q", result)
	}
	if got := model.promptAt(0); got != "Previsão para Lisboa" {
		t.Errorf("prompt enviado = %q", got)
	}

	entry, err := st.NthFromEnd("clima", 0)
	if err != nil {
		t.Fatalf("NthFromEnd: %v", err)
	}
	if entry.Result != "Sunny, 18°C" {
		t.Errorf("memória gravada = %q", entry.Result)
	}
}

func TestExecuteJobDesconhecido(t *testing.T) {
	t.Parallel()

	d, _ := newTestDaemon(t, &config.AppConfig{Jobs: map[string]*config.Job{}})
	_, err := d.RunOnce(context.Background(), "fantasma")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, quer ErrJobNotFound", err)
	}
}

func TestExecuteRedigeSegredosAntesDeGravar(t *testing.T) {
	t.Parallel()

	model := newFakeModel(t, func(string) string {
		return "usei a chave tok-abc123 para consultar a API"
	})
	cfg := &config.AppConfig{
		Jobs: map[string]*config.Job{
			"api": ollamaJob("api", "Consulta com {% proxy:api_key %}", model.srv.URL),
		},
		Secrets: map[string]string{"api_key": "tok-abc123"},
	}
	d, st := newTestDaemon(t, cfg)

	result, err := d.RunOnce(context.Background(), "api")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// O resultado devolvido ao chamador é o bruto.
	if !strings.Contains(result, "tok-abc123") {
		t.Errorf("resultado bruto perdeu o conteúdo: %q", result)
	}

	entry, err := st.NthFromEnd("api", 0)
	if err != nil {
		t.Fatalf("NthFromEnd: %v", err)
	}
	if strings.Contains(entry.Result, "tok-abc123") {
		t.Errorf("segredo persistido em claro: %q", entry.Result)
	}
	if !strings.Contains(entry.Result, "[redacted]") {
		t.Errorf("memória sem marca de redação: %q", entry.Result)
	}
}

func TestExecuteSessaoPrefixaTurnos(t *testing.T) {
	t.Parallel()

	model := newFakeModel(t, func(prompt string) string {
		if strings.Contains(prompt, "Assistant:") {
			return "segunda resposta"
		}
		return "primeira resposta"
	})
	job := ollamaJob("chat", "{% message %}", model.srv.URL)
	job.Input = &config.InputConfig{Channel: "tg"}
	job.Session = &config.SessionConfig{Context: 3}
	cfg := &config.AppConfig{Jobs: map[string]*config.Job{"chat": job}}
	d, _ := newTestDaemon(t, cfg)

	msg := func(text string) *scheduler.Dispatch {
		return scheduler.NewDispatch("chat", testMessage("tg", "ana", text))
	}

	if _, err := d.Execute(context.Background(), msg("qual a capital do Peru?")); err != nil {
		t.Fatalf("primeira execução: %v", err)
	}
	if _, err := d.Execute(context.Background(), msg("e a população?")); err != nil {
		t.Fatalf("segunda execução: %v", err)
	}

	second := model.promptAt(1)
	if !strings.Contains(second, "User: qual a capital do Peru?") {
		t.Errorf("segundo prompt sem o turno do usuário: %q", second)
	}
	if !strings.Contains(second, "Assistant: primeira resposta") {
		t.Errorf("segundo prompt sem o turno do assistente: %q", second)
	}
	if !strings.HasSuffix(second, "User: e a população?") {
		t.Errorf("segundo prompt não termina na mensagem atual: %q", second)
	}
}

func TestExecuteHistoricoGravaResumo(t *testing.T) {
	t.Parallel()

	model := newFakeModel(t, func(prompt string) string {
		if strings.Contains(prompt, "Resuma") {
			return "resumo curto"
		}
		return "resposta longa e detalhada"
	})
	job := ollamaJob("diario", "Relatório do dia", model.srv.URL)
	job.History = &config.HistoryConfig{Prompt: "Resuma: {% result %}"}
	cfg := &config.AppConfig{Jobs: map[string]*config.Job{"diario": job}}
	d, st := newTestDaemon(t, cfg)

	if _, err := d.RunOnce(context.Background(), "diario"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	entry, err := st.NthFromEnd("diario", 0)
	if err != nil {
		t.Fatalf("NthFromEnd: %v", err)
	}
	if entry.Result != "resposta longa e detalhada" {
		t.Errorf("resultado = %q", entry.Result)
	}
	if entry.Summary != "resumo curto" {
		t.Errorf("resumo = %q", entry.Summary)
	}
}

func TestExecuteSerializaMesmoAlias(t *testing.T) {
	t.Parallel()

	model := newFakeModel(t, func(string) string { return "ok" })
	model.delay = 100 * time.Millisecond
	cfg := &config.AppConfig{
		Jobs: map[string]*config.Job{
			"lento": ollamaJob("lento", "p", model.srv.URL),
		},
	}
	d, _ := newTestDaemon(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.RunOnce(context.Background(), "lento"); err != nil {
				t.Errorf("RunOnce: %v", err)
			}
		}()
	}
	wg.Wait()

	if max := model.maxInFlight.Load(); max > 1 {
		t.Errorf("execuções simultâneas do mesmo alias = %d", max)
	}
}

func TestExecuteSaidaCommand(t *testing.T) {
	t.Parallel()

	model := newFakeModel(t, func(string) string { return "valor final" })
	out := filepath.Join(t.TempDir(), "saida.txt")
	job := ollamaJob("cmd", "p", model.srv.URL)
	job.Outputs = []config.OutputConfig{
		{
			Type:     "command",
			Command:  `printf '%s' "{% result %}" > ` + out,
			Template: "{% result %}",
		},
	}
	cfg := &config.AppConfig{Jobs: map[string]*config.Job{"cmd": job}}
	d, _ := newTestDaemon(t, cfg)

	if _, err := d.RunOnce(context.Background(), "cmd"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "valor final" {
		t.Errorf("comando recebeu = %q", got)
	}
}

func TestRenderDeliveryRespostaNoCanalDeOrigem(t *testing.T) {
	t.Parallel()

	cfg := &config.AppConfig{
		Jobs:       map[string]*config.Job{},
		Dictionary: map[string]string{"name": "Ana"},
	}
	d, _ := newTestDaemon(t, cfg)

	disp := scheduler.NewDispatch("clima", testMessage("stdin", "local", "hey weather please"))
	oc := &template.Context{
		Now:        time.Now(),
		Alias:      "clima",
		Dictionary: cfg.Dictionary,
		HasResult:  true,
		Result:     "Sunny, 18°C",
	}

	del, err := d.renderDelivery(context.Background(), config.OutputConfig{
		Type:     "channel",
		Template: "Good morning {% custom:name %}; {% result %}",
	}, oc, disp, "Sunny, 18°C")
	if err != nil {
		t.Fatalf("renderDelivery: %v", err)
	}

	if del.Body != "Good morning Ana; Sunny, 18°C" {
		t.Errorf("corpo = %q", del.Body)
	}
	// Canal e destinatário caem no canal de origem quando não sobrescritos.
	if del.Channel != "stdin" || del.To != "local" {
		t.Errorf("destino = (%q, %q)", del.Channel, del.To)
	}
}

func TestBuildChannelDesconhecido(t *testing.T) {
	t.Parallel()

	cfg := &config.AppConfig{
		Jobs: map[string]*config.Job{},
		Channels: map[string]*config.ChannelConfig{
			"x": {Name: "x", Type: "pombo-correio"},
		},
		DataDir: t.TempDir(),
		Workers: 1,
	}
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer st.Close()

	if _, err := New(cfg, st, discard()); err == nil {
		t.Fatal("esperava erro para tipo de canal desconhecido")
	}
}

func TestExecuteFalhaDeRenderNaoChamaAgente(t *testing.T) {
	t.Parallel()

	model := newFakeModel(t, func(string) string { return "ok" })
	cfg := &config.AppConfig{
		Jobs: map[string]*config.Job{
			"quebrado": ollamaJob("quebrado", "{% custom:inexistente %}", model.srv.URL),
		},
	}
	d, _ := newTestDaemon(t, cfg)

	if _, err := d.RunOnce(context.Background(), "quebrado"); err == nil {
		t.Fatal("esperava falha de render")
	}
	if got := model.promptAt(0); got != "" {
		t.Errorf("agente foi chamado com prompt %q", got)
	}
}

// testChannel é um canal controlado pelo teste: mensagens entram pelo
// campo messages e saídas ficam em sent.
type testChannel struct {
	name      string
	messages  chan *channels.IncomingMessage
	connected atomic.Bool
	mu        sync.Mutex
	sent      []string
}

func newTestChannel(name string) *testChannel {
	return &testChannel{name: name, messages: make(chan *channels.IncomingMessage, 8)}
}

func (c *testChannel) Name() string { return c.name }

func (c *testChannel) Connect(ctx context.Context) error {
	c.connected.Store(true)
	go func() {
		<-ctx.Done()
		close(c.messages)
	}()
	return nil
}

func (c *testChannel) Disconnect() error {
	c.connected.Store(false)
	return nil
}

func (c *testChannel) Send(_ context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to+":"+text)
	return nil
}

func (c *testChannel) Receive() <-chan *channels.IncomingMessage { return c.messages }

func (c *testChannel) IsConnected() bool { return c.connected.Load() }

func TestRunEncerraComGracaParaExecucaoEmAndamento(t *testing.T) {
	t.Parallel()

	model := newFakeModel(t, func(string) string { return "terminei" })
	model.delay = 200 * time.Millisecond

	job := ollamaJob("lento", "{% message %}", model.srv.URL)
	job.Input = &config.InputConfig{Channel: "fake"}
	cfg := &config.AppConfig{
		Jobs:    map[string]*config.Job{"lento": job},
		Workers: 2,
	}
	d, st := newTestDaemon(t, cfg)

	ch := newTestChannel("fake")
	if err := d.manager.Register(ch); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	ch.messages <- testMessage("fake", "ana", "faz a coisa")

	// Espera o despacho chegar ao agente antes de pedir o encerramento.
	deadline := time.Now().Add(3 * time.Second)
	for model.inFlight.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("despacho nunca chegou ao agente")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run não retornou após o cancelamento")
	}

	// A execução em andamento terminou dentro do prazo de graça e foi
	// persistida antes do retorno.
	entry, err := st.NthFromEnd("lento", 0)
	if err != nil {
		t.Fatalf("NthFromEnd: %v", err)
	}
	if entry.Result != "terminei" {
		t.Errorf("memória gravada = %q", entry.Result)
	}
}

func testMessage(channel, sender, text string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		Channel:    channel,
		Sender:     sender,
		Text:       text,
		ReplyTo:    sender,
		ReceivedAt: time.Now(),
	}
}
