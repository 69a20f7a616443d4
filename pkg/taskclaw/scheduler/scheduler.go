// Package scheduler unifica as duas fontes de gatilho em um único
// stream de dispatch: o avaliador cron (robfig/cron) para jobs com
// interval, e os acertos de gatilho de canal, que o orquestrador injeta
// no mesmo sink. Disparos perdidos durante downtime não são repostos;
// apenas a próxima ocorrência futura dispara.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
)

// Dispatch é um evento de execução de job. Message é nil para disparos
// de cron.
type Dispatch struct {
	// ID identifica o evento nos logs.
	ID string

	// Alias é o job a executar.
	Alias string

	// Message é a mensagem de canal que originou o dispatch, se houver.
	Message *channels.IncomingMessage

	// At é o instante de criação do evento; congela o relógio do
	// contexto de renderização.
	At time.Time
}

// NewDispatch cria um evento com ID novo e relógio congelado em agora.
func NewDispatch(alias string, msg *channels.IncomingMessage) *Dispatch {
	return &Dispatch{
		ID:      uuid.NewString(),
		Alias:   alias,
		Message: msg,
		At:      time.Now(),
	}
}

// Scheduler gerencia os gatilhos cron dos jobs.
type Scheduler struct {
	// cron é o avaliador real de expressões.
	cron *cron.Cron

	// cronIDs mapeia alias de job para a entrada cron, para remoção.
	cronIDs map[string]cron.EntryID

	// sink é a fila de dispatch do orquestrador.
	sink chan<- *Dispatch

	// closing sinaliza o encerramento aos emits bloqueados; emitters
	// conta emits em voo para que Stop só retorne sem nenhum restante.
	closing  chan struct{}
	emitters sync.WaitGroup

	logger *slog.Logger
	mu     sync.Mutex
}

// New cria o scheduler emitindo eventos no sink dado.
func New(sink chan<- *Dispatch, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		cronIDs: make(map[string]cron.EntryID),
		sink:    sink,
		closing: make(chan struct{}),
		logger:  logger,
	}
}

// Register agenda o gatilho cron de um job. Jobs sem interval são
// ignorados. Expressão inválida é erro apenas deste job.
func (s *Scheduler) Register(job *config.Job) error {
	if job.Interval == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cronIDs[job.Alias]; exists {
		return fmt.Errorf("job %q já agendado", job.Alias)
	}

	alias := job.Alias
	id, err := s.cron.AddFunc(job.Interval, func() {
		s.emit(alias)
	})
	if err != nil {
		return fmt.Errorf("agendando job %q (%q): %w", alias, job.Interval, err)
	}

	s.cronIDs[alias] = id
	s.logger.Info("job agendado", "alias", alias, "interval", job.Interval)
	return nil
}

// Start inicia o avaliador cron.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler iniciado", "jobs", len(s.cronIDs))
}

// Stop encerra o avaliador e aguarda callbacks em andamento até o
// deadline do contexto. No retorno não resta nenhum emit em voo, então
// o dono do sink pode fechá-lo com segurança.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("timeout aguardando callbacks do cron")
	}

	// Desbloqueia emits presos numa fila cheia e espera todos saírem.
	close(s.closing)
	s.emitters.Wait()

	s.logger.Info("scheduler encerrado")
}

// emit entrega o evento ao sink. O cron roda cada callback em goroutine
// própria; bloquear aqui quando a fila está cheia preserva o FIFO por
// job sem travar o avaliador. Durante o encerramento o evento é
// descartado em vez de arriscar envio a uma fila já fechada.
func (s *Scheduler) emit(alias string) {
	s.emitters.Add(1)
	defer s.emitters.Done()

	select {
	case <-s.closing:
		return
	default:
	}

	d := NewDispatch(alias, nil)
	select {
	case s.sink <- d:
		s.logger.Debug("dispatch de cron emitido", "alias", alias, "dispatch_id", d.ID)
	case <-s.closing:
		s.logger.Warn("disparo de cron descartado no encerramento", "alias", alias)
	}
}
