// Package daemon implementa o orquestrador do taskclaw: agrega os
// despachos do cron e dos canais numa fila única, executa jobs num pool
// de workers com serialização por alias e entrega os resultados aos
// destinos configurados.
// Fluxo: dispatch → lock por alias → render do prompt → ambiente →
// agente → memória → saídas.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels/discord"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels/himalaya"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels/matrix"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels/telegram"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/channels/whatsapp"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/output"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/scheduler"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/secrets"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/store"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/trigger"
)

const (
	// queueSize limita a fila de despachos pendentes.
	queueSize = 256

	// shutdownGrace é o prazo para execuções em andamento terminarem
	// após o sinal de parada.
	shutdownGrace = 10 * time.Second

	// Retenção aplicada ao armazenamento na partida.
	pruneMaxPerJob  = 1000
	pruneMaxAgeDays = 30
)

// Daemon é o orquestrador de longa duração.
type Daemon struct {
	cfg     *config.AppConfig
	store   *store.Store
	secrets *secrets.Resolver

	manager   *channels.Manager
	scheduler *scheduler.Scheduler
	output    *output.Dispatcher

	queue chan *scheduler.Dispatch
	locks *aliasLocks

	logger *slog.Logger
}

// New monta o daemon a partir da configuração carregada. Os canais
// configurados são registrados mas só conectam em Run.
func New(cfg *config.AppConfig, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	queue := make(chan *scheduler.Dispatch, queueSize)
	manager := channels.NewManager(logger.With("component", "channels"))

	d := &Daemon{
		cfg:       cfg,
		store:     st,
		secrets:   secrets.NewResolver(cfg.Secrets),
		manager:   manager,
		scheduler: scheduler.New(queue, logger.With("component", "scheduler")),
		output:    output.NewDispatcher(manager, logger.With("component", "output")),
		queue:     queue,
		locks:     newAliasLocks(),
		logger:    logger,
	}

	for name, cc := range cfg.Channels {
		ch, err := d.buildChannel(cc)
		if err != nil {
			return nil, fmt.Errorf("canal %s: %w", name, err)
		}
		if err := manager.Register(ch); err != nil {
			return nil, fmt.Errorf("canal %s: %w", name, err)
		}
	}
	for _, job := range cfg.Jobs {
		if err := d.scheduler.Register(job); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Alias, err)
		}
	}

	return d, nil
}

func anyJobUses(jobs map[string]*config.Job, channel string) bool {
	for _, job := range jobs {
		if job.Input != nil && job.Input.Channel == channel {
			return true
		}
	}
	return false
}

// buildChannel instancia o adaptador da plataforma configurada.
func (d *Daemon) buildChannel(cc *config.ChannelConfig) (channels.Channel, error) {
	log := d.logger
	switch cc.Type {
	case config.ChannelStdin:
		return channels.NewStdin(cc.Name), nil
	case config.ChannelTelegram:
		return telegram.New(cc.Name, cc.Token, log), nil
	case config.ChannelMatrix:
		return matrix.New(cc.Name, cc.Homeserver, cc.User, cc.Password, log), nil
	case config.ChannelWhatsApp:
		dbPath := filepath.Join(d.cfg.DataDir, "whatsapp.db")
		return whatsapp.New(cc.Name, dbPath, log), nil
	case config.ChannelHimalaya:
		return himalaya.New(cc.Name, cc.Account, cc.PollInterval, log), nil
	case config.ChannelDiscord:
		return discord.New(cc.Name, cc.Token, log), nil
	default:
		return nil, fmt.Errorf("tipo de canal desconhecido %q", cc.Type)
	}
}

// Run conecta canais, inicia o cron e processa despachos até o contexto
// ser cancelado. A parada espera execuções em andamento por até
// shutdownGrace.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.store.Prune(pruneMaxPerJob, pruneMaxAgeDays); err != nil {
		d.logger.Warn("falha ao aplicar retenção na partida", "error", err)
	}

	// O terminal existe implicitamente: vira o canal padrão quando nada
	// mais está registrado e atende jobs que o referenciam por nome.
	if _, ok := d.cfg.Channels[config.ChannelStdin]; !ok {
		if !d.manager.HasChannels() || anyJobUses(d.cfg.Jobs, config.ChannelStdin) {
			if err := d.manager.Register(channels.NewStdin(config.ChannelStdin)); err != nil {
				d.logger.Warn("falha ao registrar canal de terminal", "error", err)
			}
		}
	}

	if err := d.manager.Start(ctx); err != nil {
		return fmt.Errorf("iniciando canais: %w", err)
	}
	d.scheduler.Start()

	d.logger.Info("daemon iniciado",
		"jobs", len(d.cfg.Jobs),
		"channels", len(d.cfg.Channels),
		"workers", d.cfg.Workers,
	)

	// Workers usam um contexto próprio para sobreviver ao cancelamento
	// durante o prazo de graça.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	// O sequenciador é o único leitor da fila: emite o bilhete de ordem
	// de cada despacho na retirada, antes de repassar ao pool. Sem ele,
	// dois workers poderiam retirar despachos consecutivos do mesmo
	// alias e disputar o lock fora da ordem de chegada.
	work := make(chan ticketedDispatch)
	go func() {
		defer close(work)
		for disp := range d.queue {
			work <- ticketedDispatch{disp: disp, ticket: d.locks.Ticket(disp.Alias)}
		}
	}()

	var workers sync.WaitGroup
	n := d.cfg.Workers
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for td := range work {
				d.process(runCtx, td)
			}
		}()
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		d.messageLoop()
	}()

	<-ctx.Done()
	d.logger.Info("encerrando daemon")

	// Para os produtores antes de fechar a fila: o cron espera
	// callbacks em andamento e o manager fecha o stream de mensagens.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
	d.scheduler.Stop(stopCtx)
	stopCancel()

	d.manager.Stop()
	<-loopDone
	close(d.queue)

	workersDone := make(chan struct{})
	go func() {
		workers.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-time.After(shutdownGrace):
		d.logger.Warn("prazo de graça esgotado, abortando execuções em andamento")
		cancelRuns()
		<-workersDone
	}

	d.logger.Info("daemon encerrado")
	return nil
}

// messageLoop casa cada mensagem de canal com os gatilhos dos jobs e
// enfileira um despacho por casamento. Termina quando o manager fecha o
// stream.
func (d *Daemon) messageLoop() {
	for msg := range d.manager.Messages() {
		for _, job := range d.cfg.Jobs {
			ok, stripped := trigger.Match(job.Input, msg.Channel, msg.Sender, msg.Text)
			if !ok {
				continue
			}
			matched := *msg
			matched.Text = stripped
			d.logger.Info("gatilho casado",
				"job", job.Alias,
				"channel", msg.Channel,
				"sender", msg.Sender,
			)
			d.queue <- scheduler.NewDispatch(job.Alias, &matched)
		}
	}
}

// ticketedDispatch carrega um despacho com o bilhete de ordem emitido
// pelo sequenciador.
type ticketedDispatch struct {
	disp   *scheduler.Dispatch
	ticket uint64
}

// process executa um despacho da fila, reportando falhas apenas no log.
func (d *Daemon) process(ctx context.Context, td ticketedDispatch) {
	if _, err := d.run(ctx, td.disp, td.ticket); err != nil {
		d.logger.Error("execução de job falhou",
			"job", td.disp.Alias,
			"dispatch", td.disp.ID,
			"error", err,
		)
	}
}
