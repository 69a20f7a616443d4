// run.go implementa o pipeline de execução de um job: render do
// prompt, contexto de sessão, chamada ao agente, resumo de histórico,
// persistência redatada e entrega às saídas.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/agent"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/env"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/output"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/scheduler"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/store"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/template"
)

// ErrJobNotFound indica um alias sem job carregado.
var ErrJobNotFound = errors.New("job desconhecido")

// memoryView adapta o armazenamento à visão de leitura do renderizador.
type memoryView struct {
	st *store.Store
}

func (m memoryView) Recent(alias string, n int) ([]template.Entry, error) {
	rows, err := m.st.Recent(alias, n)
	if err != nil {
		return nil, err
	}
	entries := make([]template.Entry, len(rows))
	for i, r := range rows {
		entries[i] = template.Entry{
			Seq:       r.Seq,
			Result:    r.Result,
			Summary:   r.Summary,
			CreatedAt: r.CreatedAt,
		}
	}
	return entries, nil
}

func (m memoryView) NthFromEnd(alias string, n int) (template.Entry, error) {
	r, err := m.st.NthFromEnd(alias, n)
	if err != nil {
		return template.Entry{}, err
	}
	return template.Entry{
		Seq:       r.Seq,
		Result:    r.Result,
		Summary:   r.Summary,
		CreatedAt: r.CreatedAt,
	}, nil
}

// RunOnce executa um job sob demanda, fora do cron, e devolve o
// resultado bruto. Usado pelo comando run.
func (d *Daemon) RunOnce(ctx context.Context, alias string) (string, error) {
	return d.Execute(ctx, scheduler.NewDispatch(alias, nil))
}

// Execute roda o pipeline completo de um despacho. Despachos do mesmo
// alias são serializados na ordem de chegada; o resultado devolvido é o
// bruto, antes da redação de segredos.
func (d *Daemon) Execute(ctx context.Context, disp *scheduler.Dispatch) (string, error) {
	return d.run(ctx, disp, d.locks.Ticket(disp.Alias))
}

// run executa o pipeline com um bilhete de ordem já emitido.
func (d *Daemon) run(ctx context.Context, disp *scheduler.Dispatch, ticket uint64) (string, error) {
	job, ok := d.cfg.Jobs[disp.Alias]
	if !ok {
		d.locks.Abandon(disp.Alias, ticket)
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, disp.Alias)
	}

	if err := d.locks.Acquire(ctx, disp.Alias, ticket); err != nil {
		return "", err
	}
	defer d.locks.Release(disp.Alias)

	start := time.Now()
	log := d.logger.With("job", disp.Alias, "dispatch", disp.ID)

	environment, err := env.New(job.Environment)
	if err != nil {
		return "", err
	}
	if err := environment.EnsureReady(ctx); err != nil {
		return "", err
	}

	ag, err := agent.New(job.Agent, environment, d.logger)
	if err != nil {
		return "", err
	}

	rc := &template.Context{
		Now:        disp.At,
		Alias:      disp.Alias,
		Dictionary: d.cfg.Dictionary,
		Memory:     memoryView{d.store},
		Secrets:    d.secrets,
		Agent:      ag,
	}
	if disp.Message != nil {
		rc.HasMessage = true
		rc.Message = disp.Message.Text
		rc.Sender = disp.Message.Sender
	}

	prompt, err := template.Render(ctx, job.Prompt, rc)
	if err != nil {
		return "", err
	}

	// Sessões só existem para jobs conversacionais disparados por
	// canal; a chave isola a conversa por remetente.
	sessionKey := ""
	if job.Session != nil && job.Session.Context > 0 && disp.Message != nil {
		sessionKey = disp.Message.Channel + "/" + disp.Message.Sender
		prompt = d.withSession(disp.Alias, sessionKey, prompt, log)
	}

	result, err := ag.Complete(ctx, prompt, "")
	if err != nil {
		return "", err
	}
	log.Info("agente respondeu",
		"duration", time.Since(start).Round(time.Millisecond),
		"chars", len(result),
	)

	summary := d.summarize(ctx, job, ag, rc, result, log)

	// Segredos nunca tocam o disco: tudo que persiste passa pela
	// redação antes.
	stored := d.secrets.Redact(result)
	if _, err := d.store.Append(disp.Alias, stored, d.secrets.Redact(summary)); err != nil {
		log.Error("falha ao gravar memória", "error", err)
	}
	if sessionKey != "" {
		if err := d.store.PushTurn(disp.Alias, sessionKey, "user",
			d.secrets.Redact(disp.Message.Text), job.Session.Context); err != nil {
			log.Error("falha ao gravar turno de sessão", "error", err)
		}
		if err := d.store.PushTurn(disp.Alias, sessionKey, "assistant",
			stored, job.Session.Context); err != nil {
			log.Error("falha ao gravar turno de sessão", "error", err)
		}
	}

	d.deliver(ctx, job, rc, disp, result, log)

	return result, nil
}

// withSession prefixa o prompt com os turnos retidos da conversa.
func (d *Daemon) withSession(alias, key, prompt string, log *slog.Logger) string {
	turns, err := d.store.SessionTurns(alias, key)
	if err != nil {
		log.Error("falha ao ler sessão", "error", err)
		return prompt
	}
	if len(turns) == 0 {
		return prompt
	}

	var b strings.Builder
	for _, t := range turns {
		label := "User"
		if t.Role == "assistant" {
			label = "Assistant"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("User: ")
	b.WriteString(prompt)
	return b.String()
}

// summarize avalia o prompt de histórico e pede o resumo ao agente.
// Falhas são toleradas: o resultado bruto é gravado com resumo vazio.
func (d *Daemon) summarize(ctx context.Context, job *config.Job, ag agent.Agent,
	rc *template.Context, result string, log *slog.Logger) string {

	if job.History == nil || job.History.Prompt == "" {
		return ""
	}

	hc := *rc
	hc.HasResult = true
	hc.Result = result

	historyPrompt, err := template.Render(ctx, job.History.Prompt, &hc)
	if err != nil {
		log.Warn("falha ao renderizar prompt de histórico", "error", err)
		return ""
	}
	summary, err := ag.Complete(ctx, historyPrompt, "")
	if err != nil {
		log.Warn("falha ao resumir resultado", "error", err)
		return ""
	}
	return summary
}

// deliver renderiza e despacha cada saída configurada. Falhas de
// entrega não falham a execução; ficam no log.
func (d *Daemon) deliver(ctx context.Context, job *config.Job, rc *template.Context,
	disp *scheduler.Dispatch, result string, log *slog.Logger) {

	if len(job.Outputs) == 0 {
		return
	}

	oc := *rc
	oc.HasResult = true
	oc.Result = result

	var deliveries []output.Delivery
	for _, out := range job.Outputs {
		del, err := d.renderDelivery(ctx, out, &oc, disp, result)
		if err != nil {
			log.Error("falha ao renderizar saída", "kind", out.Type, "error", err)
			continue
		}
		deliveries = append(deliveries, del)
	}

	if err := d.output.Dispatch(ctx, deliveries); err != nil {
		log.Error("falha em entrega de saída", "error", err)
	}
}

// renderDelivery materializa uma saída: corpo, assunto e linha de
// comando passam pelo renderizador antes da entrega.
func (d *Daemon) renderDelivery(ctx context.Context, out config.OutputConfig,
	oc *template.Context, disp *scheduler.Dispatch, result string) (output.Delivery, error) {

	body, err := template.Render(ctx, out.Template, oc)
	if err != nil {
		return output.Delivery{}, err
	}

	del := output.Delivery{
		Kind:    out.Type,
		Body:    body,
		To:      out.To,
		Account: out.Account,
	}

	switch out.Type {
	case "msmtp":
		if out.Subject != "" {
			subject, err := template.Render(ctx, out.Subject, oc)
			if err != nil {
				return output.Delivery{}, err
			}
			del.Subject = subject
		}
	case "command":
		// O resultado vai pelo ambiente, nunca interpolado na linha
		// de shell.
		line := strings.ReplaceAll(out.Command, "{% result %}", "$"+output.ResultEnvVar)
		rendered, err := template.Render(ctx, line, oc)
		if err != nil {
			return output.Delivery{}, err
		}
		del.Command = rendered
		del.Result = result
	case "channel":
		del.Channel = out.Channel
		if disp.Message != nil {
			if del.Channel == "" {
				del.Channel = disp.Message.Channel
			}
			if del.To == "" {
				del.To = disp.Message.ReplyTo
			}
		}
	}
	return del, nil
}
