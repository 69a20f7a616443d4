// Package output despacha o resultado final de um job para a lista
// ordenada de destinos: notificação de desktop, e-mail via msmtp,
// comando de shell e resposta pelo canal de origem. A falha de um
// destino não impede os demais; todas são coletadas e reportadas
// juntas.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const sinkTimeout = 60 * time.Second

// ResultEnvVar carrega o resultado bruto para o destino command; o
// template usa a referência de variável em vez de interpolar o valor na
// linha de shell, evitando injeção.
const ResultEnvVar = "TASKCLAW_RESULT"

// SinkError descreve a falha de um destino específico.
type SinkError struct {
	Kind string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("output %s: %v", e.Kind, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// ChannelSender devolve respostas pelo canal de origem.
type ChannelSender interface {
	Send(ctx context.Context, channel, to, text string) error
}

// Delivery é um destino já renderizado, pronto para entrega.
type Delivery struct {
	// Kind é notification, msmtp, command ou channel.
	Kind string

	// Body é o corpo renderizado.
	Body string

	// To é o destinatário (e-mail ou identificador no canal).
	To string

	// Subject é o assunto renderizado (msmtp).
	Subject string

	// Account é a conta msmtp opcional.
	Account string

	// Command é a linha de shell renderizada (command).
	Command string

	// Result é o resultado bruto exposto via ResultEnvVar (command).
	Result string

	// Channel é o canal de resposta (channel).
	Channel string
}

// Dispatcher entrega resultados aos destinos configurados.
type Dispatcher struct {
	sender ChannelSender
	logger *slog.Logger
}

// NewDispatcher cria o despachador. sender pode ser nil quando nenhum
// canal está configurado; destinos channel falham nesse caso.
func NewDispatcher(sender ChannelSender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, logger: logger}
}

// Dispatch entrega a cada destino em ordem. Falhas são coletadas com
// errors.Join; destinos irmãos não são afetados.
func (d *Dispatcher) Dispatch(ctx context.Context, deliveries []Delivery) error {
	var errs []error
	for _, del := range deliveries {
		if err := d.deliver(ctx, del); err != nil {
			d.logger.Error("falha em destino de saída", "kind", del.Kind, "error", err)
			errs = append(errs, &SinkError{Kind: del.Kind, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, del Delivery) error {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	switch del.Kind {
	case "notification":
		return d.notify(ctx, del)
	case "msmtp":
		return d.mail(ctx, del)
	case "command":
		return d.command(ctx, del)
	case "channel":
		return d.channelReply(ctx, del)
	default:
		return fmt.Errorf("tipo de destino desconhecido %q", del.Kind)
	}
}

// notify mostra uma notificação de desktop via notify-send.
func (d *Dispatcher) notify(ctx context.Context, del Delivery) error {
	cmd := exec.CommandContext(ctx, "notify-send", "taskclaw", del.Body)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// mail envia o corpo por e-mail via msmtp, com a mensagem no stdin.
func (d *Dispatcher) mail(ctx context.Context, del Delivery) error {
	if del.To == "" {
		return fmt.Errorf("destinatário vazio")
	}

	args := []string{}
	if del.Account != "" {
		args = append(args, "-a", del.Account)
	}
	args = append(args, "--", del.To)

	// Cabeçalhos não podem conter quebras de linha (header injection).
	to := sanitizeHeader(del.To)
	subject := sanitizeHeader(del.Subject)

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\n", to)
	fmt.Fprintf(&msg, "Subject: %s\n", subject)
	msg.WriteString("\n")
	msg.WriteString(del.Body)

	cmd := exec.CommandContext(ctx, "msmtp", args...)
	cmd.Stdin = &msg
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("msmtp: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// command executa a linha de shell com o resultado em ResultEnvVar.
func (d *Dispatcher) command(ctx context.Context, del Delivery) error {
	if del.Command == "" {
		return fmt.Errorf("linha de comando vazia")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", del.Command)
	cmd.Env = append(os.Environ(), ResultEnvVar+"="+del.Result)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sh -c: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// channelReply responde pelo canal de origem.
func (d *Dispatcher) channelReply(ctx context.Context, del Delivery) error {
	if d.sender == nil {
		return fmt.Errorf("nenhum canal disponível para resposta")
	}
	if del.Channel == "" || del.To == "" {
		return fmt.Errorf("canal ou destinatário de resposta indefinido")
	}
	return d.sender.Send(ctx, del.Channel, del.To, del.Body)
}

// sanitizeHeader remove CR/LF de valores de cabeçalho.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
