// Package channels define o contrato dos canais de mensagem do taskclaw.
// Cada adaptador (stdin, telegram, matrix, whatsapp, himalaya, discord)
// implementa a interface Channel para receber e enviar mensagens de
// forma unificada.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel é o contrato que todo canal de comunicação implementa.
type Channel interface {
	// Name devolve o nome de junção do canal (Job.input.channel).
	Name() string

	// Connect estabelece a conexão e inicia o loop de escuta.
	// O loop encerra quando ctx é cancelado ou em erro fatal.
	Connect(ctx context.Context) error

	// Disconnect encerra a conexão de forma graciosa.
	Disconnect() error

	// Send envia uma resposta ao destinatário indicado.
	Send(ctx context.Context, to, text string) error

	// Receive devolve o stream de mensagens recebidas. Fechado quando o
	// loop de escuta termina.
	Receive() <-chan *IncomingMessage

	// IsConnected informa se o canal está conectado.
	IsConnected() bool
}

// IncomingMessage é uma mensagem normalizada de qualquer plataforma.
// Efêmera: existe apenas durante o casamento de gatilho e a renderização.
type IncomingMessage struct {
	// Channel é o nome do canal de origem.
	Channel string

	// Sender identifica o remetente na plataforma (filtro de
	// allowed_senders e tag {% sender %}).
	Sender string

	// SenderName é o nome de exibição, quando disponível.
	SenderName string

	// Text é o conteúdo textual, já normalizado pelo adaptador.
	Text string

	// ReplyTo é o destino para respostas pelo mesmo canal (chat, sala,
	// endereço). Vazio quando o canal não suporta resposta dirigida.
	ReplyTo string

	// ReceivedAt é o instante de recebimento.
	ReceivedAt time.Time
}

// Error descreve uma falha de canal. Transient: o adaptador recua e
// tenta de novo. Fatal: o loop do adaptador encerra; o daemon continua
// servindo os demais canais.
type Error struct {
	Channel   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("channel %s (%s): %v", e.Channel, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient embala um erro transitório de canal.
func Transient(channel string, err error) *Error {
	return &Error{Channel: channel, Transient: true, Err: err}
}

// Fatal embala um erro fatal de canal.
func Fatal(channel string, err error) *Error {
	return &Error{Channel: channel, Err: err}
}
