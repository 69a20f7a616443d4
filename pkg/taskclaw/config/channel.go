// channel.go define o documento de configuração de canal. Cada arquivo em
// channels/ descreve uma conexão com uma plataforma de mensagens; o nome
// (chave de junção com Job.input.channel) vem do próprio documento ou do
// nome do arquivo.
package config

import "time"

// Tipos de canal suportados.
const (
	ChannelStdin    = "stdin"
	ChannelTelegram = "telegram"
	ChannelMatrix   = "matrix"
	ChannelWhatsApp = "whatsapp"
	ChannelHimalaya = "himalaya"
	ChannelDiscord  = "discord"
)

// ChannelConfig é o documento de um canal.
type ChannelConfig struct {
	// Name é a chave de junção usada pelos jobs.
	Name string `yaml:"name"`

	// Type identifica a plataforma.
	Type string `yaml:"type"`

	// Token autentica bots telegram e discord.
	Token string `yaml:"token"`

	// Homeserver, User e Password autenticam no matrix.
	Homeserver string `yaml:"homeserver"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`

	// Account seleciona a conta himalaya.
	Account string `yaml:"account"`

	// PollInterval é o intervalo de varredura de canais por polling.
	// Zero usa o padrão do adaptador.
	PollInterval time.Duration `yaml:"poll_interval"`
}
