// job.go define a entidade Job e suas subestruturas: backend de agente,
// ambiente de execução, gatilho de entrada, sessão, histórico e saídas.
package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Modos de casamento de gatilho.
const (
	MatchAnywhere = "anywhere"
	MatchStart    = "start"
	MatchEnd      = "end"
)

// Job é a unidade nomeada de trabalho: template de prompt, backend de
// agente, ambiente de execução e, opcionalmente, gatilhos e saídas.
type Job struct {
	// Alias é a chave primária, imutável e global. Quando vazio no
	// documento, assume o nome do arquivo.
	Alias string `yaml:"alias"`

	// Name é o nome de exibição.
	Name string `yaml:"name"`

	// Agent configura o backend de linguagem.
	Agent AgentConfig `yaml:"agent"`

	// Environment configura o isolamento de execução.
	Environment EnvironmentConfig `yaml:"environment"`

	// Prompt é o template do prompt principal.
	Prompt string `yaml:"prompt"`

	// Interval é a expressão cron opcional (5 campos ou descritores @).
	Interval string `yaml:"interval"`

	// Input configura o gatilho por canal (opcional).
	Input *InputConfig `yaml:"input"`

	// Session configura a janela de contexto conversacional (opcional).
	Session *SessionConfig `yaml:"session"`

	// History configura o resumo pós-execução (opcional).
	History *HistoryConfig `yaml:"history"`

	// Outputs é a lista ordenada de destinos do resultado.
	Outputs []OutputConfig `yaml:"output"`
}

// AgentConfig seleciona e parametriza o backend de linguagem.
type AgentConfig struct {
	// Type é "claude" ou "ollama".
	Type string `yaml:"type"`

	// Model sobrescreve o modelo padrão do backend.
	Model string `yaml:"model"`

	// SystemPrompt é o prompt de sistema opcional.
	SystemPrompt string `yaml:"system_prompt"`

	// Host é o endpoint do backend ollama.
	Host string `yaml:"host"`

	// SkipPermissions controla --dangerously-skip-permissions no claude.
	// Padrão true; quando false, AllowedTools é aplicado.
	SkipPermissions *bool `yaml:"skip_permissions"`

	// AllowedTools lista ferramentas permitidas quando SkipPermissions=false.
	AllowedTools []string `yaml:"allowed_tools"`
}

// SkipPermissionsEnabled devolve o valor efetivo (padrão true).
func (a AgentConfig) SkipPermissionsEnabled() bool {
	if a.SkipPermissions == nil {
		return true
	}
	return *a.SkipPermissions
}

// EnvironmentConfig seleciona o isolamento de execução do agente.
type EnvironmentConfig struct {
	// Type é "local", "guix-shell", "guix-shell-container" ou "podman".
	Type string `yaml:"type"`

	// Packages lista pacotes guix explícitos.
	Packages []string `yaml:"packages"`

	// Manifest é o caminho de um manifest.scm (alternativa a Packages).
	Manifest string `yaml:"manifest"`

	// Image é a imagem podman. Vazio usa a imagem padrão construída
	// automaticamente.
	Image string `yaml:"image"`

	// WorkDir é o diretório de trabalho da execução.
	WorkDir string `yaml:"workdir"`
}

// InputConfig liga um job a um canal de mensagens.
type InputConfig struct {
	// Channel é o nome do canal configurado.
	Channel string `yaml:"channel"`

	// Trigger é a palavra-gatilho. Vazio ou "*" casa com tudo.
	Trigger string `yaml:"trigger"`

	// TriggerMatch é anywhere|start|end. Padrão anywhere.
	TriggerMatch string `yaml:"trigger_match"`

	// AllowedSenders restringe remetentes. Vazio permite todos.
	AllowedSenders []string `yaml:"allowed_senders"`
}

// SessionConfig configura a janela de turnos conversacionais.
type SessionConfig struct {
	// Context é o número máximo de pares mensagem/resposta retidos.
	Context int `yaml:"context"`
}

// HistoryConfig configura o resumo gravado junto de cada execução.
type HistoryConfig struct {
	// Prompt é o template do prompt de resumo, avaliado contra o
	// resultado recém-produzido.
	Prompt string `yaml:"prompt"`
}

// OutputConfig descreve um destino do resultado final.
type OutputConfig struct {
	// Type é "notification", "msmtp", "command" ou "channel".
	Type string `yaml:"type"`

	// To é o destinatário (e-mail ou identificador no canal).
	To string `yaml:"to"`

	// Subject é o assunto do e-mail (template).
	Subject string `yaml:"subject"`

	// Account é a conta msmtp opcional.
	Account string `yaml:"account"`

	// Command é a linha de shell (template) do tipo command.
	Command string `yaml:"command"`

	// Channel sobrescreve o canal de resposta (tipo channel).
	Channel string `yaml:"channel"`

	// Template é o template do corpo. Vazio usa "{% result %}".
	Template string `yaml:"template"`
}

// cronParser aceita 5 campos e descritores (@daily, @every 5m).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// applyDefaults normaliza campos opcionais após o parse.
func (j *Job) applyDefaults() {
	if j.Agent.Type == "" {
		j.Agent.Type = "claude"
	}
	if j.Environment.Type == "" {
		j.Environment.Type = "local"
	}
	if j.Input != nil && j.Input.TriggerMatch == "" {
		j.Input.TriggerMatch = MatchAnywhere
	}
	for i := range j.Outputs {
		if j.Outputs[i].Template == "" {
			j.Outputs[i].Template = "{% result %}"
		}
	}
}

// Validate verifica os invariantes estruturais do job.
func (j *Job) Validate() error {
	if j.Prompt == "" {
		return fmt.Errorf("job %q: prompt vazio", j.Alias)
	}
	switch j.Agent.Type {
	case "claude", "ollama":
	default:
		return fmt.Errorf("job %q: agente desconhecido %q", j.Alias, j.Agent.Type)
	}
	switch j.Environment.Type {
	case "local", "guix-shell", "guix-shell-container", "podman":
	default:
		return fmt.Errorf("job %q: ambiente desconhecido %q", j.Alias, j.Environment.Type)
	}
	if j.Interval != "" {
		if _, err := cronParser.Parse(j.Interval); err != nil {
			return fmt.Errorf("job %q: expressão cron inválida %q: %w", j.Alias, j.Interval, err)
		}
	}
	if j.Input != nil {
		if j.Input.Channel == "" {
			return fmt.Errorf("job %q: input sem canal", j.Alias)
		}
		switch j.Input.TriggerMatch {
		case MatchAnywhere, MatchStart, MatchEnd:
		default:
			return fmt.Errorf("job %q: trigger_match inválido %q", j.Alias, j.Input.TriggerMatch)
		}
	}
	if j.Session != nil && j.Session.Context < 0 {
		return fmt.Errorf("job %q: session.context negativo", j.Alias)
	}
	for i, out := range j.Outputs {
		switch out.Type {
		case "notification", "msmtp", "command", "channel":
		default:
			return fmt.Errorf("job %q: output[%d] de tipo desconhecido %q", j.Alias, i, out.Type)
		}
	}
	return nil
}
