// Package trigger decide se uma mensagem recebida ativa um job.
// Função pura: nenhum estado, nenhum efeito colateral.
package trigger

import (
	"strings"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
)

// Wildcard casa com qualquer texto, como o gatilho vazio.
const Wildcard = "*"

// Match avalia o input de um job contra uma mensagem.
//
// Regras, nesta ordem:
//   - o canal do job deve ser igual ao canal da mensagem;
//   - allowed_senders, quando presente, deve conter o remetente;
//   - gatilho vazio ou "*" casa com qualquer texto;
//   - caso contrário, casamento sensível a maiúsculas conforme
//     trigger_match (anywhere, start, end).
//
// No acerto, a primeira ocorrência do gatilho (substring crua, sem
// fronteira de palavra) é removida do texto e o restante devolvido com
// espaços aparados, pronto para o contexto de template.
func Match(in *config.InputConfig, channel, sender, text string) (bool, string) {
	if in == nil || in.Channel != channel {
		return false, ""
	}
	if !senderAllowed(in.AllowedSenders, sender) {
		return false, ""
	}

	if in.Trigger == "" || in.Trigger == Wildcard {
		return true, strings.TrimSpace(text)
	}

	var hit bool
	switch in.TriggerMatch {
	case config.MatchStart:
		hit = strings.HasPrefix(text, in.Trigger)
	case config.MatchEnd:
		hit = strings.HasSuffix(text, in.Trigger)
	default:
		hit = strings.Contains(text, in.Trigger)
	}
	if !hit {
		return false, ""
	}

	stripped := strings.Replace(text, in.Trigger, "", 1)
	return true, strings.TrimSpace(stripped)
}

func senderAllowed(allowed []string, sender string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == sender {
			return true
		}
	}
	return false
}
