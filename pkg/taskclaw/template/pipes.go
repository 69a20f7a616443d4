// pipes.go implementa o sufixo de pipe das tags: o valor resolvido é
// enviado como prompt ao backend de agente e a tag resolve para o texto
// devolvido. Chamada aninhada e síncrona: o worker bloqueia até a
// resposta, e uma falha do pipe falha a renderização inteira.
package template

import (
	"context"
	"fmt"
)

// pipeInstructions é o conjunto fechado de transformações suportadas.
var pipeInstructions = map[string]string{
	"summary":      "Summarize the following text concisely, keeping the key points:",
	"keywords":     "Extract the main keywords from the following text as a comma-separated list:",
	"translate-en": "Translate the following text to English. Reply with the translation only:",
}

func applyPipe(ctx context.Context, name, value string, rc *Context) (string, error) {
	instruction, ok := pipeInstructions[name]
	if !ok {
		return "", malformed(name, "pipe desconhecido %q", name)
	}
	if rc.Agent == nil {
		return "", &RenderError{Kind: KindPipe, Tag: name,
			Err: fmt.Errorf("backend de agente indisponível para pipes")}
	}

	out, err := rc.Agent.Complete(ctx, instruction+"\n\n"+value, "")
	if err != nil {
		return "", &RenderError{Kind: KindPipe, Tag: name, Err: err}
	}
	return out, nil
}
