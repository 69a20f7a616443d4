// Package template avalia a linguagem de tags dos prompts e saídas:
// texto literal intercalado com spans {% tag %}, laços limitados
// (for ... endfor) e pipes que disparam subchamadas síncronas ao backend
// de agente. A avaliação é determinística dado um contexto congelado no
// momento do dispatch.
package template

import (
	"context"
	"fmt"
	"time"
)

// Kinds de erro de renderização.
const (
	KindUndefined = "undefined_variable"
	KindMalformed = "malformed_tag"
	KindPipe      = "pipe_failure"
)

// RenderError descreve uma falha de renderização. Aborta a execução
// corrente do job; nenhuma entrada de memória é gravada.
type RenderError struct {
	Kind string
	Tag  string
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s em {%% %s %%}: %v", e.Kind, e.Tag, e.Err)
	}
	return fmt.Sprintf("render %s em {%% %s %%}", e.Kind, e.Tag)
}

func (e *RenderError) Unwrap() error { return e.Err }

func undefined(tag, format string, args ...any) *RenderError {
	return &RenderError{Kind: KindUndefined, Tag: tag, Err: fmt.Errorf(format, args...)}
}

func malformed(tag, format string, args ...any) *RenderError {
	return &RenderError{Kind: KindMalformed, Tag: tag, Err: fmt.Errorf(format, args...)}
}

// MemorySource é a visão de leitura do armazenamento de memória.
type MemorySource interface {
	Recent(alias string, n int) ([]Entry, error)
	NthFromEnd(alias string, n int) (Entry, error)
}

// Entry espelha uma entrada de memória para consumo do renderizador.
type Entry struct {
	Seq       int64
	Result    string
	Summary   string
	CreatedAt time.Time
}

// SecretSource resolve nomes de segredo para proxy:<nome>.
type SecretSource interface {
	Resolve(name string) (string, error)
}

// Completer executa a subchamada síncrona de um pipe.
type Completer interface {
	Complete(ctx context.Context, prompt, system string) (string, error)
}

// Context é o instantâneo congelado contra o qual um template é avaliado.
// Capturado uma vez no dispatch; nunca relido no meio da renderização.
type Context struct {
	// Now é o relógio congelado.
	Now time.Time

	// Alias escopa as consultas de memória.
	Alias string

	// Dictionary alimenta custom:<chave>.
	Dictionary map[string]string

	// HasMessage indica dispatch originado por canal.
	HasMessage bool
	// Message é o texto já sem menção e sem gatilho.
	Message string
	// Sender é o identificador do remetente.
	Sender string

	// HasResult indica contexto de template de saída.
	HasResult bool
	// Result é a saída do agente.
	Result string

	// Memory, Secrets e Agent são os colaboradores injetados.
	// Agent pode ser nil quando o template não usa pipes.
	Memory  MemorySource
	Secrets SecretSource
	Agent   Completer
}
