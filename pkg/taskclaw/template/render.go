// render.go avalia a árvore do template contra o contexto congelado.
// Variáveis indefinidas, tags malformadas e falhas de pipe são erros
// duros de renderização.
package template

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04"
)

// loopValue é o valor de uma variável de laço em escopo: um inteiro
// (range) ou uma entrada de memória (memories).
type loopValue struct {
	isEntry bool
	n       int
	entry   Entry
}

// Render avalia o template e devolve a string final.
func Render(ctx context.Context, tmpl string, rc *Context) (string, error) {
	nodes, err := parse(tmpl)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := evalNodes(ctx, nodes, rc, map[string]loopValue{}, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func evalNodes(ctx context.Context, nodes []node, rc *Context, scope map[string]loopValue, sb *strings.Builder) error {
	for _, n := range nodes {
		switch v := n.(type) {
		case literalNode:
			sb.WriteString(v.text)

		case tagNode:
			out, err := evalTag(ctx, v.raw, rc, scope)
			if err != nil {
				return err
			}
			sb.WriteString(out)

		case loopNode:
			if err := evalLoop(ctx, v, rc, scope, sb); err != nil {
				return err
			}
		}
	}
	return nil
}

func evalLoop(ctx context.Context, loop loopNode, rc *Context, scope map[string]loopValue, sb *strings.Builder) error {
	if _, taken := scope[loop.varName]; taken {
		return malformed("for "+loop.varName, "variável de laço %q já em uso", loop.varName)
	}

	switch loop.kind {
	case "memories":
		if rc.Memory == nil {
			return undefined("for "+loop.varName, "memória indisponível neste contexto")
		}
		entries, err := rc.Memory.Recent(rc.Alias, loop.limit)
		if err != nil {
			return &RenderError{Kind: KindUndefined, Tag: "for " + loop.varName, Err: err}
		}
		for _, e := range entries {
			scope[loop.varName] = loopValue{isEntry: true, entry: e}
			if err := evalNodes(ctx, loop.body, rc, scope, sb); err != nil {
				delete(scope, loop.varName)
				return err
			}
		}
		delete(scope, loop.varName)

	case "range":
		for i := loop.from; i < loop.to; i++ {
			scope[loop.varName] = loopValue{n: i}
			if err := evalNodes(ctx, loop.body, rc, scope, sb); err != nil {
				delete(scope, loop.varName)
				return err
			}
		}
		delete(scope, loop.varName)
	}
	return nil
}

// evalTag avalia um span de tag, aplicando o pipe se presente.
func evalTag(ctx context.Context, raw string, rc *Context, scope map[string]loopValue) (string, error) {
	expr, pipeName, hasPipe := strings.Cut(raw, "|")
	expr = strings.TrimSpace(expr)
	pipeName = strings.TrimSpace(pipeName)

	value, err := evalExpr(raw, expr, rc, scope)
	if err != nil {
		return "", err
	}

	if hasPipe {
		return applyPipe(ctx, pipeName, value, rc)
	}
	return value, nil
}

func evalExpr(raw, expr string, rc *Context, scope map[string]loopValue) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return "", malformed(raw, "expressão vazia")
	}
	head := fields[0]
	params, err := parseParams(raw, fields[1:])
	if err != nil {
		return "", err
	}

	switch {
	case head == "date":
		t, err := applyOffsets(raw, rc.Now, params, scope)
		if err != nil {
			return "", err
		}
		return t.Format(dateLayout), nil

	case head == "datetime":
		t, err := applyOffsets(raw, rc.Now, params, scope)
		if err != nil {
			return "", err
		}
		return t.Format(datetimeLayout), nil

	case head == "datetimeiso":
		t, err := applyOffsets(raw, rc.Now, params, scope)
		if err != nil {
			return "", err
		}
		return t.Format(time.RFC3339), nil

	case head == "result":
		if !rc.HasResult {
			return "", undefined(raw, "result fora do contexto de saída")
		}
		return rc.Result, nil

	case head == "message":
		if !rc.HasMessage {
			return "", undefined(raw, "message fora de dispatch por canal")
		}
		return rc.Message, nil

	case head == "sender":
		if !rc.HasMessage {
			return "", undefined(raw, "sender fora de dispatch por canal")
		}
		return rc.Sender, nil

	case head == "memory":
		if rc.Memory == nil {
			return "", undefined(raw, "memória indisponível neste contexto")
		}
		n := 0
		if v, ok := params["minus"]; ok {
			n, err = strconv.Atoi(v)
			if err != nil || n < 0 {
				return "", malformed(raw, "minus inválido %q", v)
			}
		}
		entry, err := rc.Memory.NthFromEnd(rc.Alias, n)
		if err != nil {
			return "", undefined(raw, "memória %d execuções atrás inexistente: %v", n, err)
		}
		return entry.Result, nil

	case strings.HasPrefix(head, "custom:"):
		key := strings.TrimPrefix(head, "custom:")
		val, ok := rc.Dictionary[key]
		if !ok {
			return "", undefined(raw, "chave %q ausente do dicionário", key)
		}
		return val, nil

	case strings.HasPrefix(head, "proxy:"):
		name := strings.TrimPrefix(head, "proxy:")
		if rc.Secrets == nil {
			return "", undefined(raw, "resolvedor de segredos indisponível")
		}
		val, err := rc.Secrets.Resolve(name)
		if err != nil {
			return "", undefined(raw, "segredo %q não resolvido", name)
		}
		return val, nil

	case strings.Contains(head, "."):
		return evalLoopField(raw, head, scope)

	default:
		if lv, ok := scope[head]; ok {
			if lv.isEntry {
				return "", malformed(raw, "variável %q exige acesso por campo (%s.result)", head, head)
			}
			return strconv.Itoa(lv.n), nil
		}
		return "", undefined(raw, "tag desconhecida %q", head)
	}
}

// evalLoopField resolve acesso pontuado a variáveis de laço (i.date,
// i.result, i.summary, i.datetime).
func evalLoopField(raw, head string, scope map[string]loopValue) (string, error) {
	varName, field, _ := strings.Cut(head, ".")
	lv, ok := scope[varName]
	if !ok {
		return "", undefined(raw, "variável de laço %q fora de escopo", varName)
	}
	if !lv.isEntry {
		return "", malformed(raw, "variável %q não tem campos", varName)
	}

	switch field {
	case "date":
		return lv.entry.CreatedAt.Format(dateLayout), nil
	case "datetime":
		return lv.entry.CreatedAt.Format(datetimeLayout), nil
	case "result":
		return lv.entry.Result, nil
	case "summary":
		return lv.entry.Summary, nil
	default:
		return "", malformed(raw, "campo desconhecido %q", field)
	}
}

// parseParams interpreta os parâmetros chave=valor de uma tag.
func parseParams(raw string, fields []string) (map[string]string, error) {
	params := make(map[string]string, len(fields))
	for _, f := range fields {
		key, val, ok := strings.Cut(f, "=")
		if !ok || key == "" || val == "" {
			return nil, malformed(raw, "parâmetro inválido %q", f)
		}
		params[key] = val
	}
	return params, nil
}

// applyOffsets aplica minus/plus ao instante congelado. O valor pode ser
// literal (<n><d|h|m>) ou interpolar uma variável de laço (i"d").
func applyOffsets(raw string, t time.Time, params map[string]string, scope map[string]loopValue) (time.Time, error) {
	if v, ok := params["minus"]; ok {
		d, err := parseOffset(raw, v, scope)
		if err != nil {
			return time.Time{}, err
		}
		t = t.Add(-d)
	}
	if v, ok := params["plus"]; ok {
		d, err := parseOffset(raw, v, scope)
		if err != nil {
			return time.Time{}, err
		}
		t = t.Add(d)
	}
	return t, nil
}

func parseOffset(raw, val string, scope map[string]loopValue) (time.Duration, error) {
	var n int
	var unit string

	if i := strings.IndexByte(val, '"'); i >= 0 {
		// Forma interpolada: <var>"<unidade>".
		if !strings.HasSuffix(val, `"`) || len(val) < i+3 {
			return 0, malformed(raw, "deslocamento interpolado inválido %q", val)
		}
		varName := val[:i]
		unit = val[i+1 : len(val)-1]
		lv, ok := scope[varName]
		if !ok {
			return 0, undefined(raw, "variável de laço %q fora de escopo", varName)
		}
		if lv.isEntry {
			return 0, malformed(raw, "variável %q não é numérica", varName)
		}
		n = lv.n
	} else {
		if len(val) < 2 {
			return 0, malformed(raw, "deslocamento inválido %q", val)
		}
		unit = val[len(val)-1:]
		num, err := strconv.Atoi(val[:len(val)-1])
		if err != nil || num < 0 {
			return 0, malformed(raw, "deslocamento inválido %q", val)
		}
		n = num
	}

	switch unit {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, malformed(raw, "unidade desconhecida %q", unit)
	}
}
