// parser.go tokeniza e monta a árvore de um template: literais, tags e
// laços aninháveis com corpo próprio.
package template

import (
	"strconv"
	"strings"
)

const (
	openDelim  = "{%"
	closeDelim = "%}"
)

type node interface{ isNode() }

type literalNode struct {
	text string
}

type tagNode struct {
	// raw é o conteúdo aparado do span, incluindo pipe se houver.
	raw string
}

type loopNode struct {
	varName string

	// kind é "memories" ou "range".
	kind string

	// limit vale para memories.
	limit int

	// from/to valem para range: from inclusivo, to exclusivo.
	from, to int

	body []node
}

func (literalNode) isNode() {}
func (tagNode) isNode()     {}
func (loopNode) isNode()    {}

// parse monta a lista de nós de um template.
func parse(input string) ([]node, error) {
	var root []node
	// Pilha de laços abertos; o topo recebe os nós até o endfor.
	var stack []*loopNode

	appendNode := func(n node) {
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			top.body = append(top.body, n)
			return
		}
		root = append(root, n)
	}

	rest := input
	for {
		idx := strings.Index(rest, openDelim)
		if idx < 0 {
			if rest != "" {
				appendNode(literalNode{text: rest})
			}
			break
		}
		if idx > 0 {
			appendNode(literalNode{text: rest[:idx]})
		}
		rest = rest[idx+len(openDelim):]

		end := strings.Index(rest, closeDelim)
		if end < 0 {
			return nil, malformed(strings.TrimSpace(rest), "span sem %s de fechamento", closeDelim)
		}
		raw := strings.TrimSpace(rest[:end])
		rest = rest[end+len(closeDelim):]

		switch {
		case raw == "endfor":
			if len(stack) == 0 {
				return nil, malformed(raw, "endfor sem for correspondente")
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.body = append(top.body, *closed)
			} else {
				root = append(root, *closed)
			}

		case strings.HasPrefix(raw, "for "):
			loop, err := parseFor(raw)
			if err != nil {
				return nil, err
			}
			stack = append(stack, loop)

		case raw == "":
			return nil, malformed(raw, "span vazio")

		default:
			appendNode(tagNode{raw: raw})
		}
	}

	if len(stack) > 0 {
		return nil, malformed("for "+stack[len(stack)-1].varName, "for sem endfor")
	}
	return root, nil
}

// parseFor interpreta "for <var> in memories limit:<n>" e
// "for <var> in (<a>..<b>)".
func parseFor(raw string) (*loopNode, error) {
	fields := strings.Fields(raw)
	// fields[0] == "for"
	if len(fields) < 4 || fields[2] != "in" {
		return nil, malformed(raw, "esperado 'for <var> in <fonte>'")
	}
	varName := fields[1]
	source := fields[3]

	if source == "memories" {
		if len(fields) != 5 || !strings.HasPrefix(fields[4], "limit:") {
			return nil, malformed(raw, "memories exige limit:<n>")
		}
		n, err := strconv.Atoi(strings.TrimPrefix(fields[4], "limit:"))
		if err != nil || n < 0 {
			return nil, malformed(raw, "limit inválido %q", fields[4])
		}
		return &loopNode{varName: varName, kind: "memories", limit: n}, nil
	}

	if strings.HasPrefix(source, "(") && strings.HasSuffix(source, ")") {
		inner := source[1 : len(source)-1]
		parts := strings.SplitN(inner, "..", 2)
		if len(parts) != 2 {
			return nil, malformed(raw, "intervalo deve ser (a..b)")
		}
		from, err1 := strconv.Atoi(parts[0])
		to, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return nil, malformed(raw, "limites de intervalo inválidos em %q", source)
		}
		return &loopNode{varName: varName, kind: "range", from: from, to: to}, nil
	}

	return nil, malformed(raw, "fonte de laço desconhecida %q", source)
}
