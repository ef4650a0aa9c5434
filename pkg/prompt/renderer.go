// Package prompt renders agent prompt templates.
//
// Templates use {{name}} placeholders and {{#if name}}...{{/if}} blocks that
// are kept only when the variable is non-empty.
package prompt

import (
	"strings"
)

// Renderer turns a template and a variable mapping into a prompt.
type Renderer interface {
	Render(template string, vars map[string]string) (string, error)
}

// TemplateRenderer is the default Renderer.
type TemplateRenderer struct{}

// NewRenderer returns the default renderer.
func NewRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render validates the template and substitutes vars. Unknown variables
// render as the empty string.
func (r *TemplateRenderer) Render(template string, vars map[string]string) (string, error) {
	nodes, err := parse(template)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	renderNodes(&sb, nodes, vars)
	return sb.String(), nil
}

// Validate checks that markers are balanced and conditional blocks closed.
func Validate(template string) error {
	_, err := parse(template)
	return err
}

// References reports whether the template uses the named variable.
func References(template, name string) bool {
	toks, err := tokenize(template)
	if err != nil {
		return false
	}
	for _, t := range toks {
		if (t.kind == tokVar || t.kind == tokIf) && t.text == name {
			return true
		}
	}
	return false
}

type tokenKind int

const (
	tokText tokenKind = iota
	tokVar
	tokIf
	tokEndIf
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

func tokenize(tpl string) ([]token, error) {
	var toks []token
	pos := 0
	for pos < len(tpl) {
		open := strings.Index(tpl[pos:], "{{")
		if open < 0 {
			if c := strings.Index(tpl[pos:], "}}"); c >= 0 {
				return nil, &ValidationError{Offset: pos + c, Reason: "closing marker without opening marker"}
			}
			toks = append(toks, token{kind: tokText, text: tpl[pos:], offset: pos})
			break
		}
		open += pos
		if c := strings.Index(tpl[pos:open], "}}"); c >= 0 {
			return nil, &ValidationError{Offset: pos + c, Reason: "closing marker without opening marker"}
		}
		if open > pos {
			toks = append(toks, token{kind: tokText, text: tpl[pos:open], offset: pos})
		}

		rest := tpl[open+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return nil, &ValidationError{Offset: open, Reason: "unclosed variable marker"}
		}
		body := rest[:end]
		if strings.Contains(body, "{{") {
			return nil, &ValidationError{Offset: open, Reason: "nested opening marker"}
		}
		tok, err := classify(strings.TrimSpace(body), open)
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		pos = open + 2 + end + 2
	}
	return toks, nil
}

func classify(body string, offset int) (token, error) {
	switch {
	case body == "/if":
		return token{kind: tokEndIf, offset: offset}, nil
	case strings.HasPrefix(body, "#if"):
		name := strings.TrimSpace(strings.TrimPrefix(body, "#if"))
		if !validName(name) {
			return token{}, &ValidationError{Offset: offset, Reason: "conditional block needs a variable name"}
		}
		return token{kind: tokIf, text: name, offset: offset}, nil
	case validName(body):
		return token{kind: tokVar, text: body, offset: offset}, nil
	default:
		return token{}, &ValidationError{Offset: offset, Reason: "invalid variable name " + quote(body)}
	}
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
		default:
			return false
		}
	}
	return true
}

func quote(s string) string { return "\"" + s + "\"" }

type node struct {
	tok      token
	children []node
}

func parse(tpl string) ([]node, error) {
	toks, err := tokenize(tpl)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	nodes, err := p.block(nil)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

type parser struct {
	toks []token
	pos  int
}

// block consumes tokens until the {{/if}} closing open, or until EOF when
// open is nil.
func (p *parser) block(open *token) ([]node, error) {
	var out []node
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		p.pos++
		switch t.kind {
		case tokEndIf:
			if open == nil {
				return nil, &ValidationError{Offset: t.offset, Reason: "closing block without matching {{#if}}"}
			}
			return out, nil
		case tokIf:
			children, err := p.block(&t)
			if err != nil {
				return nil, err
			}
			out = append(out, node{tok: t, children: children})
		default:
			out = append(out, node{tok: t})
		}
	}
	if open != nil {
		return nil, &ValidationError{Offset: open.offset, Reason: "unclosed conditional block"}
	}
	return out, nil
}

func renderNodes(sb *strings.Builder, nodes []node, vars map[string]string) {
	for _, n := range nodes {
		switch n.tok.kind {
		case tokText:
			sb.WriteString(n.tok.text)
		case tokVar:
			sb.WriteString(vars[n.tok.text])
		case tokIf:
			if strings.TrimSpace(vars[n.tok.text]) != "" {
				renderNodes(sb, n.children, vars)
			}
		}
	}
}
