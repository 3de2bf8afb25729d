// Package visibility compiles the small boolean rules form definitions use to
// show a field only when sibling fields hold certain values, for example
// `provider == "cloud_api"` or `enabled && !sandbox`.
//
// Supported syntax: identifiers (truthiness), `==` / `!=` against string,
// number, bool, or null literals, `!`, `&&`, `||`, and parentheses.
// Identifiers are resolved against the current form values using dotted paths.
package visibility

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Rule is a compiled visibility expression. The zero value (and an empty
// expression) is always visible.
type Rule struct {
	source string
	root   node
	fields []string
}

// Compile parses expr once so evaluation on every field change stays cheap.
func Compile(expr string) (Rule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Rule{}, nil
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return Rule{}, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return Rule{}, err
	}
	if p.pos < len(p.tokens) {
		return Rule{}, fmt.Errorf("visibility: unexpected token %q", p.tokens[p.pos].raw)
	}

	deps := map[string]struct{}{}
	root.collect(deps)
	fields := make([]string, 0, len(deps))
	for name := range deps {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	return Rule{source: trimmed, root: root, fields: fields}, nil
}

// MustCompile panics when expr is invalid.
func MustCompile(expr string) Rule {
	rule, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return rule
}

// String returns the original expression.
func (r Rule) String() string { return r.source }

// Empty reports whether the rule always evaluates to true.
func (r Rule) Empty() bool { return r.root == nil }

// Fields lists the top-level identifiers the rule reads. Watchers use it to
// re-evaluate only when one of them changes.
func (r Rule) Fields() []string {
	return append([]string(nil), r.fields...)
}

// Eval reports whether the rule holds for values.
func (r Rule) Eval(values map[string]any) bool {
	if r.root == nil {
		return true
	}
	return r.root.eval(values)
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokBool
	tokNull
	tokEq
	tokNeq
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	raw  string
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(input); {
		ch := input[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case strings.HasPrefix(input[i:], "=="):
			tokens = append(tokens, token{tokEq, "=="})
			i += 2
		case strings.HasPrefix(input[i:], "!="):
			tokens = append(tokens, token{tokNeq, "!="})
			i += 2
		case strings.HasPrefix(input[i:], "&&"):
			tokens = append(tokens, token{tokAnd, "&&"})
			i += 2
		case strings.HasPrefix(input[i:], "||"):
			tokens = append(tokens, token{tokOr, "||"})
			i += 2
		case ch == '!':
			tokens = append(tokens, token{tokNot, "!"})
			i++
		case ch == '"' || ch == '\'':
			end := i + 1
			for end < len(input) && input[end] != ch {
				if input[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(input) {
				return nil, errors.New("visibility: unterminated string literal")
			}
			body := input[i+1 : end]
			if ch == '\'' {
				body = strings.ReplaceAll(body, `"`, `\"`)
			}
			value, err := strconv.Unquote(`"` + body + `"`)
			if err != nil {
				return nil, fmt.Errorf("visibility: invalid string literal: %w", err)
			}
			tokens = append(tokens, token{tokString, value})
			i = end + 1
		case ch == '=' || ch == '&' || ch == '|':
			return nil, fmt.Errorf("visibility: unexpected %q at offset %d", ch, i)
		default:
			start := i
			for i < len(input) && !strings.ContainsRune(" \t\n\r()!=&|\"'", rune(input[i])) {
				i++
			}
			tokens = append(tokens, classify(input[start:i]))
		}
	}
	return tokens, nil
}

func classify(raw string) token {
	switch strings.ToLower(raw) {
	case "true", "false":
		return token{tokBool, strings.ToLower(raw)}
	case "null", "nil":
		return token{tokNull, "null"}
	}
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return token{tokNumber, raw}
	}
	return token{tokIdent, raw}
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek(kind tokenKind) bool {
	return p.pos < len(p.tokens) && p.tokens[p.pos].kind == kind
}

func (p *parser) accept(kind tokenKind) bool {
	if p.peek(kind) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.accept(tokAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.accept(tokNot) {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	if p.accept(tokLParen) {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.accept(tokRParen) {
			return nil, errors.New("visibility: missing closing ')'")
		}
		return inner, nil
	}
	if !p.peek(tokIdent) {
		if p.pos >= len(p.tokens) {
			return nil, errors.New("visibility: unexpected end of expression")
		}
		return nil, fmt.Errorf("visibility: expected identifier, got %q", p.tokens[p.pos].raw)
	}
	ident := p.tokens[p.pos].raw
	p.pos++

	for _, op := range []tokenKind{tokEq, tokNeq} {
		if !p.accept(op) {
			continue
		}
		if p.pos >= len(p.tokens) {
			return nil, errors.New("visibility: missing literal")
		}
		lit := p.tokens[p.pos]
		p.pos++
		switch lit.kind {
		case tokString, tokNumber, tokBool, tokNull, tokIdent:
		default:
			return nil, fmt.Errorf("visibility: expected literal, got %q", lit.raw)
		}
		return compareNode{path: ident, negate: op == tokNeq, lit: lit}, nil
	}
	return truthyNode{path: ident}, nil
}

type node interface {
	eval(values map[string]any) bool
	collect(deps map[string]struct{})
}

type orNode struct{ left, right node }

func (n orNode) eval(v map[string]any) bool { return n.left.eval(v) || n.right.eval(v) }
func (n orNode) collect(d map[string]struct{}) {
	n.left.collect(d)
	n.right.collect(d)
}

type andNode struct{ left, right node }

func (n andNode) eval(v map[string]any) bool { return n.left.eval(v) && n.right.eval(v) }
func (n andNode) collect(d map[string]struct{}) {
	n.left.collect(d)
	n.right.collect(d)
}

type notNode struct{ inner node }

func (n notNode) eval(v map[string]any) bool    { return !n.inner.eval(v) }
func (n notNode) collect(d map[string]struct{}) { n.inner.collect(d) }

type truthyNode struct{ path string }

func (n truthyNode) eval(v map[string]any) bool {
	value, ok := Lookup(v, n.path)
	return ok && truthy(value)
}
func (n truthyNode) collect(d map[string]struct{}) { d[rootSegment(n.path)] = struct{}{} }

type compareNode struct {
	path   string
	negate bool
	lit    token
}

func (n compareNode) eval(v map[string]any) bool {
	value, _ := Lookup(v, n.path)
	equal := false
	switch n.lit.kind {
	case tokNull:
		equal = value == nil
	case tokBool:
		equal = truthy(value) == (n.lit.raw == "true")
	case tokNumber:
		want, _ := strconv.ParseFloat(n.lit.raw, 64)
		got, ok := number(value)
		equal = ok && got == want
	default:
		equal = value != nil && fmt.Sprint(value) == n.lit.raw
	}
	if n.negate {
		return !equal
	}
	return equal
}
func (n compareNode) collect(d map[string]struct{}) { d[rootSegment(n.path)] = struct{}{} }

func rootSegment(path string) string {
	if idx := strings.Index(path, "."); idx > 0 {
		return path[:idx]
	}
	return path
}

// Lookup resolves a dotted path against nested maps, preferring an exact key
// match for names that themselves contain dots.
func Lookup(values map[string]any, path string) (any, bool) {
	if len(values) == 0 || path == "" {
		return nil, false
	}
	if value, ok := values[path]; ok {
		return value, true
	}
	var current any = values
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if parsed, err := strconv.ParseBool(trimmed); err == nil {
			return parsed
		}
		return trimmed != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	if n, ok := number(value); ok {
		return n != 0
	}
	return true
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
