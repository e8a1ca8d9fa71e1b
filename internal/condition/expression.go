package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a compiled predicate over event fields.
type Expr interface {
	exprNode()
}

// Logical joins two predicates with AND or OR.
type Logical struct {
	Op          string // "AND" | "OR"
	Left, Right Expr
}

// Not negates a predicate.
type Not struct {
	Expr Expr
}

// Comparison tests one field against a constant. Value holds a string,
// int64 or bool matching the field's kind, or a []interface{} of those for
// OpIn.
type Comparison struct {
	Field string
	Op    Operator
	Value interface{}
}

func (*Logical) exprNode()    {}
func (*Not) exprNode()        {}
func (*Comparison) exprNode() {}

// And folds parts into a left-deep AND chain. It returns nil for no parts.
func And(parts ...Expr) Expr {
	var out Expr
	for _, p := range parts {
		if out == nil {
			out = p
			continue
		}
		out = &Logical{Op: "AND", Left: out, Right: p}
	}
	return out
}

// Compare builds a type-checked comparison from a structured condition.
func Compare(field string, op Operator, value interface{}, schema Schema) (Expr, error) {
	c := &Comparison{Field: field, Op: op, Value: value}
	if err := check(c, schema); err != nil {
		return nil, err
	}
	return c, nil
}

// Compile parses src and type-checks every comparison against schema.
func Compile(src string, schema Schema) (Expr, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if err := Check(e, schema); err != nil {
		return nil, err
	}
	return e, nil
}

// Check type-checks every comparison in e against schema and coerces the
// constants in place.
func Check(e Expr, schema Schema) error {
	switch n := e.(type) {
	case *Logical:
		if err := Check(n.Left, schema); err != nil {
			return err
		}
		return Check(n.Right, schema)
	case *Not:
		return Check(n.Expr, schema)
	case *Comparison:
		return check(n, schema)
	}
	return fmt.Errorf("unknown expr type %T", e)
}

func check(c *Comparison, schema Schema) error {
	kind, ok := schema[c.Field]
	if !ok {
		return fmt.Errorf("unknown field %q", c.Field)
	}
	if !c.Op.Valid() {
		return fmt.Errorf("unknown operator %q", c.Op)
	}
	if !kind.accepts(c.Op) {
		return fmt.Errorf("operator %s is not defined on %s field %s", c.Op, kind, c.Field)
	}
	if c.Op != OpIn {
		v, err := kind.literal(c.Value)
		if err != nil {
			return fmt.Errorf("%s %s: %w", c.Field, c.Op, err)
		}
		c.Value = v
		return nil
	}
	list, ok := c.Value.([]interface{})
	if !ok || len(list) == 0 {
		return fmt.Errorf("%s in: a non-empty list is required", c.Field)
	}
	out := make([]interface{}, len(list))
	for i, item := range list {
		v, err := kind.literal(item)
		if err != nil {
			return fmt.Errorf("%s in [%d]: %w", c.Field, i, err)
		}
		out[i] = v
	}
	c.Value = out
	return nil
}

// -----------------------------------------------------------------------
// Lexer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokEOF    tokenKind = iota
	tokIdent            // field name or keyword
	tokOp               // ==, !=, >=, <=, >, <
	tokString           // "…" or '…'
	tokInt              // 42, -3
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer scans one token at a time from src.
type lexer struct {
	src string
	pos int
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && strings.IndexByte(" \t\r\n", l.src[l.pos]) >= 0 {
		l.pos++
	}
	start := l.pos
	if start == len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}
	c := l.src[start]
	switch {
	case c == '(':
		l.pos++
		return token{tokLParen, "(", start}, nil
	case c == ')':
		l.pos++
		return token{tokRParen, ")", start}, nil
	case c == ',':
		l.pos++
		return token{tokComma, ",", start}, nil
	case c == '"' || c == '\'':
		return l.quoted(c)
	case isDigit(c) || c == '-':
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
		text := l.src[start:l.pos]
		if text == "-" {
			return token{}, fmt.Errorf("position %d: dangling '-'", start)
		}
		if l.pos < len(l.src) && l.src[l.pos] == '.' {
			return token{}, fmt.Errorf("position %d: only integer constants are supported", start)
		}
		return token{tokInt, text, start}, nil
	case isIdentByte(c, true):
		for l.pos < len(l.src) && isIdentByte(l.src[l.pos], false) {
			l.pos++
		}
		return token{tokIdent, l.src[start:l.pos], start}, nil
	}
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if strings.HasPrefix(l.src[start:], op) {
			l.pos += len(op)
			return token{tokOp, op, start}, nil
		}
	}
	return token{}, fmt.Errorf("position %d: unexpected character %q", start, c)
}

func (l *lexer) quoted(q byte) (token, error) {
	start := l.pos
	var b strings.Builder
	for i := start + 1; i < len(l.src); i++ {
		switch c := l.src[i]; {
		case c == q:
			l.pos = i + 1
			return token{tokString, b.String(), start}, nil
		case c == '\\' && i+1 < len(l.src):
			i++
			b.WriteByte(l.src[i])
		default:
			b.WriteByte(c)
		}
	}
	return token{}, fmt.Errorf("position %d: unterminated string", start)
}

// -----------------------------------------------------------------------
// Parser
//
//	or_expr    = and_expr { "OR" and_expr }
//	and_expr   = unary { "AND" unary }
//	unary      = "NOT" unary | "(" or_expr ")" | comparison
//	comparison = field op constant | field "contains" string
//	           | field "in" "(" constant { "," constant } ")"
//	constant   = string | integer | "true" | "false"
// -----------------------------------------------------------------------

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) keyword(kw string) bool {
	return p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, kw)
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.tok.kind != kind {
		return p.errorf("expected %s", what)
	}
	return p.advance()
}

func (p *parser) errorf(format string, args ...interface{}) error {
	got := p.tok.text
	if p.tok.kind == tokEOF {
		got = "end of expression"
	}
	return fmt.Errorf("position %d: %s, got %q", p.tok.pos, fmt.Sprintf(format, args...), got)
}

// Parse parses src without type-checking. Use Compile for rule predicates.
func Parse(src string) (Expr, error) {
	p := &parser{lex: &lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected token after expression")
	}
	return e, nil
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	for err == nil && p.keyword("OR") {
		var right Expr
		if err = p.advance(); err != nil {
			break
		}
		if right, err = p.and(); err == nil {
			left = &Logical{Op: "OR", Left: left, Right: right}
		}
	}
	return left, err
}

func (p *parser) and() (Expr, error) {
	left, err := p.unary()
	for err == nil && p.keyword("AND") {
		var right Expr
		if err = p.advance(); err != nil {
			break
		}
		if right, err = p.unary(); err == nil {
			left = &Logical{Op: "AND", Left: left, Right: right}
		}
	}
	return left, err
}

func (p *parser) unary() (Expr, error) {
	switch {
	case p.keyword("NOT"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	case p.tok.kind == tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		return inner, p.expect(tokRParen, "')'")
	}
	return p.comparison()
}

func (p *parser) comparison() (Expr, error) {
	if p.tok.kind != tokIdent || p.keyword("true") || p.keyword("false") {
		return nil, p.errorf("expected field name")
	}
	c := &Comparison{Field: p.tok.text}
	if err := p.advance(); err != nil {
		return nil, err
	}
	switch {
	case p.tok.kind == tokOp:
		c.Op = Operator(p.tok.text)
	case p.keyword("contains"):
		c.Op = OpContains
	case p.keyword("in"):
		c.Op = OpIn
	default:
		return nil, p.errorf("expected comparison operator")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var err error
	if c.Op == OpIn {
		c.Value, err = p.list()
	} else {
		c.Value, err = p.constant()
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) list() ([]interface{}, error) {
	if err := p.expect(tokLParen, "'(' after in"); err != nil {
		return nil, err
	}
	var out []interface{}
	for {
		v, err := p.constant()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return out, p.expect(tokRParen, "')' closing the in list")
}

func (p *parser) constant() (interface{}, error) {
	var v interface{}
	switch {
	case p.tok.kind == tokString:
		v = p.tok.text
	case p.tok.kind == tokInt:
		n, err := strconv.ParseInt(p.tok.text, 10, 64)
		if err != nil {
			return nil, p.errorf("integer out of range")
		}
		v = n
	case p.keyword("true"):
		v = true
	case p.keyword("false"):
		v = false
	default:
		return nil, p.errorf("expected a constant")
	}
	return v, p.advance()
}
