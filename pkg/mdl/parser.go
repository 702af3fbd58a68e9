package mdl

import (
	"strconv"
	"strings"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

var matchFuncs = map[string]bool{
	"starts_with": true, "ends_with": true, "contains": true, "regex_match": true,
	"is_empty": true, "iequals": true, "gt": true, "lt": true, "eq": true, "in_range": true,
}

type parser struct {
	toks []token
	pos  int
}

// ParseModel lexes and parses one MDL model declaration.
func ParseModel(src string) (*Model, error) {
	lx := newLexer(src)
	var toks []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			break
		}
	}
	p := &parser{toks: toks}
	return p.parseModel()
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) atEOF() bool { return p.cur().kind == tokEOF }
func (p *parser) advance() token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}
func (p *parser) errf(msg string) error {
	t := p.cur()
	return apperr.Compile("mdl", "parse", msg).
		WithLocation("line " + strconv.Itoa(t.line) + ", column " + strconv.Itoa(t.col))
}
func (p *parser) expectPunct(s string) error {
	if p.cur().kind == tokPunct && p.cur().text == s {
		p.advance()
		return nil
	}
	return p.errf("expected '" + s + "'")
}
func (p *parser) acceptPunct(s string) bool {
	if p.cur().kind == tokPunct && p.cur().text == s {
		p.advance()
		return true
	}
	return false
}
func (p *parser) isPunct(s string) bool {
	return p.cur().kind == tokPunct && p.cur().text == s
}
func (p *parser) isIdent(s string) bool {
	return p.cur().kind == tokIdent && p.cur().text == s
}

func (p *parser) parseModel() (*Model, error) {
	m := &Model{Enable: true}
	if err := p.expectIdentWord("name"); err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if p.cur().kind != tokPath && p.cur().kind != tokIdent {
		return nil, p.errf("expected model path")
	}
	m.Name = p.advance().text
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}

	if p.isIdent("rule") {
		p.advance()
		p.expectPunct(":")
		if p.cur().kind != tokPath && p.cur().kind != tokIdent {
			return nil, p.errf("expected rule pattern")
		}
		m.RulePattern = p.advance().text
		p.expectPunct(";")
	}
	if p.isIdent("enable") {
		p.advance()
		p.expectPunct(":")
		if p.cur().kind != tokIdent {
			return nil, p.errf("expected boolean literal")
		}
		m.Enable = p.advance().text == "true"
		p.expectPunct(";")
	}
	if err := p.expectPunct("---"); err != nil {
		return nil, err
	}

	if p.isIdent("static") {
		p.advance()
		if err := p.expectPunct("{"); err != nil {
			return nil, err
		}
		for !p.isPunct("}") {
			st, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			m.Static = append(m.Static, st)
		}
		p.expectPunct("}")
	}

	for !p.atEOF() {
		st, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		m.Body = append(m.Body, st)
		for _, t := range st.Targets {
			if t.IsTemporary() {
				m.HasTemp = true
			}
		}
	}
	return m, nil
}

func (p *parser) expectIdentWord(w string) error {
	if p.cur().kind == tokIdent && p.cur().text == w {
		p.advance()
		return nil
	}
	return p.errf("expected '" + w + "'")
}

func (p *parser) parseStatement() (Statement, error) {
	var targets []Target
	for {
		t, err := p.parseTarget()
		if err != nil {
			return Statement{}, err
		}
		targets = append(targets, t)
		if !p.acceptPunct(",") {
			break
		}
	}
	if err := p.expectPunct("="); err != nil {
		return Statement{}, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return Statement{}, err
	}
	if err := p.expectPunct(";"); err != nil {
		return Statement{}, err
	}
	return Statement{Targets: targets, Expr: expr, Pure: isPure(expr)}, nil
}

func (p *parser) parseTarget() (Target, error) {
	if p.acceptPunct("_") {
		t := Target{Discard: true}
		if p.acceptPunct(":") {
			t.Type = p.advance().text
		}
		return t, nil
	}
	if p.cur().kind != tokIdent {
		return Target{}, p.errf("expected target name")
	}
	name := p.advance().text
	if name == "_" {
		t := Target{Discard: true}
		if p.acceptPunct(":") {
			t.Type = p.advance().text
		}
		return t, nil
	}
	t := Target{Name: name}
	if p.acceptPunct(":") {
		t.Type = p.advance().text
	}
	return t, nil
}

// parseExpr parses one primary expression, then wraps it in a PipeExpr if
// one or more "| name(...)" stages follow.
func (p *parser) parseExpr() (Expr, error) {
	seed, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if !p.isPunct("|") {
		return seed, nil
	}
	var pipes []MDLPipeCall
	for p.acceptPunct("|") {
		if p.cur().kind != tokIdent {
			return nil, p.errf("expected pipe function name")
		}
		name := p.advance().text
		pc := MDLPipeCall{Name: name}
		if p.acceptPunct("(") {
			for !p.isPunct(")") {
				pc.Args = append(pc.Args, p.advance().text)
				if !p.acceptPunct(",") {
					break
				}
			}
			p.expectPunct(")")
		}
		pipes = append(pipes, pc)
	}
	return PipeExpr{Seed: seed, Pipes: pipes}, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	switch {
	case p.isIdent("read"), p.isIdent("take"):
		return p.parseReadTake()
	case p.isIdent("fmt"):
		return p.parseFmt()
	case p.isIdent("match"):
		return p.parseMatch()
	case p.isIdent("collect"):
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return CollectExpr{Inner: inner}, nil
	case p.isIdent("object"):
		p.advance()
		if err := p.expectPunct("{"); err != nil {
			return nil, err
		}
		var body []Statement
		for !p.isPunct("}") {
			st, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			body = append(body, st)
		}
		p.expectPunct("}")
		return ObjectExpr{Body: body}, nil
	case p.isIdent("select"):
		return p.parseSQL()
	}

	if p.cur().kind == tokIdent {
		name := p.cur().text
		// builtin call: Namespace::Name(args)
		if p.toks[min(p.pos+1, len(p.toks)-1)].kind == tokPunct && p.toks[min(p.pos+1, len(p.toks)-1)].text == "::" {
			p.advance()
			p.expectPunct("::")
			if p.cur().kind != tokIdent {
				return nil, p.errf("expected builtin function name")
			}
			fn := p.advance().text
			var args []Expr
			if p.acceptPunct("(") {
				for !p.isPunct(")") {
					a, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if !p.acceptPunct(",") {
						break
					}
				}
				p.expectPunct(")")
			}
			return BuiltinCallExpr{Namespace: name, Name: fn, Args: args}, nil
		}
		// typed literal: type(lit)
		if p.toks[min(p.pos+1, len(p.toks)-1)].kind == tokPunct && p.toks[min(p.pos+1, len(p.toks)-1)].text == "(" {
			p.advance()
			p.expectPunct("(")
			var litParts []string
			for !p.isPunct(")") {
				litParts = append(litParts, p.advance().text)
			}
			p.expectPunct(")")
			return LiteralExpr{TypeName: name, Lit: strings.Join(litParts, " ")}, nil
		}
		// bare identifier: a var_get reference
		p.advance()
		return VarGetExpr{Name: name}, nil
	}
	if p.cur().kind == tokString || p.cur().kind == tokNumber || p.cur().kind == tokPath {
		t := p.advance()
		return LiteralExpr{TypeName: "raw", Lit: t.text}, nil
	}
	return nil, p.errf("expected expression")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (p *parser) parseArgList() (ArgSpec, error) {
	var spec ArgSpec
	for !p.isPunct(")") {
		if p.cur().kind != tokIdent {
			return spec, p.errf("expected argument keyword")
		}
		kw := p.advance().text
		switch kw {
		case "option":
			p.expectPunct(":")
			p.expectPunct("[")
			for !p.isPunct("]") {
				spec.Option = append(spec.Option, p.advance().text)
				if !p.acceptPunct(",") {
					break
				}
			}
			p.expectPunct("]")
		case "keys":
			p.expectPunct(":")
			p.expectPunct("[")
			for !p.isPunct("]") {
				spec.Keys = append(spec.Keys, p.advance().text)
				if !p.acceptPunct(",") {
					break
				}
			}
			p.expectPunct("]")
		case "get":
			p.expectPunct(":")
			spec.Get = p.advance().text
		default:
			// bare key/path form: the identifier itself is the key.
			spec.Key = kw
		}
		if !p.acceptPunct(",") {
			break
		}
	}
	return spec, nil
}

func (p *parser) parseReadTake() (Expr, error) {
	take := p.cur().text == "take"
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	spec, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	re := ReadExpr{Take: take, Args: spec}
	if p.acceptPunct("{") {
		if err := p.expectPunct("_"); err != nil {
			// "_" may have lexed as ident in some configs; accept ident too
			if !p.isIdent("_") {
				return nil, p.errf("expected '_' in default body")
			}
			p.advance()
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		def, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		re.Default = def
		if err := p.expectPunct("}"); err != nil {
			return nil, err
		}
	}
	return re, nil
}

func (p *parser) parseFmt() (Expr, error) {
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	if p.cur().kind != tokString {
		return nil, p.errf("expected format string")
	}
	format := p.advance().text
	var args []Expr
	for p.acceptPunct(",") {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return FmtExpr{Format: format, Args: args}, nil
}

func (p *parser) parseMatch() (Expr, error) {
	p.advance()
	var scrutinee []Expr
	if p.acceptPunct("(") {
		for !p.isPunct(")") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			scrutinee = append(scrutinee, e)
			if !p.acceptPunct(",") {
				break
			}
		}
		p.expectPunct(")")
	} else {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		scrutinee = append(scrutinee, e)
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	me := MatchExpr{Scrutinee: scrutinee}
	for !p.isPunct("}") {
		if p.isIdent("_") || (p.cur().kind == tokPunct && p.cur().text == "_") {
			p.advance()
			p.expectPunct("=>")
			def, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			me.Default = def
		} else {
			cs, err := p.parseMatchCase()
			if err != nil {
				return nil, err
			}
			me.Cases = append(me.Cases, cs)
		}
		if !p.acceptPunct(",") {
			break
		}
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return me, nil
}

func (p *parser) parseMatchCase() (MatchCase, error) {
	var conds []Cond
	for {
		c, err := p.parseCond()
		if err != nil {
			return MatchCase{}, err
		}
		conds = append(conds, c)
		if !p.acceptPunct("|") {
			break
		}
	}
	if err := p.expectPunct("=>"); err != nil {
		return MatchCase{}, err
	}
	result, err := p.parseExpr()
	if err != nil {
		return MatchCase{}, err
	}
	return MatchCase{Conds: conds, Result: result}, nil
}

func (p *parser) parseCond() (Cond, error) {
	if p.isIdent("in") {
		p.advance()
		p.expectPunct("(")
		lo := p.advance().text
		p.expectPunct(",")
		hi := p.advance().text
		p.expectPunct(")")
		return Cond{IsRange: true, RangeLo: lo, RangeHi: hi}, nil
	}
	if p.cur().kind == tokIdent && matchFuncs[p.cur().text] {
		name := p.advance().text
		var args []string
		if p.acceptPunct("(") {
			for !p.isPunct(")") {
				args = append(args, p.advance().text)
				if !p.acceptPunct(",") {
					break
				}
			}
			p.expectPunct(")")
		}
		return Cond{FuncName: name, FuncArgs: args}, nil
	}
	// literal equality: type(lit)
	e, err := p.parsePrimary()
	if err != nil {
		return Cond{}, err
	}
	lit, ok := e.(LiteralExpr)
	if !ok {
		return Cond{}, p.errf("expected literal or function call in match condition")
	}
	return Cond{LiteralEq: &lit}, nil
}

func (p *parser) parseSQL() (Expr, error) {
	p.advance()
	var sql SQLExpr
	if p.acceptPunct("*") {
		sql.Cols = []string{"*"}
	} else {
		for {
			if p.cur().kind != tokIdent {
				return nil, p.errf("expected column name")
			}
			sql.Cols = append(sql.Cols, p.advance().text)
			if !p.acceptPunct(",") {
				break
			}
		}
	}
	if err := p.expectIdentWord("from"); err != nil {
		return nil, err
	}
	if p.cur().kind != tokIdent && p.cur().kind != tokPath {
		return nil, p.errf("expected table name")
	}
	sql.Table = p.advance().text
	if err := p.expectIdentWord("where"); err != nil {
		return nil, err
	}
	var parts []string
	for !p.isPunct(";") && !p.atEOF() {
		parts = append(parts, p.advance().text)
	}
	sql.Where = strings.Join(parts, " ")
	return sql, nil
}

// isPure reports whether expr has no dependency on per-record input
// (no read/take/now/rand), the condition for hoisting into the static
// constant pool at compile time.
func isPure(e Expr) bool {
	switch v := e.(type) {
	case LiteralExpr:
		return true
	case ReadExpr:
		return false
	case FmtExpr:
		for _, a := range v.Args {
			if !isPure(a) {
				return false
			}
		}
		return true
	case PipeExpr:
		return isPure(v.Seed)
	case VarGetExpr:
		return false
	case MatchExpr:
		return false
	case ObjectExpr:
		for _, st := range v.Body {
			if !isPure(st.Expr) {
				return false
			}
		}
		return true
	case CollectExpr:
		return isPure(v.Inner)
	case SQLExpr:
		return false
	case BuiltinCallExpr:
		if v.Namespace == "Now" {
			return false
		}
		for _, a := range v.Args {
			if !isPure(a) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
