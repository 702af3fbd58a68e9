package pdl

import (
	"strconv"
	"strings"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/scan"
)

var reservedWords = map[string]bool{
	"package": true, "rule": true, "alt": true, "opt": true,
	"some_of": true, "seq": true, "not": true, "array": true,
	"static": true, "match": true, "select": true, "from": true, "where": true,
}

type parser struct {
	toks []token
	pos  int
}

// Parse lexes and parses a full PDL document (one or more package blocks).
func Parse(src string) (*Document, error) {
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
	return p.parseDocument()
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
	return apperr.Compile("pdl", "parse", msg).
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

func (p *parser) expectIdent(word string) error {
	if p.cur().kind == tokIdent && p.cur().text == word {
		p.advance()
		return nil
	}
	return p.errf("expected '" + word + "'")
}

func (p *parser) parseDocument() (*Document, error) {
	doc := &Document{}
	for !p.atEOF() {
		p.skipAnnotations()
		if p.cur().kind != tokIdent || p.cur().text != "package" {
			return nil, p.errf("expected 'package'")
		}
		pkg, err := p.parsePackage()
		if err != nil {
			return nil, err
		}
		doc.Packages = append(doc.Packages, pkg)
	}
	return doc, nil
}

// skipAnnotations consumes zero or more "#[...]" markers preceding a
// package/rule declaration, returning the parsed list.
func (p *parser) skipAnnotations() []Annotation {
	var out []Annotation
	for p.cur().kind == tokPunct && p.cur().text == "#" {
		p.advance()
		p.expectPunct("[")
		ann := Annotation{KV: map[string]string{}}
		if p.cur().kind == tokIdent {
			ann.Tag = p.advance().text
		}
		if p.acceptPunct("(") {
			for !p.acceptPunct(")") {
				if p.cur().kind != tokIdent {
					break
				}
				key := p.advance().text
				p.expectPunct(":")
				val := p.advance().text
				ann.KV[key] = val
				if ann.Tag == "copy_raw" {
					ann.CopyRaw = val
				}
				p.acceptPunct(",")
			}
		}
		p.expectPunct("]")
		out = append(out, ann)
	}
	return out
}

func (p *parser) parsePackage() (Package, error) {
	p.expectIdent("package")
	if p.cur().kind != tokIdent {
		return Package{}, p.errf("expected package name")
	}
	name := p.advance().text
	if err := p.expectPunct("{"); err != nil {
		return Package{}, err
	}
	pkg := Package{Name: name}
	for !(p.cur().kind == tokPunct && p.cur().text == "}") {
		anns := p.skipAnnotations()
		rule, err := p.parseRule(anns)
		if err != nil {
			return Package{}, err
		}
		pkg.Rules = append(pkg.Rules, rule)
	}
	p.expectPunct("}")
	return pkg, nil
}

func (p *parser) parseRule(anns []Annotation) (Rule, error) {
	if err := p.expectIdent("rule"); err != nil {
		return Rule{}, err
	}
	if p.cur().kind != tokPath {
		return Rule{}, p.errf("expected rule path")
	}
	path := p.advance().text
	if err := p.expectPunct("{"); err != nil {
		return Rule{}, err
	}
	r := Rule{Path: path, Annotations: anns, IncompletePolicy: IncompleteWarn}
	for _, a := range anns {
		if a.Tag == "rule_incomplete" {
			if v, ok := a.KV["policy"]; ok {
				r.IncompletePolicy = IncompletePolicy(v)
			}
		}
	}

	if p.cur().kind == tokPunct && p.cur().text == "|" {
		preproc, err := p.parsePreproc()
		if err != nil {
			return Rule{}, err
		}
		r.Preproc = preproc
	}

	for {
		g, err := p.parseGroup()
		if err != nil {
			return Rule{}, err
		}
		r.Groups = append(r.Groups, g)
		if !p.acceptPunct(",") {
			break
		}
	}
	if err := p.expectPunct("}"); err != nil {
		return Rule{}, err
	}
	r.NoTemporaries = computeNoTemporaries(r.Groups)
	return r, nil
}

func (p *parser) parsePreproc() ([]PreprocStep, error) {
	p.expectPunct("|")
	var steps []PreprocStep
	for {
		if p.cur().kind != tokIdent {
			return nil, p.errf("expected preprocessing step name")
		}
		ns := p.advance().text
		if err := p.expectPunct("/"); err != nil {
			return nil, err
		}
		if p.cur().kind != tokIdent {
			return nil, p.errf("expected preprocessing step key")
		}
		key := p.advance().text
		if ns == "plg_pipe" {
			steps = append(steps, PreprocStep{Namespace: ns, PluginKey: key})
		} else {
			steps = append(steps, PreprocStep{Namespace: ns, Name: key})
		}
		if !p.acceptPunct("|") {
			return nil, p.errf("unterminated preprocessing pipeline")
		}
		if p.cur().kind == tokIdent {
			continue
		}
		break
	}
	return steps, nil
}

func (p *parser) parseGroup() (GroupNode, error) {
	g := GroupNode{Meta: MetaSeq, Length: -1}
	if p.cur().kind == tokIdent {
		switch GroupMeta(p.cur().text) {
		case MetaAlt, MetaOpt, MetaSomeOf, MetaSeq, MetaNot:
			g.Meta = GroupMeta(p.advance().text)
		}
	}
	if err := p.expectPunct("("); err != nil {
		return GroupNode{}, err
	}
	for !(p.cur().kind == tokPunct && p.cur().text == ")") {
		f, err := p.parseField()
		if err != nil {
			return GroupNode{}, err
		}
		g.Fields = append(g.Fields, f)
		if !p.acceptPunct(",") {
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return GroupNode{}, err
	}
	if p.acceptPunct("[") {
		if p.cur().kind != tokNumber {
			return GroupNode{}, p.errf("expected group length bound")
		}
		n, _ := strconv.Atoi(p.advance().text)
		g.Length = n
		if err := p.expectPunct("]"); err != nil {
			return GroupNode{}, err
		}
	}
	if sep, ok, err := p.tryParseSep(); err != nil {
		return GroupNode{}, err
	} else if ok {
		g.Sep = &sep
	}
	return g, nil
}

func (p *parser) parseField() (FieldNode, error) {
	f := FieldNode{FieldCnt: -1}
	if p.acceptPunct("*") {
		f.Repeat = true
	}
	typ, err := p.parseType()
	if err != nil {
		return FieldNode{}, err
	}
	f.Type = typ

	// Only structured types take a declared sub-field list; for every
	// other type a "{" here opens a pattern separator instead (parsed
	// below by tryParseSep), not a sub-field block.
	structured := typ.Name == "json" || typ.Name == "obj" || typ.Name == "kv" || typ.Name == "kvarr" || typ.Name == "array"
	if structured && p.acceptPunct("{") {
		for !(p.cur().kind == tokPunct && p.cur().text == "}") {
			p.acceptPunct("@")
			sub, err := p.parseField()
			if err != nil {
				return FieldNode{}, err
			}
			f.SubFields = append(f.SubFields, sub)
			if !p.acceptPunct(",") {
				break
			}
		}
		if err := p.expectPunct("}"); err != nil {
			return FieldNode{}, err
		}
	}

	if p.acceptPunct(":") {
		if p.cur().kind != tokIdent {
			return FieldNode{}, p.errf("expected field name after ':'")
		}
		f.Name = p.advance().text
	}

	if p.acceptPunct("^") {
		if p.cur().kind != tokNumber {
			return FieldNode{}, p.errf("expected number after '^'")
		}
		n, _ := strconv.Atoi(p.advance().text)
		f.FieldCnt = n
	}

	// An empty string token here is the lexed form of a bare `""` quote
	// marker: since `"` itself opens string-literal lexing, the quote
	// format shorthand is written as two adjacent quote characters with
	// nothing between them, which the lexer already tokenizes as an
	// empty tokString.
	if p.cur().kind == tokString && p.cur().text == "" {
		p.advance()
		f.Format = &Format{HasQuote: true, Quote: '"'}
	} else if p.cur().kind == tokPunct && p.cur().text == "<" {
		fmtv, err := p.parseScope()
		if err != nil {
			return FieldNode{}, err
		}
		f.Format = &fmtv
	}

	if sep, ok, err := p.tryParseSep(); err != nil {
		return FieldNode{}, err
	} else if ok {
		f.Sep = &sep
	}

	for p.cur().kind == tokPunct && p.cur().text == "|" {
		pc, err := p.parsePipeCall()
		if err != nil {
			return FieldNode{}, err
		}
		f.Pipes = append(f.Pipes, pc)
	}

	return f, nil
}

func (p *parser) parseScope() (Format, error) {
	p.expectPunct("<")
	l := p.advance().text
	p.expectPunct(",")
	r := p.advance().text
	p.expectPunct(">")
	return Format{HasScope: true, ScopeL: l, ScopeR: r}, nil
}

func (p *parser) parseType() (DataType, error) {
	if p.cur().kind == tokIdent && p.cur().text == "array" {
		p.advance()
		dt := DataType{Name: "array"}
		if p.acceptPunct("/") {
			sub, err := p.parseType()
			if err != nil {
				return DataType{}, err
			}
			dt.ArrayOf = &sub
		}
		return dt, nil
	}
	if p.cur().kind != tokIdent {
		return DataType{}, p.errf("expected type name")
	}
	name := p.advance().text
	if p.acceptPunct("/") {
		if p.cur().kind != tokIdent {
			return DataType{}, p.errf("expected type name after namespace")
		}
		sub := p.advance().text
		return DataType{Namespace: name, Name: sub}, nil
	}
	return DataType{Name: name}, nil
}

func (p *parser) tryParseSep() (scan.Separator, bool, error) {
	if p.cur().kind == tokPunct && p.cur().text == "\\" {
		var sb strings.Builder
		for p.cur().kind == tokPunct && p.cur().text == "\\" {
			p.advance()
			if p.atEOF() {
				return scan.Separator{}, false, p.errf("dangling '\\' in shortcut separator")
			}
			sb.WriteByte('\\')
			sb.WriteString(p.advance().text)
		}
		sep, err := scan.ParseShortcut(sb.String())
		return sep, true, err
	}
	if p.cur().kind == tokPunct && p.cur().text == "{" {
		p.advance()
		var sb strings.Builder
		for !(p.cur().kind == tokPunct && p.cur().text == "}") {
			if p.atEOF() {
				return scan.Separator{}, false, p.errf("unterminated pattern separator")
			}
			sb.WriteString(p.advance().text)
		}
		p.expectPunct("}")
		sep, err := scan.ParsePattern(sb.String())
		return sep, true, err
	}
	return scan.Separator{}, false, nil
}

func (p *parser) parsePipeCall() (PipeCall, error) {
	p.expectPunct("|")
	return p.parseNotOrCall()
}

// parseNotOrCall handles "not(...)" wrapping recursively, so that a
// nested "not(not(f))" parses as a negation of a negation rather than
// tokenizing the inner "not(f)" as a call to a literal function named
// "not". Each layer flips PipeCall.Neg, so double negation collapses
// back to the bare inner call (Neg=false) — same success/fail outcome
// as running the inner call directly, with no forced Ignore-on-success.
func (p *parser) parseNotOrCall() (PipeCall, error) {
	if p.cur().kind == tokIdent && p.cur().text == "not" {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return PipeCall{}, err
		}
		inner, err := p.parseNotOrCall()
		if err != nil {
			return PipeCall{}, err
		}
		if err := p.expectPunct(")"); err != nil {
			return PipeCall{}, err
		}
		inner.Neg = !inner.Neg
		return inner, nil
	}
	return p.parsePipeCallBody()
}

func (p *parser) parsePipeCallBody() (PipeCall, error) {
	if p.cur().kind != tokIdent {
		return PipeCall{}, p.errf("expected pipe function name")
	}
	name := p.advance().text
	pc := PipeCall{Name: name}
	if p.acceptPunct("(") {
		for !(p.cur().kind == tokPunct && p.cur().text == ")") {
			pc.Args = append(pc.Args, p.parseArgLiteral())
			if !p.acceptPunct(",") {
				break
			}
		}
		if err := p.expectPunct(")"); err != nil {
			return PipeCall{}, err
		}
	}
	return pc, nil
}

func (p *parser) parseArgLiteral() string {
	t := p.advance()
	return t.text
}

// computeNoTemporaries is the compile-time hint used to skip the
// temporary-rewrite pass entirely when a rule declares no "__" fields.
func computeNoTemporaries(groups []GroupNode) bool {
	var scanFields func([]FieldNode) bool
	scanFields = func(fields []FieldNode) bool {
		for _, f := range fields {
			if strings.HasPrefix(f.Name, "__") {
				return true
			}
			if scanFields(f.SubFields) {
				return true
			}
		}
		return false
	}
	for _, g := range groups {
		if scanFields(g.Fields) {
			return false
		}
	}
	return true
}
