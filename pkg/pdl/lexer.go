package pdl

import (
	"strings"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokPath   // /a/b style rule ids and patterns
	tokString // "..."
	tokNumber
	tokPunct // single-char punctuation: { } ( ) [ ] , ; : | * ? # @ ^ < >
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

type lexer struct {
	src  string
	pos  int
	line int
	col  int

	// prevKind/prevText track the previously emitted token so next() can
	// tell a rule-path lead-in ("rule /a/b") from a namespace separator
	// inside a type name ("time/clf"): only the former starts multi-segment
	// path scanning on '/'.
	prevKind tokenKind
	prevText string
}

func newLexer(src string) *lexer { return &lexer{src: src, line: 1, col: 1} }

func (l *lexer) loc() string {
	return "line " + itoa(l.line) + ", column " + itoa(l.col)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func (l *lexer) advance() byte {
	b := l.src[l.pos]
	l.pos++
	if b == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return b
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
func isIdentPart(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9') || b == '-'
}

func (l *lexer) skipTrivia() {
	for l.pos < len(l.src) {
		b := l.peek()
		if b == ' ' || b == '\t' || b == '\r' || b == '\n' {
			l.advance()
			continue
		}
		if b == '/' && l.peekAt(1) == '/' {
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}
}

func (l *lexer) next() (token, error) {
	t, err := l.scan()
	if err != nil {
		return t, err
	}
	l.prevKind, l.prevText = t.kind, t.text
	return t, nil
}

func (l *lexer) scan() (token, error) {
	l.skipTrivia()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line, col: l.col}, nil
	}
	startLine, startCol := l.line, l.col
	b := l.peek()

	// A '/' only leads a multi-segment rule path ("rule /a/b") right after
	// the "rule" keyword; elsewhere (e.g. "time/clf") it is the namespace
	// separator punctuation consumed one segment at a time by the parser.
	if b == '/' && l.prevKind == tokIdent && l.prevText == "rule" {
		start := l.pos
		for l.pos < len(l.src) && (isIdentPart(l.peek()) || l.peek() == '/' || l.peek() == '*') {
			l.advance()
		}
		return token{kind: tokPath, text: l.src[start:l.pos], line: startLine, col: startCol}, nil
	}
	if b == '"' {
		l.advance()
		start := l.pos
		for l.pos < len(l.src) && l.peek() != '"' {
			if l.peek() == '\\' {
				l.advance()
			}
			if l.pos < len(l.src) {
				l.advance()
			}
		}
		if l.pos >= len(l.src) {
			return token{}, apperr.Compile("pdl", "lex", "unterminated string literal").WithLocation(l.loc())
		}
		text := l.src[start:l.pos]
		l.advance() // closing quote
		return token{kind: tokString, text: text, line: startLine, col: startCol}, nil
	}
	if b >= '0' && b <= '9' {
		start := l.pos
		for l.pos < len(l.src) && (l.peek() >= '0' && l.peek() <= '9' || l.peek() == '.') {
			l.advance()
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], line: startLine, col: startCol}, nil
	}
	if isIdentStart(b) {
		start := l.pos
		for l.pos < len(l.src) && isIdentPart(l.peek()) {
			l.advance()
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], line: startLine, col: startCol}, nil
	}
	if strings.IndexByte("{}()[],;:|*?#@^<>=\\.", b) >= 0 {
		l.advance()
		return token{kind: tokPunct, text: string(b), line: startLine, col: startCol}, nil
	}
	// default: consume single unrecognized byte as punctuation-ish to keep
	// the lexer total; the parser will reject it with proper context.
	l.advance()
	return token{kind: tokPunct, text: string(b), line: startLine, col: startCol}, nil
}
