package mdl

import (
	"strconv"
	"strings"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokPath
	tokString
	tokNumber
	tokPunct // includes multi-char operators: "=>", "::", "---"
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
}

func newLexer(src string) *lexer { return &lexer{src: src, line: 1, col: 1} }

func (l *lexer) loc() string {
	return "line " + strconv.Itoa(l.line) + ", column " + strconv.Itoa(l.col)
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
	l.skipTrivia()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line, col: l.col}, nil
	}
	sl, sc := l.line, l.col
	b := l.peek()

	if b == '-' && l.peekAt(1) == '-' && l.peekAt(2) == '-' {
		l.advance()
		l.advance()
		l.advance()
		return token{kind: tokPunct, text: "---", line: sl, col: sc}, nil
	}
	if b == '=' && l.peekAt(1) == '>' {
		l.advance()
		l.advance()
		return token{kind: tokPunct, text: "=>", line: sl, col: sc}, nil
	}
	if b == ':' && l.peekAt(1) == ':' {
		l.advance()
		l.advance()
		return token{kind: tokPunct, text: "::", line: sl, col: sc}, nil
	}
	if b == '/' {
		start := l.pos
		for l.pos < len(l.src) && (isIdentPart(l.peek()) || l.peek() == '/' || l.peek() == '*') {
			l.advance()
		}
		return token{kind: tokPath, text: l.src[start:l.pos], line: sl, col: sc}, nil
	}
	if b == '\'' || b == '"' {
		quote := b
		l.advance()
		start := l.pos
		for l.pos < len(l.src) && l.peek() != quote {
			if l.peek() == '\\' {
				l.advance()
			}
			if l.pos < len(l.src) {
				l.advance()
			}
		}
		if l.pos >= len(l.src) {
			return token{}, apperr.Compile("mdl", "lex", "unterminated string literal").WithLocation(l.loc())
		}
		text := l.src[start:l.pos]
		l.advance()
		return token{kind: tokString, text: text, line: sl, col: sc}, nil
	}
	if b >= '0' && b <= '9' {
		start := l.pos
		for l.pos < len(l.src) && (l.peek() >= '0' && l.peek() <= '9' || l.peek() == '.') {
			l.advance()
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], line: sl, col: sc}, nil
	}
	if isIdentStart(b) {
		start := l.pos
		for l.pos < len(l.src) && isIdentPart(l.peek()) {
			l.advance()
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], line: sl, col: sc}, nil
	}
	if strings.IndexByte("{}()[],;:|*?#@<>=.", b) >= 0 {
		l.advance()
		return token{kind: tokPunct, text: string(b), line: sl, col: sc}, nil
	}
	l.advance()
	return token{kind: tokPunct, text: string(b), line: sl, col: sc}, nil
}
