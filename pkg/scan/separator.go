package scan

import (
	"strings"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

// Separator is a compiled field/group boundary matcher. Shortcut
// separators ("\c\c...") are a literal byte set: the first occurrence of
// any listed byte terminates the field and is consumed. Pattern
// separators ("{...}") are a short glob over the bytes immediately
// following the field, with at most one "*" wildcard (non-greedy: the
// shortest run that lets the remainder of the pattern succeed) and an
// optional trailing "(...)" preserve group whose matched bytes are not
// consumed.
type Separator struct {
	shortcut     []byte
	pattern      []patElem
	preserveFrom int // index into pattern where the preserve group begins, -1 if none
}

type patElemKind byte

const (
	patLiteral patElemKind = iota
	patAny                 // ?
	patStar                // *
	patSpace               // \s  whitespace
	patHSpace              // \h  horizontal whitespace
	patNonSpace            // \S  non-whitespace
	patNonHSpace           // \H  non-horizontal-whitespace
)

type patElem struct {
	kind patElemKind
	lit  byte
}

// ParseShortcut builds a Separator from a sequence of "\c" escapes, e.g.
// `\,\;` denotes "comma or semicolon".
func ParseShortcut(text string) (Separator, error) {
	var set []byte
	i := 0
	for i < len(text) {
		if text[i] != '\\' || i+1 >= len(text) {
			return Separator{}, apperr.Compile("scan", "parse_shortcut_sep", "shortcut separator must be \\c pairs")
		}
		set = append(set, text[i+1])
		i += 2
	}
	if len(set) == 0 {
		return Separator{}, apperr.Compile("scan", "parse_shortcut_sep", "empty shortcut separator")
	}
	return Separator{shortcut: set, preserveFrom: -1}, nil
}

// ParsePattern builds a Separator from a "{...}" pattern body (the braces
// already stripped by the caller). At most one "*" is permitted; a
// trailing "(...)" is the preserve group.
func ParsePattern(body string) (Separator, error) {
	preserveFrom := -1
	preserveBody := ""
	if idx := strings.LastIndexByte(body, '('); idx >= 0 && strings.HasSuffix(body, ")") {
		preserveBody = body[idx+1 : len(body)-1]
		body = body[:idx]
	}
	elems, err := parsePatElems(body)
	if err != nil {
		return Separator{}, err
	}
	stars := 0
	for _, e := range elems {
		if e.kind == patStar {
			stars++
		}
	}
	if stars > 1 {
		return Separator{}, apperr.Compile("scan", "parse_pattern_sep", "at most one '*' wildcard allowed per pattern separator")
	}
	if preserveBody != "" {
		preserveFrom = len(elems)
		pElems, err := parsePatElems(preserveBody)
		if err != nil {
			return Separator{}, err
		}
		for _, e := range pElems {
			if e.kind == patStar {
				return Separator{}, apperr.Compile("scan", "parse_pattern_sep", "preserve group may not contain '*'")
			}
		}
		elems = append(elems, pElems...)
	}
	return Separator{pattern: elems, preserveFrom: preserveFrom}, nil
}

func parsePatElems(s string) ([]patElem, error) {
	var out []patElem
	i := 0
	for i < len(s) {
		switch s[i] {
		case '*':
			out = append(out, patElem{kind: patStar})
			i++
		case '?':
			out = append(out, patElem{kind: patAny})
			i++
		case '\\':
			if i+1 >= len(s) {
				return nil, apperr.Compile("scan", "parse_pattern_sep", "dangling escape in separator pattern")
			}
			switch s[i+1] {
			case 's':
				out = append(out, patElem{kind: patSpace})
			case 'h':
				out = append(out, patElem{kind: patHSpace})
			case 'S':
				out = append(out, patElem{kind: patNonSpace})
			case 'H':
				out = append(out, patElem{kind: patNonHSpace})
			default:
				out = append(out, patElem{kind: patLiteral, lit: s[i+1]})
			}
			i += 2
		default:
			out = append(out, patElem{kind: patLiteral, lit: s[i]})
			i++
		}
	}
	return out, nil
}

func matchElem(e patElem, b byte) bool {
	switch e.kind {
	case patLiteral:
		return b == e.lit
	case patAny:
		return true
	case patSpace:
		return b == ' ' || b == '\t' || b == '\n' || b == '\r'
	case patHSpace:
		return b == ' ' || b == '\t'
	case patNonSpace:
		return !(b == ' ' || b == '\t' || b == '\n' || b == '\r')
	case patNonHSpace:
		return !(b == ' ' || b == '\t')
	default:
		return false
	}
}

// matchFixed reports whether elems (none of which is patStar) match
// data[0:len(elems)] exactly, returning false if data is too short.
func matchFixed(elems []patElem, data []byte) bool {
	if len(data) < len(elems) {
		return false
	}
	for i, e := range elems {
		if !matchElem(e, data[i]) {
			return false
		}
	}
	return true
}

// TakeUntilSep consumes up to and including sep, returning the slice
// before it. preserved holds any bytes matched by a trailing preserve
// group, which remain unconsumed (the cursor is left positioned at the
// start of preserved).
func (c *Cursor) TakeUntilSep(sep Separator) (value []byte, preserved []byte, err error) {
	start := c.pos
	if len(sep.shortcut) > 0 {
		for i := c.pos; i < len(c.buf); i++ {
			for _, s := range sep.shortcut {
				if c.buf[i] == s {
					value = c.buf[start:i]
					c.pos = i + 1
					return value, nil, nil
				}
			}
		}
		c.pos = start
		return nil, nil, notMatched(start, "shortcut separator")
	}

	elems := sep.pattern
	if sep.preserveFrom < 0 {
		sep.preserveFrom = len(elems)
	}
	mainElems := elems[:sep.preserveFrom]
	preserveElems := elems[sep.preserveFrom:]

	starIdx := -1
	for i, e := range mainElems {
		if e.kind == patStar {
			starIdx = i
			break
		}
	}

	tryMatchAt := func(pos int) (matchedLen int, ok bool) {
		if starIdx < 0 {
			full := append(append([]patElem{}, mainElems...), preserveElems...)
			if matchFixed(full, c.buf[pos:]) {
				return len(mainElems), true
			}
			return 0, false
		}
		before := mainElems[:starIdx]
		after := mainElems[starIdx+1:]
		if !matchFixed(before, c.buf[pos:]) {
			return 0, false
		}
		afterStart := pos + len(before)
		tailNeeded := append(append([]patElem{}, after...), preserveElems...)
		for k := 0; ; k++ {
			cand := afterStart + k
			if cand+len(tailNeeded) > len(c.buf) {
				return 0, false
			}
			if matchFixed(tailNeeded, c.buf[cand:]) {
				return len(before) + k + len(after), true
			}
		}
	}

	for i := c.pos; i <= len(c.buf); i++ {
		if mLen, ok := tryMatchAt(i); ok {
			value = c.buf[start:i]
			consumedEnd := i + mLen
			if len(preserveElems) > 0 {
				preserved = c.buf[consumedEnd : consumedEnd+len(preserveElems)]
			}
			c.pos = consumedEnd
			return value, preserved, nil
		}
	}
	c.pos = start
	return nil, nil, notMatched(start, "pattern separator")
}
