// Package scan implements zero-copy, position-cursor byte scanners used by
// the PDL matcher. Every scanner either advances the cursor and returns a
// slice of the input (sharing the input's backing array, never copying)
// or leaves the cursor untouched and returns an error.
package scan

import (
	"bytes"
	"strconv"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

// Cursor is a position marker over an immutable byte slice. Cursors are
// cheap to clone (copy the struct) — the matcher clones a Cursor at the
// entry of every opt/alt/not branch so a failed branch can roll back
// without mutating the parent's position.
type Cursor struct {
	buf []byte
	pos int
}

// New wraps buf at position 0.
func New(buf []byte) *Cursor { return &Cursor{buf: buf} }

// Pos returns the current byte offset.
func (c *Cursor) Pos() int { return c.pos }

// Buf returns the full backing slice (for error context / sub-slicing).
func (c *Cursor) Buf() []byte { return c.buf }

// Seek resets the cursor to an absolute offset (used for rollback).
func (c *Cursor) Seek(pos int) { c.pos = pos }

// Clone returns an independent cursor over the same backing array.
func (c *Cursor) Clone() *Cursor { return &Cursor{buf: c.buf, pos: c.pos} }

// Eof reports whether the cursor has consumed the entire input.
func (c *Cursor) Eof() bool { return c.pos >= len(c.buf) }

// Remaining returns the unconsumed tail, a sub-slice of buf.
func (c *Cursor) Remaining() []byte { return c.buf[c.pos:] }

func notMatched(pos int, expected string) *apperr.Error {
	return apperr.NotMatched("scan", "match", "unexpected input").
		WithMetadata("position", pos).
		WithMetadata("expected", expected)
}

// TakeLiteral advances past lit if the remaining input starts with it.
func (c *Cursor) TakeLiteral(lit string) error {
	if len(c.buf)-c.pos < len(lit) {
		return notMatched(c.pos, lit)
	}
	if string(c.buf[c.pos:c.pos+len(lit)]) != lit {
		return notMatched(c.pos, lit)
	}
	c.pos += len(lit)
	return nil
}

// PeekLiteral reports whether lit is the immediate prefix without
// consuming it.
func (c *Cursor) PeekLiteral(lit string) bool {
	if len(c.buf)-c.pos < len(lit) {
		return false
	}
	return string(c.buf[c.pos:c.pos+len(lit)]) == lit
}

// PeekByte returns the next byte without consuming it.
func (c *Cursor) PeekByte() (byte, bool) {
	if c.Eof() {
		return 0, false
	}
	return c.buf[c.pos], true
}

// TakeByte consumes and returns exactly one byte.
func (c *Cursor) TakeByte() (byte, error) {
	if c.Eof() {
		return 0, notMatched(c.pos, "any byte")
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// TakeN consumes exactly n bytes and returns the slice.
func (c *Cursor) TakeN(n int) ([]byte, error) {
	if len(c.buf)-c.pos < n {
		return nil, notMatched(c.pos, strconv.Itoa(n)+" bytes")
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

// TakeWhile consumes the longest run (possibly empty) for which pred
// returns true, returning the consumed slice.
func (c *Cursor) TakeWhile(pred func(byte) bool) []byte {
	start := c.pos
	for c.pos < len(c.buf) && pred(c.buf[c.pos]) {
		c.pos++
	}
	return c.buf[start:c.pos]
}

// TakeNumberI64 scans an optionally-signed decimal integer with overflow
// checking.
func (c *Cursor) TakeNumberI64() (int64, error) {
	start := c.pos
	neg := false
	if b, ok := c.PeekByte(); ok && (b == '+' || b == '-') {
		neg = b == '-'
		c.pos++
	}
	digitsStart := c.pos
	digits := c.TakeWhile(isDigit)
	if len(digits) == 0 {
		c.pos = start
		return 0, notMatched(start, "decimal integer")
	}
	n, err := strconv.ParseInt(string(c.buf[digitsStart:c.pos]), 10, 64)
	if err != nil {
		c.pos = start
		return 0, apperr.NotMatched("scan", "take_number_i64", "integer overflow").WithMetadata("position", start)
	}
	if neg {
		n = -n
	}
	return n, nil
}

// TakeNumberF64 scans an optionally-signed decimal float.
func (c *Cursor) TakeNumberF64() (float64, error) {
	start := c.pos
	if b, ok := c.PeekByte(); ok && (b == '+' || b == '-') {
		c.pos++
	}
	intPart := c.TakeWhile(isDigit)
	hasFrac := false
	if b, ok := c.PeekByte(); ok && b == '.' {
		save := c.pos
		c.pos++
		frac := c.TakeWhile(isDigit)
		if len(frac) == 0 {
			c.pos = save
		} else {
			hasFrac = true
		}
	}
	if len(intPart) == 0 && !hasFrac {
		c.pos = start
		return 0, notMatched(start, "decimal float")
	}
	if b, ok := c.PeekByte(); ok && (b == 'e' || b == 'E') {
		save := c.pos
		c.pos++
		if b2, ok := c.PeekByte(); ok && (b2 == '+' || b2 == '-') {
			c.pos++
		}
		exp := c.TakeWhile(isDigit)
		if len(exp) == 0 {
			c.pos = save
		}
	}
	f, err := strconv.ParseFloat(string(c.buf[start:c.pos]), 64)
	if err != nil {
		c.pos = start
		return 0, notMatched(start, "decimal float")
	}
	return f, nil
}

// TakeHexU64 scans exactly digits hex characters (or, if digits<=0, the
// longest run of hex characters) into a uint64.
func (c *Cursor) TakeHexU64(digits int) (uint64, error) {
	start := c.pos
	var raw []byte
	if digits > 0 {
		var err error
		raw, err = c.TakeN(digits)
		if err != nil {
			return 0, err
		}
		for _, b := range raw {
			if !isHex(b) {
				c.pos = start
				return 0, notMatched(start, "hex digit")
			}
		}
	} else {
		raw = c.TakeWhile(isHex)
		if len(raw) == 0 {
			return 0, notMatched(start, "hex digits")
		}
	}
	n, err := strconv.ParseUint(string(raw), 16, 64)
	if err != nil {
		c.pos = start
		return 0, notMatched(start, "hex digits")
	}
	return n, nil
}

// TakeQuoted expects open, captures up to the matching close (honoring
// backslash escapes), and consumes close.
func (c *Cursor) TakeQuoted(open, close byte) ([]byte, error) {
	start := c.pos
	if err := c.TakeLiteral(string(open)); err != nil {
		return nil, err
	}
	contentStart := c.pos
	for c.pos < len(c.buf) {
		b := c.buf[c.pos]
		if b == '\\' && c.pos+1 < len(c.buf) {
			c.pos += 2
			continue
		}
		if b == close {
			content := c.buf[contentStart:c.pos]
			c.pos++
			return content, nil
		}
		c.pos++
	}
	c.pos = start
	return nil, notMatched(start, "closing quote "+string(close))
}

// TakeScoped expects the literal prefix l, captures everything up to the
// first (non-nested) occurrence of r, and consumes r. Unlike a separator,
// the captured content may itself contain separator bytes (e.g. the space
// inside a "<[,]>"-scoped bracketed timestamp).
func (c *Cursor) TakeScoped(l, r string) ([]byte, error) {
	start := c.pos
	if err := c.TakeLiteral(l); err != nil {
		return nil, err
	}
	contentStart := c.pos
	idx := bytes.Index(c.buf[c.pos:], []byte(r))
	if idx < 0 {
		c.pos = start
		return nil, notMatched(start, "closing scope "+r)
	}
	content := c.buf[contentStart : contentStart+idx]
	c.pos = contentStart + idx + len(r)
	return content, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isHex(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
