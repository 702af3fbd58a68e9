package scan

// TakeJSONValue returns the exact byte range of one JSON value (object,
// array, string, number, literal) starting at the cursor, without
// building a parsed representation — callers that need structure
// (sub-field extraction) re-scan the returned slice with a JSON decoder;
// this scanner only finds the value's boundaries so the bytes can be
// shared with the input rather than copied.
func (c *Cursor) TakeJSONValue() ([]byte, error) {
	start := c.pos
	c.skipWS()
	if c.Eof() {
		c.pos = start
		return nil, notMatched(start, "json value")
	}
	valStart := c.pos
	if err := c.skipJSONValue(); err != nil {
		c.pos = start
		return nil, err
	}
	return c.buf[valStart:c.pos], nil
}

func (c *Cursor) skipWS() {
	c.TakeWhile(func(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' })
}

func (c *Cursor) skipJSONValue() error {
	b, ok := c.PeekByte()
	if !ok {
		return notMatched(c.pos, "json value")
	}
	switch {
	case b == '{':
		return c.skipJSONBracketed('{', '}')
	case b == '[':
		return c.skipJSONBracketed('[', ']')
	case b == '"':
		_, err := c.TakeQuoted('"', '"')
		return err
	case b == '-' || isDigit(b):
		start := c.pos
		if _, err := c.TakeNumberF64(); err != nil {
			if _, err2 := c.TakeNumberI64(); err2 != nil {
				c.pos = start
				return notMatched(start, "json number")
			}
		}
		return nil
	case c.PeekLiteral("true"):
		c.pos += 4
		return nil
	case c.PeekLiteral("false"):
		c.pos += 5
		return nil
	case c.PeekLiteral("null"):
		c.pos += 4
		return nil
	default:
		return notMatched(c.pos, "json value")
	}
}

func (c *Cursor) skipJSONBracketed(open, close byte) error {
	start := c.pos
	if err := c.TakeLiteral(string(open)); err != nil {
		return err
	}
	c.skipWS()
	if b, ok := c.PeekByte(); ok && b == close {
		c.pos++
		return nil
	}
	for {
		if close == '}' {
			c.skipWS()
			if _, err := c.TakeQuoted('"', '"'); err != nil {
				c.pos = start
				return malformedCompound(start, "expected object key")
			}
			c.skipWS()
			if err := c.TakeLiteral(":"); err != nil {
				c.pos = start
				return malformedCompound(start, "expected ':' after object key")
			}
		}
		c.skipWS()
		if err := c.skipJSONValue(); err != nil {
			c.pos = start
			return malformedCompound(start, "malformed json value")
		}
		c.skipWS()
		b, ok := c.PeekByte()
		if !ok {
			c.pos = start
			return malformedCompound(start, "unterminated json compound")
		}
		if b == ',' {
			c.pos++
			c.skipWS()
			continue
		}
		if b == close {
			c.pos++
			return nil
		}
		c.pos = start
		return malformedCompound(start, "expected ',' or closing bracket")
	}
}

func malformedCompound(pos int, msg string) error {
	return notMatched(pos, msg)
}

// TakeKVPair scans "key<sep>value" where sep is any byte in sepSet,
// returning the two slices. The pair itself is terminated by whitespace
// or end of input; callers combine this with a separator for the pairs
// themselves (e.g. ";" or ",").
func (c *Cursor) TakeKVPair(sepSet []byte) (key, val []byte, err error) {
	start := c.pos
	isSep := func(b byte) bool {
		for _, s := range sepSet {
			if b == s {
				return true
			}
		}
		return false
	}
	key = c.TakeWhile(func(b byte) bool { return !isSep(b) && b != ' ' && b != '\t' && b != '\n' })
	if len(key) == 0 {
		c.pos = start
		return nil, nil, notMatched(start, "kv key")
	}
	b, ok := c.PeekByte()
	if !ok || !isSep(b) {
		c.pos = start
		return nil, nil, notMatched(start, "kv separator")
	}
	c.pos++
	val = c.TakeWhile(func(b byte) bool { return b != ' ' && b != '\t' && b != '\n' && b != ';' && b != ',' })
	return key, val, nil
}
