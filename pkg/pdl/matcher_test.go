package pdl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compileOne compiles src and returns the single expected rule, failing
// the test on any compile error or diagnostic.
func compileOne(t *testing.T, src, ruleID string) *Rule {
	t.Helper()
	c, diags, err := Compile(src)
	require.NoError(t, err)
	require.Empty(t, diags)
	r, ok := c.Lookup(ruleID)
	require.True(t, ok, "rule %s not found in compiled document", ruleID)
	return r
}

// TestMatchNginxAccessLog exercises spec scenario A: typed extraction of
// an nginx access log line, including the bracket-scoped timestamp and
// quote-scoped request fields.
func TestMatchNginxAccessLog(t *testing.T) {
	src := `
package nginx {
	rule /nginx/access_log {
		seq(
			ip:client_ip{\s},
			_{\s},
			_{\s},
			time/clf:time<[,]>{\s},
			chars:request""{\s},
			digit:status{\s},
			digit:bytes
		)
	}
}
`
	rule := compileOne(t, src, "/nginx/access_log")
	payload := []byte(`192.168.1.2 - - [06/Aug/2019:12:12:19 +0800] "GET /index.html HTTP/1.1" 200 1024`)

	res, err := Match(rule, payload)
	require.NoError(t, err)
	require.False(t, res.Incomplete)

	rec := res.Record
	ip, ok := rec.Get("client_ip")
	require.True(t, ok)
	ipAddr, ok := ip.IPAddr()
	require.True(t, ok)
	assert.Equal(t, "192.168.1.2", ipAddr.String())

	req, ok := rec.Get("request")
	require.True(t, ok)
	reqStr, _ := req.Chars()
	assert.Equal(t, "GET /index.html HTTP/1.1", reqStr)

	status, ok := rec.Get("status")
	require.True(t, ok)
	n, _ := status.Digit()
	assert.Equal(t, int64(200), n)

	bytesField, ok := rec.Get("bytes")
	require.True(t, ok)
	n, _ = bytesField.Digit()
	assert.Equal(t, int64(1024), n)

	ts, ok := rec.Get("time")
	require.True(t, ok)
	_, isTS := ts.TimeStamp()
	assert.True(t, isTS)
}

// TestMatchDeterministic checks the quantified invariant from spec §8:
// matching the same rule against the same bytes twice yields
// byte-identical field vectors.
func TestMatchDeterministic(t *testing.T) {
	src := `
package nginx {
	rule /nginx/access_log {
		seq(
			ip:client_ip{\s},
			_{\s},
			_{\s},
			time/clf:time<[,]>{\s},
			chars:request""{\s},
			digit:status{\s},
			digit:bytes
		)
	}
}
`
	rule := compileOne(t, src, "/nginx/access_log")
	payload := []byte(`192.168.1.2 - - [06/Aug/2019:12:12:19 +0800] "GET /index.html HTTP/1.1" 200 1024`)

	res1, err := Match(rule, payload)
	require.NoError(t, err)
	res2, err := Match(rule, payload)
	require.NoError(t, err)

	require.Equal(t, len(res1.Record.Fields), len(res2.Record.Fields))
	for i := range res1.Record.Fields {
		assert.Equal(t, res1.Record.Fields[i].Name, res2.Record.Fields[i].Name)
		assert.True(t, res1.Record.Fields[i].Value.Equal(res2.Record.Fields[i].Value))
	}
}

// TestMatchKVFirewallLog exercises spec scenario B: a KV-bodied payload
// parsed field by field with shortcut comma separators.
func TestMatchKVFirewallLog(t *testing.T) {
	src := `
package firewall {
	rule /firewall/event {
		seq(
			digit:id\,,
			chars:timestamp\,,
			chars:serial\,,
			kv:body
		)
	}
}
`
	rule := compileOne(t, src, "/firewall/event")
	payload := []byte(`1234,2023-01-01T12:00:00,ABC123,LOGIN:host=server;user=admin,port=8080,action=success`)

	res, err := Match(rule, payload)
	require.NoError(t, err)

	id, ok := res.Record.Get("id")
	require.True(t, ok)
	n, _ := id.Digit()
	assert.Equal(t, int64(1234), n)

	ts, ok := res.Record.Get("timestamp")
	require.True(t, ok)
	s, _ := ts.Chars()
	assert.Equal(t, "2023-01-01T12:00:00", s)

	serial, ok := res.Record.Get("serial")
	require.True(t, ok)
	s, _ = serial.Chars()
	assert.Equal(t, "ABC123", s)

	body, ok := res.Record.Get("body")
	require.True(t, ok)
	obj, ok := body.Object()
	require.True(t, ok)
	_, hasPort := obj.Get("port")
	assert.True(t, hasPort)
}

// TestMatchKVDuplicateKeysIndexed checks spec.md §3/§4.3's rule that
// duplicate KV keys become uniformly indexed "key[0]", "key[1]", ...
// starting at 0 — including the first occurrence, not just the second
// one onward.
func TestMatchKVDuplicateKeysIndexed(t *testing.T) {
	src := `
package t {
	rule /t/kvdup {
		seq(kv:body)
	}
}
`
	rule := compileOne(t, src, "/t/kvdup")
	res, err := Match(rule, []byte("a=1,a=2,b=3"))
	require.NoError(t, err)

	body, ok := res.Record.Get("body")
	require.True(t, ok)
	obj, ok := body.Object()
	require.True(t, ok)

	_, bare := obj.Get("a")
	assert.False(t, bare, "a duplicate key must not keep a bare-name occurrence")

	a0, ok := obj.Get("a[0]")
	require.True(t, ok)
	s, _ := a0.Chars()
	assert.Equal(t, "1", s)

	a1, ok := obj.Get("a[1]")
	require.True(t, ok)
	s, _ = a1.Chars()
	assert.Equal(t, "2", s)

	b, ok := obj.Get("b")
	require.True(t, ok, "a key with a single occurrence keeps its bare name")
	s, _ = b.Chars()
	assert.Equal(t, "3", s)
}

// TestMatchOptAbsorbsFailure checks the opt-group rollback contract: a
// failing optional group produces no fields and leaves the cursor at its
// entry position.
func TestMatchOptAbsorbsFailure(t *testing.T) {
	src := `
package t {
	rule /t/opt {
		opt(digit:maybe{\s}),
		seq(chars:rest)
	}
}
`
	rule := compileOne(t, src, "/t/opt")
	res, err := Match(rule, []byte("not-a-digit"))
	require.NoError(t, err)

	_, ok := res.Record.Get("maybe")
	assert.False(t, ok)
	rest, ok := res.Record.Get("rest")
	require.True(t, ok)
	s, _ := rest.Chars()
	assert.Equal(t, "not-a-digit", s)
}

// TestMatchNotGroup checks the not(F) contract: success iff F fails, with
// a single Ignore-typed field produced on success and an error otherwise.
func TestMatchNotGroup(t *testing.T) {
	src := `
package t {
	rule /t/notgrp {
		not(digit:x),
		seq(chars:rest)
	}
}
`
	rule := compileOne(t, src, "/t/notgrp")

	res, err := Match(rule, []byte("abc"))
	require.NoError(t, err)
	v, ok := res.Record.Get("x")
	require.True(t, ok)
	assert.True(t, v.IsIgnore())

	_, err = Match(rule, []byte("123"))
	assert.Error(t, err)
}

// TestMatchNotPipe checks the pipe-level "| not(...)" wrapper and its
// recursive double-negation collapse: not(not(f)) must have the same
// success/fail outcome as f alone, leaving the field intact when f
// succeeds without mutating it, per spec.md §8's testable property.
func TestMatchNotPipe(t *testing.T) {
	src := `
package t {
	rule /t/notpipe {
		seq(chars:x|not(chars_has("bar")))
	}
	rule /t/notnotpipe {
		seq(chars:y|not(not(chars_has("foo"))))
	}
}
`
	c, diags, err := Compile(src)
	require.NoError(t, err)
	require.Empty(t, diags)

	notRule, ok := c.Lookup("/t/notpipe")
	require.True(t, ok)

	res, err := Match(notRule, []byte("foo"))
	require.NoError(t, err)
	v, ok := res.Record.Get("x")
	require.True(t, ok)
	assert.True(t, v.IsIgnore(), "not(chars_has(bar)) must set the field to Ignore on success")

	_, err = Match(notRule, []byte("bar"))
	assert.Error(t, err, "not(chars_has(bar)) must fail when the inner call matches")

	notnotRule, ok := c.Lookup("/t/notnotpipe")
	require.True(t, ok)

	res, err = Match(notnotRule, []byte("foo"))
	require.NoError(t, err)
	v, ok = res.Record.Get("y")
	require.True(t, ok)
	s, sok := v.Chars()
	require.True(t, sok)
	assert.Equal(t, "foo", s, "not(not(chars_has(foo))) must leave a successfully matched field intact")

	_, err = Match(notnotRule, []byte("bar"))
	assert.Error(t, err, "not(not(chars_has(foo))) must fail exactly like chars_has(foo) alone")
}

// TestMatchSomeOf checks that some_of repeats until no child matches and
// requires at least one field produced.
func TestMatchSomeOf(t *testing.T) {
	src := `
package t {
	rule /t/someof {
		some_of(digit:n\,)
	}
}
`
	rule := compileOne(t, src, "/t/someof")
	res, err := Match(rule, []byte("1,2,3,"))
	require.NoError(t, err)
	got := res.Record.GetAll("n")
	require.Len(t, got, 3)

	_, err = Match(rule, []byte("abc"))
	assert.Error(t, err)
}

// TestMatchTemporaryFieldRewrite checks that "__"-prefixed fields are
// rewritten to Ignore once the rule finishes matching.
func TestMatchTemporaryFieldRewrite(t *testing.T) {
	src := `
package t {
	rule /t/temp {
		seq(chars:__scratch\,, chars:kept)
	}
}
`
	rule := compileOne(t, src, "/t/temp")
	res, err := Match(rule, []byte("discard,keepme"))
	require.NoError(t, err)

	v, ok := res.Record.Get("__scratch")
	require.True(t, ok)
	assert.True(t, v.IsIgnore())

	v, ok = res.Record.Get("kept")
	require.True(t, ok)
	s, _ := v.Chars()
	assert.Equal(t, "keepme", s)
}

// TestMatchRuleIncompletePolicy checks the three-way unconsumed-bytes
// policy: error/warn/silent.
func TestMatchRuleIncompletePolicy(t *testing.T) {
	errSrc := `
package t {
	#[rule_incomplete(policy:error)]
	rule /t/incomplete_err {
		seq(chars:a\,)
	}
}
`
	rule := compileOne(t, errSrc, "/t/incomplete_err")
	_, err := Match(rule, []byte("a,leftover"))
	assert.Error(t, err)

	warnSrc := `
package t {
	rule /t/incomplete_warn {
		seq(chars:a\,)
	}
}
`
	rule = compileOne(t, warnSrc, "/t/incomplete_warn")
	res, err := Match(rule, []byte("a,leftover"))
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
}
