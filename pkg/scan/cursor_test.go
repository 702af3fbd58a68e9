package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorTakeLiteral(t *testing.T) {
	c := New([]byte("GET /foo HTTP/1.1"))
	require.NoError(t, c.TakeLiteral("GET "))
	assert.Equal(t, 4, c.Pos())

	err := c.TakeLiteral("POST")
	assert.Error(t, err)
	assert.Equal(t, 4, c.Pos(), "failed match must not advance the cursor")
}

func TestCursorTakeNumberI64(t *testing.T) {
	c := New([]byte("-42rest"))
	n, err := c.TakeNumberI64()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), n)
	assert.Equal(t, []byte("rest"), c.Remaining())
}

func TestCursorTakeNumberF64(t *testing.T) {
	c := New([]byte("3.14e2 "))
	f, err := c.TakeNumberF64()
	require.NoError(t, err)
	assert.InDelta(t, 314.0, f, 0.0001)
}

func TestCursorTakeQuoted(t *testing.T) {
	c := New([]byte(`"a\"b" tail`))
	got, err := c.TakeQuoted('"', '"')
	require.NoError(t, err)
	assert.Equal(t, `a\"b`, string(got))
	assert.Equal(t, []byte(" tail"), c.Remaining())
}

func TestCursorTakeScoped(t *testing.T) {
	c := New([]byte(`[06/Aug/2019:12:12:19 +0800] tail`))
	got, err := c.TakeScoped("[", "]")
	require.NoError(t, err)
	assert.Equal(t, "06/Aug/2019:12:12:19 +0800", string(got))
	assert.Equal(t, []byte(" tail"), c.Remaining())
}

func TestCursorTakeScopedMissingClose(t *testing.T) {
	c := New([]byte(`[unterminated`))
	_, err := c.TakeScoped("[", "]")
	assert.Error(t, err)
	assert.Equal(t, 0, c.Pos(), "failed match must not advance the cursor")
}

func TestCursorCloneIsIndependent(t *testing.T) {
	c := New([]byte("abcdef"))
	_, _ = c.TakeN(2)
	clone := c.Clone()
	_, _ = clone.TakeN(2)

	assert.Equal(t, 2, c.Pos())
	assert.Equal(t, 4, clone.Pos())
}

func TestCursorEof(t *testing.T) {
	c := New([]byte("ab"))
	assert.False(t, c.Eof())
	_, _ = c.TakeN(2)
	assert.True(t, c.Eof())
}
