package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGetAndRemove(t *testing.T) {
	r := New("rule-1")
	r.Append(NewField("host", "chars", Chars("web-1")))
	r.Append(NewField("status", "digit", Digit(200)))

	v, ok := r.Get("status")
	require.True(t, ok)
	n, _ := v.Digit()
	assert.Equal(t, int64(200), n)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	removed, ok := r.Remove("host")
	require.True(t, ok)
	s, _ := removed.Chars()
	assert.Equal(t, "web-1", s)
	assert.Equal(t, []string{"status"}, r.Names())
}

func TestRecordTemporaryFieldFilter(t *testing.T) {
	r := New("rule-1")
	r.Append(NewField("__scratch", "chars", Chars("x")))
	r.Append(NewField("kept", "chars", Chars("y")))
	require.True(t, r.HasTemp)

	r.ApplyTemporaryFilter()

	v, ok := r.Get("__scratch")
	require.True(t, ok)
	assert.True(t, v.IsIgnore())

	v, ok = r.Get("kept")
	require.True(t, ok)
	assert.False(t, v.IsIgnore())
}

func TestRecordClone(t *testing.T) {
	r := New("rule-1")
	r.Append(NewField("a", "digit", Digit(1)))

	clone := r.Clone()
	clone.Append(NewField("b", "digit", Digit(2)))

	assert.Len(t, r.Fields, 1)
	assert.Len(t, clone.Fields, 2)
}

func TestIndexedName(t *testing.T) {
	assert.Equal(t, "tag[0]", IndexedName("tag", 0))
	assert.Equal(t, "tag[3]", IndexedName("tag", 3))
}
