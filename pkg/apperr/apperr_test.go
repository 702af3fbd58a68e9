package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetKindAndDefaultSeverity(t *testing.T) {
	cases := []struct {
		err      *Error
		wantKind Kind
		wantSev  Severity
	}{
		{Compile("pdl", "parse", "bad token"), KindCompile, SeverityCritical},
		{NotMatched("scan", "match", "no match"), KindNotMatched, SeverityLow},
		{Transform("mdl", "eval", "bad pipe"), KindTransform, SeverityHigh},
		{SinkIO("sinkrt", "send", "write failed"), KindSinkIO, SeverityMedium},
		{Invariant("harness", "submit", "shutting down"), KindInvariant, SeverityCritical},
	}
	for _, c := range cases {
		assert.Equal(t, c.wantKind, c.err.Kind)
		assert.Equal(t, c.wantSev, c.err.Severity)
	}
}

func TestErrorWrapAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := SinkIO("sinkrt", "flush", "batch send failed").Wrap(cause)

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "disk full")
}

func TestAsUnwrapsChain(t *testing.T) {
	inner := Invariant("harness", "submit", "shutting down")
	wrapped := errorsWrap(inner)

	found, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindInvariant, found.Kind)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func errorsWrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func TestIsRecoverable(t *testing.T) {
	assert.False(t, Invariant("h", "op", "x").IsRecoverable())
	assert.False(t, Compile("p", "op", "x").IsRecoverable())
	assert.True(t, Transform("m", "op", "x").IsRecoverable())
}

func TestWithMetadataAndToMap(t *testing.T) {
	e := NotMatched("scan", "match", "bad").WithMetadata("position", 12)
	m := e.ToMap()
	assert.Equal(t, 12, m["error_meta_position"])
	assert.Equal(t, "not_matched", m["error_kind"])
}
