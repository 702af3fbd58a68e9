package harness

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ssw-labs/flowcore/internal/dispatch"
	"github.com/ssw-labs/flowcore/pkg/pdl"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func emptyRules(t *testing.T) *pdl.Compiled {
	t.Helper()
	rules, diags, err := pdl.Compile("")
	require.NoError(t, err)
	require.Empty(t, diags)
	return rules
}

func TestHarnessSubmitUnmatchedRuleIsDroppedSilently(t *testing.T) {
	defer goleak.VerifyNone(t)

	rules := emptyRules(t)
	table := dispatch.NewTable()
	router := dispatch.NewRouter(table, testLogger(), nil)

	h := New(Config{Workers: 2, QueueSize: 8, DrainTimeout: time.Second}, rules, router, nil, testLogger())
	h.Start()

	require.NoError(t, h.Submit("unknown/rule", []byte("payload")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(0), stats.Matched)
}

func TestHarnessSubmitAfterShutdownIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	rules := emptyRules(t)
	table := dispatch.NewTable()
	router := dispatch.NewRouter(table, testLogger(), nil)

	h := New(Config{Workers: 1, QueueSize: 1, DrainTimeout: time.Second}, rules, router, nil, testLogger())
	h.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	err := h.Submit("anything", []byte("x"))
	assert.Error(t, err)
}

func TestHarnessUpdateRulesSwapsAtomically(t *testing.T) {
	defer goleak.VerifyNone(t)

	rules := emptyRules(t)
	table := dispatch.NewTable()
	router := dispatch.NewRouter(table, testLogger(), nil)

	h := New(Config{Workers: 1, QueueSize: 4, DrainTimeout: time.Second}, rules, router, nil, testLogger())
	h.Start()

	newRules := emptyRules(t)
	newTable := dispatch.NewTable()
	newRouter := dispatch.NewRouter(newTable, testLogger(), nil)
	h.UpdateRules(newRules, newRouter)

	require.NoError(t, h.Submit("still/unmatched", []byte("x")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
}
