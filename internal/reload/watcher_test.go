package reload

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-labs/flowcore/internal/dispatch"
	"github.com/ssw-labs/flowcore/pkg/pdl"
)

type fakeUpdater struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeUpdater) UpdateRules(rules *pdl.Compiled, router *dispatch.Router) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeUpdater) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestWatcherRecompilesOnWrite(t *testing.T) {
	dir := t.TempDir()
	rulePath := filepath.Join(dir, "rules.pdl")
	require.NoError(t, os.WriteFile(rulePath, []byte(""), 0o644))

	updater := &fakeUpdater{}
	compile := func() (*pdl.Compiled, *dispatch.Table, error) {
		rules, _, err := pdl.Compile("")
		if err != nil {
			return nil, nil, err
		}
		return rules, dispatch.NewTable(), nil
	}

	w, err := New(Config{Enabled: true, DebounceInterval: 50 * time.Millisecond}, []string{rulePath}, compile, updater, nil, testLogger())
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(rulePath, []byte("\n"), 0o644))

	require.Eventually(t, func() bool {
		return updater.callCount() >= 1
	}, 2*time.Second, 20*time.Millisecond, "expected at least one rule swap after file write")
}

func TestWatcherDisabledNeverStarts(t *testing.T) {
	dir := t.TempDir()
	rulePath := filepath.Join(dir, "rules.pdl")
	require.NoError(t, os.WriteFile(rulePath, []byte(""), 0o644))

	updater := &fakeUpdater{}
	compile := func() (*pdl.Compiled, *dispatch.Table, error) {
		rules, _, err := pdl.Compile("")
		return rules, dispatch.NewTable(), err
	}

	w, err := New(Config{Enabled: false}, []string{rulePath}, compile, updater, nil, testLogger())
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(rulePath, []byte("\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, updater.callCount())
}
