package dispatch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestMissSinkDisabledWriteIsNoOp(t *testing.T) {
	ms := NewMissSink(MissConfig{Enabled: false}, discardLogger())
	ms.Write(MissEntry{RuleID: "x"})
	assert.Equal(t, int64(0), ms.Stats().TotalEntries)
}

func TestMissSinkWritesJSONLEntries(t *testing.T) {
	dir := t.TempDir()
	ms := NewMissSink(MissConfig{Enabled: true, Directory: dir}, discardLogger())

	cause := apperr.Transform("mdl", "run", "boom")
	ms.Write(entryFromError("/nginx/access", "m1", cause))
	ms.Write(entryFromError("/nginx/access", "m1", cause))

	stats := ms.Stats()
	assert.Equal(t, int64(2), stats.TotalEntries)

	ms.Stop()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var decoded MissEntry
	lines := splitLines(data)
	require.Len(t, lines, 2)
	require.NoError(t, json.Unmarshal(lines[0], &decoded))
	assert.Equal(t, "/nginx/access", decoded.RuleID)
	assert.Equal(t, "transform", decoded.ErrorKind)
	assert.Equal(t, "boom", decoded.Message)
}

func splitLines(b []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	return out
}

func TestMissSinkPrunesFilesOlderThanRetention(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "miss-old.jsonl")
	require.NoError(t, os.WriteFile(stale, []byte("{}\n"), 0o644))
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, old, old))

	ms := NewMissSink(MissConfig{Enabled: true, Directory: dir, RetentionDays: 1, MaxFileSizeMB: 1}, discardLogger())
	ms.Write(MissEntry{RuleID: "x"})
	ms.Stop()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestAlertManagerCooldownSuppressesRepeatedAlerts(t *testing.T) {
	ms := NewMissSink(MissConfig{Enabled: true, Directory: t.TempDir()}, discardLogger())
	am := NewAlertManager(AlertConfig{
		Enabled:                   true,
		CheckInterval:             time.Hour,
		CooldownPeriod:            time.Hour,
		EntriesPerMinuteThreshold: 1,
	}, ms, discardLogger())

	am.trigger(AlertHighEntryRate, "first")
	first := am.lastAlerts[AlertHighEntryRate]
	am.trigger(AlertHighEntryRate, "second")
	second := am.lastAlerts[AlertHighEntryRate]
	assert.Equal(t, first, second)
}
