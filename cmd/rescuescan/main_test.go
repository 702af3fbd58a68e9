package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-labs/flowcore/internal/sinkrt"
)

func TestScanRescueDirCountsRecordsPerSink(t *testing.T) {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(discardWriter{})
	rescuer := sinkrt.NewRescuer(dir, logger)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := rescuer.Write("kafka-main", [][]byte{[]byte("a"), []byte("b")}, sinkrt.RescueFlagNone, at)
	require.NoError(t, err)
	_, err = rescuer.Write("file-backup", [][]byte{[]byte("c")}, sinkrt.RescueFlagNone, at)
	require.NoError(t, err)

	stats, err := scanRescueDir(dir)
	require.NoError(t, err)

	require.Contains(t, stats, "kafka-main")
	assert.Equal(t, 2, stats["kafka-main"].LineCount)
	assert.Equal(t, 1, stats["kafka-main"].FileCount)

	require.Contains(t, stats, "file-backup")
	assert.Equal(t, 1, stats["file-backup"].LineCount)
}

func TestScanRescueDirSkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	sinkDir := filepath.Join(dir, "broken-sink")
	require.NoError(t, os.MkdirAll(sinkDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sinkDir, "bad.dat"), []byte{1, 2, 3}, 0o644))

	stats, err := scanRescueDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, stats["broken-sink"].FileCount)
	assert.Equal(t, 0, stats["broken-sink"].LineCount)
}

func TestScanRescueDirMissingDirErrors(t *testing.T) {
	_, err := scanRescueDir(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
