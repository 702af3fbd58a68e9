package sinkrt

import (
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRescueWriteThenScanRoundTrip(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(nullWriter{})
	rescuer := NewRescuer(t.TempDir(), logger)

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	batch := [][]byte{[]byte("line one"), []byte("line two"), []byte("line three")}

	path, err := rescuer.Write("kafka-main", batch, RescueFlagRetry, at)
	require.NoError(t, err)
	require.FileExists(t, path)
	assert.Contains(t, path, "2026/03/04")

	entries, err := Scan(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, want := range batch {
		assert.Equal(t, want, entries[i].Payload)
		assert.Equal(t, RescueFlagRetry, entries[i].Flags)
		assert.Equal(t, at.UnixMicro(), entries[i].TimestampUs)
	}
}

func TestScanRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/truncated.dat"
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := Scan(path)
	assert.Error(t, err)
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
