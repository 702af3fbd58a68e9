package sinkrt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-labs/flowcore/pkg/record"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     [][][]byte
	failNext int
	syncErr  error
}

func (ft *fakeTransport) Send(ctx context.Context, encoded [][]byte) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.failNext > 0 {
		ft.failNext--
		return errors.New("transport unavailable")
	}
	ft.sent = append(ft.sent, encoded)
	return nil
}

func (ft *fakeTransport) Sync() error { return ft.syncErr }

func (ft *fakeTransport) sentBatches() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.sent)
}

func runtimeLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

func oneRecord(ruleID, name, value string) *record.Record {
	r := record.New(ruleID)
	r.Append(record.NewField(name, "chars", record.Chars(value)))
	return r
}

func TestSendPackageBypassesBufferWhenFullBatch(t *testing.T) {
	transport := &fakeTransport{}
	rt := NewRuntime(Config{Name: "t", BatchSize: 2, Format: FormatJSON}, transport, runtimeLogger())

	pkg := []*record.Record{oneRecord("r1", "a", "1"), oneRecord("r1", "b", "2")}
	require.NoError(t, rt.SendPackage(context.Background(), pkg))

	assert.Equal(t, 1, transport.sentBatches())
	sent, rescued := rt.Stats()
	assert.Equal(t, int64(2), sent)
	assert.Equal(t, int64(0), rescued)
}

func TestSendPackageBuffersUntilBatchSize(t *testing.T) {
	transport := &fakeTransport{}
	rt := NewRuntime(Config{Name: "t", BatchSize: 3, Format: FormatJSON}, transport, runtimeLogger())

	require.NoError(t, rt.SendPackage(context.Background(), []*record.Record{oneRecord("r1", "a", "1")}))
	assert.Equal(t, 0, transport.sentBatches(), "partial batch must not flush yet")

	require.NoError(t, rt.SendPackage(context.Background(), []*record.Record{
		oneRecord("r1", "b", "2"),
		oneRecord("r1", "c", "3"),
	}))
	assert.Equal(t, 1, transport.sentBatches(), "reaching batch_size must flush the buffer")
}

// TestSendPackageScenarioD reproduces spec.md §8 Scenario D literally:
// with batch_size=4, a 1-record package stays pending, a subsequent
// 4-record package bypasses and is written immediately without touching
// (or merging with) the still-pending 1-record package, and an explicit
// Flush afterward delivers that 1-record batch on its own.
func TestSendPackageScenarioD(t *testing.T) {
	transport := &fakeTransport{}
	rt := NewRuntime(Config{Name: "t", BatchSize: 4, Format: FormatJSON}, transport, runtimeLogger())

	require.NoError(t, rt.SendPackage(context.Background(), []*record.Record{oneRecord("r1", "a", "1")}))
	assert.Equal(t, 0, transport.sentBatches(), "a single record must stay pending, not flush")

	four := []*record.Record{
		oneRecord("r1", "b", "2"),
		oneRecord("r1", "c", "3"),
		oneRecord("r1", "d", "4"),
		oneRecord("r1", "e", "5"),
	}
	require.NoError(t, rt.SendPackage(context.Background(), four))
	assert.Equal(t, 1, transport.sentBatches(), "a full-sized package must bypass and send immediately")
	assert.Len(t, transport.sent[0], 4, "the bypassed batch must contain only the 4 new records, not the pending one")

	require.NoError(t, rt.Flush(context.Background()))
	assert.Equal(t, 2, transport.sentBatches(), "the explicit flush must deliver the still-pending 1-record batch")
	assert.Len(t, transport.sent[1], 1)
}

func TestDeliverRescuesOnPersistentFailure(t *testing.T) {
	dir := t.TempDir()
	transport := &fakeTransport{failNext: 10}
	rt := NewRuntime(Config{Name: "t", BatchSize: 1, Format: FormatJSON, RescueDir: dir, MaxRetries: 2}, transport, runtimeLogger())

	err := rt.SendPackage(context.Background(), []*record.Record{oneRecord("r1", "a", "1")})
	require.Error(t, err)

	sent, rescued := rt.Stats()
	assert.Equal(t, int64(0), sent)
	assert.Equal(t, int64(1), rescued)
}

func TestFlushTimerDrainsPendingBatch(t *testing.T) {
	transport := &fakeTransport{}
	rt := NewRuntime(Config{Name: "t", BatchSize: 10, FlushTimeout: 20 * time.Millisecond, Format: FormatJSON}, transport, runtimeLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt.StartFlushTimer(ctx)
	defer rt.StopFlushTimer()

	require.NoError(t, rt.SendPackage(context.Background(), []*record.Record{oneRecord("r1", "a", "1")}))

	require.Eventually(t, func() bool {
		return transport.sentBatches() == 1
	}, time.Second, 5*time.Millisecond, "timer-driven flush must eventually send the partial batch")
}

func TestStopFlushTimerIsIdempotentAndStopsGoroutine(t *testing.T) {
	transport := &fakeTransport{}
	rt := NewRuntime(Config{Name: "t", FlushTimeout: 5 * time.Millisecond, Format: FormatJSON}, transport, runtimeLogger())

	rt.StartFlushTimer(context.Background())
	rt.StopFlushTimer()
	rt.StopFlushTimer()
}

func TestDeliverTripsBreakerAfterRepeatedFailures(t *testing.T) {
	dir := t.TempDir()
	transport := &fakeTransport{failNext: 100}
	rt := NewRuntime(Config{Name: "t", BatchSize: 1, Format: FormatJSON, RescueDir: dir, MaxRetries: 1}, transport, runtimeLogger())

	for i := 0; i < 5; i++ {
		_ = rt.SendPackage(context.Background(), []*record.Record{oneRecord("r1", "a", "1")})
	}

	assert.Equal(t, BreakerOpen, rt.breaker.State())
}
