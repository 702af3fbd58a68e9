package sinkrt

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestBreakerTripsAfterFailureThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, Timeout: time.Hour}, testBreakerLogger())

	assert.Error(t, b.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Error(t, b.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.Error(t, err)
	assert.False(t, called, "fn must not run while the breaker is open and before timeout")
}

func TestBreakerHalfOpenRecoversToClosed(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond}, testBreakerLogger())

	require.Error(t, b.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, BreakerHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond}, testBreakerLogger())

	require.Error(t, b.Execute(func() error { return errors.New("boom") }))
	time.Sleep(5 * time.Millisecond)

	require.Error(t, b.Execute(func() error { return errors.New("still down") }))
	assert.Equal(t, BreakerOpen, b.State())
}
