package sinkrt

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BreakerState is one of the three canonical circuit-breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig controls a Breaker's trip/recovery thresholds.
type BreakerConfig struct {
	Name             string        `yaml:"name"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Breaker fails fast around a sink's transport send once consecutive
// failures cross FailureThreshold, rather than burning a send attempt's
// worth of latency (and, for network transports, its timeout) on every
// record while the downstream sink is known to be down. Complements the
// rescue-on-failure path in Runtime.deliver: Execute returning an error
// sends straight to rescue without spending a network round trip.
// Grounded on the teacher's pkg/circuit.Breaker, trimmed to the three-state
// machine without callback hooks (the sink runtime only needs the
// trip/allow decision, not pluggable notification).
type Breaker struct {
	config BreakerConfig
	logger *logrus.Logger

	mu            sync.Mutex
	state         BreakerState
	failures      int
	halfOpenOK    int
	nextRetryTime time.Time
}

// NewBreaker builds a Breaker in the closed state.
func NewBreaker(config BreakerConfig, logger *logrus.Logger) *Breaker {
	config.applyDefaults()
	return &Breaker{config: config, logger: logger, state: BreakerClosed}
}

// Execute runs fn if the breaker allows it, recording the outcome. When
// the breaker is open and the timeout has not elapsed, fn is not called
// and Execute returns immediately with an error naming the breaker.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is open", b.config.Name)
		}
		b.setStateLocked(BreakerHalfOpen)
		b.halfOpenOK = 0
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == BreakerHalfOpen || b.failures >= b.config.FailureThreshold {
			b.tripLocked()
		}
		return err
	}
	if b.state == BreakerHalfOpen {
		b.halfOpenOK++
		if b.halfOpenOK >= b.config.SuccessThreshold {
			b.setStateLocked(BreakerClosed)
			b.failures = 0
		}
	} else if b.failures > 0 {
		b.failures--
	}
	return nil
}

func (b *Breaker) tripLocked() {
	b.setStateLocked(BreakerOpen)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)
}

func (b *Breaker) setStateLocked(s BreakerState) {
	if b.state == s {
		return
	}
	old := b.state
	b.state = s
	b.logger.WithFields(logrus.Fields{
		"breaker":   b.config.Name,
		"old_state": old,
		"new_state": s,
	}).Info("sink circuit breaker state changed")
}

// State reports the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
