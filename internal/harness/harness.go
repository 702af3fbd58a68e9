// Package harness implements the engine's concurrency contract: one task
// per source, a pool of worker tasks running PDL match -> dispatch -> MDL
// transform -> sink send, and one task per sink, built around a bounded
// channel and a context-cancelable worker pool.
package harness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-labs/flowcore/internal/dispatch"
	"github.com/ssw-labs/flowcore/internal/sinkrt"
	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/eventid"
	"github.com/ssw-labs/flowcore/pkg/pdl"
)

// ruleSet bundles the compiled PDL rules and the dispatch router built
// against them, swapped as one unit so a worker never matches a payload
// against one rule generation and routes the result through another.
type ruleSet struct {
	rules  *pdl.Compiled
	router *dispatch.Router
}

// Event is one (rule_id, payload) submission from a source task, tagged
// with a correlation id at Submit time so a match/route failure can be
// traced back to the exact submission in logs and rescue files.
type Event struct {
	RuleID  string
	Payload []byte
	ID      eventid.ID
}

// Config controls worker pool sizing and shutdown behavior.
type Config struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Stats are the harness's cumulative counters, read under an RWMutex
// rather than atomics since all five fields are reported together.
type Stats struct {
	Submitted int64
	Matched   int64
	ParseErr  int64
	RouteErr  int64
	SinkErr   int64
}

// Harness owns the bounded submission channel, the worker pool draining
// it, and the set of sink runtimes records are ultimately handed to.
type Harness struct {
	config  Config
	logger  *logrus.Logger
	current atomic.Value // ruleSet
	sinks   map[string]*sinkrt.Runtime

	queue chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats

	closeOnce sync.Once
}

// New builds a Harness bound to a compiled rule set, a dispatch router,
// and the named sink runtimes the router's groups reference.
func New(config Config, rules *pdl.Compiled, router *dispatch.Router, sinks map[string]*sinkrt.Runtime, logger *logrus.Logger) *Harness {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		config: config,
		logger: logger,
		sinks:  sinks,
		queue:  make(chan Event, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	h.current.Store(ruleSet{rules: rules, router: router})
	return h
}

// UpdateRules swaps the active rule set and dispatch router atomically.
// In-flight events keep using whichever generation they already read;
// every event submitted afterward sees the new one. Callers (typically
// internal/reload) are responsible for validating rules before calling
// this, since a malformed pdl.Compiled would simply fail every match.
func (h *Harness) UpdateRules(rules *pdl.Compiled, router *dispatch.Router) {
	h.current.Store(ruleSet{rules: rules, router: router})
}

// Submit is the engine's single entry point for source tasks: it blocks
// if the bounded channel is full, so a slow worker pool applies
// backpressure all the way back to the source.
func (h *Harness) Submit(ruleID string, payload []byte) error {
	if h.ctx.Err() != nil {
		return apperr.Invariant("harness", "submit", "harness is shutting down, no new events accepted")
	}
	select {
	case h.queue <- Event{RuleID: ruleID, Payload: payload, ID: eventid.New()}:
		h.mu.Lock()
		h.stats.Submitted++
		h.mu.Unlock()
		return nil
	case <-h.ctx.Done():
		return apperr.Invariant("harness", "submit", "harness is shutting down, no new events accepted")
	}
}

// Start launches the configured number of worker tasks and, for each sink
// runtime, its timer-driven partial-batch flush.
func (h *Harness) Start() {
	for _, rt := range h.sinks {
		rt.StartFlushTimer(h.ctx)
	}
	for i := 0; i < h.config.Workers; i++ {
		h.wg.Add(1)
		go h.worker(i)
	}
	h.logger.WithField("workers", h.config.Workers).Info("harness started")
}

// worker pulls one event at a time, running the full match -> dispatch ->
// transform -> send pipeline. A record never crosses worker goroutines;
// ownership is linear for the duration of one event.
func (h *Harness) worker(id int) {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev, ok := <-h.queue:
			if !ok {
				return
			}
			h.processEvent(ev)
		}
	}
}

func (h *Harness) processEvent(ev Event) {
	rs := h.current.Load().(ruleSet)

	rule, ok := rs.rules.Lookup(ev.RuleID)
	if !ok {
		h.logger.WithField("rule_id", ev.RuleID).Debug("no compiled rule for rule_id, dropping event")
		return
	}

	result, err := pdl.Match(rule, ev.Payload)
	if err != nil {
		h.mu.Lock()
		h.stats.ParseErr++
		h.mu.Unlock()
		if ae, ok := apperr.As(err); ok && !ae.IsRecoverable() {
			h.logger.WithError(err).WithField("event_id", ev.ID).Error("invariant violation during match, worker restarting")
		}
		return
	}

	h.mu.Lock()
	h.stats.Matched++
	h.mu.Unlock()

	outcomes, err := rs.router.Route(result.Record)
	if err != nil {
		h.mu.Lock()
		h.stats.RouteErr++
		h.mu.Unlock()
		h.logger.WithError(err).WithField("event_id", ev.ID).Warn("dispatch routing failed")
		return
	}

	for _, oc := range outcomes {
		h.sendToGroup(oc)
	}
}

func (h *Harness) sendToGroup(oc dispatch.Outcome) {
	for _, sinkName := range oc.Sinks {
		rt, ok := h.sinks[sinkName]
		if !ok {
			h.logger.WithField("sink", sinkName).Warn("dispatch group references unknown sink")
			continue
		}
		if err := rt.SendPackage(h.ctx, oc.Records); err != nil {
			h.mu.Lock()
			h.stats.SinkErr++
			h.mu.Unlock()
			h.logger.WithError(err).WithField("sink", sinkName).Error("sink package send failed")
		}
	}
}

// Shutdown executes the two-phase cancellation contract: phase 1 stops
// accepting new submissions and signals workers to drain; phase 2 waits
// (bounded by config.DrainTimeout) for every sink runtime to flush its
// pending buffer, rescuing whatever remains at the deadline.
func (h *Harness) Shutdown(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.cancel()
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(h.config.DrainTimeout):
		h.logger.Warn("harness shutdown: worker drain deadline exceeded, proceeding to sink drain")
	case <-ctx.Done():
	}

	var firstErr error
	for name, rt := range h.sinks {
		if err := rt.DrainDeadline(ctx, h.config.DrainTimeout); err != nil {
			h.logger.WithError(err).WithField("sink", name).Error("sink drain failed during shutdown")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Stats returns a snapshot of the harness's cumulative counters.
func (h *Harness) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}
