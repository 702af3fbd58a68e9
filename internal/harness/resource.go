package harness

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// ResourceConfig controls the harness's background resource sampler, the
// concurrency model's "shared resources are immutable" contract extended
// with live visibility into the one thing that does change: per-process
// load.
type ResourceConfig struct {
	Enabled            bool          `yaml:"enabled"`
	CheckInterval       time.Duration `yaml:"check_interval"`
	GoroutineThreshold int           `yaml:"goroutine_threshold"`
	MemoryThresholdMB  int64         `yaml:"memory_threshold_mb"`
}

func (c *ResourceConfig) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 15 * time.Second
	}
	if c.GoroutineThreshold <= 0 {
		c.GoroutineThreshold = 20000
	}
	if c.MemoryThresholdMB <= 0 {
		c.MemoryThresholdMB = 4096
	}
}

// ResourceSample is one point-in-time read of process load, used to decide
// whether the harness should shed load (the degradation signal upstream
// components consult before increasing worker counts or queue depths).
type ResourceSample struct {
	Timestamp    time.Time
	Goroutines   int
	MemoryRSSMB  int64
	CPUPercent   float64
	OpenFDs      int32
}

// ResourceMonitor samples process-level CPU/memory/FD usage on an
// interval, grounded on gopsutil rather than hand-rolled /proc parsing so
// the same code runs on darwin test machines and linux production hosts
// alike.
type ResourceMonitor struct {
	config ResourceConfig
	logger *logrus.Logger
	proc   *process.Process

	mu   sync.RWMutex
	last ResourceSample

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResourceMonitor binds a ResourceMonitor to the current process.
func NewResourceMonitor(config ResourceConfig, logger *logrus.Logger) (*ResourceMonitor, error) {
	config.applyDefaults()
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ResourceMonitor{config: config, logger: logger, proc: p, ctx: ctx, cancel: cancel}, nil
}

// Start launches the sampling loop; a no-op when disabled.
func (m *ResourceMonitor) Start() {
	if !m.config.Enabled {
		return
	}
	m.wg.Add(1)
	go m.loop()
}

func (m *ResourceMonitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *ResourceMonitor) sample() {
	sample := ResourceSample{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	if pct, err := m.proc.CPUPercent(); err == nil {
		sample.CPUPercent = pct
	}
	if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
		sample.MemoryRSSMB = int64(mem.RSS / (1024 * 1024))
	}
	if fds, err := m.proc.NumFDs(); err == nil {
		sample.OpenFDs = fds
	}
	_, _ = cpu.Percent(0, false) // warms the host-wide sampler for the next call

	m.mu.Lock()
	m.last = sample
	m.mu.Unlock()

	if sample.Goroutines > m.config.GoroutineThreshold {
		m.logger.WithField("goroutines", sample.Goroutines).Warn("resource monitor: goroutine count above threshold")
	}
	if sample.MemoryRSSMB > m.config.MemoryThresholdMB {
		m.logger.WithField("memory_rss_mb", sample.MemoryRSSMB).Warn("resource monitor: RSS above threshold")
	}
}

// Last returns the most recent sample (zero value before the first tick).
func (m *ResourceMonitor) Last() ResourceSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Stop halts the sampling loop and waits for it to exit.
func (m *ResourceMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}
