// Package sources implements the engine's event producers: components that
// read external input (files, container log streams) and call
// harness.Submit(rule_id, payload) once per discovered record boundary.
// Dispatch/transform/send is the harness's job, so a source only tails
// and submits raw payloads.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nxadm/tail"
	"github.com/sirupsen/logrus"
)

// Submitter is the subset of harness.Harness a source needs: the bounded
// ingestion entry point. Kept as a narrow interface so sources can be unit
// tested without constructing a full Harness.
type Submitter interface {
	Submit(ruleID string, payload []byte) error
}

// FileSourceConfig names the files to tail and the rule_id each is
// associated with, plus where to persist read offsets across restarts.
type FileSourceConfig struct {
	Paths        []string      `yaml:"paths"`
	RuleID       string        `yaml:"rule_id"`
	PositionFile string        `yaml:"position_file"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c *FileSourceConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.PositionFile == "" {
		c.PositionFile = "flowcore-positions.json"
	}
}

// FileSource tails a fixed set of files with github.com/nxadm/tail, chosen
// for its inode-rotation-safe ReOpen/Follow behavior, and submits each
// emitted line as one event.
type FileSource struct {
	config    FileSourceConfig
	submitter Submitter
	logger    *logrus.Logger

	positions *positionStore

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewFileSource builds a FileSource bound to submitter.
func NewFileSource(config FileSourceConfig, submitter Submitter, logger *logrus.Logger) (*FileSource, error) {
	config.applyDefaults()
	ps, err := loadPositionStore(config.PositionFile)
	if err != nil {
		return nil, err
	}
	return &FileSource{config: config, submitter: submitter, logger: logger, positions: ps}, nil
}

// Start launches one tail goroutine per configured path.
func (fs *FileSource) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	fs.cancel = cancel

	for _, path := range fs.config.Paths {
		t, err := tail.TailFile(path, tail.Config{
			Follow:    true,
			ReOpen:    true,
			MustExist: false,
			Poll:      true,
			Location:  fs.positions.locationFor(path),
			Logger:    tail.DiscardingLogger,
		})
		if err != nil {
			cancel()
			return fmt.Errorf("file source: tail %s: %w", path, err)
		}
		fs.wg.Add(1)
		go fs.consume(ctx, path, t)
	}
	return nil
}

func (fs *FileSource) consume(ctx context.Context, path string, t *tail.Tail) {
	defer fs.wg.Done()
	var offset int64
	if loc := fs.positions.locationFor(path); loc != nil {
		offset = loc.Offset
	}
	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				fs.logger.WithError(line.Err).WithField("path", path).Warn("file source: tail read error")
				continue
			}
			offset += int64(len(line.Text)) + 1
			if err := fs.submitter.Submit(fs.config.RuleID, []byte(line.Text)); err != nil {
				fs.logger.WithError(err).WithField("path", path).Warn("file source: submit failed, harness shutting down")
				continue
			}
			fs.positions.update(path, offset)
		}
	}
}

// Stop cancels all tail goroutines, waits for them to exit, and persists
// final offsets.
func (fs *FileSource) Stop() error {
	if fs.cancel != nil {
		fs.cancel()
	}
	fs.wg.Wait()
	return fs.positions.save()
}

// positionStore is a minimal JSON-file offset tracker: it exists so a
// restarted source resumes tailing from where it left off instead of
// re-reading whole files, with no buffering or backpressure machinery
// since there is no central position API server here to protect.
type positionStore struct {
	mu   sync.Mutex
	path string
	data map[string]int64
}

func loadPositionStore(path string) (*positionStore, error) {
	ps := &positionStore{path: path, data: map[string]int64{}}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ps, nil
		}
		return nil, fmt.Errorf("position store: read failed: %w", err)
	}
	if len(b) == 0 {
		return ps, nil
	}
	if err := json.Unmarshal(b, &ps.data); err != nil {
		return nil, fmt.Errorf("position store: decode failed: %w", err)
	}
	return ps, nil
}

func (ps *positionStore) locationFor(path string) *tail.SeekInfo {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	offset, ok := ps.data[path]
	if !ok {
		return nil
	}
	return &tail.SeekInfo{Offset: offset, Whence: 0}
}

func (ps *positionStore) update(path string, offset int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.data[path] = offset
}

func (ps *positionStore) save() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	b, err := json.MarshalIndent(ps.data, "", "  ")
	if err != nil {
		return fmt.Errorf("position store: encode failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ps.path), 0755); err != nil && !os.IsExist(err) {
		if filepath.Dir(ps.path) != "." {
			return fmt.Errorf("position store: mkdir failed: %w", err)
		}
	}
	return os.WriteFile(ps.path, b, 0644)
}
