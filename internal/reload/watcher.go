// Package reload watches the PDL/MDL rule files a process was started
// with and recompiles them on change, handing the result to the harness
// as a new rule generation rather than requiring a process restart.
package reload

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/ssw-labs/flowcore/internal/dispatch"
	"github.com/ssw-labs/flowcore/pkg/pdl"
)

// Updater is the subset of harness.Harness a Watcher needs: swapping in a
// newly compiled rule generation.
type Updater interface {
	UpdateRules(rules *pdl.Compiled, router *dispatch.Router)
}

// Compiler recompiles the full rule set from disk, exactly as cmd/flowcore
// does at startup. It's a function value rather than an interface so
// cmd/flowcore can close over its own buildDispatchTable/compileRules
// logic without an import cycle.
type Compiler func() (*pdl.Compiled, *dispatch.Table, error)

// Config controls watch debouncing.
type Config struct {
	Enabled          bool          `yaml:"enabled"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

func (c *Config) applyDefaults() {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = 500 * time.Millisecond
	}
}

// Watcher follows a fixed set of rule files with fsnotify and, after a
// debounce window with no further writes, recompiles and swaps them into
// the harness. A failed recompile logs and keeps the previous generation
// running rather than tearing anything down.
type Watcher struct {
	config  Config
	files   []string
	compile Compiler
	updater Updater
	miss    *dispatch.MissSink
	logger  *logrus.Logger

	fsw    *fsnotify.Watcher
	done   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// New builds a Watcher over the given rule files. files should be the
// same RulesConfig.PDLFiles/MDLFiles paths cmd/flowcore compiled at
// startup; directories containing them are watched since fsnotify only
// reports events on directory handles, not on individual file inodes.
func New(cfg Config, files []string, compile Compiler, updater Updater, miss *dispatch.MissSink, logger *logrus.Logger) (*Watcher, error) {
	cfg.applyDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: creating file watcher: %w", err)
	}

	dirs := map[string]struct{}{}
	for _, f := range files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("reload: watching %s: %w", dir, err)
		}
	}

	return &Watcher{
		config:  cfg,
		files:   files,
		compile: compile,
		updater: updater,
		miss:    miss,
		logger:  logger,
		fsw:     fsw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching in the background. A no-op if config.Enabled is
// false, so callers can construct a Watcher unconditionally and only
// decide whether to Start it.
func (w *Watcher) Start() {
	if !w.config.Enabled {
		return
	}
	w.wg.Add(1)
	go w.run()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	var debounce *time.Timer
	for {
		select {
		case <-w.done:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.config.DebounceInterval, w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("reload: file watcher error")
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	for _, f := range w.files {
		if filepath.Clean(name) == filepath.Clean(f) {
			return true
		}
	}
	return false
}

func (w *Watcher) reload() {
	rules, table, err := w.compile()
	if err != nil {
		w.logger.WithError(err).Error("reload: recompilation failed, keeping active rule set")
		return
	}
	router := dispatch.NewRouter(table, w.logger, w.miss)
	w.updater.UpdateRules(rules, router)
	w.logger.WithField("files", strings.Join(w.files, ",")).Info("reload: rule set swapped")
}

// Stop stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	w.closed.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
	return w.fsw.Close()
}
