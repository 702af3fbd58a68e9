package sinks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileConfig controls a single log file destination; the file is never
// rotated.
type FileConfig struct {
	Path     string      `yaml:"path"`
	FileMode os.FileMode `yaml:"file_mode"`
}

// FileTransport implements sinkrt.Transport by appending each already
// wire-encoded record, newline-delimited, to a single open file handle.
// Since the sink runtime already groups records by sink/batch, one
// FileTransport owns exactly one file rather than a pool keyed by a
// per-entry filename pattern.
type FileTransport struct {
	config FileConfig
	logger *logrus.Logger

	mu   sync.Mutex
	file *os.File
}

// NewFileTransport opens (creating if necessary) the destination file in
// append mode.
func NewFileTransport(config FileConfig, logger *logrus.Logger) (*FileTransport, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("file transport: no path configured")
	}
	if config.FileMode == 0 {
		config.FileMode = 0644
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("file transport: mkdir failed: %w", err)
	}
	f, err := os.OpenFile(config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, config.FileMode)
	if err != nil {
		return nil, fmt.Errorf("file transport: open failed: %w", err)
	}
	return &FileTransport{config: config, logger: logger, file: f}, nil
}

// Send appends every encoded record followed by a newline. A write error
// midway is returned as-is; sinkrt.Runtime rescues the whole batch rather
// than trying to infer how many lines landed.
func (ft *FileTransport) Send(ctx context.Context, encoded [][]byte) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for _, payload := range encoded {
		if _, err := ft.file.Write(payload); err != nil {
			return fmt.Errorf("file transport: write failed: %w", err)
		}
		if _, err := ft.file.Write([]byte("\n")); err != nil {
			return fmt.Errorf("file transport: write failed: %w", err)
		}
	}
	return nil
}

// Sync calls fsync, used when the sink runtime is configured with
// Config.Sync true (durability over throughput).
func (ft *FileTransport) Sync() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.file.Sync()
}

// Close closes the underlying file handle.
func (ft *FileTransport) Close() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.file.Close()
}
