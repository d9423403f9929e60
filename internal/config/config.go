package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/rzbill/fmq/pkg/fmq"
	logpkg "github.com/rzbill/fmq/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Queue  QueueConfig  `json:"queue"`
	Reader ReaderConfig `json:"reader"`
	// CheckpointDir holds the Pebble store for reader cursors and archives.
	// Empty means DefaultDataDir().
	CheckpointDir string        `json:"checkpointDir"`
	Log           logpkg.Config `json:"log"`
}

// QueueConfig captures geometry for new queues and the writer's policies.
type QueueConfig struct {
	Slots           int    `json:"slots"`
	BufferSize      int64  `json:"bufferSize"`
	Compression     string `json:"compression"`
	Fsync           string `json:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs"`
}

// ReaderConfig captures reader defaults.
type ReaderConfig struct {
	PollIntervalMs int  `json:"pollIntervalMs"`
	ReadTimeoutMs  int  `json:"readTimeoutMs"`
	MapReads       bool `json:"mapReads"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Queue: QueueConfig{
			Slots:           1024,
			BufferSize:      16 << 20,
			Compression:     "none",
			Fsync:           "never",
			FsyncIntervalMs: 5,
		},
		Reader: ReaderConfig{
			PollIntervalMs: 10,
			ReadTimeoutMs:  0,
		},
		Log: logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return Config{}, errors.New("yaml config not supported; use JSON")
	default:
		if err := sonnet.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects settings no queue handle could use.
func (c Config) Validate() error {
	if c.Queue.Slots <= 0 {
		return fmt.Errorf("%w: queue.slots %d must be positive", fmq.ErrInvalidConfig, c.Queue.Slots)
	}
	if c.Queue.BufferSize <= 0 {
		return fmt.Errorf("%w: queue.bufferSize %d must be positive", fmq.ErrInvalidConfig, c.Queue.BufferSize)
	}
	if _, err := fmq.ParseCompression(c.Queue.Compression); err != nil {
		return err
	}
	if _, err := fmq.ParseFsyncMode(c.Queue.Fsync); err != nil {
		return err
	}
	if c.Queue.FsyncIntervalMs < 0 || c.Reader.PollIntervalMs < 0 {
		return fmt.Errorf("%w: intervals must not be negative", fmq.ErrInvalidConfig)
	}
	if _, err := logpkg.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", fmq.ErrInvalidConfig, err)
	}
	return nil
}

// DataDir returns CheckpointDir or the OS default.
func (c Config) DataDir() string {
	if c.CheckpointDir != "" {
		return c.CheckpointDir
	}
	return DefaultDataDir()
}

func (c Config) options(logger logpkg.Logger) fmq.Options {
	fsync, _ := fmq.ParseFsyncMode(c.Queue.Fsync)
	return fmq.Options{
		Logger:        logger,
		Fsync:         fsync,
		FsyncInterval: time.Duration(c.Queue.FsyncIntervalMs) * time.Millisecond,
		MapReads:      c.Reader.MapReads,
	}
}

// CreateOptions maps the queue section onto fmq.CreateOptions.
func (c Config) CreateOptions(logger logpkg.Logger) fmq.CreateOptions {
	return fmq.CreateOptions{
		Options:    c.options(logger),
		SlotCount:  c.Queue.Slots,
		BufferSize: c.Queue.BufferSize,
	}
}

// WriterOptions maps the queue section onto fmq.WriterOptions.
func (c Config) WriterOptions(logger logpkg.Logger) fmq.WriterOptions {
	comp, _ := fmq.ParseCompression(c.Queue.Compression)
	return fmq.WriterOptions{Options: c.options(logger), Compression: comp}
}

// ReaderOptions maps the reader section onto fmq.ReaderOptions.
func (c Config) ReaderOptions(logger logpkg.Logger) fmq.ReaderOptions {
	return fmq.ReaderOptions{
		Options:      c.options(logger),
		PollInterval: time.Duration(c.Reader.PollIntervalMs) * time.Millisecond,
	}
}

// ReadTimeout is the default timeout for blocking reads.
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.Reader.ReadTimeoutMs) * time.Millisecond
}
