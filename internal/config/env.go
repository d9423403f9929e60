package config

import (
	"os"
	"strconv"
)

// FromEnv overlays FMQ_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("FMQ_SLOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Slots = n
		}
	}
	if v := os.Getenv("FMQ_BUFFER_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Queue.BufferSize = n
		}
	}
	if v := os.Getenv("FMQ_COMPRESSION"); v != "" {
		cfg.Queue.Compression = v
	}
	if v := os.Getenv("FMQ_FSYNC"); v != "" {
		cfg.Queue.Fsync = v
	}
	if v := os.Getenv("FMQ_FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.FsyncIntervalMs = n
		}
	}
	if v := os.Getenv("FMQ_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reader.PollIntervalMs = n
		}
	}
	if v := os.Getenv("FMQ_READ_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reader.ReadTimeoutMs = n
		}
	}
	if v := os.Getenv("FMQ_MAP_READS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reader.MapReads = b
		}
	}
	if v := os.Getenv("FMQ_CHECKPOINT_DIR"); v != "" {
		cfg.CheckpointDir = v
	}
	if v := os.Getenv("FMQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FMQ_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
