package archive

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	pebblestore "github.com/rzbill/fmq/internal/storage/pebble"
	logpkg "github.com/rzbill/fmq/pkg/log"
)

// Options configure Open.
type Options struct {
	Logger logpkg.Logger
	// Hook receives the ranges deleted by trims. Optional.
	Hook TrimHook
}

// Log is the append-only archive of one queue.
type Log struct {
	db     *pebblestore.DB
	queue  string
	logger logpkg.Logger
	hook   TrimHook

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
}

// Open initializes a Log and loads the last sequence from metadata (if any).
func Open(db *pebblestore.DB, queue string, opts Options) (*Log, error) {
	if queue == "" {
		return nil, errors.New("archive: queue name must not be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	hook := opts.Hook
	if hook == nil {
		hook = noopHook{}
	}
	l := &Log{
		db:       db,
		queue:    queue,
		logger:   logger.WithComponent("archive").With(logpkg.Str("queue", queue)),
		hook:     hook,
		notifyCh: make(chan struct{}),
	}
	meta, err := db.Get(KeyMeta(queue))
	switch {
	case err == nil && len(meta) >= 8:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, fmt.Errorf("archive: load meta: %w", err)
	}
	return l, nil
}

// Queue returns the archived queue's name.
func (l *Log) Queue() string { return l.queue }

// LastSeq returns the sequence of the newest appended entry, or 0.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Append appends the entries as a single atomic batch. Returns assigned seq numbers.
func (l *Log) Append(ctx context.Context, entries []Entry) ([]uint64, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	seq := l.lastSeq
	seqs := make([]uint64, len(entries))
	for i, e := range entries {
		seq++
		if err := b.Set(KeyEntry(l.queue, seq), EncodeRecord(e), nil); err != nil {
			return nil, err
		}
		seqs[i] = seq
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(KeyMeta(l.queue), meta[:], nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("archive: append: %w", err)
	}
	l.lastSeq = seq

	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seqs, nil
}
