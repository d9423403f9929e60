package fmq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// lockRetryInterval is how often a waiting writer retries the file lock.
const lockRetryInterval = 20 * time.Millisecond

// lockManager serializes mutations of the status block and slot table.
// Across processes it holds an exclusive advisory lock on the queue file for
// the lifetime of the writer; within a process it serializes goroutines.
//
// Advisory locks are not reliable on every network filesystem. Deployments
// that share a queue over NFS must keep a single writer host.
type lockManager struct {
	file *os.File

	mu   sync.Mutex
	held bool
}

func newLockManager(f *os.File) *lockManager {
	return &lockManager{file: f}
}

// acquire takes the writer lock. With wait <= 0 a held lock fails at once
// with ErrWriterConflict; otherwise it retries until wait elapses or ctx ends.
func (l *lockManager) acquire(ctx context.Context, wait time.Duration) error {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	for {
		err := tryLockFile(l.file)
		if err == nil {
			l.mu.Lock()
			l.held = true
			l.mu.Unlock()
			return nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			return fmt.Errorf("fmq: lock %s: %w", l.file.Name(), err)
		}
		if wait <= 0 || time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrWriterConflict, l.file.Name())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (l *lockManager) release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	return unlockFile(l.file)
}

// mutate runs fn with the in-process mutation lock held.
func (l *lockManager) mutate(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return ErrClosed
	}
	return fn()
}

// snapshotAttempts bounds how often a reader retries a view that changed
// underneath it.
const snapshotAttempts = 8

// consistentView reads the status, runs fn against it, and re-reads the
// status. If the generation moved, fn saw a mix of old and new state and the
// whole view is retried.
func (s *store) consistentView(fn func(st StatusBlock) error) (StatusBlock, error) {
	for i := 0; i < snapshotAttempts; i++ {
		st, err := s.readStatus()
		if err != nil {
			return StatusBlock{}, err
		}
		if err := fn(st); err != nil {
			return StatusBlock{}, err
		}
		after, err := s.readStatus()
		if err != nil {
			return StatusBlock{}, err
		}
		if after.Generation == st.Generation {
			return st, nil
		}
	}
	return StatusBlock{}, fmt.Errorf("%w: status changed on every one of %d reads", ErrWouldBlock, snapshotAttempts)
}
