package fmq

import (
	"fmt"
	"os"
	"sync"
	"time"

	logpkg "github.com/rzbill/fmq/pkg/log"
)

// Mode selects how Open accesses the queue file.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Options are shared by every kind of queue handle.
type Options struct {
	// Logger receives handle diagnostics. Defaults to a no-op logger.
	Logger logpkg.Logger
	// Fsync controls syncing of the queue file on writes.
	Fsync FsyncMode
	// FsyncInterval is the sync window when Fsync is FsyncModeInterval.
	FsyncInterval time.Duration
	// MapReads serves read-only handles from a memory mapping of the file.
	MapReads bool
}

func (o Options) storeOptions() storeOptions {
	return storeOptions{mapReads: o.MapReads, fsync: o.Fsync, fsyncInterval: o.FsyncInterval}
}

func (o Options) logger() logpkg.Logger {
	if o.Logger == nil {
		return logpkg.NewNopLogger()
	}
	return o.Logger
}

// CreateOptions configure Create.
type CreateOptions struct {
	Options
	SlotCount int
	// BufferSize is rounded up to a multiple of 8 bytes; Header().BufferSize
	// and Status().BufferSize report the rounded size.
	BufferSize int64
	// Overwrite reformats an existing file instead of failing with
	// ErrAlreadyExists. It fails with ErrWriterConflict while a writer has
	// the queue open.
	Overwrite bool
	// Perm is the file mode for a new queue file. Defaults to 0666 before umask.
	Perm os.FileMode
}

// Queue is an open handle on a queue file.
type Queue struct {
	store  *store
	logger logpkg.Logger

	mu     sync.Mutex
	closed bool
}

// Create allocates a new, empty queue at path.
func Create(path string, opts CreateOptions) (*Queue, error) {
	if opts.SlotCount <= 0 || opts.SlotCount > 1<<30 {
		return nil, fmt.Errorf("%w: slot count %d", ErrInvalidConfig, opts.SlotCount)
	}
	if storedLen(0) > opts.BufferSize {
		return nil, fmt.Errorf("%w: buffer size %d cannot hold a message", ErrInvalidConfig, opts.BufferSize)
	}
	s, err := createStore(path, int32(opts.SlotCount), opts.BufferSize, opts.Overwrite, opts.Perm, opts.storeOptions())
	if err != nil {
		return nil, err
	}
	q := &Queue{store: s, logger: opts.logger().With(logpkg.Component("fmq"), logpkg.Str("path", path))}
	q.logger.Info("queue created",
		logpkg.Int("slots", opts.SlotCount),
		logpkg.Int64("buffer_size", s.hdr.BufferSize))
	return q, nil
}

// Open opens an existing queue. It fails with ErrNotAFmq or
// ErrVersionMismatch when the header does not match, and with ErrCorrupted
// when the status block violates its invariants.
func Open(path string, mode Mode, opts Options) (*Queue, error) {
	s, err := openStore(path, mode == ReadOnly, opts.storeOptions())
	if err != nil {
		return nil, err
	}
	st, err := s.readStatus()
	if err == nil {
		err = st.validate(s.hdr)
	}
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Queue{store: s, logger: opts.logger().With(logpkg.Component("fmq"), logpkg.Str("path", path))}, nil
}

// Path returns the queue file path.
func (q *Queue) Path() string { return q.store.path }

// Header returns the queue geometry.
func (q *Queue) Header() Header { return q.store.hdr }

// Close releases the handle.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.store.close()
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Status summarizes a queue at one instant.
type Status struct {
	SlotCount    int32
	BufferSize   int64
	ActiveSlots  int32
	BytesUsed    int64
	OldestSlot   int32
	YoungestSlot int32
	OldestID     int64
	YoungestID   int64
	WriteOffset  int64
	Generation   uint64
	TimeWritten  time.Time
	// SlotFraction and BufferFraction are the used share of slots and bytes.
	SlotFraction   float64
	BufferFraction float64
}

// Status reads a consistent summary of the queue.
func (q *Queue) Status() (Status, error) {
	if q.isClosed() {
		return Status{}, ErrClosed
	}
	var slots []SlotEntry
	st, err := q.store.consistentView(func(StatusBlock) error {
		var err error
		slots, _, err = q.store.readSlots()
		return err
	})
	if err != nil {
		return Status{}, err
	}
	return summarize(q.store.hdr, st, slots), nil
}

func summarize(h Header, st StatusBlock, slots []SlotEntry) Status {
	g := st.geometry(h.SlotCount)
	out := Status{
		SlotCount:    h.SlotCount,
		BufferSize:   h.BufferSize,
		ActiveSlots:  g.ActiveCount(),
		OldestSlot:   st.OldestSlot,
		YoungestSlot: st.YoungestSlot,
		OldestID:     NoID,
		YoungestID:   st.YoungestID,
		WriteOffset:  st.WriteOffset,
		Generation:   st.Generation,
		TimeWritten:  st.TimeWritten,
	}
	if !g.Empty() {
		out.OldestID = slots[st.OldestSlot].ID
		for i := range slots {
			if g.SlotInActiveRegion(int32(i)) {
				out.BytesUsed += int64(slots[i].StoredLen)
			}
		}
	}
	out.SlotFraction = float64(out.ActiveSlots) / float64(h.SlotCount)
	out.BufferFraction = float64(out.BytesUsed) / float64(h.BufferSize)
	return out
}

// Slots returns the status block and the full slot table from one
// consistent view, for diagnostics.
func (q *Queue) Slots() (StatusBlock, []SlotEntry, error) {
	if q.isClosed() {
		return StatusBlock{}, nil, ErrClosed
	}
	var slots []SlotEntry
	st, err := q.store.consistentView(func(StatusBlock) error {
		var err error
		slots, _, err = q.store.readSlots()
		return err
	})
	return st, slots, err
}
