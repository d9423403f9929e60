package fmq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	logpkg "github.com/rzbill/fmq/pkg/log"
)

// nowFunc stamps store and status times. Tests replace it.
var nowFunc = time.Now

// EvictedRange describes messages discarded by one append.
type EvictedRange struct {
	FromID int64
	ToID   int64
	Count  int
}

// WriterOptions configure OpenWriter.
type WriterOptions struct {
	Options
	// Compression is applied to payloads that shrink under it.
	Compression Compression
	// LockWait bounds how long OpenWriter waits for another writer to go
	// away. Zero fails at once with ErrWriterConflict.
	LockWait time.Duration
	// OnEvict, if set, is called after an append evicts messages.
	OnEvict func(EvictedRange)
}

// Writer appends messages to a queue. It holds the queue's writer lock from
// OpenWriter until Close, so it caches the status block and slot table and
// only ever writes them.
type Writer struct {
	store       *store
	lock        *lockManager
	logger      logpkg.Logger
	compression Compression
	onEvict     func(EvictedRange)

	st    StatusBlock
	slots []SlotEntry
}

// OpenWriter opens the queue at path for appending. A second writer on the
// same queue fails with ErrWriterConflict. The slot table is checked against
// the status block and ErrCorrupted is returned when they disagree. Slots
// left outside the active region by an interrupted append are cleared.
func OpenWriter(ctx context.Context, path string, opts WriterOptions) (*Writer, error) {
	if _, err := compressPayload(opts.Compression, nil); err != nil {
		return nil, err
	}
	s, err := openStore(path, false, opts.storeOptions())
	if err != nil {
		return nil, err
	}
	lm := newLockManager(s.file)
	if err := lm.acquire(ctx, opts.LockWait); err != nil {
		_ = s.close()
		return nil, err
	}
	w := &Writer{
		store:       s,
		lock:        lm,
		logger:      opts.logger().With(logpkg.Component("fmq.writer"), logpkg.Str("path", path)),
		compression: opts.Compression,
		onEvict:     opts.OnEvict,
	}
	if err := w.load(); err != nil {
		_ = lm.release()
		_ = s.close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	w.logger.Debug("writer opened",
		logpkg.Int64("youngest_id", w.st.YoungestID),
		logpkg.Int("active_slots", int(w.st.geometry(s.hdr.SlotCount).ActiveCount())))
	return w, nil
}

// load reads and verifies the on-disk state into the writer's cache.
func (w *Writer) load() error {
	st, err := w.store.readStatus()
	if err != nil {
		return err
	}
	slots, bad, err := w.store.readSlots()
	if err != nil {
		return err
	}
	rep, err := verifyLayout(w.store.hdr, st, slots, bad)
	if err != nil {
		return err
	}
	for _, i := range append(rep.StaleSlots, bad...) {
		if err := w.store.writeSlot(i, emptySlot()); err != nil {
			return err
		}
		slots[i] = emptySlot()
	}
	if n := len(rep.StaleSlots) + len(bad); n > 0 {
		w.logger.Warn("cleared slots outside the active region", logpkg.Int("slots", n))
	}
	w.st, w.slots = st, slots
	return nil
}

// Append stores a message and returns its id. Oldest messages are evicted
// until both a slot and enough contiguous buffer space are free. A payload
// that could never fit fails with ErrMessageTooLarge.
func (w *Writer) Append(typ, subtype int32, payload []byte) (int64, error) {
	var (
		id      int64
		evicted EvictedRange
	)
	err := w.lock.mutate(func() error {
		var err error
		id, evicted, err = w.append(typ, subtype, payload)
		if err != nil && !isCallerError(err) {
			if rerr := w.load(); rerr != nil {
				w.logger.Error("reload after failed append", logpkg.Err(rerr))
			}
		}
		return err
	})
	if err != nil {
		return NoID, err
	}
	if evicted.Count > 0 && w.onEvict != nil {
		w.onEvict(evicted)
	}
	return id, nil
}

func isCallerError(err error) bool {
	return err != nil && (errors.Is(err, ErrMessageTooLarge) || errors.Is(err, ErrInvalidConfig))
}

func (w *Writer) append(typ, subtype int32, payload []byte) (int64, EvictedRange, error) {
	var ev EvictedRange
	if int64(len(payload)) > math.MaxInt32 {
		return NoID, ev, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}
	stored, comp := payload, CompressionNone
	if w.compression != CompressionNone && len(payload) > 0 {
		c, err := compressPayload(w.compression, payload)
		if err != nil {
			return NoID, ev, err
		}
		if len(c) < len(payload) {
			stored, comp = c, w.compression
		}
	}
	size := w.store.hdr.BufferSize
	need := storedLen(len(stored))
	if need > size {
		return NoID, ev, fmt.Errorf("%w: %d bytes framed to %d, buffer holds %d", ErrMessageTooLarge, len(payload), need, size)
	}

	st := w.st
	n := w.store.hdr.SlotCount
	g := st.geometry(n)
	ws := int32(0)
	if !g.Empty() {
		ws = g.NextSlot(st.YoungestSlot)
	}
	var gone []int32
	evict := func() {
		o := st.OldestSlot
		gone = append(gone, o)
		if o == st.YoungestSlot {
			st.OldestSlot, st.YoungestSlot = NoSlot, NoSlot
		} else {
			st.OldestSlot = g.NextSlot(o)
		}
		g = st.geometry(n)
	}
	if !g.Empty() && ws == st.OldestSlot {
		evict()
	}

	w0 := st.WriteOffset
	var off int64
	for {
		if g.Empty() {
			off = placeAfter(size, w0, need)
			break
		}
		o := w.slots[st.OldestSlot].Offset
		if o < w0 {
			if w0+need <= size {
				off = w0
				break
			}
			if need <= o {
				off = 0
				break
			}
		} else if w0+need <= o {
			off = w0
			break
		}
		evict()
	}

	if len(gone) > 0 {
		st.Generation++
		st.TimeWritten = nowFunc()
		if err := w.store.writeStatus(st); err != nil {
			return NoID, ev, err
		}
		ev = EvictedRange{FromID: w.slots[gone[0]].ID, ToID: w.slots[gone[len(gone)-1]].ID, Count: len(gone)}
		for _, s := range gone {
			if err := w.store.writeSlot(s, emptySlot()); err != nil {
				return NoID, ev, err
			}
			w.slots[s] = emptySlot()
		}
		w.st = st
		w.logger.Debug("evicted messages",
			logpkg.Int64("from_id", ev.FromID),
			logpkg.Int64("to_id", ev.ToID),
			logpkg.Int("count", ev.Count))
	}

	id := NextID(st.YoungestID)
	now := nowFunc()
	entry := SlotEntry{
		ID:          id,
		Offset:      off,
		Length:      int32(len(stored)),
		StoredLen:   int32(need),
		Type:        typ,
		Subtype:     subtype,
		StoreTime:   now,
		RawLen:      int32(len(payload)),
		Compression: comp,
	}
	if err := w.store.writeBytes(off, encodeFrame(ws, id, stored)); err != nil {
		return NoID, ev, err
	}
	if err := w.store.writeSlot(ws, entry); err != nil {
		return NoID, ev, err
	}
	if err := w.store.sync.barrier(w.store.dev); err != nil {
		return NoID, ev, fmt.Errorf("fmq: sync: %w", err)
	}

	if st.OldestSlot == NoSlot {
		st.OldestSlot = ws
	}
	st.YoungestSlot = ws
	st.YoungestID = id
	st.WriteOffset = (off + need) % size
	st.Generation++
	st.TimeWritten = now
	if err := w.store.writeStatus(st); err != nil {
		return NoID, ev, err
	}
	w.slots[ws] = entry
	w.st = st
	if err := w.store.sync.commit(w.store.dev); err != nil {
		return id, ev, fmt.Errorf("fmq: sync: %w", err)
	}
	return id, ev, nil
}

// Clear discards every message. The id sequence continues from the last
// id written.
func (w *Writer) Clear() error {
	return w.lock.mutate(func() error {
		st := emptyStatus()
		st.YoungestID = w.st.YoungestID
		st.Generation = w.st.Generation + 1
		st.TimeWritten = nowFunc()
		if err := w.store.writeStatus(st); err != nil {
			return err
		}
		if err := w.store.resetSlots(); err != nil {
			return err
		}
		for i := range w.slots {
			w.slots[i] = emptySlot()
		}
		w.st = st
		w.logger.Info("queue cleared", logpkg.Int64("youngest_id", st.YoungestID))
		return w.store.dev.Sync()
	})
}

// Status summarizes the queue from the writer's cached state.
func (w *Writer) Status() (Status, error) {
	var out Status
	err := w.lock.mutate(func() error {
		out = summarize(w.store.hdr, w.st, w.slots)
		return nil
	})
	return out, err
}

// Path returns the queue file path.
func (w *Writer) Path() string { return w.store.path }

// Sync flushes the queue file regardless of the fsync mode.
func (w *Writer) Sync() error {
	return w.lock.mutate(func() error { return w.store.dev.Sync() })
}

// Close releases the writer lock and the file.
func (w *Writer) Close() error {
	var err error
	_ = w.lock.mutate(func() error {
		if w.store.sync.mode != FsyncModeNever {
			err = w.store.dev.Sync()
		}
		return nil
	})
	if rerr := w.lock.release(); rerr != nil && err == nil {
		err = rerr
	}
	if cerr := w.store.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
