package fmq

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	logpkg "github.com/rzbill/fmq/pkg/log"
)

// DefaultPollInterval is how often a blocking read re-reads the status block.
const DefaultPollInterval = 10 * time.Millisecond

// Position names a seek target relative to the active region.
type Position int

const (
	// SeekStart positions before the oldest message so the next read returns it.
	SeekStart Position = iota
	// SeekEnd positions after the youngest message so only new messages are read.
	SeekEnd
	// SeekLast positions before the youngest message so the next read returns it.
	SeekLast
)

func (p Position) String() string {
	switch p {
	case SeekStart:
		return "start"
	case SeekEnd:
		return "end"
	case SeekLast:
		return "last"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}

// ParsePosition maps "start|end|last" to a Position.
func ParsePosition(s string) (Position, error) {
	switch s {
	case "start", "":
		return SeekStart, nil
	case "end", "latest":
		return SeekEnd, nil
	case "last":
		return SeekLast, nil
	default:
		return SeekStart, fmt.Errorf("%w: unknown position %q; use start|end|last", ErrInvalidConfig, s)
	}
}

// ReaderState is where a reader is in its lifecycle.
type ReaderState int

const (
	StateUnpositioned ReaderState = iota
	StatePositioned
	// StateMissed follows a read that reported missed messages. The cursor
	// has been moved to the oldest available message and reading continues.
	StateMissed
)

func (s ReaderState) String() string {
	switch s {
	case StateUnpositioned:
		return "unpositioned"
	case StatePositioned:
		return "positioned"
	case StateMissed:
		return "missed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CursorStore persists reader cursors by name.
type CursorStore interface {
	LoadCursor(name string) (id int64, ok bool, err error)
	SaveCursor(name string, id int64) error
}

// ReaderOptions configure OpenReader.
type ReaderOptions struct {
	Options
	// Start is where an unpositioned reader begins on its first read.
	Start Position
	// PollInterval is the status poll period of blocking reads.
	PollInterval time.Duration
	// Name identifies the reader's cursor in Cursors.
	Name string
	// Cursors, if set with Name, restores the cursor on open and persists it
	// on Commit.
	Cursors CursorStore
}

// Message is one message read from a queue.
type Message struct {
	ID          int64
	Slot        int32
	Type        int32
	Subtype     int32
	StoreTime   time.Time
	Payload     []byte
	Compression Compression
	StoredLen   int32
}

// ReadStatus classifies a ReadResult.
type ReadStatus int

const (
	ReadOK ReadStatus = iota
	ReadEndOfData
	ReadMissed
)

func (s ReadStatus) String() string {
	switch s {
	case ReadOK:
		return "ok"
	case ReadEndOfData:
		return "end_of_data"
	case ReadMissed:
		return "missed"
	default:
		return fmt.Sprintf("read_status(%d)", int(s))
	}
}

// ReadResult is the outcome of ReadNext. Message is set for ReadOK and
// Missed counts the discarded messages for ReadMissed.
type ReadResult struct {
	Status  ReadStatus
	Message Message
	Missed  int64
}

// Filter selects messages. Messages it rejects are consumed and skipped.
type Filter interface {
	Match(Message) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(Message) bool

func (f FilterFunc) Match(m Message) bool { return f(m) }

// ReadOptions control one ReadNext call.
type ReadOptions struct {
	// Block waits for a message instead of returning ReadEndOfData.
	Block bool
	// Timeout bounds a blocking read, which then fails with ErrTimedOut.
	// Zero polls once. A negative timeout waits until ctx ends.
	Timeout time.Duration
	// Types, if not empty, limits reads to these message types.
	Types  []int32
	Filter Filter
	// Heartbeat is called on every poll of a blocking read.
	Heartbeat func()
}

func (o ReadOptions) match(m Message) bool {
	if len(o.Types) > 0 && !slices.Contains(o.Types, m.Type) {
		return false
	}
	return o.Filter == nil || o.Filter.Match(m)
}

// Reader reads a queue through a private cursor. Readers never write the
// queue file and never coordinate with each other or with the writer.
type Reader struct {
	store   *store
	logger  logpkg.Logger
	start   Position
	poll    time.Duration
	name    string
	cursors CursorStore

	mu       sync.Mutex
	state    ReaderState
	last     int64
	lastSlot int32
	closed   bool
	table    *slotSnapshot
}

// slotSnapshot is a slot table read under one status block, with its id
// index. It stays valid while that status block is current.
type slotSnapshot struct {
	gen     uint64
	written time.Time
	slots   []SlotEntry
	index   idIndex
}

func (t *slotSnapshot) current(st StatusBlock) bool {
	return t != nil && t.gen == st.Generation && t.written.Equal(st.TimeWritten)
}

// slotTable returns the slot table as of st, reusing the cached snapshot
// when st is the status it was taken under. A table read while the writer
// moved on is returned but not cached.
func (r *Reader) slotTable(st StatusBlock) (*slotSnapshot, error) {
	if r.table.current(st) {
		return r.table, nil
	}
	slots, _, err := r.store.readSlots()
	if err != nil {
		return nil, err
	}
	t := &slotSnapshot{gen: st.Generation, written: st.TimeWritten, slots: slots, index: buildIDIndex(slots)}
	after, err := r.store.readStatus()
	if err != nil {
		return nil, err
	}
	if t.current(after) {
		r.table = t
	}
	return t, nil
}

// OpenReader opens the queue at path for reading.
func OpenReader(path string, opts ReaderOptions) (*Reader, error) {
	s, err := openStore(path, true, opts.storeOptions())
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
	r := &Reader{
		store:    s,
		logger:   opts.logger().With(logpkg.Component("fmq.reader"), logpkg.Str("path", path)),
		start:    opts.Start,
		poll:     opts.PollInterval,
		name:     opts.Name,
		cursors:  opts.Cursors,
		last:     NoID,
		lastSlot: NoSlot,
	}
	if r.poll <= 0 {
		r.poll = DefaultPollInterval
	}
	if r.cursors != nil && r.name != "" {
		id, ok, err := r.cursors.LoadCursor(r.name)
		if err != nil {
			_ = s.close()
			return nil, fmt.Errorf("fmq: load cursor %q: %w", r.name, err)
		}
		if ok {
			r.last, r.state = id, StatePositioned
			r.logger.Debug("cursor restored", logpkg.Str("reader", r.name), logpkg.Int64("last_id", id))
		}
	}
	return r, nil
}

// Seek positions the cursor relative to the active region.
func (r *Reader) Seek(pos Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.seekLocked(pos)
}

func (r *Reader) seekLocked(pos Position) error {
	var oldest SlotEntry
	st, err := r.store.consistentView(func(st StatusBlock) error {
		oldest = emptySlot()
		if st.OldestSlot == NoSlot {
			return nil
		}
		e, ok, err := r.store.readSlot(st.OldestSlot)
		if err != nil {
			return err
		}
		if ok {
			oldest = e
		}
		return nil
	})
	if err != nil {
		return err
	}
	g := st.geometry(r.store.hdr.SlotCount)
	if !g.Empty() && !oldest.Used() {
		return corrupt("slot", "oldest slot %d is unused", st.OldestSlot)
	}
	switch pos {
	case SeekStart:
		if g.Empty() {
			r.setCursor(st.YoungestID, NoSlot)
		} else {
			r.setCursor(PrevID(oldest.ID), g.PrevSlot(st.OldestSlot))
		}
	case SeekEnd:
		r.setCursor(st.YoungestID, st.YoungestSlot)
	case SeekLast:
		if g.Empty() {
			r.setCursor(st.YoungestID, NoSlot)
		} else {
			r.setCursor(PrevID(st.YoungestID), g.PrevSlot(st.YoungestSlot))
		}
	default:
		return fmt.Errorf("%w: unknown position %d", ErrInvalidConfig, pos)
	}
	r.state = StatePositioned
	return nil
}

// SeekToID positions the cursor on id, so the next read returns the message
// after it. It fails with ErrIDNotFound unless id is in the active region.
func (r *Reader) SeekToID(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if id < 0 || id >= MaxID {
		return fmt.Errorf("%w: %d", ErrIDNotFound, id)
	}
	slot := NoSlot
	var found bool
	_, err := r.store.consistentView(func(st StatusBlock) error {
		t, err := r.slotTable(st)
		if err != nil {
			return err
		}
		s, ok := t.index.lookup(id)
		slot, found = s, ok && st.geometry(r.store.hdr.SlotCount).SlotInActiveRegion(s)
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrIDNotFound, id)
	}
	r.setCursor(id, slot)
	r.state = StatePositioned
	return nil
}

// SeekBack moves the cursor back one id so the last message is read again.
func (r *Reader) SeekBack() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.state == StateUnpositioned {
		if err := r.seekLocked(r.start); err != nil {
			return err
		}
	}
	if r.last != NoID {
		r.setCursor(PrevID(r.last), NoSlot)
	}
	return nil
}

func (r *Reader) setCursor(id int64, slot int32) {
	r.last, r.lastSlot = id, slot
}

// LastID returns the id of the last message read or positioned on.
func (r *Reader) LastID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// State returns the reader's lifecycle state.
func (r *Reader) State() ReaderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ReadNext returns the message after the cursor. With nothing new it returns
// ReadEndOfData, or with Block set waits for a message. A reader that fell
// behind the writer's evictions gets one ReadMissed result and continues from
// the oldest available message.
func (r *Reader) ReadNext(ctx context.Context, opts ReadOptions) (ReadResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ReadResult{}, ErrClosed
	}
	if r.state == StateUnpositioned {
		if err := r.seekLocked(r.start); err != nil {
			return ReadResult{}, err
		}
	}
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return ReadResult{}, err
		}
		res, err := r.readOnce()
		if err != nil {
			return ReadResult{}, err
		}
		if res.Status == ReadOK && !opts.match(res.Message) {
			continue
		}
		if res.Status != ReadEndOfData || !opts.Block || opts.Timeout == 0 {
			return res, nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return res, ErrTimedOut
		}
		if opts.Heartbeat != nil {
			opts.Heartbeat()
		}
		wait := r.poll
		if !deadline.IsZero() {
			wait = min(wait, time.Until(deadline))
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ReadResult{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// readOnce makes one attempt to read the message after the cursor.
func (r *Reader) readOnce() (ReadResult, error) {
	n := r.store.hdr.SlotCount
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		st, err := r.store.readStatus()
		if err != nil {
			return ReadResult{}, err
		}
		if st.YoungestID == NoID || r.last == st.YoungestID {
			return ReadResult{Status: ReadEndOfData}, nil
		}
		g := st.geometry(n)
		if g.Empty() {
			missed := IDDistance(r.last, st.YoungestID)
			r.setCursor(st.YoungestID, NoSlot)
			return r.missed(missed), nil
		}

		cand := NextID(r.last)
		slot, e, found, err := r.locate(st, g, cand)
		if err != nil {
			return ReadResult{}, err
		}
		if !found {
			if moved, err := r.generationMoved(st); err != nil {
				return ReadResult{}, err
			} else if moved {
				continue
			}
			if IDAfter(st.YoungestID, r.last) {
				r.logger.Warn("cursor ahead of the writer, resyncing to youngest",
					logpkg.Int64("last_id", r.last), logpkg.Int64("youngest_id", st.YoungestID))
				r.setCursor(st.YoungestID, st.YoungestSlot)
				return ReadResult{Status: ReadEndOfData}, nil
			}
			oldest, ok, err := r.store.readSlot(st.OldestSlot)
			if err != nil {
				return ReadResult{}, err
			}
			if !ok || !oldest.Used() {
				continue
			}
			if IDDistance(oldest.ID, cand) <= IDDistance(oldest.ID, st.YoungestID) {
				return ReadResult{}, corrupt("slot", "id %d inside the active region has no slot", cand)
			}
			r.setCursor(PrevID(oldest.ID), g.PrevSlot(st.OldestSlot))
			return r.missed(IDDistance(cand, oldest.ID)), nil
		}

		payload, err := r.store.readPayload(slot, e)
		if err != nil {
			if moved, merr := r.generationMoved(st); merr == nil && moved {
				continue
			}
			return ReadResult{}, err
		}
		r.setCursor(cand, slot)
		r.state = StatePositioned
		return ReadResult{Status: ReadOK, Message: Message{
			ID:          e.ID,
			Slot:        slot,
			Type:        e.Type,
			Subtype:     e.Subtype,
			StoreTime:   e.StoreTime,
			Payload:     payload,
			Compression: e.Compression,
			StoredLen:   e.StoredLen,
		}}, nil
	}
	return ReadResult{}, fmt.Errorf("%w: queue changed on every one of %d reads", ErrWouldBlock, snapshotAttempts)
}

func (r *Reader) missed(n int64) ReadResult {
	r.state = StateMissed
	r.logger.Warn("reader missed messages", logpkg.Int64("missed", n), logpkg.Int64("resume_after", r.last))
	return ReadResult{Status: ReadMissed, Missed: n}
}

// locate finds the active slot holding id. The slot after the last one read
// is tried first; otherwise the whole table is scanned.
func (r *Reader) locate(st StatusBlock, g Geometry, id int64) (int32, SlotEntry, bool, error) {
	if r.lastSlot != NoSlot {
		s := g.NextSlot(r.lastSlot)
		e, ok, err := r.store.readSlot(s)
		if err != nil {
			return NoSlot, SlotEntry{}, false, err
		}
		if ok && e.ID == id && g.SlotInActiveRegion(s) {
			return s, e, true, nil
		}
	}
	t, err := r.slotTable(st)
	if err != nil {
		return NoSlot, SlotEntry{}, false, err
	}
	s, ok := t.index.lookup(id)
	if !ok || !g.SlotInActiveRegion(s) {
		return NoSlot, SlotEntry{}, false, nil
	}
	return s, t.slots[s], true, nil
}

func (r *Reader) generationMoved(st StatusBlock) (bool, error) {
	after, err := r.store.readStatus()
	if err != nil {
		return false, err
	}
	return after.Generation != st.Generation, nil
}

// Commit saves the cursor to the reader's CursorStore.
func (r *Reader) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.cursors == nil || r.name == "" {
		return fmt.Errorf("%w: reader has no cursor store", ErrInvalidConfig)
	}
	if r.last == NoID {
		return nil
	}
	return r.cursors.SaveCursor(r.name, r.last)
}

// Status reads a consistent summary of the queue.
func (r *Reader) Status() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Status{}, ErrClosed
	}
	var slots []SlotEntry
	st, err := r.store.consistentView(func(StatusBlock) error {
		var err error
		slots, _, err = r.store.readSlots()
		return err
	})
	if err != nil {
		return Status{}, err
	}
	return summarize(r.store.hdr, st, slots), nil
}

// Close releases the file. The cursor is not committed.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.store.close()
}
