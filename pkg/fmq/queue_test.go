package fmq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newQueue(t *testing.T, slots int, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "q.fmq")
	q, err := Create(path, CreateOptions{SlotCount: slots, BufferSize: size})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func openWriter(t *testing.T, path string, opts WriterOptions) *Writer {
	t.Helper()
	w, err := OpenWriter(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func openReader(t *testing.T, path string, opts ReaderOptions) *Reader {
	t.Helper()
	r, err := OpenReader(path, opts)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func appendAll(t *testing.T, w *Writer, payloads ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(payloads))
	for _, p := range payloads {
		id, err := w.Append(1, 0, []byte(p))
		if err != nil {
			t.Fatalf("append %q: %v", p, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func readNow(t *testing.T, r *Reader) ReadResult {
	t.Helper()
	res, err := r.ReadNext(context.Background(), ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return res
}

func expectMessage(t *testing.T, r *Reader, id int64, payload string) Message {
	t.Helper()
	res := readNow(t, r)
	if res.Status != ReadOK {
		t.Fatalf("expected message %d, got %v (missed %d)", id, res.Status, res.Missed)
	}
	if res.Message.ID != id || string(res.Message.Payload) != payload {
		t.Fatalf("got id %d %q, want id %d %q", res.Message.ID, res.Message.Payload, id, payload)
	}
	return res.Message
}

func expectEnd(t *testing.T, r *Reader) {
	t.Helper()
	if res := readNow(t, r); res.Status != ReadEndOfData {
		t.Fatalf("expected end of data, got %v id %d", res.Status, res.Message.ID)
	}
}

func TestEmptyQueue(t *testing.T) {
	path := newQueue(t, 8, 4096)
	r := openReader(t, path, ReaderOptions{})
	if err := r.Seek(SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	expectEnd(t, r)

	q, err := Open(path, ReadOnly, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()
	st, slots, err := q.Slots()
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	g := st.geometry(q.Header().SlotCount)
	for i := range slots {
		if g.SlotInActiveRegion(int32(i)) || slots[i].Used() {
			t.Fatalf("slot %d active in a fresh queue", i)
		}
	}
	s, err := q.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.ActiveSlots != 0 || s.BytesUsed != 0 || s.OldestID != NoID || s.YoungestID != NoID {
		t.Fatalf("fresh status: %+v", s)
	}
}

func TestCreateRefusesExisting(t *testing.T) {
	path := newQueue(t, 4, 1024)
	if _, err := Create(path, CreateOptions{SlotCount: 4, BufferSize: 1024}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	q, err := Create(path, CreateOptions{SlotCount: 16, BufferSize: 2048, Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	defer q.Close()
	if q.Header().SlotCount != 16 {
		t.Fatalf("slot count %d", q.Header().SlotCount)
	}
}

func TestCreateValidatesGeometry(t *testing.T) {
	dir := t.TempDir()
	for _, opts := range []CreateOptions{
		{SlotCount: 0, BufferSize: 1024},
		{SlotCount: 4, BufferSize: 0},
		{SlotCount: 4, BufferSize: 8},
	} {
		if _, err := Create(filepath.Join(dir, "x.fmq"), opts); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%+v: expected ErrInvalidConfig, got %v", opts, err)
		}
	}
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, bytes.Repeat([]byte("not a queue "), 10), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path, ReadOnly, Options{}); !errors.Is(err, ErrNotAFmq) {
		t.Fatalf("expected ErrNotAFmq, got %v", err)
	}
	if _, err := OpenReader(path, ReaderOptions{}); !errors.Is(err, ErrNotAFmq) {
		t.Fatalf("reader: expected ErrNotAFmq, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := newQueue(t, 64, 64<<10)
	w := openWriter(t, path, WriterOptions{})
	type sent struct {
		typ, sub int32
		data     []byte
	}
	var msgs []sent
	for i := 0; i < 40; i++ {
		m := sent{typ: int32(i % 3), sub: int32(i), data: bytes.Repeat([]byte{byte('a' + i%26)}, i*7)}
		id, err := w.Append(m.typ, m.sub, m.data)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if id != int64(i) {
			t.Fatalf("append %d got id %d", i, id)
		}
		msgs = append(msgs, m)
	}

	r := openReader(t, path, ReaderOptions{})
	for i, m := range msgs {
		got := readNow(t, r)
		if got.Status != ReadOK {
			t.Fatalf("read %d: %v", i, got.Status)
		}
		if got.Message.ID != int64(i) || got.Message.Type != m.typ || got.Message.Subtype != m.sub || !bytes.Equal(got.Message.Payload, m.data) {
			t.Fatalf("read %d: id %d type %d sub %d len %d", i, got.Message.ID, got.Message.Type, got.Message.Subtype, len(got.Message.Payload))
		}
		if got.Message.StoreTime.IsZero() {
			t.Fatalf("read %d: no store time", i)
		}
	}
	expectEnd(t, r)
	if _, err := Check(path, Options{}); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestEndToEndScenario(t *testing.T) {
	path := newQueue(t, 4, 4096)
	w := openWriter(t, path, WriterOptions{})
	ids := appendAll(t, w, "m0", "m1", "m2", "m3", "m4", "m5")
	for i, id := range ids {
		if id != int64(i) {
			t.Fatalf("message %d got id %d", i, id)
		}
	}

	q, err := Open(path, ReadOnly, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()
	st, slots, err := q.Slots()
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if slots[st.OldestSlot].ID != 2 {
		t.Fatalf("oldest slot holds id %d, want 2", slots[st.OldestSlot].ID)
	}
	for _, gone := range []int64{0, 1} {
		if s, ok := FindSlotForID(slots, gone); ok {
			t.Fatalf("evicted id %d still in slot %d", gone, s)
		}
	}

	r := openReader(t, path, ReaderOptions{Start: SeekStart})
	for i := 2; i <= 5; i++ {
		expectMessage(t, r, int64(i), fmt.Sprintf("m%d", i))
	}
	_, err = r.ReadNext(context.Background(), ReadOptions{Block: true, Timeout: 30 * time.Millisecond})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestBlockingReadWakesOnAppend(t *testing.T) {
	path := newQueue(t, 8, 4096)
	w := openWriter(t, path, WriterOptions{})
	r := openReader(t, path, ReaderOptions{PollInterval: time.Millisecond})
	if err := r.Seek(SeekEnd); err != nil {
		t.Fatalf("seek: %v", err)
	}

	type result struct {
		res ReadResult
		err error
	}
	done := make(chan result, 1)
	beats := make(chan struct{}, 1024)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		res, err := r.ReadNext(ctx, ReadOptions{Block: true, Timeout: -1, Heartbeat: func() {
			select {
			case beats <- struct{}{}:
			default:
			}
		}})
		done <- result{res, err}
	}()

	time.Sleep(30 * time.Millisecond)
	appendAll(t, w, "late")

	select {
	case got := <-done:
		if got.err != nil || got.res.Status != ReadOK || string(got.res.Message.Payload) != "late" {
			t.Fatalf("blocking read: %+v, %v", got.res, got.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for blocked reader")
	}
	if len(beats) == 0 {
		t.Fatalf("heartbeat never called")
	}
}

func TestBlockingReadHonorsContext(t *testing.T) {
	path := newQueue(t, 4, 1024)
	r := openReader(t, path, ReaderOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ReadNext(ctx, ReadOptions{Block: true, Timeout: -1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestEvictionBySlotCount(t *testing.T) {
	path := newQueue(t, 3, 8192)
	var evictions []EvictedRange
	w := openWriter(t, path, WriterOptions{OnEvict: func(e EvictedRange) { evictions = append(evictions, e) }})
	for i := 0; i < 10; i++ {
		appendAll(t, w, fmt.Sprintf("msg-%d", i))
	}
	st, err := w.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.ActiveSlots != 3 || st.OldestID != 7 || st.YoungestID != 9 {
		t.Fatalf("status: %+v", st)
	}
	if len(evictions) != 7 {
		t.Fatalf("expected 7 evictions, got %d", len(evictions))
	}
	if evictions[0].FromID != 0 || evictions[6].ToID != 6 {
		t.Fatalf("evictions: %+v", evictions)
	}

	r := openReader(t, path, ReaderOptions{})
	for id := int64(7); id <= 9; id++ {
		expectMessage(t, r, id, fmt.Sprintf("msg-%d", id))
	}
	expectEnd(t, r)
}

func TestEvictionByBufferBytes(t *testing.T) {
	path := newQueue(t, 64, 1024)
	w := openWriter(t, path, WriterOptions{})
	payload := func(i int) []byte { return bytes.Repeat([]byte{byte(i)}, 200) }
	for i := 0; i < 10; i++ {
		if _, err := w.Append(0, 0, payload(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		st, err := w.Status()
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.BytesUsed > st.BufferSize {
			t.Fatalf("append %d: %d bytes used of %d", i, st.BytesUsed, st.BufferSize)
		}
	}
	rep, err := Check(path, Options{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.ActiveSlots >= 10 || rep.ActiveSlots == 0 {
		t.Fatalf("active slots %d", rep.ActiveSlots)
	}

	q, err := Open(path, ReadOnly, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()
	_, slots, err := q.Slots()
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if _, ok := FindSlotForID(slots, 0); ok {
		t.Fatalf("id 0 survived byte pressure")
	}

	r := openReader(t, path, ReaderOptions{})
	first := int64(10) - int64(rep.ActiveSlots)
	for id := first; id < 10; id++ {
		res := readNow(t, r)
		if res.Status != ReadOK || res.Message.ID != id || !bytes.Equal(res.Message.Payload, payload(int(id))) {
			t.Fatalf("read %d: %v id %d", id, res.Status, res.Message.ID)
		}
	}
	expectEnd(t, r)
}

func TestReaderMissedResync(t *testing.T) {
	path := newQueue(t, 4, 4096)
	w := openWriter(t, path, WriterOptions{})
	appendAll(t, w, "p0", "p1")

	r := openReader(t, path, ReaderOptions{})
	expectMessage(t, r, 0, "p0")

	appendAll(t, w, "p2", "p3", "p4", "p5", "p6", "p7")

	res := readNow(t, r)
	if res.Status != ReadMissed || res.Missed != 3 {
		t.Fatalf("expected Missed(3), got %v missed %d", res.Status, res.Missed)
	}
	if r.State() != StateMissed {
		t.Fatalf("state %v", r.State())
	}
	for id := int64(4); id <= 7; id++ {
		expectMessage(t, r, id, fmt.Sprintf("p%d", id))
	}
	if r.State() != StatePositioned {
		t.Fatalf("state %v", r.State())
	}
	expectEnd(t, r)
}

func TestSeekPositions(t *testing.T) {
	path := newQueue(t, 8, 4096)
	w := openWriter(t, path, WriterOptions{})
	appendAll(t, w, "a", "b", "c", "d")
	r := openReader(t, path, ReaderOptions{})

	if err := r.SeekToID(1); err != nil {
		t.Fatalf("seek id: %v", err)
	}
	expectMessage(t, r, 2, "c")

	if err := r.SeekToID(99); !errors.Is(err, ErrIDNotFound) {
		t.Fatalf("expected ErrIDNotFound, got %v", err)
	}

	if err := r.Seek(SeekEnd); err != nil {
		t.Fatalf("seek end: %v", err)
	}
	expectEnd(t, r)

	if err := r.Seek(SeekLast); err != nil {
		t.Fatalf("seek last: %v", err)
	}
	expectMessage(t, r, 3, "d")

	if err := r.SeekBack(); err != nil {
		t.Fatalf("seek back: %v", err)
	}
	expectMessage(t, r, 3, "d")

	if err := r.Seek(SeekStart); err != nil {
		t.Fatalf("seek start: %v", err)
	}
	expectMessage(t, r, 0, "a")
}

func TestReadFilters(t *testing.T) {
	path := newQueue(t, 16, 4096)
	w := openWriter(t, path, WriterOptions{})
	for i := 0; i < 8; i++ {
		if _, err := w.Append(int32(i%2), 0, []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	r := openReader(t, path, ReaderOptions{})
	var got []string
	for {
		res, err := r.ReadNext(context.Background(), ReadOptions{Types: []int32{1}})
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if res.Status == ReadEndOfData {
			break
		}
		got = append(got, string(res.Message.Payload))
	}
	if fmt.Sprint(got) != "[v1 v3 v5 v7]" {
		t.Fatalf("type filter: %v", got)
	}

	if err := r.Seek(SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	only := FilterFunc(func(m Message) bool { return string(m.Payload) == "v6" })
	res, err := r.ReadNext(context.Background(), ReadOptions{Filter: only})
	if err != nil || res.Status != ReadOK || res.Message.ID != 6 {
		t.Fatalf("filter: %+v, %v", res, err)
	}
}

func TestSecondWriterConflicts(t *testing.T) {
	path := newQueue(t, 4, 1024)
	w, err := OpenWriter(context.Background(), path, WriterOptions{})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if _, err := OpenWriter(context.Background(), path, WriterOptions{}); !errors.Is(err, ErrWriterConflict) {
		t.Fatalf("expected ErrWriterConflict, got %v", err)
	}
	if _, err := OpenWriter(context.Background(), path, WriterOptions{LockWait: 40 * time.Millisecond}); !errors.Is(err, ErrWriterConflict) {
		t.Fatalf("expected ErrWriterConflict after waiting, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := w.Append(0, 0, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: %v", err)
	}
	w2 := openWriter(t, path, WriterOptions{})
	if id := appendAll(t, w2, "again")[0]; id != 0 {
		t.Fatalf("id %d", id)
	}
}

func TestOverwriteRefusesWhileWriterOpen(t *testing.T) {
	path := newQueue(t, 4, 1024)
	w := openWriter(t, path, WriterOptions{})
	appendAll(t, w, "a", "b")

	if _, err := Create(path, CreateOptions{SlotCount: 4, BufferSize: 1024, Overwrite: true}); !errors.Is(err, ErrWriterConflict) {
		t.Fatalf("expected ErrWriterConflict, got %v", err)
	}
	if id := appendAll(t, w, "c")[0]; id != 2 {
		t.Fatalf("id %d", id)
	}
	if _, err := Check(path, Options{}); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	q, err := Create(path, CreateOptions{SlotCount: 2, BufferSize: 512, Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite after close: %v", err)
	}
	defer q.Close()
	st, err := q.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.SlotCount != 2 || st.ActiveSlots != 0 || st.YoungestID != NoID {
		t.Fatalf("status after overwrite: %+v", st)
	}
}

func TestBufferSizeRoundsUpToFrameAlignment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.fmq")
	q, err := Create(path, CreateOptions{SlotCount: 4, BufferSize: 1001})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer q.Close()
	st, err := q.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if q.Header().BufferSize != 1008 || st.BufferSize != 1008 {
		t.Fatalf("buffer size %d / %d, want 1008", q.Header().BufferSize, st.BufferSize)
	}
}

func TestMessageTooLarge(t *testing.T) {
	path := newQueue(t, 4, 256)
	w := openWriter(t, path, WriterOptions{})
	if _, err := w.Append(0, 0, make([]byte, MaxPayload(256)+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
	id, err := w.Append(0, 0, make([]byte, MaxPayload(256)))
	if err != nil || id != 0 {
		t.Fatalf("max payload: %d, %v", id, err)
	}
	id, err = w.Append(0, 0, []byte("next"))
	if err != nil || id != 1 {
		t.Fatalf("after full-buffer message: %d, %v", id, err)
	}
	r := openReader(t, path, ReaderOptions{})
	expectMessage(t, r, 1, "next")
}

func TestCompressionRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionZstd, CompressionS2, CompressionSnappy} {
		t.Run(c.String(), func(t *testing.T) {
			path := newQueue(t, 8, 16<<10)
			w := openWriter(t, path, WriterOptions{Compression: c})
			text := bytes.Repeat([]byte("compressible queue payload "), 200)
			if _, err := w.Append(0, 0, text); err != nil {
				t.Fatalf("append: %v", err)
			}
			tiny := []byte{0x01}
			if _, err := w.Append(0, 0, tiny); err != nil {
				t.Fatalf("append tiny: %v", err)
			}
			r := openReader(t, path, ReaderOptions{})
			m := readNow(t, r).Message
			if !bytes.Equal(m.Payload, text) || m.Compression != c || int(m.StoredLen) >= len(text) {
				t.Fatalf("compressed read: len %d compression %v stored %d", len(m.Payload), m.Compression, m.StoredLen)
			}
			m = readNow(t, r).Message
			if !bytes.Equal(m.Payload, tiny) || m.Compression != CompressionNone {
				t.Fatalf("tiny read: %v %v", m.Payload, m.Compression)
			}
		})
	}
}

func TestMappedReads(t *testing.T) {
	path := newQueue(t, 8, 4096)
	w := openWriter(t, path, WriterOptions{})
	appendAll(t, w, "one", "two")
	r := openReader(t, path, ReaderOptions{Options: Options{MapReads: true}})
	expectMessage(t, r, 0, "one")
	expectMessage(t, r, 1, "two")
	expectEnd(t, r)
	appendAll(t, w, "three")
	expectMessage(t, r, 2, "three")
}

func TestClearKeepsIDSequence(t *testing.T) {
	path := newQueue(t, 8, 4096)
	w := openWriter(t, path, WriterOptions{})
	appendAll(t, w, "a", "b", "c")
	r := openReader(t, path, ReaderOptions{})
	expectMessage(t, r, 0, "a")
	expectMessage(t, r, 1, "b")

	if err := w.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	st, err := w.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.ActiveSlots != 0 || st.YoungestID != 2 {
		t.Fatalf("status after clear: %+v", st)
	}
	res := readNow(t, r)
	if res.Status != ReadMissed || res.Missed != 1 {
		t.Fatalf("expected Missed(1), got %v %d", res.Status, res.Missed)
	}
	if id := appendAll(t, w, "d")[0]; id != 3 {
		t.Fatalf("id after clear %d", id)
	}
	expectMessage(t, r, 3, "d")
}

func TestIDsWrapThroughWriter(t *testing.T) {
	path := newQueue(t, 4, 4096)
	s, err := openStore(path, false, storeOptions{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	st := emptyStatus()
	st.YoungestID = MaxID - 2
	if err := s.writeStatus(st); err != nil {
		t.Fatalf("write status: %v", err)
	}
	_ = s.close()

	w := openWriter(t, path, WriterOptions{})
	ids := appendAll(t, w, "x", "y", "z")
	if ids[0] != MaxID-1 || ids[1] != 0 || ids[2] != 1 {
		t.Fatalf("ids %v", ids)
	}
	r := openReader(t, path, ReaderOptions{})
	expectMessage(t, r, MaxID-1, "x")
	expectMessage(t, r, 0, "y")
	expectMessage(t, r, 1, "z")
	expectEnd(t, r)
}

type memCursors map[string]int64

func (m memCursors) LoadCursor(name string) (int64, bool, error) {
	id, ok := m[name]
	return id, ok, nil
}

func (m memCursors) SaveCursor(name string, id int64) error {
	m[name] = id
	return nil
}

func TestCursorCommitAndResume(t *testing.T) {
	path := newQueue(t, 8, 4096)
	w := openWriter(t, path, WriterOptions{})
	appendAll(t, w, "a", "b", "c")
	cursors := memCursors{}

	r, err := OpenReader(path, ReaderOptions{Name: "billing", Cursors: cursors})
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	expectMessage(t, r, 0, "a")
	expectMessage(t, r, 1, "b")
	if err := r.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = r.Close()

	r2 := openReader(t, path, ReaderOptions{Name: "billing", Cursors: cursors})
	if r2.State() != StatePositioned || r2.LastID() != 1 {
		t.Fatalf("resumed at %d state %v", r2.LastID(), r2.State())
	}
	expectMessage(t, r2, 2, "c")

	plain := openReader(t, path, ReaderOptions{})
	if err := plain.Commit(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("commit without store: %v", err)
	}
}

func TestStatusFractionsUnderEachFsyncMode(t *testing.T) {
	modes := []Options{
		{Fsync: FsyncModeAlways},
		{Fsync: FsyncModeInterval, FsyncInterval: time.Millisecond},
		{Fsync: FsyncModeNever},
	}
	for _, o := range modes {
		path := newQueue(t, 4, 1024)
		w := openWriter(t, path, WriterOptions{Options: o})
		appendAll(t, w, "a", "b")
		if err := w.Sync(); err != nil {
			t.Fatalf("sync: %v", err)
		}
		st, err := w.Status()
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.SlotFraction != 0.5 {
			t.Fatalf("fsync %v: slot fraction %v", o.Fsync, st.SlotFraction)
		}
		if want := float64(2*storedLen(1)) / 1024; st.BufferFraction != want {
			t.Fatalf("fsync %v: buffer fraction %v, want %v", o.Fsync, st.BufferFraction, want)
		}
	}
}

func TestParseFsyncMode(t *testing.T) {
	for in, want := range map[string]FsyncMode{"always": FsyncModeAlways, "interval": FsyncModeInterval, "never": FsyncModeNever} {
		got, err := ParseFsyncMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseFsyncMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFsyncMode("sometimes"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestReaderSlotSnapshotFollowsGeneration(t *testing.T) {
	path := newQueue(t, 8, 1024)
	w := openWriter(t, path, WriterOptions{})
	appendAll(t, w, "a", "b", "c")
	r := openReader(t, path, ReaderOptions{})

	if err := r.SeekToID(0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	first := r.table
	if first == nil {
		t.Fatalf("no slot snapshot after seek")
	}
	if err := r.SeekToID(2); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if r.table != first {
		t.Fatalf("snapshot rebuilt without a status change")
	}

	appendAll(t, w, "d")
	if err := r.SeekToID(3); err != nil {
		t.Fatalf("seek to new id: %v", err)
	}
	if r.table == first {
		t.Fatalf("stale snapshot reused after append")
	}
	if s, ok := r.table.index.lookup(3); !ok || s != 3 {
		t.Fatalf("index lookup(3) = %d, %v", s, ok)
	}
	expectEnd(t, r)
	if err := r.SeekBack(); err != nil {
		t.Fatalf("seek back: %v", err)
	}
	expectMessage(t, r, 3, "d")
}

func TestWriterStatusRacesClose(t *testing.T) {
	path := newQueue(t, 4, 1024)
	w, err := OpenWriter(context.Background(), path, WriterOptions{})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if _, err := w.Status(); err != nil && !errors.Is(err, ErrClosed) {
				t.Errorf("status: %v", err)
				return
			}
		}
	}()
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-done
}
