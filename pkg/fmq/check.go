package fmq

import (
	"context"
	"fmt"

	logpkg "github.com/rzbill/fmq/pkg/log"
)

// CheckReport is the outcome of a successful Check.
type CheckReport struct {
	ActiveSlots int32
	BytesUsed   int64
	// StaleSlots lists inactive slots that still carry an id, left behind by
	// an append or eviction interrupted before its status write.
	StaleSlots []int32
}

// verifyLayout checks the slot table against the status block: active slots
// carry consecutive ids ending at youngest_id, their frames sit where the
// writer's placement rule puts them, and write_offset follows the youngest
// frame. It does not read message frames.
func verifyLayout(h Header, st StatusBlock, slots []SlotEntry, bad []int32) (CheckReport, error) {
	var rep CheckReport
	if err := st.validate(h); err != nil {
		return rep, err
	}
	g := st.geometry(h.SlotCount)
	for _, b := range bad {
		if g.SlotInActiveRegion(b) {
			return rep, corrupt("slot", "slot %d in active region fails its checksum", b)
		}
	}
	for i := range slots {
		if slots[i].Used() && !g.SlotInActiveRegion(int32(i)) {
			rep.StaleSlots = append(rep.StaleSlots, int32(i))
		}
	}
	if g.Empty() {
		return rep, nil
	}

	s := st.OldestSlot
	var prev *SlotEntry
	for n := int32(0); n < g.ActiveCount(); n++ {
		e := slots[s]
		if !e.Used() {
			return rep, corrupt("slot", "active slot %d is unused", s)
		}
		if e.Offset < 0 || e.Offset%frameAlign != 0 || e.Offset+int64(e.StoredLen) > h.BufferSize {
			return rep, corrupt("slot", "slot %d frame [%d,+%d) outside buffer of %d", s, e.Offset, e.StoredLen, h.BufferSize)
		}
		if e.Length < 0 || int64(e.StoredLen) != storedLen(int(e.Length)) {
			return rep, corrupt("slot", "slot %d stored length %d does not frame %d payload bytes", s, e.StoredLen, e.Length)
		}
		if prev != nil {
			if e.ID != NextID(prev.ID) {
				return rep, corrupt("slot", "slot %d holds id %d after id %d", s, e.ID, prev.ID)
			}
			if want := placeAfter(h.BufferSize, prev.Offset+int64(prev.StoredLen), int64(e.StoredLen)); e.Offset != want {
				return rep, corrupt("slot", "slot %d frame at %d, expected %d", s, e.Offset, want)
			}
		}
		rep.ActiveSlots++
		rep.BytesUsed += int64(e.StoredLen)
		prev = &slots[s]
		s = g.NextSlot(s)
	}
	if prev.ID != st.YoungestID {
		return rep, corrupt("status", "youngest slot holds id %d, status says %d", prev.ID, st.YoungestID)
	}
	if end := (prev.Offset + int64(prev.StoredLen)) % h.BufferSize; end != st.WriteOffset {
		return rep, corrupt("status", "write_offset %d, youngest frame ends at %d", st.WriteOffset, end)
	}
	return rep, nil
}

// placeAfter returns where a frame of storedLen bytes goes when the previous
// frame ended at end: right after it, or at 0 when the tail is too short.
func placeAfter(bufferSize, end, storedLen int64) int64 {
	w := end % bufferSize
	if w+storedLen > bufferSize {
		return 0
	}
	return w
}

// Check validates a queue file: header, status block, slot table layout, and
// every active frame's magic, id and checksum. It takes no lock; run it
// against a queue with no active writer for a stable answer.
func Check(path string, opts Options) (CheckReport, error) {
	s, err := openStore(path, true, opts.storeOptions())
	if err != nil {
		return CheckReport{}, err
	}
	defer s.close()
	st, err := s.readStatus()
	if err != nil {
		return CheckReport{}, err
	}
	slots, bad, err := s.readSlots()
	if err != nil {
		return CheckReport{}, err
	}
	rep, err := verifyLayout(s.hdr, st, slots, bad)
	if err != nil {
		return rep, err
	}
	g := st.geometry(s.hdr.SlotCount)
	for i := range slots {
		if !g.SlotInActiveRegion(int32(i)) {
			continue
		}
		if _, err := s.readPayload(int32(i), slots[i]); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// readPayload reads and validates the frame for slot i and returns the
// decoded payload.
func (s *store) readPayload(i int32, e SlotEntry) ([]byte, error) {
	if e.StoredLen <= 0 || int64(e.StoredLen) > s.hdr.BufferSize {
		return nil, corrupt("slot", "slot %d stored length %d", i, e.StoredLen)
	}
	frame, err := s.readBytes(e.Offset, int64(e.StoredLen))
	if err != nil {
		return nil, err
	}
	stored, err := decodeFrame(frame, i, e)
	if err != nil {
		return nil, err
	}
	return decompressPayload(e.Compression, stored, e.RawLen)
}

// RecoverReport describes what Recover changed.
type RecoverReport struct {
	Before       StatusBlock
	After        StatusBlock
	ClearedSlots []int32
}

// Recover rebuilds the status block from the slot table of a queue that
// fails Check. It takes the writer lock, so it fails with ErrWriterConflict
// while a writer is running. The youngest valid message is found first; the
// active region then extends back over slots that hold consecutive ids and
// intact frames. Everything else is cleared.
func Recover(ctx context.Context, path string, opts Options) (RecoverReport, error) {
	var rep RecoverReport
	s, err := openStore(path, false, opts.storeOptions())
	if err != nil {
		return rep, err
	}
	defer s.close()
	lm := newLockManager(s.file)
	if err := lm.acquire(ctx, 0); err != nil {
		return rep, err
	}
	defer lm.release()
	logger := opts.logger().With(logpkg.Component("fmq"), logpkg.Str("path", path))

	err = lm.mutate(func() error {
		before, serr := s.readStatus()
		if serr != nil {
			logger.Warn("status unreadable, rebuilding from slots", logpkg.Err(serr))
			before = emptyStatus()
		}
		rep.Before = before
		slots, _, err := s.readSlots()
		if err != nil {
			return err
		}
		after := rebuildStatus(s, slots)
		after.Generation = before.Generation + 1
		after.TimeWritten = nowFunc()
		g := after.geometry(s.hdr.SlotCount)
		if err := s.writeStatus(after); err != nil {
			return err
		}
		for i := range slots {
			if slots[i].Used() && !g.SlotInActiveRegion(int32(i)) {
				if err := s.writeSlot(int32(i), emptySlot()); err != nil {
					return err
				}
				rep.ClearedSlots = append(rep.ClearedSlots, int32(i))
			}
		}
		rep.After = after
		return s.dev.Sync()
	})
	if err != nil {
		return rep, err
	}
	logger.Info("queue recovered",
		logpkg.Int64("youngest_id", rep.After.YoungestID),
		logpkg.Int("oldest_slot", int(rep.After.OldestSlot)),
		logpkg.Int("youngest_slot", int(rep.After.YoungestSlot)),
		logpkg.Int("cleared_slots", len(rep.ClearedSlots)))
	return rep, nil
}

func rebuildStatus(s *store, slots []SlotEntry) StatusBlock {
	n := s.hdr.SlotCount
	g := Geometry{SlotCount: n}
	valid := func(i int32) bool {
		e := slots[i]
		if !e.Used() || e.ID < 0 || e.ID >= MaxID {
			return false
		}
		_, err := s.readPayload(i, e)
		return err == nil
	}

	// Ids wrap when both ends of the id space are present; the youngest is
	// then the largest id in the low range.
	var zero, top bool
	maxSeen := NoID
	for i := range slots {
		switch slots[i].ID {
		case 0:
			zero = true
		case MaxID - 1:
			top = true
		}
		if slots[i].ID > maxSeen {
			maxSeen = slots[i].ID
		}
	}
	limit := MaxID
	if zero && top {
		limit = int64(n)
	}
	youngest := NoSlot
	for i := int32(0); i < n; i++ {
		if slots[i].Used() && slots[i].ID < limit && (youngest == NoSlot || slots[i].ID > slots[youngest].ID) && valid(i) {
			youngest = i
		}
	}
	if youngest == NoSlot {
		st := emptyStatus()
		st.YoungestID = maxSeen
		return st
	}

	oldest := youngest
	for k := int32(1); k < n; k++ {
		p := g.PrevSlot(oldest)
		if slots[p].ID != PrevID(slots[oldest].ID) || !valid(p) {
			break
		}
		oldest = p
	}
	y := slots[youngest]
	return StatusBlock{
		OldestSlot:   oldest,
		YoungestSlot: youngest,
		YoungestID:   y.ID,
		WriteOffset:  (y.Offset + int64(y.StoredLen)) % s.hdr.BufferSize,
	}
}

func (r RecoverReport) String() string {
	return fmt.Sprintf("oldest %d->%d youngest %d->%d youngest_id %d->%d cleared %d",
		r.Before.OldestSlot, r.After.OldestSlot,
		r.Before.YoungestSlot, r.After.YoungestSlot,
		r.Before.YoungestID, r.After.YoungestID, len(r.ClearedSlots))
}
