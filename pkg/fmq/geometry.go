package fmq

// MaxID is the size of the wrapping message id space. Ids run 0..MaxID-1.
const MaxID int64 = 1 << 31

// NoID marks "no message": an unused slot, or a queue nothing was written to yet.
const NoID int64 = -1

// NoSlot marks an empty active region.
const NoSlot int32 = -1

// Geometry is the slot-addressing view of a queue: the slot count plus the
// oldest/youngest slot pair taken from one status snapshot.
type Geometry struct {
	SlotCount    int32
	OldestSlot   int32
	YoungestSlot int32
}

// NextSlot returns the slot following s, wrapping at SlotCount.
func (g Geometry) NextSlot(s int32) int32 {
	return (s + 1) % g.SlotCount
}

// PrevSlot returns the slot before s, wrapping at 0.
func (g Geometry) PrevSlot(s int32) int32 {
	return (s - 1 + g.SlotCount) % g.SlotCount
}

// Empty reports whether no slot is active.
func (g Geometry) Empty() bool {
	return g.OldestSlot < 0 || g.YoungestSlot < 0
}

// SlotInActiveRegion reports whether slot s holds a live message.
//
// When youngest >= oldest the region is [oldest, youngest]. Otherwise it wraps
// past the end of the table and is [oldest, SlotCount) plus [0, youngest].
func (g Geometry) SlotInActiveRegion(s int32) bool {
	if g.Empty() {
		return false
	}
	if g.YoungestSlot >= g.OldestSlot {
		return s >= g.OldestSlot && s <= g.YoungestSlot
	}
	return s >= g.OldestSlot || s <= g.YoungestSlot
}

// ActiveCount returns the number of slots in the active region.
func (g Geometry) ActiveCount() int32 {
	if g.Empty() {
		return 0
	}
	if g.YoungestSlot >= g.OldestSlot {
		return g.YoungestSlot - g.OldestSlot + 1
	}
	return g.SlotCount - g.OldestSlot + g.YoungestSlot + 1
}

// NextID returns the id following id. NextID(NoID) is 0.
func NextID(id int64) int64 {
	return (id + 1) % MaxID
}

// PrevID returns the id before id, wrapping 0 to MaxID-1.
func PrevID(id int64) int64 {
	return (id - 1 + MaxID) % MaxID
}

// IDDistance returns how many NextID steps lead from a to b.
func IDDistance(a, b int64) int64 {
	return ((b-a)%MaxID + MaxID) % MaxID
}

// IDAfter reports whether b is strictly newer than a using serial number
// arithmetic: b is after a when it lies within half the id space ahead of it.
// NoID precedes every id.
func IDAfter(a, b int64) bool {
	if b == NoID {
		return false
	}
	if a == NoID {
		return true
	}
	d := IDDistance(a, b)
	return d != 0 && d < MaxID/2
}

// FindSlotForID scans the slot table for the slot holding searchID. It returns
// (NoSlot, true) for NoID without scanning and (NoSlot, false) when no slot
// carries the id.
func FindSlotForID(slots []SlotEntry, searchID int64) (int32, bool) {
	if searchID == NoID {
		return NoSlot, true
	}
	for i := range slots {
		if slots[i].ID == searchID {
			return int32(i), true
		}
	}
	return NoSlot, false
}

// idIndex is a derived id->slot map over one slot table snapshot. It must
// always agree with FindSlotForID.
type idIndex map[int64]int32

func buildIDIndex(slots []SlotEntry) idIndex {
	idx := make(idIndex, len(slots))
	for i := range slots {
		if slots[i].ID == NoID {
			continue
		}
		if _, dup := idx[slots[i].ID]; dup {
			continue
		}
		idx[slots[i].ID] = int32(i)
	}
	return idx
}

func (idx idIndex) lookup(searchID int64) (int32, bool) {
	if searchID == NoID {
		return NoSlot, true
	}
	s, ok := idx[searchID]
	if !ok {
		return NoSlot, false
	}
	return s, true
}
