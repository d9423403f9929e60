package fmq

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// On-disk layout, all integers big-endian:
//
//	header  [0, 32)            magic | version | slot_count | buffer_size | crc
//	status  [32, 96)           oldest | youngest | youngest_id | write_offset | generation | time | crc
//	slots   [96, 96+56*n)      one fixed entry per slot
//	data    [dataStart, +size) circular buffer of framed messages
//
// A frame is: magic u32 | slot u32 | id i64 | payload | crc32c u32 | pad to 8.
// Frames are never split across the end of the buffer.
const (
	headerMagic uint32 = 0x464D5131 // "FMQ1"
	frameMagic  uint32 = 0x464D5144 // "FMQD"

	// FormatVersion is the on-disk layout version written by Create.
	FormatVersion uint16 = 1

	headerSize   = 32
	statusOffset = headerSize
	statusSize   = 64
	slotsOffset  = statusOffset + statusSize
	slotSize     = 56

	frameHeaderSize = 16
	frameTrailer    = 4
	frameAlign      = 8
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the immutable geometry written at create time.
type Header struct {
	Version    uint16
	SlotCount  int32
	BufferSize int64
}

// dataOffset is the absolute file offset of the data region.
func (h Header) dataOffset() int64 {
	return alignUp(int64(slotsOffset)+int64(h.SlotCount)*slotSize, frameAlign)
}

// fileSize is the total file length implied by the header.
func (h Header) fileSize() int64 {
	return h.dataOffset() + h.BufferSize
}

func encodeHeader(h Header) []byte {
	b := make([]byte, headerSize)
	binary.BigEndian.PutUint32(b[0:4], headerMagic)
	binary.BigEndian.PutUint16(b[4:6], h.Version)
	binary.BigEndian.PutUint32(b[8:12], uint32(h.SlotCount))
	binary.BigEndian.PutUint64(b[16:24], uint64(h.BufferSize))
	binary.BigEndian.PutUint32(b[24:28], crc32.Checksum(b[0:24], castagnoli))
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize || binary.BigEndian.Uint32(b[0:4]) != headerMagic {
		return Header{}, ErrNotAFmq
	}
	h := Header{
		Version:    binary.BigEndian.Uint16(b[4:6]),
		SlotCount:  int32(binary.BigEndian.Uint32(b[8:12])),
		BufferSize: int64(binary.BigEndian.Uint64(b[16:24])),
	}
	if h.Version != FormatVersion {
		return Header{}, ErrVersionMismatch
	}
	if crc32.Checksum(b[0:24], castagnoli) != binary.BigEndian.Uint32(b[24:28]) {
		return Header{}, corrupt("header", "checksum mismatch")
	}
	if h.SlotCount <= 0 || h.BufferSize <= 0 {
		return Header{}, corrupt("header", "slot_count %d buffer_size %d", h.SlotCount, h.BufferSize)
	}
	return h, nil
}

// StatusBlock is the mutable queue state. It is persisted last on every append.
type StatusBlock struct {
	OldestSlot   int32
	YoungestSlot int32
	YoungestID   int64
	WriteOffset  int64
	Generation   uint64
	TimeWritten  time.Time
}

func emptyStatus() StatusBlock {
	return StatusBlock{OldestSlot: NoSlot, YoungestSlot: NoSlot, YoungestID: NoID}
}

func (s StatusBlock) geometry(slotCount int32) Geometry {
	return Geometry{SlotCount: slotCount, OldestSlot: s.OldestSlot, YoungestSlot: s.YoungestSlot}
}

func encodeStatus(s StatusBlock) []byte {
	b := make([]byte, statusSize)
	binary.BigEndian.PutUint32(b[0:4], uint32(s.OldestSlot))
	binary.BigEndian.PutUint32(b[4:8], uint32(s.YoungestSlot))
	binary.BigEndian.PutUint64(b[8:16], uint64(s.YoungestID))
	binary.BigEndian.PutUint64(b[16:24], uint64(s.WriteOffset))
	binary.BigEndian.PutUint64(b[24:32], s.Generation)
	var ts int64
	if !s.TimeWritten.IsZero() {
		ts = s.TimeWritten.UnixNano()
	}
	binary.BigEndian.PutUint64(b[32:40], uint64(ts))
	binary.BigEndian.PutUint32(b[60:64], crc32.Checksum(b[0:60], castagnoli))
	return b
}

// decodeStatus returns ok=false when the checksum does not match, which is
// what a torn read looks like.
func decodeStatus(b []byte) (StatusBlock, bool) {
	if len(b) < statusSize {
		return StatusBlock{}, false
	}
	if crc32.Checksum(b[0:60], castagnoli) != binary.BigEndian.Uint32(b[60:64]) {
		return StatusBlock{}, false
	}
	s := StatusBlock{
		OldestSlot:   int32(binary.BigEndian.Uint32(b[0:4])),
		YoungestSlot: int32(binary.BigEndian.Uint32(b[4:8])),
		YoungestID:   int64(binary.BigEndian.Uint64(b[8:16])),
		WriteOffset:  int64(binary.BigEndian.Uint64(b[16:24])),
		Generation:   binary.BigEndian.Uint64(b[24:32]),
	}
	if ts := int64(binary.BigEndian.Uint64(b[32:40])); ts != 0 {
		s.TimeWritten = time.Unix(0, ts)
	}
	return s, true
}

// validate checks the status invariants against the header geometry.
func (s StatusBlock) validate(h Header) error {
	if (s.OldestSlot == NoSlot) != (s.YoungestSlot == NoSlot) {
		return corrupt("status", "oldest_slot %d youngest_slot %d: only one is empty", s.OldestSlot, s.YoungestSlot)
	}
	if s.OldestSlot != NoSlot {
		if s.OldestSlot < 0 || s.OldestSlot >= h.SlotCount || s.YoungestSlot < 0 || s.YoungestSlot >= h.SlotCount {
			return corrupt("status", "slot out of range: oldest %d youngest %d slots %d", s.OldestSlot, s.YoungestSlot, h.SlotCount)
		}
		if s.YoungestID < 0 {
			return corrupt("status", "non-empty queue with youngest_id %d", s.YoungestID)
		}
	}
	if s.YoungestID < NoID || s.YoungestID >= MaxID {
		return corrupt("status", "youngest_id %d out of range", s.YoungestID)
	}
	if s.WriteOffset < 0 || s.WriteOffset >= h.BufferSize {
		return corrupt("status", "write_offset %d outside buffer of %d", s.WriteOffset, h.BufferSize)
	}
	return nil
}

// SlotEntry describes one stored message.
type SlotEntry struct {
	ID          int64
	Offset      int64 // frame offset within the data region
	Length      int32 // stored payload bytes (after compression)
	StoredLen   int32 // framed and padded bytes occupied in the buffer
	Type        int32
	Subtype     int32
	StoreTime   time.Time
	RawLen      int32 // payload bytes before compression
	Compression Compression
}

func emptySlot() SlotEntry {
	return SlotEntry{ID: NoID}
}

// Used reports whether the entry describes a message.
func (e SlotEntry) Used() bool { return e.ID != NoID }

func encodeSlot(e SlotEntry) []byte {
	b := make([]byte, slotSize)
	putSlot(b, e)
	return b
}

func putSlot(b []byte, e SlotEntry) {
	binary.BigEndian.PutUint64(b[0:8], uint64(e.ID))
	binary.BigEndian.PutUint64(b[8:16], uint64(e.Offset))
	binary.BigEndian.PutUint32(b[16:20], uint32(e.Length))
	binary.BigEndian.PutUint32(b[20:24], uint32(e.StoredLen))
	binary.BigEndian.PutUint32(b[24:28], uint32(e.Type))
	binary.BigEndian.PutUint32(b[28:32], uint32(e.Subtype))
	var ts int64
	if !e.StoreTime.IsZero() {
		ts = e.StoreTime.UnixNano()
	}
	binary.BigEndian.PutUint64(b[32:40], uint64(ts))
	binary.BigEndian.PutUint32(b[40:44], uint32(e.RawLen))
	binary.BigEndian.PutUint16(b[44:46], uint16(e.Compression))
	binary.BigEndian.PutUint32(b[48:52], crc32.Checksum(b[0:48], castagnoli))
}

func decodeSlot(b []byte) (SlotEntry, bool) {
	if len(b) < slotSize {
		return SlotEntry{}, false
	}
	if crc32.Checksum(b[0:48], castagnoli) != binary.BigEndian.Uint32(b[48:52]) {
		return SlotEntry{}, false
	}
	e := SlotEntry{
		ID:          int64(binary.BigEndian.Uint64(b[0:8])),
		Offset:      int64(binary.BigEndian.Uint64(b[8:16])),
		Length:      int32(binary.BigEndian.Uint32(b[16:20])),
		StoredLen:   int32(binary.BigEndian.Uint32(b[20:24])),
		Type:        int32(binary.BigEndian.Uint32(b[24:28])),
		Subtype:     int32(binary.BigEndian.Uint32(b[28:32])),
		RawLen:      int32(binary.BigEndian.Uint32(b[40:44])),
		Compression: Compression(binary.BigEndian.Uint16(b[44:46])),
	}
	if ts := int64(binary.BigEndian.Uint64(b[32:40])); ts != 0 {
		e.StoreTime = time.Unix(0, ts)
	}
	return e, true
}

// storedLen is the buffer space a payload of n bytes occupies once framed.
func storedLen(n int) int64 {
	return alignUp(int64(frameHeaderSize+n+frameTrailer), frameAlign)
}

// MaxPayload returns the largest stored payload that fits in a buffer of the given size.
func MaxPayload(bufferSize int64) int64 {
	return alignDown(bufferSize, frameAlign) - frameHeaderSize - frameTrailer
}

func encodeFrame(slot int32, id int64, payload []byte) []byte {
	n := storedLen(len(payload))
	b := make([]byte, n)
	binary.BigEndian.PutUint32(b[0:4], frameMagic)
	binary.BigEndian.PutUint32(b[4:8], uint32(slot))
	binary.BigEndian.PutUint64(b[8:16], uint64(id))
	copy(b[frameHeaderSize:], payload)
	end := frameHeaderSize + len(payload)
	binary.BigEndian.PutUint32(b[end:end+4], crc32.Checksum(b[4:end], castagnoli))
	return b
}

// decodeFrame validates a frame read for the given slot entry and returns its payload.
func decodeFrame(b []byte, slot int32, e SlotEntry) ([]byte, error) {
	end := frameHeaderSize + int(e.Length)
	if len(b) < end+frameTrailer {
		return nil, corrupt("frame", "short frame for slot %d: %d bytes", slot, len(b))
	}
	if binary.BigEndian.Uint32(b[0:4]) != frameMagic {
		return nil, corrupt("frame", "bad magic at offset %d for slot %d", e.Offset, slot)
	}
	if got := int64(binary.BigEndian.Uint64(b[8:16])); got != e.ID {
		return nil, corrupt("frame", "slot %d expects id %d, frame holds %d", slot, e.ID, got)
	}
	if got := int32(binary.BigEndian.Uint32(b[4:8])); got != slot {
		return nil, corrupt("frame", "frame for id %d names slot %d, found in slot %d", e.ID, got, slot)
	}
	if crc32.Checksum(b[4:end], castagnoli) != binary.BigEndian.Uint32(b[end:end+4]) {
		return nil, corrupt("frame", "checksum mismatch for id %d", e.ID)
	}
	return append([]byte(nil), b[frameHeaderSize:end]...), nil
}

func alignUp(n, a int64) int64   { return (n + a - 1) / a * a }
func alignDown(n, a int64) int64 { return n / a * a }
