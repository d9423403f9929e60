package fmq

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestHeaderRejectsForeignFiles(t *testing.T) {
	b := encodeHeader(Header{Version: FormatVersion, SlotCount: 8, BufferSize: 4096})
	h, err := decodeHeader(b)
	if err != nil || h.SlotCount != 8 || h.BufferSize != 4096 {
		t.Fatalf("decode: %+v, %v", h, err)
	}

	bad := append([]byte(nil), b...)
	bad[0] ^= 0xff
	if _, err := decodeHeader(bad); !errors.Is(err, ErrNotAFmq) {
		t.Fatalf("bad magic: %v", err)
	}

	v2 := append([]byte(nil), b...)
	binary.BigEndian.PutUint16(v2[4:6], FormatVersion+1)
	if _, err := decodeHeader(v2); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("version: %v", err)
	}

	flipped := append([]byte(nil), b...)
	flipped[10] ^= 0x01
	if _, err := decodeHeader(flipped); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("checksum: %v", err)
	}
}

func TestStatusChecksumDetectsTornWrite(t *testing.T) {
	st := StatusBlock{OldestSlot: 1, YoungestSlot: 3, YoungestID: 42, WriteOffset: 96, Generation: 7, TimeWritten: time.Unix(0, 12345)}
	b := encodeStatus(st)
	got, ok := decodeStatus(b)
	if !ok || got != st {
		t.Fatalf("decode = %+v, %v", got, ok)
	}
	copy(b[8:16], encodeStatus(StatusBlock{YoungestID: 43})[8:16])
	if _, ok := decodeStatus(b); ok {
		t.Fatalf("mixed status block passed its checksum")
	}
}

func TestStatusValidate(t *testing.T) {
	h := Header{Version: FormatVersion, SlotCount: 4, BufferSize: 1024}
	cases := []StatusBlock{
		{OldestSlot: NoSlot, YoungestSlot: 2, YoungestID: 5},
		{OldestSlot: 0, YoungestSlot: 4, YoungestID: 5},
		{OldestSlot: 0, YoungestSlot: 1, YoungestID: NoID},
		{OldestSlot: NoSlot, YoungestSlot: NoSlot, YoungestID: NoID, WriteOffset: 1024},
		{OldestSlot: NoSlot, YoungestSlot: NoSlot, YoungestID: MaxID},
	}
	for i, st := range cases {
		if err := st.validate(h); !errors.Is(err, ErrCorrupted) {
			t.Fatalf("case %d: expected corruption, got %v", i, err)
		}
	}
	if err := emptyStatus().validate(h); err != nil {
		t.Fatalf("empty status: %v", err)
	}
}

func TestFrameValidation(t *testing.T) {
	payload := []byte("hello queue")
	e := SlotEntry{ID: 9, Length: int32(len(payload)), StoredLen: int32(storedLen(len(payload)))}
	frame := encodeFrame(2, 9, payload)
	if int64(len(frame)) != storedLen(len(payload)) || len(frame)%frameAlign != 0 {
		t.Fatalf("frame length %d", len(frame))
	}
	got, err := decodeFrame(frame, 2, e)
	if err != nil || string(got) != string(payload) {
		t.Fatalf("decode: %q, %v", got, err)
	}
	if _, err := decodeFrame(frame, 3, e); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("wrong slot accepted: %v", err)
	}
	other := e
	other.ID = 10
	if _, err := decodeFrame(frame, 2, other); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("wrong id accepted: %v", err)
	}
	frame[frameHeaderSize+1] ^= 0x20
	if _, err := decodeFrame(frame, 2, e); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("flipped payload accepted: %v", err)
	}
}

func TestMaxPayloadFills(t *testing.T) {
	for _, size := range []int64{64, 256, 1000, 4096} {
		aligned := alignUp(size, frameAlign)
		if got := storedLen(int(MaxPayload(aligned))); got != aligned {
			t.Fatalf("size %d: max payload frames to %d", aligned, got)
		}
	}
}
