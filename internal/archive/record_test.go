package archive

import (
	"testing"
	"time"
)

func TestRecordRoundtrip(t *testing.T) {
	e := Entry{QueueID: 42, Type: 3, Subtype: -1, StoreTime: time.UnixMilli(1_700_000_000_123), Payload: []byte("payload")}
	dec, ok := DecodeRecord(EncodeRecord(e))
	if !ok {
		t.Fatalf("decode failed")
	}
	if dec.QueueID != 42 || dec.Type != 3 || dec.Subtype != -1 || !dec.StoreTime.Equal(e.StoreTime) {
		t.Fatalf("header mismatch: %+v", dec)
	}
	if string(dec.Payload) != "payload" {
		t.Fatalf("payload mismatch")
	}
	if ms, ok := storeTimeMs(EncodeRecord(e)); !ok || ms != 1_700_000_000_123 {
		t.Fatalf("store time = %d, %v", ms, ok)
	}
}

func TestRecordCRCFail(t *testing.T) {
	rec := EncodeRecord(Entry{QueueID: 1, Payload: []byte("y")})
	rec[len(rec)-1] ^= 0xFF
	if _, ok := DecodeRecord(rec); ok {
		t.Fatalf("expected crc failure")
	}
	if _, ok := DecodeRecord(rec[:3]); ok {
		t.Fatalf("expected short record failure")
	}
}
