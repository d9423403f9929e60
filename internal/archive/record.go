package archive

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)
//
// header: queue_id_be8 | type_be4 | subtype_be4 | store_time_ms_be8

const entryHeaderSize = 24

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Entry is one archived queue message.
type Entry struct {
	QueueID   int64
	Type      int32
	Subtype   int32
	StoreTime time.Time
	Payload   []byte
}

func encodeHeader(e Entry) []byte {
	h := make([]byte, entryHeaderSize)
	binary.BigEndian.PutUint64(h[0:8], uint64(e.QueueID))
	binary.BigEndian.PutUint32(h[8:12], uint32(e.Type))
	binary.BigEndian.PutUint32(h[12:16], uint32(e.Subtype))
	binary.BigEndian.PutUint64(h[16:24], uint64(e.StoreTime.UnixMilli()))
	return h
}

// EncodeRecord serializes e for storage.
func EncodeRecord(e Entry) []byte {
	header := encodeHeader(e)
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(e.Payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, e.Payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, e.Payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

// DecodeRecord parses and verifies a stored record. Headers longer than the
// current layout are accepted and their extra bytes ignored.
func DecodeRecord(b []byte) (Entry, bool) {
	if len(b) < 1+4 {
		return Entry{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || hlen < entryHeaderSize || hlen > uint64(len(b)) {
		return Entry{}, false
	}
	if n+int(hlen)+4 > len(b) {
		return Entry{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return Entry{}, false
	}
	return Entry{
		QueueID:   int64(binary.BigEndian.Uint64(header[0:8])),
		Type:      int32(binary.BigEndian.Uint32(header[8:12])),
		Subtype:   int32(binary.BigEndian.Uint32(header[12:16])),
		StoreTime: time.UnixMilli(int64(binary.BigEndian.Uint64(header[16:24]))),
		Payload:   append([]byte(nil), payload...),
	}, true
}

// storeTimeMs reads the store time of an encoded record without copying the
// payload.
func storeTimeMs(b []byte) (int64, bool) {
	hlen, n := binary.Uvarint(b)
	if n <= 0 || hlen < entryHeaderSize || n+int(hlen)+4 > len(b) {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(b[n+16 : n+24])), true
}
