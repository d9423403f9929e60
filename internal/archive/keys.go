package archive

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - archive/{queue_len_be4}{queue}/m           (metadata: lastSeq)
// - archive/{queue_len_be4}{queue}/e/{seq_be8} (entries)

var (
	archivePrefix = []byte("archive/")
	metaSuffix    = []byte("/m")
	entrySeg      = []byte("/e/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func keyQueue(queue string, extra int) []byte {
	k := make([]byte, 0, len(archivePrefix)+4+len(queue)+extra)
	k = append(k, archivePrefix...)
	k = appendBE4(k, uint32(len(queue)))
	k = append(k, queue...)
	return k
}

// KeyMeta builds the metadata key of a queue archive.
func KeyMeta(queue string) []byte {
	return append(keyQueue(queue, len(metaSuffix)), metaSuffix...)
}

// KeyEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyEntry(queue string, seq uint64) []byte {
	k := keyQueue(queue, len(entrySeg)+8)
	k = append(k, entrySeg...)
	return appendBE8(k, seq)
}

// entryBounds returns the iterator bounds covering every entry of queue.
func entryBounds(queue string) (low, high []byte) {
	low = KeyEntry(queue, 0)
	high = append(KeyEntry(queue, ^uint64(0)), 0x00)
	return low, high
}

func seqFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
