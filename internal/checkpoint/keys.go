package checkpoint

import (
	"encoding/binary"
	"path/filepath"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - cursor/{queue_len_be4}{queue}/{reader}
//
// The queue name is length-prefixed so that one queue path is never a key
// prefix of another.

var (
	cursorPrefix = []byte("cursor/")
	sep          = byte('/')
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// KeyQueuePrefix returns the prefix shared by every cursor of queue.
func KeyQueuePrefix(queue string) []byte {
	k := make([]byte, 0, len(cursorPrefix)+4+len(queue)+1)
	k = append(k, cursorPrefix...)
	k = appendBE4(k, uint32(len(queue)))
	k = append(k, queue...)
	k = append(k, sep)
	return k
}

// KeyCursor builds the cursor key of a named reader of queue.
func KeyCursor(queue, reader string) []byte {
	return append(KeyQueuePrefix(queue), reader...)
}

// QueueKey normalizes a queue file path so that different spellings of the
// same path share their cursors.
func QueueKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
