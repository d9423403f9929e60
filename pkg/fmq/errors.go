package fmq

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig reports a bad path or non-positive geometry.
	ErrInvalidConfig = errors.New("fmq: invalid configuration")
	// ErrAlreadyExists is returned by Create when the file exists and Overwrite is unset.
	ErrAlreadyExists = errors.New("fmq: queue already exists")
	// ErrNotAFmq reports a file whose header magic does not match.
	ErrNotAFmq = errors.New("fmq: not a file message queue")
	// ErrVersionMismatch reports an unsupported on-disk format version.
	ErrVersionMismatch = errors.New("fmq: format version mismatch")
	// ErrCorrupted reports violated on-disk invariants.
	ErrCorrupted = errors.New("fmq: queue corrupted")
	// ErrMessageTooLarge reports a message that can never fit in the buffer.
	ErrMessageTooLarge = errors.New("fmq: message too large")
	// ErrWouldBlock reports that the writer lock is held and waiting was not requested.
	ErrWouldBlock = errors.New("fmq: operation would block")
	// ErrTimedOut reports a blocking operation that ran out of time.
	ErrTimedOut = errors.New("fmq: timed out")
	// ErrWriterConflict reports a second writer on the same queue.
	ErrWriterConflict = errors.New("fmq: queue already has a writer")
	// ErrIDNotFound reports a seek to an id that is not in the active region.
	ErrIDNotFound = errors.New("fmq: id not found")
	// ErrClosed reports use of a closed handle.
	ErrClosed = errors.New("fmq: handle closed")
	// ErrReadOnly reports a mutation through a read-only handle.
	ErrReadOnly = errors.New("fmq: handle is read-only")
)

// CorruptionError describes which invariant failed. It matches ErrCorrupted.
type CorruptionError struct {
	Check  string
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("fmq: queue corrupted: %s: %s", e.Check, e.Detail)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupted }

func corrupt(check, format string, args ...any) error {
	return &CorruptionError{Check: check, Detail: fmt.Sprintf(format, args...)}
}
