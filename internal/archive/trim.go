package archive

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"

	logpkg "github.com/rzbill/fmq/pkg/log"
)

const defaultTrimBatch = 1024

// TrimOlderThan deletes the oldest entries whose store time is before cutoff.
// Deletes are committed in batches of up to batchLimit keys with an optional
// throttle between commits. Trimming stops at the first entry that is not
// older than cutoff. Returns the number of deleted entries and the last
// deleted sequence (0 if none).
func (l *Log) TrimOlderThan(ctx context.Context, cutoff time.Time, batchLimit int, throttle time.Duration) (int, uint64, error) {
	cutoffMs := cutoff.UnixMilli()
	return l.trim(ctx, batchLimit, throttle, func(it *pebble.Iterator) bool {
		ms, ok := storeTimeMs(it.Value())
		return ok && ms < cutoffMs
	})
}

// TrimToMaxBytes approximates retention by total value bytes.
// If current bytes <= maxBytes, it is a no-op. Otherwise, deletes the oldest
// entries until total bytes <= maxBytes. Batched and throttled like
// TrimOlderThan.
func (l *Log) TrimToMaxBytes(ctx context.Context, maxBytes int64, batchLimit int, throttle time.Duration) (int, error) {
	if maxBytes < 0 {
		return 0, nil
	}
	total, err := l.Size()
	if err != nil {
		return 0, err
	}
	if total <= maxBytes {
		return 0, nil
	}
	deleted, _, err := l.trim(ctx, batchLimit, throttle, func(it *pebble.Iterator) bool {
		if total <= maxBytes {
			return false
		}
		total -= int64(len(it.Value()))
		return true
	})
	return deleted, err
}

// Size returns the total value bytes of all entries.
func (l *Log) Size() (int64, error) {
	low, high := entryBounds(l.queue)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var total int64
	for ok := iter.First(); ok; ok = iter.Next() {
		total += int64(len(iter.Value()))
	}
	return total, iter.Error()
}

// Compact asks Pebble to rewrite the entry range so space freed by trims is
// returned to the filesystem.
func (l *Log) Compact() error {
	low, high := entryBounds(l.queue)
	return l.db.CompactRange(low, high)
}

// trim deletes entries from the oldest while del returns true.
func (l *Log) trim(ctx context.Context, batchLimit int, throttle time.Duration, del func(*pebble.Iterator) bool) (int, uint64, error) {
	if batchLimit <= 0 {
		batchLimit = defaultTrimBatch
	}
	low, high := entryBounds(l.queue)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()

	deleted := 0
	var lastSeq uint64
	ok := iter.First() && del(iter)
	for ok {
		b := l.db.NewBatch()
		n := 0
		minSeq := seqFromKey(iter.Key())
		for ok && n < batchLimit {
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, lastSeq, err
			}
			lastSeq = seqFromKey(iter.Key())
			n++
			ok = iter.Next() && del(iter)
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, lastSeq, err
		}
		b.Close()
		deleted += n
		l.hook.TrimmedRange(l.queue, minSeq, lastSeq)
		l.logger.Debug("archive trimmed",
			logpkg.Uint64("min_seq", minSeq),
			logpkg.Uint64("max_seq", lastSeq))
		if ok && throttle > 0 {
			select {
			case <-ctx.Done():
				return deleted, lastSeq, ctx.Err()
			case <-time.After(throttle):
			}
		}
	}
	return deleted, lastSeq, iter.Error()
}
