package archive

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/fmq/pkg/fmq"
	logpkg "github.com/rzbill/fmq/pkg/log"
)

const (
	defaultDrainBatch = 256
	defaultDrainWait  = time.Second
)

// DrainOptions control Drain.
type DrainOptions struct {
	// BatchSize is the number of messages per archive batch.
	BatchSize int
	// Follow keeps draining new messages until ctx ends.
	Follow bool
	// Wait bounds each blocking read while following.
	Wait time.Duration
	// Commit saves the reader cursor after every archived batch. The reader
	// must have been opened with a Name and Cursors.
	Commit bool
	// Read filters the messages that are archived.
	Read fmq.ReadOptions
}

// DrainStats summarize a Drain call.
type DrainStats struct {
	Archived int
	Batches  int
	Missed   int64
	LastSeq  uint64
}

// Drain copies messages from r into l until the queue has no more messages,
// or, with Follow, until ctx ends. Messages are archived in batches and, with
// Commit, the reader cursor is committed only after its batch is durable, so
// a crash can repeat messages but never lose them.
func Drain(ctx context.Context, r *fmq.Reader, l *Log, opts DrainOptions) (DrainStats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultDrainBatch
	}
	if opts.Wait <= 0 {
		opts.Wait = defaultDrainWait
	}
	var stats DrainStats
	batch := make([]Entry, 0, opts.BatchSize)

	flush := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		seqs, err := l.Append(ctx, batch)
		if err != nil {
			return err
		}
		stats.Archived += len(batch)
		stats.Batches++
		stats.LastSeq = seqs[len(seqs)-1]
		batch = batch[:0]
		if opts.Commit {
			return r.Commit()
		}
		return nil
	}

	for {
		ro := opts.Read
		ro.Block, ro.Timeout = false, 0
		if len(batch) == 0 && opts.Follow {
			ro.Block, ro.Timeout = true, opts.Wait
		}
		res, err := r.ReadNext(ctx, ro)
		switch {
		case errors.Is(err, fmq.ErrTimedOut):
			continue
		case err != nil && ctx.Err() != nil && opts.Follow:
			// Archive what was read before the cancel; ctx can no longer commit.
			ferr := flush(context.WithoutCancel(ctx))
			return stats, ferr
		case err != nil:
			ferr := flush(context.WithoutCancel(ctx))
			return stats, errors.Join(err, ferr)
		}

		switch res.Status {
		case fmq.ReadOK:
			m := res.Message
			batch = append(batch, Entry{
				QueueID:   m.ID,
				Type:      m.Type,
				Subtype:   m.Subtype,
				StoreTime: m.StoreTime,
				Payload:   m.Payload,
			})
			if len(batch) >= opts.BatchSize {
				if err := flush(ctx); err != nil {
					return stats, err
				}
			}
		case fmq.ReadMissed:
			stats.Missed += res.Missed
			l.logger.Warn("drain fell behind the queue writer", logpkg.Int64("missed", res.Missed))
		case fmq.ReadEndOfData:
			if err := flush(ctx); err != nil {
				return stats, err
			}
			if !opts.Follow {
				return stats, nil
			}
		}
	}
}
