// Package archive keeps a durable, append-only copy of queue messages in
// Pebble.
//
// A queue file is bounded and evicts its oldest messages; Drain copies them
// out through a fmq.Reader before that happens. Each queue has its own
// archive log keyed by a monotonically increasing sequence:
//   - archive/{queue_len_be4}{queue}/m           (metadata: lastSeq)
//   - archive/{queue_len_be4}{queue}/e/{seq_be8} (entries)
//
// Entries are stored as: varint headerLen | header | payload | crc32c(header|payload),
// where the header carries the queue id, type, subtype and store time.
//
//	l, _ := archive.Open(db, queueName, archive.Options{})
//	stats, _ := archive.Drain(ctx, reader, l, archive.DrainOptions{Commit: true})
//	items, next, _ := l.Read(archive.ReadOptions{Limit: 100})
//
// Trims by age (TrimOlderThan) or total size (TrimToMaxBytes) delete the
// oldest entries in batches and report each deleted range to the TrimHook.
package archive
