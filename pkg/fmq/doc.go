// Package fmq implements a file message queue: a fixed-size, persistent,
// circular queue of typed messages shared between one writer process and any
// number of reader processes through a single file.
//
// # Layout
//
// A queue file holds a header, a status block, a table of slot entries and a
// circular data buffer. Each message occupies one slot and one contiguous,
// checksummed frame in the buffer. When either the slots or the buffer bytes
// run out, the writer evicts the oldest messages.
//
// # Writing
//
//	w, err := fmq.OpenWriter(ctx, path, fmq.WriterOptions{Compression: fmq.CompressionZstd})
//	id, err := w.Append(msgType, msgSubtype, payload)
//
// The writer holds an exclusive lock on the file until Close; a second writer
// fails with ErrWriterConflict. Every append writes the frame, then the slot
// entry, then the status block, so an interrupted append leaves the queue as
// it was before.
//
// # Reading
//
//	r, err := fmq.OpenReader(path, fmq.ReaderOptions{Start: fmq.SeekStart})
//	res, err := r.ReadNext(ctx, fmq.ReadOptions{Block: true, Timeout: time.Second})
//
// Readers keep a private cursor by message id and never write the file. A
// reader that falls behind the writer gets a single ReadMissed result with
// the number of lost messages and continues from the oldest one still stored.
package fmq
