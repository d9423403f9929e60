// Package runtime wires the Pebble state store, reader checkpoints and queue
// archives into one handle for the fmq command line tools.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default(), Fsync: pebblestore.FsyncModeAlways})
//	defer rt.Close()
//	r, _ := fmq.OpenReader(path, fmq.ReaderOptions{Name: "archiver", Cursors: rt.Cursors(path)})
//	l, _ := rt.OpenArchive(path)
//	_, _ = archive.Drain(ctx, r, l, archive.DrainOptions{Commit: true})
package runtime
