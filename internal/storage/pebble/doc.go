// Package pebblestore wraps Pebble with an fsync policy, prefix scans, a
// logger bridge and metrics hooks. fmq keeps reader checkpoints and queue
// archives in it.
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeInterval})
//	if err != nil { /* handle */ }
//	defer db.Close()
//	_ = db.Set([]byte("k"), []byte("v"))
//	_ = db.ScanPrefix([]byte("k"), func(k, v []byte) bool { return true })
package pebblestore
