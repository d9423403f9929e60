package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type testMetrics struct {
	wrote        int
	read         int
	batchCommits int
	batchOps     int
}

func (m *testMetrics) ObserveWrite(_ time.Duration, bytes int) { m.wrote += bytes }
func (m *testMetrics) ObserveRead(_ time.Duration, bytes int)  { m.read += bytes }
func (m *testMetrics) ObserveBatchCommit(_ time.Duration, numOps int, _ int) {
	m.batchCommits++
	m.batchOps += numOps
}

func newTestDB(t *testing.T) (*DB, *testMetrics) {
	t.Helper()
	metrics := &testMetrics{}
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeInterval, FsyncInterval: 2 * time.Millisecond, Metrics: metrics})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, metrics
}

func TestSetGetDelete(t *testing.T) {
	db, metrics := newTestDB(t)
	if err := db.Set([]byte("cursor/a"), []byte("41")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("cursor/a"))
	if err != nil || string(got) != "41" {
		t.Fatalf("get: %q, %v", got, err)
	}
	if metrics.wrote == 0 || metrics.read == 0 {
		t.Fatalf("metrics not observed: %+v", metrics)
	}
	if err := db.Delete([]byte("cursor/a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("cursor/a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchCommitCountsOps(t *testing.T) {
	db, metrics := newTestDB(t)
	b := db.NewBatch()
	for i := 0; i < 3; i++ {
		if err := b.Set([]byte(fmt.Sprintf("k%d", i)), []byte("v"), nil); err != nil {
			t.Fatalf("batch set: %v", err)
		}
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = b.Close()
	if metrics.batchCommits != 1 || metrics.batchOps != 3 {
		t.Fatalf("metrics %+v", metrics)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b2 := db.NewBatch()
	defer b2.Close()
	if err := db.CommitBatch(ctx, b2); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestScanPrefix(t *testing.T) {
	db, _ := newTestDB(t)
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1", "a"} {
		if err := db.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	var keys []string
	if err := db.ScanPrefix([]byte("a/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return len(keys) < 2
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if fmt.Sprint(keys) != "[a/1 a/2]" {
		t.Fatalf("keys %v", keys)
	}
}

func TestPrefixEnd(t *testing.T) {
	if got := prefixEnd([]byte{0x01, 0xff}); string(got) != string([]byte{0x02}) {
		t.Fatalf("prefixEnd = %x", got)
	}
	if got := prefixEnd([]byte{0xff, 0xff}); got != nil {
		t.Fatalf("prefixEnd all-ff = %x", got)
	}
}
