package runtime

import (
	"context"
	"path/filepath"
	"testing"

	cfgpkg "github.com/rzbill/fmq/internal/config"
	pebblestore "github.com/rzbill/fmq/internal/storage/pebble"
)

func TestOpenCloseHealth(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err == nil {
		t.Fatalf("expected health error after close")
	}
}

func TestDefaultsToStateDir(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.CheckpointDir = t.TempDir()
	rt, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if matches, _ := filepath.Glob(filepath.Join(cfg.CheckpointDir, "state", "*")); len(matches) == 0 {
		t.Fatalf("no pebble files under %s/state", cfg.CheckpointDir)
	}
}

func TestArchivesAreShared(t *testing.T) {
	rt, err := Open(Options{DataDir: t.TempDir(), Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	a, err := rt.OpenArchive("/data/q.fmq")
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	b, err := rt.OpenArchive("/data/../data/q.fmq")
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if a != b {
		t.Fatalf("same queue opened two archive logs")
	}
	if err := rt.Cursors("/data/q.fmq").SaveCursor("r", 3); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	if id, ok, _ := rt.Cursors("/data/./q.fmq").LoadCursor("r"); !ok || id != 3 {
		t.Fatalf("cursor = %d, %v", id, ok)
	}
}
