package fmq

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
)

// FsyncMode defines when the queue file is synced to stable storage.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs before and after every status write, so the
	// status block can never reach disk ahead of the data it describes.
	FsyncModeAlways
	// FsyncModeInterval syncs at most once per FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves flushing to the OS. A process crash is still safe;
	// a power loss may lose recent appends.
	FsyncModeNever
)

// ParseFsyncMode maps "always|interval|never" to a FsyncMode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never", "":
		return FsyncModeNever, nil
	default:
		return FsyncModeUnspecified, fmt.Errorf("%w: invalid fsync mode %q; use always|interval|never", ErrInvalidConfig, s)
	}
}

// device is the byte-addressed backing medium of a queue file.
type device interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// fileDevice performs positioned reads and writes on the queue file.
type fileDevice struct {
	f *os.File
}

func (d *fileDevice) ReadAt(p []byte, off int64) (int, error)  { return d.f.ReadAt(p, off) }
func (d *fileDevice) WriteAt(p []byte, off int64) (int, error) { return d.f.WriteAt(p, off) }
func (d *fileDevice) Sync() error                              { return d.f.Sync() }
func (d *fileDevice) Close() error                             { return d.f.Close() }

// mappedDevice serves reads from a read-only shared mapping of the file. The
// writer updates the file through the page cache, so the mapping observes the
// same bytes a pread would.
type mappedDevice struct {
	f *os.File
	m mmap.MMap
}

func newMappedDevice(f *os.File) (*mappedDevice, error) {
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("fmq: map %s: %w", f.Name(), err)
	}
	return &mappedDevice{f: f, m: m}, nil
}

func (d *mappedDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.m)) {
		return 0, io.EOF
	}
	n := copy(p, d.m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *mappedDevice) WriteAt([]byte, int64) (int, error) { return 0, ErrReadOnly }
func (d *mappedDevice) Sync() error                        { return nil }

func (d *mappedDevice) Close() error {
	uerr := d.m.Unmap()
	cerr := d.f.Close()
	if uerr != nil {
		return uerr
	}
	return cerr
}

// syncPolicy applies a FsyncMode to a device.
type syncPolicy struct {
	mode     FsyncMode
	interval time.Duration

	mu       sync.Mutex
	lastSync time.Time
}

func newSyncPolicy(mode FsyncMode, interval time.Duration) *syncPolicy {
	if mode == FsyncModeInterval && interval <= 0 {
		interval = 5 * time.Millisecond
	}
	return &syncPolicy{mode: mode, interval: interval}
}

// barrier is called between the data/slot writes and the status write.
func (p *syncPolicy) barrier(d device) error {
	if p.mode != FsyncModeAlways {
		return nil
	}
	return d.Sync()
}

// commit is called after the status write.
func (p *syncPolicy) commit(d device) error {
	switch p.mode {
	case FsyncModeAlways:
		return d.Sync()
	case FsyncModeInterval:
		p.mu.Lock()
		defer p.mu.Unlock()
		if time.Since(p.lastSync) < p.interval {
			return nil
		}
		p.lastSync = time.Now()
		return d.Sync()
	default:
		return nil
	}
}
