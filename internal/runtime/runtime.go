package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/rzbill/fmq/internal/archive"
	"github.com/rzbill/fmq/internal/checkpoint"
	cfgpkg "github.com/rzbill/fmq/internal/config"
	pebblestore "github.com/rzbill/fmq/internal/storage/pebble"
	logpkg "github.com/rzbill/fmq/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	// DataDir is the Pebble directory. Empty means the state directory under
	// Config.DataDir().
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	Logger  logpkg.Logger
	// TrimHook receives the ranges deleted from archives. Optional.
	TrimHook archive.TrimHook
}

// Runtime wires the Pebble state store, reader checkpoints and queue archives
// for one process.
type Runtime struct {
	db          *pebblestore.DB
	config      cfgpkg.Config
	logger      logpkg.Logger
	checkpoints *checkpoint.Store
	hook        archive.TrimHook

	mu       sync.Mutex
	archives map[string]*archive.Log
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	dir := opts.DataDir
	if dir == "" {
		dir = cfgpkg.StateDir(opts.Config.DataDir())
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: opts.Fsync, Logger: logger})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		db:          db,
		config:      opts.Config,
		logger:      logger,
		checkpoints: checkpoint.New(db, logger),
		hook:        opts.TrimHook,
		archives:    make(map[string]*archive.Log),
	}
	logger.Debug("state store opened", logpkg.Str("dir", dir))
	return rt, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("state store not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Cursors returns the durable reader cursors of the queue file at path.
func (r *Runtime) Cursors(queuePath string) *checkpoint.Cursors {
	return r.checkpoints.ForQueue(queuePath)
}

// OpenArchive opens the archive log of the queue file at path. Logs are
// shared, so concurrent drains of one queue get one sequence.
func (r *Runtime) OpenArchive(queuePath string) (*archive.Log, error) {
	key := checkpoint.QueueKey(queuePath)
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.archives[key]; ok {
		return l, nil
	}
	l, err := archive.Open(r.db, key, archive.Options{Logger: r.logger, Hook: r.hook})
	if err != nil {
		return nil, err
	}
	r.archives[key] = l
	return l, nil
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
