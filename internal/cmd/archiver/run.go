package archiverun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rzbill/fmq/internal/archive"
	cfgpkg "github.com/rzbill/fmq/internal/config"
	"github.com/rzbill/fmq/internal/runtime"
	pebblestore "github.com/rzbill/fmq/internal/storage/pebble"
	"github.com/rzbill/fmq/pkg/fmq"
	logpkg "github.com/rzbill/fmq/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing
var getenv = os.Getenv

// Options configure a long-running archiver.
type Options struct {
	// QueuePath is the queue file to drain.
	QueuePath string
	// Name is the reader cursor the archiver commits.
	Name string
	// DataDir holds the state store. Empty uses Config.DataDir().
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// Start applies when Name has no committed cursor yet.
	Start     fmq.Position
	BatchSize int
	Read      fmq.ReadOptions
	// RetainAge and RetainBytes bound the archive; zero disables each.
	RetainAge    time.Duration
	RetainBytes  int64
	TrimInterval time.Duration
	// Logger overrides the logger built from FMQ_LOG_LEVEL and FMQ_LOG_FORMAT.
	Logger logpkg.Logger
}

// Run drains the queue into its archive and trims the archive on an interval
// until ctx is cancelled or the process receives SIGINT or SIGTERM.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.QueuePath == "" {
		return fmt.Errorf("%w: archiver needs a queue path", fmq.ErrInvalidConfig)
	}
	if opts.Name == "" {
		opts.Name = "archiver"
	}
	if opts.TrimInterval <= 0 {
		opts.TrimInterval = time.Minute
	}

	procLogger := opts.Logger
	if procLogger == nil {
		cfg := &logpkg.Config{
			Level:  getenvDefault("FMQ_LOG_LEVEL", "info"),
			Format: getenvDefault("FMQ_LOG_FORMAT", "text"),
		}
		var err error
		procLogger, err = logpkg.ApplyConfig(cfg)
		if err != nil {
			lvl := logpkg.InfoLevel
			if l, e := logpkg.ParseLevel(cfg.Level); e == nil {
				lvl = l
			}
			procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
		}
		// Redirect stdlib logs (e.g., Pebble) to our logger
		logpkg.RedirectStdLog(procLogger)
	}
	sctx = logpkg.ContextWithFields(sctx, logpkg.Str(logpkg.QueueKey, opts.QueuePath), logpkg.Str(logpkg.ReaderKey, opts.Name))
	logger := procLogger.WithComponent("archiver").WithContext(sctx)

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = opts.Config.DataDir()
	}
	rt, err := runtime.Open(runtime.Options{
		DataDir: cfgpkg.StateDir(dataDir),
		Fsync:   opts.Fsync,
		Config:  opts.Config,
		Logger:  procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	ropts := opts.Config.ReaderOptions(procLogger)
	ropts.Start = opts.Start
	ropts.Name = opts.Name
	ropts.Cursors = rt.Cursors(opts.QueuePath)
	r, err := fmq.OpenReader(opts.QueuePath, ropts)
	if err != nil {
		return err
	}
	defer r.Close()
	log, err := rt.OpenArchive(opts.QueuePath)
	if err != nil {
		return err
	}

	logger.Info("Starting archiver",
		logpkg.Str("state_dir", cfgpkg.StateDir(dataDir)),
		logpkg.Dur("retain_age", opts.RetainAge),
		logpkg.Int64("retain_bytes", opts.RetainBytes),
		logpkg.Int64("resume_after", r.LastID()),
	)

	var wg sync.WaitGroup
	var drainErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		stats, err := archive.Drain(sctx, r, log, archive.DrainOptions{
			BatchSize: opts.BatchSize,
			Follow:    true,
			Commit:    true,
			Read:      opts.Read,
		})
		if err != nil && sctx.Err() == nil {
			drainErr = err
			logger.Error("drain stopped", logpkg.Err(err))
			stop()
		}
		logger.Info("drain finished",
			logpkg.Int("archived", stats.Archived),
			logpkg.Int64("missed", stats.Missed),
			logpkg.Uint64("last_seq", stats.LastSeq))
	}()

	if opts.RetainAge > 0 || opts.RetainBytes > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(opts.TrimInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sctx.Done():
					return
				case <-ticker.C:
					if err := Trim(sctx, log, opts.RetainAge, opts.RetainBytes); err != nil && !errors.Is(err, context.Canceled) {
						logger.Warn("archive trim failed", logpkg.Err(err))
					}
				}
			}
		}()
	}

	<-sctx.Done()
	wg.Wait()
	return drainErr
}

// Trim applies the age and size retention limits to log. A zero limit is
// skipped.
func Trim(ctx context.Context, log *archive.Log, retainAge time.Duration, retainBytes int64) error {
	var deleted int
	if retainAge > 0 {
		n, _, err := log.TrimOlderThan(ctx, time.Now().Add(-retainAge), 0, 0)
		if err != nil {
			return err
		}
		deleted += n
	}
	if retainBytes > 0 {
		n, err := log.TrimToMaxBytes(ctx, retainBytes, 0, 0)
		if err != nil {
			return err
		}
		deleted += n
	}
	if deleted > 0 {
		return log.Compact()
	}
	return nil
}
