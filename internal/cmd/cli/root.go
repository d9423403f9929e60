package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/fmq/internal/config"
	"github.com/rzbill/fmq/internal/runtime"
	pebblestore "github.com/rzbill/fmq/internal/storage/pebble"
	logpkg "github.com/rzbill/fmq/pkg/log"
)

// NewRoot constructs the root Cobra command of the fmq tool.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "fmq",
		Short:         "File message queue tool",
		Long:          "fmq creates, writes, reads, inspects and repairs file message queues, and archives them into a local state store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "JSON config file")
	root.PersistentFlags().String("data-dir", "", "State directory for reader checkpoints and archives (default: OS data dir)")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	root.PersistentFlags().String("log-format", "", "Log format: text|json (default text)")

	root.AddCommand(
		newCreateCommand(),
		newWriteCommand(),
		newReadCommand(),
		newStatCommand(),
		newCheckCommand(),
		newRecoverCommand(),
		newClearCommand(),
		newCursorCommand(),
		newArchiveCommand(),
	)
	return root
}

// env is the resolved configuration of one command invocation.
type env struct {
	cfg    cfgpkg.Config
	logger logpkg.Logger
}

// loadEnv layers the config file, FMQ_* variables and global flags, in that
// order, and builds a logger writing to the command's stderr.
func loadEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return nil, err
	}
	cfgpkg.FromEnv(&cfg)
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.CheckpointDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func newLogger(c logpkg.Config, w io.Writer) (logpkg.Logger, error) {
	level, err := logpkg.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	var f logpkg.Formatter = &logpkg.TextFormatter{ShowCaller: c.ShowCaller}
	if strings.EqualFold(c.Format, "json") {
		f = &logpkg.JSONFormatter{ShowCaller: c.ShowCaller}
	}
	return logpkg.NewLogger(
		logpkg.WithLevel(level),
		logpkg.WithFormatter(f),
		logpkg.WithOutput(logpkg.NewWriterOutput(w)),
	), nil
}

// openRuntime opens the state store for checkpoints and archives.
func (e *env) openRuntime() (*runtime.Runtime, error) {
	return runtime.Open(runtime.Options{
		DataDir: cfgpkg.StateDir(e.cfg.DataDir()),
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  e.cfg,
		Logger:  e.logger,
	})
}
