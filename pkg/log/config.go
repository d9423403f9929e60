package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config declares a logger.
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text|json
	// Outputs lists "console", "null" or "file". File output writes to File.
	Outputs []string `json:"outputs"`
	File    string   `json:"file"`
	// RedactKeys replaces the values of these field keys.
	RedactKeys []string `json:"redactKeys"`
	// SampleInitial entries per message are logged, then every SampleThereafter-th.
	SampleInitial    int  `json:"sampleInitial"`
	SampleThereafter int  `json:"sampleThereafter"`
	ShowCaller       bool `json:"showCaller"`
}

// ApplyConfig builds a logger from cfg. A nil cfg yields an info-level text
// logger on stderr.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := []LoggerOption{WithLevel(level)}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		opts = append(opts, WithFormatter(&TextFormatter{ShowCaller: cfg.ShowCaller}))
	case "json":
		opts = append(opts, WithFormatter(&JSONFormatter{ShowCaller: cfg.ShowCaller}))
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"console"}
	}
	for _, name := range outputs {
		switch strings.ToLower(name) {
		case "console", "stderr":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case "null", "none":
			opts = append(opts, WithOutput(&NullOutput{}))
		case "file":
			if cfg.File == "" {
				return nil, fmt.Errorf("file output requires a file path")
			}
			fo, err := NewFileOutput(cfg.File)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithOutput(fo))
		default:
			return nil, fmt.Errorf("unknown log output %q", name)
		}
	}
	l := NewLogger(opts...).(*BaseLogger)
	if len(cfg.RedactKeys) > 0 || cfg.SampleThereafter > 0 {
		h := newBridgeHandler(l).withRedactions(cfg.RedactKeys).withSampler(cfg.SampleInitial, cfg.SampleThereafter)
		l.slogLogger = slog.New(h)
	}
	return l, nil
}
