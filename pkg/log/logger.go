package log

import (
	"context"
	"log/slog"
	"time"
)

// Level is the severity of an entry. Entries below a logger's level are
// dropped before any formatting happens.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	}
	return "UNKNOWN"
}

// Fields is a set of named values attached to an entry.
type Fields map[string]interface{}

// Well-known field keys shared by fmq components.
const (
	ComponentKey = "component"
	QueueKey     = "queue"
	ReaderKey    = "reader"
	OperationKey = "operation"
)

// Entry is what formatters and outputs receive.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
}

// Logger is the structured logger passed explicitly to every fmq component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and terminates the process.
	Fatal(msg string, fields ...Field)

	With(fields ...Field) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	// WithContext attaches the fields stored in ctx by ContextWithFields.
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Formatter renders an entry to bytes.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(entry *Entry, formatted []byte) error
	Close() error
}

// LoggerOption configures a BaseLogger in NewLogger.
type LoggerOption func(*BaseLogger)

// BaseLogger is the Logger implementation. Records flow through log/slog
// and a bridge handler into the configured formatter and outputs.
type BaseLogger struct {
	level      Level
	fields     Fields
	formatter  Formatter
	outputs    []Output
	slogLogger *slog.Logger
}

type ctxFieldsKey struct{}

// ContextWithFields returns a context carrying fields in addition to any
// already stored in ctx.
func ContextWithFields(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	prev := FieldsFromContext(ctx)
	merged := make([]Field, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, ctxFieldsKey{}, merged)
}

// FieldsFromContext returns the fields stored by ContextWithFields.
func FieldsFromContext(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(ctxFieldsKey{}).([]Field)
	return fields
}

// NewLogger builds a logger. Without options it logs JSON at info level to
// stderr.
func NewLogger(options ...LoggerOption) Logger {
	l := &BaseLogger{
		level:     InfoLevel,
		fields:    Fields{},
		formatter: &JSONFormatter{},
	}
	for _, opt := range options {
		opt(l)
	}
	if len(l.outputs) == 0 {
		l.outputs = []Output{&ConsoleOutput{}}
	}
	l.slogLogger = slog.New(newBridgeHandler(l))
	return l
}

func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.level = level }
}

func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) { l.formatter = formatter }
}

// WithOutput adds an output. May be given more than once.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) { l.outputs = append(l.outputs, output) }
}
