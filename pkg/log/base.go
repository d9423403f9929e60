package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// NewNopLogger returns a logger that discards everything below Fatal.
func NewNopLogger() Logger {
	return NewLogger(WithLevel(FatalLevel), WithOutput(&NullOutput{}))
}

func (l *BaseLogger) log(level Level, msg string, attrs []slog.Attr) {
	if level < l.level {
		return
	}
	ctx := context.Background()
	h := l.slogLogger.Handler()
	sl := toSlogLevel(level)
	if !h.Enabled(ctx, sl) {
		return
	}
	// Skip runtime.Callers, log and the exported level method.
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), sl, msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = h.Handle(ctx, r)
}

func (l *BaseLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, attrsFromFieldSlice(fields))
}

func (l *BaseLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, attrsFromFieldSlice(fields))
}

func (l *BaseLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, attrsFromFieldSlice(fields))
}

func (l *BaseLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, attrsFromFieldSlice(fields))
}

// Fatal logs at error severity and exits the process.
func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, attrsFromFieldSlice(fields))
	os.Exit(1)
}

// with returns a child logger carrying attrs. Children share the parent's
// formatter and outputs.
func (l *BaseLogger) with(attrs []slog.Attr) Logger {
	if len(attrs) == 0 {
		return l
	}
	child := &BaseLogger{
		level:      l.level,
		fields:     make(Fields, len(l.fields)+len(attrs)),
		formatter:  l.formatter,
		outputs:    l.outputs,
		slogLogger: l.slogLogger.With(attrsToAny(attrs)...),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for _, a := range attrs {
		child.fields[a.Key] = a.Value.Any()
	}
	return child
}

func (l *BaseLogger) WithFields(fields Fields) Logger {
	return l.with(attrsFromMap(fields))
}

func (l *BaseLogger) WithError(err error) Logger {
	f := Err(err)
	return l.with([]slog.Attr{slog.Any(f.Key, f.Value)})
}

func (l *BaseLogger) With(fields ...Field) Logger {
	return l.with(attrsFromFieldSlice(fields))
}

func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	return l.With(FieldsFromContext(ctx)...)
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *BaseLogger) SetLevel(level Level) { l.level = level }

func (l *BaseLogger) GetLevel() Level { return l.level }

// Slog exposes the underlying slog.Logger.
func (l *BaseLogger) Slog() *slog.Logger { return l.slogLogger }
