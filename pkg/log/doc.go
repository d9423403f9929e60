// Package log is the structured logger shared by the fmq library, the
// archiver and the command line tool.
//
// Loggers are built explicitly and passed down; there is no package-level
// default. Entries travel through log/slog into a bridge handler that applies
// redaction and sampling before handing them to a Formatter and one or more
// Outputs.
//
//	l := log.NewLogger(log.WithLevel(log.DebugLevel), log.WithFormatter(&log.TextFormatter{}))
//	l = l.With(log.Component("fmq.writer"), log.Str(log.QueueKey, "/var/lib/fmq/events.fmq"))
//	l.Info("writer opened", log.Int64("youngest_id", 41))
//
// Long-running operations can carry queue and reader names in a context with
// ContextWithFields and pick them up with Logger.WithContext.
//
// ApplyConfig builds a logger from a Config (json or text, console, file or
// null outputs). RedirectStdLog routes the standard library logger, which
// Pebble writes to, into a Logger.
package log
