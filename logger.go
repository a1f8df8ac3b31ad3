package corevk

import (
	"io"
	"log"
)

// Logger bundles the three severity-scoped loggers the teacher wires
// up in core.go's NewBaseCore (info_log/error_log/warn_log), but takes
// io.Writer instead of opening files in the current working directory.
type Logger struct {
	Info  *log.Logger
	Warn  *log.Logger
	Error *log.Logger
}

// NewLogger builds a Logger writing all three severities to w, using
// the teacher's flag set (log.Ldate | log.Ltime | log.Lshortfile).
func NewLogger(w io.Writer) *Logger {
	const flags = log.Ldate | log.Ltime | log.Lshortfile
	return &Logger{
		Info:  log.New(w, "INFO: ", flags),
		Warn:  log.New(w, "WARNING: ", flags),
		Error: log.New(w, "ERROR: ", flags),
	}
}

// NewDiscardLogger is used by tests and headless construction paths.
func NewDiscardLogger() *Logger {
	return NewLogger(io.Discard)
}
