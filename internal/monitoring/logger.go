package monitoring

import (
	"io"
	"log"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger used by every mmwave layer.
// It defaults to log.Printf; SetLogger redirects or mutes it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// NewRotatingWriter returns a size-rotated log file sink. Sizes are in
// megabytes and ages in days, matching lumberjack's units.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}

// UseWriter points both the standard logger and Logf at w.
func UseWriter(w io.Writer) {
	log.SetOutput(w)
	SetLogger(log.Printf)
}

// EveryN throttles a noisy log site: the first occurrence and every Nth one
// after that are emitted. The zero value logs every call.
type EveryN struct {
	N     uint64
	count atomic.Uint64
}

// Logf logs through the package logger when the occurrence count falls on
// the sampling interval. The running count is appended to the message.
func (e *EveryN) Logf(format string, v ...interface{}) {
	c := e.count.Add(1)
	if e.N > 1 && (c-1)%e.N != 0 {
		return
	}
	Logf(format+" (occurrence %d)", append(v, c)...)
}

// Count reports how many times the site has fired, logged or not.
func (e *EveryN) Count() uint64 {
	return e.count.Load()
}
