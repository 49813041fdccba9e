package gsvk

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gsvk/internal/logsrc"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger behind the default log sink of every
// Device. By default gsvk produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log source levels map onto slog levels:
//   - Trace and Debug: state tracking and cache misses
//   - Info: lifecycle events such as device creation
//   - Warning: command buffer flushes and discarded pipeline caches
//   - Error and Critical: resource creation failures and fatal conditions
//
// Example:
//
//	gsvk.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// logTree holds the log sources of one Device.
type logTree struct {
	gs      *logsrc.Source
	vk      *logsrc.Source
	shader  *logsrc.Source
	texture *logsrc.Source
}

// newLogTree creates the GS source tree. Without a parent the root writes
// to the package logger.
func newLogTree(parent *logsrc.Source, level logsrc.Level) *logTree {
	gs := logsrc.New("GS", logsrc.StyleEmulator, parent)
	if parent == nil {
		gs.SetSink(logsrc.SlogSink{Logger: Logger})
	}
	gs.SetLevel(level)
	return &logTree{
		gs:      gs,
		vk:      logsrc.New("GS/Vulkan", logsrc.StyleEmulator, gs),
		shader:  logsrc.New("GS/Shader", logsrc.StyleEmulator, gs),
		texture: logsrc.New("GS/Texture", logsrc.StyleEmulator, gs),
	}
}
