package logsrc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// SlogLevel maps a Level onto the nearest slog level. Trace sits below
// slog.LevelDebug and Critical above slog.LevelError.
func SlogLevel(l Level) slog.Level {
	switch l {
	case LevelTrace:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// SlogSink forwards messages to a *slog.Logger obtained on every call, so it
// follows logger swaps made after the sink was installed.
type SlogSink struct {
	Logger func() *slog.Logger
}

// Log implements Sink.
func (s SlogSink) Log(level Level, _ Style, src *Source, msg string) {
	l := s.Logger()
	if l == nil {
		return
	}
	lvl := SlogLevel(level)
	ctx := context.Background()
	if !l.Enabled(ctx, lvl) {
		return
	}
	l.Log(ctx, lvl, msg, "source", src.Name())
}

// ConsoleSink writes one line per message to a terminal, coloured by style
// when the output supports it.
type ConsoleSink struct {
	mu  sync.Mutex
	w   io.Writer
	out *termenv.Output
}

// NewConsoleSink creates a console sink for w. Colour is enabled only when w
// is a terminal.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	profile := termenv.Ascii
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		profile = termenv.ANSI256
	}
	return &ConsoleSink{
		w:   w,
		out: termenv.NewOutput(w, termenv.WithProfile(profile)),
	}
}

var styleColors = map[Style]string{
	StyleGeneral:  "",
	StyleSpecial:  "13",
	StyleHeader:   "12",
	StyleGameLog:  "10",
	StyleEmulator: "14",
	StyleTrace:    "8",
	StyleWarning:  "11",
	StyleError:    "9",
}

// Log implements Sink.
func (c *ConsoleSink) Log(level Level, style Style, src *Source, msg string) {
	line := fmt.Sprintf("[%s] %s", src.Name(), msg)
	st := c.out.String(line)
	if col := styleColors[style]; col != "" {
		st = st.Foreground(c.out.Color(col))
	}
	if style == StyleHeader || level >= LevelCritical {
		st = st.Bold()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, st.String())
}

// MultiSink fans a message out to several sinks.
type MultiSink []Sink

// Log implements Sink.
func (m MultiSink) Log(level Level, style Style, src *Source, msg string) {
	for _, s := range m {
		s.Log(level, style, src, msg)
	}
}
