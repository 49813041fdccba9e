// Package logsrc provides hierarchical, level-filtered log sources.
//
// A Source has an optional parent. Its effective level and sink are derived
// from its own configuration, falling back to the parent's effective values,
// and are cached so that ShouldLog is a single atomic load. Changing a level
// or sink on any source propagates the new cached values to every
// descendant.
//
//	gs := logsrc.New("GS", logsrc.StyleEmulator, nil)
//	vk := logsrc.New("GS/Vulkan", logsrc.StyleEmulator, gs)
//	gs.SetLevel(logsrc.LevelWarning)
//	vk.ShouldLog(logsrc.LevelInfo) // false
package logsrc

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Level is the severity of a log message.
type Level uint8

// Log levels, from most to least verbose. LevelUnset means "inherit".
const (
	LevelUnset Level = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = [...]string{"Unset", "Trace", "Debug", "Info", "Warning", "Error", "Critical"}

// String returns the level name.
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", l)
}

// ParseLevel parses a level name, case-insensitively.
// An empty string parses as LevelUnset.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LevelUnset, nil
	}
	for i, n := range levelNames {
		if strings.EqualFold(n, s) {
			return Level(i), nil
		}
	}
	if strings.EqualFold(s, "warn") {
		return LevelWarning, nil
	}
	return LevelUnset, fmt.Errorf("logsrc: unknown level %q", s)
}

// Style describes how a message should be presented. Sinks pick their own
// colours for each style.
type Style uint8

// Log styles.
const (
	StyleGeneral Style = iota
	StyleSpecial
	StyleHeader
	StyleGameLog
	StyleEmulator
	StyleTrace
	StyleWarning
	StyleError
)

// Inheritance controls how a source combines its own level with its parent's.
type Inheritance uint8

const (
	// InheritOverride uses the local level when set, the parent's otherwise.
	InheritOverride Inheritance = iota
	// InheritMaximum never lets a source be more verbose than its parent.
	InheritMaximum
)

// Sink receives formatted log messages. Implementations must be safe for
// concurrent use.
type Sink interface {
	Log(level Level, style Style, src *Source, msg string)
}

// treeMu guards the parent/child structure and the local configuration of
// every source. Cached values are read atomically without it.
var treeMu sync.Mutex

// defaultSink is used by root sources that have no sink of their own.
var defaultSink atomic.Pointer[sinkBox]

type sinkBox struct{ s Sink }

func init() {
	defaultSink.Store(&sinkBox{s: discardSink{}})
}

// SetDefaultSink replaces the sink used by every source that neither has a
// sink of its own nor inherits one.
func SetDefaultSink(s Sink) {
	if s == nil {
		s = discardSink{}
	}
	defaultSink.Store(&sinkBox{s: s})
}

type discardSink struct{}

func (discardSink) Log(Level, Style, *Source, string) {}

// Source is a named node in the log hierarchy.
type Source struct {
	name        string
	style       Style
	inheritance Inheritance
	parent      *Source
	children    []*Source

	localLevel Level
	localSink  Sink

	cachedLevel atomic.Uint32
	cachedSink  atomic.Pointer[sinkBox] // nil means the default sink

	indent atomic.Int32
}

// New creates a source with the given parent (nil for a root) using
// InheritOverride.
func New(name string, style Style, parent *Source) *Source {
	return NewWithInheritance(name, style, parent, InheritOverride, LevelUnset)
}

// NewWithInheritance creates a source with an explicit inheritance mode and
// starting level.
func NewWithInheritance(name string, style Style, parent *Source, inh Inheritance, base Level) *Source {
	s := &Source{
		name:        name,
		style:       style,
		inheritance: inh,
		parent:      parent,
		localLevel:  base,
	}
	treeMu.Lock()
	defer treeMu.Unlock()
	if parent != nil {
		parent.children = append(parent.children, s)
	}
	s.updateCachedSinkLocked()
	s.updateCachedLevelLocked(true)
	return s
}

func (s *Source) updateCachedLevelLocked(force bool) {
	var lvl Level
	switch {
	case s.localLevel != LevelUnset:
		lvl = s.localLevel
		if s.inheritance == InheritMaximum && s.parent != nil {
			if p := Level(s.parent.cachedLevel.Load()); p > lvl {
				lvl = p
			}
		}
	case s.parent != nil:
		lvl = Level(s.parent.cachedLevel.Load())
	default:
		lvl = LevelTrace
	}
	if !force && Level(s.cachedLevel.Load()) == lvl {
		return
	}
	s.cachedLevel.Store(uint32(lvl))
	for _, c := range s.children {
		c.updateCachedLevelLocked(false)
	}
}

func (s *Source) updateCachedSinkLocked() {
	var box *sinkBox
	switch {
	case s.localSink != nil:
		box = &sinkBox{s: s.localSink}
	case s.parent != nil:
		box = s.parent.cachedSink.Load()
	}
	if s.cachedSink.Load() == box {
		return
	}
	s.cachedSink.Store(box)
	for _, c := range s.children {
		c.updateCachedSinkLocked()
	}
}

// SetLevel sets the local level. LevelUnset makes the source inherit again.
func (s *Source) SetLevel(l Level) {
	treeMu.Lock()
	defer treeMu.Unlock()
	s.localLevel = l
	s.updateCachedLevelLocked(true)
}

// SetSink sets the local sink. A nil sink makes the source inherit again.
func (s *Source) SetSink(sink Sink) {
	treeMu.Lock()
	defer treeMu.Unlock()
	s.localSink = sink
	s.updateCachedSinkLocked()
}

// ShouldLog reports whether a message at level l would be emitted.
func (s *Source) ShouldLog(l Level) bool {
	return l >= Level(s.cachedLevel.Load())
}

// ActualLevel returns the effective (cached) level.
func (s *Source) ActualLevel() Level { return Level(s.cachedLevel.Load()) }

// ConfiguredLevel returns the level set directly on this source.
func (s *Source) ConfiguredLevel() Level {
	treeMu.Lock()
	defer treeMu.Unlock()
	return s.localLevel
}

// Name returns the source name.
func (s *Source) Name() string { return s.name }

// Parent returns the parent source, or nil for a root.
func (s *Source) Parent() *Source { return s.parent }

// Style returns the style used for messages of normal priority.
func (s *Source) Style() Style { return s.style }

// Indent returns the current indent depth.
func (s *Source) Indent() int { return int(s.indent.Load()) }

// PushIndent increases the indent by n and returns a func restoring it.
func (s *Source) PushIndent(n int) func() {
	s.indent.Add(int32(n)) //nolint:gosec // small indent counts
	return func() { s.indent.Add(-int32(n)) } //nolint:gosec // small indent counts
}

// StyleFor returns the style applied to a message at level l. Trace and
// below use StyleTrace, warnings StyleWarning, anything above StyleError.
// Other levels use the source's own style.
func (s *Source) StyleFor(l Level) Style {
	switch {
	case l <= LevelTrace:
		return StyleTrace
	case l == LevelWarning:
		return StyleWarning
	case l > LevelWarning:
		return StyleError
	default:
		return s.style
	}
}

func (s *Source) sink() Sink {
	if box := s.cachedSink.Load(); box != nil {
		return box.s
	}
	return defaultSink.Load().s
}

func (s *Source) emit(l Level, style Style, msg string) {
	if n := s.Indent(); n > 0 {
		msg = strings.Repeat("\t", n) + msg
	}
	s.sink().Log(l, style, s, msg)
}

// Log writes msg at level l if the source is enabled for it.
func (s *Source) Log(l Level, msg string) {
	if s.ShouldLog(l) {
		s.emit(l, s.StyleFor(l), msg)
	}
}

// Logf formats and writes a message at level l.
func (s *Source) Logf(l Level, format string, args ...any) {
	if s.ShouldLog(l) {
		s.emit(l, s.StyleFor(l), fmt.Sprintf(format, args...))
	}
}

// LogStylef formats and writes a message with an explicit style.
func (s *Source) LogStylef(l Level, style Style, format string, args ...any) {
	if s.ShouldLog(l) {
		s.emit(l, style, fmt.Sprintf(format, args...))
	}
}

// Tracef logs at LevelTrace.
func (s *Source) Tracef(format string, args ...any) { s.Logf(LevelTrace, format, args...) }

// Debugf logs at LevelDebug.
func (s *Source) Debugf(format string, args ...any) { s.Logf(LevelDebug, format, args...) }

// Infof logs at LevelInfo.
func (s *Source) Infof(format string, args ...any) { s.Logf(LevelInfo, format, args...) }

// Warningf logs at LevelWarning.
func (s *Source) Warningf(format string, args ...any) { s.Logf(LevelWarning, format, args...) }

// Errorf logs at LevelError.
func (s *Source) Errorf(format string, args ...any) { s.Logf(LevelError, format, args...) }

// Criticalf logs at LevelCritical.
func (s *Source) Criticalf(format string, args ...any) { s.Logf(LevelCritical, format, args...) }
