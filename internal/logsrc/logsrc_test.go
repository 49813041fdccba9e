package logsrc

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type recordSink struct {
	mu   sync.Mutex
	msgs []string
	lvls []Level
	sty  []Style
}

func (r *recordSink) Log(level Level, style Style, src *Source, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, src.Name()+": "+msg)
	r.lvls = append(r.lvls, level)
	r.sty = append(r.sty, style)
}

func TestLevelInheritance(t *testing.T) {
	root := New("root", StyleGeneral, nil)
	child := New("child", StyleGeneral, root)
	grand := New("grand", StyleGeneral, child)

	if got := grand.ActualLevel(); got != LevelTrace {
		t.Fatalf("default level = %v, want Trace", got)
	}

	root.SetLevel(LevelWarning)
	if got := grand.ActualLevel(); got != LevelWarning {
		t.Errorf("grandchild level = %v, want Warning", got)
	}

	child.SetLevel(LevelDebug)
	if got := grand.ActualLevel(); got != LevelDebug {
		t.Errorf("override level = %v, want Debug", got)
	}
	if got := root.ActualLevel(); got != LevelWarning {
		t.Errorf("root level changed to %v", got)
	}

	child.SetLevel(LevelUnset)
	if got := grand.ActualLevel(); got != LevelWarning {
		t.Errorf("after unset = %v, want Warning", got)
	}
	if got := child.ConfiguredLevel(); got != LevelUnset {
		t.Errorf("ConfiguredLevel = %v, want Unset", got)
	}
}

func TestMaximumInheritance(t *testing.T) {
	root := New("root", StyleGeneral, nil)
	capped := NewWithInheritance("capped", StyleGeneral, root, InheritMaximum, LevelDebug)

	root.SetLevel(LevelError)
	if got := capped.ActualLevel(); got != LevelError {
		t.Errorf("capped level = %v, want Error", got)
	}
	root.SetLevel(LevelTrace)
	if got := capped.ActualLevel(); got != LevelDebug {
		t.Errorf("capped level = %v, want Debug", got)
	}
}

func TestSinkInheritance(t *testing.T) {
	root := New("root", StyleGeneral, nil)
	child := New("child", StyleGeneral, root)

	a := &recordSink{}
	b := &recordSink{}
	root.SetSink(a)
	child.Infof("one")
	child.SetSink(b)
	child.Infof("two")
	root.Infof("three")
	child.SetSink(nil)
	child.Infof("four")

	if want := []string{"child: one", "root: three", "child: four"}; strings.Join(a.msgs, "|") != strings.Join(want, "|") {
		t.Errorf("root sink got %v, want %v", a.msgs, want)
	}
	if len(b.msgs) != 1 || b.msgs[0] != "child: two" {
		t.Errorf("child sink got %v", b.msgs)
	}
}

func TestFilteringAndStyles(t *testing.T) {
	src := New("gs", StyleEmulator, nil)
	rec := &recordSink{}
	src.SetSink(rec)
	src.SetLevel(LevelInfo)

	src.Tracef("hidden")
	src.Debugf("hidden")
	src.Infof("info")
	src.Warningf("warn")
	src.Errorf("err")
	src.Criticalf("crit")

	if len(rec.msgs) != 4 {
		t.Fatalf("got %d messages, want 4: %v", len(rec.msgs), rec.msgs)
	}
	wantStyles := []Style{StyleEmulator, StyleWarning, StyleError, StyleError}
	for i, s := range wantStyles {
		if rec.sty[i] != s {
			t.Errorf("message %d style = %d, want %d", i, rec.sty[i], s)
		}
	}
	if src.StyleFor(LevelTrace) != StyleTrace {
		t.Error("trace messages should use StyleTrace")
	}
}

func TestIndent(t *testing.T) {
	src := New("gs", StyleGeneral, nil)
	rec := &recordSink{}
	src.SetSink(rec)
	pop := src.PushIndent(2)
	src.Infof("x")
	pop()
	src.Infof("y")
	if rec.msgs[0] != "gs: \t\tx" || rec.msgs[1] != "gs: y" {
		t.Errorf("indent output = %q", rec.msgs)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"", LevelUnset, false},
		{"trace", LevelTrace, false},
		{"WARNING", LevelWarning, false},
		{"warn", LevelWarning, false},
		{"Critical", LevelCritical, false},
		{"loud", LevelUnset, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	src := New("GS/Vulkan", StyleGeneral, nil)
	src.SetSink(SlogSink{Logger: func() *slog.Logger { return l }})

	src.Infof("dropped")
	src.Warningf("flush %d", 3)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info message passed a warn-level handler: %s", out)
	}
	if !strings.Contains(out, "flush 3") || !strings.Contains(out, "source=GS/Vulkan") {
		t.Errorf("unexpected slog output: %s", out)
	}
}

func TestConsoleSinkPlain(t *testing.T) {
	var buf bytes.Buffer
	src := New("GS", StyleGeneral, nil)
	src.SetSink(NewConsoleSink(&buf))
	src.Errorf("bad %s", "thing")
	if got := buf.String(); got != "[GS] bad thing\n" {
		t.Errorf("console output = %q", got)
	}
}
