package gsvk

import (
	"errors"
	"image/color"
	"testing"

	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/driver/soft"
)

// newPresentDevice creates a device presenting to a w×h soft window.
func newPresentDevice(t *testing.T, w, h int) (*Device, *soft.Window) {
	t.Helper()
	d, win, _ := newRecordingPresentDevice(t, w, h)
	return d, win
}

func newRecordingPresentDevice(t *testing.T, w, h int) (*Device, *soft.Window, *recordingDevice) {
	t.Helper()
	sd := soft.New(soft.Config{})
	win, err := soft.NewWindow(sd, w, h)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recordingDevice{Device: sd}
	ctx, err := driver.NewContext(rec, driver.ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(ctx, WithStreamSizes(testStreams), WithDisplay(win))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		d.Destroy()
		win.Destroy()
		ctx.Destroy()
	})
	return d, win, rec
}

func TestPresentWithoutDisplay(t *testing.T) {
	d, _ := newTestDevice(t)
	if err := d.BeginPresent(true); !errors.Is(err, ErrNoDisplay) {
		t.Errorf("BeginPresent() = %v, want ErrNoDisplay", err)
	}
	if err := d.EndPresent(); !errors.Is(err, ErrNoDisplay) {
		t.Errorf("EndPresent() = %v, want ErrNoDisplay", err)
	}
}

func TestPresentFrame(t *testing.T) {
	d, win := newPresentDevice(t, 32, 32)
	for i, p := range d.present {
		if IsPresentConvertShader(i) != (p != 0) {
			t.Errorf("present pipeline %d compiled = %v", i, p != 0)
		}
	}
	src := solidTexture(t, d, 8, 8, red)

	if err := d.BeginPresent(true); err != nil {
		t.Fatal(err)
	}
	if err := d.BeginPresent(true); err == nil {
		t.Error("nested BeginPresent() = nil, want error")
	}
	d.StretchRect(src, FullRectF, nil, RectF{0, 0, 16, 32}, ShaderCopy, false)
	if err := d.EndPresent(); err != nil {
		t.Fatal(err)
	}

	snap := win.Snapshot()
	if got := snap.NRGBAAt(4, 10); got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("presented pixel = %v, want red", got)
	}
	if got := snap.NRGBAAt(24, 10); got != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("cleared pixel = %v, want opaque black", got)
	}
	if win.Presents() != 1 || d.Frame() != 1 {
		t.Errorf("presents = %d, frame = %d, want 1 and 1", win.Presents(), d.Frame())
	}
	if err := d.EndPresent(); err == nil {
		t.Error("EndPresent() without BeginPresent = nil, want error")
	}
}

func TestPresentKeepsContentsWithoutClear(t *testing.T) {
	d, win := newPresentDevice(t, 16, 16)
	src := solidTexture(t, d, 4, 4, green)
	for _, clear := range []bool{true, false} {
		if err := d.BeginPresent(clear); err != nil {
			t.Fatal(err)
		}
		if clear {
			d.StretchRect(src, FullRectF, nil, RectF{0, 0, 16, 16}, ShaderCopy, false)
		}
		if err := d.EndPresent(); err != nil {
			t.Fatal(err)
		}
	}
	if got := win.Snapshot().NRGBAAt(8, 8); got != (color.NRGBA{0, 255, 0, 255}) {
		t.Errorf("pixel after a loading present = %v, want green", got)
	}
}

func TestStretchToDisplayOutsidePresent(t *testing.T) {
	sink, logOpt := captureLogs()
	d, _ := newTestDevice(t, logOpt)
	src := solidTexture(t, d, 4, 4, red)
	d.StretchRect(src, FullRectF, nil, RectF{0, 0, 4, 4}, ShaderCopy, false)
	if sink.matching("cannot present") != 1 {
		t.Errorf("logs = %v, want one present error", sink.msgs)
	}
}

func TestEndPresentAgesPool(t *testing.T) {
	d, _ := newPresentDevice(t, 8, 8)
	d.cfg.PoolMaxAge = 0
	d.Recycle(d.CreateTexture(8, 8, driver.FormatRGBA8))
	if err := d.BeginPresent(true); err != nil {
		t.Fatal(err)
	}
	if err := d.EndPresent(); err != nil {
		t.Fatal(err)
	}
	if d.PoolSize() != 0 {
		t.Errorf("PoolSize() = %d after a frame with max age 0, want 0", d.PoolSize())
	}
}

func TestPresentStretchReopensDisplayPass(t *testing.T) {
	d, win := newPresentDevice(t, 16, 16)
	left := solidTexture(t, d, 4, 4, red)
	right := solidTexture(t, d, 4, 4, green)

	if err := d.BeginPresent(true); err != nil {
		t.Fatal(err)
	}
	// Both sources still sit in the upload layout, so each draw ends the
	// display pass with a barrier first.
	d.StretchRect(left, FullRectF, nil, RectF{0, 0, 8, 16}, ShaderCopy, false)
	if !d.InRenderPass() || d.framebuffer != d.presentFB {
		t.Fatal("display pass not open after the first draw")
	}
	d.StretchRect(right, FullRectF, nil, RectF{8, 0, 16, 16}, ShaderCopy, false)
	if !d.InRenderPass() || d.framebuffer != d.presentFB {
		t.Fatal("display pass not open after the second draw")
	}
	if err := d.EndPresent(); err != nil {
		t.Fatal(err)
	}

	snap := win.Snapshot()
	if got := snap.NRGBAAt(2, 8); got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("left pixel = %v, want red", got)
	}
	if got := snap.NRGBAAt(12, 8); got != (color.NRGBA{0, 255, 0, 255}) {
		t.Errorf("right pixel = %v, want green", got)
	}
}

func TestBeginPresentTransitions(t *testing.T) {
	d, _, rec := newRecordingPresentDevice(t, 8, 8)
	frames := []struct {
		name  string
		clear bool
		from  driver.Layout
		load  driver.LoadOp
	}{
		{"first use", false, driver.LayoutUndefined, driver.LoadOpClear},
		{"kept", false, driver.LayoutPresent, driver.LoadOpLoad},
		{"cleared", true, driver.LayoutUndefined, driver.LoadOpClear},
	}
	for _, f := range frames {
		rec.reset()
		if err := d.BeginPresent(f.clear); err != nil {
			t.Fatalf("%s: %v", f.name, err)
		}
		b, ok := rec.firstBarrier(d.presentImage)
		if !ok {
			t.Fatalf("%s: display image not transitioned", f.name)
		}
		if b.from != f.from || b.to != driver.LayoutColorAttachment {
			t.Errorf("%s: transition %v -> %v, want %v -> ColorAttachment", f.name, b.from, b.to, f.from)
		}
		if got := d.renderPassDescs[rec.lastPass].ColorLoad; got != f.load {
			t.Errorf("%s: color load = %v, want %v", f.name, got, f.load)
		}
		if err := d.EndPresent(); err != nil {
			t.Fatalf("%s: %v", f.name, err)
		}
	}
}
