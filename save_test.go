package gsvk

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/gogpu/gsvk/internal/driver"
)

func TestSaveFormats(t *testing.T) {
	d, _ := newTestDevice(t)
	rt := d.CreateRenderTarget(6, 4, driver.FormatRGBA8)
	d.ClearRenderTargetPacked(rt, 0xFF336699)

	decoders := map[string]func(io.Reader) (image.Image, error){
		"frame.png":  png.Decode,
		"frame.bmp":  bmp.Decode,
		"frame.tiff": tiff.Decode,
		"frame.TIF":  tiff.Decode,
	}
	want := color.NRGBA{0x99, 0x66, 0x33, 0xFF}
	for name, decode := range decoders {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := rt.Save(path); err != nil {
				t.Fatalf("Save() = %v", err)
			}
			f, err := os.Open(path) //nolint:gosec // test file
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			img, err := decode(f)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if img.Bounds() != rt.Rect() {
				t.Errorf("bounds = %v, want %v", img.Bounds(), rt.Rect())
			}
			if got := color.NRGBAModel.Convert(img.At(5, 3)); got != want {
				t.Errorf("pixel = %v, want %v", got, want)
			}
		})
	}
}

func TestSaveRejectsUnknownExtension(t *testing.T) {
	d, _ := newTestDevice(t)
	rt := d.CreateRenderTarget(4, 4, driver.FormatRGBA8)
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := rt.Save(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Save(.jpg) = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("file created for an unsupported extension")
	}
}

func TestSnapshotSwapsBGRA(t *testing.T) {
	d, _ := newTestDevice(t)
	rt := d.CreateRenderTarget(4, 4, driver.FormatBGRA8)
	d.ClearRenderTargetPacked(rt, 0xFF0000FF) // opaque red
	img, err := rt.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("Snapshot() = %T, want *image.NRGBA", img)
	}
	if got := nrgba.NRGBAAt(2, 2); got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("pixel = %v, want red", got)
	}
}

func TestSnapshotGray16(t *testing.T) {
	d, _ := newTestDevice(t)
	src := solidTexture(t, d, 4, 4, red)
	tex, err := d.CopyOffscreen(src, FullRectF, 4, 4, driver.FormatR16U, ShaderRGBA8To16Bits)
	if err != nil {
		t.Fatal(err)
	}
	img, err := tex.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("Snapshot() = %T, want *image.Gray16", img)
	}
	if got := gray.Gray16At(1, 1).Y; got != 0x801F {
		t.Errorf("value = %#04x, want 0x801f", got)
	}
}

func TestSnapshotRejectsDepth(t *testing.T) {
	d, _ := newTestDevice(t)
	ds := d.CreateDepthStencil(4, 4)
	if _, err := ds.Snapshot(); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Snapshot() of depth = %v, want ErrUnsupportedFormat", err)
	}
}
