package gsvk

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/gogpu/gsvk/internal/driver"
)

// Save reads level 0 of t back and writes it to path. The encoder follows
// the extension: .png, .bmp, .tif or .tiff.
func (t *Texture) Save(path string) error {
	encode, err := encoderFor(path)
	if err != nil {
		return err
	}
	img, err := t.Snapshot()
	if err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return fmt.Errorf("gsvk: save %s: %w", path, err)
	}
	if err := encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("gsvk: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("gsvk: save %s: %w", path, err)
	}
	return nil
}

func encoderFor(path string) (func(io.Writer, image.Image) error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Encode, nil
	case ".bmp":
		return bmp.Encode, nil
	case ".tif", ".tiff":
		return func(w io.Writer, m image.Image) error {
			return tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate})
		}, nil
	}
	return nil, fmt.Errorf("%w: image extension %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// Snapshot reads level 0 of t back into a CPU image. Color formats give an
// *image.NRGBA, single channel integer formats an *image.Gray or
// *image.Gray16.
func (t *Texture) Snapshot() (image.Image, error) {
	if t.destroyed {
		return nil, ErrTextureDestroyed
	}
	switch t.format {
	case driver.FormatRGBA8, driver.FormatBGRA8, driver.FormatR8, driver.FormatR16U:
	default:
		return nil, fmt.Errorf("%w: snapshot of %s", ErrUnsupportedFormat, t.format)
	}
	m, err := t.dev.ReadbackTexture(t, t.Rect(), 0)
	if err != nil {
		return nil, err
	}
	r := t.Rect()
	switch t.format {
	case driver.FormatR8:
		img := image.NewGray(r)
		for y := range t.height {
			copy(img.Pix[y*img.Stride:y*img.Stride+t.width], m.Bits[y*m.Pitch:])
		}
		return img, nil
	case driver.FormatR16U:
		img := image.NewGray16(r)
		for y := range t.height {
			row := m.Bits[y*m.Pitch:]
			for x := range t.width {
				// Gray16 is big endian.
				binary.BigEndian.PutUint16(img.Pix[y*img.Stride+2*x:], binary.LittleEndian.Uint16(row[2*x:]))
			}
		}
		return img, nil
	}
	img := image.NewNRGBA(r)
	for y := range t.height {
		dst := img.Pix[y*img.Stride : y*img.Stride+4*t.width]
		copy(dst, m.Bits[y*m.Pitch:])
		if t.format == driver.FormatBGRA8 {
			for x := 0; x < len(dst); x += 4 {
				dst[x], dst[x+2] = dst[x+2], dst[x]
			}
		}
	}
	return img, nil
}
