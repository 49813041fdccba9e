package soft

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gsvk/internal/driver"
)

// Window is an offscreen presentation surface backed by a soft image.
type Window struct {
	dev      *Device
	w, h     int
	img      driver.Image
	fbs      map[driver.RenderPass]driver.Framebuffer
	presents int
}

// NewWindow creates a w×h BGRA8 presentation surface on dev.
func NewWindow(dev *Device, w, h int) (*Window, error) {
	img, err := dev.CreateImage(&driver.ImageDesc{
		Label:  "window",
		Width:  uint32(w), //nolint:gosec // window sizes are small
		Height: uint32(h), //nolint:gosec // window sizes are small
		Levels: 1,
		Layers: 1,
		Format: driver.FormatBGRA8,
		Usage:  driver.ImageUsageColorAttachment | driver.ImageUsageTransferSrc,
	})
	if err != nil {
		return nil, fmt.Errorf("soft: window surface: %w", err)
	}
	return &Window{dev: dev, w: w, h: h, img: img, fbs: make(map[driver.RenderPass]driver.Framebuffer)}, nil
}

// WindowSize returns the surface size in pixels.
func (w *Window) WindowSize() (int, int) { return w.w, w.h }

// SurfaceFormat returns the surface format.
func (w *Window) SurfaceFormat() driver.Format { return driver.FormatBGRA8 }

// AcquireFramebuffer returns the surface image and a framebuffer for rp.
func (w *Window) AcquireFramebuffer(rp driver.RenderPass) (driver.Image, driver.Framebuffer, error) {
	if fb, ok := w.fbs[rp]; ok {
		return w.img, fb, nil
	}
	fb, err := w.dev.CreateFramebuffer(&driver.FramebufferDesc{
		RenderPass: rp,
		Color:      w.img,
		Width:      uint32(w.w), //nolint:gosec // window sizes are small
		Height:     uint32(w.h), //nolint:gosec // window sizes are small
	})
	if err != nil {
		return 0, 0, fmt.Errorf("soft: window framebuffer: %w", err)
	}
	w.fbs[rp] = fb
	return w.img, fb, nil
}

// Present counts a presented frame.
func (w *Window) Present() error {
	w.presents++
	return nil
}

// Presents returns the number of presented frames.
func (w *Window) Presents() int { return w.presents }

// Snapshot copies the surface contents into an image.
func (w *Window) Snapshot() *image.NRGBA {
	w.dev.mu.Lock()
	defer w.dev.mu.Unlock()
	out := image.NewNRGBA(image.Rect(0, 0, w.w, w.h))
	im := w.dev.images[w.img]
	if im == nil {
		return out
	}
	lv := &im.levels[0]
	for y := 0; y < lv.h; y++ {
		for x := 0; x < lv.w; x++ {
			v := lv.get(x, y)
			out.SetNRGBA(x, y, color.NRGBA{unorm8(v[0]), unorm8(v[1]), unorm8(v[2]), unorm8(v[3])})
		}
	}
	return out
}

// Destroy releases the surface and its framebuffers.
func (w *Window) Destroy() {
	for _, fb := range w.fbs {
		w.dev.DestroyFramebuffer(fb)
	}
	clear(w.fbs)
	w.dev.DestroyImage(w.img)
}
