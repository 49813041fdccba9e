package gsvk

import (
	"fmt"
	"image"

	"github.com/gogpu/gsvk/internal/driver"
)

// SurfaceType is the role a texture was created for.
type SurfaceType uint8

// Surface types.
const (
	SurfaceTexture SurfaceType = iota
	SurfaceRenderTarget
	SurfaceDepthStencil
	SurfaceOffscreen
)

func (t SurfaceType) String() string {
	switch t {
	case SurfaceTexture:
		return "Texture"
	case SurfaceRenderTarget:
		return "RenderTarget"
	case SurfaceDepthStencil:
		return "DepthStencil"
	case SurfaceOffscreen:
		return "Offscreen"
	}
	return fmt.Sprintf("SurfaceType(%d)", t)
}

func (t SurfaceType) usage() driver.ImageUsage {
	switch t {
	case SurfaceRenderTarget:
		return driver.ImageUsageColorAttachment | driver.ImageUsageSampled |
			driver.ImageUsageTransferSrc | driver.ImageUsageTransferDst
	case SurfaceDepthStencil:
		return driver.ImageUsageDepthAttachment | driver.ImageUsageSampled |
			driver.ImageUsageTransferSrc | driver.ImageUsageTransferDst
	case SurfaceOffscreen:
		return driver.ImageUsageColorAttachment | driver.ImageUsageTransferSrc | driver.ImageUsageTransferDst
	default:
		return driver.ImageUsageSampled | driver.ImageUsageTransferSrc | driver.ImageUsageTransferDst
	}
}

// TextureMap is a CPU view of texture data: rows of Pitch bytes.
type TextureMap struct {
	Bits  []byte
	Pitch int
}

// Texture is one GPU image owned by a Device.
//
// The tracked layout always equals the layout the image is held in when the
// next command referencing it is recorded; callers transition explicitly
// with TransitionToLayout before each use.
type Texture struct {
	dev    *Device
	handle TextureHandle
	typ    SurfaceType
	image  driver.Image

	width, height int
	levels        uint32
	layers        uint32
	format        driver.Format
	layout        driver.Layout

	fb        driver.Framebuffer
	discarded bool
	destroyed bool

	// LastFrameUsed is the device frame the texture was last recycled or
	// drawn in. The surface pool ages entries by it.
	LastFrameUsed uint64

	// Offscreen textures keep a CPU copy filled by CopyOffscreen.
	offscreen      []byte
	offscreenPitch int

	mapped   bool
	mapRect  image.Rectangle
	mapLevel uint32
	mapPitch int
}

// Handle returns the arena handle of t.
func (t *Texture) Handle() TextureHandle { return t.handle }

// Type returns the surface type t was created as.
func (t *Texture) Type() SurfaceType { return t.typ }

// Width returns the width in pixels.
func (t *Texture) Width() int { return t.width }

// Height returns the height in pixels.
func (t *Texture) Height() int { return t.height }

// Size returns the size in pixels.
func (t *Texture) Size() image.Point { return image.Pt(t.width, t.height) }

// Rect returns the full extent of level 0.
func (t *Texture) Rect() image.Rectangle { return image.Rect(0, 0, t.width, t.height) }

// Levels returns the mip level count.
func (t *Texture) Levels() uint32 { return t.levels }

// Format returns the texel format.
func (t *Texture) Format() driver.Format { return t.format }

// Image returns the driver image handle.
func (t *Texture) Image() driver.Image { return t.image }

// Layout returns the tracked layout.
func (t *Texture) Layout() driver.Layout { return t.layout }

// IsDepthStencil reports whether t has a depth/stencil format.
func (t *Texture) IsDepthStencil() bool { return t.format.IsDepth() }

// IsDestroyed reports whether Destroy has been called.
func (t *Texture) IsDestroyed() bool { return t.destroyed }

func (t *Texture) attachmentLayout() driver.Layout {
	if t.IsDepthStencil() {
		return driver.LayoutDepthAttachment
	}
	return driver.LayoutColorAttachment
}

// TransitionToLayout records the barrier from the tracked layout to l on the
// current command buffer. It is a no-op when t is already in l.
func (t *Texture) TransitionToLayout(l driver.Layout) {
	if t.layout == l {
		return
	}
	t.dev.ctx.CommandBuffer().PipelineBarrier(t.image, t.layout, l)
	t.layout = l
}

// Discard marks the contents undefined. The next pass opened over the whole
// texture may skip loading them.
func (t *Texture) Discard() { t.discarded = true }

// CheckDiscarded reports whether the contents were discarded and clears the
// mark.
func (t *Texture) CheckDiscarded() bool {
	d := t.discarded
	t.discarded = false
	return d
}

// Framebuffer returns the single-attachment framebuffer of t, creating it
// on first use. It returns 0 if creation fails.
func (t *Texture) Framebuffer() driver.Framebuffer {
	if t.fb != 0 || t.destroyed {
		return t.fb
	}
	desc := driver.FramebufferDesc{
		Width:  uint32(t.width),  //nolint:gosec // clamped at creation
		Height: uint32(t.height), //nolint:gosec // clamped at creation
	}
	var color, depth driver.Format
	if t.IsDepthStencil() {
		depth, desc.Depth = t.format, t.image
	} else {
		color, desc.Color = t.format, t.image
	}
	desc.RenderPass = t.dev.GetRenderPass(color, depth, driver.LoadOpLoad)
	if desc.RenderPass == 0 {
		return 0
	}
	fb, err := t.dev.dev.CreateFramebuffer(&desc)
	if err != nil {
		t.dev.log.texture.Errorf("Failed to create %dx%d %s framebuffer: %v", t.width, t.height, t.format, err)
		return 0
	}
	t.fb = fb
	return fb
}

// LinkedFramebuffer returns the framebuffer pairing t as color with depth.
// The pair is owned by the device and torn down when either side is
// destroyed.
func (t *Texture) LinkedFramebuffer(depth *Texture) driver.Framebuffer {
	return t.dev.linkedFramebuffer(t, depth)
}

// Destroy releases t. The image and its framebuffers are destroyed once the
// command buffers that may reference them have completed.
func (t *Texture) Destroy() {
	if t.destroyed {
		return
	}
	d := t.dev
	d.UnbindTexture(t)
	d.pool.remove(t)
	for _, fb := range d.links.remove(t.handle) {
		d.deferDestroyFramebuffer(fb)
	}
	if t.fb != 0 {
		d.deferDestroyFramebuffer(t.fb)
		t.fb = 0
	}
	img, dev := t.image, d.dev
	d.ctx.DeferDestroy(func() { dev.DestroyImage(img) })
	d.textures.remove(t.handle)
	t.image = 0
	t.offscreen = nil
	t.destroyed = true
}

// Update uploads data, rows of pitch bytes, into r of the given level.
func (t *Texture) Update(r image.Rectangle, data []byte, pitch int, level uint32) error {
	if t.destroyed {
		return ErrTextureDestroyed
	}
	if level >= t.levels {
		return fmt.Errorf("gsvk: update level %d of %d-level texture", level, t.levels)
	}
	if r.Empty() {
		return nil
	}
	bpp := t.format.BytesPerPixel()
	row := r.Dx() * bpp
	if len(data) < pitch*(r.Dy()-1)+row {
		return fmt.Errorf("gsvk: update of %v needs %d bytes, got %d", r, pitch*(r.Dy()-1)+row, len(data))
	}
	d := t.dev
	upPitch := alignUp(row, copyPitchAlignment)
	up := d.allocateUpload(upPitch * r.Dy())
	for y := range r.Dy() {
		copy(up.bits[y*upPitch:y*upPitch+row], data[y*pitch:])
	}
	up.commit()

	d.EndRenderPass()
	t.TransitionToLayout(driver.LayoutTransferDst)
	d.ctx.CommandBuffer().CopyBufferToImage(up.buf, up.offset, uint32(upPitch), t.image, level, r) //nolint:gosec // aligned row size
	d.stats.Uploads++
	return nil
}

// Map returns writable upload memory for r of the given level. The data is
// copied into the texture by Unmap; no other upload may happen in between.
// Offscreen textures map their CPU copy for reading instead.
func (t *Texture) Map(r image.Rectangle, level uint32) (TextureMap, error) {
	if t.destroyed {
		return TextureMap{}, ErrTextureDestroyed
	}
	bpp := t.format.BytesPerPixel()
	if t.typ == SurfaceOffscreen {
		if t.offscreen == nil || !r.In(t.Rect()) {
			return TextureMap{}, ErrNotMappable
		}
		off := r.Min.Y*t.offscreenPitch + r.Min.X*bpp
		return TextureMap{Bits: t.offscreen[off:], Pitch: t.offscreenPitch}, nil
	}
	if t.typ != SurfaceTexture || t.mapped || level >= t.levels {
		return TextureMap{}, ErrNotMappable
	}
	d := t.dev
	pitch := alignUp(r.Dx()*bpp, copyPitchAlignment)
	size := uint64(pitch * r.Dy()) //nolint:gosec // non-negative
	if size > d.texStream.Size()/2 {
		return TextureMap{}, fmt.Errorf("%w: %v is larger than the upload ring", ErrNotMappable, r)
	}
	d.reserveUpload(size)
	t.mapped, t.mapRect, t.mapLevel, t.mapPitch = true, r, level, pitch
	return TextureMap{Bits: d.texStream.CurrentHostPointer()[:size], Pitch: pitch}, nil
}

// Unmap copies the mapped data into the texture.
func (t *Texture) Unmap() {
	if !t.mapped {
		return
	}
	t.mapped = false
	d := t.dev
	off := d.texStream.CurrentOffset()
	d.texStream.CommitMemory(uint64(t.mapPitch * t.mapRect.Dy())) //nolint:gosec // non-negative

	d.EndRenderPass()
	t.TransitionToLayout(driver.LayoutTransferDst)
	d.ctx.CommandBuffer().CopyBufferToImage(d.texStream.Buffer(), off, uint32(t.mapPitch), t.image, t.mapLevel, t.mapRect) //nolint:gosec // aligned row size
	d.stats.Uploads++
}

// GenerateMipmaps fills levels 1..n-1 by successive linear blits.
func (t *Texture) GenerateMipmaps() {
	if t.destroyed || t.levels <= 1 {
		return
	}
	d := t.dev
	d.EndRenderPass()
	t.TransitionToLayout(driver.LayoutTransferDst)
	cmd := d.ctx.CommandBuffer()
	w, h := t.width, t.height
	for lvl := uint32(1); lvl < t.levels; lvl++ {
		nw, nh := max(w/2, 1), max(h/2, 1)
		cmd.BlitImage(t.image, lvl-1, image.Rect(0, 0, w, h), t.image, lvl, image.Rect(0, 0, nw, nh), driver.FilterLinear)
		w, h = nw, nh
	}
}

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}
