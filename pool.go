package gsvk

import (
	"math/bits"
	"slices"

	"github.com/gogpu/gsvk/internal/driver"
)

// maxPoolSize bounds the number of recycled surfaces kept alive.
const maxPoolSize = 300

// surfacePool holds recycled textures, most recent first.
type surfacePool struct {
	entries []*Texture
}

func (p *surfacePool) push(t *Texture) {
	p.entries = slices.Insert(p.entries, 0, t)
}

// take removes and returns the most recent entry matching the key.
func (p *surfacePool) take(typ SurfaceType, w, h int, levels uint32, format driver.Format) *Texture {
	for i, t := range p.entries {
		if t.typ == typ && t.width == w && t.height == h && t.levels == levels && t.format == format {
			p.entries = slices.Delete(p.entries, i, i+1)
			return t
		}
	}
	return nil
}

func (p *surfacePool) remove(t *Texture) {
	p.entries = slices.DeleteFunc(p.entries, func(e *Texture) bool { return e == t })
}

func (p *surfacePool) len() int { return len(p.entries) }

func defaultFormat(typ SurfaceType) driver.Format {
	if typ == SurfaceDepthStencil {
		return driver.FormatD32S8
	}
	return driver.FormatRGBA8
}

// surfaceShape clamps the requested size and picks the mip count.
func (d *Device) surfaceShape(typ SurfaceType, w, h int, format driver.Format) (int, int, uint32) {
	limit := int(d.features.MaxImageDimension2D)
	if limit <= 0 {
		limit = 8192
	}
	w, h = min(max(w, 1), limit), min(max(h, 1), limit)
	levels := uint32(1)
	if d.cfg.Mipmap > 1 && typ == SurfaceTexture && format == driver.FormatRGBA8 {
		levels = uint32(max(1, bits.Len(uint(max(w, h)))-1)) //nolint:gosec // at most 31
	}
	return w, h, levels
}

// CreateSurface creates a texture. New render targets are cleared to 0
// and new depth buffers to depth 0 and stencil 0, unless safe features are
// disabled, in which case they are only marked discarded.
func (d *Device) CreateSurface(typ SurfaceType, w, h int, format driver.Format) *Texture {
	if format == driver.FormatUndefined {
		format = defaultFormat(typ)
	}
	w, h, levels := d.surfaceShape(typ, w, h, format)
	t := d.createTexture(typ, w, h, levels, format)
	if t == nil {
		return nil
	}
	d.initSurface(t)
	return t
}

func (d *Device) initSurface(t *Texture) {
	switch t.typ {
	case SurfaceRenderTarget:
		if d.cfg.DisableSafeFeatures {
			t.Discard()
			return
		}
		d.ClearRenderTarget(t, [4]float32{})
	case SurfaceDepthStencil:
		if d.cfg.DisableSafeFeatures {
			t.Discard()
			return
		}
		d.ClearDepth(t)
	}
}

// FetchSurface returns a pooled texture matching the request, or creates
// one. An undefined format means RGBA8, or D32S8 for depth buffers.
func (d *Device) FetchSurface(typ SurfaceType, w, h int, format driver.Format) *Texture {
	if format == driver.FormatUndefined {
		format = defaultFormat(typ)
	}
	cw, ch, levels := d.surfaceShape(typ, w, h, format)
	if t := d.pool.take(typ, cw, ch, levels, format); t != nil {
		t.LastFrameUsed = d.frame
		d.initSurface(t)
		return t
	}
	return d.CreateSurface(typ, w, h, format)
}

// Recycle returns t to the pool. The oldest entries are destroyed once the
// pool is full.
func (d *Device) Recycle(t *Texture) {
	if t == nil || t.destroyed {
		return
	}
	d.UnbindTexture(t)
	t.LastFrameUsed = d.frame
	d.pool.push(t)
	for d.pool.len() > maxPoolSize {
		d.pool.entries[d.pool.len()-1].Destroy()
	}
}

// AgePool destroys pooled textures unused for more than Config.PoolMaxAge
// frames.
func (d *Device) AgePool() {
	maxAge := uint64(d.cfg.PoolMaxAge) //nolint:gosec // validated non-negative
	var old []*Texture
	for _, t := range d.pool.entries {
		if d.frame-t.LastFrameUsed > maxAge {
			old = append(old, t)
		}
	}
	for _, t := range old {
		t.Destroy()
	}
}

// PoolSize returns the number of pooled textures.
func (d *Device) PoolSize() int { return d.pool.len() }

// CreateRenderTarget fetches a w×h color target.
func (d *Device) CreateRenderTarget(w, h int, format driver.Format) *Texture {
	return d.FetchSurface(SurfaceRenderTarget, w, h, format)
}

// CreateDepthStencil fetches a w×h depth/stencil buffer.
func (d *Device) CreateDepthStencil(w, h int) *Texture {
	return d.FetchSurface(SurfaceDepthStencil, w, h, driver.FormatD32S8)
}

// CreateTexture fetches a w×h sampled texture.
func (d *Device) CreateTexture(w, h int, format driver.Format) *Texture {
	return d.FetchSurface(SurfaceTexture, w, h, format)
}

// CreateOffscreen creates a w×h readback target. Offscreen textures are
// not pooled.
func (d *Device) CreateOffscreen(w, h int, format driver.Format) *Texture {
	return d.CreateSurface(SurfaceOffscreen, w, h, format)
}

// ClearRenderTarget fills t with c.
func (d *Device) ClearRenderTarget(t *Texture, c [4]float32) {
	if t == nil || t.destroyed {
		return
	}
	d.EndRenderPass()
	t.CheckDiscarded()
	t.TransitionToLayout(driver.LayoutTransferDst)
	d.ctx.CommandBuffer().ClearColorImage(t.image, c)
	t.TransitionToLayout(t.attachmentLayout())
}

// ClearRenderTargetPacked fills t with the RGBA8 color c, red in the low
// byte.
func (d *Device) ClearRenderTargetPacked(t *Texture, c uint32) {
	var f [4]float32
	for i := range f {
		f[i] = float32(c>>(8*i)&0xFF) / 255
	}
	d.ClearRenderTarget(t, f)
}

// ClearDepth sets depth and stencil of t to 0.
func (d *Device) ClearDepth(t *Texture) {
	d.clearDepthStencil(t, 0, driver.AspectDepth|driver.AspectStencil)
}

// ClearStencil sets the stencil of t to v, keeping depth.
func (d *Device) ClearStencil(t *Texture, v uint8) {
	d.clearDepthStencil(t, uint32(v), driver.AspectStencil)
}

func (d *Device) clearDepthStencil(t *Texture, stencil uint32, aspect driver.Aspect) {
	if t == nil || t.destroyed {
		return
	}
	d.EndRenderPass()
	t.CheckDiscarded()
	t.TransitionToLayout(driver.LayoutTransferDst)
	d.ctx.CommandBuffer().ClearDepthStencilImage(t.image, 0, stencil, aspect)
	t.TransitionToLayout(t.attachmentLayout())
}
