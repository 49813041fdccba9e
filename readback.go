package gsvk

import (
	"fmt"
	"image"

	"github.com/gogpu/gsvk/internal/driver"
)

// ReadbackTexture copies r of the given level into the staging buffer and
// waits for the GPU. The returned bits stay valid until the next readback.
func (d *Device) ReadbackTexture(src *Texture, r image.Rectangle, level uint32) (TextureMap, error) {
	if src == nil || src.destroyed {
		return TextureMap{}, ErrTextureDestroyed
	}
	if level >= src.levels {
		return TextureMap{}, fmt.Errorf("gsvk: readback level %d of %d-level texture", level, src.levels)
	}
	if !r.In(src.Rect()) || r.Empty() {
		return TextureMap{}, fmt.Errorf("gsvk: readback of %v outside %v", r, src.Rect())
	}
	pitch := alignUp(r.Dx()*src.format.BytesPerPixel(), copyPitchAlignment)
	size := uint64(pitch * r.Dy()) //nolint:gosec // non-negative
	if size > d.readbackSize {
		return TextureMap{}, fmt.Errorf("%w: %v of %s needs %d bytes, have %d",
			ErrReadbackTooLarge, r, src.format, size, d.readbackSize)
	}

	d.EndRenderPass()
	src.TransitionToLayout(driver.LayoutTransferSrc)
	d.ctx.CommandBuffer().CopyImageToBuffer(src.image, level, r, d.readback, 0, uint32(pitch)) //nolint:gosec // aligned row size
	d.ExecuteCommandBuffer(true, "")
	d.stats.Readbacks++
	return TextureMap{Bits: d.readbackMapped[:size], Pitch: pitch}, nil
}

// CopyRect copies r of src into the same place of dst. Without image copy
// support, or between formats, it draws with the copy shader.
func (d *Device) CopyRect(src, dst *Texture, r image.Rectangle) {
	if src == nil || dst == nil || src.destroyed || dst.destroyed {
		d.log.texture.Errorf("CopyRect with a missing texture")
		return
	}
	r = r.Intersect(src.Rect()).Intersect(dst.Rect())
	if r.Empty() {
		return
	}
	if d.features.ImageCopy && src.format == dst.format {
		d.EndRenderPass()
		src.TransitionToLayout(driver.LayoutTransferSrc)
		dst.TransitionToLayout(driver.LayoutTransferDst)
		d.ctx.CommandBuffer().CopyImage(src.image, 0, r, dst.image, 0, r.Min)
		dst.TransitionToLayout(driver.LayoutShaderReadOnly)
		return
	}
	if dst.IsDepthStencil() {
		d.log.texture.Errorf("CopyRect of %s into %s needs image copy", src.format, dst.format)
		return
	}
	rf := RectFromImage(r)
	d.StretchRect(src, rf.Normalize(src.width, src.height), dst, rf, ShaderCopy, false)
}

// BlitRect scales sRect of level sLevel of src into dRect of level dLevel
// of dst. Without blit support only level 0 is reachable, through the copy
// shader.
func (d *Device) BlitRect(src *Texture, sRect image.Rectangle, sLevel uint32, dst *Texture, dRect image.Rectangle, dLevel uint32, linear bool) {
	if src == nil || dst == nil || src.destroyed || dst.destroyed {
		d.log.texture.Errorf("BlitRect with a missing texture")
		return
	}
	if d.features.Blit {
		filter := driver.FilterNearest
		if linear {
			filter = driver.FilterLinear
		}
		d.EndRenderPass()
		src.TransitionToLayout(driver.LayoutTransferSrc)
		dst.TransitionToLayout(driver.LayoutTransferDst)
		d.ctx.CommandBuffer().BlitImage(src.image, sLevel, sRect, dst.image, dLevel, dRect, filter)
		dst.TransitionToLayout(driver.LayoutShaderReadOnly)
		return
	}
	if sLevel != 0 || dLevel != 0 {
		d.log.texture.Errorf("BlitRect of level %d to %d needs blit support", sLevel, dLevel)
		return
	}
	d.StretchRect(src, RectFromImage(sRect).Normalize(src.width, src.height), dst, RectFromImage(dRect), ShaderCopy, linear)
}

// CloneTexture returns a new texture of the same type, size and format
// holding a copy of level 0 of src.
func (d *Device) CloneTexture(src *Texture) *Texture {
	if src == nil || src.destroyed {
		return nil
	}
	t := d.CreateSurface(src.typ, src.width, src.height, src.format)
	if t == nil {
		return nil
	}
	d.CopyRect(src, t, src.Rect())
	return t
}

// DrawForReadback converts sRect of src into a w×h target of format with
// convert shader and reads the whole target back.
func (d *Device) DrawForReadback(src *Texture, sRect RectF, w, h int, format driver.Format, shader int) (TextureMap, error) {
	if src == nil || src.destroyed {
		return TextureMap{}, ErrTextureDestroyed
	}
	typ := SurfaceRenderTarget
	if format.IsDepth() {
		typ = SurfaceDepthStencil
	}
	t := d.FetchSurface(typ, w, h, format)
	if t == nil {
		return TextureMap{}, fmt.Errorf("gsvk: readback target %dx%d %s: %w", w, h, format, ErrUnsupportedFormat)
	}
	defer d.Recycle(t)
	d.StretchRect(src, sRect, t, RectF{0, 0, float32(t.width), float32(t.height)}, shader, false)
	return d.ReadbackTexture(t, t.Rect(), 0)
}

// CopyOffscreen converts sRect of src into a new w×h offscreen texture and
// keeps a CPU copy of it, readable through Map.
func (d *Device) CopyOffscreen(src *Texture, sRect RectF, w, h int, format driver.Format, shader int) (*Texture, error) {
	if src == nil || src.destroyed {
		return nil, ErrTextureDestroyed
	}
	if format.IsDepth() {
		return nil, fmt.Errorf("gsvk: offscreen %s: %w", format, ErrUnsupportedFormat)
	}
	t := d.CreateOffscreen(w, h, format)
	if t == nil {
		return nil, fmt.Errorf("gsvk: offscreen %dx%d %s rejected by the driver", w, h, format)
	}
	d.StretchRect(src, sRect, t, RectF{0, 0, float32(t.width), float32(t.height)}, shader, false)
	m, err := d.ReadbackTexture(t, t.Rect(), 0)
	if err != nil {
		t.Destroy()
		return nil, err
	}
	t.offscreen = append([]byte(nil), m.Bits...)
	t.offscreenPitch = m.Pitch
	return t, nil
}
