package gsvk

import (
	"encoding/binary"
	"image"

	"github.com/chewxy/math32"

	"github.com/gogpu/gsvk/internal/driver"
)

// RectF is a float rectangle. Source rectangles of stretch operations are
// in normalized texture coordinates, destination rectangles in pixels.
type RectF struct {
	X0, Y0, X1, Y1 float32
}

// FullRectF is the normalized rectangle covering a whole texture.
var FullRectF = RectF{0, 0, 1, 1}

// RectFromImage converts an integer rectangle.
func RectFromImage(r image.Rectangle) RectF {
	return RectF{float32(r.Min.X), float32(r.Min.Y), float32(r.Max.X), float32(r.Max.Y)}
}

// Normalize divides r by the size of a w×h texture.
func (r RectF) Normalize(w, h int) RectF {
	fw, fh := float32(w), float32(h)
	return RectF{r.X0 / fw, r.Y0 / fh, r.X1 / fw, r.Y1 / fh}
}

// Image returns the smallest integer rectangle covering r.
func (r RectF) Image() image.Rectangle {
	return image.Rect(
		int(math32.Floor(r.X0)), int(math32.Floor(r.Y0)),
		int(math32.Ceil(r.X1)), int(math32.Ceil(r.Y1)),
	)
}

// Covers reports whether r is exactly the full extent of a w×h target.
func (r RectF) Covers(w, h int) bool {
	return r == RectF{0, 0, float32(w), float32(h)}
}

// stretchTarget is the setup a stretch draw needs.
type stretchTarget struct {
	pipeline driver.Pipeline
	push     []byte
	discard  bool
	linear   bool
}

// StretchRect draws sRect of src into dRect of dst with convert shader
// shader. A nil dst draws into the presentation surface, which must be
// open through BeginPresent.
func (d *Device) StretchRect(src *Texture, sRect RectF, dst *Texture, dRect RectF, shader int, linear bool) {
	if shader < 0 || shader >= ShaderConvertCount {
		d.log.gs.Errorf("Convert shader %d out of range", shader)
		return
	}
	p := d.convert[shader]
	if dst == nil {
		p = d.present[shader]
		if p == 0 {
			d.log.gs.Errorf("Convert shader %d cannot present", shader)
			return
		}
	}
	d.doStretchRect(src, sRect, dst, dRect, stretchTarget{pipeline: p, discard: true, linear: linear})
}

// StretchRectColorMask copies sRect of src into dRect of dst, writing only
// the enabled channels.
func (d *Device) StretchRectColorMask(src *Texture, sRect RectF, dst *Texture, dRect RectF, r, g, b, a bool) {
	var mask driver.ColorMask
	for i, on := range []bool{r, g, b, a} {
		if on {
			mask |= driver.ColorMaskR << i
		}
	}
	d.doStretchRect(src, sRect, dst, dRect, stretchTarget{pipeline: d.colorCopy[mask]})
}

func (d *Device) doStretchRect(src *Texture, sRect RectF, dst *Texture, dRect RectF, st stretchTarget) {
	if src == nil || src.destroyed || (dst != nil && dst.destroyed) {
		d.log.gs.Errorf("StretchRect with a missing texture")
		return
	}
	sampler := d.pointSampler
	if st.linear {
		sampler = d.linearSampler
	}
	// Sampling layout first: the barrier may end the open pass.
	d.SetUtilityTexture(src, sampler)

	present := dst == nil
	var size image.Point
	if present {
		if !d.presenting {
			d.log.gs.Errorf("StretchRect to the display outside BeginPresent")
			return
		}
		w, h := d.display.WindowSize()
		size = image.Pt(w, h)
	} else {
		size = dst.Size()
	}

	if present && !d.resumePresentPass() {
		return
	}

	setup := !present && (!d.InRenderPass() || d.framebuffer != dst.Framebuffer())
	if setup {
		d.EndRenderPass()
		if dst.IsDepthStencil() {
			d.OMSetRenderTargets(nil, dst, image.Rectangle{})
		} else {
			d.OMSetRenderTargets(dst, nil, image.Rectangle{})
		}
	}
	d.SetPipeline(st.pipeline)

	if setup {
		// The discard mark is consumed by every write, discarding or not.
		discarded := dst.CheckDiscarded()
		load := driver.LoadOpLoad
		if st.discard && (discarded || dRect.Covers(size.X, size.Y)) {
			load = driver.LoadOpDontCare
		}
		var rp driver.RenderPass
		if dst.IsDepthStencil() {
			rp = d.GetRenderPass(driver.FormatUndefined, dst.format, load)
		} else {
			rp = d.GetRenderPass(dst.format, driver.FormatUndefined, load)
		}
		if rp == 0 {
			return
		}
		d.BeginRenderPass(rp, dst.Rect())
	}

	d.drawStretchRect(sRect, dRect, size, st.push)

	if setup {
		d.EndRenderPass()
		dst.TransitionToLayout(driver.LayoutShaderReadOnly)
	}
}

// drawStretchRect draws the quad mapping sRect onto dRect of a target of
// the given size. Clip space y points up.
func (d *Device) drawStretchRect(sRect, dRect RectF, size image.Point, push []byte) {
	w, h := float32(size.X), float32(size.Y)
	left := dRect.X0*2/w - 1
	right := dRect.X1*2/w - 1
	top := 1 - dRect.Y0*2/h
	bottom := 1 - dRect.Y1*2/h
	verts := [16]float32{
		left, top, sRect.X0, sRect.Y0,
		right, top, sRect.X1, sRect.Y0,
		left, bottom, sRect.X0, sRect.Y1,
		right, bottom, sRect.X1, sRect.Y1,
	}
	buf := d.IAMapVertexBuffer(utilityVertexStride, 4)
	if _, err := binary.Encode(buf, binary.LittleEndian, &verts); err != nil {
		d.fatalf("encode stretch vertices: %v", err)
	}
	d.IAUnmapVertexBuffer()

	d.SetViewportAndScissor(image.Rectangle{Max: size})
	d.drawUtility(push)
}

// MergeMode carries the display circuit settings of a merge.
type MergeMode struct {
	EN1, EN2 bool  // circuit enables
	SLBG     bool  // blend circuit 1 with the background instead of circuit 2
	MMOD     bool  // constant alpha from c instead of circuit 1 alpha
	FBIN     uint8 // feedback source circuit
	Linear   bool  // filter of the feedback copy; circuits are always filtered
}

// DoMerge composes the two display circuits srcs[0] and srcs[1] over the
// background color c into dst. When srcs[2] is set and the enabled
// circuit feeds back, the result is written there through the YUV
// converter.
func (d *Device) DoMerge(srcs [3]*Texture, sRects [3]RectF, dst *Texture, dRects [3]RectF, mode MergeMode, c [4]float32) {
	if dst == nil || dst.destroyed {
		d.log.gs.Errorf("Merge without a destination")
		return
	}
	feedback2 := mode.EN2 && srcs[2] != nil && mode.FBIN == 1
	feedback1 := mode.EN1 && srcs[2] != nil && mode.FBIN == 0

	d.EndRenderPass()
	for _, s := range srcs[:2] {
		if s != nil {
			d.transitionForSampling(s)
		}
	}
	d.OMSetRenderTargets(dst, nil, image.Rectangle{})
	rp := d.GetRenderPass(dst.format, driver.FormatUndefined, driver.LoadOpClear)
	if rp == 0 {
		return
	}
	dst.CheckDiscarded()
	d.BeginClearRenderPass(rp, dst.Rect(), driver.ClearValues{Color: c})

	if srcs[1] != nil && (!mode.SLBG || feedback2) {
		r := dRects[1]
		if mode.SLBG {
			r = dRects[2]
		}
		d.doStretchRect(srcs[1], sRects[1], dst, r, stretchTarget{pipeline: d.merge[0], linear: true})
	}
	if feedback2 {
		d.mergeFeedback(dst, srcs[2], dRects[2], mode.Linear)
	}
	if srcs[0] != nil {
		push := make([]byte, 16)
		if _, err := binary.Encode(push, binary.LittleEndian, c); err != nil {
			d.fatalf("encode merge constants: %v", err)
		}
		mmod := 0
		if mode.MMOD {
			mmod = 1
		}
		d.doStretchRect(srcs[0], sRects[0], dst, dRects[0], stretchTarget{pipeline: d.merge[mmod], push: push, linear: true})
	}
	if feedback1 {
		d.mergeFeedback(dst, srcs[2], dRects[2], mode.Linear)
	}

	d.EndRenderPass()
	dst.TransitionToLayout(driver.LayoutShaderReadOnly)
}

// mergeFeedback writes the merge result so far into fb and reopens the
// merge pass on dst.
func (d *Device) mergeFeedback(dst, fb *Texture, dRect RectF, linear bool) {
	d.EndRenderPass()
	d.StretchRect(dst, FullRectF, fb, dRect, ShaderYUV, linear)
	d.OMSetRenderTargets(dst, nil, image.Rectangle{})
	if rp := d.GetRenderPass(dst.format, driver.FormatUndefined, driver.LoadOpLoad); rp != 0 {
		d.BeginRenderPass(rp, dst.Rect())
	}
}

// DoInterlace deinterlaces src into dst with interlace shader 0..3,
// shifting the destination down by yoffset pixels.
func (d *Device) DoInterlace(src, dst *Texture, shader int, linear bool, yoffset float32) {
	if shader < 0 || shader >= len(d.interlace) {
		d.log.gs.Errorf("Interlace shader %d out of range", shader)
		return
	}
	if dst == nil {
		d.log.gs.Errorf("Interlace without a destination")
		return
	}
	h := float32(dst.height)
	cb := struct {
		ZrH [4]float32
		HH  float32
		_   [3]float32
	}{ZrH: [4]float32{0, 1 / h}, HH: h / 2}
	push := make([]byte, utilityPushConstantSize)
	if _, err := binary.Encode(push, binary.LittleEndian, &cb); err != nil {
		d.fatalf("encode interlace constants: %v", err)
	}
	dRect := RectF{0, yoffset, float32(dst.width), h + yoffset}
	d.doStretchRect(src, FullRectF, dst, dRect, stretchTarget{pipeline: d.interlace[shader], push: push, linear: linear})
}

// SetupDATE marks in the stencil of ds the pixels of bbox whose rt alpha
// fails the destination alpha test: alpha below 0.5 when datm is false,
// at or above it otherwise.
func (d *Device) SetupDATE(rt, ds *Texture, datm bool, bbox image.Rectangle) {
	if rt == nil || ds == nil || rt.destroyed || ds.destroyed {
		d.log.gs.Errorf("DATE setup with a missing texture")
		return
	}
	bbox = bbox.Intersect(ds.Rect())
	if bbox.Empty() {
		return
	}
	shader := ShaderDATM0
	if datm {
		shader = ShaderDATM1
	}

	d.EndRenderPass()
	d.SetUtilityTexture(rt, d.pointSampler)
	d.OMSetRenderTargets(nil, ds, bbox)
	d.SetPipeline(d.convert[shader])
	ds.CheckDiscarded()
	d.BeginClearRenderPass(d.dateSetupPass, bbox, driver.ClearValues{})

	dRect := RectFromImage(bbox)
	d.drawStretchRect(dRect.Normalize(rt.width, rt.height), dRect, ds.Size(), nil)
	d.EndRenderPass()
}
