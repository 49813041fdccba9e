package soft

import (
	"encoding/binary"
	"image"

	"github.com/chewxy/math32"

	"github.com/gogpu/gsvk/internal/driver"
)

const maxLocations = 8

// attrs holds decoded vertex attributes by shader location.
type attrs [maxLocations][4]float32

// vertexOut is what a vertex program produces.
type vertexOut struct {
	pos   [4]float32
	uv    [2]float32
	color [4]float32
	fog   float32
}

// winVert is a vertex in window space with its varyings.
type winVert struct {
	x, y, z float32
	uv      [2]float32
	color   [4]float32
	fog     float32
}

// fragIn is the interpolated input of a fragment program.
type fragIn struct {
	x, y  int
	z     float32
	uv    [2]float32
	color [4]float32
	fog   float32
}

// fragOut is the output of a fragment program.
type fragOut struct {
	color    [4]float32
	depth    float32
	hasDepth bool
	discard  bool
}

func decodeAttributes(list []driver.VertexAttribute, data []byte) attrs {
	var a attrs
	for _, at := range list {
		if at.Location >= maxLocations || int(at.Offset+at.Format.Size()) > len(data) {
			continue
		}
		b := data[at.Offset:]
		v := [4]float32{0, 0, 0, 1}
		switch at.Format {
		case driver.VertexFloat32:
			v[0] = f32(b, 0)
		case driver.VertexFloat32x2:
			v[0], v[1] = f32(b, 0), f32(b, 4)
		case driver.VertexFloat32x4:
			v = [4]float32{f32(b, 0), f32(b, 4), f32(b, 8), f32(b, 12)}
		case driver.VertexUnorm8x4:
			v = [4]float32{float32(b[0]) / 255, float32(b[1]) / 255, float32(b[2]) / 255, float32(b[3]) / 255}
		case driver.VertexUint8x4:
			v = [4]float32{float32(b[0]), float32(b[1]), float32(b[2]), float32(b[3])}
		case driver.VertexUint16x2:
			v[0] = float32(binary.LittleEndian.Uint16(b))
			v[1] = float32(binary.LittleEndian.Uint16(b[2:]))
		case driver.VertexUint32:
			v[0] = float32(binary.LittleEndian.Uint32(b))
		}
		a[at.Location] = v
	}
	return a
}

func (e *executor) toWindow(o vertexOut) winVert {
	w := o.pos[3]
	if w == 0 {
		w = 1
	}
	nx, ny, nz := o.pos[0]/w, o.pos[1]/w, o.pos[2]/w
	vp := e.viewport
	return winVert{
		x:     (nx+1)/2*vp.Width + vp.X,
		y:     (1-ny)/2*vp.Height + vp.Y,
		z:     vp.MinDepth + nz*(vp.MaxDepth-vp.MinDepth),
		uv:    o.uv,
		color: o.color,
		fog:   o.fog,
	}
}

// clipRect is the pixel region a draw may touch.
func (e *executor) clipRect() image.Rectangle {
	r := e.area.Intersect(driver.FullRect(e.fb.Width, e.fb.Height))
	if e.scissor != (image.Rectangle{}) {
		r = r.Intersect(e.scissor)
	}
	return r
}

func (e *executor) draw(idx []uint32, base int32) {
	p := e.pipe
	if !e.inPass || p == nil {
		return
	}
	vb := e.dev.buffers[e.vb]
	if vb == nil {
		return
	}
	stride := uint64(p.desc.VertexStride)
	verts := make([]winVert, len(idx))
	for i, vi := range idx {
		n := int64(vi) + int64(base)
		if n < 0 {
			return
		}
		off := e.vbOff + uint64(n)*stride
		if off+stride > uint64(len(vb.data)) {
			return
		}
		in := decodeAttributes(p.desc.Attributes, vb.data[off:off+stride])
		verts[i] = e.toWindow(p.prog.vertex(e, &in))
	}
	e.dev.stats.Draws++

	clip := e.clipRect()
	switch p.desc.Topology {
	case driver.TopologyTriangleList:
		for i := 0; i+2 < len(verts); i += 3 {
			e.triangle(clip, verts[i], verts[i+1], verts[i+2])
		}
	case driver.TopologyTriangleStrip:
		for i := 0; i+2 < len(verts); i++ {
			e.triangle(clip, verts[i], verts[i+1], verts[i+2])
		}
	case driver.TopologyLineList:
		for i := 0; i+1 < len(verts); i += 2 {
			e.line(clip, verts[i], verts[i+1])
		}
	case driver.TopologyPointList:
		for _, v := range verts {
			x, y := int(math32.Floor(v.x)), int(math32.Floor(v.y))
			if image.Pt(x, y).In(clip) {
				e.fragment(x, y, v.z, v.uv, v.color, v.fog)
			}
		}
	}
}

func edge(a, b winVert, px, py float32) float32 {
	return (px-a.x)*(b.y-a.y) - (py-a.y)*(b.x-a.x)
}

// ownsEdge breaks ties for pixel centres lying exactly on an edge. Of the
// two directions of a shared edge exactly one is owned, so adjacent
// triangles never both cover, or both miss, such a pixel.
func ownsEdge(a, b winVert) bool {
	dy, dx := b.y-a.y, b.x-a.x
	return dy > 0 || (dy == 0 && dx < 0)
}

func (e *executor) triangle(clip image.Rectangle, v0, v1, v2 winVert) {
	area := edge(v0, v1, v2.x, v2.y)
	if area == 0 {
		return
	}
	if area < 0 {
		v1, v2 = v2, v1
		area = -area
	}
	minX := int(math32.Floor(math32.Min(v0.x, math32.Min(v1.x, v2.x))))
	maxX := int(math32.Ceil(math32.Max(v0.x, math32.Max(v1.x, v2.x))))
	minY := int(math32.Floor(math32.Min(v0.y, math32.Min(v1.y, v2.y))))
	maxY := int(math32.Ceil(math32.Max(v0.y, math32.Max(v1.y, v2.y))))
	box := image.Rect(minX, minY, maxX+1, maxY+1).Intersect(clip)

	own0, own1, own2 := ownsEdge(v1, v2), ownsEdge(v2, v0), ownsEdge(v0, v1)
	for y := box.Min.Y; y < box.Max.Y; y++ {
		py := float32(y) + 0.5
		for x := box.Min.X; x < box.Max.X; x++ {
			px := float32(x) + 0.5
			w0 := edge(v1, v2, px, py)
			w1 := edge(v2, v0, px, py)
			w2 := edge(v0, v1, px, py)
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			if (w0 == 0 && !own0) || (w1 == 0 && !own1) || (w2 == 0 && !own2) {
				continue
			}
			b0, b1, b2 := w0/area, w1/area, w2/area
			var uv [2]float32
			var col [4]float32
			for i := range uv {
				uv[i] = b0*v0.uv[i] + b1*v1.uv[i] + b2*v2.uv[i]
			}
			for i := range col {
				col[i] = b0*v0.color[i] + b1*v1.color[i] + b2*v2.color[i]
			}
			z := b0*v0.z + b1*v1.z + b2*v2.z
			fog := b0*v0.fog + b1*v1.fog + b2*v2.fog
			e.fragment(x, y, z, uv, col, fog)
		}
	}
}

func (e *executor) line(clip image.Rectangle, a, b winVert) {
	dx, dy := b.x-a.x, b.y-a.y
	steps := int(math32.Ceil(math32.Max(math32.Abs(dx), math32.Abs(dy))))
	if steps == 0 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		t := (float32(i) + 0.5) / float32(steps)
		x := int(math32.Floor(a.x + dx*t))
		y := int(math32.Floor(a.y + dy*t))
		if !image.Pt(x, y).In(clip) {
			continue
		}
		var col [4]float32
		for c := range col {
			col[c] = a.color[c] + (b.color[c]-a.color[c])*t
		}
		uv := [2]float32{a.uv[0] + (b.uv[0]-a.uv[0])*t, a.uv[1] + (b.uv[1]-a.uv[1])*t}
		e.fragment(x, y, a.z+(b.z-a.z)*t, uv, col, a.fog+(b.fog-a.fog)*t)
	}
}

func compare(op driver.CompareOp, a, b float32) bool {
	switch op {
	case driver.CompareNever:
		return false
	case driver.CompareLess:
		return a < b
	case driver.CompareEqual:
		return a == b
	case driver.CompareLessOrEqual:
		return a <= b
	case driver.CompareGreater:
		return a > b
	case driver.CompareNotEqual:
		return a != b
	case driver.CompareGreaterOrEqual:
		return a >= b
	default:
		return true
	}
}

func stencilApply(op driver.StencilOp, cur uint8, ref, mask uint32) uint8 {
	var v uint32
	switch op {
	case driver.StencilZero:
		v = 0
	case driver.StencilReplace:
		v = ref
	default:
		return cur
	}
	return uint8((uint32(cur) &^ mask) | (v & mask)) //nolint:gosec // masked to 8 bits
}

func (e *executor) fragment(x, y int, z float32, uv [2]float32, col [4]float32, fog float32) {
	p := e.pipe
	out := p.prog.fragment(e, &fragIn{x: x, y: y, z: z, uv: uv, color: col, fog: fog})
	e.dev.stats.PixelsShaded++
	if out.discard {
		return
	}
	if out.hasDepth {
		z = out.depth
	}

	if e.rp.DepthFormat != driver.FormatUndefined {
		ds := e.dev.images[e.fb.Depth]
		if ds == nil {
			return
		}
		lv := &ds.levels[0]
		if !lv.in(x, y) {
			return
		}
		i := y*lv.w + x
		st := p.desc.Stencil
		if st.Enable {
			ref := st.Reference & st.ReadMask
			cur := uint32(lv.stencil[i]) & st.ReadMask
			if !compare(st.Compare, float32(ref), float32(cur)) {
				lv.stencil[i] = stencilApply(st.FailOp, lv.stencil[i], st.Reference, st.WriteMask)
				return
			}
		}
		stored := lv.px[i*4]
		if p.desc.DepthTest && !compare(p.desc.DepthCompare, z, stored) {
			if st.Enable {
				lv.stencil[i] = stencilApply(st.DepthFailOp, lv.stencil[i], st.Reference, st.WriteMask)
			}
			return
		}
		if st.Enable {
			lv.stencil[i] = stencilApply(st.PassOp, lv.stencil[i], st.Reference, st.WriteMask)
		}
		if p.desc.DepthWrite || (out.hasDepth && e.rp.ColorFormat == driver.FormatUndefined) {
			lv.px[i*4] = clamp01(z)
		}
	}

	if e.rp.ColorFormat == driver.FormatUndefined {
		return
	}
	rt := e.dev.images[e.fb.Color]
	if rt == nil {
		return
	}
	lv := &rt.levels[0]
	if !lv.in(x, y) {
		return
	}
	dst := lv.get(x, y)
	src := out.color
	if p.desc.Blend.Enable {
		src = blend(p.desc.Blend, src, dst, e.blendC)
	}
	mask := p.desc.WriteMask
	for c := range 4 {
		if mask&(1<<c) == 0 {
			src[c] = dst[c]
		}
	}
	lv.set(x, y, quantize(rt.desc.Format, src))
}

func factor(f driver.BlendFactor, src, dst, k [4]float32) float32 {
	switch f {
	case driver.BlendZero:
		return 0
	case driver.BlendOne:
		return 1
	case driver.BlendSrcAlpha, driver.BlendSrc1Alpha:
		return src[3]
	case driver.BlendOneMinusSrcAlpha, driver.BlendOneMinusSrc1Alpha:
		return 1 - src[3]
	case driver.BlendDstAlpha:
		return dst[3]
	case driver.BlendOneMinusDstAlpha:
		return 1 - dst[3]
	case driver.BlendConstant:
		return k[3]
	case driver.BlendOneMinusConstant:
		return 1 - k[3]
	}
	return 0
}

func combine(op driver.BlendOp, s, d float32) float32 {
	switch op {
	case driver.BlendOpSubtract:
		return s - d
	case driver.BlendOpReverseSubtract:
		return d - s
	default:
		return s + d
	}
}

func blend(b driver.BlendState, src, dst, k [4]float32) [4]float32 {
	var out [4]float32
	sc, dc := factor(b.SrcColor, src, dst, k), factor(b.DstColor, src, dst, k)
	for i := range 3 {
		out[i] = combine(b.ColorOp, src[i]*sc, dst[i]*dc)
	}
	sa, da := factor(b.SrcAlpha, src, dst, k), factor(b.DstAlpha, src, dst, k)
	out[3] = combine(b.AlphaOp, src[3]*sa, dst[3]*da)
	return out
}

// sample reads a texture at normalized coordinates.
func sample(im *softImage, sd driver.SamplerDesc, uv [2]float32) [4]float32 {
	if im == nil {
		return [4]float32{}
	}
	lv := &im.levels[0]
	u := uv[0]*float32(lv.w) - 0.5
	v := uv[1]*float32(lv.h) - 0.5
	if sd.MagFilter == driver.FilterNearest {
		x := wrap(int(math32.Floor(u+0.5)), lv.w, sd.AddressU)
		y := wrap(int(math32.Floor(v+0.5)), lv.h, sd.AddressV)
		return lv.get(x, y)
	}
	x0, y0 := math32.Floor(u), math32.Floor(v)
	fx, fy := u-x0, v-y0
	ix, iy := int(x0), int(y0)
	c00 := lv.get(wrap(ix, lv.w, sd.AddressU), wrap(iy, lv.h, sd.AddressV))
	c10 := lv.get(wrap(ix+1, lv.w, sd.AddressU), wrap(iy, lv.h, sd.AddressV))
	c01 := lv.get(wrap(ix, lv.w, sd.AddressU), wrap(iy+1, lv.h, sd.AddressV))
	c11 := lv.get(wrap(ix+1, lv.w, sd.AddressU), wrap(iy+1, lv.h, sd.AddressV))
	var out [4]float32
	for i := range out {
		top := c00[i] + (c10[i]-c00[i])*fx
		bot := c01[i] + (c11[i]-c01[i])*fx
		out[i] = top + (bot-top)*fy
	}
	return out
}

func wrap(i, n int, mode driver.AddressMode) int {
	switch mode {
	case driver.AddressRepeat:
		i %= n
		if i < 0 {
			i += n
		}
		return i
	case driver.AddressMirrorRepeat:
		p := 2 * n
		i %= p
		if i < 0 {
			i += p
		}
		if i >= n {
			i = p - 1 - i
		}
		return i
	default:
		return min(max(i, 0), n-1)
	}
}
