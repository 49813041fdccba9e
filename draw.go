package gsvk

import (
	"encoding/binary"
	"image"

	"github.com/gogpu/gsvk/internal/driver"
)

const (
	vsConstantBufferSize = 48
	psConstantBufferSize = 224
)

// VSConstantBuffer is the vertex stage uniform block of textured draws.
type VSConstantBuffer struct {
	VertexScale   [2]float32
	VertexOffset  [2]float32
	TextureScale  [2]float32
	TextureOffset [2]float32
	PointSize     [2]float32
	MaxDepth      uint32
	_             uint32
}

// PSConstantBuffer is the fragment stage uniform block of textured draws.
type PSConstantBuffer struct {
	FogColorAREF   [4]float32 // fog rgb, alpha reference in w
	HalfTexel      [4]float32
	WH             [4]float32
	MinMax         [4]float32
	MinFTA         [4]float32
	MskFix         [4]uint32
	ChannelShuffle [4]uint32
	FBMask         [4]uint32
	TCOffsetHack   [4]float32
	AFMaxDepth     [4]float32
	DitherMatrix   [4][4]float32
}

// reserveStream reserves size bytes of s. When the ring is full the command
// buffer is flushed once, reopening any open pass; a second failure is
// fatal.
func (d *Device) reserveStream(s transientBuffer, size, alignment uint64, what string) {
	if s.ReserveMemory(size, alignment) {
		return
	}
	d.ExecuteCommandBufferAndRestartRenderPass("uploading %d bytes to %s buffer", size, what)
	if !s.ReserveMemory(size, alignment) {
		d.fatalf("failed to reserve %d bytes of %s buffer space", size, what)
	}
}

// IASetVertexBuffer uploads count vertices of stride bytes and binds them.
func (d *Device) IASetVertexBuffer(data []byte, stride, count int) {
	size := uint64(stride * count) //nolint:gosec // non-negative
	s := d.vertexStream
	d.reserveStream(s, size, uint64(stride), "vertex") //nolint:gosec // non-negative
	d.vertex = geometry{
		start: uint32(s.CurrentOffset() / uint64(stride)), //nolint:gosec // bounded by ring size
		count: uint32(count),                            //nolint:gosec // bounded by ring size
	}
	copy(s.CurrentHostPointer(), data[:size])
	s.CommitMemory(size)
	d.SetVertexBuffer(s.Buffer(), 0)
}

// IAMapVertexBuffer reserves space for count vertices of stride bytes and
// returns it for writing. IAUnmapVertexBuffer commits it.
func (d *Device) IAMapVertexBuffer(stride, count int) []byte {
	size := uint64(stride * count) //nolint:gosec // non-negative
	s := d.vertexStream
	d.reserveStream(s, size, uint64(stride), "vertex") //nolint:gosec // non-negative
	d.vertex = geometry{
		start: uint32(s.CurrentOffset() / uint64(stride)), //nolint:gosec // bounded by ring size
		count: uint32(count),                            //nolint:gosec // bounded by ring size
	}
	d.vertexMapSize = size
	d.SetVertexBuffer(s.Buffer(), 0)
	return s.CurrentHostPointer()[:size]
}

// IAUnmapVertexBuffer commits the vertices written after IAMapVertexBuffer.
func (d *Device) IAUnmapVertexBuffer() {
	d.vertexStream.CommitMemory(d.vertexMapSize)
	d.vertexMapSize = 0
}

// IASetIndexBuffer uploads and binds uint32 indices.
func (d *Device) IASetIndexBuffer(indices []uint32) {
	size := uint64(4 * len(indices))
	s := d.indexStream
	d.reserveStream(s, size, 4, "index")
	d.index = geometry{
		start: uint32(s.CurrentOffset() / 4), //nolint:gosec // bounded by ring size
		count: uint32(len(indices)),          //nolint:gosec // bounded by ring size
	}
	dst := s.CurrentHostPointer()
	for i, v := range indices {
		binary.LittleEndian.PutUint32(dst[4*i:], v)
	}
	s.CommitMemory(size)
	d.SetIndexBuffer(s.Buffer(), 0)
}

func (d *Device) uniformAlignment() uint64 {
	return uint64(max(d.features.UniformAlignment, 16))
}

// SetupVS uploads cb unless it equals the last uploaded block, and points
// the vertex uniform dynamic offset at it.
func (d *Device) SetupVS(cb *VSConstantBuffer) {
	if d.vsCBValid && d.vsCB == *cb {
		return
	}
	s := d.vsStream
	d.reserveStream(s, vsConstantBufferSize, d.uniformAlignment(), "vertex uniform")
	if _, err := binary.Encode(s.CurrentHostPointer(), binary.LittleEndian, cb); err != nil {
		d.fatalf("encode vertex constants: %v", err)
	}
	d.tfxDynamicOffsets[0] = uint32(s.CurrentOffset()) //nolint:gosec // bounded by ring size
	s.CommitMemory(vsConstantBufferSize)
	d.vsCB, d.vsCBValid = *cb, true
	d.dirty |= dirtyTFXDynamicOffsets
}

// SetupPS uploads cb unless it equals the last uploaded block, and points
// the fragment uniform dynamic offset at it.
func (d *Device) SetupPS(cb *PSConstantBuffer) {
	if d.psCBValid && d.psCB == *cb {
		return
	}
	s := d.psStream
	d.reserveStream(s, psConstantBufferSize, d.uniformAlignment(), "fragment uniform")
	if _, err := binary.Encode(s.CurrentHostPointer(), binary.LittleEndian, cb); err != nil {
		d.fatalf("encode fragment constants: %v", err)
	}
	d.tfxDynamicOffsets[1] = uint32(s.CurrentOffset()) //nolint:gosec // bounded by ring size
	s.CommitMemory(psConstantBufferSize)
	d.psCB, d.psCBValid = *cb, true
	d.dirty |= dirtyTFXDynamicOffsets
}

// OMSetRenderTargets selects the targets of textured draws. Either may be
// nil, not both. An empty scissor covers the whole target.
func (d *Device) OMSetRenderTargets(rt, ds *Texture, scissor image.Rectangle) {
	var fb driver.Framebuffer
	var size image.Point
	switch {
	case rt != nil && ds != nil:
		fb, size = rt.LinkedFramebuffer(ds), image.Pt(min(rt.width, ds.width), min(rt.height, ds.height))
	case rt != nil:
		fb, size = rt.Framebuffer(), rt.Size()
	case ds != nil:
		fb, size = ds.Framebuffer(), ds.Size()
	default:
		d.log.gs.Errorf("OMSetRenderTargets without targets")
		return
	}
	d.SetFramebuffer(fb)
	d.currentRT, d.currentDS = rt, ds

	if !d.InRenderPass() {
		if rt != nil {
			rt.TransitionToLayout(driver.LayoutColorAttachment)
		}
		if ds != nil {
			ds.TransitionToLayout(driver.LayoutDepthAttachment)
		}
	}
	for _, t := range []*Texture{rt, ds} {
		if t != nil {
			t.LastFrameUsed = d.frame
		}
	}

	d.SetViewport(driver.Viewport{Width: float32(size.X), Height: float32(size.Y), MaxDepth: 1})
	if scissor.Empty() {
		scissor = image.Rectangle{Max: size}
	}
	d.SetScissor(scissor)
}

// beginTFXPass opens the textured draw pass over the current targets when
// none is open.
func (d *Device) beginTFXPass() bool {
	if d.InRenderPass() {
		return true
	}
	rt, ds := d.currentRT, d.currentDS
	if rt == nil && ds == nil {
		d.log.gs.Errorf("Draw without render targets")
		return false
	}
	var area image.Rectangle
	hdr := false
	switch {
	case rt != nil && ds != nil:
		area = rt.Rect().Intersect(ds.Rect())
	case rt != nil:
		area = rt.Rect()
	default:
		area = ds.Rect()
	}
	// Textured draws keep what is there; a pending discard is spent.
	if rt != nil {
		hdr = rt.format == driver.FormatRGBA32F
		rt.CheckDiscarded()
		rt.TransitionToLayout(driver.LayoutColorAttachment)
	}
	if ds != nil {
		ds.CheckDiscarded()
		ds.TransitionToLayout(driver.LayoutDepthAttachment)
	}
	rp := d.tfxRenderPass(rt != nil, ds != nil, hdr, driver.LoadOpLoad)
	if rp == 0 {
		return false
	}
	d.BeginRenderPass(rp, area)
	return true
}

// prepareTFXDraw opens the pass and records the dirty state.
func (d *Device) prepareTFXDraw() bool {
	if !d.beginTFXPass() || !d.ApplyTFXState() {
		return false
	}
	if d.cfg.Debug {
		d.CheckRenderPass(d.renderPass, d.scissor)
	}
	return true
}

// DrawPrimitive draws the vertices of the last upload with the bound TFX
// pipeline.
func (d *Device) DrawPrimitive() {
	if !d.prepareTFXDraw() {
		return
	}
	d.ctx.CommandBuffer().Draw(d.vertex.count, d.vertex.start)
	d.stats.DrawCalls++
}

// DrawIndexedPrimitive draws the indices of the last upload.
func (d *Device) DrawIndexedPrimitive() {
	d.DrawIndexedPrimitiveRange(0, int(d.index.count))
}

// DrawIndexedPrimitiveRange draws count indices starting offset indices
// into the last upload.
func (d *Device) DrawIndexedPrimitiveRange(offset, count int) {
	if offset < 0 || count <= 0 || offset+count > int(d.index.count) {
		d.log.gs.Errorf("Indexed draw range %d+%d outside %d indices", offset, count, d.index.count)
		return
	}
	if !d.prepareTFXDraw() {
		return
	}
	d.ctx.CommandBuffer().DrawIndexed(uint32(count), d.index.start+uint32(offset), int32(d.vertex.start)) //nolint:gosec // bounded above
	d.stats.DrawCalls++
}

// drawUtility draws the last vertex upload with the utility state and
// push constants. The caller owns the render pass.
func (d *Device) drawUtility(push []byte) {
	if !d.ApplyUtilityState() {
		return
	}
	if push != nil {
		d.SetUtilityPushConstants(push)
	}
	d.ctx.CommandBuffer().Draw(d.vertex.count, d.vertex.start)
	d.stats.DrawCalls++
}
