package gsvk

import (
	"encoding/binary"
	"image"
	"slices"
	"testing"

	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/driver/soft"
	"github.com/gogpu/gsvk/internal/selector"
)

// tfxVertex encodes one GS vertex at pixel (x, y) with color c.
func tfxVertex(x, y uint16, c [4]byte) []byte {
	v := make([]byte, tfxVertexStride)
	copy(v[8:], c[:])
	binary.LittleEndian.PutUint16(v[16:], x)
	binary.LittleEndian.PutUint16(v[18:], y)
	return v
}

// quadVertices returns the two triangles covering r.
func quadVertices(r image.Rectangle, c [4]byte) []byte {
	x0, y0 := uint16(r.Min.X), uint16(r.Min.Y) //nolint:gosec // test sizes
	x1, y1 := uint16(r.Max.X), uint16(r.Max.Y) //nolint:gosec // test sizes
	var out []byte
	for _, p := range [][2]uint16{{x0, y0}, {x1, y0}, {x0, y1}, {x0, y1}, {x1, y0}, {x1, y1}} {
		out = append(out, tfxVertex(p[0], p[1], c)...)
	}
	return out
}

// flatColorPipeline draws untextured vertex colors into a color target.
var flatColorPipeline = selector.Pipeline{
	PS:       selector.PS{TFX: 4},
	DSS:      selector.DSS{ZTST: selector.ZTestAlways},
	Blend:    selector.Blend{WR: true, WG: true, WB: true, WA: true},
	Topology: driver.TopologyTriangleList,
	RT:       true,
}

// pixelSpace maps pixel coordinates of a w×h target to clip space.
func pixelSpace(w, h int) *VSConstantBuffer {
	return &VSConstantBuffer{
		VertexScale:  [2]float32{2 / float32(w), -2 / float32(h)},
		VertexOffset: [2]float32{1, -1},
	}
}

// drawRedQuad draws an opaque red quad over the top-left 32×32 of rt.
func drawRedQuad(t *testing.T, d *Device, rt, ds *Texture) {
	t.Helper()
	d.OMSetRenderTargets(rt, ds, image.Rectangle{})
	d.SetupVS(pixelSpace(rt.Width(), rt.Height()))
	d.SetupPS(&PSConstantBuffer{})
	d.IASetVertexBuffer(quadVertices(image.Rect(0, 0, 32, 32), [4]byte{255, 0, 0, 255}), tfxVertexStride, 6)
	sel := flatColorPipeline
	sel.DS = ds != nil
	if !d.BindDrawPipeline(sel, 0) {
		t.Fatal("BindDrawPipeline() = false")
	}
	d.DrawPrimitive()
}

func TestConstantBufferLayout(t *testing.T) {
	if n := binary.Size(VSConstantBuffer{}); n != vsConstantBufferSize {
		t.Errorf("VSConstantBuffer size = %d, want %d", n, vsConstantBufferSize)
	}
	if n := binary.Size(PSConstantBuffer{}); n != psConstantBufferSize {
		t.Errorf("PSConstantBuffer size = %d, want %d", n, psConstantBufferSize)
	}
}

func TestSetupVSDeduplicates(t *testing.T) {
	d, _ := newTestDevice(t)
	cb := pixelSpace(64, 64)

	d.SetupVS(cb)
	used := d.vsStream.CurrentOffset()
	first := d.tfxDynamicOffsets[0]
	d.SetupVS(cb)
	if got := d.vsStream.CurrentOffset(); got != used {
		t.Errorf("equal block uploaded again: offset %d -> %d", used, got)
	}

	cb2 := *cb
	cb2.MaxDepth = 0xFFFF
	d.SetupVS(&cb2)
	if d.tfxDynamicOffsets[0] == first {
		t.Error("changed block reused the old dynamic offset")
	}
	if d.tfxDynamicOffsets[0]%uint32(d.uniformAlignment()) != 0 { //nolint:gosec // small
		t.Errorf("dynamic offset %d not aligned to %d", d.tfxDynamicOffsets[0], d.uniformAlignment())
	}
}

func TestDynamicOffsetChangeRebindsOffsetsOnly(t *testing.T) {
	d, rec := newTestDevice(t)
	rt := d.CreateRenderTarget(64, 64, driver.FormatRGBA8)
	drawRedQuad(t, d, rt, nil)

	rec.reset()
	cb := pixelSpace(64, 64)
	cb.MaxDepth = 1
	d.SetupVS(cb)
	if !d.ApplyTFXState() {
		t.Fatal("ApplyTFXState() = false")
	}
	if len(rec.cmds) != 1 || rec.cmds[0] != "BindDescriptorSets" {
		t.Errorf("recorded %v, want a single BindDescriptorSets", rec.cmds)
	}
}

func TestDrawPrimitive(t *testing.T) {
	d, _ := newTestDevice(t)
	rt := d.CreateRenderTarget(64, 64, driver.FormatRGBA8)
	drawRedQuad(t, d, rt, nil)

	m, err := d.ReadbackTexture(rt, rt.Rect(), 0)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		x, y int
		want [4]byte
	}{
		{0, 0, [4]byte{255, 0, 0, 255}},
		{31, 31, [4]byte{255, 0, 0, 255}},
		{16, 5, [4]byte{255, 0, 0, 255}},
		{32, 0, [4]byte{}},
		{0, 32, [4]byte{}},
		{63, 63, [4]byte{}},
	}
	for _, tt := range tests {
		if got := pixel(m, tt.x, tt.y); got != tt.want {
			t.Errorf("pixel (%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestDrawIndexedPrimitive(t *testing.T) {
	d, _ := newTestDevice(t)
	rt := d.CreateRenderTarget(32, 32, driver.FormatRGBA8)
	blue := [4]byte{0, 0, 255, 255}

	var verts []byte
	for _, p := range [][2]uint16{{0, 0}, {32, 0}, {0, 32}, {32, 32}} {
		verts = append(verts, tfxVertex(p[0], p[1], blue)...)
	}
	d.OMSetRenderTargets(rt, nil, image.Rectangle{})
	d.SetupVS(pixelSpace(32, 32))
	d.SetupPS(&PSConstantBuffer{})
	d.IASetVertexBuffer(verts, tfxVertexStride, 4)
	d.IASetIndexBuffer([]uint32{0, 1, 2, 2, 1, 3})
	if !d.BindDrawPipeline(flatColorPipeline, 0) {
		t.Fatal("BindDrawPipeline() = false")
	}
	d.DrawIndexedPrimitive()

	m, err := d.ReadbackTexture(rt, rt.Rect(), 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []image.Point{{0, 0}, {31, 0}, {0, 31}, {31, 31}} {
		if got := pixel(m, p.X, p.Y); got != blue {
			t.Errorf("pixel %v = %v, want %v", p, got, blue)
		}
	}
}

func TestDrawIndexedPrimitiveRangeRejectsOverrun(t *testing.T) {
	d, rec := newTestDevice(t)
	d.IASetIndexBuffer([]uint32{0, 1, 2})
	rec.reset()
	d.DrawIndexedPrimitiveRange(2, 3)
	if rec.count("DrawIndexed") != 0 {
		t.Error("out of range indexed draw was recorded")
	}
}

func TestScissorLimitsDraw(t *testing.T) {
	d, _ := newTestDevice(t)
	rt := d.CreateRenderTarget(64, 64, driver.FormatRGBA8)
	d.OMSetRenderTargets(rt, nil, image.Rect(0, 0, 8, 8))
	d.SetupVS(pixelSpace(64, 64))
	d.SetupPS(&PSConstantBuffer{})
	d.IASetVertexBuffer(quadVertices(rt.Rect(), [4]byte{255, 255, 255, 255}), tfxVertexStride, 6)
	if !d.BindDrawPipeline(flatColorPipeline, 0) {
		t.Fatal("BindDrawPipeline() = false")
	}
	d.DrawPrimitive()

	m, err := d.ReadbackTexture(rt, rt.Rect(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := pixel(m, 7, 7); got != [4]byte{255, 255, 255, 255} {
		t.Errorf("pixel inside scissor = %v", got)
	}
	if got := pixel(m, 8, 8); got != [4]byte{} {
		t.Errorf("pixel outside scissor = %v, want untouched", got)
	}
}

func TestAlphaTestDiscards(t *testing.T) {
	d, _ := newTestDevice(t)
	rt := d.CreateRenderTarget(16, 16, driver.FormatRGBA8)
	d.OMSetRenderTargets(rt, nil, image.Rectangle{})
	d.SetupVS(pixelSpace(16, 16))
	// Pass only alpha >= 0.75.
	d.SetupPS(&PSConstantBuffer{FogColorAREF: [4]float32{0, 0, 0, 0.75}})
	d.IASetVertexBuffer(quadVertices(rt.Rect(), [4]byte{255, 255, 255, 128}), tfxVertexStride, 6)
	sel := flatColorPipeline
	sel.PS.ATST = 2
	if !d.BindDrawPipeline(sel, 0) {
		t.Fatal("BindDrawPipeline() = false")
	}
	d.DrawPrimitive()

	m, err := d.ReadbackTexture(rt, rt.Rect(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := pixel(m, 8, 8); got != [4]byte{} {
		t.Errorf("pixel = %v, want discarded", got)
	}
}

func TestVertexRingExhaustionFlushesOnce(t *testing.T) {
	env := newTestEnv(t, soft.Config{})
	d := env.dev
	d.vertexStream = &failingStream{transientBuffer: d.vertexStream, failures: 1}

	before := env.ctx.Submits()
	d.IASetVertexBuffer(make([]byte, 6*tfxVertexStride), tfxVertexStride, 6)
	if got := env.ctx.Submits() - before; got != 1 {
		t.Errorf("submits = %d, want 1", got)
	}
	if d.vertex.count != 6 {
		t.Errorf("vertex count = %d, want 6", d.vertex.count)
	}
}

func TestVertexRingExhaustionTwiceIsFatal(t *testing.T) {
	d, _ := newTestDevice(t)
	d.vertexStream = &failingStream{transientBuffer: d.vertexStream, failures: 2}
	expectFatal(t, func() {
		d.IASetVertexBuffer(make([]byte, tfxVertexStride), tfxVertexStride, 1)
	})
}

func TestFlushRestartsRenderPassWithLoad(t *testing.T) {
	d, rec := newTestDevice(t)
	rt := d.CreateRenderTarget(64, 64, driver.FormatRGBA8)
	drawRedQuad(t, d, rt, nil)
	if !d.InRenderPass() {
		t.Fatal("textured draw left no pass open")
	}
	area := d.renderArea

	rec.reset()
	d.ExecuteCommandBufferAndRestartRenderPass("")
	if !d.InRenderPass() || d.renderArea != area {
		t.Fatalf("pass after restart: open=%v area=%v, want %v", d.InRenderPass(), d.renderArea, area)
	}
	desc := d.renderPassDescs[rec.lastPass]
	if desc.ColorLoad != driver.LoadOpLoad {
		t.Errorf("restarted pass color load = %v, want Load", desc.ColorLoad)
	}

	// Base state is recorded inside the new pass without waiting for a draw.
	begin := slices.Index(rec.cmds, "BeginRenderPass")
	if begin < 0 {
		t.Fatalf("recorded %v, want a new pass", rec.cmds)
	}
	after := rec.cmds[begin+1:]
	for _, want := range []string{"BindPipeline", "BindVertexBuffer", "SetViewport", "SetScissor"} {
		if !slices.Contains(after, want) {
			t.Errorf("after restart recorded %v, want %s", after, want)
		}
	}
	if d.dirty&dirtyBaseState != 0 {
		t.Errorf("base state still dirty after restart: %b", d.dirty&dirtyBaseState)
	}
}
