package soft

import (
	"encoding/binary"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/gogpu/gsvk/internal/driver"
)

const testShader = `
@vertex fn vs_main(@location(0) p: vec2<f32>) -> @builtin(position) vec4<f32> { return vec4<f32>(p, 0.0, 1.0); }
@fragment fn ps_main0() -> @location(0) vec4<f32> { return vec4<f32>(1.0); }
`

func mustImage(t *testing.T, d *Device, w, h uint32, f driver.Format) driver.Image {
	t.Helper()
	img, err := d.CreateImage(&driver.ImageDesc{Label: "img", Width: w, Height: h, Levels: 1, Layers: 1, Format: f})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	return img
}

func readback(t *testing.T, d *Device, img driver.Image, w, h int) []byte {
	t.Helper()
	buf, err := d.CreateBuffer(&driver.BufferDesc{Label: "rb", Size: uint64(w * h * 4)})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	cb := d.NewCommandBuffer()
	cb.CopyImageToBuffer(img, 0, image.Rect(0, 0, w, h), buf, 0, uint32(w*4))
	if err := d.Submit(cb, 1); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return d.MapBuffer(buf)
}

func putQuad(data []byte, x0, y0, x1, y1, u0, v0, u1, v1 float32) {
	verts := [4][4]float32{{x0, y0, u0, v0}, {x1, y0, u1, v0}, {x0, y1, u0, v1}, {x1, y1, u1, v1}}
	for i, v := range verts {
		for j, f := range v {
			binary.LittleEndian.PutUint32(data[i*16+j*4:], math.Float32bits(f))
		}
	}
}

// copySetup builds a utility copy pipeline that renders src into dst.
func copySetup(t *testing.T, d *Device, src, dst driver.Image, w, h uint32) (driver.RenderPass, driver.Framebuffer, driver.Pipeline, driver.PipelineLayout, driver.DescriptorSet, driver.Buffer) {
	t.Helper()
	rp, err := d.CreateRenderPass(&driver.RenderPassDesc{ColorFormat: driver.FormatRGBA8, DepthFormat: driver.FormatUndefined})
	if err != nil {
		t.Fatal(err)
	}
	fb, err := d.CreateFramebuffer(&driver.FramebufferDesc{RenderPass: rp, Color: dst, Width: w, Height: h})
	if err != nil {
		t.Fatal(err)
	}
	vs, err := d.CreateShaderModule(&driver.ShaderModuleDesc{Label: "convert/vs", Stage: driver.StageVertex, Source: testShader, Entry: "vs_main"})
	if err != nil {
		t.Fatal(err)
	}
	fs, err := d.CreateShaderModule(&driver.ShaderModuleDesc{Label: "convert/ps_main0", Stage: driver.StageFragment, Source: testShader, Entry: "ps_main0"})
	if err != nil {
		t.Fatal(err)
	}
	sl, _ := d.CreateSetLayout(&driver.SetLayoutDesc{Bindings: []driver.SetLayoutBinding{
		{Binding: 0, Type: driver.BindingSampledImage, Stages: driver.StageFragment},
		{Binding: 1, Type: driver.BindingSampler, Stages: driver.StageFragment},
	}})
	pl, err := d.CreatePipelineLayout(&driver.PipelineLayoutDesc{SetLayouts: []driver.SetLayout{sl}})
	if err != nil {
		t.Fatal(err)
	}
	p, err := d.CreatePipeline(&driver.PipelineDesc{
		Label: "copy", Layout: pl, RenderPass: rp, VS: vs, FS: fs,
		Topology:     driver.TopologyTriangleStrip,
		VertexStride: 16,
		Attributes: []driver.VertexAttribute{
			{Location: 0, Format: driver.VertexFloat32x2, Offset: 0},
			{Location: 1, Format: driver.VertexFloat32x2, Offset: 8},
		},
		WriteMask: driver.ColorMaskAll,
	})
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	smp, _ := d.CreateSampler(&driver.SamplerDesc{})
	pool, _ := d.CreateDescriptorPool(4)
	set, err := d.AllocateDescriptorSet(pool, sl, []driver.DescriptorWrite{{Binding: 0, Image: src}, {Binding: 1, Sampler: smp}})
	if err != nil {
		t.Fatal(err)
	}
	vb, _ := d.CreateBuffer(&driver.BufferDesc{Size: 64})
	return rp, fb, p, pl, set, vb
}

func TestCopyDrawCoversExactRect(t *testing.T) {
	d := New(Config{})
	src := mustImage(t, d, 32, 32, driver.FormatRGBA8)
	dst := mustImage(t, d, 64, 64, driver.FormatRGBA8)

	rp, fb, p, pl, set, vb := copySetup(t, d, src, dst, 64, 64)
	// NDC of pixel rect (0,0)-(32,32) in a 64x64 target.
	putQuad(d.MapBuffer(vb), -1, 1, 0, 0, 0, 0, 1, 1)

	cb := d.NewCommandBuffer()
	cb.ClearColorImage(src, [4]float32{1, 0, 0, 1})
	cb.BeginRenderPass(rp, fb, image.Rect(0, 0, 64, 64), driver.ClearValues{})
	cb.BindPipeline(p)
	cb.BindVertexBuffer(vb, 0)
	cb.SetViewport(driver.Viewport{Width: 64, Height: 64, MaxDepth: 1})
	cb.SetScissor(image.Rect(0, 0, 64, 64))
	cb.BindDescriptorSets(pl, 0, []driver.DescriptorSet{set}, nil)
	cb.Draw(4, 0)
	cb.EndRenderPass()
	if err := d.Submit(cb, 1); err != nil {
		t.Fatal(err)
	}

	px := readback(t, d, dst, 64, 64)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			got := px[(y*64+x)*4 : (y*64+x)*4+4]
			want := []byte{0, 0, 0, 0}
			if x < 32 && y < 32 {
				want = []byte{255, 0, 0, 255}
			}
			if string(got) != string(want) {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
	if s := d.Stats(); s.Draws != 1 || s.PixelsShaded != 32*32 {
		t.Errorf("stats = %+v, want 1 draw and %d fragments", s, 32*32)
	}
}

func TestShaderEntryPointRequired(t *testing.T) {
	d := New(Config{})
	_, err := d.CreateShaderModule(&driver.ShaderModuleDesc{Label: "convert/x", Stage: driver.StageFragment, Source: testShader, Entry: "ps_main9"})
	if err == nil {
		t.Fatal("expected error for missing entry point")
	}
}

func TestShaderConstsParsed(t *testing.T) {
	d := New(Config{})
	src := "const PS_TFX: i32 = 4;\nconst PS_ATST: i32 = -1;\n" + testShader
	sm, err := d.CreateShaderModule(&driver.ShaderModuleDesc{Label: "tfx/ps", Stage: driver.StageFragment, Source: src, Entry: "ps_main0"})
	if err != nil {
		t.Fatal(err)
	}
	c := d.shaders[sm].consts
	if c["PS_TFX"] != 4 || c["PS_ATST"] != -1 {
		t.Errorf("consts = %v", c)
	}
}

func TestDescriptorPoolExhaustion(t *testing.T) {
	d := New(Config{})
	sl, _ := d.CreateSetLayout(&driver.SetLayoutDesc{})
	pool, _ := d.CreateDescriptorPool(2)
	for i := 0; i < 2; i++ {
		if _, err := d.AllocateDescriptorSet(pool, sl, nil); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	if _, err := d.AllocateDescriptorSet(pool, sl, nil); !errors.Is(err, driver.ErrOutOfPoolMemory) {
		t.Fatalf("third alloc err = %v, want ErrOutOfPoolMemory", err)
	}
	d.ResetDescriptorPool(pool)
	if _, err := d.AllocateDescriptorSet(pool, sl, nil); err != nil {
		t.Fatalf("alloc after reset: %v", err)
	}
}

func TestImageLimits(t *testing.T) {
	d := New(Config{MaxImageDimension2D: 128})
	if _, err := d.CreateImage(&driver.ImageDesc{Width: 256, Height: 16, Format: driver.FormatRGBA8}); err == nil {
		t.Error("expected oversize image to fail")
	}
	if _, err := d.CreateImage(&driver.ImageDesc{Width: 0, Height: 16, Format: driver.FormatRGBA8}); err == nil {
		t.Error("expected empty image to fail")
	}
}

func TestBlitScales(t *testing.T) {
	d := New(Config{})
	src := mustImage(t, d, 4, 4, driver.FormatRGBA8)
	dst := mustImage(t, d, 8, 8, driver.FormatRGBA8)
	cb := d.NewCommandBuffer()
	cb.ClearColorImage(src, [4]float32{0, 1, 0, 1})
	cb.BlitImage(src, 0, image.Rect(0, 0, 4, 4), dst, 0, image.Rect(0, 0, 8, 8), driver.FilterNearest)
	if err := d.Submit(cb, 1); err != nil {
		t.Fatal(err)
	}
	px := readback(t, d, dst, 8, 8)
	for i := 0; i < 64; i++ {
		if got := px[i*4 : i*4+4]; string(got) != string([]byte{0, 255, 0, 255}) {
			t.Fatalf("texel %d = %v", i, got)
		}
	}
}

func TestUploadRoundTrip(t *testing.T) {
	d := New(Config{})
	img := mustImage(t, d, 2, 2, driver.FormatRGBA8)
	up, _ := d.CreateBuffer(&driver.BufferDesc{Size: 16})
	data := d.MapBuffer(up)
	for i := range data {
		data[i] = byte(i * 10)
	}
	cb := d.NewCommandBuffer()
	cb.CopyBufferToImage(up, 0, 8, img, 0, image.Rect(0, 0, 2, 2))
	if err := d.Submit(cb, 1); err != nil {
		t.Fatal(err)
	}
	got := readback(t, d, img, 2, 2)
	for i := range 16 {
		if got[i] != byte(i*10) {
			t.Fatalf("byte %d = %d, want %d", i, got[i], i*10)
		}
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		i, n int
		mode driver.AddressMode
		want int
	}{
		{-1, 4, driver.AddressClampToEdge, 0},
		{5, 4, driver.AddressClampToEdge, 3},
		{5, 4, driver.AddressRepeat, 1},
		{-1, 4, driver.AddressRepeat, 3},
		{4, 4, driver.AddressMirrorRepeat, 3},
		{7, 4, driver.AddressMirrorRepeat, 0},
	}
	for _, tt := range tests {
		if got := wrap(tt.i, tt.n, tt.mode); got != tt.want {
			t.Errorf("wrap(%d,%d,%d) = %d, want %d", tt.i, tt.n, tt.mode, got, tt.want)
		}
	}
}

func TestWindowPresent(t *testing.T) {
	d := New(Config{})
	w, err := NewWindow(d, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Destroy()
	img, _, err := w.AcquireFramebuffer(mustRenderPass(t, d))
	if err != nil {
		t.Fatal(err)
	}
	cb := d.NewCommandBuffer()
	cb.ClearColorImage(img, [4]float32{0, 0, 1, 1})
	if err := d.Submit(cb, 1); err != nil {
		t.Fatal(err)
	}
	snap := w.Snapshot()
	if c := snap.NRGBAAt(7, 3); c.B != 255 || c.R != 0 {
		t.Errorf("snapshot pixel = %v", c)
	}
}

func mustRenderPass(t *testing.T, d *Device) driver.RenderPass {
	t.Helper()
	rp, err := d.CreateRenderPass(&driver.RenderPassDesc{ColorFormat: driver.FormatBGRA8})
	if err != nil {
		t.Fatal(err)
	}
	return rp
}
