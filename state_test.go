package gsvk

import (
	"image"
	"slices"
	"testing"

	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/driver/soft"
)

// prepareUtilityState binds a copy pipeline sampling tex.
func prepareUtilityState(t *testing.T, d *Device, tex *Texture) {
	t.Helper()
	d.SetPipeline(d.convert[ShaderCopy])
	d.SetUtilityTexture(tex, d.pointSampler)
	d.SetViewportAndScissor(image.Rect(0, 0, 16, 16))
	if !d.ApplyUtilityState() {
		t.Fatal("ApplyUtilityState() = false")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	d, rec := newTestDevice(t)
	tex := solidTexture(t, d, 16, 16, [4]byte{1, 2, 3, 4})
	prepareUtilityState(t, d, tex)

	rec.reset()
	if !d.ApplyUtilityState() {
		t.Fatal("second ApplyUtilityState() = false")
	}
	if len(rec.cmds) != 0 {
		t.Errorf("second apply recorded %v, want nothing", rec.cmds)
	}

	// Setting equal values keeps the state clean.
	d.SetPipeline(d.convert[ShaderCopy])
	d.SetViewportAndScissor(image.Rect(0, 0, 16, 16))
	d.ApplyUtilityState()
	if len(rec.cmds) != 0 {
		t.Errorf("apply after redundant setters recorded %v, want nothing", rec.cmds)
	}
}

func TestApplyRecordsOnlyDirtyState(t *testing.T) {
	d, rec := newTestDevice(t)
	tex := solidTexture(t, d, 16, 16, [4]byte{1, 2, 3, 4})
	prepareUtilityState(t, d, tex)

	rec.reset()
	d.SetScissor(image.Rect(0, 0, 8, 8))
	d.ApplyUtilityState()
	if want := []string{"SetScissor"}; !slices.Equal(rec.cmds, want) {
		t.Errorf("recorded %v, want %v", rec.cmds, want)
	}
}

func TestInvalidateCachedStateRebindsEverything(t *testing.T) {
	d, rec := newTestDevice(t)
	tex := solidTexture(t, d, 16, 16, [4]byte{1, 2, 3, 4})
	prepareUtilityState(t, d, tex)
	persistent := d.tfxSets[0]

	d.InvalidateCachedState()
	if d.tfxSets[0] != persistent || persistent == 0 {
		t.Errorf("persistent set = %v after invalidate, want %v", d.tfxSets[0], persistent)
	}
	rec.reset()
	d.ApplyUtilityState()
	for _, want := range []string{"BindDescriptorSets", "BindPipeline", "BindVertexBuffer", "SetViewport", "SetScissor"} {
		if rec.count(want) != 1 {
			t.Errorf("%s recorded %d times after invalidate, want 1", want, rec.count(want))
		}
	}
}

func TestDescriptorPoolExhaustionFlushesOnce(t *testing.T) {
	env := newTestEnv(t, soft.Config{})
	d, rec := env.dev, env.rec
	tex := solidTexture(t, d, 16, 16, [4]byte{1, 2, 3, 4})
	prepareUtilityState(t, d, tex)

	d.InvalidateCachedState()
	rec.failAllocs = 1
	before := env.ctx.Submits()
	if !d.ApplyUtilityState() {
		t.Fatal("ApplyUtilityState() after one failure = false")
	}
	if got := env.ctx.Submits() - before; got != 1 {
		t.Errorf("submits after exhausted pool = %d, want 1", got)
	}
	if d.utilitySet == 0 {
		t.Error("utility set not allocated after retry")
	}
}

func TestDescriptorPoolExhaustionTwiceIsFatal(t *testing.T) {
	d, rec := newTestDevice(t)
	tex := solidTexture(t, d, 16, 16, [4]byte{1, 2, 3, 4})
	prepareUtilityState(t, d, tex)

	d.InvalidateCachedState()
	rec.failAllocs = 2
	expectFatal(t, func() { d.ApplyUtilityState() })
}

func TestApplyWithoutPipeline(t *testing.T) {
	d, rec := newTestDevice(t)
	d.SetPipeline(0)
	rec.reset()
	if d.ApplyUtilityState() || d.ApplyTFXState() {
		t.Error("apply with a null pipeline = true, want false")
	}
	if len(rec.cmds) != 0 {
		t.Errorf("apply with a null pipeline recorded %v", rec.cmds)
	}
}

func TestUnbindTexture(t *testing.T) {
	d, _ := newTestDevice(t)
	tex := solidTexture(t, d, 16, 16, [4]byte{1, 2, 3, 4})
	rt := d.CreateRenderTarget(16, 16, driver.FormatRGBA8)

	d.PSSetShaderResource(0, tex)
	d.PSSetShaderResource(2, tex)
	d.SetUtilityTexture(tex, d.linearSampler)
	d.OMSetRenderTargets(rt, nil, image.Rectangle{})

	d.UnbindTexture(tex)
	for i, bound := range d.tfxTextures {
		if bound == tex {
			t.Errorf("TFX slot %d still bound after UnbindTexture", i)
		}
	}
	if d.utilityTexture != d.nullTexture {
		t.Error("utility texture not replaced by the null texture")
	}

	rt.Destroy()
	if d.currentRT != nil || d.framebuffer != 0 {
		t.Error("destroyed render target is still current")
	}
}

func TestRenderPassBracket(t *testing.T) {
	d, rec := newTestDevice(t)
	rt := d.CreateRenderTarget(64, 64, driver.FormatRGBA8)
	ds := d.CreateDepthStencil(64, 64)
	src := solidTexture(t, d, 32, 32, [4]byte{0, 255, 0, 255})

	drawRedQuad(t, d, rt, nil)
	d.StretchRect(src, FullRectF, rt, RectF{8, 8, 24, 24}, ShaderCopy, false)
	d.SetupDATE(rt, ds, false, image.Rect(0, 0, 32, 32))
	d.CopyRect(src, rt, image.Rect(0, 0, 4, 4))
	d.ClearDepth(ds)
	if _, err := d.ReadbackTexture(rt, rt.Rect(), 0); err != nil {
		t.Fatal(err)
	}

	inPass := false
	for i, c := range rec.cmds {
		switch c {
		case "BeginRenderPass":
			if inPass {
				t.Fatalf("command %d: nested BeginRenderPass", i)
			}
			inPass = true
		case "EndRenderPass":
			if !inPass {
				t.Fatalf("command %d: EndRenderPass without a pass", i)
			}
			inPass = false
		case "PipelineBarrier", "CopyImage", "BlitImage", "CopyImageToBuffer",
			"CopyBufferToImage", "ClearColorImage", "ClearDepthStencilImage", "Submit":
			if inPass {
				t.Fatalf("command %d: %s inside a render pass", i, c)
			}
		case "Draw", "DrawIndexed":
			if !inPass {
				t.Fatalf("command %d: %s outside a render pass", i, c)
			}
		}
	}
}
