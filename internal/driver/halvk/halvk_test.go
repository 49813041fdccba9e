// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halvk

import (
	"errors"
	"image"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gsvk/internal/driver"
)

// createNoopDevice opens a device on the noop HAL backend.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		t.Fatal("no noop adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newNoopDevice(t *testing.T) *Device {
	t.Helper()
	dev, queue, cleanup := createNoopDevice(t)
	d, err := New(dev, queue, gputypes.DefaultLimits())
	if err != nil {
		cleanup()
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		d.Destroy()
		cleanup()
	})
	return d
}

func TestTextureFormat(t *testing.T) {
	tests := []struct {
		in   driver.Format
		want gputypes.TextureFormat
	}{
		{driver.FormatRGBA8, gputypes.TextureFormatRGBA8Unorm},
		{driver.FormatBGRA8, gputypes.TextureFormatBGRA8Unorm},
		{driver.FormatRGBA32F, gputypes.TextureFormatRGBA32Float},
		{driver.FormatR32F, gputypes.TextureFormatR32Float},
		{driver.FormatR8, gputypes.TextureFormatR8Unorm},
		{driver.FormatR16U, gputypes.TextureFormatR16Uint},
		{driver.FormatR32U, gputypes.TextureFormatR32Uint},
		{driver.FormatD32S8, gputypes.TextureFormatDepth32FloatStencil8},
	}
	for _, tt := range tests {
		got, err := textureFormat(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("textureFormat(%v) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := textureFormat(driver.FormatUndefined); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("textureFormat(Undefined) error = %v, want ErrUnsupported", err)
	}
}

func TestBlendState(t *testing.T) {
	if b, err := blendState(driver.BlendState{}); b != nil || err != nil {
		t.Errorf("disabled blend = %v, %v, want nil", b, err)
	}
	b, err := blendState(driver.BlendState{
		Enable:   true,
		SrcColor: driver.BlendSrcAlpha,
		DstColor: driver.BlendOneMinusSrcAlpha,
		ColorOp:  driver.BlendOpReverseSubtract,
		SrcAlpha: driver.BlendOne,
		DstAlpha: driver.BlendZero,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.Color.SrcFactor != gputypes.BlendFactorSrcAlpha || b.Color.Operation != gputypes.BlendOperationReverseSubtract {
		t.Errorf("color component = %+v", b.Color)
	}
	if b.Alpha.SrcFactor != gputypes.BlendFactorOne || b.Alpha.DstFactor != gputypes.BlendFactorZero {
		t.Errorf("alpha component = %+v", b.Alpha)
	}

	_, err = blendState(driver.BlendState{Enable: true, SrcColor: driver.BlendSrc1Alpha})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("dual-source blend error = %v, want ErrUnsupported", err)
	}
}

func TestWriteMask(t *testing.T) {
	if got := writeMask(driver.ColorMaskAll); got != gputypes.ColorWriteMaskAll {
		t.Errorf("writeMask(all) = %v, want %v", got, gputypes.ColorWriteMaskAll)
	}
	if got := writeMask(driver.ColorMaskG | driver.ColorMaskA); got != gputypes.ColorWriteMaskGreen|gputypes.ColorWriteMaskAlpha {
		t.Errorf("writeMask(GA) = %v", got)
	}
	if got := writeMask(0); got != gputypes.ColorWriteMaskNone {
		t.Errorf("writeMask(0) = %v, want none", got)
	}
}

func TestLayoutUsage(t *testing.T) {
	tests := []struct {
		in   driver.Layout
		want gputypes.TextureUsage
	}{
		{driver.LayoutShaderReadOnly, gputypes.TextureUsageTextureBinding},
		{driver.LayoutColorAttachment, gputypes.TextureUsageRenderAttachment},
		{driver.LayoutDepthAttachment, gputypes.TextureUsageRenderAttachment},
		{driver.LayoutTransferSrc, gputypes.TextureUsageCopySrc},
		{driver.LayoutTransferDst, gputypes.TextureUsageCopyDst},
		{driver.LayoutUndefined, 0},
	}
	for _, tt := range tests {
		if got := layoutUsage(tt.in); got != tt.want {
			t.Errorf("layoutUsage(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewRejectsNil(t *testing.T) {
	if _, err := New(nil, nil, gputypes.DefaultLimits()); err == nil {
		t.Error("New(nil, nil) = nil error")
	}
}

func TestFeatures(t *testing.T) {
	d := newNoopDevice(t)
	f := d.Features()
	if f.GeometryShader {
		t.Error("GeometryShader = true")
	}
	if !f.ImageCopy || !f.Blit {
		t.Errorf("Features = %+v, want image copy and blit", f)
	}
	if f.UniformAlignment == 0 || f.MaxImageDimension2D == 0 {
		t.Errorf("Features = %+v, want limits filled in", f)
	}
	if d.Name() != "halvk" {
		t.Errorf("Name() = %q", d.Name())
	}
}

func TestBufferShadow(t *testing.T) {
	d := newNoopDevice(t)
	buf, err := d.CreateBuffer(&driver.BufferDesc{Label: "vb", Size: 10, Usage: driver.BufferUsageVertex})
	if err != nil {
		t.Fatal(err)
	}
	m := d.MapBuffer(buf)
	if len(m) != 10 {
		t.Fatalf("len(MapBuffer()) = %d, want 10", len(m))
	}
	copy(m, "0123456789")
	d.FlushBuffer(buf, 3, 5)
	if string(d.MapBuffer(buf)) != "0123456789" {
		t.Error("mapping not persistent")
	}
	d.DestroyBuffer(buf)
	if d.MapBuffer(buf) != nil {
		t.Error("MapBuffer() of a destroyed buffer != nil")
	}
}

func TestGeometryStageUnsupported(t *testing.T) {
	d := newNoopDevice(t)
	_, err := d.CreateShaderModule(&driver.ShaderModuleDesc{Label: "gs", Stage: driver.StageGeometry, Entry: "main"})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("CreateShaderModule(geometry) = %v, want ErrUnsupported", err)
	}
	_, err = d.CreatePipeline(&driver.PipelineDesc{Label: "p", GS: 1})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("CreatePipeline(with GS) = %v, want ErrUnsupported", err)
	}
}

func TestPushConstantLimit(t *testing.T) {
	d := newNoopDevice(t)
	_, err := d.CreatePipelineLayout(&driver.PipelineLayoutDesc{PushConstantSize: pushBlockSize + 4})
	if !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("oversized push constants = %v, want ErrUnsupported", err)
	}
}

func newUniformSet(t *testing.T, d *Device, maxSets uint32) (driver.DescriptorPool, driver.SetLayout, []driver.DescriptorWrite) {
	t.Helper()
	layout, err := d.CreateSetLayout(&driver.SetLayoutDesc{
		Label: "cb",
		Bindings: []driver.SetLayoutBinding{
			{Binding: 0, Type: driver.BindingUniformDynamic, Stages: driver.StageVertex},
			{Binding: 1, Type: driver.BindingUniformDynamic, Stages: driver.StageFragment},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	buf, err := d.CreateBuffer(&driver.BufferDesc{Label: "ub", Size: 1024, Usage: driver.BufferUsageUniform})
	if err != nil {
		t.Fatal(err)
	}
	pool, err := d.CreateDescriptorPool(maxSets)
	if err != nil {
		t.Fatal(err)
	}
	writes := []driver.DescriptorWrite{
		{Binding: 0, Buffer: buf, Range: 256},
		{Binding: 1, Buffer: buf, Range: 256},
	}
	return pool, layout, writes
}

func TestDescriptorPoolExhaustion(t *testing.T) {
	d := newNoopDevice(t)
	pool, layout, writes := newUniformSet(t, d, 2)
	for range 2 {
		if _, err := d.AllocateDescriptorSet(pool, layout, writes); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.AllocateDescriptorSet(pool, layout, writes); !errors.Is(err, driver.ErrOutOfPoolMemory) {
		t.Fatalf("third allocation = %v, want ErrOutOfPoolMemory", err)
	}
	d.ResetDescriptorPool(pool)
	if _, err := d.AllocateDescriptorSet(pool, layout, writes); err != nil {
		t.Errorf("allocation after reset = %v", err)
	}
}

func TestSubmitAndFences(t *testing.T) {
	d := newNoopDevice(t)
	img, err := d.CreateImage(&driver.ImageDesc{Label: "rt", Width: 16, Height: 16, Format: driver.FormatRGBA8, Usage: driver.ImageUsageColorAttachment})
	if err != nil {
		t.Fatal(err)
	}
	rb, err := d.CreateBuffer(&driver.BufferDesc{Label: "readback", Size: 16 * 256, Usage: driver.BufferUsageTransferDst})
	if err != nil {
		t.Fatal(err)
	}

	cmd := d.NewCommandBuffer()
	cmd.ClearColorImage(img, [4]float32{1, 0, 0, 1})
	cmd.PipelineBarrier(img, driver.LayoutColorAttachment, driver.LayoutTransferSrc)
	cmd.CopyImageToBuffer(img, 0, driver.FullRect(16, 16), rb, 0, 256)
	if err := d.Submit(cmd, 1); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := d.WaitFence(1); err != nil {
		t.Fatalf("WaitFence: %v", err)
	}
	if got := d.CompletedFence(); got != 1 {
		t.Errorf("CompletedFence() = %d, want 1", got)
	}
	if len(d.inflight) != 0 {
		t.Errorf("in-flight submissions after wait = %d, want 0", len(d.inflight))
	}

	if err := d.Submit(d.NewCommandBuffer(), 1); err == nil {
		t.Error("Submit() with a stale fence = nil error")
	}
	if err := d.WaitFence(5); err == nil {
		t.Error("WaitFence() of an unsubmitted fence = nil error")
	}
}

func TestSubmitReportsRecordingErrors(t *testing.T) {
	d := newNoopDevice(t)
	pool, layout, writes := newUniformSet(t, d, 4)
	set, err := d.AllocateDescriptorSet(pool, layout, writes)
	if err != nil {
		t.Fatal(err)
	}

	cmd := d.NewCommandBuffer()
	// The set has two dynamic bindings.
	cmd.BindDescriptorSets(0, 0, []driver.DescriptorSet{set}, []uint32{0})
	if err := d.Submit(cmd, 1); err == nil {
		t.Error("Submit() with missing dynamic offsets = nil error")
	}

	cmd = d.NewCommandBuffer()
	cmd.Draw(3, 0)
	if err := d.Submit(cmd, 2); err == nil {
		t.Error("Submit() of a draw outside a pass = nil error")
	}
}

func TestPushConstantsKeepEarlierBlocks(t *testing.T) {
	d := newNoopDevice(t)
	layout, err := d.CreatePipelineLayout(&driver.PipelineLayoutDesc{Label: "push", PushConstantSize: 32})
	if err != nil {
		t.Fatal(err)
	}
	cmd := d.NewCommandBuffer().(*CommandBuffer)
	cmd.PushConstants(layout, 0, []byte{1, 2, 3, 4})
	cmd.PushConstants(layout, 4, []byte{5, 6})
	if len(cmd.push) != 2*pushBlockSize {
		t.Fatalf("push data = %d bytes, want %d", len(cmd.push), 2*pushBlockSize)
	}
	if got := cmd.push[pushBlockSize : pushBlockSize+6]; string(got) != "\x01\x02\x03\x04\x05\x06" {
		t.Errorf("second block = %v, want the first block's bytes kept", got)
	}
	if cmd.push[4] != 0 {
		t.Error("second push rewrote the first block")
	}

	cmd.PushConstants(layout, pushBlockSize-2, []byte{1, 2, 3})
	if !errors.Is(cmd.err, driver.ErrUnsupported) {
		t.Errorf("overflowing push = %v, want ErrUnsupported", cmd.err)
	}
}

func TestPushRingWraps(t *testing.T) {
	d := newNoopDevice(t)
	d.pushHead = pushRingSize - 100
	off, err := d.reservePush(pushBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if off != 0 || d.pushHead != pushBlockSize {
		t.Errorf("reservePush() = %d, head %d; want a wrap to 0", off, d.pushHead)
	}
	if _, err := d.reservePush(pushRingSize + 1); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("reservePush(too much) = %v, want ErrUnsupported", err)
	}
}

func TestBlitRejectsIntegerFormats(t *testing.T) {
	d := newNoopDevice(t)
	src, err := d.CreateImage(&driver.ImageDesc{Label: "src", Width: 8, Height: 8, Format: driver.FormatR16U, Usage: driver.ImageUsageSampled})
	if err != nil {
		t.Fatal(err)
	}
	dst, err := d.CreateImage(&driver.ImageDesc{Label: "dst", Width: 8, Height: 8, Format: driver.FormatR16U})
	if err != nil {
		t.Fatal(err)
	}
	cmd := d.NewCommandBuffer()
	cmd.BlitImage(src, 0, image.Rect(0, 0, 8, 8), dst, 0, image.Rect(0, 0, 4, 4), driver.FilterLinear)
	if err := d.Submit(cmd, 1); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Submit(integer blit) = %v, want ErrUnsupported", err)
	}
}

func TestContextOnHAL(t *testing.T) {
	d := newNoopDevice(t)
	ctx, err := driver.NewContext(d, driver.ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Destroy()

	img, err := d.CreateImage(&driver.ImageDesc{Label: "ds", Width: 8, Height: 8, Format: driver.FormatD32S8, Usage: driver.ImageUsageDepthAttachment})
	if err != nil {
		t.Fatal(err)
	}
	ctx.CommandBuffer().ClearDepthStencilImage(img, 1, 0, driver.AspectDepth|driver.AspectStencil)
	destroyed := false
	ctx.DeferDestroy(func() { destroyed = true; d.DestroyImage(img) })
	if err := ctx.Submit(true); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ctx.CompletedFenceCounter() == 0 {
		t.Error("no fence completed after a waited submit")
	}
	if err := ctx.WaitForGPUIdle(); err != nil {
		t.Fatal(err)
	}
	if !destroyed {
		t.Error("deferred destroy did not run after idle")
	}
}
