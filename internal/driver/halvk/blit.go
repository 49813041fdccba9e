// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halvk

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gsvk/internal/driver"
)

// blitShader draws a quad over the viewport, sampling the source rectangle
// given in normalized coordinates by the push block.
const blitShader = `
struct Blit {
    src: vec4<f32>,
}

@group(0) @binding(0) var src_tex: texture_2d<f32>;
@group(0) @binding(1) var src_smp: sampler;
@group(1) @binding(0) var<uniform> blit: Blit;

struct VertexOutput {
    @builtin(position) pos: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> VertexOutput {
    let c = vec2<f32>(f32(i & 1u), f32(i >> 1u));
    var out: VertexOutput;
    out.pos = vec4<f32>(c.x * 2.0 - 1.0, 1.0 - c.y * 2.0, 0.0, 1.0);
    out.uv = mix(blit.src.xy, blit.src.zw, c);
    return out;
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSampleLevel(src_tex, src_smp, in.uv, 0.0);
}
`

// blitter implements BlitImage with a draw per blit. Pipelines are built
// per destination format on first use.
type blitter struct {
	dev       *Device
	module    hal.ShaderModule
	bgl       hal.BindGroupLayout
	layout    hal.PipelineLayout
	samplers  [2]hal.Sampler
	pipelines map[gputypes.TextureFormat]hal.RenderPipeline
}

func newBlitter(d *Device) (*blitter, error) {
	b := &blitter{dev: d, pipelines: make(map[gputypes.TextureFormat]hal.RenderPipeline)}
	spirv, err := compileSPIRV(blitShader)
	if err != nil {
		return nil, fmt.Errorf("halvk: compile blit shader: %w", err)
	}
	if b.module, err = d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gsvk_blit",
		Source: hal.ShaderSource{SPIRV: spirv},
	}); err != nil {
		return nil, fmt.Errorf("halvk: create blit shader: %w", err)
	}
	if b.bgl, err = d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gsvk_blit",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageFragment, Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}},
			{Binding: 1, Visibility: gputypes.ShaderStageFragment, Sampler: &gputypes.SamplerBindingLayout{
				Type: gputypes.SamplerBindingTypeFiltering,
			}},
		},
	}); err != nil {
		b.destroy()
		return nil, fmt.Errorf("halvk: create blit layout: %w", err)
	}
	if b.layout, err = d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gsvk_blit",
		BindGroupLayouts: []hal.BindGroupLayout{b.bgl, d.pushBGL},
	}); err != nil {
		b.destroy()
		return nil, fmt.Errorf("halvk: create blit pipeline layout: %w", err)
	}
	for i, f := range []gputypes.FilterMode{gputypes.FilterModeNearest, gputypes.FilterModeLinear} {
		if b.samplers[i], err = d.dev.CreateSampler(&hal.SamplerDescriptor{
			Label:        "gsvk_blit",
			AddressModeU: gputypes.AddressModeClampToEdge,
			AddressModeV: gputypes.AddressModeClampToEdge,
			AddressModeW: gputypes.AddressModeClampToEdge,
			MagFilter:    f,
			MinFilter:    f,
			MipmapFilter: gputypes.FilterModeNearest,
		}); err != nil {
			b.destroy()
			return nil, fmt.Errorf("halvk: create blit sampler: %w", err)
		}
	}
	return b, nil
}

func (b *blitter) pipeline(format gputypes.TextureFormat) (hal.RenderPipeline, error) {
	if p, ok := b.pipelines[format]; ok {
		return p, nil
	}
	p, err := b.dev.dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "gsvk_blit",
		Layout: b.layout,
		Vertex: hal.VertexState{Module: b.module, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module:     b.module,
			EntryPoint: "fs_main",
			Targets:    []gputypes.ColorTargetState{{Format: format, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleStrip, CullMode: gputypes.CullModeNone},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return nil, fmt.Errorf("halvk: create blit pipeline: %w", err)
	}
	b.pipelines[format] = p
	return p, nil
}

// srcBlock encodes the normalized source rectangle of a blit.
func srcBlock(src *texture, level uint32, rect image.Rectangle) [pushBlockSize]byte {
	w := float32(max(src.desc.Width>>level, 1))
	h := float32(max(src.desc.Height>>level, 1))
	var block [pushBlockSize]byte
	for i, v := range []float32{float32(rect.Min.X) / w, float32(rect.Min.Y) / h, float32(rect.Max.X) / w, float32(rect.Max.Y) / h} {
		binary.LittleEndian.PutUint32(block[i*4:], math.Float32bits(v))
	}
	return block
}

// draw records the blit in its own pass, reading the source rectangle from
// the push block at pushOff. Its bind group lives until the submission
// retires.
func (b *blitter) draw(r *replay, src *texture, srcLevel uint32, dst *texture, dstLevel uint32, dstRect image.Rectangle, filter driver.Filter, pushOff uint32) error {
	if src.desc.Format.IsDepth() || src.desc.Format.IsInteger() || dst.desc.Format.IsDepth() || dst.desc.Format.IsInteger() {
		return fmt.Errorf("halvk: blit %v to %v: %w", src.desc.Format, dst.desc.Format, driver.ErrUnsupported)
	}
	p, err := b.pipeline(dst.format)
	if err != nil {
		return err
	}
	srcView, err := r.dev.levelView(src, srcLevel)
	if err != nil {
		return err
	}
	dstView, err := r.dev.levelView(dst, dstLevel)
	if err != nil {
		return err
	}
	bg, err := r.dev.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "gsvk_blit",
		Layout: b.bgl,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: gputypes.TextureViewHandle(srcView.NativeHandle())}},
			{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: gputypes.SamplerHandle(b.samplers[filter&1].NativeHandle())}},
		},
	})
	if err != nil {
		return fmt.Errorf("halvk: create blit bind group: %w", err)
	}
	r.transient = append(r.transient, bg)

	r.endPass()
	pass := r.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "gsvk_blit",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    dstView,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}},
	})
	pass.SetPipeline(p)
	pass.SetBindGroup(0, bg, nil)
	pass.SetBindGroup(1, r.dev.pushGroup, []uint32{r.pushBase + pushOff})
	pass.SetViewport(float32(dstRect.Min.X), float32(dstRect.Min.Y), float32(dstRect.Dx()), float32(dstRect.Dy()), 0, 1)
	pass.SetScissorRect(uint32(dstRect.Min.X), uint32(dstRect.Min.Y), uint32(dstRect.Dx()), uint32(dstRect.Dy())) //nolint:gosec // image coordinates
	pass.Draw(4, 1, 0, 0)
	pass.End()
	return nil
}

func (b *blitter) destroy() {
	d := b.dev.dev
	for _, p := range b.pipelines {
		d.DestroyRenderPipeline(p)
	}
	b.pipelines = nil
	for _, s := range b.samplers {
		if s != nil {
			d.DestroySampler(s)
		}
	}
	if b.layout != nil {
		d.DestroyPipelineLayout(b.layout)
	}
	if b.bgl != nil {
		d.DestroyBindGroupLayout(b.bgl)
	}
	if b.module != nil {
		d.DestroyShaderModule(b.module)
	}
}
