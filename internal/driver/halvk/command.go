// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halvk

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gsvk/internal/driver"
)

// CommandBuffer records driver commands for replay on a HAL encoder.
type CommandBuffer struct {
	dev *Device
	ops []func(*replay)
	// push holds the push constant blocks of this buffer, uploaded to the
	// device ring at Submit.
	push      []byte
	pushBlock [pushBlockSize]byte
	readbacks []driver.Buffer
	err       error
}

var _ driver.CommandBuffer = (*CommandBuffer)(nil)

func (c *CommandBuffer) record(op func(*replay)) { c.ops = append(c.ops, op) }

// Len returns the number of recorded commands.
func (c *CommandBuffer) Len() int { return len(c.ops) }

func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

type boundSet struct {
	bg      hal.BindGroup
	offsets []uint32
}

// replay is the encoder state while a command buffer is replayed. Bound
// state outlives render passes, so it is kept here and applied to every
// pass that begins.
type replay struct {
	dev      *Device
	enc      hal.CommandEncoder
	pass     hal.RenderPassEncoder
	pushBase uint32

	pipeline  *pipeline
	vertexBuf hal.Buffer
	vertexOff uint64
	indexBuf  hal.Buffer
	indexOff  uint64
	viewport  *driver.Viewport
	scissor   *image.Rectangle
	blend     *gputypes.Color
	sets      map[uint32]boundSet

	transient []hal.BindGroup
	err       error
}

func (r *replay) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *replay) endPass() {
	if r.pass != nil {
		r.pass.End()
		r.pass = nil
	}
}

func (r *replay) destroyTransient() {
	for _, bg := range r.transient {
		r.dev.dev.DestroyBindGroup(bg)
	}
	r.transient = nil
}

// applyAll re-applies the bound state to a new pass.
func (r *replay) applyAll() {
	if r.pipeline != nil {
		r.applyPipeline()
	}
	if r.vertexBuf != nil {
		r.pass.SetVertexBuffer(0, r.vertexBuf, r.vertexOff)
	}
	if r.indexBuf != nil {
		r.pass.SetIndexBuffer(r.indexBuf, gputypes.IndexFormatUint32, r.indexOff)
	}
	if r.viewport != nil {
		r.applyViewport()
	}
	if r.scissor != nil {
		r.applyScissor()
	}
	if r.blend != nil {
		r.pass.SetBlendConstant(r.blend)
	}
	for i, s := range r.sets {
		r.pass.SetBindGroup(i, s.bg, s.offsets)
	}
}

func (r *replay) applyPipeline() {
	r.pass.SetPipeline(r.pipeline.p)
	if s := r.pipeline.desc.Stencil; s.Enable {
		r.pass.SetStencilReference(s.Reference)
	}
}

func (r *replay) applyViewport() {
	vp := r.viewport
	r.pass.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
}

func (r *replay) applyScissor() {
	s := r.scissor.Canon()
	r.pass.SetScissorRect(uint32(max(s.Min.X, 0)), uint32(max(s.Min.Y, 0)), uint32(s.Dx()), uint32(s.Dy())) //nolint:gosec // canonical rectangle
}

func (r *replay) bindSet(index uint32, bg hal.BindGroup, offsets []uint32) {
	if r.sets == nil {
		r.sets = make(map[uint32]boundSet)
	}
	r.sets[index] = boundSet{bg: bg, offsets: offsets}
	if r.pass != nil {
		r.pass.SetBindGroup(index, bg, offsets)
	}
}

func (r *replay) image(h driver.Image) *texture {
	img, ok := r.dev.images[h]
	if !ok {
		r.fail(fmt.Errorf("halvk: image %d: %w", h, driver.ErrInvalidHandle))
	}
	return img
}

func (r *replay) buffer(h driver.Buffer) *buffer {
	b, ok := r.dev.buffers[h]
	if !ok {
		r.fail(fmt.Errorf("halvk: buffer %d: %w", h, driver.ErrInvalidHandle))
	}
	return b
}

// BeginRenderPass implements driver.CommandBuffer. Passes have no render
// area of their own; drawing is limited by the scissor.
func (c *CommandBuffer) BeginRenderPass(rp driver.RenderPass, fb driver.Framebuffer, _ image.Rectangle, clear driver.ClearValues) {
	c.record(func(r *replay) {
		desc, ok := r.dev.renderPasses[rp]
		fbDesc, fok := r.dev.framebuffers[fb]
		if !ok || !fok {
			r.fail(fmt.Errorf("halvk: begin render pass: %w", driver.ErrInvalidHandle))
			return
		}
		pd := &hal.RenderPassDescriptor{Label: "gsvk_pass"}
		if desc.ColorFormat != driver.FormatUndefined {
			img := r.image(fbDesc.Color)
			if img == nil {
				return
			}
			pd.ColorAttachments = []hal.RenderPassColorAttachment{{
				View:       img.attach,
				LoadOp:     loadOp(desc.ColorLoad),
				StoreOp:    storeOp(desc.ColorStore),
				ClearValue: color(clear.Color),
			}}
		}
		if desc.DepthFormat != driver.FormatUndefined {
			img := r.image(fbDesc.Depth)
			if img == nil {
				return
			}
			pd.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
				View:              img.attach,
				DepthLoadOp:       loadOp(desc.DepthLoad),
				DepthStoreOp:      storeOp(desc.DepthStore),
				DepthClearValue:   clear.Depth,
				StencilLoadOp:     loadOp(desc.StencilLoad),
				StencilStoreOp:    storeOp(desc.StencilStore),
				StencilClearValue: clear.Stencil,
			}
		}
		r.endPass()
		r.pass = r.enc.BeginRenderPass(pd)
		r.applyAll()
	})
}

// EndRenderPass implements driver.CommandBuffer.
func (c *CommandBuffer) EndRenderPass() {
	c.record(func(r *replay) { r.endPass() })
}

// PipelineBarrier implements driver.CommandBuffer.
func (c *CommandBuffer) PipelineBarrier(img driver.Image, oldLayout, newLayout driver.Layout) {
	c.record(func(r *replay) {
		r.endPass()
		t := r.image(img)
		if t == nil {
			return
		}
		r.enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: layoutUsage(oldLayout),
				NewUsage: layoutUsage(newLayout),
			},
		}})
	})
}

// BindPipeline implements driver.CommandBuffer.
func (c *CommandBuffer) BindPipeline(p driver.Pipeline) {
	c.record(func(r *replay) {
		pl, ok := r.dev.pipelines[p]
		if !ok {
			r.fail(fmt.Errorf("halvk: bind pipeline: %w", driver.ErrInvalidHandle))
			return
		}
		r.pipeline = pl
		if r.pass != nil {
			r.applyPipeline()
		}
	})
}

// BindVertexBuffer implements driver.CommandBuffer.
func (c *CommandBuffer) BindVertexBuffer(buf driver.Buffer, offset uint64) {
	c.record(func(r *replay) {
		b := r.buffer(buf)
		if b == nil {
			return
		}
		r.vertexBuf, r.vertexOff = b.buf, offset
		if r.pass != nil {
			r.pass.SetVertexBuffer(0, b.buf, offset)
		}
	})
}

// BindIndexBuffer implements driver.CommandBuffer.
func (c *CommandBuffer) BindIndexBuffer(buf driver.Buffer, offset uint64) {
	c.record(func(r *replay) {
		b := r.buffer(buf)
		if b == nil {
			return
		}
		r.indexBuf, r.indexOff = b.buf, offset
		if r.pass != nil {
			r.pass.SetIndexBuffer(b.buf, gputypes.IndexFormatUint32, offset)
		}
	})
}

// SetViewport implements driver.CommandBuffer.
func (c *CommandBuffer) SetViewport(vp driver.Viewport) {
	c.record(func(r *replay) {
		r.viewport = &vp
		if r.pass != nil {
			r.applyViewport()
		}
	})
}

// SetScissor implements driver.CommandBuffer.
func (c *CommandBuffer) SetScissor(rect image.Rectangle) {
	c.record(func(r *replay) {
		r.scissor = &rect
		if r.pass != nil {
			r.applyScissor()
		}
	})
}

// SetBlendConstants implements driver.CommandBuffer.
func (c *CommandBuffer) SetBlendConstants(v [4]float32) {
	c.record(func(r *replay) {
		col := color(v)
		r.blend = &col
		if r.pass != nil {
			r.pass.SetBlendConstant(r.blend)
		}
	})
}

// BindDescriptorSets implements driver.CommandBuffer. Dynamic offsets are
// consumed in set order, one per dynamic binding.
func (c *CommandBuffer) BindDescriptorSets(_ driver.PipelineLayout, first uint32, sets []driver.DescriptorSet, dynamicOffsets []uint32) {
	sets = append([]driver.DescriptorSet(nil), sets...)
	dynamicOffsets = append([]uint32(nil), dynamicOffsets...)
	c.record(func(r *replay) {
		next := 0
		for i, h := range sets {
			s, ok := r.dev.sets[h]
			if !ok {
				r.fail(fmt.Errorf("halvk: bind descriptor set: %w", driver.ErrInvalidHandle))
				return
			}
			if next+s.dynamic > len(dynamicOffsets) {
				r.fail(errors.New("halvk: too few dynamic offsets"))
				return
			}
			offsets := dynamicOffsets[next : next+s.dynamic]
			next += s.dynamic
			r.bindSet(first+uint32(i), s.bg, offsets) //nolint:gosec // a handful of sets
		}
	})
}

// PushConstants implements driver.CommandBuffer. Each call appends a full
// block to the buffer's push data so earlier draws keep their values.
func (c *CommandBuffer) PushConstants(layout driver.PipelineLayout, offset uint32, data []byte) {
	if int(offset)+len(data) > pushBlockSize {
		c.fail(fmt.Errorf("halvk: push constants at %d+%d: %w", offset, len(data), driver.ErrUnsupported))
		return
	}
	c.dev.mu.Lock()
	l, ok := c.dev.pipelineLayouts[layout]
	c.dev.mu.Unlock()
	if !ok {
		c.fail(fmt.Errorf("halvk: push constants: %w", driver.ErrInvalidHandle))
		return
	}
	copy(c.pushBlock[offset:], data)
	rel := uint32(len(c.push)) //nolint:gosec // bounded by the push ring
	c.push = append(c.push, c.pushBlock[:]...)
	group := l.pushGroup
	c.record(func(r *replay) {
		r.bindSet(group, r.dev.pushGroup, []uint32{r.pushBase + rel})
	})
}

// Draw implements driver.CommandBuffer.
func (c *CommandBuffer) Draw(vertexCount, firstVertex uint32) {
	c.record(func(r *replay) {
		if r.pass == nil {
			r.fail(errors.New("halvk: draw outside a render pass"))
			return
		}
		r.pass.Draw(vertexCount, 1, firstVertex, 0)
	})
}

// DrawIndexed implements driver.CommandBuffer.
func (c *CommandBuffer) DrawIndexed(indexCount, firstIndex uint32, vertexOffset int32) {
	c.record(func(r *replay) {
		if r.pass == nil {
			r.fail(errors.New("halvk: draw outside a render pass"))
			return
		}
		r.pass.DrawIndexed(indexCount, 1, firstIndex, vertexOffset, 0)
	})
}

func extent(rect image.Rectangle) hal.Extent3D {
	return hal.Extent3D{Width: uint32(rect.Dx()), Height: uint32(rect.Dy()), DepthOrArrayLayers: 1} //nolint:gosec // image sizes
}

func origin(p image.Point) hal.Origin3D {
	return hal.Origin3D{X: uint32(p.X), Y: uint32(p.Y)} //nolint:gosec // image coordinates
}

// CopyImage implements driver.CommandBuffer.
func (c *CommandBuffer) CopyImage(src driver.Image, srcLevel uint32, srcRect image.Rectangle, dst driver.Image, dstLevel uint32, dstPoint image.Point) {
	c.record(func(r *replay) {
		r.endPass()
		s, d := r.image(src), r.image(dst)
		if s == nil || d == nil {
			return
		}
		r.enc.CopyTextureToTexture(s.tex, d.tex, []hal.TextureCopy{{
			SrcBase: hal.ImageCopyTexture{Texture: s.tex, MipLevel: srcLevel, Origin: origin(srcRect.Min)},
			DstBase: hal.ImageCopyTexture{Texture: d.tex, MipLevel: dstLevel, Origin: origin(dstPoint)},
			Size:    extent(srcRect),
		}})
	})
}

// BlitImage implements driver.CommandBuffer with a filtered draw into the
// destination level.
func (c *CommandBuffer) BlitImage(src driver.Image, srcLevel uint32, srcRect image.Rectangle, dst driver.Image, dstLevel uint32, dstRect image.Rectangle, filter driver.Filter) {
	c.dev.mu.Lock()
	s, ok := c.dev.images[src]
	c.dev.mu.Unlock()
	if !ok {
		c.fail(fmt.Errorf("halvk: blit source: %w", driver.ErrInvalidHandle))
		return
	}
	block := srcBlock(s, srcLevel, srcRect)
	rel := uint32(len(c.push)) //nolint:gosec // bounded by the push ring
	c.push = append(c.push, block[:]...)
	c.record(func(r *replay) {
		s, d := r.image(src), r.image(dst)
		if s == nil || d == nil {
			return
		}
		if err := r.dev.blit.draw(r, s, srcLevel, d, dstLevel, dstRect, filter, rel); err != nil {
			r.fail(err)
		}
	})
}

// CopyImageToBuffer implements driver.CommandBuffer. The buffer shadow is
// refreshed once the submission completes.
func (c *CommandBuffer) CopyImageToBuffer(src driver.Image, level uint32, rect image.Rectangle, dst driver.Buffer, offset uint64, rowPitch uint32) {
	c.readbacks = append(c.readbacks, dst)
	c.record(func(r *replay) {
		r.endPass()
		s, b := r.image(src), r.buffer(dst)
		if s == nil || b == nil {
			return
		}
		r.enc.CopyTextureToBuffer(s.tex, b.buf, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: offset, BytesPerRow: rowPitch, RowsPerImage: uint32(rect.Dy())}, //nolint:gosec // image sizes
			TextureBase:  hal.ImageCopyTexture{Texture: s.tex, MipLevel: level, Origin: origin(rect.Min)},
			Size:         extent(rect),
		}})
	})
}

// CopyBufferToImage implements driver.CommandBuffer.
func (c *CommandBuffer) CopyBufferToImage(src driver.Buffer, offset uint64, rowPitch uint32, dst driver.Image, level uint32, rect image.Rectangle) {
	c.record(func(r *replay) {
		r.endPass()
		b, d := r.buffer(src), r.image(dst)
		if b == nil || d == nil {
			return
		}
		r.enc.CopyBufferToTexture(b.buf, d.tex, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: offset, BytesPerRow: rowPitch, RowsPerImage: uint32(rect.Dy())}, //nolint:gosec // image sizes
			TextureBase:  hal.ImageCopyTexture{Texture: d.tex, MipLevel: level, Origin: origin(rect.Min)},
			Size:         extent(rect),
		}})
	})
}

// ClearColorImage implements driver.CommandBuffer as an empty cleared pass.
func (c *CommandBuffer) ClearColorImage(img driver.Image, v [4]float32) {
	c.record(func(r *replay) {
		r.endPass()
		t := r.image(img)
		if t == nil {
			return
		}
		pass := r.enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "gsvk_clear",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       t.attach,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: color(v),
			}},
		})
		pass.End()
	})
}

// ClearDepthStencilImage implements driver.CommandBuffer as an empty pass
// that clears the selected aspects and keeps the others.
func (c *CommandBuffer) ClearDepthStencilImage(img driver.Image, depth float32, stencil uint32, aspect driver.Aspect) {
	c.record(func(r *replay) {
		r.endPass()
		t := r.image(img)
		if t == nil {
			return
		}
		depthLoad, stencilLoad := gputypes.LoadOpLoad, gputypes.LoadOpLoad
		if aspect&driver.AspectDepth != 0 {
			depthLoad = gputypes.LoadOpClear
		}
		if aspect&driver.AspectStencil != 0 {
			stencilLoad = gputypes.LoadOpClear
		}
		pass := r.enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "gsvk_clear_depth",
			DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
				View:              t.attach,
				DepthLoadOp:       depthLoad,
				DepthStoreOp:      gputypes.StoreOpStore,
				DepthClearValue:   depth,
				StencilLoadOp:     stencilLoad,
				StencilStoreOp:    gputypes.StoreOpStore,
				StencilClearValue: stencil,
			},
		})
		pass.End()
	})
}
