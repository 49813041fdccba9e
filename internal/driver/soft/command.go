package soft

import (
	"encoding/binary"
	"image"
	"math"

	"github.com/gogpu/gsvk/internal/driver"
)

// CommandBuffer records operations for later execution by Device.Submit.
type CommandBuffer struct {
	ops []func(*executor)
}

var _ driver.CommandBuffer = (*CommandBuffer)(nil)

func (c *CommandBuffer) record(op func(*executor)) { c.ops = append(c.ops, op) }

// Len returns the number of recorded commands.
func (c *CommandBuffer) Len() int { return len(c.ops) }

// executor holds the dynamic state of one submission.
type executor struct {
	dev *Device

	rp     driver.RenderPassDesc
	fb     driver.FramebufferDesc
	inPass bool
	area   image.Rectangle

	pipe      *pipeline
	vb        driver.Buffer
	vbOff     uint64
	ib        driver.Buffer
	ibOff     uint64
	viewport  driver.Viewport
	scissor   image.Rectangle
	blendC    [4]float32
	sets      [4]driver.DescriptorSet
	dynOff    [4][]uint32
	pushConst []byte
}

// BeginRenderPass implements driver.CommandBuffer.
func (c *CommandBuffer) BeginRenderPass(rp driver.RenderPass, fb driver.Framebuffer, area image.Rectangle, clear driver.ClearValues) {
	c.record(func(e *executor) {
		e.rp = e.dev.renderPasses[rp]
		e.fb = e.dev.framebuffers[fb]
		e.inPass = true
		e.area = area.Intersect(driver.FullRect(e.fb.Width, e.fb.Height))
		if e.rp.ColorFormat != driver.FormatUndefined && e.rp.ColorLoad == driver.LoadOpClear {
			if im := e.dev.images[e.fb.Color]; im != nil {
				fillRect(&im.levels[0], e.area, quantize(im.desc.Format, clear.Color))
			}
		}
		if e.rp.DepthFormat != driver.FormatUndefined {
			if im := e.dev.images[e.fb.Depth]; im != nil {
				lv := &im.levels[0]
				if e.rp.DepthLoad == driver.LoadOpClear {
					fillRect(lv, e.area, [4]float32{clear.Depth, 0, 0, 1})
				}
				if e.rp.StencilLoad == driver.LoadOpClear {
					fillStencil(lv, e.area, uint8(clear.Stencil)) //nolint:gosec // 8-bit stencil
				}
			}
		}
	})
}

// EndRenderPass implements driver.CommandBuffer.
func (c *CommandBuffer) EndRenderPass() {
	c.record(func(e *executor) { e.inPass = false })
}

// PipelineBarrier implements driver.CommandBuffer. Layouts carry no data on
// the CPU, so the barrier only orders commands, which recording already does.
func (c *CommandBuffer) PipelineBarrier(driver.Image, driver.Layout, driver.Layout) {
	c.record(func(*executor) {})
}

// BindPipeline implements driver.CommandBuffer.
func (c *CommandBuffer) BindPipeline(p driver.Pipeline) {
	c.record(func(e *executor) { e.pipe = e.dev.pipelines[p] })
}

// BindVertexBuffer implements driver.CommandBuffer.
func (c *CommandBuffer) BindVertexBuffer(buf driver.Buffer, offset uint64) {
	c.record(func(e *executor) { e.vb, e.vbOff = buf, offset })
}

// BindIndexBuffer implements driver.CommandBuffer.
func (c *CommandBuffer) BindIndexBuffer(buf driver.Buffer, offset uint64) {
	c.record(func(e *executor) { e.ib, e.ibOff = buf, offset })
}

// SetViewport implements driver.CommandBuffer.
func (c *CommandBuffer) SetViewport(vp driver.Viewport) {
	c.record(func(e *executor) { e.viewport = vp })
}

// SetScissor implements driver.CommandBuffer.
func (c *CommandBuffer) SetScissor(r image.Rectangle) {
	c.record(func(e *executor) { e.scissor = r })
}

// SetBlendConstants implements driver.CommandBuffer.
func (c *CommandBuffer) SetBlendConstants(v [4]float32) {
	c.record(func(e *executor) { e.blendC = v })
}

// BindDescriptorSets implements driver.CommandBuffer.
func (c *CommandBuffer) BindDescriptorSets(_ driver.PipelineLayout, first uint32, sets []driver.DescriptorSet, dynamicOffsets []uint32) {
	sets = append([]driver.DescriptorSet(nil), sets...)
	dynamicOffsets = append([]uint32(nil), dynamicOffsets...)
	c.record(func(e *executor) {
		if len(sets) == 0 {
			// Rebinding offsets only: they belong to the first set.
			e.dynOff[first] = dynamicOffsets
			return
		}
		rest := dynamicOffsets
		for i, s := range sets {
			slot := int(first) + i
			e.sets[slot] = s
			e.dynOff[slot] = nil
			if ds := e.dev.sets[s]; ds != nil {
				n := 0
				for _, b := range ds.layout.Bindings {
					if b.Type == driver.BindingUniformDynamic {
						n++
					}
				}
				n = min(n, len(rest))
				e.dynOff[slot], rest = rest[:n], rest[n:]
			}
		}
	})
}

// PushConstants implements driver.CommandBuffer.
func (c *CommandBuffer) PushConstants(_ driver.PipelineLayout, offset uint32, data []byte) {
	data = append([]byte(nil), data...)
	c.record(func(e *executor) {
		if need := int(offset) + len(data); len(e.pushConst) < need {
			grown := make([]byte, need)
			copy(grown, e.pushConst)
			e.pushConst = grown
		}
		copy(e.pushConst[offset:], data)
	})
}

// Draw implements driver.CommandBuffer.
func (c *CommandBuffer) Draw(vertexCount, firstVertex uint32) {
	c.record(func(e *executor) {
		idx := make([]uint32, vertexCount)
		for i := range idx {
			idx[i] = firstVertex + uint32(i) //nolint:gosec // bounded by vertexCount
		}
		e.draw(idx, 0)
	})
}

// DrawIndexed implements driver.CommandBuffer.
func (c *CommandBuffer) DrawIndexed(indexCount, firstIndex uint32, vertexOffset int32) {
	c.record(func(e *executor) {
		b := e.dev.buffers[e.ib]
		if b == nil {
			return
		}
		idx := make([]uint32, indexCount)
		base := e.ibOff + uint64(firstIndex)*4
		for i := range idx {
			o := base + uint64(i)*4
			if o+4 > uint64(len(b.data)) {
				return
			}
			idx[i] = binary.LittleEndian.Uint32(b.data[o:])
		}
		e.draw(idx, vertexOffset)
	})
}

// CopyImage implements driver.CommandBuffer.
func (c *CommandBuffer) CopyImage(src driver.Image, srcLevel uint32, srcRect image.Rectangle, dst driver.Image, dstLevel uint32, dstPoint image.Point) {
	c.record(func(e *executor) {
		s, d := e.dev.images[src], e.dev.images[dst]
		if s == nil || d == nil {
			return
		}
		sl, dl := &s.levels[srcLevel], &d.levels[dstLevel]
		for y := srcRect.Min.Y; y < srcRect.Max.Y; y++ {
			for x := srcRect.Min.X; x < srcRect.Max.X; x++ {
				dx, dy := dstPoint.X+x-srcRect.Min.X, dstPoint.Y+y-srcRect.Min.Y
				if sl.in(x, y) && dl.in(dx, dy) {
					dl.set(dx, dy, quantize(d.desc.Format, sl.get(x, y)))
					if sl.stencil != nil && dl.stencil != nil {
						dl.stencil[dy*dl.w+dx] = sl.stencil[y*sl.w+x]
					}
				}
			}
		}
	})
}

// BlitImage implements driver.CommandBuffer.
func (c *CommandBuffer) BlitImage(src driver.Image, srcLevel uint32, srcRect image.Rectangle, dst driver.Image, dstLevel uint32, dstRect image.Rectangle, filter driver.Filter) {
	c.record(func(e *executor) {
		s, d := e.dev.images[src], e.dev.images[dst]
		if s == nil || d == nil {
			return
		}
		blit(&s.levels[srcLevel], srcRect, &d.levels[dstLevel], dstRect, d.desc.Format, filter)
	})
}

// CopyImageToBuffer implements driver.CommandBuffer.
func (c *CommandBuffer) CopyImageToBuffer(src driver.Image, lvl uint32, rect image.Rectangle, dst driver.Buffer, offset uint64, rowPitch uint32) {
	c.record(func(e *executor) {
		s, b := e.dev.images[src], e.dev.buffers[dst]
		if s == nil || b == nil {
			return
		}
		f := s.desc.Format
		bpp := f.BytesPerPixel()
		lv := &s.levels[lvl]
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			row := offset + uint64(y-rect.Min.Y)*uint64(rowPitch)
			for x := rect.Min.X; x < rect.Max.X; x++ {
				o := row + uint64((x-rect.Min.X)*bpp) //nolint:gosec // non-negative
				if !lv.in(x, y) || o+uint64(bpp) > uint64(len(b.data)) { //nolint:gosec // non-negative
					continue
				}
				encodeTexel(f, lv.get(x, y), b.data[o:])
			}
		}
	})
}

// CopyBufferToImage implements driver.CommandBuffer.
func (c *CommandBuffer) CopyBufferToImage(src driver.Buffer, offset uint64, rowPitch uint32, dst driver.Image, lvl uint32, rect image.Rectangle) {
	c.record(func(e *executor) {
		b, d := e.dev.buffers[src], e.dev.images[dst]
		if b == nil || d == nil {
			return
		}
		f := d.desc.Format
		bpp := f.BytesPerPixel()
		lv := &d.levels[lvl]
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			row := offset + uint64(y-rect.Min.Y)*uint64(rowPitch)
			for x := rect.Min.X; x < rect.Max.X; x++ {
				o := row + uint64((x-rect.Min.X)*bpp) //nolint:gosec // non-negative
				if !lv.in(x, y) || o+uint64(bpp) > uint64(len(b.data)) { //nolint:gosec // non-negative
					continue
				}
				lv.set(x, y, decodeTexel(f, b.data[o:]))
			}
		}
	})
}

// ClearColorImage implements driver.CommandBuffer.
func (c *CommandBuffer) ClearColorImage(img driver.Image, color [4]float32) {
	c.record(func(e *executor) {
		im := e.dev.images[img]
		if im == nil {
			return
		}
		v := quantize(im.desc.Format, color)
		for i := range im.levels {
			lv := &im.levels[i]
			fillRect(lv, image.Rect(0, 0, lv.w, lv.h), v)
		}
	})
}

// ClearDepthStencilImage implements driver.CommandBuffer.
func (c *CommandBuffer) ClearDepthStencilImage(img driver.Image, depth float32, stencil uint32, aspect driver.Aspect) {
	c.record(func(e *executor) {
		im := e.dev.images[img]
		if im == nil {
			return
		}
		lv := &im.levels[0]
		full := image.Rect(0, 0, lv.w, lv.h)
		if aspect&driver.AspectDepth != 0 {
			fillRect(lv, full, [4]float32{depth, 0, 0, 1})
		}
		if aspect&driver.AspectStencil != 0 && lv.stencil != nil {
			fillStencil(lv, full, uint8(stencil)) //nolint:gosec // 8-bit stencil
		}
	})
}

func fillRect(lv *level, r image.Rectangle, v [4]float32) {
	r = r.Intersect(image.Rect(0, 0, lv.w, lv.h))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			lv.set(x, y, v)
		}
	}
}

func fillStencil(lv *level, r image.Rectangle, v uint8) {
	r = r.Intersect(image.Rect(0, 0, lv.w, lv.h))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			lv.stencil[y*lv.w+x] = v
		}
	}
}

// uniform returns the bytes of a dynamic uniform binding.
func (e *executor) uniform(set, binding uint32) []byte {
	ds := e.dev.sets[e.sets[set]]
	if ds == nil {
		return nil
	}
	w, ok := ds.writes[binding]
	if !ok {
		return nil
	}
	b := e.dev.buffers[w.Buffer]
	if b == nil {
		return nil
	}
	off := w.Offset
	// Dynamic offsets are consumed in binding order.
	dyn := 0
	for _, lb := range ds.layout.Bindings {
		if lb.Type != driver.BindingUniformDynamic {
			continue
		}
		if lb.Binding == binding {
			if dyn < len(e.dynOff[set]) {
				off += uint64(e.dynOff[set][dyn])
			}
			break
		}
		dyn++
	}
	end := off + w.Range
	if end > uint64(len(b.data)) {
		return nil
	}
	return b.data[off:end]
}

// texture returns the image and sampler bound for sampling.
func (e *executor) texture(imgSet, imgBinding, smpSet, smpBinding uint32) (*softImage, driver.SamplerDesc) {
	var im *softImage
	var sd driver.SamplerDesc
	if ds := e.dev.sets[e.sets[imgSet]]; ds != nil {
		if w, ok := ds.writes[imgBinding]; ok {
			im = e.dev.images[w.Image]
		}
	}
	if ds := e.dev.sets[e.sets[smpSet]]; ds != nil {
		if w, ok := ds.writes[smpBinding]; ok {
			sd = e.dev.samplers[w.Sampler]
		}
	}
	return im, sd
}

func f32(b []byte, off int) float32 {
	if off+4 > len(b) {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func u32(b []byte, off int) uint32 {
	if off+4 > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[off:])
}
