package gsvk

import (
	"errors"
	"image"

	"github.com/gogpu/gsvk/internal/driver"
)

// Dirty flags of the cached binding state.
const (
	dirtyTFXTextures = 1 << iota
	dirtyTFXSamplers
	dirtyTFXDynamicOffsets
	dirtyUtilityTexture
	dirtyBlendConstants
	dirtyVertexBuffer
	dirtyIndexBuffer
	dirtyViewport
	dirtyScissor
	dirtyPipeline
	dirtyDescriptorSets

	dirtyBaseState = dirtyVertexBuffer | dirtyIndexBuffer | dirtyPipeline |
		dirtyViewport | dirtyScissor | dirtyBlendConstants
	dirtyTFXState     = dirtyBaseState | dirtyTFXTextures | dirtyTFXSamplers
	dirtyUtilityState = dirtyBaseState | dirtyUtilityTexture
	dirtyAll          = dirtyTFXState | dirtyUtilityState | dirtyTFXDynamicOffsets | dirtyDescriptorSets
)

// regime is the pipeline layout the bound descriptor sets belong to.
type regime uint8

const (
	regimeUndefined regime = iota
	regimeTFX
	regimeUtility
)

const (
	numTFXTextures = 4
	numTFXSamplers = 2
)

// state is the last value handed to each command buffer binding point,
// plus the render pass bracket. Setters only mark bits; Apply*State
// records what is dirty.
type state struct {
	dirty  uint32
	regime regime

	vb       driver.Buffer
	vbOffset uint64
	ib       driver.Buffer
	ibOffset uint64

	pipeline       driver.Pipeline
	viewport       driver.Viewport
	scissor        image.Rectangle
	blendConstants [4]float32

	framebuffer driver.Framebuffer
	renderPass  driver.RenderPass
	renderArea  image.Rectangle

	tfxSets           [3]driver.DescriptorSet
	tfxDynamicOffsets [2]uint32
	tfxTextures       [numTFXTextures]*Texture
	tfxSamplerKeys    [numTFXSamplers]uint32
	tfxSamplers       [numTFXSamplers]driver.Sampler

	utilitySet     driver.DescriptorSet
	utilityTexture *Texture
	utilitySampler driver.Sampler

	currentRT *Texture
	currentDS *Texture

	vsCB      VSConstantBuffer
	psCB      PSConstantBuffer
	vsCBValid bool
	psCBValid bool

	vertexMapSize uint64
}

// SetVertexBuffer sets the vertex buffer binding.
func (d *Device) SetVertexBuffer(buf driver.Buffer, offset uint64) {
	if d.vb == buf && d.vbOffset == offset {
		return
	}
	d.vb, d.vbOffset = buf, offset
	d.dirty |= dirtyVertexBuffer
}

// SetIndexBuffer sets the uint32 index buffer binding.
func (d *Device) SetIndexBuffer(buf driver.Buffer, offset uint64) {
	if d.ib == buf && d.ibOffset == offset {
		return
	}
	d.ib, d.ibOffset = buf, offset
	d.dirty |= dirtyIndexBuffer
}

// SetFramebuffer selects the framebuffer of the next render pass. Changing
// it ends the open pass.
func (d *Device) SetFramebuffer(fb driver.Framebuffer) {
	if d.framebuffer == fb {
		return
	}
	d.EndRenderPass()
	d.framebuffer = fb
}

// SetBlendConstants sets the constant blend color.
func (d *Device) SetBlendConstants(c [4]float32) {
	if d.blendConstants == c {
		return
	}
	d.blendConstants = c
	d.dirty |= dirtyBlendConstants
}

// SetViewport sets the viewport.
func (d *Device) SetViewport(vp driver.Viewport) {
	if d.viewport == vp {
		return
	}
	d.viewport = vp
	d.dirty |= dirtyViewport
}

// SetScissor sets the scissor rectangle.
func (d *Device) SetScissor(r image.Rectangle) {
	if d.scissor == r {
		return
	}
	d.scissor = r
	d.dirty |= dirtyScissor
}

// SetPipeline sets the graphics pipeline.
func (d *Device) SetPipeline(p driver.Pipeline) {
	if d.pipeline == p {
		return
	}
	d.pipeline = p
	d.dirty |= dirtyPipeline
}

// SetViewportAndScissor sets both to r with a [0, 1] depth range.
func (d *Device) SetViewportAndScissor(r image.Rectangle) {
	d.SetViewport(viewportFromRect(r))
	d.SetScissor(r)
}

func viewportFromRect(r image.Rectangle) driver.Viewport {
	return driver.Viewport{
		X:        float32(r.Min.X),
		Y:        float32(r.Min.Y),
		Width:    float32(r.Dx()),
		Height:   float32(r.Dy()),
		MaxDepth: 1,
	}
}

// PSSetShaderResource binds t to TFX texture slot i. A nil t binds the null
// texture. The texture is transitioned for sampling, which ends the open
// pass when a barrier is needed.
func (d *Device) PSSetShaderResource(i int, t *Texture) {
	if t == nil {
		t = d.nullTexture
	} else {
		t.LastFrameUsed = d.frame
		d.transitionForSampling(t)
	}
	if d.tfxTextures[i] == t {
		return
	}
	d.tfxTextures[i] = t
	d.dirty |= dirtyTFXTextures
}

// SetUtilityTexture binds t and sampler for the next utility draw. A nil t
// binds the null texture.
func (d *Device) SetUtilityTexture(t *Texture, sampler driver.Sampler) {
	if t == nil {
		t = d.nullTexture
	} else {
		t.LastFrameUsed = d.frame
		d.transitionForSampling(t)
	}
	if d.utilityTexture == t && d.utilitySampler == sampler {
		return
	}
	d.utilityTexture, d.utilitySampler = t, sampler
	d.dirty |= dirtyUtilityTexture
}

func (d *Device) transitionForSampling(t *Texture) {
	if t.layout == driver.LayoutShaderReadOnly {
		return
	}
	d.EndRenderPass()
	t.TransitionToLayout(driver.LayoutShaderReadOnly)
}

// SetUtilityPushConstants records data as the push constants of the
// utility layout.
func (d *Device) SetUtilityPushConstants(data []byte) {
	d.ctx.CommandBuffer().PushConstants(d.utilityLayout, 0, data)
}

// UnbindTexture replaces every binding of t with the null texture and drops
// t as a current target.
func (d *Device) UnbindTexture(t *Texture) {
	for i := range d.tfxTextures {
		if d.tfxTextures[i] == t {
			d.tfxTextures[i] = d.nullTexture
			d.dirty |= dirtyTFXTextures
		}
	}
	if d.utilityTexture == t {
		d.utilityTexture = d.nullTexture
		d.dirty |= dirtyUtilityTexture
	}
	if d.currentRT == t || d.currentDS == t {
		d.EndRenderPass()
		d.framebuffer = 0
		if d.currentRT == t {
			d.currentRT = nil
		}
		if d.currentDS == t {
			d.currentDS = nil
		}
	}
}

// InvalidateCachedState forces every binding to be recorded again and the
// per-frame descriptor sets to be reallocated. The persistent uniform set
// survives.
func (d *Device) InvalidateCachedState() {
	d.dirty |= dirtyAll
	d.regime = regimeUndefined
	d.tfxSets[1], d.tfxSets[2] = 0, 0
	d.utilitySet = 0
}

// ResetAPIState ends the open render pass before the caller records
// commands of its own.
func (d *Device) ResetAPIState() { d.EndRenderPass() }

// RestoreAPIState re-records all bindings on the next apply.
func (d *Device) RestoreAPIState() { d.InvalidateCachedState() }

// ApplyTFXState records the dirty part of the textured draw state. It
// returns false when no draw may be issued because the pipeline is null.
// A second call without changes records nothing.
func (d *Device) ApplyTFXState() bool {
	if d.pipeline == 0 {
		return false
	}
	if d.regime == regimeTFX && d.dirty == 0 {
		return true
	}
	return d.applyTFXState(false)
}

func (d *Device) applyTFXState(retried bool) bool {
	if d.dirty&dirtyTFXTextures != 0 || d.tfxSets[1] == 0 {
		writes := make([]driver.DescriptorWrite, numTFXTextures)
		for i, t := range d.tfxTextures {
			if t == nil {
				t = d.nullTexture
			}
			writes[i] = driver.DescriptorWrite{Binding: uint32(i), Image: t.image} //nolint:gosec // slot index
		}
		set, err := d.ctx.AllocateDescriptorSet(d.tfxSetLayouts[1], writes)
		if err != nil {
			return d.retryApply(err, retried, "TFX texture", d.applyTFXState)
		}
		d.tfxSets[1] = set
		d.dirty = d.dirty&^dirtyTFXTextures | dirtyDescriptorSets
	}

	if d.dirty&dirtyTFXSamplers != 0 || d.tfxSets[2] == 0 {
		writes := make([]driver.DescriptorWrite, numTFXSamplers)
		for i, s := range d.tfxSamplers {
			if s == 0 {
				s = d.pointSampler
			}
			writes[i] = driver.DescriptorWrite{Binding: uint32(i), Sampler: s} //nolint:gosec // slot index
		}
		set, err := d.ctx.AllocateDescriptorSet(d.tfxSetLayouts[2], writes)
		if err != nil {
			return d.retryApply(err, retried, "TFX sampler", d.applyTFXState)
		}
		d.tfxSets[2] = set
		d.dirty = d.dirty&^dirtyTFXSamplers | dirtyDescriptorSets
	}

	cmd := d.ctx.CommandBuffer()
	switch {
	case d.regime != regimeTFX || d.dirty&dirtyDescriptorSets != 0:
		cmd.BindDescriptorSets(d.tfxLayout, 0, d.tfxSets[:], d.tfxDynamicOffsets[:])
		d.regime = regimeTFX
		d.dirty &^= dirtyDescriptorSets | dirtyTFXDynamicOffsets
	case d.dirty&dirtyTFXDynamicOffsets != 0:
		cmd.BindDescriptorSets(d.tfxLayout, 0, nil, d.tfxDynamicOffsets[:])
		d.dirty &^= dirtyTFXDynamicOffsets
	}
	d.applyBaseState(cmd)
	return true
}

// ApplyUtilityState records the dirty part of the utility draw state.
func (d *Device) ApplyUtilityState() bool {
	if d.pipeline == 0 {
		return false
	}
	if d.regime == regimeUtility && d.dirty&dirtyUtilityState == 0 {
		return true
	}
	return d.applyUtilityState(false)
}

func (d *Device) applyUtilityState(retried bool) bool {
	if d.dirty&dirtyUtilityTexture != 0 || d.utilitySet == 0 {
		t, s := d.utilityTexture, d.utilitySampler
		if t == nil {
			t = d.nullTexture
		}
		if s == 0 {
			s = d.pointSampler
		}
		set, err := d.ctx.AllocateDescriptorSet(d.utilitySetLayout, []driver.DescriptorWrite{
			{Binding: 0, Image: t.image},
			{Binding: 1, Sampler: s},
		})
		if err != nil {
			return d.retryApply(err, retried, "utility", d.applyUtilityState)
		}
		d.utilitySet = set
		d.dirty = d.dirty&^dirtyUtilityTexture | dirtyDescriptorSets
	}

	cmd := d.ctx.CommandBuffer()
	if d.regime != regimeUtility || d.dirty&dirtyDescriptorSets != 0 {
		cmd.BindDescriptorSets(d.utilityLayout, 0, []driver.DescriptorSet{d.utilitySet}, nil)
		d.regime = regimeUtility
		d.dirty &^= dirtyDescriptorSets
	}
	d.applyBaseState(cmd)
	return true
}

// retryApply handles a failed descriptor allocation: pool exhaustion
// flushes, reopens the pass and retries once; anything else is fatal.
func (d *Device) retryApply(err error, retried bool, what string, apply func(bool) bool) bool {
	if retried || !errors.Is(err, driver.ErrOutOfPoolMemory) {
		d.fatalf("failed to allocate %s descriptor set: %v", what, err)
		return false
	}
	d.ExecuteCommandBufferAndRestartRenderPass("ran out of %s descriptors", what)
	return apply(true)
}

func (d *Device) applyBaseState(cmd driver.CommandBuffer) {
	f := d.dirty
	if f&dirtyVertexBuffer != 0 && d.vb != 0 {
		cmd.BindVertexBuffer(d.vb, d.vbOffset)
	}
	if f&dirtyIndexBuffer != 0 && d.ib != 0 {
		cmd.BindIndexBuffer(d.ib, d.ibOffset)
	}
	if f&dirtyPipeline != 0 {
		cmd.BindPipeline(d.pipeline)
	}
	if f&dirtyViewport != 0 {
		cmd.SetViewport(d.viewport)
	}
	if f&dirtyScissor != 0 {
		cmd.SetScissor(d.scissor)
	}
	if f&dirtyBlendConstants != 0 {
		cmd.SetBlendConstants(d.blendConstants)
	}
	d.dirty &^= dirtyBaseState
}

// InRenderPass reports whether a render pass is open.
func (d *Device) InRenderPass() bool { return d.renderPass != 0 }

// BeginRenderPass opens rp on the current framebuffer over area, ending
// any open pass first.
func (d *Device) BeginRenderPass(rp driver.RenderPass, area image.Rectangle) {
	d.beginRenderPass(rp, area, driver.ClearValues{})
}

// BeginClearRenderPass is BeginRenderPass with clear values for the
// attachments whose load operation is Clear.
func (d *Device) BeginClearRenderPass(rp driver.RenderPass, area image.Rectangle, clear driver.ClearValues) {
	d.beginRenderPass(rp, area, clear)
}

func (d *Device) beginRenderPass(rp driver.RenderPass, area image.Rectangle, clear driver.ClearValues) {
	d.EndRenderPass()
	d.ctx.CommandBuffer().BeginRenderPass(rp, d.framebuffer, area, clear)
	d.renderPass, d.renderArea = rp, area
}

// EndRenderPass closes the open pass. It is a no-op without one.
func (d *Device) EndRenderPass() {
	if d.renderPass == 0 {
		return
	}
	d.ctx.CommandBuffer().EndRenderPass()
	d.renderPass = 0
}

// CheckRenderPass reports whether rp is open and covers r.
func (d *Device) CheckRenderPass(rp driver.RenderPass, r image.Rectangle) bool {
	if d.renderPass != rp {
		return false
	}
	if !r.In(d.renderArea) {
		if d.cfg.Debug {
			d.log.vk.Errorf("Render pass check failed: %v outside %v", r, d.renderArea)
		}
		return false
	}
	return true
}
