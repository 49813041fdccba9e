// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package halvk implements driver.Device on top of the wgpu HAL.
//
// The HAL exposes WebGPU-shaped objects, so a few driver concepts are
// emulated:
//
//   - Buffers keep a host shadow. MapBuffer returns the shadow, FlushBuffer
//     uploads a range through the queue and buffers written by a copy are
//     read back once their submission completes.
//   - Render passes and framebuffers are plain descriptors resolved when a
//     pass begins.
//   - Push constants live in a device-wide uniform ring bound with a dynamic
//     offset at the group following the pipeline layout's sets.
//   - Command buffers record closures that are replayed on a HAL command
//     encoder at Submit. Bound state is re-applied at every pass begin.
package halvk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gsvk/internal/driver"
)

const (
	// pushBlockSize is the stride of one push constant block in the ring.
	pushBlockSize = 256
	// pushRingSize bounds the push constant data of in-flight submissions.
	pushRingSize = 1 << 20

	waitTimeout = 5 * time.Second
)

// Backend creates HAL instances. hal.Backend values and the noop API both
// satisfy it.
type Backend interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

type texture struct {
	desc   driver.ImageDesc
	format gputypes.TextureFormat
	tex    hal.Texture
	// attach is a level 0 view of every aspect.
	attach hal.TextureView
	// sample is the view bound to shaders; depth images expose depth only.
	sample hal.TextureView
	levels map[uint32]hal.TextureView
}

type buffer struct {
	desc   driver.BufferDesc
	buf    hal.Buffer
	shadow []byte
}

type shaderModule struct {
	desc driver.ShaderModuleDesc
	mod  hal.ShaderModule
}

type setLayout struct {
	desc    driver.SetLayoutDesc
	bgl     hal.BindGroupLayout
	dynamic int
}

type pipelineLayout struct {
	desc   driver.PipelineLayoutDesc
	layout hal.PipelineLayout
	// pushGroup is the bind group index of the push constant block.
	pushGroup uint32
}

type pipeline struct {
	desc driver.PipelineDesc
	p    hal.RenderPipeline
}

type descriptorPool struct {
	max  uint32
	sets []driver.DescriptorSet
}

type descriptorSet struct {
	bg      hal.BindGroup
	dynamic int
}

type submission struct {
	fence     uint64
	cmd       hal.CommandBuffer
	readbacks []driver.Buffer
	transient []hal.BindGroup
}

// Device is a driver.Device backed by a HAL device and queue.
type Device struct {
	mu sync.Mutex

	dev      hal.Device
	queue    hal.Queue
	instance hal.Instance
	owned    bool
	features driver.Features

	next            uint64
	images          map[driver.Image]*texture
	buffers         map[driver.Buffer]*buffer
	renderPasses    map[driver.RenderPass]driver.RenderPassDesc
	framebuffers    map[driver.Framebuffer]driver.FramebufferDesc
	shaders         map[driver.ShaderModule]*shaderModule
	setLayouts      map[driver.SetLayout]*setLayout
	pipelineLayouts map[driver.PipelineLayout]*pipelineLayout
	pipelines       map[driver.Pipeline]*pipeline
	samplers        map[driver.Sampler]hal.Sampler
	pools           map[driver.DescriptorPool]*descriptorPool
	sets            map[driver.DescriptorSet]*descriptorSet

	fence     hal.Fence
	submitted uint64
	completed uint64
	inflight  []submission

	pushBGL   hal.BindGroupLayout
	pushBuf   hal.Buffer
	pushGroup hal.BindGroup
	pushHead  uint64

	blit *blitter
}

var _ driver.Device = (*Device)(nil)

// New wraps an open HAL device. The caller keeps ownership of dev and
// queue; Destroy releases only the objects created through the Device.
func New(dev hal.Device, queue hal.Queue, limits gputypes.Limits) (*Device, error) {
	if dev == nil || queue == nil {
		return nil, errors.New("halvk: nil device or queue")
	}
	align := limits.MinUniformBufferOffsetAlignment
	if align == 0 {
		align = 256
	}
	maxDim := limits.MaxTextureDimension2D
	if maxDim == 0 {
		maxDim = 8192
	}
	d := &Device{
		dev:   dev,
		queue: queue,
		features: driver.Features{
			ImageCopy:           true,
			Blit:                true,
			GeometryShader:      false,
			MaxImageDimension2D: maxDim,
			UniformAlignment:    align,
		},
		images:          make(map[driver.Image]*texture),
		buffers:         make(map[driver.Buffer]*buffer),
		renderPasses:    make(map[driver.RenderPass]driver.RenderPassDesc),
		framebuffers:    make(map[driver.Framebuffer]driver.FramebufferDesc),
		shaders:         make(map[driver.ShaderModule]*shaderModule),
		setLayouts:      make(map[driver.SetLayout]*setLayout),
		pipelineLayouts: make(map[driver.PipelineLayout]*pipelineLayout),
		pipelines:       make(map[driver.Pipeline]*pipeline),
		samplers:        make(map[driver.Sampler]hal.Sampler),
		pools:           make(map[driver.DescriptorPool]*descriptorPool),
		sets:            make(map[driver.DescriptorSet]*descriptorSet),
	}
	if err := d.init(); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}

// NewFromProvider shares the HAL device of a gpucontext provider, such as a
// gogpu window. The provider must also expose its HAL device and queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, errors.New("halvk: provider does not expose HAL types")
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, errors.New("halvk: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.New("halvk: provider HalQueue is not hal.Queue")
	}
	return New(dev, queue, gputypes.DefaultLimits())
}

// Open creates an instance on backend and opens its first hardware
// adapter, falling back to the first adapter of any kind.
func Open(backend Backend) (*Device, error) {
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("halvk: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.New("halvk: no GPU adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	limits := gputypes.DefaultLimits()
	open, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("halvk: open device: %w", err)
	}
	d, err := New(open.Device, open.Queue, limits)
	if err != nil {
		open.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.owned = true
	return d, nil
}

// OpenVulkan opens a device on the registered Vulkan backend.
func OpenVulkan() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("halvk: vulkan backend not available: %w", driver.ErrUnsupported)
	}
	return Open(backend)
}

func (d *Device) init() error {
	var err error
	if d.fence, err = d.dev.CreateFence(); err != nil {
		return fmt.Errorf("halvk: create fence: %w", err)
	}
	d.pushBGL, err = d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gsvk_push",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform, HasDynamicOffset: true},
		}},
	})
	if err != nil {
		return fmt.Errorf("halvk: create push layout: %w", err)
	}
	d.pushBuf, err = d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "gsvk_push_ring",
		Size:  pushRingSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("halvk: create push ring: %w", err)
	}
	d.pushGroup, err = d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "gsvk_push",
		Layout: d.pushBGL,
		Entries: []gputypes.BindGroupEntry{{
			Binding:  0,
			Resource: gputypes.BufferBinding{Buffer: gputypes.BufferHandle(d.pushBuf.NativeHandle()), Offset: 0, Size: pushBlockSize},
		}},
	})
	if err != nil {
		return fmt.Errorf("halvk: create push group: %w", err)
	}
	d.blit, err = newBlitter(d)
	return err
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

// Name implements driver.Device.
func (d *Device) Name() string { return "halvk" }

// Features implements driver.Device.
func (d *Device) Features() driver.Features { return d.features }

// CreateImage implements driver.Device.
func (d *Device) CreateImage(desc *driver.ImageDesc) (driver.Image, error) {
	format, err := textureFormat(desc.Format)
	if err != nil {
		return 0, fmt.Errorf("halvk: image format %v: %w", desc.Format, err)
	}
	layers := max(desc.Layers, 1)
	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: layers},
		MipLevelCount: max(desc.Levels, 1),
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return 0, fmt.Errorf("halvk: create image %q: %w", desc.Label, err)
	}
	img := &texture{desc: *desc, format: format, tex: tex, levels: make(map[uint32]hal.TextureView)}
	img.attach, err = d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         desc.Label,
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.dev.DestroyTexture(tex)
		return 0, fmt.Errorf("halvk: create view of %q: %w", desc.Label, err)
	}
	aspect := gputypes.TextureAspectAll
	if desc.Format.IsDepth() {
		aspect = gputypes.TextureAspectDepthOnly
	}
	img.sample, err = d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         desc.Label,
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        aspect,
		MipLevelCount: max(desc.Levels, 1),
	})
	if err != nil {
		d.dev.DestroyTextureView(img.attach)
		d.dev.DestroyTexture(tex)
		return 0, fmt.Errorf("halvk: create sampled view of %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Image(d.handle())
	d.images[h] = img
	return h, nil
}

// levelView returns a single-level view of img, created on first use.
func (d *Device) levelView(img *texture, level uint32) (hal.TextureView, error) {
	if level == 0 && !img.desc.Format.IsDepth() {
		return img.attach, nil
	}
	if v, ok := img.levels[level]; ok {
		return v, nil
	}
	v, err := d.dev.CreateTextureView(img.tex, &hal.TextureViewDescriptor{
		Label:         fmt.Sprintf("%s_l%d", img.desc.Label, level),
		Format:        img.format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		BaseMipLevel:  level,
		MipLevelCount: 1,
	})
	if err != nil {
		return nil, err
	}
	img.levels[level] = v
	return v, nil
}

// DestroyImage implements driver.Device.
func (d *Device) DestroyImage(h driver.Image) {
	d.mu.Lock()
	img, ok := d.images[h]
	delete(d.images, h)
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, v := range img.levels {
		d.dev.DestroyTextureView(v)
	}
	d.dev.DestroyTextureView(img.sample)
	d.dev.DestroyTextureView(img.attach)
	d.dev.DestroyTexture(img.tex)
}

// CreateBuffer implements driver.Device.
func (d *Device) CreateBuffer(desc *driver.BufferDesc) (driver.Buffer, error) {
	// Queue writes and copies work on 4 byte granules.
	size := (desc.Size + 3) &^ 3
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return 0, fmt.Errorf("halvk: create buffer %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Buffer(d.handle())
	d.buffers[h] = &buffer{desc: *desc, buf: buf, shadow: make([]byte, size)}
	return h, nil
}

// DestroyBuffer implements driver.Device.
func (d *Device) DestroyBuffer(h driver.Buffer) {
	d.mu.Lock()
	b, ok := d.buffers[h]
	delete(d.buffers, h)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyBuffer(b.buf)
	}
}

// MapBuffer implements driver.Device. The mapping is the host shadow.
func (d *Device) MapBuffer(h driver.Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[h]; ok {
		return b.shadow[:b.desc.Size]
	}
	return nil
}

// FlushBuffer implements driver.Device.
func (d *Device) FlushBuffer(h driver.Buffer, offset, size uint64) {
	d.mu.Lock()
	b, ok := d.buffers[h]
	d.mu.Unlock()
	if !ok || size == 0 {
		return
	}
	start := offset &^ 3
	end := min((offset+size+3)&^3, uint64(len(b.shadow)))
	d.queue.WriteBuffer(b.buf, start, b.shadow[start:end])
}

// CreateRenderPass implements driver.Device.
func (d *Device) CreateRenderPass(desc *driver.RenderPassDesc) (driver.RenderPass, error) {
	if desc.ColorFormat == driver.FormatUndefined && desc.DepthFormat == driver.FormatUndefined {
		return 0, errors.New("halvk: render pass without attachments")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.RenderPass(d.handle())
	d.renderPasses[h] = *desc
	return h, nil
}

// DestroyRenderPass implements driver.Device.
func (d *Device) DestroyRenderPass(rp driver.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.renderPasses, rp)
}

// CreateFramebuffer implements driver.Device.
func (d *Device) CreateFramebuffer(desc *driver.FramebufferDesc) (driver.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.renderPasses[desc.RenderPass]; !ok {
		return 0, fmt.Errorf("halvk: framebuffer render pass: %w", driver.ErrInvalidHandle)
	}
	for _, img := range []driver.Image{desc.Color, desc.Depth} {
		if _, ok := d.images[img]; img != 0 && !ok {
			return 0, fmt.Errorf("halvk: framebuffer attachment: %w", driver.ErrInvalidHandle)
		}
	}
	h := driver.Framebuffer(d.handle())
	d.framebuffers[h] = *desc
	return h, nil
}

// DestroyFramebuffer implements driver.Device.
func (d *Device) DestroyFramebuffer(fb driver.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.framebuffers, fb)
}

// CreateShaderModule implements driver.Device. WGSL is compiled to SPIR-V
// with naga.
func (d *Device) CreateShaderModule(desc *driver.ShaderModuleDesc) (driver.ShaderModule, error) {
	if desc.Stage == driver.StageGeometry {
		return 0, fmt.Errorf("halvk: geometry shader %q: %w", desc.Label, driver.ErrUnsupported)
	}
	spirv, err := compileSPIRV(desc.Source)
	if err != nil {
		return 0, fmt.Errorf("halvk: shader %q: %w", desc.Label, err)
	}
	mod, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return 0, fmt.Errorf("halvk: create shader %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.ShaderModule(d.handle())
	d.shaders[h] = &shaderModule{desc: *desc, mod: mod}
	return h, nil
}

// compileSPIRV compiles WGSL to little-endian SPIR-V words.
func compileSPIRV(wgsl string) ([]uint32, error) {
	code, err := naga.Compile(wgsl)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = uint32(code[i*4]) |
			uint32(code[i*4+1])<<8 |
			uint32(code[i*4+2])<<16 |
			uint32(code[i*4+3])<<24
	}
	return words, nil
}

// DestroyShaderModule implements driver.Device.
func (d *Device) DestroyShaderModule(h driver.ShaderModule) {
	d.mu.Lock()
	sm, ok := d.shaders[h]
	delete(d.shaders, h)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyShaderModule(sm.mod)
	}
}

// CreateSetLayout implements driver.Device.
func (d *Device) CreateSetLayout(desc *driver.SetLayoutDesc) (driver.SetLayout, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(desc.Bindings))
	dynamic := 0
	for _, b := range desc.Bindings {
		e := gputypes.BindGroupLayoutEntry{Binding: b.Binding, Visibility: shaderStages(b.Stages)}
		switch b.Type {
		case driver.BindingUniformDynamic:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform, HasDynamicOffset: true}
			dynamic++
		case driver.BindingSampledImage:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case driver.BindingSampler:
			e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		}
		entries = append(entries, e)
	}
	bgl, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: desc.Label, Entries: entries})
	if err != nil {
		return 0, fmt.Errorf("halvk: create set layout %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.SetLayout(d.handle())
	d.setLayouts[h] = &setLayout{desc: *desc, bgl: bgl, dynamic: dynamic}
	return h, nil
}

// DestroySetLayout implements driver.Device.
func (d *Device) DestroySetLayout(h driver.SetLayout) {
	d.mu.Lock()
	l, ok := d.setLayouts[h]
	delete(d.setLayouts, h)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyBindGroupLayout(l.bgl)
	}
}

// CreatePipelineLayout implements driver.Device.
func (d *Device) CreatePipelineLayout(desc *driver.PipelineLayoutDesc) (driver.PipelineLayout, error) {
	if desc.PushConstantSize > pushBlockSize {
		return 0, fmt.Errorf("halvk: %d bytes of push constants: %w", desc.PushConstantSize, driver.ErrUnsupported)
	}
	d.mu.Lock()
	bgls := make([]hal.BindGroupLayout, 0, len(desc.SetLayouts)+1)
	for _, h := range desc.SetLayouts {
		l, ok := d.setLayouts[h]
		if !ok {
			d.mu.Unlock()
			return 0, fmt.Errorf("halvk: pipeline layout %q: %w", desc.Label, driver.ErrInvalidHandle)
		}
		bgls = append(bgls, l.bgl)
	}
	d.mu.Unlock()
	if desc.PushConstantSize > 0 {
		bgls = append(bgls, d.pushBGL)
	}
	layout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{Label: desc.Label, BindGroupLayouts: bgls})
	if err != nil {
		return 0, fmt.Errorf("halvk: create pipeline layout %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.PipelineLayout(d.handle())
	d.pipelineLayouts[h] = &pipelineLayout{
		desc:      *desc,
		layout:    layout,
		pushGroup: uint32(len(desc.SetLayouts)), //nolint:gosec // a handful of sets
	}
	return h, nil
}

// DestroyPipelineLayout implements driver.Device.
func (d *Device) DestroyPipelineLayout(h driver.PipelineLayout) {
	d.mu.Lock()
	l, ok := d.pipelineLayouts[h]
	delete(d.pipelineLayouts, h)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyPipelineLayout(l.layout)
	}
}

// CreatePipeline implements driver.Device.
func (d *Device) CreatePipeline(desc *driver.PipelineDesc) (driver.Pipeline, error) {
	if desc.GS != 0 {
		return 0, fmt.Errorf("halvk: pipeline %q: geometry stage: %w", desc.Label, driver.ErrUnsupported)
	}
	d.mu.Lock()
	layout, lok := d.pipelineLayouts[desc.Layout]
	rp, rok := d.renderPasses[desc.RenderPass]
	vs, vok := d.shaders[desc.VS]
	fs, fok := d.shaders[desc.FS]
	d.mu.Unlock()
	if !lok || !rok || !vok || (desc.FS != 0 && !fok) {
		return 0, fmt.Errorf("halvk: pipeline %q: %w", desc.Label, driver.ErrInvalidHandle)
	}

	blend, err := blendState(desc.Blend)
	if err != nil {
		return 0, fmt.Errorf("halvk: pipeline %q: blend: %w", desc.Label, err)
	}
	attrs := make([]gputypes.VertexAttribute, len(desc.Attributes))
	for i, a := range desc.Attributes {
		attrs[i] = gputypes.VertexAttribute{Format: vertexFormats[a.Format], Offset: uint64(a.Offset), ShaderLocation: a.Location}
	}
	var buffers []gputypes.VertexBufferLayout
	if desc.VertexStride > 0 {
		buffers = []gputypes.VertexBufferLayout{{
			ArrayStride: uint64(desc.VertexStride),
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes:  attrs,
		}}
	}

	pd := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.layout,
		Vertex: hal.VertexState{Module: vs.mod, EntryPoint: vs.desc.Entry, Buffers: buffers},
		Primitive: gputypes.PrimitiveState{
			Topology: topologies[desc.Topology],
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	}
	if fs != nil && rp.ColorFormat != driver.FormatUndefined {
		format, err := textureFormat(rp.ColorFormat)
		if err != nil {
			return 0, fmt.Errorf("halvk: pipeline %q: %w", desc.Label, err)
		}
		pd.Fragment = &hal.FragmentState{
			Module:     fs.mod,
			EntryPoint: fs.desc.Entry,
			Targets:    []gputypes.ColorTargetState{{Format: format, Blend: blend, WriteMask: writeMask(desc.WriteMask)}},
		}
	} else if fs != nil {
		pd.Fragment = &hal.FragmentState{Module: fs.mod, EntryPoint: fs.desc.Entry}
	}
	if rp.DepthFormat != driver.FormatUndefined {
		format, err := textureFormat(rp.DepthFormat)
		if err != nil {
			return 0, fmt.Errorf("halvk: pipeline %q: %w", desc.Label, err)
		}
		depthCompare := gputypes.CompareFunctionAlways
		if desc.DepthTest {
			depthCompare = compareFuncs[desc.DepthCompare]
		}
		face := hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
		var readMask, writeMask uint32
		if s := desc.Stencil; s.Enable {
			face = hal.StencilFaceState{
				Compare:     compareFuncs[s.Compare],
				FailOp:      stencilOps[s.FailOp],
				DepthFailOp: stencilOps[s.DepthFailOp],
				PassOp:      stencilOps[s.PassOp],
			}
			readMask, writeMask = s.ReadMask, s.WriteMask
		}
		pd.DepthStencil = &hal.DepthStencilState{
			Format:            format,
			DepthWriteEnabled: desc.DepthWrite,
			DepthCompare:      depthCompare,
			StencilFront:      face,
			StencilBack:       face,
			StencilReadMask:   readMask,
			StencilWriteMask:  writeMask,
		}
	}

	p, err := d.dev.CreateRenderPipeline(pd)
	if err != nil {
		return 0, fmt.Errorf("halvk: create pipeline %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Pipeline(d.handle())
	d.pipelines[h] = &pipeline{desc: *desc, p: p}
	return h, nil
}

// DestroyPipeline implements driver.Device.
func (d *Device) DestroyPipeline(h driver.Pipeline) {
	d.mu.Lock()
	p, ok := d.pipelines[h]
	delete(d.pipelines, h)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyRenderPipeline(p.p)
	}
}

// CreateSampler implements driver.Device.
func (d *Device) CreateSampler(desc *driver.SamplerDesc) (driver.Sampler, error) {
	s, err := d.dev.CreateSampler(&hal.SamplerDescriptor{
		Label:        "gsvk_sampler",
		AddressModeU: addressMode(desc.AddressU),
		AddressModeV: addressMode(desc.AddressV),
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    filterMode(desc.MagFilter),
		MinFilter:    filterMode(desc.MinFilter),
		MipmapFilter: filterMode(desc.MinFilter),
	})
	if err != nil {
		return 0, fmt.Errorf("halvk: create sampler: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Sampler(d.handle())
	d.samplers[h] = s
	return h, nil
}

// DestroySampler implements driver.Device.
func (d *Device) DestroySampler(h driver.Sampler) {
	d.mu.Lock()
	s, ok := d.samplers[h]
	delete(d.samplers, h)
	d.mu.Unlock()
	if ok {
		d.dev.DestroySampler(s)
	}
}

// CreateDescriptorPool implements driver.Device. Pools only count sets;
// each set is its own bind group.
func (d *Device) CreateDescriptorPool(maxSets uint32) (driver.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.DescriptorPool(d.handle())
	d.pools[h] = &descriptorPool{max: maxSets}
	return h, nil
}

// ResetDescriptorPool implements driver.Device.
func (d *Device) ResetDescriptorPool(h driver.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pools[h]; ok {
		d.freeSetsLocked(p)
	}
}

func (d *Device) freeSetsLocked(p *descriptorPool) {
	for _, s := range p.sets {
		if set, ok := d.sets[s]; ok {
			d.dev.DestroyBindGroup(set.bg)
			delete(d.sets, s)
		}
	}
	p.sets = p.sets[:0]
}

// DestroyDescriptorPool implements driver.Device.
func (d *Device) DestroyDescriptorPool(h driver.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pools[h]; ok {
		d.freeSetsLocked(p)
		delete(d.pools, h)
	}
}

// AllocateDescriptorSet implements driver.Device.
func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPool, layout driver.SetLayout, writes []driver.DescriptorWrite) (driver.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	l, lok := d.setLayouts[layout]
	if !ok || !lok {
		return 0, driver.ErrInvalidHandle
	}
	if uint32(len(p.sets)) >= p.max { //nolint:gosec // bounded by max
		return 0, driver.ErrOutOfPoolMemory
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(writes))
	for _, w := range writes {
		e := gputypes.BindGroupEntry{Binding: w.Binding}
		switch {
		case w.Buffer != 0:
			b, ok := d.buffers[w.Buffer]
			if !ok {
				return 0, fmt.Errorf("halvk: descriptor buffer: %w", driver.ErrInvalidHandle)
			}
			e.Resource = gputypes.BufferBinding{Buffer: gputypes.BufferHandle(b.buf.NativeHandle()), Offset: w.Offset, Size: w.Range}
		case w.Image != 0:
			img, ok := d.images[w.Image]
			if !ok {
				return 0, fmt.Errorf("halvk: descriptor image: %w", driver.ErrInvalidHandle)
			}
			e.Resource = gputypes.TextureViewBinding{TextureView: gputypes.TextureViewHandle(img.sample.NativeHandle())}
		case w.Sampler != 0:
			s, ok := d.samplers[w.Sampler]
			if !ok {
				return 0, fmt.Errorf("halvk: descriptor sampler: %w", driver.ErrInvalidHandle)
			}
			e.Resource = gputypes.SamplerBinding{Sampler: gputypes.SamplerHandle(s.NativeHandle())}
		default:
			continue
		}
		entries = append(entries, e)
	}
	bg, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{Label: l.desc.Label, Layout: l.bgl, Entries: entries})
	if err != nil {
		return 0, fmt.Errorf("halvk: create descriptor set: %w", err)
	}
	h := driver.DescriptorSet(d.handle())
	d.sets[h] = &descriptorSet{bg: bg, dynamic: l.dynamic}
	p.sets = append(p.sets, h)
	return h, nil
}

// PipelineCacheData implements driver.Device. The HAL keeps no pipeline
// cache of its own, so there is nothing to persist beyond the caller's
// pipeline keys.
func (d *Device) PipelineCacheData() []byte { return nil }

// SetPipelineCacheData implements driver.Device.
func (d *Device) SetPipelineCacheData([]byte) error { return nil }

// NewCommandBuffer implements driver.Device.
func (d *Device) NewCommandBuffer() driver.CommandBuffer {
	return &CommandBuffer{dev: d}
}

// Submit implements driver.Device.
func (d *Device) Submit(cmd driver.CommandBuffer, fence uint64) error {
	c, ok := cmd.(*CommandBuffer)
	if !ok || c.dev != d {
		return fmt.Errorf("halvk: foreign command buffer: %w", driver.ErrInvalidHandle)
	}
	if c.err != nil {
		return c.err
	}
	if fence <= d.submitted {
		return fmt.Errorf("halvk: fence %d not after %d", fence, d.submitted)
	}

	base, err := d.reservePush(uint64(len(c.push)))
	if err != nil {
		return err
	}
	if len(c.push) > 0 {
		d.queue.WriteBuffer(d.pushBuf, base, c.push)
	}

	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gsvk_encoder"})
	if err != nil {
		return fmt.Errorf("halvk: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("gsvk_frame"); err != nil {
		return fmt.Errorf("halvk: begin encoding: %w", err)
	}

	d.mu.Lock()
	r := &replay{dev: d, enc: enc, pushBase: uint32(base)} //nolint:gosec // ring is 1 MiB
	for _, op := range c.ops {
		op(r)
	}
	r.endPass()
	d.mu.Unlock()
	if r.err != nil {
		enc.DiscardEncoding()
		r.destroyTransient()
		return r.err
	}

	cb, err := enc.EndEncoding()
	if err != nil {
		r.destroyTransient()
		return fmt.Errorf("halvk: end encoding: %w", err)
	}
	if err := d.queue.Submit([]hal.CommandBuffer{cb}, d.fence, fence); err != nil {
		d.dev.FreeCommandBuffer(cb)
		r.destroyTransient()
		return fmt.Errorf("halvk: submit: %w", err)
	}
	d.submitted = fence
	d.inflight = append(d.inflight, submission{
		fence:     fence,
		cmd:       cb,
		readbacks: c.readbacks,
		transient: r.transient,
	})
	return nil
}

// reservePush returns the ring offset for n bytes of push constant data,
// waiting for the GPU when the ring has to wrap.
func (d *Device) reservePush(n uint64) (uint64, error) {
	if n == 0 {
		return d.pushHead, nil
	}
	if n > pushRingSize {
		return 0, fmt.Errorf("halvk: %d bytes of push constants in one submission: %w", n, driver.ErrUnsupported)
	}
	if d.pushHead+n > pushRingSize {
		if err := d.WaitFence(d.submitted); err != nil {
			return 0, err
		}
		d.pushHead = 0
	}
	base := d.pushHead
	d.pushHead += n
	return base, nil
}

// CompletedFence implements driver.Device.
func (d *Device) CompletedFence() uint64 {
	for _, s := range d.inflight {
		ok, err := d.dev.Wait(d.fence, s.fence, 0)
		if err != nil || !ok {
			break
		}
		d.retire(s.fence)
	}
	return d.completed
}

// WaitFence implements driver.Device.
func (d *Device) WaitFence(fence uint64) error {
	if fence <= d.completed {
		return nil
	}
	if fence > d.submitted {
		return fmt.Errorf("halvk: wait for unsubmitted fence %d", fence)
	}
	ok, err := d.dev.Wait(d.fence, fence, waitTimeout)
	if err != nil {
		return fmt.Errorf("halvk: wait for fence %d: %w: %w", fence, driver.ErrDeviceLost, err)
	}
	if !ok {
		return fmt.Errorf("halvk: fence %d timed out: %w", fence, driver.ErrDeviceLost)
	}
	return d.retire(fence)
}

// retire releases the submissions up to fence and reads back the buffers
// they wrote.
func (d *Device) retire(fence uint64) error {
	var firstErr error
	n := 0
	for _, s := range d.inflight {
		if s.fence > fence {
			break
		}
		n++
		for _, h := range s.readbacks {
			d.mu.Lock()
			b, ok := d.buffers[h]
			d.mu.Unlock()
			if !ok {
				continue
			}
			if err := d.queue.ReadBuffer(b.buf, 0, b.shadow); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("halvk: read back %q: %w", b.desc.Label, err)
			}
		}
		for _, bg := range s.transient {
			d.dev.DestroyBindGroup(bg)
		}
		d.dev.FreeCommandBuffer(s.cmd)
	}
	d.inflight = d.inflight[n:]
	d.completed = max(d.completed, fence)
	return firstErr
}

// Destroy implements driver.Device.
func (d *Device) Destroy() {
	if d.submitted > d.completed {
		_ = d.WaitFence(d.submitted)
	}
	d.mu.Lock()
	for h, p := range d.pools {
		d.freeSetsLocked(p)
		delete(d.pools, h)
	}
	for h, p := range d.pipelines {
		d.dev.DestroyRenderPipeline(p.p)
		delete(d.pipelines, h)
	}
	for h, l := range d.pipelineLayouts {
		d.dev.DestroyPipelineLayout(l.layout)
		delete(d.pipelineLayouts, h)
	}
	for h, l := range d.setLayouts {
		d.dev.DestroyBindGroupLayout(l.bgl)
		delete(d.setLayouts, h)
	}
	for h, sm := range d.shaders {
		d.dev.DestroyShaderModule(sm.mod)
		delete(d.shaders, h)
	}
	for h, s := range d.samplers {
		d.dev.DestroySampler(s)
		delete(d.samplers, h)
	}
	images := make([]driver.Image, 0, len(d.images))
	for h := range d.images {
		images = append(images, h)
	}
	buffers := make([]driver.Buffer, 0, len(d.buffers))
	for h := range d.buffers {
		buffers = append(buffers, h)
	}
	d.mu.Unlock()
	for _, h := range images {
		d.DestroyImage(h)
	}
	for _, h := range buffers {
		d.DestroyBuffer(h)
	}

	if d.blit != nil {
		d.blit.destroy()
		d.blit = nil
	}
	if d.pushGroup != nil {
		d.dev.DestroyBindGroup(d.pushGroup)
		d.pushGroup = nil
	}
	if d.pushBuf != nil {
		d.dev.DestroyBuffer(d.pushBuf)
		d.pushBuf = nil
	}
	if d.pushBGL != nil {
		d.dev.DestroyBindGroupLayout(d.pushBGL)
		d.pushBGL = nil
	}
	if d.fence != nil {
		d.dev.DestroyFence(d.fence)
		d.fence = nil
	}
	if d.owned {
		d.dev.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
		d.owned = false
	}
}
