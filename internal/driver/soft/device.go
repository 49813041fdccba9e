// Package soft implements driver.Device on the CPU.
//
// Command buffers record closures that run at Submit time, so fences are
// complete as soon as Submit returns. Shader modules are validated for their
// entry point and their integer constants are parsed; the behaviour of each
// program is then provided by a Go function looked up by module label and
// entry point. The device is a reference for tests and offline tools, not
// an emulator of any particular GPU.
package soft

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/gogpu/gsvk/internal/driver"
)

// Config configures a soft device.
type Config struct {
	// MaxImageDimension2D limits image width and height. Zero means 8192.
	MaxImageDimension2D uint32
	// NoImageCopy hides the CopyImage capability.
	NoImageCopy bool
}

// Stats counts work performed by the device.
type Stats struct {
	Submits       int
	Draws         int
	PixelsShaded  int
	ShadersBuilt  int
	PipelinesMade int
}

type buffer struct {
	desc driver.BufferDesc
	data []byte
}

type shaderModule struct {
	desc   driver.ShaderModuleDesc
	consts map[string]int
}

type pipelineLayout struct {
	desc driver.PipelineLayoutDesc
}

type pipeline struct {
	desc driver.PipelineDesc
	vs   *shaderModule
	fs   *shaderModule
	prog program
}

type descriptorPool struct {
	max  uint32
	used uint32
	sets []driver.DescriptorSet
}

type descriptorSet struct {
	layout driver.SetLayoutDesc
	writes map[uint32]driver.DescriptorWrite
}

// Device is a CPU implementation of driver.Device.
type Device struct {
	mu sync.Mutex

	next     uint64
	features driver.Features

	images          map[driver.Image]*softImage
	buffers         map[driver.Buffer]*buffer
	renderPasses    map[driver.RenderPass]driver.RenderPassDesc
	framebuffers    map[driver.Framebuffer]driver.FramebufferDesc
	shaders         map[driver.ShaderModule]*shaderModule
	setLayouts      map[driver.SetLayout]driver.SetLayoutDesc
	pipelineLayouts map[driver.PipelineLayout]*pipelineLayout
	pipelines       map[driver.Pipeline]*pipeline
	samplers        map[driver.Sampler]driver.SamplerDesc
	pools           map[driver.DescriptorPool]*descriptorPool
	sets            map[driver.DescriptorSet]*descriptorSet

	completed uint64
	cacheBlob []byte
	stats     Stats
}

var _ driver.Device = (*Device)(nil)

// New creates a soft device.
func New(cfg Config) *Device {
	maxDim := cfg.MaxImageDimension2D
	if maxDim == 0 {
		maxDim = 8192
	}
	return &Device{
		features: driver.Features{
			ImageCopy:           !cfg.NoImageCopy,
			Blit:                true,
			GeometryShader:      false,
			MaxImageDimension2D: maxDim,
			UniformAlignment:    256,
		},
		images:          make(map[driver.Image]*softImage),
		buffers:         make(map[driver.Buffer]*buffer),
		renderPasses:    make(map[driver.RenderPass]driver.RenderPassDesc),
		framebuffers:    make(map[driver.Framebuffer]driver.FramebufferDesc),
		shaders:         make(map[driver.ShaderModule]*shaderModule),
		setLayouts:      make(map[driver.SetLayout]driver.SetLayoutDesc),
		pipelineLayouts: make(map[driver.PipelineLayout]*pipelineLayout),
		pipelines:       make(map[driver.Pipeline]*pipeline),
		samplers:        make(map[driver.Sampler]driver.SamplerDesc),
		pools:           make(map[driver.DescriptorPool]*descriptorPool),
		sets:            make(map[driver.DescriptorSet]*descriptorSet),
	}
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

// Name implements driver.Device.
func (d *Device) Name() string { return "soft" }

// Features implements driver.Device.
func (d *Device) Features() driver.Features { return d.features }

// Stats returns a snapshot of the work counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// CreateImage implements driver.Device.
func (d *Device) CreateImage(desc *driver.ImageDesc) (driver.Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return 0, fmt.Errorf("soft: image %q has zero size", desc.Label)
	}
	if desc.Width > d.features.MaxImageDimension2D || desc.Height > d.features.MaxImageDimension2D {
		return 0, fmt.Errorf("soft: image %q %dx%d exceeds limit %d",
			desc.Label, desc.Width, desc.Height, d.features.MaxImageDimension2D)
	}
	if desc.Format == driver.FormatUndefined {
		return 0, fmt.Errorf("soft: image %q has no format", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Image(d.handle())
	d.images[h] = newSoftImage(desc)
	return h, nil
}

// DestroyImage implements driver.Device.
func (d *Device) DestroyImage(img driver.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.images, img)
}

// ImageCount returns the number of live images.
func (d *Device) ImageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.images)
}

// CreateBuffer implements driver.Device.
func (d *Device) CreateBuffer(desc *driver.BufferDesc) (driver.Buffer, error) {
	if desc.Size == 0 {
		return 0, fmt.Errorf("soft: buffer %q has zero size", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Buffer(d.handle())
	d.buffers[h] = &buffer{desc: *desc, data: make([]byte, desc.Size)}
	return h, nil
}

// DestroyBuffer implements driver.Device.
func (d *Device) DestroyBuffer(buf driver.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, buf)
}

// MapBuffer implements driver.Device.
func (d *Device) MapBuffer(buf driver.Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[buf]; ok {
		return b.data
	}
	return nil
}

// FlushBuffer implements driver.Device. Host writes are already visible.
func (d *Device) FlushBuffer(driver.Buffer, uint64, uint64) {}

// CreateRenderPass implements driver.Device.
func (d *Device) CreateRenderPass(desc *driver.RenderPassDesc) (driver.RenderPass, error) {
	if desc.ColorFormat == driver.FormatUndefined && desc.DepthFormat == driver.FormatUndefined {
		return 0, fmt.Errorf("soft: render pass without attachments")
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
		return 0, fmt.Errorf("soft: framebuffer: %w", driver.ErrInvalidHandle)
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

// FramebufferCount returns the number of live framebuffers.
func (d *Device) FramebufferCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.framebuffers)
}

var constRe = regexp.MustCompile(`(?m)^\s*const\s+([A-Z_][A-Z0-9_]*)\s*:\s*i32\s*=\s*(-?\d+)\s*;`)

// CreateShaderModule implements driver.Device.
func (d *Device) CreateShaderModule(desc *driver.ShaderModuleDesc) (driver.ShaderModule, error) {
	entry := regexp.MustCompile(`\bfn\s+` + regexp.QuoteMeta(desc.Entry) + `\s*\(`)
	if !entry.MatchString(desc.Source) {
		return 0, fmt.Errorf("soft: shader %q has no entry point %q", desc.Label, desc.Entry)
	}
	if strings.Count(desc.Source, "{") != strings.Count(desc.Source, "}") {
		return 0, fmt.Errorf("soft: shader %q has unbalanced braces", desc.Label)
	}
	consts := make(map[string]int)
	for _, m := range constRe.FindAllStringSubmatch(desc.Source, -1) {
		v, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, fmt.Errorf("soft: shader %q const %s: %w", desc.Label, m[1], err)
		}
		consts[m[1]] = v
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.ShaderModule(d.handle())
	d.shaders[h] = &shaderModule{desc: *desc, consts: consts}
	d.stats.ShadersBuilt++
	return h, nil
}

// DestroyShaderModule implements driver.Device.
func (d *Device) DestroyShaderModule(sm driver.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.shaders, sm)
}

// CreateSetLayout implements driver.Device.
func (d *Device) CreateSetLayout(desc *driver.SetLayoutDesc) (driver.SetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.SetLayout(d.handle())
	d.setLayouts[h] = *desc
	return h, nil
}

// DestroySetLayout implements driver.Device.
func (d *Device) DestroySetLayout(l driver.SetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.setLayouts, l)
}

// CreatePipelineLayout implements driver.Device.
func (d *Device) CreatePipelineLayout(desc *driver.PipelineLayoutDesc) (driver.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sl := range desc.SetLayouts {
		if _, ok := d.setLayouts[sl]; !ok {
			return 0, fmt.Errorf("soft: pipeline layout %q: %w", desc.Label, driver.ErrInvalidHandle)
		}
	}
	h := driver.PipelineLayout(d.handle())
	d.pipelineLayouts[h] = &pipelineLayout{desc: *desc}
	return h, nil
}

// DestroyPipelineLayout implements driver.Device.
func (d *Device) DestroyPipelineLayout(l driver.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelineLayouts, l)
}

// CreatePipeline implements driver.Device.
func (d *Device) CreatePipeline(desc *driver.PipelineDesc) (driver.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vs, ok := d.shaders[desc.VS]
	if !ok {
		return 0, fmt.Errorf("soft: pipeline %q: vertex shader: %w", desc.Label, driver.ErrInvalidHandle)
	}
	fs, ok := d.shaders[desc.FS]
	if !ok {
		return 0, fmt.Errorf("soft: pipeline %q: fragment shader: %w", desc.Label, driver.ErrInvalidHandle)
	}
	if desc.GS != 0 {
		return 0, fmt.Errorf("soft: pipeline %q: geometry shaders: %w", desc.Label, driver.ErrUnsupported)
	}
	if _, ok := d.renderPasses[desc.RenderPass]; !ok {
		return 0, fmt.Errorf("soft: pipeline %q: render pass: %w", desc.Label, driver.ErrInvalidHandle)
	}
	prog, err := lookupProgram(vs, fs)
	if err != nil {
		return 0, fmt.Errorf("soft: pipeline %q: %w", desc.Label, err)
	}
	p := &pipeline{desc: *desc, vs: vs, fs: fs, prog: prog}
	p.desc.Attributes = append([]driver.VertexAttribute(nil), desc.Attributes...)
	h := driver.Pipeline(d.handle())
	d.pipelines[h] = p
	d.stats.PipelinesMade++
	return h, nil
}

// DestroyPipeline implements driver.Device.
func (d *Device) DestroyPipeline(p driver.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, p)
}

// CreateSampler implements driver.Device.
func (d *Device) CreateSampler(desc *driver.SamplerDesc) (driver.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Sampler(d.handle())
	d.samplers[h] = *desc
	return h, nil
}

// DestroySampler implements driver.Device.
func (d *Device) DestroySampler(s driver.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.samplers, s)
}

// CreateDescriptorPool implements driver.Device.
func (d *Device) CreateDescriptorPool(maxSets uint32) (driver.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.DescriptorPool(d.handle())
	d.pools[h] = &descriptorPool{max: maxSets}
	return h, nil
}

// ResetDescriptorPool implements driver.Device.
func (d *Device) ResetDescriptorPool(pool driver.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return
	}
	for _, s := range p.sets {
		delete(d.sets, s)
	}
	p.sets = p.sets[:0]
	p.used = 0
}

// DestroyDescriptorPool implements driver.Device.
func (d *Device) DestroyDescriptorPool(pool driver.DescriptorPool) {
	d.ResetDescriptorPool(pool)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pools, pool)
}

// AllocateDescriptorSet implements driver.Device.
func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPool, layout driver.SetLayout, writes []driver.DescriptorWrite) (driver.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return 0, fmt.Errorf("soft: descriptor pool: %w", driver.ErrInvalidHandle)
	}
	ld, ok := d.setLayouts[layout]
	if !ok {
		return 0, fmt.Errorf("soft: set layout: %w", driver.ErrInvalidHandle)
	}
	if p.used >= p.max {
		return 0, driver.ErrOutOfPoolMemory
	}
	p.used++
	s := &descriptorSet{layout: ld, writes: make(map[uint32]driver.DescriptorWrite, len(writes))}
	for _, w := range writes {
		s.writes[w.Binding] = w
	}
	h := driver.DescriptorSet(d.handle())
	d.sets[h] = s
	p.sets = append(p.sets, h)
	return h, nil
}

// PipelineCacheData implements driver.Device.
func (d *Device) PipelineCacheData() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.cacheBlob...)
}

// SetPipelineCacheData implements driver.Device.
func (d *Device) SetPipelineCacheData(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cacheBlob = append([]byte(nil), data...)
	return nil
}

// NewCommandBuffer implements driver.Device.
func (d *Device) NewCommandBuffer() driver.CommandBuffer {
	return &CommandBuffer{}
}

// Submit implements driver.Device. The commands execute immediately.
func (d *Device) Submit(cmd driver.CommandBuffer, fence uint64) error {
	cb, ok := cmd.(*CommandBuffer)
	if !ok {
		return fmt.Errorf("soft: foreign command buffer %T", cmd)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e := &executor{dev: d}
	for _, op := range cb.ops {
		op(e)
	}
	cb.ops = nil
	d.stats.Submits++
	if fence > d.completed {
		d.completed = fence
	}
	return nil
}

// CompletedFence implements driver.Device.
func (d *Device) CompletedFence() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

// WaitFence implements driver.Device.
func (d *Device) WaitFence(fence uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fence > d.completed {
		return fmt.Errorf("soft: fence %d was never submitted", fence)
	}
	return nil
}

// Destroy implements driver.Device.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.images)
	clear(d.buffers)
	clear(d.framebuffers)
	clear(d.pipelines)
}
