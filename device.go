package gsvk

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"sync"

	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/logsrc"
	"github.com/gogpu/gsvk/internal/selector"
	"github.com/gogpu/gsvk/internal/shadergen"
	"github.com/gogpu/gsvk/internal/stream"
)

const (
	// copyPitchAlignment is the row pitch of buffer/image copies.
	copyPitchAlignment = 256

	// readbackBaseSize is the native edge of the readback staging area,
	// scaled by the upscale multiplier.
	readbackBaseSize = 1280
)

// Display is the host presentation surface.
type Display interface {
	WindowSize() (int, int)
	SurfaceFormat() driver.Format
	// AcquireFramebuffer returns the surface image of the next frame and a
	// framebuffer compatible with rp.
	AcquireFramebuffer(rp driver.RenderPass) (driver.Image, driver.Framebuffer, error)
	Present() error
}

// transientBuffer is the ring allocator as seen by the device.
type transientBuffer interface {
	Buffer() driver.Buffer
	Size() uint64
	CurrentOffset() uint64
	CurrentSpace() uint64
	CurrentHostPointer() []byte
	ReserveMemory(size, alignment uint64) bool
	CommitMemory(size uint64)
	Destroy()
}

var _ transientBuffer = (*stream.Buffer)(nil)

// Stats counts the work done by a Device.
type Stats struct {
	DrawCalls int
	Readbacks int
	Flushes   int
	Uploads   int
	Pipelines int
	Shaders   int
	Textures  int
}

// Device composes the caches, the state tracker and the texture arena into
// the operations the GS renderer issues. A Device is driven by a single
// recording goroutine; only the shader and pipeline caches may be queried
// concurrently.
type Device struct {
	ctx      driver.FrameContext
	dev      driver.Device
	features driver.Features
	cfg      Config
	display  Display
	log      *logTree

	textures    arena
	links       linkCache
	pool        surfacePool
	nullTexture *Texture

	tfxSource       string
	convertSource   string
	mergeSource     string
	interlaceSource string

	rpMu            sync.Mutex
	renderPasses    map[driver.RenderPassDesc]driver.RenderPass
	renderPassDescs map[driver.RenderPass]driver.RenderPassDesc

	samplerMu sync.Mutex
	samplers  map[uint32]driver.Sampler

	vsCache        handleCache[uint32, driver.ShaderModule]
	gsCache        handleCache[uint32, driver.ShaderModule]
	psCache        handleCache[uint64, driver.ShaderModule]
	pipelines      handleCache[selector.PipelineKey, driver.Pipeline]
	utilityModules []driver.ShaderModule
	gsWarning      sync.Once

	tfxSetLayouts    [3]driver.SetLayout
	tfxLayout        driver.PipelineLayout
	utilitySetLayout driver.SetLayout
	utilityLayout    driver.PipelineLayout

	convert   [ShaderConvertCount]driver.Pipeline
	present   [ShaderConvertCount]driver.Pipeline
	colorCopy [16]driver.Pipeline
	merge     [2]driver.Pipeline
	interlace [4]driver.Pipeline

	dateSetupPass driver.RenderPass

	texStream    transientBuffer
	vertexStream transientBuffer
	indexStream  transientBuffer
	vsStream     transientBuffer
	psStream     transientBuffer
	streamSizes  StreamSizes

	readback       driver.Buffer
	readbackMapped []byte
	readbackSize   uint64

	pointSampler  driver.Sampler
	linearSampler driver.Sampler

	vertex geometry
	index  geometry

	presenting   bool
	presentImage driver.Image
	presentFB    driver.Framebuffer
	presentSeen  map[driver.Image]bool

	state

	frame     uint64
	stats     Stats
	destroyed bool
}

// geometry is the range of the last vertex or index upload, in elements.
type geometry struct {
	start uint32
	count uint32
}

// New creates a device over ctx. Every failure wraps ErrInitFailed.
func New(ctx driver.FrameContext, opts ...Option) (*Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	level, _ := logsrc.ParseLevel(o.cfg.LogLevel)

	dev := ctx.Device()
	d := &Device{
		ctx:             ctx,
		dev:             dev,
		features:        dev.Features(),
		cfg:             o.cfg,
		display:         o.display,
		log:             newLogTree(o.log, level),
		links:           newLinkCache(),
		renderPasses:    make(map[driver.RenderPassDesc]driver.RenderPass),
		renderPassDescs: make(map[driver.RenderPass]driver.RenderPassDesc),
		samplers:        make(map[uint32]driver.Sampler),
		streamSizes:     o.streams,
	}

	steps := []struct {
		name string
		fn   func(*options) error
	}{
		{"load shader sources", d.loadShaderSources},
		{"create null texture", d.createNullTexture},
		{"create pipeline layouts", d.createPipelineLayouts},
		{"create render passes", d.createRenderPasses},
		{"create stream buffers", d.createStreamBuffers},
		{"compile utility pipelines", d.compileUtilityPipelines},
		{"create persistent descriptor sets", d.createPersistentDescriptorSets},
		{"create readback buffer", d.createReadbackBuffer},
		{"initialize state", d.initState},
	}
	for _, s := range steps {
		if err := s.fn(&o); err != nil {
			d.log.gs.Errorf("Failed to %s: %v", s.name, err)
			d.release()
			return nil, fmt.Errorf("%w: %s: %w", ErrInitFailed, s.name, err)
		}
	}

	if path := d.cfg.PipelineCachePath; path != "" {
		switch err := d.LoadPipelineCache(path); {
		case errors.Is(err, ErrPipelineCacheMismatch), errors.Is(err, fs.ErrNotExist):
			d.log.vk.Infof("Starting with an empty pipeline cache: %v", err)
		case err != nil:
			d.log.vk.Warningf("Pipeline cache not loaded: %v", err)
		}
	}
	d.log.gs.Infof("Device ready on %s driver", dev.Name())
	return d, nil
}

func (d *Device) loadShaderSources(o *options) error {
	p := o.sources
	if p == nil {
		p = shadergen.Embedded()
		if d.cfg.ShaderDir != "" {
			p = shadergen.DirProvider{Dir: d.cfg.ShaderDir, Fallback: p}
		}
	}
	dst := map[string]*string{
		shadergen.TFXSource:       &d.tfxSource,
		shadergen.ConvertSource:   &d.convertSource,
		shadergen.MergeSource:     &d.mergeSource,
		shadergen.InterlaceSource: &d.interlaceSource,
	}
	for _, name := range shadergen.Sources {
		src, ok := p.ReadResourceFileToString(name)
		if !ok {
			return fmt.Errorf("shader source %s not found", name)
		}
		*dst[name] = src
	}
	return nil
}

func (d *Device) createNullTexture(*options) error {
	t := d.createTexture(SurfaceTexture, 1, 1, 1, driver.FormatRGBA8)
	if t == nil {
		return fmt.Errorf("null texture rejected by the driver")
	}
	t.TransitionToLayout(driver.LayoutTransferDst)
	d.ctx.CommandBuffer().ClearColorImage(t.image, [4]float32{})
	t.TransitionToLayout(driver.LayoutShaderReadOnly)
	d.nullTexture = t
	return nil
}

func (d *Device) createStreamBuffers(*options) error {
	s := d.streamSizes
	specs := []struct {
		dst   *transientBuffer
		label string
		usage driver.BufferUsage
		size  uint64
	}{
		{&d.texStream, "texture upload", driver.BufferUsageTransferSrc, s.Texture},
		{&d.vertexStream, "vertex", driver.BufferUsageVertex, s.Vertex},
		{&d.indexStream, "index", driver.BufferUsageIndex, s.Index},
		{&d.vsStream, "vs uniform", driver.BufferUsageUniform, s.VSUniform},
		{&d.psStream, "ps uniform", driver.BufferUsageUniform, s.PSUniform},
	}
	for _, sp := range specs {
		b, err := stream.Create(d.dev, d.ctx, sp.label, sp.usage, sp.size)
		if err != nil {
			return err
		}
		*sp.dst = b
	}
	return nil
}

func (d *Device) createReadbackBuffer(*options) error {
	n := uint64(float32(readbackBaseSize) * d.cfg.upscale())
	size := n * n * 4
	buf, err := d.dev.CreateBuffer(&driver.BufferDesc{Label: "readback", Size: size, Usage: driver.BufferUsageTransferDst})
	if err != nil {
		return err
	}
	d.readback, d.readbackSize = buf, size
	d.readbackMapped = d.dev.MapBuffer(buf)
	if uint64(len(d.readbackMapped)) < size {
		return fmt.Errorf("readback buffer: %w", ErrNotMappable)
	}
	return nil
}

func (d *Device) initState(*options) error {
	d.pointSampler = d.GetSampler(selector.PointSampler)
	d.linearSampler = d.GetSampler(selector.LinearSampler)
	if d.pointSampler == 0 || d.linearSampler == 0 {
		return fmt.Errorf("default samplers rejected by the driver")
	}
	d.vb, d.ib = d.vertexStream.Buffer(), d.indexStream.Buffer()
	for i := range d.tfxTextures {
		d.tfxTextures[i] = d.nullTexture
	}
	pointKey := selector.PointSampler.Key()
	for i := range d.tfxSamplers {
		d.tfxSamplerKeys[i], d.tfxSamplers[i] = pointKey, d.pointSampler
	}
	d.utilityTexture, d.utilitySampler = d.nullTexture, d.pointSampler
	d.InvalidateCachedState()
	return nil
}

// Features returns the capabilities of the underlying driver.
func (d *Device) Features() driver.Features { return d.features }

// Config returns the active configuration.
func (d *Device) Config() Config { return d.cfg }

// Frame returns the number of frames presented so far.
func (d *Device) Frame() uint64 { return d.frame }

// Stats returns the work counters.
func (d *Device) Stats() Stats {
	s := d.stats
	s.Pipelines = d.pipelines.len()
	s.Shaders = d.vsCache.len() + d.gsCache.len() + d.psCache.len()
	s.Textures = d.textures.live
	return s
}

// Texture returns the live texture addressed by h, or nil.
func (d *Device) Texture(h TextureHandle) *Texture { return d.textures.get(h) }

// ExecuteCommandBuffer submits the current command buffer and invalidates
// the cached binding state. A non-empty reason is logged as a warning, since
// a forced flush mid-frame costs GPU overlap.
func (d *Device) ExecuteCommandBuffer(wait bool, reason string, args ...any) {
	if reason != "" {
		d.log.vk.Warningf("Executing command buffer: %s", fmt.Sprintf(reason, args...))
	}
	d.EndRenderPass()
	if err := d.ctx.Submit(wait); err != nil {
		d.fatalf("command buffer submission failed: %v", err)
	}
	d.stats.Flushes++
	d.InvalidateCachedState()
}

// ExecuteCommandBufferAndRestartRenderPass flushes and then reopens the
// render pass that was open, with its contents loaded, over the same area.
// Base state is recorded again right away; descriptor sets are rebuilt
// lazily.
func (d *Device) ExecuteCommandBufferAndRestartRenderPass(reason string, args ...any) {
	rp, area := d.renderPass, d.renderArea
	d.ExecuteCommandBuffer(false, reason, args...)
	if rp == 0 {
		return
	}
	d.BeginRenderPass(d.restartRenderPass(rp), area)
	if d.pipeline != 0 {
		d.applyBaseState(d.ctx.CommandBuffer())
	}
}

// upload is a region of upload memory.
type upload struct {
	buf    driver.Buffer
	offset uint64
	bits   []byte
	commit func()
}

// reserveUpload reserves size bytes of the texture ring.
func (d *Device) reserveUpload(size uint64) {
	d.reserveStream(d.texStream, size, copyPitchAlignment, "texture upload")
}

// allocateUpload returns upload memory for size bytes. Uploads larger than
// half the ring get a dedicated staging buffer.
func (d *Device) allocateUpload(size int) upload {
	n := uint64(size) //nolint:gosec // non-negative
	if n > d.texStream.Size()/2 {
		buf, err := d.dev.CreateBuffer(&driver.BufferDesc{Label: "upload staging", Size: n, Usage: driver.BufferUsageTransferSrc})
		if err != nil {
			d.fatalf("failed to allocate %d byte upload staging buffer: %v", n, err)
		}
		dev := d.dev
		d.ctx.DeferDestroy(func() { dev.DestroyBuffer(buf) })
		return upload{
			buf:    buf,
			bits:   dev.MapBuffer(buf)[:n],
			commit: func() { dev.FlushBuffer(buf, 0, n) },
		}
	}
	d.reserveUpload(n)
	return upload{
		buf:    d.texStream.Buffer(),
		offset: d.texStream.CurrentOffset(),
		bits:   d.texStream.CurrentHostPointer()[:n],
		commit: func() { d.texStream.CommitMemory(n) },
	}
}

func (d *Device) deferDestroyFramebuffer(fb driver.Framebuffer) {
	dev := d.dev
	d.ctx.DeferDestroy(func() { dev.DestroyFramebuffer(fb) })
}

// createTexture allocates a texture and registers it in the arena. A driver
// rejection is logged and returns nil.
func (d *Device) createTexture(typ SurfaceType, w, h int, levels uint32, format driver.Format) *Texture {
	img, err := d.dev.CreateImage(&driver.ImageDesc{
		Label:  typ.String(),
		Width:  uint32(w), //nolint:gosec // clamped by callers
		Height: uint32(h), //nolint:gosec // clamped by callers
		Levels: levels,
		Layers: 1,
		Format: format,
		Usage:  typ.usage(),
	})
	if err != nil {
		d.log.texture.Errorf("Failed to create %dx%d %s %s with %d levels: %v", w, h, format, typ, levels, err)
		return nil
	}
	t := &Texture{
		dev:           d,
		typ:           typ,
		image:         img,
		width:         w,
		height:        h,
		levels:        levels,
		layers:        1,
		format:        format,
		layout:        driver.LayoutUndefined,
		LastFrameUsed: d.frame,
	}
	t.handle = d.textures.insert(t)
	return t
}

// linkedFramebuffer returns the cached color+depth framebuffer of the pair.
func (d *Device) linkedFramebuffer(color, depth *Texture) driver.Framebuffer {
	if depth == nil {
		return color.Framebuffer()
	}
	if fb, ok := d.links.get(color.handle, depth.handle); ok {
		return fb
	}
	rp := d.GetRenderPass(color.format, depth.format, driver.LoadOpLoad)
	if rp == 0 {
		return 0
	}
	fb, err := d.dev.CreateFramebuffer(&driver.FramebufferDesc{
		RenderPass: rp,
		Color:      color.image,
		Depth:      depth.image,
		Width:      uint32(min(color.width, depth.width)),   //nolint:gosec // clamped at creation
		Height:     uint32(min(color.height, depth.height)), //nolint:gosec // clamped at creation
	})
	if err != nil {
		d.log.texture.Errorf("Failed to link %s with %s: %v", color.handle, depth.handle, err)
		return 0
	}
	d.links.put(color.handle, depth.handle, fb)
	return fb
}

// Destroy saves the pipeline cache when configured, waits for the GPU and
// releases every object the device created. Textures still held by callers
// are destroyed too. The frame context is left to its owner.
func (d *Device) Destroy() {
	if d.destroyed {
		return
	}
	d.EndRenderPass()
	if path := d.cfg.PipelineCachePath; path != "" {
		if err := d.SavePipelineCache(path); err != nil {
			d.log.vk.Warningf("Failed to save pipeline cache: %v", err)
		}
	}
	for _, t := range d.textures.textures() {
		t.Destroy()
	}
	d.ExecuteCommandBuffer(true, "")
	if err := d.ctx.WaitForGPUIdle(); err != nil {
		d.log.vk.Errorf("Wait for GPU idle failed: %v", err)
	}
	d.release()
	d.log.gs.Infof("Device destroyed")
}

// release destroys the device-owned objects that exist. It is also the
// cleanup path of a failed New.
func (d *Device) release() {
	d.destroyed = true
	dev := d.dev
	for _, t := range d.textures.textures() {
		dev.DestroyImage(t.image)
		d.textures.remove(t.handle)
		t.image, t.destroyed = 0, true
	}
	for _, p := range d.pipelines.values() {
		if p != 0 {
			dev.DestroyPipeline(p)
		}
	}
	for _, group := range [][]driver.Pipeline{d.convert[:], d.present[:], d.colorCopy[:], d.merge[:], d.interlace[:]} {
		for i, p := range group {
			if p != 0 {
				dev.DestroyPipeline(p)
				group[i] = 0
			}
		}
	}
	for _, m := range d.vsCache.values() {
		destroyShader(dev, m)
	}
	for _, m := range d.gsCache.values() {
		destroyShader(dev, m)
	}
	for _, m := range d.psCache.values() {
		destroyShader(dev, m)
	}
	for _, m := range d.utilityModules {
		destroyShader(dev, m)
	}
	d.utilityModules = nil

	d.samplerMu.Lock()
	for _, s := range d.samplers {
		dev.DestroySampler(s)
	}
	clear(d.samplers)
	d.samplerMu.Unlock()

	d.rpMu.Lock()
	for _, rp := range d.renderPasses {
		dev.DestroyRenderPass(rp)
	}
	clear(d.renderPasses)
	clear(d.renderPassDescs)
	d.rpMu.Unlock()

	if d.tfxLayout != 0 {
		dev.DestroyPipelineLayout(d.tfxLayout)
	}
	if d.utilityLayout != 0 {
		dev.DestroyPipelineLayout(d.utilityLayout)
	}
	for _, l := range append(d.tfxSetLayouts[:], d.utilitySetLayout) {
		if l != 0 {
			dev.DestroySetLayout(l)
		}
	}
	for _, s := range []transientBuffer{d.texStream, d.vertexStream, d.indexStream, d.vsStream, d.psStream} {
		if s != nil {
			s.Destroy()
		}
	}
	if d.readback != 0 {
		dev.DestroyBuffer(d.readback)
		d.readback, d.readbackMapped = 0, nil
	}
}

func destroyShader(dev driver.Device, m driver.ShaderModule) {
	if m != 0 {
		dev.DestroyShaderModule(m)
	}
}

// fullRect returns the extent of a w×h target.
func fullRect(w, h int) image.Rectangle { return image.Rect(0, 0, w, h) }
