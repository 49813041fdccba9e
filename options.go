package gsvk

import (
	"github.com/gogpu/gsvk/internal/logsrc"
	"github.com/gogpu/gsvk/internal/shadergen"
)

// Option configures a Device during creation.
//
// Example:
//
//	// Defaults: embedded shaders, no display, silent logging
//	dev, err := gsvk.New(ctx)
//
//	// Presenting to a window with 3x upscaling
//	dev, err := gsvk.New(ctx, gsvk.WithDisplay(win), gsvk.WithUpscale(3))
type Option func(*options)

// StreamSizes are the capacities of the transient ring buffers in bytes.
type StreamSizes struct {
	Texture   uint64
	Vertex    uint64
	Index     uint64
	VSUniform uint64
	PSUniform uint64
}

// DefaultStreamSizes returns the production ring buffer sizes.
func DefaultStreamSizes() StreamSizes {
	return StreamSizes{
		Texture:   64 << 20,
		Vertex:    32 << 20,
		Index:     16 << 20,
		VSUniform: 8 << 20,
		PSUniform: 8 << 20,
	}
}

type options struct {
	cfg     Config
	log     *logsrc.Source
	sources shadergen.SourceProvider
	display Display
	streams StreamSizes
}

func defaultOptions() options {
	return options{
		cfg:     DefaultConfig(),
		sources: nil, // embedded, or ShaderDir over embedded
		streams: DefaultStreamSizes(),
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogSource attaches the device's GS source tree under parent, so it
// inherits the parent's level and sink.
//
// Example:
//
//	root := logsrc.New("Emu", logsrc.StyleGeneral, nil)
//	root.SetSink(logsrc.NewConsoleSink(os.Stderr))
//	dev, err := gsvk.New(ctx, gsvk.WithLogSource(root))
func WithLogSource(parent *logsrc.Source) Option {
	return func(o *options) {
		o.log = parent
	}
}

// WithShaderSources sets the provider of the shared shader sources.
func WithShaderSources(p shadergen.SourceProvider) Option {
	return func(o *options) {
		o.sources = p
	}
}

// WithDisplay sets the presentation surface. Without one, StretchRect to a
// nil destination and BeginPresent fail.
func WithDisplay(d Display) Option {
	return func(o *options) {
		o.display = d
	}
}

// WithUpscale sets Config.UpscaleMultiplier.
func WithUpscale(multiplier float32) Option {
	return func(o *options) {
		o.cfg.UpscaleMultiplier = multiplier
	}
}

// WithMipmap sets Config.Mipmap.
func WithMipmap(mode int) Option {
	return func(o *options) {
		o.cfg.Mipmap = mode
	}
}

// WithDebug sets Config.Debug.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.cfg.Debug = debug
	}
}

// WithPipelineCachePath sets Config.PipelineCachePath.
func WithPipelineCachePath(path string) Option {
	return func(o *options) {
		o.cfg.PipelineCachePath = path
	}
}

// WithStreamSizes overrides the transient ring buffer capacities. Zero
// fields keep their defaults.
func WithStreamSizes(s StreamSizes) Option {
	return func(o *options) {
		def := DefaultStreamSizes()
		o.streams = StreamSizes{
			Texture:   pick(s.Texture, def.Texture),
			Vertex:    pick(s.Vertex, def.Vertex),
			Index:     pick(s.Index, def.Index),
			VSUniform: pick(s.VSUniform, def.VSUniform),
			PSUniform: pick(s.PSUniform, def.PSUniform),
		}
	}
}

func pick(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}
