// Package selector defines the bit-packed keys that select shaders,
// pipelines and samplers.
//
// Each selector is a plain struct of small fields. Key packs the fields into
// an integer in a fixed order; caches are keyed on those raw bits, so two
// selectors with identical fields always map to the same cache entry.
package selector

import "github.com/gogpu/gsvk/internal/driver"

type packer struct {
	v     uint64
	shift uint
}

func (p *packer) put(x uint64, width uint) {
	p.v |= (x & (1<<width - 1)) << p.shift
	p.shift += width
}

func (p *packer) bit(b bool) {
	if b {
		p.put(1, 1)
	} else {
		p.put(0, 1)
	}
}

type unpacker struct {
	v     uint64
	shift uint
}

func (u *unpacker) get(width uint) uint64 {
	x := (u.v >> u.shift) & (1<<width - 1)
	u.shift += width
	return x
}

func (u *unpacker) u8(width uint) uint8 { return uint8(u.get(width)) } //nolint:gosec // width <= 8
func (u *unpacker) bit() bool { return u.get(1) != 0 }

// VS selects a vertex shader variant.
type VS struct {
	TME   bool // texture mapping enabled
	FST   bool // fixed (non-perspective) texture coordinates
	Point bool // point primitive
}

// Key packs the selector.
func (s VS) Key() uint32 {
	var p packer
	p.bit(s.TME)
	p.bit(s.FST)
	p.bit(s.Point)
	return uint32(p.v)
}

// VSFromKey unpacks a key produced by VS.Key.
func VSFromKey(k uint32) VS {
	u := unpacker{v: uint64(k)}
	return VS{TME: u.bit(), FST: u.bit(), Point: u.bit()}
}

// Primitive classes of GS.Prim.
const (
	PrimPoint    = 0
	PrimLine     = 1
	PrimTriangle = 2
	PrimSprite   = 3
)

// GS selects a geometry shader variant.
type GS struct {
	IIP       bool  // Gouraud shading; flat when false
	Prim      uint8 // 2 bits, one of Prim*
	Point     bool  // expand unscaled points
	Line      bool  // expand unscaled lines
	CPUSprite bool  // sprites already expanded on the CPU
}

// Key packs the selector.
func (s GS) Key() uint32 {
	var p packer
	p.bit(s.IIP)
	p.put(uint64(s.Prim), 2)
	p.bit(s.Point)
	p.bit(s.Line)
	p.bit(s.CPUSprite)
	return uint32(p.v)
}

// GSFromKey unpacks a key produced by GS.Key.
func GSFromKey(k uint32) GS {
	u := unpacker{v: uint64(k)}
	return GS{IIP: u.bit(), Prim: u.u8(2), Point: u.bit(), Line: u.bit(), CPUSprite: u.bit()}
}

// IsNeeded reports whether a geometry stage is required: for flat-shaded
// or sprite primitives that the CPU did not already expand, and for
// unscaled point/line expansion. Every caller that decides whether a
// geometry shader exists must use this predicate.
func (s GS) IsNeeded() bool {
	unscalePtLn := s.Point || s.Line
	return (s.Prim > 0 && !s.CPUSprite && (!s.IIP || s.Prim == PrimSprite)) || unscalePtLn
}

// PS selects a fragment shader variant.
type PS struct {
	FMT             uint8 // 4 bits: texture format, palette format in the top two
	DFMT            uint8 // 2 bits: destination format
	DepthFMT        uint8 // 2 bits: depth format when sampling depth
	AEM             bool
	FBA             bool
	Fog             bool
	ATST            uint8 // 3 bits: alpha test
	FST             bool
	TFX             uint8 // 3 bits: texture function
	TCC             bool
	WMS             uint8 // 2 bits
	WMT             uint8 // 2 bits
	LTF             bool
	Shuffle         bool
	ReadBA          bool
	FBMask          bool
	HDR             bool
	BlendA          uint8 // 2 bits
	BlendB          uint8 // 2 bits
	BlendC          uint8 // 2 bits
	BlendD          uint8 // 2 bits
	CLR1            bool
	Colclip         bool
	PABE            bool
	Channel         uint8 // 3 bits
	Dither          uint8 // 2 bits
	ZClamp          bool
	TCOffsetHack    bool
	UrbanChaosHLE   bool
	TalesOfAbyssHLE bool
	PointSampler    bool
	InvalidTex0     bool
}

// Key packs the selector.
func (s PS) Key() uint64 {
	var p packer
	p.put(uint64(s.FMT), 4)
	p.put(uint64(s.DFMT), 2)
	p.put(uint64(s.DepthFMT), 2)
	p.bit(s.AEM)
	p.bit(s.FBA)
	p.bit(s.Fog)
	p.put(uint64(s.ATST), 3)
	p.bit(s.FST)
	p.put(uint64(s.TFX), 3)
	p.bit(s.TCC)
	p.put(uint64(s.WMS), 2)
	p.put(uint64(s.WMT), 2)
	p.bit(s.LTF)
	p.bit(s.Shuffle)
	p.bit(s.ReadBA)
	p.bit(s.FBMask)
	p.bit(s.HDR)
	p.put(uint64(s.BlendA), 2)
	p.put(uint64(s.BlendB), 2)
	p.put(uint64(s.BlendC), 2)
	p.put(uint64(s.BlendD), 2)
	p.bit(s.CLR1)
	p.bit(s.Colclip)
	p.bit(s.PABE)
	p.put(uint64(s.Channel), 3)
	p.put(uint64(s.Dither), 2)
	p.bit(s.ZClamp)
	p.bit(s.TCOffsetHack)
	p.bit(s.UrbanChaosHLE)
	p.bit(s.TalesOfAbyssHLE)
	p.bit(s.PointSampler)
	p.bit(s.InvalidTex0)
	return p.v
}

// PSFromKey unpacks a key produced by PS.Key.
func PSFromKey(k uint64) PS {
	u := unpacker{v: k}
	var s PS
	s.FMT = u.u8(4)
	s.DFMT = u.u8(2)
	s.DepthFMT = u.u8(2)
	s.AEM = u.bit()
	s.FBA = u.bit()
	s.Fog = u.bit()
	s.ATST = u.u8(3)
	s.FST = u.bit()
	s.TFX = u.u8(3)
	s.TCC = u.bit()
	s.WMS = u.u8(2)
	s.WMT = u.u8(2)
	s.LTF = u.bit()
	s.Shuffle = u.bit()
	s.ReadBA = u.bit()
	s.FBMask = u.bit()
	s.HDR = u.bit()
	s.BlendA = u.u8(2)
	s.BlendB = u.u8(2)
	s.BlendC = u.u8(2)
	s.BlendD = u.u8(2)
	s.CLR1 = u.bit()
	s.Colclip = u.bit()
	s.PABE = u.bit()
	s.Channel = u.u8(3)
	s.Dither = u.u8(2)
	s.ZClamp = u.bit()
	s.TCOffsetHack = u.bit()
	s.UrbanChaosHLE = u.bit()
	s.TalesOfAbyssHLE = u.bit()
	s.PointSampler = u.bit()
	s.InvalidTex0 = u.bit()
	return s
}

// Depth test modes of DSS.ZTST.
const (
	ZTestNever = iota
	ZTestAlways
	ZTestGEqual
	ZTestGreater
)

// DSS selects the depth/stencil state.
type DSS struct {
	ZTST    uint8 // 2 bits, one of ZTest*
	ZWE     bool  // depth write
	DATE    bool  // destination alpha test through stencil
	FBA     bool
	DATEOne bool // clear the stencil bit on first pass
}

// Key packs the selector into its 6 significant bits.
func (s DSS) Key() uint32 {
	var p packer
	p.put(uint64(s.ZTST), 2)
	p.bit(s.ZWE)
	p.bit(s.DATE)
	p.bit(s.FBA)
	p.bit(s.DATEOne)
	return uint32(p.v) & 0x3f
}

// DSSFromKey unpacks a key produced by DSS.Key.
func DSSFromKey(k uint32) DSS {
	u := unpacker{v: uint64(k)}
	return DSS{ZTST: u.u8(2), ZWE: u.bit(), DATE: u.bit(), FBA: u.bit(), DATEOne: u.bit()}
}

// Blend selects the color write mask and blend equation.
type Blend struct {
	WR, WG, WB, WA bool
	Index          uint8 // 7 bits, index into the blend table
	ABE            bool  // alpha blending enabled
	AccuBlend      bool  // accumulation blending: ONE/ONE
}

// Key packs the selector into its 13 significant bits.
func (s Blend) Key() uint32 {
	var p packer
	p.bit(s.WR)
	p.bit(s.WG)
	p.bit(s.WB)
	p.bit(s.WA)
	p.put(uint64(s.Index), 7)
	p.bit(s.ABE)
	p.bit(s.AccuBlend)
	return uint32(p.v) & 0x1fff
}

// BlendFromKey unpacks a key produced by Blend.Key.
func BlendFromKey(k uint32) Blend {
	u := unpacker{v: uint64(k)}
	return Blend{WR: u.bit(), WG: u.bit(), WB: u.bit(), WA: u.bit(), Index: u.u8(7), ABE: u.bit(), AccuBlend: u.bit()}
}

// WriteMask returns the color write mask.
func (s Blend) WriteMask() driver.ColorMask {
	var m driver.ColorMask
	if s.WR {
		m |= driver.ColorMaskR
	}
	if s.WG {
		m |= driver.ColorMaskG
	}
	if s.WB {
		m |= driver.ColorMaskB
	}
	if s.WA {
		m |= driver.ColorMaskA
	}
	return m
}

// Pipeline selects a complete TFX pipeline.
type Pipeline struct {
	VS       VS
	GS       GS
	PS       PS
	DSS      DSS
	Blend    Blend
	Topology driver.Topology // 4 bits
	RT       bool
	DS       bool
}

// PipelineKey is the raw-bit identity of a Pipeline.
type PipelineKey struct {
	VS    uint32
	GS    uint32
	PS    uint64
	DSS   uint32
	Blend uint32
	Misc  uint32
}

// Key packs the selector.
func (s Pipeline) Key() PipelineKey {
	var p packer
	p.put(uint64(s.Topology), 4)
	p.bit(s.RT)
	p.bit(s.DS)
	return PipelineKey{
		VS:    s.VS.Key(),
		GS:    s.GS.Key(),
		PS:    s.PS.Key(),
		DSS:   s.DSS.Key(),
		Blend: s.Blend.Key(),
		Misc:  uint32(p.v),
	}
}

// PipelineFromKey unpacks a key produced by Pipeline.Key.
func PipelineFromKey(k PipelineKey) Pipeline {
	u := unpacker{v: uint64(k.Misc)}
	return Pipeline{
		VS:       VSFromKey(k.VS),
		GS:       GSFromKey(k.GS),
		PS:       PSFromKey(k.PS),
		DSS:      DSSFromKey(k.DSS),
		Blend:    BlendFromKey(k.Blend),
		Topology: driver.Topology(u.u8(4)),
		RT:       u.bit(),
		DS:       u.bit(),
	}
}

// Sampler selects a sampler object.
type Sampler struct {
	Linear     bool
	WrapU      driver.AddressMode // 3 bits
	WrapV      driver.AddressMode // 3 bits
	Anisotropy uint8              // 5 bits
}

// Key packs the selector.
func (s Sampler) Key() uint32 {
	var p packer
	p.bit(s.Linear)
	p.put(uint64(s.WrapU), 3)
	p.put(uint64(s.WrapV), 3)
	p.put(uint64(s.Anisotropy), 5)
	return uint32(p.v)
}

// Desc converts the selector to a sampler description. Anisotropy only
// applies to linear filtering and values above 1.
func (s Sampler) Desc() driver.SamplerDesc {
	f := driver.FilterNearest
	if s.Linear {
		f = driver.FilterLinear
	}
	var aniso uint8
	if s.Linear && s.Anisotropy > 1 {
		aniso = s.Anisotropy
	}
	return driver.SamplerDesc{MinFilter: f, MagFilter: f, AddressU: s.WrapU, AddressV: s.WrapV, MaxAnisotropy: aniso}
}

// Point and linear clamp-to-edge samplers used by the utility passes.
var (
	PointSampler  = Sampler{}
	LinearSampler = Sampler{Linear: true}
)
