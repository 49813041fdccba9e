// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"fmt"
	"image"
)

// Opaque object handles. The zero value of every handle is the null handle.
type (
	Image          uint64
	Buffer         uint64
	RenderPass     uint64
	Framebuffer    uint64
	ShaderModule   uint64
	Pipeline       uint64
	PipelineLayout uint64
	SetLayout      uint64
	DescriptorSet  uint64
	DescriptorPool uint64
	Sampler        uint64
)

// Format is a texel format.
type Format uint8

// Formats. FormatUndefined doubles as "no attachment" in render pass keys.
const (
	FormatUndefined Format = iota
	FormatRGBA8
	FormatBGRA8
	FormatRGBA32F
	FormatR32F
	FormatR8
	FormatR16U
	FormatR32U
	FormatD32S8
)

var formatNames = [...]string{"Undefined", "RGBA8", "BGRA8", "RGBA32F", "R32F", "R8", "R16U", "R32U", "D32S8"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

// BytesPerPixel returns the size of one texel in a linear buffer copy.
// For FormatD32S8 only the depth plane is counted.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA32F:
		return 16
	case FormatR8:
		return 1
	case FormatR16U:
		return 2
	case FormatUndefined:
		return 0
	default:
		return 4
	}
}

// IsDepth reports whether f is a depth/stencil format.
func (f Format) IsDepth() bool { return f == FormatD32S8 }

// IsInteger reports whether f has unnormalized integer channels.
func (f Format) IsInteger() bool { return f == FormatR16U || f == FormatR32U }

// Layout is the access layout an image is held in.
type Layout uint8

// Image layouts.
const (
	LayoutUndefined Layout = iota
	LayoutShaderReadOnly
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

var layoutNames = [...]string{"Undefined", "ShaderReadOnly", "ColorAttachment", "DepthAttachment", "TransferSrc", "TransferDst", "Present"}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("Layout(%d)", l)
}

// ImageUsage is a set of permitted image uses.
type ImageUsage uint8

// Image usage flags.
const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

// BufferUsage is a set of permitted buffer uses.
type BufferUsage uint8

// Buffer usage flags.
const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

// LoadOp is an attachment load operation.
type LoadOp uint8

// Load operations.
const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

func (o LoadOp) String() string {
	switch o {
	case LoadOpLoad:
		return "Load"
	case LoadOpClear:
		return "Clear"
	case LoadOpDontCare:
		return "DontCare"
	}
	return fmt.Sprintf("LoadOp(%d)", o)
}

// StoreOp is an attachment store operation.
type StoreOp uint8

// Store operations.
const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

// ShaderStage identifies a programmable stage.
type ShaderStage uint8

// Shader stages.
const (
	StageVertex ShaderStage = 1 << iota
	StageGeometry
	StageFragment
)

func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageGeometry:
		return "geometry"
	case StageFragment:
		return "fragment"
	}
	return fmt.Sprintf("ShaderStage(%d)", s)
}

// Topology is the primitive topology of a pipeline.
type Topology uint8

// Topologies.
const (
	TopologyPointList Topology = iota
	TopologyLineList
	TopologyTriangleList
	TopologyTriangleStrip
)

// CompareOp is a depth or stencil comparison.
type CompareOp uint8

// Compare operations.
const (
	CompareNever CompareOp = iota
	CompareLess
	CompareEqual
	CompareLessOrEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterOrEqual
	CompareAlways
)

// StencilOp is a stencil update operation.
type StencilOp uint8

// Stencil operations.
const (
	StencilKeep StencilOp = iota
	StencilZero
	StencilReplace
)

// BlendFactor is a blend multiplier.
type BlendFactor uint8

// Blend factors.
const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcAlpha
	BlendOneMinusSrcAlpha
	BlendDstAlpha
	BlendOneMinusDstAlpha
	BlendConstant
	BlendOneMinusConstant
	BlendSrc1Alpha
	BlendOneMinusSrc1Alpha
)

// BlendOp combines the weighted source and destination terms.
type BlendOp uint8

// Blend operations.
const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpReverseSubtract
)

// ColorMask selects the written color channels.
type ColorMask uint8

// Color mask bits.
const (
	ColorMaskR ColorMask = 1 << iota
	ColorMaskG
	ColorMaskB
	ColorMaskA
	ColorMaskAll = ColorMaskR | ColorMaskG | ColorMaskB | ColorMaskA
)

// Filter is a texture filter.
type Filter uint8

// Filters.
const (
	FilterNearest Filter = iota
	FilterLinear
)

// AddressMode is a texture coordinate wrap mode.
type AddressMode uint8

// Address modes.
const (
	AddressClampToEdge AddressMode = iota
	AddressRepeat
	AddressMirrorRepeat
)

// Aspect selects depth and/or stencil planes.
type Aspect uint8

// Aspects.
const (
	AspectDepth Aspect = 1 << iota
	AspectStencil
)

// VertexFormat describes one vertex attribute.
type VertexFormat uint8

// Vertex formats.
const (
	VertexFloat32 VertexFormat = iota
	VertexFloat32x2
	VertexFloat32x4
	VertexUnorm8x4
	VertexUint8x4
	VertexUint16x2
	VertexUint32
)

// Size returns the attribute size in bytes.
func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFloat32x2:
		return 8
	case VertexFloat32x4:
		return 16
	default:
		return 4
	}
}

// ImageDesc describes an image.
type ImageDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Levels uint32
	Layers uint32
	Format Format
	Usage  ImageUsage
}

// BufferDesc describes a host-visible buffer.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// RenderPassDesc describes attachment formats and their load/store ops.
// A FormatUndefined color or depth format means the attachment is absent.
// The struct is comparable and is used directly as a cache key.
type RenderPassDesc struct {
	ColorFormat  Format
	DepthFormat  Format
	ColorLoad    LoadOp
	DepthLoad    LoadOp
	StencilLoad  LoadOp
	ColorStore   StoreOp
	DepthStore   StoreOp
	StencilStore StoreOp
}

// FramebufferDesc binds images to a render pass.
type FramebufferDesc struct {
	RenderPass RenderPass
	Color      Image
	Depth      Image
	Width      uint32
	Height     uint32
}

// ShaderModuleDesc describes one shader entry point.
type ShaderModuleDesc struct {
	Label  string
	Stage  ShaderStage
	Source string
	Entry  string
}

// BindingType is the kind of resource in a descriptor binding.
type BindingType uint8

// Binding types.
const (
	BindingUniformDynamic BindingType = iota
	BindingSampledImage
	BindingSampler
)

// SetLayoutBinding is one slot of a descriptor set layout.
type SetLayoutBinding struct {
	Binding uint32
	Type    BindingType
	Stages  ShaderStage
}

// SetLayoutDesc describes a descriptor set layout.
type SetLayoutDesc struct {
	Label    string
	Bindings []SetLayoutBinding
}

// PipelineLayoutDesc describes a pipeline layout.
type PipelineLayoutDesc struct {
	Label            string
	SetLayouts       []SetLayout
	PushConstantSize uint32
}

// DescriptorWrite fills one binding of a descriptor set.
type DescriptorWrite struct {
	Binding uint32
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	Image   Image
	Sampler Sampler
}

// VertexAttribute is one attribute of the single vertex stream.
type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

// StencilState is the fixed stencil configuration of a pipeline.
type StencilState struct {
	Enable      bool
	Compare     CompareOp
	FailOp      StencilOp
	DepthFailOp StencilOp
	PassOp      StencilOp
	ReadMask    uint32
	WriteMask   uint32
	Reference   uint32
}

// BlendState is the fixed blend configuration of a pipeline.
type BlendState struct {
	Enable   bool
	SrcColor BlendFactor
	DstColor BlendFactor
	ColorOp  BlendOp
	SrcAlpha BlendFactor
	DstAlpha BlendFactor
	AlphaOp  BlendOp
}

// PipelineDesc describes a graphics pipeline.
type PipelineDesc struct {
	Label        string
	Layout       PipelineLayout
	RenderPass   RenderPass
	VS           ShaderModule
	GS           ShaderModule
	FS           ShaderModule
	Topology     Topology
	VertexStride uint32
	Attributes   []VertexAttribute
	DepthTest    bool
	DepthWrite   bool
	DepthCompare CompareOp
	Stencil      StencilState
	Blend        BlendState
	WriteMask    ColorMask
}

// SamplerDesc describes a sampler. It is comparable.
type SamplerDesc struct {
	MinFilter     Filter
	MagFilter     Filter
	AddressU      AddressMode
	AddressV      AddressMode
	MaxAnisotropy uint8
}

// Viewport is a render viewport with depth range.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// ClearValues are the clear values for a render pass begin.
type ClearValues struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// Features describes optional device capabilities.
type Features struct {
	ImageCopy           bool
	Blit                bool
	GeometryShader      bool
	MaxImageDimension2D uint32
	UniformAlignment    uint32
}

// FullRect returns the rectangle covering a w×h image.
func FullRect(w, h uint32) image.Rectangle {
	return image.Rect(0, 0, int(w), int(h))
}
