// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halvk

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gsvk/internal/driver"
)

func textureFormat(f driver.Format) (gputypes.TextureFormat, error) {
	switch f {
	case driver.FormatRGBA8:
		return gputypes.TextureFormatRGBA8Unorm, nil
	case driver.FormatBGRA8:
		return gputypes.TextureFormatBGRA8Unorm, nil
	case driver.FormatRGBA32F:
		return gputypes.TextureFormatRGBA32Float, nil
	case driver.FormatR32F:
		return gputypes.TextureFormatR32Float, nil
	case driver.FormatR8:
		return gputypes.TextureFormatR8Unorm, nil
	case driver.FormatR16U:
		return gputypes.TextureFormatR16Uint, nil
	case driver.FormatR32U:
		return gputypes.TextureFormatR32Uint, nil
	case driver.FormatD32S8:
		return gputypes.TextureFormatDepth32FloatStencil8, nil
	}
	return gputypes.TextureFormatUndefined, driver.ErrUnsupported
}

// textureUsage maps image usage to texture usage. Every image is renderable
// so the image clears can be expressed as cleared passes, and every image
// can take part in copies.
func textureUsage(u driver.ImageUsage) gputypes.TextureUsage {
	out := gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if u&driver.ImageUsageSampled != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	return out
}

func bufferUsage(u driver.BufferUsage) gputypes.BufferUsage {
	// A pure copy destination is a readback staging buffer.
	if u == driver.BufferUsageTransferDst {
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	// Every other buffer is written through the queue.
	out := gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	if u&driver.BufferUsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&driver.BufferUsageIndex != 0 {
		out |= gputypes.BufferUsageIndex
	}
	if u&driver.BufferUsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	return out
}

// layoutUsage is the texture usage an image layout stands for.
func layoutUsage(l driver.Layout) gputypes.TextureUsage {
	switch l {
	case driver.LayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	case driver.LayoutColorAttachment, driver.LayoutDepthAttachment, driver.LayoutPresent:
		return gputypes.TextureUsageRenderAttachment
	case driver.LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case driver.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	}
	return gputypes.TextureUsage(0)
}

func loadOp(op driver.LoadOp) gputypes.LoadOp {
	if op == driver.LoadOpLoad {
		return gputypes.LoadOpLoad
	}
	return gputypes.LoadOpClear
}

func storeOp(op driver.StoreOp) gputypes.StoreOp {
	if op == driver.StoreOpStore {
		return gputypes.StoreOpStore
	}
	return gputypes.StoreOpDiscard
}

func shaderStages(s driver.ShaderStage) gputypes.ShaderStages {
	var out gputypes.ShaderStages
	if s&driver.StageVertex != 0 {
		out |= gputypes.ShaderStageVertex
	}
	if s&driver.StageFragment != 0 {
		out |= gputypes.ShaderStageFragment
	}
	return out
}

var topologies = [...]gputypes.PrimitiveTopology{
	driver.TopologyPointList:     gputypes.PrimitiveTopologyPointList,
	driver.TopologyLineList:      gputypes.PrimitiveTopologyLineList,
	driver.TopologyTriangleList:  gputypes.PrimitiveTopologyTriangleList,
	driver.TopologyTriangleStrip: gputypes.PrimitiveTopologyTriangleStrip,
}

var compareFuncs = [...]gputypes.CompareFunction{
	driver.CompareNever:          gputypes.CompareFunctionNever,
	driver.CompareLess:           gputypes.CompareFunctionLess,
	driver.CompareEqual:          gputypes.CompareFunctionEqual,
	driver.CompareLessOrEqual:    gputypes.CompareFunctionLessEqual,
	driver.CompareGreater:        gputypes.CompareFunctionGreater,
	driver.CompareNotEqual:       gputypes.CompareFunctionNotEqual,
	driver.CompareGreaterOrEqual: gputypes.CompareFunctionGreaterEqual,
	driver.CompareAlways:         gputypes.CompareFunctionAlways,
}

var stencilOps = [...]hal.StencilOperation{
	driver.StencilKeep:    hal.StencilOperationKeep,
	driver.StencilZero:    hal.StencilOperationZero,
	driver.StencilReplace: hal.StencilOperationReplace,
}

var blendOps = [...]gputypes.BlendOperation{
	driver.BlendOpAdd:             gputypes.BlendOperationAdd,
	driver.BlendOpSubtract:        gputypes.BlendOperationSubtract,
	driver.BlendOpReverseSubtract: gputypes.BlendOperationReverseSubtract,
}

// blendFactor maps a blend factor. Dual-source factors need a device
// feature the HAL path does not request.
func blendFactor(f driver.BlendFactor) (gputypes.BlendFactor, error) {
	switch f {
	case driver.BlendZero:
		return gputypes.BlendFactorZero, nil
	case driver.BlendOne:
		return gputypes.BlendFactorOne, nil
	case driver.BlendSrcAlpha:
		return gputypes.BlendFactorSrcAlpha, nil
	case driver.BlendOneMinusSrcAlpha:
		return gputypes.BlendFactorOneMinusSrcAlpha, nil
	case driver.BlendDstAlpha:
		return gputypes.BlendFactorDstAlpha, nil
	case driver.BlendOneMinusDstAlpha:
		return gputypes.BlendFactorOneMinusDstAlpha, nil
	case driver.BlendConstant:
		return gputypes.BlendFactorConstant, nil
	case driver.BlendOneMinusConstant:
		return gputypes.BlendFactorOneMinusConstant, nil
	}
	return gputypes.BlendFactorZero, driver.ErrUnsupported
}

func blendState(b driver.BlendState) (*gputypes.BlendState, error) {
	if !b.Enable {
		return nil, nil //nolint:nilnil // nil means blending disabled
	}
	var factors [4]gputypes.BlendFactor
	for i, f := range []driver.BlendFactor{b.SrcColor, b.DstColor, b.SrcAlpha, b.DstAlpha} {
		v, err := blendFactor(f)
		if err != nil {
			return nil, err
		}
		factors[i] = v
	}
	return &gputypes.BlendState{
		Color: gputypes.BlendComponent{SrcFactor: factors[0], DstFactor: factors[1], Operation: blendOps[b.ColorOp]},
		Alpha: gputypes.BlendComponent{SrcFactor: factors[2], DstFactor: factors[3], Operation: blendOps[b.AlphaOp]},
	}, nil
}

func writeMask(m driver.ColorMask) gputypes.ColorWriteMask {
	var out gputypes.ColorWriteMask
	if m&driver.ColorMaskR != 0 {
		out |= gputypes.ColorWriteMaskRed
	}
	if m&driver.ColorMaskG != 0 {
		out |= gputypes.ColorWriteMaskGreen
	}
	if m&driver.ColorMaskB != 0 {
		out |= gputypes.ColorWriteMaskBlue
	}
	if m&driver.ColorMaskA != 0 {
		out |= gputypes.ColorWriteMaskAlpha
	}
	return out
}

var vertexFormats = [...]gputypes.VertexFormat{
	driver.VertexFloat32:   gputypes.VertexFormatFloat32,
	driver.VertexFloat32x2: gputypes.VertexFormatFloat32x2,
	driver.VertexFloat32x4: gputypes.VertexFormatFloat32x4,
	driver.VertexUnorm8x4:  gputypes.VertexFormatUnorm8x4,
	driver.VertexUint8x4:   gputypes.VertexFormatUint8x4,
	driver.VertexUint16x2:  gputypes.VertexFormatUint16x2,
	driver.VertexUint32:    gputypes.VertexFormatUint32,
}

func filterMode(f driver.Filter) gputypes.FilterMode {
	if f == driver.FilterLinear {
		return gputypes.FilterModeLinear
	}
	return gputypes.FilterModeNearest
}

func addressMode(m driver.AddressMode) gputypes.AddressMode {
	switch m {
	case driver.AddressRepeat:
		return gputypes.AddressModeRepeat
	case driver.AddressMirrorRepeat:
		return gputypes.AddressModeMirrorRepeat
	}
	return gputypes.AddressModeClampToEdge
}

func color(c [4]float32) gputypes.Color {
	return gputypes.Color{R: float64(c[0]), G: float64(c[1]), B: float64(c[2]), A: float64(c[3])}
}
