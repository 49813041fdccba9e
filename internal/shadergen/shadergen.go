// Package shadergen assembles shader variants from a shared WGSL source.
//
// WGSL has no preprocessor, so selector fields are injected as module-scope
// integer constants placed before the shared body:
//
//	const VERTEX_SHADER: i32 = 1;
//	const VS_TME: i32 = 1;
//	...
//
// Generate is a pure function of its inputs. Compiled modules are cached by
// selector bits, never by the generated text.
package shadergen

import (
	"strconv"
	"strings"

	"github.com/gogpu/gsvk/internal/driver"
	"github.com/gogpu/gsvk/internal/selector"
)

// Define is one injected constant.
type Define struct {
	Name  string
	Value int
}

// Generate returns shared prefixed with the stage flags and defines.
func Generate(shared string, stage driver.ShaderStage, defines []Define) string {
	var b strings.Builder
	b.Grow(len(shared) + 40*(len(defines)+3))
	writeConst(&b, "VERTEX_SHADER", stage == driver.StageVertex)
	writeConst(&b, "GEOMETRY_SHADER", stage == driver.StageGeometry)
	writeConst(&b, "FRAGMENT_SHADER", stage == driver.StageFragment)
	for _, d := range defines {
		b.WriteString("const ")
		b.WriteString(d.Name)
		b.WriteString(": i32 = ")
		b.WriteString(strconv.Itoa(d.Value))
		b.WriteString(";\n")
	}
	b.WriteString(shared)
	return b.String()
}

func writeConst(b *strings.Builder, name string, v bool) {
	b.WriteString("const ")
	b.WriteString(name)
	if v {
		b.WriteString(": i32 = 1;\n")
	} else {
		b.WriteString(": i32 = 0;\n")
	}
}

func flag(v bool) int {
	if v {
		return 1
	}
	return 0
}

func vsDefines(s selector.VS) []Define {
	return []Define{
		{"VS_TME", flag(s.TME)},
		{"VS_FST", flag(s.FST)},
		{"VS_POINT", flag(s.Point)},
	}
}

func gsDefines(s selector.GS) []Define {
	return []Define{
		{"GS_IIP", flag(s.IIP)},
		{"GS_PRIM", int(s.Prim)},
		{"GS_POINT", flag(s.Point)},
		{"GS_LINE", flag(s.Line)},
	}
}

func psDefines(s selector.PS) []Define {
	return []Define{
		{"PS_FMT", int(s.FMT)},
		{"PS_PAL_FMT", int(s.FMT >> 2)},
		{"PS_DFMT", int(s.DFMT)},
		{"PS_DEPTH_FMT", int(s.DepthFMT)},
		{"PS_AEM", flag(s.AEM)},
		{"PS_FBA", flag(s.FBA)},
		{"PS_FOG", flag(s.Fog)},
		{"PS_ATST", int(s.ATST)},
		{"PS_FST", flag(s.FST)},
		{"PS_TFX", int(s.TFX)},
		{"PS_TCC", flag(s.TCC)},
		{"PS_WMS", int(s.WMS)},
		{"PS_WMT", int(s.WMT)},
		{"PS_LTF", flag(s.LTF)},
		{"PS_SHUFFLE", flag(s.Shuffle)},
		{"PS_READ_BA", flag(s.ReadBA)},
		{"PS_FBMASK", flag(s.FBMask)},
		{"PS_HDR", flag(s.HDR)},
		{"PS_BLEND_A", int(s.BlendA)},
		{"PS_BLEND_B", int(s.BlendB)},
		{"PS_BLEND_C", int(s.BlendC)},
		{"PS_BLEND_D", int(s.BlendD)},
		{"PS_CLR1", flag(s.CLR1)},
		{"PS_COLCLIP", flag(s.Colclip)},
		{"PS_PABE", flag(s.PABE)},
		{"PS_CHANNEL_FETCH", int(s.Channel)},
		{"PS_DITHER", int(s.Dither)},
		{"PS_ZCLAMP", flag(s.ZClamp)},
		{"PS_TCOFFSETHACK", flag(s.TCOffsetHack)},
		{"PS_URBAN_CHAOS_HLE", flag(s.UrbanChaosHLE)},
		{"PS_TALES_OF_ABYSS_HLE", flag(s.TalesOfAbyssHLE)},
		{"PS_POINT_SAMPLER", flag(s.PointSampler)},
		{"PS_INVALID_TEX0", flag(s.InvalidTex0)},
	}
}

// The shared source references every stage's constants, so each module
// declares all of them; only the owning stage's carry selector values.

// VertexDefines returns the defines of a vertex module.
func VertexDefines(s selector.VS) []Define {
	return concat(vsDefines(s), gsDefines(selector.GS{}), psDefines(selector.PS{}))
}

// GeometryDefines returns the defines of a geometry module.
func GeometryDefines(s selector.GS) []Define {
	return concat(vsDefines(selector.VS{}), gsDefines(s), psDefines(selector.PS{}))
}

// FragmentDefines returns the defines of a fragment module.
func FragmentDefines(s selector.PS) []Define {
	return concat(vsDefines(selector.VS{}), gsDefines(selector.GS{}), psDefines(s))
}

func concat(lists ...[]Define) []Define {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]Define, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
