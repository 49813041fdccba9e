package selector

import (
	"testing"

	"github.com/gogpu/gsvk/internal/driver"
)

func TestPSKeyRoundTrip(t *testing.T) {
	ps := PS{
		FMT: 9, DFMT: 2, DepthFMT: 1, AEM: true, Fog: true, ATST: 5, TFX: 3, TCC: true,
		WMS: 3, WMT: 1, LTF: true, ReadBA: true, HDR: true,
		BlendA: 1, BlendB: 2, BlendC: 2, BlendD: 1,
		PABE: true, Channel: 6, Dither: 2, TCOffsetHack: true, TalesOfAbyssHLE: true, InvalidTex0: true,
	}
	if got := PSFromKey(ps.Key()); got != ps {
		t.Errorf("PSFromKey(Key()) = %+v, want %+v", got, ps)
	}
}

func TestPSKeyFitsIn50Bits(t *testing.T) {
	all := PS{
		FMT: 15, DFMT: 3, DepthFMT: 3, AEM: true, FBA: true, Fog: true, ATST: 7, FST: true,
		TFX: 7, TCC: true, WMS: 3, WMT: 3, LTF: true, Shuffle: true, ReadBA: true, FBMask: true,
		HDR: true, BlendA: 3, BlendB: 3, BlendC: 3, BlendD: 3, CLR1: true, Colclip: true,
		PABE: true, Channel: 7, Dither: 3, ZClamp: true, TCOffsetHack: true, UrbanChaosHLE: true,
		TalesOfAbyssHLE: true, PointSampler: true, InvalidTex0: true,
	}
	if k := all.Key(); k != 1<<50-1 {
		t.Errorf("all-set key = %#x, want %#x", k, uint64(1<<50-1))
	}
}

func TestPSKeyFieldPositions(t *testing.T) {
	tests := []struct {
		name string
		ps   PS
		want uint64
	}{
		{"fmt", PS{FMT: 1}, 1 << 0},
		{"dfmt", PS{DFMT: 1}, 1 << 4},
		{"aem", PS{AEM: true}, 1 << 8},
		{"atst", PS{ATST: 1}, 1 << 11},
		{"tfx", PS{TFX: 1}, 1 << 15},
		{"tcc", PS{TCC: true}, 1 << 18},
		{"blend_a", PS{BlendA: 1}, 1 << 28},
		{"invalid_tex0", PS{InvalidTex0: true}, 1 << 49},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ps.Key(); got != tt.want {
				t.Errorf("Key() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestSmallSelectorsRoundTrip(t *testing.T) {
	vs := VS{TME: true, Point: true}
	if VSFromKey(vs.Key()) != vs {
		t.Error("VS round trip")
	}
	gs := GS{IIP: true, Prim: PrimSprite, Line: true}
	if GSFromKey(gs.Key()) != gs {
		t.Error("GS round trip")
	}
	dss := DSS{ZTST: ZTestGreater, ZWE: true, DATE: true, DATEOne: true}
	if DSSFromKey(dss.Key()) != dss {
		t.Error("DSS round trip")
	}
	bs := Blend{WR: true, WA: true, Index: 80, ABE: true, AccuBlend: true}
	if BlendFromKey(bs.Key()) != bs {
		t.Error("Blend round trip")
	}
}

func TestMaskedKeys(t *testing.T) {
	all := DSS{ZTST: 3, ZWE: true, DATE: true, FBA: true, DATEOne: true}
	if all.Key() != 0x3f {
		t.Errorf("DSS all-set key = %#x", all.Key())
	}
	b := Blend{WR: true, WG: true, WB: true, WA: true, Index: 127, ABE: true, AccuBlend: true}
	if b.Key() != 0x1fff {
		t.Errorf("Blend all-set key = %#x", b.Key())
	}
}

func TestPipelineKeyEquality(t *testing.T) {
	a := Pipeline{PS: PS{TFX: 4}, Topology: driver.TopologyTriangleList, RT: true}
	b := a
	if a.Key() != b.Key() {
		t.Fatal("identical selectors must yield identical keys")
	}
	b.DS = true
	if a.Key() == b.Key() {
		t.Error("differing selectors must yield different keys")
	}
	if got := PipelineFromKey(b.Key()); got != b {
		t.Errorf("PipelineFromKey = %+v, want %+v", got, b)
	}
}

func TestGSIsNeeded(t *testing.T) {
	tests := []struct {
		gs   GS
		want bool
	}{
		{GS{Prim: PrimPoint, IIP: false}, false},
		{GS{Prim: PrimTriangle, IIP: true}, false},
		{GS{Prim: PrimTriangle, IIP: false}, true},
		{GS{Prim: PrimLine, IIP: false}, true},
		{GS{Prim: PrimSprite, IIP: true}, true},
		{GS{Prim: PrimSprite, IIP: true, CPUSprite: true}, false},
		{GS{Prim: PrimPoint, Point: true}, true},
		{GS{Prim: PrimTriangle, IIP: true, Line: true}, true},
	}
	for _, tt := range tests {
		if got := tt.gs.IsNeeded(); got != tt.want {
			t.Errorf("%+v.IsNeeded() = %v, want %v", tt.gs, got, tt.want)
		}
	}
}

func TestSamplerDesc(t *testing.T) {
	d := Sampler{Linear: true, WrapU: driver.AddressRepeat, Anisotropy: 8}.Desc()
	if d.MinFilter != driver.FilterLinear || d.MagFilter != driver.FilterLinear {
		t.Errorf("filters = %v/%v", d.MinFilter, d.MagFilter)
	}
	if d.MaxAnisotropy != 8 || d.AddressU != driver.AddressRepeat {
		t.Errorf("desc = %+v", d)
	}

	// Anisotropy is ignored for point sampling and for values <= 1.
	if d := (Sampler{Anisotropy: 16}).Desc(); d.MaxAnisotropy != 0 {
		t.Errorf("nearest aniso = %d", d.MaxAnisotropy)
	}
	if d := (Sampler{Linear: true, Anisotropy: 1}).Desc(); d.MaxAnisotropy != 0 {
		t.Errorf("aniso 1 = %d", d.MaxAnisotropy)
	}
}

func TestBlendTable(t *testing.T) {
	tests := []struct {
		name       string
		a, b, c, d uint8
		want       HWBlend
	}{
		{"alpha blend", BlendCs, BlendCd, BlendAs, BlendCd,
			HWBlend{Src: driver.BlendSrcAlpha, Dst: driver.BlendOneMinusSrcAlpha, Op: driver.BlendOpAdd}},
		{"additive", BlendCs, BlendZero, BlendAs, BlendCd,
			HWBlend{Src: driver.BlendSrcAlpha, Dst: driver.BlendOne, Op: driver.BlendOpAdd}},
		{"reverse subtract", BlendZero, BlendCs, BlendAs, BlendCd,
			HWBlend{Src: driver.BlendSrcAlpha, Dst: driver.BlendOne, Op: driver.BlendOpReverseSubtract}},
		{"subtract", BlendCs, BlendCd, BlendF, BlendZero,
			HWBlend{Src: driver.BlendConstant, Dst: driver.BlendConstant, Op: driver.BlendOpSubtract}},
		{"passthrough", BlendCs, BlendCs, BlendAd, BlendCs,
			HWBlend{Src: driver.BlendOne, Dst: driver.BlendZero, Op: driver.BlendOpAdd}},
		{"dest alpha", BlendCd, BlendCs, BlendAd, BlendCs,
			HWBlend{Src: driver.BlendOneMinusDstAlpha, Dst: driver.BlendDstAlpha, Op: driver.BlendOpAdd}},
		{"needs shader", BlendCd, BlendZero, BlendAs, BlendCd,
			HWBlend{Src: driver.BlendZero, Dst: driver.BlendOne, Op: driver.BlendOpAdd, NeedsShader: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BlendEntry(BlendIndex(tt.a, tt.b, tt.c, tt.d))
			if got != tt.want {
				t.Errorf("BlendEntry = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBlendEntryOutOfRange(t *testing.T) {
	got := BlendEntry(BlendTableSize)
	if got.Src != driver.BlendOne || got.Dst != driver.BlendZero || got.NeedsShader {
		t.Errorf("out of range entry = %+v", got)
	}
}
