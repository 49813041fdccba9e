package selector

import "github.com/gogpu/gsvk/internal/driver"

// Blend equation operands. The GS blends (A - B) * C + D where A, B and D
// pick a color and C picks an alpha.
const (
	BlendCs   = 0 // source color
	BlendCd   = 1 // destination color
	BlendZero = 2

	BlendAs = 0 // source alpha
	BlendAd = 1 // destination alpha
	BlendF  = 2 // fixed alpha from the blend constant
)

// BlendTableSize is the number of (A, B, C, D) combinations.
const BlendTableSize = 81

// BlendIndex returns the table index of (A - B) * C + D.
func BlendIndex(a, b, c, d uint8) uint8 {
	return a*27 + b*9 + c*3 + d
}

// HWBlend is the fixed-function blend equivalent of one table entry.
type HWBlend struct {
	Src driver.BlendFactor
	Dst driver.BlendFactor
	Op  driver.BlendOp
	// NeedsShader marks equations that fixed-function blending can only
	// approximate, such as Cd * (1 + C).
	NeedsShader bool
}

// coef is k0 + k1*C.
type coef struct{ k0, k1 int }

var blendTable = buildBlendTable()

// BlendEntry returns the hardware blend for a table index. Indices out of
// range return the no-op equation ONE/ZERO ADD.
func BlendEntry(index uint8) HWBlend {
	if int(index) >= BlendTableSize {
		return HWBlend{Src: driver.BlendOne, Dst: driver.BlendZero, Op: driver.BlendOpAdd}
	}
	return blendTable[index]
}

func buildBlendTable() [BlendTableSize]HWBlend {
	var t [BlendTableSize]HWBlend
	for a := uint8(0); a < 3; a++ {
		for b := uint8(0); b < 3; b++ {
			for c := uint8(0); c < 3; c++ {
				for d := uint8(0); d < 3; d++ {
					t[BlendIndex(a, b, c, d)] = deriveBlend(a, b, c, d)
				}
			}
		}
	}
	return t
}

func deriveBlend(a, b, c, d uint8) HWBlend {
	var src, dst coef
	add := func(operand uint8, k0, k1 int) {
		switch operand {
		case BlendCs:
			src.k0 += k0
			src.k1 += k1
		case BlendCd:
			dst.k0 += k0
			dst.k1 += k1
		}
	}
	add(a, 0, 1)
	add(b, 0, -1)
	add(d, 1, 0)

	cf, inv := alphaFactors(c)
	sf, sneg, sok := toFactor(src, cf, inv)
	df, dneg, dok := toFactor(dst, cf, inv)

	h := HWBlend{Src: sf, Dst: df, Op: driver.BlendOpAdd, NeedsShader: !sok || !dok}
	switch {
	case sneg && !dneg:
		h.Op = driver.BlendOpReverseSubtract
	case dneg && !sneg:
		h.Op = driver.BlendOpSubtract
	}
	return h
}

func alphaFactors(c uint8) (driver.BlendFactor, driver.BlendFactor) {
	switch c {
	case BlendAs:
		return driver.BlendSrcAlpha, driver.BlendOneMinusSrcAlpha
	case BlendAd:
		return driver.BlendDstAlpha, driver.BlendOneMinusDstAlpha
	default:
		return driver.BlendConstant, driver.BlendOneMinusConstant
	}
}

// toFactor maps a coefficient to a blend factor and whether the term is
// subtracted. ok is false when the coefficient has no factor equivalent.
func toFactor(k coef, cf, inv driver.BlendFactor) (f driver.BlendFactor, negative, ok bool) {
	switch k {
	case coef{0, 0}:
		return driver.BlendZero, false, true
	case coef{1, 0}:
		return driver.BlendOne, false, true
	case coef{0, 1}:
		return cf, false, true
	case coef{0, -1}:
		return cf, true, true
	case coef{1, -1}:
		return inv, false, true
	default:
		return driver.BlendOne, false, false
	}
}
