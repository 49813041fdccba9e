package soft

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chewxy/math32"

	"github.com/gogpu/gsvk/internal/driver"
)

type program struct {
	vertex   func(e *executor, in *attrs) vertexOut
	fragment func(e *executor, in *fragIn) fragOut
}

// family returns the module label up to the first '/'.
func family(label string) string {
	f, _, _ := strings.Cut(label, "/")
	return f
}

// entryIndex parses the numeric suffix of entry points like "ps_main7".
func entryIndex(entry string) (int, error) {
	n, ok := strings.CutPrefix(entry, "ps_main")
	if !ok {
		return 0, fmt.Errorf("unexpected entry point %q", entry)
	}
	if n == "" {
		return 0, nil
	}
	return strconv.Atoi(n)
}

func lookupProgram(vs, fs *shaderModule) (program, error) {
	if vs.desc.Stage != driver.StageVertex || fs.desc.Stage != driver.StageFragment {
		return program{}, fmt.Errorf("stage mismatch: %v/%v", vs.desc.Stage, fs.desc.Stage)
	}
	switch family(fs.desc.Label) {
	case "convert", "present":
		n, err := entryIndex(fs.desc.Entry)
		if err != nil {
			return program{}, err
		}
		return program{vertex: utilityVertex, fragment: convertFragment(n)}, nil
	case "merge":
		n, err := entryIndex(fs.desc.Entry)
		if err != nil {
			return program{}, err
		}
		return program{vertex: utilityVertex, fragment: mergeFragment(n)}, nil
	case "interlace":
		n, err := entryIndex(fs.desc.Entry)
		if err != nil {
			return program{}, err
		}
		return program{vertex: utilityVertex, fragment: interlaceFragment(n)}, nil
	case "tfx":
		return program{vertex: tfxVertex(vs.consts), fragment: tfxFragment(fs.consts)}, nil
	}
	return program{}, fmt.Errorf("no program for shader %q", fs.desc.Label)
}

// utilityVertex passes NDC position (location 0) and texcoord (location 1).
func utilityVertex(_ *executor, in *attrs) vertexOut {
	return vertexOut{
		pos:   [4]float32{in[0][0], in[0][1], 0, 1},
		uv:    [2]float32{in[1][0], in[1][1]},
		color: [4]float32{1, 1, 1, 1},
	}
}

func (e *executor) utilitySample(uv [2]float32) [4]float32 {
	im, sd := e.texture(0, 0, 0, 1)
	return sample(im, sd, uv)
}

func byte255(v float32) uint32 { return uint32(math32.Round(clamp01(v) * 255)) }

const depthScale = 4294967296.0 // 2^32

// Convert shader indices, matching the order of the shader enumeration.
const (
	convertCopy = iota
	convertRGBA8To16Bits
	convertDATM1
	convertDATM0
	convertMod256
	convertScanline
	convertDiagonalFilter
	convertTransparencyFilter
	convertTriangularFilter
	convertComplexFilter
	convertFloat32To32Bits
	convertFloat32ToRGBA8
	convertFloat16ToRGB5A1
	convertRGBA8ToFloat32
	convertRGBA8ToFloat24
	convertRGBA8ToFloat16
	convertRGB5A1ToFloat16
	convertRGBAToSigned8
	convertYUV
)

func depthOut(v uint32) fragOut {
	return fragOut{hasDepth: true, depth: float32(float64(v) / depthScale)}
}

func depthBits(d float32) uint32 {
	v := float64(clamp01(d)) * depthScale
	if v >= depthScale {
		return 0xFFFFFFFF
	}
	return uint32(v)
}

func convertFragment(n int) func(*executor, *fragIn) fragOut {
	return func(e *executor, in *fragIn) fragOut {
		c := e.utilitySample(in.uv)
		switch n {
		case convertRGBA8To16Bits:
			r, g, b := byte255(c[0])>>3, byte255(c[1])>>3, byte255(c[2])>>3
			v := r | g<<5 | b<<10
			if c[3] >= 0.5 {
				v |= 0x8000
			}
			return fragOut{color: [4]float32{float32(v), 0, 0, 0}}
		case convertDATM1:
			return fragOut{discard: c[3] < 127.5/255, color: c}
		case convertDATM0:
			return fragOut{discard: c[3] > 127.5/255, color: c}
		case convertScanline:
			if in.y&1 != 0 {
				return fragOut{}
			}
			return fragOut{color: c}
		case convertTransparencyFilter:
			c[3] = 1
			return fragOut{color: c}
		case convertFloat32To32Bits:
			return fragOut{color: [4]float32{float32(depthBits(c[0])), 0, 0, 0}}
		case convertFloat32ToRGBA8:
			v := depthBits(c[0])
			return fragOut{color: [4]float32{
				float32(v&0xFF) / 255, float32(v>>8&0xFF) / 255, float32(v>>16&0xFF) / 255, float32(v>>24) / 255,
			}}
		case convertFloat16ToRGB5A1:
			v := depthBits(c[0]) & 0xFFFF
			a := float32(0)
			if v&0x8000 != 0 {
				a = 1
			}
			return fragOut{color: [4]float32{
				float32(v&0x1F<<3) / 255, float32(v>>5&0x1F<<3) / 255, float32(v>>10&0x1F<<3) / 255, a,
			}}
		case convertRGBA8ToFloat32:
			return depthOut(byte255(c[0]) | byte255(c[1])<<8 | byte255(c[2])<<16 | byte255(c[3])<<24)
		case convertRGBA8ToFloat24:
			return depthOut(byte255(c[0]) | byte255(c[1])<<8 | byte255(c[2])<<16)
		case convertRGBA8ToFloat16:
			return depthOut(byte255(c[0]) | byte255(c[1])<<8)
		case convertRGB5A1ToFloat16:
			v := byte255(c[0])>>3 | (byte255(c[1])>>3)<<5 | (byte255(c[2])>>3)<<10
			if c[3] >= 0.5 {
				v |= 0x8000
			}
			return depthOut(v)
		case convertYUV:
			y := 0.299*c[0] + 0.587*c[1] + 0.114*c[2]
			return fragOut{color: [4]float32{y, y, y, c[3]}}
		default:
			// Copy and the present filters without a CPU rendition.
			return fragOut{color: c}
		}
	}
}

func mergeFragment(n int) func(*executor, *fragIn) fragOut {
	return func(e *executor, in *fragIn) fragOut {
		c := e.utilitySample(in.uv)
		if n == 0 {
			c[3] = math32.Min(c[3]*255/128, 1)
		} else {
			c[3] = f32(e.pushConst, 12)
		}
		return fragOut{color: c}
	}
}

// Interlace push constants: ZrH vec4 at 0, hH at 16.
func interlaceFragment(n int) func(*executor, *fragIn) fragOut {
	return func(e *executor, in *fragIn) fragOut {
		zrh := [2]float32{f32(e.pushConst, 0), f32(e.pushConst, 4)}
		hH := f32(e.pushConst, 16)
		switch n {
		case 0:
			if v := in.uv[1] * hH; v-math32.Floor(v)-0.5 < 0 {
				return fragOut{discard: true}
			}
			return fragOut{color: e.utilitySample(in.uv)}
		case 2:
			c0 := e.utilitySample([2]float32{in.uv[0] - zrh[0], in.uv[1] - zrh[1]})
			c1 := e.utilitySample(in.uv)
			c2 := e.utilitySample([2]float32{in.uv[0] + zrh[0], in.uv[1] + zrh[1]})
			var c [4]float32
			for i := range c {
				c[i] = (c0[i] + 2*c1[i] + c2[i]) / 4
			}
			return fragOut{color: c}
		default:
			return fragOut{color: e.utilitySample(in.uv)}
		}
	}
}

// TFX vertex attribute locations.
const (
	locST = iota
	locRGBA
	locQ
	locXY
	locZ
	locUV
	locFog
)

func tfxVertex(consts map[string]int) func(*executor, *attrs) vertexOut {
	tme, fst := consts["VS_TME"] != 0, consts["VS_FST"] != 0
	return func(e *executor, in *attrs) vertexOut {
		cb := e.uniform(0, 0)
		scaleX, scaleY := f32(cb, 0), f32(cb, 4)
		offX, offY := f32(cb, 8), f32(cb, 12)
		maxDepth := u32(cb, 40)

		z := uint32(in[locZ][0])
		if maxDepth != 0 && z > maxDepth {
			z = maxDepth
		}
		out := vertexOut{
			pos: [4]float32{
				in[locXY][0]*scaleX - offX,
				in[locXY][1]*scaleY - offY,
				float32(float64(z) / depthScale),
				1,
			},
			color: [4]float32{in[locRGBA][0] / 255, in[locRGBA][1] / 255, in[locRGBA][2] / 255, in[locRGBA][3] / 255},
			fog:   in[locFog][3],
		}
		if tme {
			if fst {
				out.uv = [2]float32{
					in[locUV][0]*f32(cb, 16) + f32(cb, 24),
					in[locUV][1]*f32(cb, 20) + f32(cb, 28),
				}
			} else {
				q := in[locQ][0]
				if q == 0 {
					q = 1
				}
				out.uv = [2]float32{in[locST][0] / q, in[locST][1] / q}
			}
		}
		return out
	}
}

// Texture function values of PS_TFX.
const (
	tfxModulate   = 0
	tfxDecal      = 1
	tfxHighlight  = 2
	tfxHighlight2 = 3
	tfxNone       = 4
)

func tfxFragment(consts map[string]int) func(*executor, *fragIn) fragOut {
	tfx, tcc := consts["PS_TFX"], consts["PS_TCC"] != 0
	atst, fog := consts["PS_ATST"], consts["PS_FOG"] != 0
	return func(e *executor, in *fragIn) fragOut {
		c := in.color
		if tfx != tfxNone {
			im, sd := e.texture(1, 0, 2, 0)
			t := sample(im, sd, in.uv)
			switch tfx {
			case tfxModulate:
				for i := range 3 {
					c[i] = clamp01(c[i] * t[i] * 255 / 128)
				}
				if tcc {
					c[3] = clamp01(c[3] * t[3] * 255 / 128)
				}
			case tfxDecal:
				c[0], c[1], c[2] = t[0], t[1], t[2]
				if tcc {
					c[3] = t[3]
				}
			case tfxHighlight, tfxHighlight2:
				for i := range 3 {
					c[i] = clamp01(c[i]*t[i]*255/128 + c[3])
				}
				if tcc {
					if tfx == tfxHighlight {
						c[3] = clamp01(c[3] + t[3])
					} else {
						c[3] = t[3]
					}
				}
			}
		}

		cb := e.uniform(0, 1)
		aref := f32(cb, 12)
		switch atst {
		case 1:
			if c[3] > aref {
				return fragOut{discard: true}
			}
		case 2:
			if c[3] < aref {
				return fragOut{discard: true}
			}
		case 3:
			if c[3] != aref {
				return fragOut{discard: true}
			}
		case 4:
			if c[3] == aref {
				return fragOut{discard: true}
			}
		}
		if fog {
			for i := range 3 {
				fc := f32(cb, i*4)
				c[i] = fc + (c[i]-fc)*in.fog
			}
		}
		return fragOut{color: c}
	}
}
