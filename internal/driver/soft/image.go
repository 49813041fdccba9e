package soft

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"

	"github.com/chewxy/math32"
	"github.com/disintegration/imaging"

	"github.com/gogpu/gsvk/internal/driver"
)

// level is one mip level. Color texels are stored as four float32 channels;
// depth formats keep depth in channel 0 and stencil in a separate plane.
type level struct {
	w, h    int
	px      []float32
	stencil []uint8
}

type softImage struct {
	desc   driver.ImageDesc
	levels []level
}

func newSoftImage(desc *driver.ImageDesc) *softImage {
	im := &softImage{desc: *desc}
	w, h := int(desc.Width), int(desc.Height)
	n := max(int(desc.Levels), 1)
	im.levels = make([]level, n)
	for i := range im.levels {
		lv := level{w: w, h: h, px: make([]float32, w*h*4)}
		if desc.Format.IsDepth() {
			lv.stencil = make([]uint8, w*h)
		}
		im.levels[i] = lv
		w = max(w/2, 1)
		h = max(h/2, 1)
	}
	return im
}

func (lv *level) in(x, y int) bool { return x >= 0 && y >= 0 && x < lv.w && y < lv.h }

func (lv *level) get(x, y int) [4]float32 {
	i := (y*lv.w + x) * 4
	return [4]float32{lv.px[i], lv.px[i+1], lv.px[i+2], lv.px[i+3]}
}

func (lv *level) set(x, y int, v [4]float32) {
	i := (y*lv.w + x) * 4
	copy(lv.px[i:i+4], v[:])
}

// quantize rounds v to what format f can represent.
func quantize(f driver.Format, v [4]float32) [4]float32 {
	switch f {
	case driver.FormatRGBA8, driver.FormatBGRA8, driver.FormatR8:
		for i := range v {
			v[i] = math32.Round(clamp01(v[i])*255) / 255
		}
	case driver.FormatR16U:
		v[0] = math32.Round(math32.Max(0, math32.Min(v[0], 65535)))
	case driver.FormatR32U:
		v[0] = math32.Round(math32.Max(0, v[0]))
	case driver.FormatD32S8:
		v[0] = clamp01(v[0])
	}
	return v
}

func clamp01(v float32) float32 {
	if v != v { // NaN
		return 0
	}
	return math32.Max(0, math32.Min(v, 1))
}

func unorm8(v float32) uint8 { return uint8(math32.Round(clamp01(v) * 255)) }

// encodeTexel writes one texel of format f to dst.
func encodeTexel(f driver.Format, v [4]float32, dst []byte) {
	switch f {
	case driver.FormatRGBA8:
		dst[0], dst[1], dst[2], dst[3] = unorm8(v[0]), unorm8(v[1]), unorm8(v[2]), unorm8(v[3])
	case driver.FormatBGRA8:
		dst[0], dst[1], dst[2], dst[3] = unorm8(v[2]), unorm8(v[1]), unorm8(v[0]), unorm8(v[3])
	case driver.FormatR8:
		dst[0] = unorm8(v[0])
	case driver.FormatRGBA32F:
		for i := range 4 {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v[i]))
		}
	case driver.FormatR32F, driver.FormatD32S8:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v[0]))
	case driver.FormatR16U:
		binary.LittleEndian.PutUint16(dst, uint16(v[0]))
	case driver.FormatR32U:
		binary.LittleEndian.PutUint32(dst, uint32(v[0]))
	}
}

// decodeTexel reads one texel of format f from src.
func decodeTexel(f driver.Format, src []byte) [4]float32 {
	switch f {
	case driver.FormatRGBA8:
		return [4]float32{float32(src[0]) / 255, float32(src[1]) / 255, float32(src[2]) / 255, float32(src[3]) / 255}
	case driver.FormatBGRA8:
		return [4]float32{float32(src[2]) / 255, float32(src[1]) / 255, float32(src[0]) / 255, float32(src[3]) / 255}
	case driver.FormatR8:
		return [4]float32{float32(src[0]) / 255, 0, 0, 1}
	case driver.FormatRGBA32F:
		var v [4]float32
		for i := range 4 {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
		return v
	case driver.FormatR32F, driver.FormatD32S8:
		return [4]float32{math.Float32frombits(binary.LittleEndian.Uint32(src)), 0, 0, 1}
	case driver.FormatR16U:
		return [4]float32{float32(binary.LittleEndian.Uint16(src)), 0, 0, 1}
	case driver.FormatR32U:
		return [4]float32{float32(binary.LittleEndian.Uint32(src)), 0, 0, 1}
	}
	return [4]float32{}
}

// toNRGBA converts a region of a level to an 8-bit image for resampling.
func (lv *level) toNRGBA(r image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if !lv.in(x, y) {
				continue
			}
			v := lv.get(x, y)
			out.SetNRGBA(x-r.Min.X, y-r.Min.Y, color.NRGBA{unorm8(v[0]), unorm8(v[1]), unorm8(v[2]), unorm8(v[3])})
		}
	}
	return out
}

// blit scales src region into dst region of another level.
func blit(src *level, sr image.Rectangle, dst *level, dr image.Rectangle, f driver.Format, filter driver.Filter) {
	if sr.Empty() || dr.Empty() {
		return
	}
	rf := imaging.NearestNeighbor
	if filter == driver.FilterLinear {
		rf = imaging.Linear
	}
	scaled := imaging.Resize(src.toNRGBA(sr), dr.Dx(), dr.Dy(), rf)
	for y := 0; y < dr.Dy(); y++ {
		for x := 0; x < dr.Dx(); x++ {
			dx, dy := dr.Min.X+x, dr.Min.Y+y
			if !dst.in(dx, dy) {
				continue
			}
			c := scaled.NRGBAAt(x, y)
			dst.set(dx, dy, quantize(f, [4]float32{
				float32(c.R) / 255, float32(c.G) / 255, float32(c.B) / 255, float32(c.A) / 255,
			}))
		}
	}
}
