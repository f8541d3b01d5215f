package rectify

import (
	"math"

	"github.com/banshee-data/stereo.depth/internal/frame"
)

// Remap samples src through the maps with bilinear interpolation.
// Samples outside src read as zero. dst must have the map size and the
// source channel count; it is allocated when nil.
func Remap(src *frame.Frame, m *Maps, dst *frame.Frame) *frame.Frame {
	ch := src.Channels
	if dst == nil || !dst.SameShape(&frame.Frame{Width: m.Width, Height: m.Height, Channels: ch}) {
		dst = frame.New(m.Width, m.Height, ch)
	}
	dst.Seq, dst.Timestamp, dst.TraceID = src.Seq, src.Timestamp, src.TraceID

	sw, sh, stride := src.Width, src.Height, src.Stride()
	sample := func(x, y, c int) float32 {
		if x < 0 || y < 0 || x >= sw || y >= sh {
			return 0
		}
		return float32(src.Pix[y*stride+x*ch+c])
	}

	for i := range m.X {
		fx, fy := m.X[i], m.Y[i]
		if fx != fx || fy != fy {
			clear(dst.Pix[i*ch : i*ch+ch])
			continue
		}
		x0f, y0f := float32(math.Floor(float64(fx))), float32(math.Floor(float64(fy)))
		ax, ay := fx-x0f, fy-y0f
		x0, y0 := int(x0f), int(y0f)
		out := dst.Pix[i*ch : i*ch+ch]
		if x0 < -1 || y0 < -1 || x0 >= sw || y0 >= sh {
			clear(out)
			continue
		}
		inside := x0 >= 0 && y0 >= 0 && x0+1 < sw && y0+1 < sh
		for c := 0; c < ch; c++ {
			var p00, p01, p10, p11 float32
			if inside {
				base := y0*stride + x0*ch + c
				p00 = float32(src.Pix[base])
				p01 = float32(src.Pix[base+ch])
				p10 = float32(src.Pix[base+stride])
				p11 = float32(src.Pix[base+stride+ch])
			} else {
				p00 = sample(x0, y0, c)
				p01 = sample(x0+1, y0, c)
				p10 = sample(x0, y0+1, c)
				p11 = sample(x0+1, y0+1, c)
			}
			top := p00 + (p01-p00)*ax
			bot := p10 + (p11-p10)*ax
			v := top + (bot-top)*ay
			out[c] = uint8(min(max(v+0.5, 0), 255))
		}
	}
	return dst
}
