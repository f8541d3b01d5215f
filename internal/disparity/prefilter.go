package disparity

// plane is a single-channel 8-bit image.
type plane struct {
	w, h int
	pix  []uint8
}

// integral returns the (w+1)x(h+1) summed-area table of f(pix).
func integral(src []uint8, w, h int, f func(uint8) int) []int {
	s := w + 1
	out := make([]int, s*(h+1))
	for y := 0; y < h; y++ {
		rowSum := 0
		for x := 0; x < w; x++ {
			rowSum += f(src[y*w+x])
			out[(y+1)*s+x+1] = out[y*s+x+1] + rowSum
		}
	}
	return out
}

// boxSum reads the sum over [x0,x1)x[y0,y1) from a summed-area table.
func boxSum(integ []int, w, x0, y0, x1, y1 int) int {
	s := w + 1
	return integ[y1*s+x1] - integ[y0*s+x1] - integ[y1*s+x0] + integ[y0*s+x0]
}

func identity(v uint8) int { return int(v) }

func clampCap(v, limit int) uint8 {
	if v < -limit {
		v = -limit
	} else if v > limit {
		v = limit
	}
	return uint8(v + limit)
}

// prefilterNormalized subtracts the local mean over a size x size window,
// clipped to +/-limit and offset by limit. Windows are cropped at borders.
func prefilterNormalized(src *plane, size, limit int) *plane {
	w, h := src.w, src.h
	r := size / 2
	integ := integral(src.pix, w, h, identity)
	out := &plane{w: w, h: h, pix: make([]uint8, w*h)}
	for y := 0; y < h; y++ {
		y0, y1 := max(y-r, 0), min(y+r+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-r, 0), min(x+r+1, w)
			n := (x1 - x0) * (y1 - y0)
			mean := (boxSum(integ, w, x0, y0, x1, y1) + n/2) / n
			out.pix[y*w+x] = clampCap(int(src.pix[y*w+x])-mean, limit)
		}
	}
	return out
}

// prefilterXSobel computes the horizontal Sobel response with replicated
// borders, clipped to +/-limit and offset by limit.
func prefilterXSobel(src *plane, limit int) *plane {
	w, h := src.w, src.h
	out := &plane{w: w, h: h, pix: make([]uint8, w*h)}
	at := func(x, y int) int {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return int(src.pix[y*w+x])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := 2*(at(x+1, y)-at(x-1, y)) +
				at(x+1, y-1) - at(x-1, y-1) +
				at(x+1, y+1) - at(x-1, y+1)
			out.pix[y*w+x] = clampCap(d, limit)
		}
	}
	return out
}

func prefilter(src *plane, p Params) *plane {
	if p.PreFilterType == PreFilterXSobel {
		return prefilterXSobel(src, p.PreFilterCap)
	}
	return prefilterNormalized(src, p.PreFilterSize, p.PreFilterCap)
}

// textureMap returns, per pixel, the sum over the matching window of the
// prefiltered deviation from the neutral value. Pixels whose window does
// not fit are left at zero.
func textureMap(pf *plane, blockSize, limit int) []int {
	w, h := pf.w, pf.h
	r := blockSize / 2
	integ := integral(pf.pix, w, h, func(v uint8) int {
		d := int(v) - limit
		if d < 0 {
			return -d
		}
		return d
	})
	out := make([]int, w*h)
	for y := r; y < h-r; y++ {
		for x := r; x < w-r; x++ {
			out[y*w+x] = boxSum(integ, w, x-r, y-r, x+r+1, y+r+1)
		}
	}
	return out
}
