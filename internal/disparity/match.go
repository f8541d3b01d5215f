package disparity

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// costVolume describes one block-matching search: the reference plane is
// compared with each other view, candidate i sampling view k at a
// horizontal offset of shifts[k][i] pixels. Costs from all views are
// summed per candidate.
type costVolume struct {
	ref     *plane
	views   []*plane
	shifts  [][]int
	minD    int // disparity of candidate 0, in reference pixels
	numD    int
	half    int
	uniq    int
	texture []int // nil disables the texture check
	texMin  int
	invalid int16
	lo, hi  int // columns with a complete window for every candidate
}

func newCostVolume(ref *plane, views []*plane, shifts [][]int, p Params, texture []int) *costVolume {
	cv := &costVolume{
		ref:     ref,
		views:   views,
		shifts:  shifts,
		minD:    p.MinDisparity,
		numD:    p.NumDisparities,
		half:    p.BlockSize / 2,
		uniq:    p.UniquenessRatio,
		texture: texture,
		texMin:  p.TextureThreshold,
		invalid: p.Invalid(),
	}
	maxShift, minShift := 0, 0
	for _, s := range shifts {
		for _, v := range s {
			maxShift = max(maxShift, v)
			minShift = min(minShift, v)
		}
	}
	cv.lo = cv.half + maxShift
	cv.hi = ref.w - cv.half + minShift
	return cv
}

// compute fills out (width*height raw values) using row bands in parallel.
func (cv *costVolume) compute(out []int16, workers int) {
	for i := range out {
		out[i] = cv.invalid
	}
	h := cv.ref.h
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	band := (h + workers - 1) / workers
	band = max(band, cv.half+1)

	var g errgroup.Group
	for y0 := 0; y0 < h; y0 += band {
		y1 := min(y0+band, h)
		g.Go(func() error {
			cv.rows(out, y0, y1)
			return nil
		})
	}
	_ = g.Wait()
}

// rows matches rows [y0, y1). Column sums of absolute differences are
// kept per candidate and slid down one row at a time.
func (cv *costVolume) rows(out []int16, y0, y1 int) {
	w, h, half, D := cv.ref.w, cv.ref.h, cv.half, cv.numD
	first, last := max(y0, half), min(y1, h-half)
	if first >= last || cv.lo >= cv.hi {
		return
	}
	xa, xb := cv.lo-half, cv.hi+half
	colsum := make([]int32, w*D)
	sad := make([]int32, D)

	addRow := func(r int, sign int32) {
		refRow := cv.ref.pix[r*w : (r+1)*w]
		for vi, v := range cv.views {
			row := v.pix[r*w : (r+1)*w]
			shift := cv.shifts[vi]
			for x := xa; x < xb; x++ {
				rv := int32(refRow[x])
				cs := colsum[x*D : x*D+D]
				for di, s := range shift {
					d := rv - int32(row[x-s])
					if d < 0 {
						d = -d
					}
					cs[di] += sign * d
				}
			}
		}
	}

	for r := first - half; r <= first+half; r++ {
		addRow(r, 1)
	}
	for y := first; y < last; y++ {
		if y > first {
			addRow(y+half, 1)
			addRow(y-half-1, -1)
		}
		cv.scanRow(y, colsum, sad, out)
	}
}

func (cv *costVolume) scanRow(y int, colsum, sad []int32, out []int16) {
	w, half, D := cv.ref.w, cv.half, cv.numD
	clear(sad)
	for x := cv.lo - half; x <= cv.lo+half; x++ {
		cs := colsum[x*D : x*D+D]
		for di := range sad {
			sad[di] += cs[di]
		}
	}
	for x := cv.lo; x < cv.hi; x++ {
		if x > cv.lo {
			add := colsum[(x+half)*D : (x+half)*D+D]
			sub := colsum[(x-half-1)*D : (x-half-1)*D+D]
			for di := range sad {
				sad[di] += add[di] - sub[di]
			}
		}
		idx := y*w + x
		if cv.texture != nil && cv.texture[idx] < cv.texMin {
			continue
		}
		best, bestCost := 0, sad[0]
		for di := 1; di < D; di++ {
			if sad[di] < bestCost {
				best, bestCost = di, sad[di]
			}
		}
		if cv.uniq > 0 && !cv.unique(sad, best, bestCost) {
			continue
		}
		out[idx] = cv.subpixel(sad, best, bestCost)
	}
}

// unique rejects matches whose cost is nearly repeated away from the
// immediate neighbours of the best candidate.
func (cv *costVolume) unique(sad []int32, best int, bestCost int32) bool {
	thresh := bestCost + bestCost*int32(cv.uniq)/100
	for di, c := range sad {
		if (di < best-1 || di > best+1) && c <= thresh {
			return false
		}
	}
	return true
}

// subpixel refines the best candidate with a symmetric V fit over its
// neighbours and returns the raw fixed-point disparity.
func (cv *costVolume) subpixel(sad []int32, best int, bestCost int32) int16 {
	d := cv.minD + best
	if best == 0 || best == len(sad)-1 {
		return int16(d * Scale)
	}
	prev, next := int(sad[best-1]), int(sad[best+1])
	diff := prev - next
	denom := prev + next - 2*int(bestCost)
	if diff < 0 {
		denom -= diff
	} else {
		denom += diff
	}
	frac := 0
	if denom != 0 {
		frac = diff * 256 / denom
	}
	return int16((d*256 + frac + 15) >> 4)
}
