package calibration

import (
	"image"

	"gonum.org/v1/gonum/mat"
)

// Ideal returns a calibration for a distortion-free, already rectified
// pair: identical pinhole intrinsics with focal length f at the image
// centre, identity rotations and a pure horizontal baseline. Development
// rigs and synthetic sources use it in place of a calibration file.
func Ideal(width, height int, f, baseline float64) *Params {
	cx, cy := float64(width-1)/2, float64(height-1)/2
	k := func() *mat.Dense {
		return mat.NewDense(3, 3, []float64{f, 0, cx, 0, f, cy, 0, 0, 1})
	}
	proj := func(tx float64) *mat.Dense {
		return mat.NewDense(3, 4, []float64{f, 0, cx, tx, 0, f, cy, 0, 0, 0, 1, 0})
	}
	eye := func() *mat.Dense {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	}
	full := image.Rect(0, 0, width, height)
	left := Camera{Matrix: k(), DistCoeffs: make([]float64, 5), Proj: proj(0), Rectif: eye(), ROI: full}
	right := Camera{Matrix: k(), DistCoeffs: make([]float64, 5), Proj: proj(-f * baseline), Rectif: eye(), ROI: full}
	p, err := NewParams(width, height, left, right, eye(), mat.NewDense(3, 1, []float64{-baseline, 0, 0}))
	if err != nil {
		panic(err)
	}
	return p
}
