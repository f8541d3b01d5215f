// Package rectify undistorts and rectifies raw camera frames using remap
// tables derived once from a stereo calibration.
package rectify

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/stereo.depth/internal/calibration"
)

// Maps holds, for every rectified pixel, the raw-image coordinate it
// samples from.
type Maps struct {
	Width  int
	Height int
	X      []float32
	Y      []float32
}

// At returns the source coordinate for rectified pixel (u, v).
func (m *Maps) At(u, v int) (float32, float32) {
	i := v*m.Width + u
	return m.X[i], m.Y[i]
}

// distortion unpacks coefficient slices of length 4, 5, 8, 12 or 14.
// The tilt terms of the 14-coefficient model are not applied.
type distortion struct {
	k1, k2, p1, p2, k3, k4, k5, k6 float64
	s1, s2, s3, s4                 float64
}

func newDistortion(d []float64) distortion {
	var c [12]float64
	copy(c[:], d)
	return distortion{
		k1: c[0], k2: c[1], p1: c[2], p2: c[3], k3: c[4],
		k4: c[5], k5: c[6], k6: c[7],
		s1: c[8], s2: c[9], s3: c[10], s4: c[11],
	}
}

// apply maps a normalized undistorted point to its distorted position.
func (d distortion) apply(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radial := (1 + d.k1*r2 + d.k2*r4 + d.k3*r6) / (1 + d.k4*r2 + d.k5*r4 + d.k6*r6)
	xd := x*radial + 2*d.p1*x*y + d.p2*(r2+2*x*x) + d.s1*r2 + d.s2*r4
	yd := y*radial + d.p1*(r2+2*y*y) + 2*d.p2*x*y + d.s3*r2 + d.s4*r4
	return xd, yd
}

// BuildMaps computes the undistort-rectify mapping for one camera: each
// rectified pixel is back-projected through (P*R)^-1, distorted with the
// camera's coefficients and projected with its intrinsics K.
func BuildMaps(cam calibration.Camera, width, height int) (*Maps, error) {
	var pr mat.Dense
	pr.Mul(cam.Proj.Slice(0, 3, 0, 3), cam.Rectif)
	var inv mat.Dense
	if err := inv.Inverse(&pr); err != nil {
		return nil, fmt.Errorf("invert P*R: %w", err)
	}

	fx, skew, cx := cam.Matrix.At(0, 0), cam.Matrix.At(0, 1), cam.Matrix.At(0, 2)
	fy, cy := cam.Matrix.At(1, 1), cam.Matrix.At(1, 2)
	dist := newDistortion(cam.DistCoeffs)
	ir := inv.RawMatrix()
	r := func(i, j int) float64 { return ir.Data[i*ir.Stride+j] }

	m := &Maps{
		Width:  width,
		Height: height,
		X:      make([]float32, width*height),
		Y:      make([]float32, width*height),
	}
	for v := 0; v < height; v++ {
		// Row start in homogeneous coordinates; stepping u adds column 0.
		x0 := r(0, 1)*float64(v) + r(0, 2)
		y0 := r(1, 1)*float64(v) + r(1, 2)
		w0 := r(2, 1)*float64(v) + r(2, 2)
		for u := 0; u < width; u++ {
			fu := float64(u)
			w := 1 / (w0 + r(2, 0)*fu)
			x := (x0 + r(0, 0)*fu) * w
			y := (y0 + r(1, 0)*fu) * w
			xd, yd := dist.apply(x, y)
			i := v*width + u
			m.X[i] = float32(fx*xd + skew*yd + cx)
			m.Y[i] = float32(fy*yd + cy)
		}
	}
	return m, nil
}
