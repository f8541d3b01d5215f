// Package calibration loads the two-camera calibration produced offline
// (intrinsics, distortion, rectification and projection per camera plus
// the stereo extrinsics) and guarantees it is either complete or absent.
package calibration

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Camera holds one camera's calibration.
type Camera struct {
	Matrix      *mat.Dense // 3x3 intrinsics K
	DistCoeffs  []float64  // k1 k2 p1 p2 [k3 [k4 k5 k6 [s1 s2 s3 s4 [tx ty]]]]
	Proj        *mat.Dense // 3x4 projection in the rectified frame
	Rectif      *mat.Dense // 3x3 rectification rotation
	ROI         image.Rectangle
	ReprojError float64
}

// Params is a complete stereo calibration. The zero value is uncalibrated.
// Params are shared read-only after Load returns.
type Params struct {
	Width  int
	Height int

	Left  Camera
	Right Camera

	RotMatrix *mat.Dense // 3x3 rotation from left to right camera
	TransVec  *mat.Dense // 3x1 translation from left to right camera

	calibrated bool
}

// Calibrated reports whether every field was loaded.
func (p *Params) Calibrated() bool {
	return p != nil && p.calibrated
}

// Size returns the calibrated image size.
func (p *Params) Size() image.Point {
	return image.Pt(p.Width, p.Height)
}

// Baseline returns the length of the stereo translation vector in the
// calibration target's units.
func (p *Params) Baseline() float64 {
	if p.TransVec == nil {
		return 0
	}
	return mat.Norm(p.TransVec, 2)
}

// validDistortionLengths are the coefficient counts the distortion model
// understands.
var validDistortionLengths = map[int]bool{4: true, 5: true, 8: true, 12: true, 14: true}

func (c *Camera) check(side string) error {
	if err := checkDims(c.Matrix, 3, 3); err != nil {
		return fmt.Errorf("%s_matrix: %w", side, err)
	}
	if err := checkDims(c.Proj, 3, 4); err != nil {
		return fmt.Errorf("%s_proj: %w", side, err)
	}
	if err := checkDims(c.Rectif, 3, 3); err != nil {
		return fmt.Errorf("%s_rectif: %w", side, err)
	}
	if !validDistortionLengths[len(c.DistCoeffs)] {
		return fmt.Errorf("%s_dist_coeff: %d coefficients", side, len(c.DistCoeffs))
	}
	if math.IsNaN(c.ReprojError) || c.ReprojError < 0 {
		return fmt.Errorf("%s_reprojection_error: %v", side, c.ReprojError)
	}
	return nil
}

func checkDims(m *mat.Dense, rows, cols int) error {
	if m == nil {
		return fmt.Errorf("missing")
	}
	r, c := m.Dims()
	if r != rows || c != cols {
		return fmt.Errorf("shape %dx%d, want %dx%d", r, c, rows, cols)
	}
	return nil
}

// NewParams validates a fully populated set of fields and returns it
// marked calibrated. It is how tools build calibrations in code.
func NewParams(width, height int, left, right Camera, rot, trans *mat.Dense) (*Params, error) {
	p := &Params{Width: width, Height: height, Left: left, Right: right, RotMatrix: rot, TransVec: trans}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibrationMalformed, err)
	}
	p.calibrated = true
	return p, nil
}

func (p *Params) validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("size %dx%d must be positive", p.Width, p.Height)
	}
	if err := p.Left.check("left"); err != nil {
		return err
	}
	if err := p.Right.check("right"); err != nil {
		return err
	}
	if err := checkDims(p.RotMatrix, 3, 3); err != nil {
		return fmt.Errorf("both_rot_matrix: %w", err)
	}
	if err := checkDims(p.TransVec, 3, 1); err != nil {
		return fmt.Errorf("both_trans_vec: %w", err)
	}
	return nil
}
