package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/stereo.depth/internal/fsutil"
)

var (
	// ErrCalibrationNotFound means the calibration file could not be opened.
	ErrCalibrationNotFound = errors.New("calibration not found")
	// ErrCalibrationMalformed means the file was read but a field is
	// missing or has the wrong type or shape.
	ErrCalibrationMalformed = errors.New("calibration malformed")
)

// document is the on-disk layout. Every field is required.
type document struct {
	Width  *uint `json:"width"`
	Height *uint `json:"height"`

	LeftDistCoeff         [][]float64 `json:"left_dist_coeff"`
	LeftMatrix            [][]float64 `json:"left_matrix"`
	LeftProj              [][]float64 `json:"left_proj"`
	LeftRectif            [][]float64 `json:"left_rectif"`
	LeftROI               []int       `json:"left_roi"`
	LeftReprojectionError *float64    `json:"left_reprojection_error"`

	RightDistCoeff         [][]float64 `json:"right_dist_coeff"`
	RightMatrix            [][]float64 `json:"right_matrix"`
	RightProj              [][]float64 `json:"right_proj"`
	RightRectif            [][]float64 `json:"right_rectif"`
	RightROI               []int       `json:"right_roi"`
	RightReprojectionError *float64    `json:"right_reprojection_error"`

	BothRotMatrix [][]float64 `json:"both_rot_matrix"`
	BothTransVec  [][]float64 `json:"both_trans_vec"`
}

// Load reads a calibration file. On any failure it returns an error
// wrapping ErrCalibrationNotFound or ErrCalibrationMalformed and no
// Params, so callers can never observe a half-filled calibration.
func Load(fsys fsutil.FileSystem, path string) (*Params, error) {
	diagf("loading calibration parameters from %q", path)
	data, err := fsys.ReadFile(path)
	if err != nil {
		opsf("unable to open %q, calibration has not been loaded: %v", path, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrCalibrationNotFound, path, err)
	}
	p, err := Parse(data)
	if err != nil {
		opsf("unable to parse %q, calibration has not been loaded: %v", path, err)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	diagf("calibration loaded: %dx%d, baseline %.4f, reprojection error left %.4f right %.4f",
		p.Width, p.Height, p.Baseline(), p.Left.ReprojError, p.Right.ReprojError)
	return p, nil
}

// Parse decodes a calibration document held in memory.
func Parse(data []byte) (*Params, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibrationMalformed, err)
	}
	p, err := doc.params()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibrationMalformed, err)
	}
	return p, nil
}

func (d *document) params() (*Params, error) {
	if d.Width == nil || d.Height == nil {
		return nil, fmt.Errorf("width and height are required")
	}
	left, err := camera("left", d.LeftDistCoeff, d.LeftMatrix, d.LeftProj, d.LeftRectif, d.LeftROI, d.LeftReprojectionError)
	if err != nil {
		return nil, err
	}
	right, err := camera("right", d.RightDistCoeff, d.RightMatrix, d.RightProj, d.RightRectif, d.RightROI, d.RightReprojectionError)
	if err != nil {
		return nil, err
	}
	rot, err := dense("both_rot_matrix", d.BothRotMatrix)
	if err != nil {
		return nil, err
	}
	trans, err := dense("both_trans_vec", d.BothTransVec)
	if err != nil {
		return nil, err
	}
	if r, c := trans.Dims(); r == 1 && c == 3 {
		trans = mat.DenseCopyOf(trans.T())
	}
	p := &Params{
		Width:     int(*d.Width),
		Height:    int(*d.Height),
		Left:      left,
		Right:     right,
		RotMatrix: rot,
		TransVec:  trans,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.calibrated = true
	return p, nil
}

func camera(side string, dist, k, proj, rectif [][]float64, roi []int, reproj *float64) (Camera, error) {
	var c Camera
	var err error
	if c.DistCoeffs, err = vector(side+"_dist_coeff", dist); err != nil {
		return Camera{}, err
	}
	if c.Matrix, err = dense(side+"_matrix", k); err != nil {
		return Camera{}, err
	}
	if c.Proj, err = dense(side+"_proj", proj); err != nil {
		return Camera{}, err
	}
	if c.Rectif, err = dense(side+"_rectif", rectif); err != nil {
		return Camera{}, err
	}
	if len(roi) != 4 {
		return Camera{}, fmt.Errorf("%s_roi: want 4 integers, got %d", side, len(roi))
	}
	if roi[2] < 0 || roi[3] < 0 {
		return Camera{}, fmt.Errorf("%s_roi: negative size %dx%d", side, roi[2], roi[3])
	}
	c.ROI = image.Rect(roi[0], roi[1], roi[0]+roi[2], roi[1]+roi[3])
	if reproj == nil {
		return Camera{}, fmt.Errorf("%s_reprojection_error: missing", side)
	}
	c.ReprojError = *reproj
	tracef("%s camera parsed: %d distortion coefficients, roi %v", side, len(c.DistCoeffs), c.ROI)
	return c, nil
}

// dense converts nested rows into a matrix, rejecting empty or ragged
// input.
func dense(name string, rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%s: missing or empty", name)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%s: row %d has %d values, want %d", name, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

// vector accepts a single row or a single column.
func vector(name string, rows [][]float64) ([]float64, error) {
	m, err := dense(name, rows)
	if err != nil {
		return nil, err
	}
	r, c := m.Dims()
	switch {
	case r == 1:
		return mat.Row(nil, 0, m), nil
	case c == 1:
		return mat.Col(nil, 0, m), nil
	}
	return nil, fmt.Errorf("%s: shape %dx%d is not a vector", name, r, c)
}

func rowsOf(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

func roiOf(r image.Rectangle) []int {
	return []int{r.Min.X, r.Min.Y, r.Dx(), r.Dy()}
}

// Marshal encodes calibrated params in the on-disk layout.
func Marshal(p *Params) ([]byte, error) {
	if !p.Calibrated() {
		return nil, fmt.Errorf("marshal calibration: not calibrated")
	}
	w, h := uint(p.Width), uint(p.Height)
	le, re := p.Left.ReprojError, p.Right.ReprojError
	doc := document{
		Width:  &w,
		Height: &h,

		LeftDistCoeff:         [][]float64{p.Left.DistCoeffs},
		LeftMatrix:            rowsOf(p.Left.Matrix),
		LeftProj:              rowsOf(p.Left.Proj),
		LeftRectif:            rowsOf(p.Left.Rectif),
		LeftROI:               roiOf(p.Left.ROI),
		LeftReprojectionError: &le,

		RightDistCoeff:         [][]float64{p.Right.DistCoeffs},
		RightMatrix:            rowsOf(p.Right.Matrix),
		RightProj:              rowsOf(p.Right.Proj),
		RightRectif:            rowsOf(p.Right.Rectif),
		RightROI:               roiOf(p.Right.ROI),
		RightReprojectionError: &re,

		BothRotMatrix: rowsOf(p.RotMatrix),
		BothTransVec:  rowsOf(p.TransVec),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Save writes calibrated params to path.
func Save(fsys fsutil.FileSystem, path string, p *Params) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write calibration %q: %w", path, err)
	}
	diagf("calibration written to %q", path)
	return nil
}
