package rectify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/stereo.depth/internal/calibration"
	"github.com/banshee-data/stereo.depth/internal/frame"
)

func gradient(w, h, ch int) *frame.Frame {
	f := frame.New(w, h, ch)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				f.Pix[(y*w+x)*ch+c] = uint8((x*7 + y*3 + c*40) % 256)
			}
		}
	}
	return f
}

func TestNewStageUncalibrated(t *testing.T) {
	_, err := NewStage(nil)
	assert.ErrorIs(t, err, ErrUncalibrated)

	_, err = NewStage(&calibration.Params{Width: 640, Height: 480})
	assert.ErrorIs(t, err, ErrUncalibrated)
}

func TestIdealCalibrationIsIdentity(t *testing.T) {
	p := calibration.Ideal(32, 24, 40, 0.1)
	s, err := NewStage(p)
	require.NoError(t, err)

	l, r := s.Maps()
	for _, m := range []*Maps{l, r} {
		for v := 0; v < m.Height; v++ {
			for u := 0; u < m.Width; u++ {
				x, y := m.At(u, v)
				require.InDelta(t, float64(u), float64(x), 1e-4)
				require.InDelta(t, float64(v), float64(y), 1e-4)
			}
		}
	}

	left, right := gradient(32, 24, frame.BGR), gradient(32, 24, frame.BGR)
	left.Seq = 9
	rl, rr, err := s.Rectify(left, right)
	require.NoError(t, err)
	assert.Equal(t, left.Pix, rl.Pix)
	assert.Equal(t, right.Pix, rr.Pix)
	assert.Equal(t, uint64(9), rl.Seq)
}

// Moving the rectified principal point shifts the image.
func TestProjectionShift(t *testing.T) {
	ideal := calibration.Ideal(40, 20, 50, 0.1)
	left := ideal.Left
	left.Proj = mat.DenseCopyOf(ideal.Left.Proj)
	left.Proj.Set(0, 2, left.Proj.At(0, 2)+5)
	p, err := calibration.NewParams(40, 20, left, ideal.Right, ideal.RotMatrix, ideal.TransVec)
	require.NoError(t, err)

	s, err := NewStage(p)
	require.NoError(t, err)
	src := gradient(40, 20, frame.Gray)
	out, _, err := s.Rectify(src, gradient(40, 20, frame.Gray))
	require.NoError(t, err)

	for y := 0; y < 20; y++ {
		for x := 0; x < 5; x++ {
			assert.Zero(t, out.Pix[y*40+x], "pixel (%d,%d) samples outside the source", x, y)
		}
		for x := 5; x < 40; x++ {
			assert.Equal(t, src.Pix[y*40+x-5], out.Pix[y*40+x])
		}
	}
}

func TestDistortionMapping(t *testing.T) {
	ideal := calibration.Ideal(64, 48, 60, 0.1)
	cam := ideal.Left
	cam.DistCoeffs = []float64{-0.2, 0.05, 0.001, -0.002, 0.01}
	m, err := BuildMaps(cam, 64, 48)
	require.NoError(t, err)

	fx, cx, cy := 60.0, cam.Matrix.At(0, 2), cam.Matrix.At(1, 2)
	u, v := 60, 40
	x, y := (float64(u)-cx)/fx, (float64(v)-cy)/fx
	r2 := x*x + y*y
	radial := 1 - 0.2*r2 + 0.05*r2*r2 + 0.01*r2*r2*r2
	xd := x*radial + 2*0.001*x*y + -0.002*(r2+2*x*x)
	yd := y*radial + 0.001*(r2+2*y*y) + 2*-0.002*x*y

	gx, gy := m.At(u, v)
	assert.InDelta(t, fx*xd+cx, float64(gx), 1e-3)
	assert.InDelta(t, fx*yd+cy, float64(gy), 1e-3)

	// Barrel distortion pulls corners toward the centre.
	cornerX, _ := m.At(63, 24)
	assert.Less(t, float64(cornerX), 63.0)
}

func TestRemapBilinear(t *testing.T) {
	src := frame.New(2, 2, frame.Gray)
	copy(src.Pix, []byte{0, 100, 50, 150})
	m := &Maps{Width: 1, Height: 1, X: []float32{0.5}, Y: []float32{0.5}}
	out := Remap(src, m, nil)
	assert.Equal(t, []byte{75}, out.Pix)

	m.X[0], m.Y[0] = 1.5, 0
	out = Remap(src, m, out)
	assert.Equal(t, []byte{50}, out.Pix, "right neighbour outside reads as zero")

	m.X[0], m.Y[0] = -3, 0
	out = Remap(src, m, out)
	assert.Equal(t, []byte{0}, out.Pix)

	m.X[0], m.Y[0] = float32(math.NaN()), 0
	assert.NotPanics(t, func() { Remap(src, m, out) })
}

func TestRectifyDimensionMismatch(t *testing.T) {
	s, err := NewStage(calibration.Ideal(32, 24, 40, 0.1))
	require.NoError(t, err)

	_, _, err = s.Rectify(gradient(16, 24, frame.Gray), gradient(32, 24, frame.Gray))
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)
	_, _, err = s.Rectify(gradient(32, 24, frame.Gray), gradient(32, 24, frame.BGR))
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)
	_, _, err = s.Rectify(nil, gradient(32, 24, frame.Gray))
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)

	_, err = s.Apply([]*frame.Frame{gradient(32, 24, frame.Gray)})
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	views := []*frame.Frame{gradient(8, 8, frame.Gray), gradient(8, 8, frame.Gray), gradient(8, 8, frame.Gray)}
	out, err := Identity{}.Apply(views)
	require.NoError(t, err)
	assert.Same(t, views[2], out[2])

	_, err = Identity{}.Apply([]*frame.Frame{gradient(8, 8, frame.Gray), gradient(4, 8, frame.Gray)})
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)
}
