package disparity

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stereo.depth/internal/frame"
)

const (
	testW = 96
	testH = 48
)

func testParams() Params {
	return Params{
		BlockSize:         9,
		MinDisparity:      0,
		NumDisparities:    16,
		UniquenessRatio:   10,
		SpeckleWindowSize: 0,
		SpeckleRange:      16,
		TextureThreshold:  10,
		PreFilterCap:      31,
		PreFilterSize:     9,
		PreFilterType:     PreFilterNormalized,
		Workers:           3,
	}
}

// noise returns a w x h textured plane.
func noise(w, h int, seed uint64) []uint8 {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	pix := make([]uint8, w*h)
	for i := range pix {
		pix[i] = uint8(96 + r.IntN(64))
	}
	return pix
}

// shiftedViews crops n views from one wide texture, view k starting k*d
// columns to the right, so a point at column x in view 0 appears at
// x - k*d in view k.
func shiftedViews(n, d int, seed uint64) []*frame.Frame {
	wide := testW + (n-1)*d
	base := noise(wide, testH, seed)
	views := make([]*frame.Frame, n)
	for k := range views {
		f := frame.New(testW, testH, frame.Gray)
		for y := 0; y < testH; y++ {
			copy(f.Pix[y*testW:(y+1)*testW], base[y*wide+k*d:])
		}
		views[k] = f
	}
	return views
}

func flat(v uint8) *frame.Frame {
	f := frame.New(testW, testH, frame.Gray)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

// assertShift checks every pixel in the interior window matched d.
func assertShift(t *testing.T, m *Map, d, x0, x1, y0, y1 int) {
	t.Helper()
	sum, n := 0.0, 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			got, ok := m.At(x, y)
			require.True(t, ok, "pixel (%d,%d) invalid", x, y)
			require.InDelta(t, float64(d), got, 0.5, "pixel (%d,%d)", x, y)
			sum += got
			n++
		}
	}
	assert.InDelta(t, float64(d), sum/float64(n), 0.1)
}

func TestBlockMatcherRecoversShift(t *testing.T) {
	for _, d := range []int{3, 6, 11} {
		t.Run(fmt.Sprintf("d=%d", d), func(t *testing.T) {
			bm, err := NewBlockMatcher(testParams())
			require.NoError(t, err)
			views := shiftedViews(2, d, uint64(d))
			views[0].Seq = 42

			m, err := bm.Compute(views[0], views[1])
			require.NoError(t, err)
			require.Equal(t, testW*testH, len(m.Raw))
			assert.Equal(t, uint64(42), m.Seq)
			assertShift(t, m, d, 24, 84, 8, 40)

			// Rescaled output grows with disparity.
			vis := m.Visual()
			want := float64(d*Scale) * m.VisualScale()
			assert.InDelta(t, want, float64(vis.Pix[24*testW+50]), 8*m.VisualScale()+1)
		})
	}
}

func TestBlockMatcherXSobel(t *testing.T) {
	p := testParams()
	p.PreFilterType = PreFilterXSobel
	bm, err := NewBlockMatcher(p)
	require.NoError(t, err)
	views := shiftedViews(2, 5, 99)
	m, err := bm.Estimate(views)
	require.NoError(t, err)
	assertShift(t, m, 5, 24, 84, 8, 40)
}

func TestBlockMatcherMinDisparityOffset(t *testing.T) {
	p := testParams()
	p.MinDisparity = 4
	bm, err := NewBlockMatcher(p)
	require.NoError(t, err)
	views := shiftedViews(2, 9, 7)
	m, err := bm.Compute(views[0], views[1])
	require.NoError(t, err)
	assert.Equal(t, int16(3*Scale), m.Invalid)
	assertShift(t, m, 9, 32, 84, 8, 40)
}

func TestUniformRegionsAreInvalid(t *testing.T) {
	bm, err := NewBlockMatcher(testParams())
	require.NoError(t, err)

	m, err := bm.Compute(flat(128), flat(128))
	require.NoError(t, err)
	for i, r := range m.Raw {
		require.Equal(t, m.Invalid, r, "pixel %d", i)
	}
	assert.Zero(t, m.Stats().Valid)
	for _, v := range m.Visual().Pix {
		require.Zero(t, v)
	}
}

func TestLowTextureHalfIsInvalid(t *testing.T) {
	views := shiftedViews(2, 4, 3)
	// Flatten the right half of the scene in both views.
	for k, v := range views {
		for y := 0; y < testH; y++ {
			for x := testW/2 - k*4; x < testW; x++ {
				if x >= 0 {
					v.Pix[y*testW+x] = 128
				}
			}
		}
	}
	bm, err := NewBlockMatcher(testParams())
	require.NoError(t, err)
	m, err := bm.Compute(views[0], views[1])
	require.NoError(t, err)

	for y := 8; y < 40; y++ {
		for x := testW/2 + 9; x < testW; x++ {
			_, ok := m.At(x, y)
			require.False(t, ok, "flat pixel (%d,%d) should be invalid", x, y)
		}
	}
	assertShift(t, m, 4, 24, testW/2-10, 8, 40)
}

func TestComputeRejectsBadInput(t *testing.T) {
	bm, err := NewBlockMatcher(testParams())
	require.NoError(t, err)

	_, err = bm.Compute(frame.New(testW, testH, frame.BGR), frame.New(testW, testH, frame.BGR))
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)

	_, err = bm.Compute(flat(1), frame.New(testW/2, testH, frame.Gray))
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)

	_, err = bm.Compute(flat(1), nil)
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)

	_, err = bm.Estimate([]*frame.Frame{flat(1)})
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)
}

func TestSmallImageIsAllInvalid(t *testing.T) {
	bm, err := NewBlockMatcher(testParams())
	require.NoError(t, err)
	a := frame.New(12, 6, frame.Gray)
	m, err := bm.Compute(a, a.Clone())
	require.NoError(t, err)
	assert.Zero(t, m.Stats().Valid)
}

func TestMultiBaseline(t *testing.T) {
	mb, err := NewMultiBaseline(testParams(), []float64{0.06, 0.12})
	require.NoError(t, err)
	assert.Equal(t, 3, mb.Views())

	views := shiftedViews(3, 4, 11)
	m, err := mb.Estimate(views)
	require.NoError(t, err)
	assertShift(t, m, 4, 40, 84, 8, 40)

	_, err = mb.Estimate(views[:2])
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)

	_, err = NewMultiBaseline(testParams(), nil)
	assert.Error(t, err)
	_, err = NewMultiBaseline(testParams(), []float64{1, -2})
	assert.Error(t, err)
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"even block", func(p *Params) { p.BlockSize = 10 }},
		{"tiny block", func(p *Params) { p.BlockSize = 3 }},
		{"zero disparities", func(p *Params) { p.NumDisparities = 0 }},
		{"disparities not multiple of 16", func(p *Params) { p.NumDisparities = 24 }},
		{"negative uniqueness", func(p *Params) { p.UniquenessRatio = -1 }},
		{"negative speckle window", func(p *Params) { p.SpeckleWindowSize = -1 }},
		{"negative texture", func(p *Params) { p.TextureThreshold = -5 }},
		{"cap too large", func(p *Params) { p.PreFilterCap = 64 }},
		{"cap zero", func(p *Params) { p.PreFilterCap = 0 }},
		{"even prefilter", func(p *Params) { p.PreFilterSize = 8 }},
		{"unknown prefilter", func(p *Params) { p.PreFilterType = 2 }},
		{"negative workers", func(p *Params) { p.Workers = -1 }},
		{"range overflows raw values", func(p *Params) { p.MinDisparity, p.NumDisparities = 2040, 32 }},
		{"range ends past raw maximum", func(p *Params) { p.NumDisparities = 2048 }},
		{"invalid marker underflows", func(p *Params) { p.MinDisparity = -2048 }},
	}
	require.NoError(t, testParams().Validate())
	require.NoError(t, DefaultParams().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
			_, err := NewBlockMatcher(p)
			assert.Error(t, err)
		})
	}
}

func TestParamsValidate_LargestRawRange(t *testing.T) {
	p := testParams()
	p.MinDisparity, p.NumDisparities = 2047-2032, 2032
	require.NoError(t, p.Validate())
	assert.Equal(t, int16(14*Scale), p.Invalid())

	p.MinDisparity = -2047
	p.NumDisparities = 16
	require.NoError(t, p.Validate())
	assert.Equal(t, int16(-2048*Scale), p.Invalid())
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 21, p.BlockSize)
	assert.Equal(t, 4, p.MinDisparity)
	assert.Equal(t, 128, p.NumDisparities)
	assert.Equal(t, 131, p.MaxDisparity())
	assert.Equal(t, int16(48), p.Invalid())
}

func TestSetParams(t *testing.T) {
	bm, err := NewBlockMatcher(testParams())
	require.NoError(t, err)

	bad := testParams()
	bad.BlockSize = 4
	assert.Error(t, bm.SetParams(bad))
	assert.Equal(t, 9, bm.Params().BlockSize, "rejected update must not apply")

	good := testParams()
	good.BlockSize = 11
	require.NoError(t, bm.SetParams(good))
	assert.Equal(t, 11, bm.Params().BlockSize)
}

// Updates racing with computations must land between calls.
func TestSetParamsConcurrentWithCompute(t *testing.T) {
	bm, err := NewBlockMatcher(testParams())
	require.NoError(t, err)
	views := shiftedViews(2, 5, 5)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			p := testParams()
			p.BlockSize = 7 + 2*(i%3)
			_ = bm.SetParams(p)
		}
	}()
	var tunable Tunable = bm
	for i := 0; i < 5; i++ {
		m, err := bm.Compute(views[0], views[1])
		require.NoError(t, err)
		assert.Equal(t, testW*testH, len(m.Raw))
	}
	wg.Wait()
	assert.Contains(t, []int{7, 9, 11}, tunable.Params().BlockSize)
}
