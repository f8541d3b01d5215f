package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/disparity"
	"github.com/banshee-data/stereo.depth/internal/frame"
	"github.com/banshee-data/stereo.depth/internal/fsutil"
	"github.com/banshee-data/stereo.depth/internal/rectify"
)

const (
	testW     = 96
	testH     = 48
	testShift = 5
)

func testParams() disparity.Params {
	return disparity.Params{
		BlockSize:        9,
		NumDisparities:   16,
		UniquenessRatio:  10,
		SpeckleRange:     16,
		TextureThreshold: 10,
		PreFilterCap:     31,
		PreFilterSize:    9,
		PreFilterType:    disparity.PreFilterNormalized,
		Workers:          2,
	}
}

func openArray(t *testing.T, opener camera.Opener, n int) *camera.Array {
	t.Helper()
	srcs := make([]camera.Source, n)
	for i := range srcs {
		srcs[i] = camera.IndexSource(i)
	}
	a, err := camera.Open(srcs, camera.Config{Width: testW, Height: testH, FPS: 30, Opener: opener})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func newPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Estimator == nil {
		bm, err := disparity.NewBlockMatcher(testParams())
		require.NoError(t, err)
		cfg.Estimator = bm
	}
	if cfg.Rectifier == nil {
		cfg.Rectifier = rectify.Identity{}
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestCycle_ComputesDisparity(t *testing.T) {
	p := newPipeline(t, Config{Array: openArray(t, camera.PatternOpener(testShift), 2)})

	res, err := p.Cycle(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.CaptureErr)
	require.NotNil(t, res.Map)
	require.NotNil(t, res.Visual)
	assert.Len(t, res.Raw, 2)
	assert.Equal(t, uint64(1), res.Seq)
	assert.NotEmpty(t, res.TraceID)
	assert.Equal(t, res.TraceID, res.Map.TraceID)

	total, good := 0, 0
	for y := 8; y < testH-8; y++ {
		for x := 32; x < testW-8; x++ {
			total++
			if d, ok := res.Map.At(x, y); ok && d > testShift-0.5 && d < testShift+0.5 {
				good++
			}
		}
	}
	assert.Greater(t, float64(good)/float64(total), 0.9, "%d of %d interior pixels at d=%d", good, total, testShift)

	st := p.Stats()
	assert.Equal(t, uint64(1), st.Computed)
	require.NotNil(t, st.LastDisparity)
	assert.Same(t, res, p.Latest())
}

func TestCycle_CaptureFailureIsAbsorbed(t *testing.T) {
	left := &camera.TestableDriver{}
	right := &camera.TestableDriver{GrabError: errors.New("no frame")}
	var consumed []*Result
	p := newPipeline(t, Config{
		Array: openArray(t, camera.MockOpener(left, right), 2),
		Sinks: []Sink{SinkFunc(func(r *Result) error { consumed = append(consumed, r); return nil })},
	})

	for i := 0; i < 3; i++ {
		res, err := p.Cycle(context.Background())
		require.NoError(t, err)
		assert.ErrorIs(t, res.CaptureErr, camera.ErrCaptureFailed)
		assert.True(t, res.Skipped())
		assert.Nil(t, res.Raw)
	}
	assert.Len(t, consumed, 3)
	assert.Equal(t, uint64(3), consumed[2].Cycle)
	assert.Equal(t, uint64(3), p.Stats().CaptureFailures)

	right.SetGrabError(nil)
	res, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped())
}

func TestCycle_AllDevicesUnavailable(t *testing.T) {
	p := newPipeline(t, Config{Array: openArray(t, camera.MockOpener(nil, nil), 2)})
	_, err := p.Cycle(context.Background())
	assert.ErrorIs(t, err, ErrAllDevicesUnavailable)
	assert.ErrorIs(t, p.Run(context.Background()), ErrAllDevicesUnavailable)
}

func TestCycle_ViewUnavailable(t *testing.T) {
	a := openArray(t, camera.MockOpener(nil, &camera.TestableDriver{}, &camera.TestableDriver{}), 3)
	p := newPipeline(t, Config{Array: a})
	_, err := p.Cycle(context.Background())
	assert.ErrorIs(t, err, ErrViewUnavailable)

	// The healthy pair still works when selected explicitly.
	p = newPipeline(t, Config{Array: a, Views: []int{1, 2}})
	res, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.NoError(t, res.CaptureErr)
}

func TestCycle_Black(t *testing.T) {
	p := newPipeline(t, Config{Array: openArray(t, camera.MockOpener(nil, nil), 2), Black: true})
	res, err := p.Cycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Map)
	assert.Zero(t, res.Map.Stats().Valid, "black frames have no texture")
	for _, v := range res.Visual.Pix {
		require.Zero(t, v)
	}
}

func TestCycle_CaptureOnly(t *testing.T) {
	p, err := New(Config{Array: openArray(t, camera.PatternOpener(1), 3)})
	require.NoError(t, err)
	res, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Raw, 3)
	assert.Nil(t, res.Map)
}

type rectifierFunc func([]*frame.Frame) ([]*frame.Frame, error)

func (f rectifierFunc) Apply(v []*frame.Frame) ([]*frame.Frame, error) { return f(v) }

func TestCycle_DimensionMismatchSurfaces(t *testing.T) {
	shrink := rectifierFunc(func(v []*frame.Frame) ([]*frame.Frame, error) {
		return []*frame.Frame{v[0], frame.New(testW/2, testH, frame.Gray)}, nil
	})
	p := newPipeline(t, Config{Array: openArray(t, camera.PatternOpener(2), 2), Rectifier: shrink})
	_, err := p.Cycle(context.Background())
	assert.ErrorIs(t, err, frame.ErrDimensionMismatch)
	assert.Equal(t, uint64(1), p.Stats().Errors)
}

func TestNew_Validation(t *testing.T) {
	a := openArray(t, camera.PatternOpener(1), 2)
	bm, err := disparity.NewBlockMatcher(testParams())
	require.NoError(t, err)

	_, err = New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Array: a, Estimator: bm})
	assert.Error(t, err, "estimator needs a rectifier")
	_, err = New(Config{Array: a, Estimator: bm, Rectifier: rectify.Identity{}, Views: []int{0, 5}})
	assert.Error(t, err)
	_, err = New(Config{Array: a, Estimator: bm, Rectifier: rectify.Identity{}, Views: []int{0}})
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	for _, background := range []bool{false, true} {
		name := "foreground"
		if background {
			name = "background"
		}
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var computed atomic.Int32
			p := newPipeline(t, Config{
				Array:      openArray(t, camera.PatternOpener(testShift), 2),
				Background: background,
				Sinks: []Sink{SinkFunc(func(r *Result) error {
					if !r.Skipped() && computed.Add(1) == 3 {
						cancel()
					}
					return nil
				})},
			})

			done := make(chan error, 1)
			go func() { done <- p.Run(ctx) }()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("Run did not return")
			}
			assert.GreaterOrEqual(t, computed.Load(), int32(3))
		})
	}
}

func TestRun_HungGrabIsPaced(t *testing.T) {
	for _, background := range []bool{false, true} {
		name := "foreground"
		if background {
			name = "background"
		}
		t.Run(name, func(t *testing.T) {
			hung := &camera.TestableDriver{GrabLatency: 300 * time.Millisecond}
			p := newPipeline(t, Config{
				Array:          openArray(t, camera.MockOpener(hung, &camera.TestableDriver{}), 2),
				CaptureTimeout: 10 * time.Millisecond,
				Background:     background,
			})

			ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer cancel()
			require.NoError(t, p.Run(ctx))

			st := p.Stats()
			assert.LessOrEqual(t, st.Cycles, uint64(30), "cycles wait for the abandoned capture")
			assert.Equal(t, st.Cycles, st.CaptureFailures)
		})
	}
}

func TestSinkErrorsAreCounted(t *testing.T) {
	p := newPipeline(t, Config{
		Array: openArray(t, camera.PatternOpener(1), 2),
		Sinks: []Sink{SinkFunc(func(*Result) error { return errors.New("disk full") })},
	})
	_, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Stats().SinkErrors)
}

func TestSnapshotSink(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	sink, err := NewSnapshotSink(fsys, "snap", 2)
	require.NoError(t, err)

	p := newPipeline(t, Config{Array: openArray(t, camera.PatternOpener(2), 2), Sinks: []Sink{sink}})
	for i := 0; i < 3; i++ {
		_, err := p.Cycle(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{
		"snap/00000001_disparity.png",
		"snap/00000001_view0.png",
		"snap/00000001_view1.png",
		"snap/00000003_disparity.png",
		"snap/00000003_view0.png",
		"snap/00000003_view1.png",
	}, fsys.List("snap"))

	_, err = NewSnapshotSink(fsys, "snap", 0)
	assert.Error(t, err)
}
