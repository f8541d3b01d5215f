// Package disparity computes dense disparity maps from rectified
// intensity images by block matching.
package disparity

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/banshee-data/stereo.depth/internal/frame"
)

// Estimator computes a disparity map from rectified single-channel views
// ordered along the baseline, the reference view first.
type Estimator interface {
	Views() int
	Estimate(views []*frame.Frame) (*Map, error)
}

// Tunable is implemented by estimators whose parameters can change
// between calls.
type Tunable interface {
	Params() Params
	SetParams(Params) error
}

// tuner swaps parameters atomically. A computation reads the pointer once
// so a concurrent SetParams takes effect on the next call.
type tuner struct {
	p atomic.Pointer[Params]
}

func (t *tuner) init(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.p.Store(&p)
	return nil
}

// Params returns the parameters the next computation will use.
func (t *tuner) Params() Params { return *t.p.Load() }

// SetParams validates and installs new parameters.
func (t *tuner) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		opsf("rejected parameter update: %v", err)
		return fmt.Errorf("set params: %w", err)
	}
	t.p.Store(&p)
	diagf("parameters updated: block=%d disparities=%d+%d uniqueness=%d speckle=%d/%d texture=%d",
		p.BlockSize, p.MinDisparity, p.NumDisparities, p.UniquenessRatio,
		p.SpeckleWindowSize, p.SpeckleRange, p.TextureThreshold)
	return nil
}

func checkViews(views []*frame.Frame, want int) error {
	if len(views) != want {
		return fmt.Errorf("got %d views, want %d: %w", len(views), want, frame.ErrDimensionMismatch)
	}
	for i, v := range views {
		if v == nil {
			return fmt.Errorf("view %d is nil: %w", i, frame.ErrDimensionMismatch)
		}
		if v.Channels != frame.Gray {
			return fmt.Errorf("view %d has %d channels, want 1: %w", i, v.Channels, frame.ErrDimensionMismatch)
		}
		if err := v.CheckShape(views[0].Width, views[0].Height, frame.Gray); err != nil {
			return fmt.Errorf("view %d: %w", i, err)
		}
	}
	return nil
}

func asPlane(f *frame.Frame) *plane {
	return &plane{w: f.Width, h: f.Height, pix: f.Pix}
}

// run prefilters every view, matches and post-filters.
func run(p Params, views []*frame.Frame, shifts [][]int) *Map {
	start := time.Now()
	ref := views[0]
	pre := make([]*plane, len(views))
	for i, v := range views {
		pre[i] = prefilter(asPlane(v), p)
	}
	var texture []int
	if p.TextureThreshold > 0 {
		texture = textureMap(pre[0], p.BlockSize, p.PreFilterCap)
	}
	m := newMap(ref.Width, ref.Height, p)
	m.Seq, m.Timestamp, m.TraceID = ref.Seq, ref.Timestamp, ref.TraceID

	cv := newCostVolume(pre[0], pre[1:], shifts, p, texture)
	cv.compute(m.Raw, p.Workers)
	if p.SpeckleWindowSize > 0 && p.SpeckleRange >= 0 {
		FilterSpeckles(m.Raw, m.Width, m.Height, m.Invalid, p.SpeckleWindowSize, p.SpeckleRange)
	}
	tracef("seq=%d matched %dx%d over %d candidates in %s", ref.Seq, ref.Width, ref.Height, p.NumDisparities, time.Since(start))
	return m
}

// BlockMatcher is the two-view SAD block matcher.
type BlockMatcher struct {
	tuner
}

// NewBlockMatcher validates p and returns a matcher.
func NewBlockMatcher(p Params) (*BlockMatcher, error) {
	m := &BlockMatcher{}
	if err := m.init(p); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BlockMatcher) Views() int { return 2 }

// Compute matches a rectified left/right pair. Both frames must be
// single-channel with equal dimensions.
func (m *BlockMatcher) Compute(left, right *frame.Frame) (*Map, error) {
	return m.Estimate([]*frame.Frame{left, right})
}

// Estimate implements Estimator.
func (m *BlockMatcher) Estimate(views []*frame.Frame) (*Map, error) {
	if err := checkViews(views, 2); err != nil {
		return nil, fmt.Errorf("block matcher: %w", err)
	}
	p := m.Params()
	shifts := make([]int, p.NumDisparities)
	for i := range shifts {
		shifts[i] = p.MinDisparity + i
	}
	return run(p, views, [][]int{shifts}), nil
}

// MultiBaseline matches a reference view against several views placed
// along the same baseline, summing SAD costs over all pairs. Candidate
// disparities are expressed for the first pair; view k is sampled at that
// disparity times its baseline ratio.
type MultiBaseline struct {
	tuner
	ratios []float64
}

// NewMultiBaseline takes the baseline of each non-reference view, in any
// consistent unit.
func NewMultiBaseline(p Params, baselines []float64) (*MultiBaseline, error) {
	if len(baselines) < 1 {
		return nil, fmt.Errorf("multi-baseline needs at least one baseline")
	}
	ratios := make([]float64, len(baselines))
	for i, b := range baselines {
		if b <= 0 || math.IsNaN(b) || math.IsInf(b, 0) {
			return nil, fmt.Errorf("baseline %d must be positive, got %g", i, b)
		}
		ratios[i] = b / baselines[0]
	}
	m := &MultiBaseline{ratios: ratios}
	if err := m.init(p); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MultiBaseline) Views() int { return len(m.ratios) + 1 }

// Estimate implements Estimator.
func (m *MultiBaseline) Estimate(views []*frame.Frame) (*Map, error) {
	if err := checkViews(views, m.Views()); err != nil {
		return nil, fmt.Errorf("multi-baseline: %w", err)
	}
	p := m.Params()
	shifts := make([][]int, len(m.ratios))
	for k, r := range m.ratios {
		shifts[k] = make([]int, p.NumDisparities)
		for i := range shifts[k] {
			shifts[k][i] = int(math.Round(float64(p.MinDisparity+i) * r))
		}
	}
	return run(p, views, shifts), nil
}
