package rectify

import (
	"errors"
	"fmt"

	"github.com/banshee-data/stereo.depth/internal/calibration"
	"github.com/banshee-data/stereo.depth/internal/frame"
)

// ErrUncalibrated is returned when rectification is requested without a
// complete calibration.
var ErrUncalibrated = errors.New("rectification requires a loaded calibration")

// Stage rectifies left/right frame pairs with precomputed maps. It holds
// no mutable state after construction and may be shared.
type Stage struct {
	params *calibration.Params
	left   *Maps
	right  *Maps
}

// NewStage builds remap tables for both cameras.
func NewStage(p *calibration.Params) (*Stage, error) {
	if !p.Calibrated() {
		return nil, ErrUncalibrated
	}
	left, err := BuildMaps(p.Left, p.Width, p.Height)
	if err != nil {
		return nil, fmt.Errorf("left maps: %w", err)
	}
	right, err := BuildMaps(p.Right, p.Width, p.Height)
	if err != nil {
		return nil, fmt.Errorf("right maps: %w", err)
	}
	return &Stage{params: p, left: left, right: right}, nil
}

// Maps returns the left and right tables.
func (s *Stage) Maps() (*Maps, *Maps) { return s.left, s.right }

// Rectify remaps a raw pair. Both frames must share a channel count and
// have the calibrated size.
func (s *Stage) Rectify(left, right *frame.Frame) (*frame.Frame, *frame.Frame, error) {
	if left == nil || right == nil {
		return nil, nil, fmt.Errorf("rectify: nil frame: %w", frame.ErrDimensionMismatch)
	}
	if err := left.CheckShape(s.params.Width, s.params.Height, left.Channels); err != nil {
		return nil, nil, fmt.Errorf("rectify left: %w", err)
	}
	if err := right.CheckShape(s.params.Width, s.params.Height, left.Channels); err != nil {
		return nil, nil, fmt.Errorf("rectify right: %w", err)
	}
	return Remap(left, s.left, nil), Remap(right, s.right, nil), nil
}

// Apply rectifies a two-view slice.
func (s *Stage) Apply(views []*frame.Frame) ([]*frame.Frame, error) {
	if len(views) != 2 {
		return nil, fmt.Errorf("rectify: stage handles 2 views, got %d", len(views))
	}
	l, r, err := s.Rectify(views[0], views[1])
	if err != nil {
		return nil, err
	}
	return []*frame.Frame{l, r}, nil
}

// Identity passes views through unchanged, for sources that deliver
// rectified images already.
type Identity struct{}

func (Identity) Apply(views []*frame.Frame) ([]*frame.Frame, error) {
	for i := 1; i < len(views); i++ {
		if !views[i].SameShape(views[0]) {
			return nil, fmt.Errorf("view %d: %w", i, frame.ErrDimensionMismatch)
		}
	}
	return views, nil
}
