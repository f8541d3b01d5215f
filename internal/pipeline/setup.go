package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/stereo.depth/internal/calibration"
	"github.com/banshee-data/stereo.depth/internal/disparity"
	"github.com/banshee-data/stereo.depth/internal/rectify"
)

// Strategy names accepted by NewEstimator.
const (
	StrategyBlockMatch    = "bm"
	StrategyMultiBaseline = "multibaseline"
)

// NewEstimator builds the matcher named by strategy and the rectifier
// that feeds it. A nil calibration yields nil for both, which New accepts
// as a capture-only pipeline.
//
// Block matching rectifies the pair with the calibration. Multi-baseline
// sources are expected pre-rectified; with no baselines given the views
// are taken as equally spaced.
func NewEstimator(strategy string, params disparity.Params, baselines []float64, calib *calibration.Params, devices int) (disparity.Estimator, Rectifier, error) {
	if calib == nil {
		return nil, nil, nil
	}
	switch strategy {
	case StrategyBlockMatch:
		if devices < 2 {
			return nil, nil, errors.New("block matching needs two sources")
		}
		stage, err := rectify.NewStage(calib)
		if err != nil {
			return nil, nil, err
		}
		bm, err := disparity.NewBlockMatcher(params)
		if err != nil {
			return nil, nil, err
		}
		return bm, stage, nil
	case StrategyMultiBaseline:
		if len(baselines) == 0 {
			for i := 1; i < devices; i++ {
				baselines = append(baselines, float64(i))
			}
		}
		if len(baselines)+1 != devices {
			return nil, nil, fmt.Errorf("multi-baseline has %d baselines for %d sources", len(baselines), devices)
		}
		mb, err := disparity.NewMultiBaseline(params, baselines)
		if err != nil {
			return nil, nil, err
		}
		return mb, rectify.Identity{}, nil
	}
	return nil, nil, fmt.Errorf("unknown strategy %q", strategy)
}
