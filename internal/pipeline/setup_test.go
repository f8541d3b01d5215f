package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stereo.depth/internal/calibration"
	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/disparity"
	"github.com/banshee-data/stereo.depth/internal/rectify"
)

func TestNewEstimator(t *testing.T) {
	calib := calibration.Ideal(testW, testH, testW, 0.1)

	est, rect, err := NewEstimator(StrategyBlockMatch, testParams(), nil, calib, 2)
	require.NoError(t, err)
	assert.IsType(t, &disparity.BlockMatcher{}, est)
	assert.IsType(t, &rectify.Stage{}, rect)

	est, rect, err = NewEstimator(StrategyMultiBaseline, testParams(), nil, calib, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, est.Views())
	assert.Equal(t, rectify.Identity{}, rect)

	est, rect, err = NewEstimator(StrategyBlockMatch, testParams(), nil, nil, 2)
	require.NoError(t, err)
	assert.Nil(t, est)
	assert.Nil(t, rect)

	tests := []struct {
		name      string
		strategy  string
		baselines []float64
		devices   int
		params    func(*disparity.Params)
	}{
		{name: "one source", strategy: StrategyBlockMatch, devices: 1},
		{name: "baseline count", strategy: StrategyMultiBaseline, baselines: []float64{1, 2, 3}, devices: 3},
		{name: "bad params", strategy: StrategyBlockMatch, devices: 2, params: func(p *disparity.Params) { p.BlockSize = 4 }},
		{name: "unknown", strategy: "sgbm", devices: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			if tt.params != nil {
				tt.params(&p)
			}
			_, _, err := NewEstimator(tt.strategy, p, tt.baselines, calib, tt.devices)
			assert.Error(t, err)
		})
	}
}

func TestNewEstimatorFeedsPipeline(t *testing.T) {
	calib := calibration.Ideal(testW, testH, testW, 0.1)
	est, rect, err := NewEstimator(StrategyBlockMatch, testParams(), nil, calib, 2)
	require.NoError(t, err)
	p, err := New(Config{Array: openArray(t, camera.PatternOpener(testShift), 2), Estimator: est, Rectifier: rect})
	require.NoError(t, err)
	assert.Same(t, est, p.Estimator())
}
