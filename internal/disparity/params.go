package disparity

import (
	"fmt"
	"math"

	"github.com/banshee-data/stereo.depth/internal/config"
)

// FractionalBits is the number of sub-pixel bits in raw disparity values.
const FractionalBits = 4

// Scale converts pixel disparities to raw fixed-point values.
const Scale = 1 << FractionalBits

// PreFilter selects the intensity normalization applied before matching.
type PreFilter int

const (
	// PreFilterNormalized subtracts the local mean over PreFilterSize.
	PreFilterNormalized PreFilter = 0
	// PreFilterXSobel uses the horizontal Sobel response.
	PreFilterXSobel PreFilter = 1
)

// Params are the block-matching parameters. JSON names match the config
// file and the live tuning endpoint.
type Params struct {
	BlockSize         int       `json:"block_size"`
	MinDisparity      int       `json:"min_disparity"`
	NumDisparities    int       `json:"num_disparities"`
	UniquenessRatio   int       `json:"uniqueness_ratio"`
	SpeckleWindowSize int       `json:"speckle_window_size"`
	SpeckleRange      int       `json:"speckle_range"` // raw fixed-point units; negative disables
	TextureThreshold  int       `json:"texture_threshold"`
	PreFilterCap      int       `json:"prefilter_cap"`
	PreFilterSize     int       `json:"prefilter_size"`
	PreFilterType     PreFilter `json:"prefilter_type"`
	Workers           int       `json:"disparity_workers"` // 0 means GOMAXPROCS
}

// DefaultParams returns the parameter set tuned for the reference rig.
func DefaultParams() Params {
	return ParamsFromConfig(config.EmptyStereoConfig())
}

// ParamsFromConfig builds Params from a loaded StereoConfig.
func ParamsFromConfig(cfg *config.StereoConfig) Params {
	return Params{
		BlockSize:         cfg.GetBlockSize(),
		MinDisparity:      cfg.GetMinDisparity(),
		NumDisparities:    cfg.GetNumDisparities(),
		UniquenessRatio:   cfg.GetUniquenessRatio(),
		SpeckleWindowSize: cfg.GetSpeckleWindowSize(),
		SpeckleRange:      cfg.GetSpeckleRange(),
		TextureThreshold:  cfg.GetTextureThreshold(),
		PreFilterCap:      cfg.GetPreFilterCap(),
		PreFilterSize:     cfg.GetPreFilterSize(),
		PreFilterType:     PreFilter(cfg.GetPreFilterType()),
		Workers:           cfg.GetDisparityWorkers(),
	}
}

// Validate checks every parameter range.
func (p Params) Validate() error {
	if p.BlockSize < 5 || p.BlockSize > 255 || p.BlockSize%2 == 0 {
		return fmt.Errorf("block_size must be odd and between 5 and 255, got %d", p.BlockSize)
	}
	if p.NumDisparities <= 0 || p.NumDisparities%16 != 0 {
		return fmt.Errorf("num_disparities must be a positive multiple of 16, got %d", p.NumDisparities)
	}
	// Raw values, the invalid marker included, are int16 fixed point.
	if lo, hi := (p.MinDisparity-1)*Scale, (p.MinDisparity+p.NumDisparities)*Scale; lo < math.MinInt16 || hi > math.MaxInt16 {
		return fmt.Errorf("disparity range [%d, %d) does not fit raw int16 values at scale %d",
			p.MinDisparity, p.MinDisparity+p.NumDisparities, Scale)
	}
	if p.UniquenessRatio < 0 {
		return fmt.Errorf("uniqueness_ratio must be non-negative, got %d", p.UniquenessRatio)
	}
	if p.SpeckleWindowSize < 0 {
		return fmt.Errorf("speckle_window_size must be non-negative, got %d", p.SpeckleWindowSize)
	}
	if p.TextureThreshold < 0 {
		return fmt.Errorf("texture_threshold must be non-negative, got %d", p.TextureThreshold)
	}
	if p.PreFilterCap < 1 || p.PreFilterCap > 63 {
		return fmt.Errorf("prefilter_cap must be between 1 and 63, got %d", p.PreFilterCap)
	}
	if p.PreFilterSize < 5 || p.PreFilterSize > 255 || p.PreFilterSize%2 == 0 {
		return fmt.Errorf("prefilter_size must be odd and between 5 and 255, got %d", p.PreFilterSize)
	}
	if p.PreFilterType != PreFilterNormalized && p.PreFilterType != PreFilterXSobel {
		return fmt.Errorf("prefilter_type must be 0 or 1, got %d", p.PreFilterType)
	}
	if p.Workers < 0 {
		return fmt.Errorf("disparity_workers must be non-negative, got %d", p.Workers)
	}
	return nil
}

// Invalid is the raw marker for pixels without a reliable match.
func (p Params) Invalid() int16 {
	return int16((p.MinDisparity - 1) * Scale)
}

// MaxDisparity is the largest disparity searched, in pixels.
func (p Params) MaxDisparity() int {
	return p.MinDisparity + p.NumDisparities - 1
}
