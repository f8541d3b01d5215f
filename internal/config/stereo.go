package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file. Values in
// that file and the Get* fallbacks below must agree.
const DefaultConfigPath = "config/stereo.defaults.json"

// StereoConfig is the root configuration for capture, matching and
// pipeline pacing. The disparity fields share their schema with the
// /debug/params endpoint so the same JSON works at startup and for live
// retuning.
type StereoConfig struct {
	// Capture
	Sources        []string `json:"sources,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	FPS            *float64 `json:"fps,omitempty"`
	CaptureTimeout *string  `json:"capture_timeout,omitempty"` // duration string like "2s"
	Flip           *string  `json:"flip,omitempty"`            // "", "h", "v" or "hv"
	// Transforms run after Flip, in order: "gray", "flip:<mode>", "resize:WxH".
	Transforms []string `json:"transforms,omitempty"`

	// Disparity (block matching)
	BlockSize         *int `json:"block_size,omitempty"`
	MinDisparity      *int `json:"min_disparity,omitempty"`
	NumDisparities    *int `json:"num_disparities,omitempty"`
	UniquenessRatio   *int `json:"uniqueness_ratio,omitempty"`
	SpeckleWindowSize *int `json:"speckle_window_size,omitempty"`
	SpeckleRange      *int `json:"speckle_range,omitempty"`
	TextureThreshold  *int `json:"texture_threshold,omitempty"`
	PreFilterCap      *int `json:"prefilter_cap,omitempty"`
	PreFilterSize     *int `json:"prefilter_size,omitempty"`
	PreFilterType     *int `json:"prefilter_type,omitempty"`
	DisparityWorkers  *int `json:"disparity_workers,omitempty"`

	// Pipeline
	Strategy      *string   `json:"strategy,omitempty"` // "bm" or "multibaseline"
	Baselines     []float64 `json:"baselines,omitempty"`
	MaxFrameRate  *float64  `json:"max_frame_rate,omitempty"`
	SnapshotEvery *int      `json:"snapshot_every,omitempty"`

	// Hardware trigger
	TriggerPort    *string `json:"trigger_port,omitempty"`
	TriggerBaud    *int    `json:"trigger_baud,omitempty"`
	TriggerCommand *string `json:"trigger_command,omitempty"`
}

// EmptyStereoConfig returns a config with every field unset; the Get*
// methods then yield defaults.
func EmptyStereoConfig() *StereoConfig {
	return &StereoConfig{}
}

// LoadStereoConfig loads a StereoConfig from a JSON file. The file must have
// a .json extension and be under 1MB. Omitted fields keep their defaults.
func LoadStereoConfig(path string) (*StereoConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseStereoConfig(data)
}

// ParseStereoConfig decodes and validates a JSON document.
func ParseStereoConfig(data []byte) (*StereoConfig, error) {
	cfg := EmptyStereoConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories so tests in nested packages find it. Panics on failure.
func MustLoadDefaultConfig() *StereoConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadStereoConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks ranges on the fields that are set.
func (c *StereoConfig) Validate() error {
	positive := map[string]*int{"width": c.Width, "height": c.Height, "num_disparities": c.NumDisparities}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.FPS != nil && *c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %g", *c.FPS)
	}
	if c.CaptureTimeout != nil && *c.CaptureTimeout != "" {
		d, err := time.ParseDuration(*c.CaptureTimeout)
		if err != nil {
			return fmt.Errorf("invalid capture_timeout '%s': %w", *c.CaptureTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("capture_timeout must be positive, got %s", d)
		}
	}
	if c.BlockSize != nil && (*c.BlockSize < 5 || *c.BlockSize%2 == 0) {
		return fmt.Errorf("block_size must be odd and >= 5, got %d", *c.BlockSize)
	}
	if c.NumDisparities != nil && *c.NumDisparities%16 != 0 {
		return fmt.Errorf("num_disparities must be a multiple of 16, got %d", *c.NumDisparities)
	}
	if c.PreFilterCap != nil && (*c.PreFilterCap < 1 || *c.PreFilterCap > 63) {
		return fmt.Errorf("prefilter_cap must be between 1 and 63, got %d", *c.PreFilterCap)
	}
	if c.PreFilterSize != nil && (*c.PreFilterSize < 5 || *c.PreFilterSize > 255 || *c.PreFilterSize%2 == 0) {
		return fmt.Errorf("prefilter_size must be odd and between 5 and 255, got %d", *c.PreFilterSize)
	}
	if c.PreFilterType != nil && *c.PreFilterType != 0 && *c.PreFilterType != 1 {
		return fmt.Errorf("prefilter_type must be 0 or 1, got %d", *c.PreFilterType)
	}
	nonNegative := map[string]*int{
		"uniqueness_ratio":    c.UniquenessRatio,
		"speckle_window_size": c.SpeckleWindowSize,
		"texture_threshold":   c.TextureThreshold,
		"disparity_workers":   c.DisparityWorkers,
		"snapshot_every":      c.SnapshotEvery,
	}
	for name, v := range nonNegative {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}
	if c.MaxFrameRate != nil && *c.MaxFrameRate < 0 {
		return fmt.Errorf("max_frame_rate must be non-negative, got %g", *c.MaxFrameRate)
	}
	if c.Strategy != nil {
		switch *c.Strategy {
		case "bm", "multibaseline":
		default:
			return fmt.Errorf("unknown strategy %q", *c.Strategy)
		}
	}
	for i, b := range c.Baselines {
		if b <= 0 {
			return fmt.Errorf("baselines[%d] must be positive, got %g", i, b)
		}
	}
	return nil
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// GetWidth returns the capture width or 1280.
func (c *StereoConfig) GetWidth() int { return getInt(c.Width, 1280) }

// GetHeight returns the capture height or 1024.
func (c *StereoConfig) GetHeight() int { return getInt(c.Height, 1024) }

// GetFPS returns the requested device frame rate or 30.
func (c *StereoConfig) GetFPS() float64 { return getFloat(c.FPS, 30) }

// GetFlip returns the flip mode string.
func (c *StereoConfig) GetFlip() string { return getString(c.Flip, "") }

// GetCaptureTimeout parses CaptureTimeout, defaulting to 2s.
func (c *StereoConfig) GetCaptureTimeout() time.Duration {
	if c.CaptureTimeout == nil || *c.CaptureTimeout == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.CaptureTimeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

func (c *StereoConfig) GetBlockSize() int         { return getInt(c.BlockSize, 21) }
func (c *StereoConfig) GetMinDisparity() int      { return getInt(c.MinDisparity, 4) }
func (c *StereoConfig) GetNumDisparities() int    { return getInt(c.NumDisparities, 128) }
func (c *StereoConfig) GetUniquenessRatio() int   { return getInt(c.UniquenessRatio, 15) }
func (c *StereoConfig) GetSpeckleWindowSize() int { return getInt(c.SpeckleWindowSize, 45) }
func (c *StereoConfig) GetSpeckleRange() int      { return getInt(c.SpeckleRange, 16) }
func (c *StereoConfig) GetTextureThreshold() int  { return getInt(c.TextureThreshold, 10) }
func (c *StereoConfig) GetPreFilterCap() int      { return getInt(c.PreFilterCap, 31) }
func (c *StereoConfig) GetPreFilterSize() int     { return getInt(c.PreFilterSize, 9) }
func (c *StereoConfig) GetPreFilterType() int     { return getInt(c.PreFilterType, 0) }

// GetDisparityWorkers returns the row-band worker count; 0 means one per CPU.
func (c *StereoConfig) GetDisparityWorkers() int { return getInt(c.DisparityWorkers, 0) }

// GetStrategy returns the estimator name, "bm" by default.
func (c *StereoConfig) GetStrategy() string { return getString(c.Strategy, "bm") }

// GetMaxFrameRate returns the pipeline cycle rate cap; 0 runs unpaced.
func (c *StereoConfig) GetMaxFrameRate() float64 { return getFloat(c.MaxFrameRate, 0) }

// GetSnapshotEvery returns how often (in cycles) frames are written to
// disk when a snapshot directory is configured; 0 disables.
func (c *StereoConfig) GetSnapshotEvery() int { return getInt(c.SnapshotEvery, 0) }

func (c *StereoConfig) GetTriggerPort() string    { return getString(c.TriggerPort, "") }
func (c *StereoConfig) GetTriggerBaud() int       { return getInt(c.TriggerBaud, 115200) }
func (c *StereoConfig) GetTriggerCommand() string { return getString(c.TriggerCommand, "T\n") }
