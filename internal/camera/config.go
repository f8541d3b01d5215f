package camera

import (
	"github.com/banshee-data/stereo.depth/internal/config"
	"github.com/banshee-data/stereo.depth/internal/frame"
)

// ConfigFromStereo builds an array Config from the capture section of a
// StereoConfig. The caller supplies the backend and optional trigger. The
// flip setting runs first, then the transforms list.
func ConfigFromStereo(cfg *config.StereoConfig, opener Opener, trig Trigger) (Config, error) {
	specs := cfg.Transforms
	if flip := cfg.GetFlip(); flip != "" {
		specs = append([]string{"flip:" + flip}, specs...)
	}
	tr, w, h, err := frame.ParseTransforms(specs, cfg.GetWidth(), cfg.GetHeight())
	if err != nil {
		return Config{}, err
	}
	return Config{
		Width:        cfg.GetWidth(),
		Height:       cfg.GetHeight(),
		FPS:          cfg.GetFPS(),
		Opener:       opener,
		Trigger:      trig,
		Transform:    tr,
		OutputWidth:  w,
		OutputHeight: h,
	}, nil
}

// SourcesFromStereo parses the configured sources, defaulting to the first
// two local devices.
func SourcesFromStereo(cfg *config.StereoConfig) []Source {
	if len(cfg.Sources) == 0 {
		return []Source{IndexSource(0), IndexSource(1)}
	}
	return ParseSources(cfg.Sources)
}
