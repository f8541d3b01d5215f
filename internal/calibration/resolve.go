package calibration

import (
	"fmt"

	"github.com/banshee-data/stereo.depth/internal/fsutil"
)

// ResolveOptions says what Resolve may fall back to when no usable
// calibration file exists.
type ResolveOptions struct {
	// Width and Height are the capture size; a loaded calibration must
	// match it.
	Width, Height int
	// Ideal substitutes an ideal calibration for synthetic sources.
	Ideal bool
	// AllowUncalibrated returns nil Params instead of an error.
	AllowUncalibrated bool
}

// Resolve loads path, or applies the fallbacks in opts. A nil result with
// a nil error means the caller should run uncalibrated.
func Resolve(fsys fsutil.FileSystem, path string, opts ResolveOptions) (*Params, error) {
	var loadErr error
	if path != "" {
		p, err := Load(fsys, path)
		switch {
		case err != nil:
			loadErr = err
		case p.Width != opts.Width || p.Height != opts.Height:
			loadErr = fmt.Errorf("%w: calibrated for %dx%d, capturing %dx%d",
				ErrCalibrationMalformed, p.Width, p.Height, opts.Width, opts.Height)
		default:
			return p, nil
		}
	} else {
		loadErr = fmt.Errorf("%w: no calibration file given", ErrCalibrationNotFound)
	}
	switch {
	case opts.Ideal:
		opsf("using ideal calibration for %dx%d: %v", opts.Width, opts.Height, loadErr)
		return Ideal(opts.Width, opts.Height, float64(opts.Width), 0.1), nil
	case opts.AllowUncalibrated:
		opsf("running uncalibrated, disparity disabled: %v", loadErr)
		return nil, nil
	}
	return nil, loadErr
}
