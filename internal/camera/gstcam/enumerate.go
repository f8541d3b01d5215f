package gstcam

import (
	"os"
	"time"

	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/frame"
)

// MaxProbe is the number of device indices Enumerate checks by default.
const MaxProbe = 32

// Enumerate returns the device indices below max that deliver a frame at
// the given size within timeout. Probing opens each device in turn, so
// it must not run while an array owns the devices.
func Enumerate(max, width, height int, timeout time.Duration) []int {
	if max <= 0 {
		max = MaxProbe
	}
	var found []int
	for i := 0; i < max; i++ {
		if _, err := os.Stat(camera.DevicePath(i)); err != nil {
			continue
		}
		if probe(i, width, height, timeout) {
			found = append(found, i)
		}
	}
	diagf("enumerate: %d devices answer: %v", len(found), found)
	return found
}

func probe(index, width, height int, timeout time.Duration) bool {
	drv, err := Open(camera.IndexSource(index))
	if err != nil {
		tracef("probe %d: %v", index, err)
		return false
	}
	d := drv.(*Driver)
	ok := make(chan bool, 1)
	go func() {
		if err := d.Set(camera.PropWidth, float64(width)); err != nil {
			ok <- false
			return
		}
		if err := d.Set(camera.PropHeight, float64(height)); err != nil {
			ok <- false
			return
		}
		if err := d.Set(camera.PropFPS, 30); err != nil {
			ok <- false
			return
		}
		var f frame.Frame
		ok <- d.Grab() == nil && d.Retrieve(&f) == nil
	}()
	var got bool
	select {
	case got = <-ok:
	case <-time.After(timeout):
		tracef("probe %d: no frame within %v", index, timeout)
	}
	// Stopping the pipeline releases a PullSample still blocked above.
	if err := d.Close(); err != nil {
		tracef("probe %d close: %v", index, err)
	}
	return got
}
