package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/stereo.depth/internal/frame"
)

// SetupStatus records which open steps succeeded. Steps run in order and
// stop at the first failure.
type SetupStatus struct {
	Opened    bool `json:"opened"`
	WidthSet  bool `json:"width_set"`
	HeightSet bool `json:"height_set"`
	FPSSet    bool `json:"fps_set"`
}

// Complete reports whether every step succeeded.
func (s SetupStatus) Complete() bool {
	return s.Opened && s.WidthSet && s.HeightSet && s.FPSSet
}

// DeviceStatus is a point-in-time view of one device.
type DeviceStatus struct {
	Index     int         `json:"index"`
	Source    string      `json:"source"`
	Setup     SetupStatus `json:"setup"`
	Available bool        `json:"available"`
	// OK is true when the buffer holds the frame of the latest capture.
	OK        bool      `json:"ok"`
	Frames    uint64    `json:"frames"`
	Failures  uint64    `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	LastFrame time.Time `json:"last_frame,omitzero"`
}

// Device is one slot of an Array.
type Device struct {
	index  int
	source Source
	setup  SetupStatus
	driver Driver

	mu        sync.RWMutex
	available bool
	ok        bool
	front     *frame.Frame
	back      *frame.Frame
	frames    uint64
	failures  uint64
	lastErr   error
	lastFrame time.Time
}

func openDevice(index int, src Source, cfg Config) *Device {
	d := &Device{index: index, source: src, back: &frame.Frame{}}
	drv, err := cfg.Opener(src)
	if err != nil {
		d.lastErr = fmt.Errorf("%w: open %s: %v", ErrDeviceOpenFailed, src, err)
		opsf("device %d (%s) failed to open and is unavailable: %v", index, src, err)
		return d
	}
	d.setup.Opened = true
	d.driver = drv

	steps := []struct {
		prop  Property
		value float64
		done  *bool
	}{
		{PropWidth, float64(cfg.Width), &d.setup.WidthSet},
		{PropHeight, float64(cfg.Height), &d.setup.HeightSet},
		{PropFPS, cfg.FPS, &d.setup.FPSSet},
	}
	for _, s := range steps {
		if err := drv.Set(s.prop, s.value); err != nil {
			d.lastErr = fmt.Errorf("%w: set %s=%g on %s: %v", ErrDeviceOpenFailed, s.prop, s.value, src, err)
			opsf("device %d (%s) rejected %s=%g and is unavailable: %v", index, src, s.prop, s.value, err)
			if cerr := drv.Close(); cerr != nil {
				diagf("device %d close after failed setup: %v", index, cerr)
			}
			d.driver = nil
			return d
		}
		*s.done = true
	}
	d.available = true
	diagf("device %d (%s) opened at %dx%d@%gfps", index, src, cfg.Width, cfg.Height, cfg.FPS)
	return d
}

// Index returns the device's position in the array.
func (d *Device) Index() int { return d.index }

// Source returns the identifier the device was opened from.
func (d *Device) Source() Source { return d.source }

func (d *Device) isAvailable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.available
}

// handle returns the open driver, nil once closed or never opened.
func (d *Device) handle() Driver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.driver
}

func (d *Device) markStale() {
	d.mu.Lock()
	d.ok = false
	d.mu.Unlock()
}

func (d *Device) fail(op string, err error) {
	d.mu.Lock()
	d.ok = false
	d.failures++
	d.lastErr = fmt.Errorf("%s: %w", op, err)
	d.mu.Unlock()
	captureLogf("device %d (%s) %s failed: %v", d.index, d.source, op, err)
}

// retrieve decodes into the back buffer and publishes it. The buffer the
// consumer holds is never written while it is the front buffer.
func (d *Device) retrieve(cfg Config, seq uint64, at time.Time, traceID string) error {
	d.mu.RLock()
	back, drv := d.back, d.driver
	d.mu.RUnlock()
	if drv == nil {
		d.fail("retrieve", ErrClosed)
		return ErrClosed
	}

	if err := drv.Retrieve(back); err != nil {
		d.fail("retrieve", err)
		return err
	}
	if err := checkRetrieved(back, cfg.Width, cfg.Height); err != nil {
		d.fail("retrieve", err)
		return err
	}
	back.Seq, back.Timestamp, back.TraceID = seq, at, traceID
	out := back
	if cfg.Transform != nil {
		out = cfg.Transform(back)
		w, h := cfg.OutputSize()
		if err := checkRetrieved(out, w, h); err != nil {
			err = fmt.Errorf("after transform: %w", err)
			d.fail("retrieve", err)
			return err
		}
	}

	d.mu.Lock()
	prev := d.front
	d.front = out
	// Only swap when the published frame is the back buffer itself; a
	// transform that allocated leaves the back buffer free for reuse.
	if out == back {
		d.back = prev
		if d.back == nil {
			d.back = &frame.Frame{}
		}
	}
	d.ok = true
	d.frames++
	d.lastFrame = at
	d.mu.Unlock()
	tracef("device %d seq=%d retrieved %dx%dx%d", d.index, seq, out.Width, out.Height, out.Channels)
	return nil
}

// checkRetrieved accepts BGR or gray frames of exactly width x height.
func checkRetrieved(f *frame.Frame, width, height int) error {
	if f != nil && f.Channels != frame.BGR && f.Channels != frame.Gray {
		return fmt.Errorf("got %d channels: %w", f.Channels, frame.ErrDimensionMismatch)
	}
	return f.CheckShape(width, height, f.Channels)
}

func (d *Device) fillBlack(width, height int, seq uint64, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.back
	if f == nil || f == d.front {
		f = &frame.Frame{}
	}
	f.Width, f.Height, f.Channels = width, height, frame.BGR
	n := width * height * frame.BGR
	if cap(f.Pix) < n {
		f.Pix = make([]byte, n)
	}
	f.Pix = f.Pix[:n]
	f.Zero()
	f.Seq, f.Timestamp, f.TraceID = seq, at, ""
	prev := d.front
	d.front = f
	if prev != nil {
		d.back = prev
	} else {
		d.back = &frame.Frame{}
	}
	d.ok = true
}

// frame returns the front buffer and whether it is fresh.
func (d *Device) frame() (*frame.Frame, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.front, d.ok && d.front != nil
}

func (d *Device) status() DeviceStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := DeviceStatus{
		Index:     d.index,
		Source:    d.source.String(),
		Setup:     d.setup,
		Available: d.available,
		OK:        d.ok,
		Frames:    d.frames,
		Failures:  d.failures,
		LastFrame: d.lastFrame,
	}
	if d.lastErr != nil {
		s.LastError = d.lastErr.Error()
	}
	return s
}

func (d *Device) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = false
	d.ok = false
	if d.driver == nil {
		return nil
	}
	err := d.driver.Close()
	d.driver = nil
	if err != nil {
		return fmt.Errorf("close device %d: %w", d.index, err)
	}
	return nil
}

// unavailableErr returns why the device is out of service.
func (d *Device) unavailableErr() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastErr != nil && errors.Is(d.lastErr, ErrDeviceOpenFailed) {
		return d.lastErr
	}
	return fmt.Errorf("device %d: %w", d.index, ErrDeviceOpenFailed)
}
