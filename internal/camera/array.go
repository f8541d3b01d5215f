// Package camera drives a fixed set of capture devices with a two-phase
// grab/retrieve protocol so that every device latches its frame before
// any device spends time decoding.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/stereo.depth/internal/frame"
	"github.com/banshee-data/stereo.depth/internal/timeutil"
)

// Trigger fires an external exposure signal before the grab phase.
type Trigger interface {
	Fire() error
}

// Config is applied to every device in the array.
type Config struct {
	Width  int
	Height int
	FPS    float64

	Opener Opener
	// Trigger is optional. When set it fires once per cycle before grabs.
	Trigger Trigger
	// Transform is applied to each frame after retrieval.
	Transform frame.Transform
	// OutputWidth and OutputHeight are the frame size after Transform.
	// Zero means the capture size.
	OutputWidth  int
	OutputHeight int
	Clock        timeutil.Clock
}

// OutputSize returns the size of the frames the array publishes.
func (c Config) OutputSize() (int, int) {
	w, h := c.OutputWidth, c.OutputHeight
	if w == 0 {
		w = c.Width
	}
	if h == 0 {
		h = c.Height
	}
	return w, h
}

func (c *Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid capture size %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %g", c.FPS)
	}
	if c.OutputWidth < 0 || c.OutputHeight < 0 {
		return fmt.Errorf("invalid output size %dx%d", c.OutputWidth, c.OutputHeight)
	}
	if c.Opener == nil {
		return errors.New("no device opener configured")
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return nil
}

// Array is an ordered set of devices sharing one capture configuration.
// Capture calls are serialized; Frame and Status may be called from any
// goroutine.
type Array struct {
	cfg     Config
	devices []*Device

	captureMu sync.Mutex
	seq       uint64
	closed    atomic.Bool

	flightMu sync.Mutex
	flight   chan struct{} // closed when the running cycle ends, nil when idle
}

// closeWait bounds how long Close waits for a cycle stuck in a driver.
const closeWait = 2 * time.Second

// Open opens every source in order. Devices that fail any setup step are
// logged and left unavailable; Open itself only fails on a bad Config.
func Open(sources []Source, cfg Config) (*Array, error) {
	if len(sources) == 0 {
		return nil, errors.New("no camera sources given")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Array{cfg: cfg, devices: make([]*Device, len(sources))}
	for i, src := range sources {
		a.devices[i] = openDevice(i, src, cfg)
	}
	diagf("array open: %d of %d devices available", len(a.Available()), len(sources))
	return a, nil
}

// Len returns the number of devices, available or not.
func (a *Array) Len() int { return len(a.devices) }

// Config returns the configuration the array was opened with.
func (a *Array) Config() Config { return a.cfg }

// Capture runs one grab/retrieve cycle over the available devices and
// reports whether every one of them produced a frame. It returns false
// when no device is available.
func (a *Array) Capture() bool {
	return a.capture() == nil
}

func (a *Array) capture() error {
	a.captureMu.Lock()
	defer a.captureMu.Unlock()
	if a.closed.Load() {
		return ErrClosed
	}

	a.seq++
	seq := a.seq
	at := a.cfg.Clock.Now()
	traceID := uuid.NewString()

	var live []*Device
	for _, d := range a.devices {
		d.markStale()
		if d.isAvailable() {
			live = append(live, d)
		}
	}
	if len(live) == 0 {
		return fmt.Errorf("%w: no available devices", ErrCaptureFailed)
	}

	if a.cfg.Trigger != nil {
		if err := a.cfg.Trigger.Fire(); err != nil {
			captureLogf("cycle %d trigger failed: %v", seq, err)
			return fmt.Errorf("%w: trigger: %v", ErrCaptureFailed, err)
		}
	}

	// Every grab is issued before the first retrieve.
	grabbed := make([]bool, len(live))
	for i, d := range live {
		drv := d.handle()
		if drv == nil {
			d.fail("grab", ErrClosed)
			continue
		}
		if err := drv.Grab(); err != nil {
			d.fail("grab", err)
			continue
		}
		grabbed[i] = true
	}
	tracef("cycle %d trace=%s grabbed %d/%d in %v", seq, traceID, countTrue(grabbed), len(live), a.cfg.Clock.Since(at))

	var failed []string
	for i, d := range live {
		if !grabbed[i] {
			failed = append(failed, fmt.Sprintf("%d:grab", d.index))
			continue
		}
		if err := d.retrieve(a.cfg, seq, at, traceID); err != nil {
			failed = append(failed, fmt.Sprintf("%d:retrieve", d.index))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: cycle %d devices [%s]", ErrCaptureFailed, seq, strings.Join(failed, " "))
	}
	return nil
}

// CaptureContext is Capture bounded by ctx. A cycle that outlives ctx is
// reported as ErrCaptureTimeout and finishes in the background. The next
// call waits for it, still bounded by its own ctx, before starting a new
// cycle.
func (a *Array) CaptureContext(ctx context.Context) error {
	cur, err := a.begin(ctx)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer a.end(cur)
		done <- a.capture()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		captureLogf("capture abandoned: %v", ctx.Err())
		return fmt.Errorf("%w: %v", ErrCaptureTimeout, ctx.Err())
	}
}

// begin claims the capture slot once any abandoned cycle has ended.
func (a *Array) begin(ctx context.Context) (chan struct{}, error) {
	for {
		if a.closed.Load() {
			return nil, ErrClosed
		}
		a.flightMu.Lock()
		prev := a.flight
		if prev == nil {
			cur := make(chan struct{})
			a.flight = cur
			a.flightMu.Unlock()
			return cur, nil
		}
		a.flightMu.Unlock()
		select {
		case <-prev:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: previous cycle still in flight: %v", ErrCaptureTimeout, ctx.Err())
		}
	}
}

func (a *Array) end(cur chan struct{}) {
	a.flightMu.Lock()
	a.flight = nil
	a.flightMu.Unlock()
	close(cur)
}

// InFlight reports whether a cycle started by CaptureContext is running.
func (a *Array) InFlight() bool {
	a.flightMu.Lock()
	defer a.flightMu.Unlock()
	return a.flight != nil
}

// CaptureTimeout is CaptureContext with a deadline of d.
func (a *Array) CaptureTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return a.CaptureContext(ctx)
}

// CaptureBlack fills every device buffer, available or not, with a black
// BGR frame at the output size. It always succeeds.
func (a *Array) CaptureBlack() bool {
	a.captureMu.Lock()
	defer a.captureMu.Unlock()
	a.seq++
	at := a.cfg.Clock.Now()
	w, h := a.cfg.OutputSize()
	for _, d := range a.devices {
		d.fillBlack(w, h, a.seq, at)
	}
	tracef("cycle %d black frames", a.seq)
	return true
}

// Frame returns device i's latest buffer and whether it came from the
// most recent cycle. A false result means the buffer is stale and must
// not be consumed. The buffer stays valid until the next capture.
func (a *Array) Frame(i int) (*frame.Frame, bool) {
	if i < 0 || i >= len(a.devices) {
		return nil, false
	}
	return a.devices[i].frame()
}

// Frames returns every device's fresh buffer, nil where stale.
func (a *Array) Frames() []*frame.Frame {
	out := make([]*frame.Frame, len(a.devices))
	for i, d := range a.devices {
		if f, ok := d.frame(); ok {
			out[i] = f
		}
	}
	return out
}

// OK reports whether device i holds a frame from the latest cycle.
func (a *Array) OK(i int) bool {
	_, ok := a.Frame(i)
	return ok
}

// Status returns a snapshot of device i.
func (a *Array) Status(i int) (DeviceStatus, bool) {
	if i < 0 || i >= len(a.devices) {
		return DeviceStatus{}, false
	}
	return a.devices[i].status(), true
}

// Statuses returns a snapshot of every device in array order.
func (a *Array) Statuses() []DeviceStatus {
	out := make([]DeviceStatus, len(a.devices))
	for i, d := range a.devices {
		out[i] = d.status()
	}
	return out
}

// Available lists the indices of devices that opened successfully.
func (a *Array) Available() []int {
	var out []int
	for i, d := range a.devices {
		if d.isAvailable() {
			out = append(out, i)
		}
	}
	return out
}

// AllUnavailable reports whether no device can ever capture.
func (a *Array) AllUnavailable() bool {
	return len(a.Available()) == 0
}

// UnavailableErr explains why device i is out of service, or returns nil.
func (a *Array) UnavailableErr(i int) error {
	if i < 0 || i >= len(a.devices) {
		return fmt.Errorf("device %d: out of range: %w", i, ErrDeviceOpenFailed)
	}
	if a.devices[i].isAvailable() {
		return nil
	}
	return a.devices[i].unavailableErr()
}

// Close releases every device handle. Drivers are closed before waiting
// for a running cycle so that a grab blocked in the device returns; the
// wait is bounded by closeWait.
func (a *Array) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, d := range a.devices {
		if err := d.close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.flightMu.Lock()
	running := a.flight
	a.flightMu.Unlock()
	if running != nil {
		select {
		case <-running:
		case <-time.After(closeWait):
			opsf("array closed with a capture cycle still blocked")
		}
	}
	diagf("array closed")
	return errors.Join(errs...)
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
