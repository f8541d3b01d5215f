package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/stereo.depth/internal/frame"
)

// TestableDriver implements Driver with configurable behaviour for testing.
// Frames are filled with Fill unless Pattern is set.
type TestableDriver struct {
	mu sync.Mutex

	// SetErrors fails Set for the given property.
	SetErrors map[Property]error
	// GrabError is returned by every Grab call while set.
	GrabError error
	// RetrieveError is returned by every Retrieve call while set.
	RetrieveError error
	// CloseError is returned by Close.
	CloseError error
	// GrabLatency delays each Grab call. Close cuts the delay short, as a
	// real backend unblocks a pending read when its stream stops.
	GrabLatency time.Duration

	// Fill is the value written to every byte of a retrieved frame.
	Fill byte
	// Channels defaults to frame.BGR.
	Channels int
	// SizeOverride, when non-zero, forces the retrieved frame size.
	SizeOverride [2]int
	// Pattern, when non-nil, renders each retrieved frame.
	Pattern func(f *frame.Frame)

	width, height int
	fps           float64
	latched       bool
	stop          chan struct{}

	// Call log
	Grabs     int
	Retrieves int
	Closed    bool
	Order     *[]string
	Name      string
}

func (d *TestableDriver) Set(prop Property, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.SetErrors[prop]; err != nil {
		return err
	}
	switch prop {
	case PropWidth:
		d.width = int(value)
	case PropHeight:
		d.height = int(value)
	case PropFPS:
		d.fps = value
	}
	return nil
}

func (d *TestableDriver) Grab() error {
	d.mu.Lock()
	latency, stop := d.GrabLatency, d.stopChan()
	d.mu.Unlock()
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-stop:
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Grabs++
	d.record("grab")
	if d.Closed {
		return errors.New("driver closed")
	}
	if d.GrabError != nil {
		d.latched = false
		return d.GrabError
	}
	d.latched = true
	return nil
}

func (d *TestableDriver) Retrieve(dst *frame.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Retrieves++
	d.record("retrieve")
	if d.RetrieveError != nil {
		return d.RetrieveError
	}
	if !d.latched {
		return errors.New("retrieve without grab")
	}
	d.latched = false
	w, h := d.width, d.height
	if d.SizeOverride != [2]int{} {
		w, h = d.SizeOverride[0], d.SizeOverride[1]
	}
	ch := d.Channels
	if ch == 0 {
		ch = frame.BGR
	}
	n := w * h * ch
	if cap(dst.Pix) < n {
		dst.Pix = make([]byte, n)
	}
	dst.Pix = dst.Pix[:n]
	dst.Width, dst.Height, dst.Channels = w, h, ch
	if d.Pattern != nil {
		d.Pattern(dst)
		return nil
	}
	for i := range dst.Pix {
		dst.Pix[i] = d.Fill
	}
	return nil
}

func (d *TestableDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Closed {
		close(d.stopChan())
	}
	d.Closed = true
	return d.CloseError
}

// stopChan must be called with d.mu held.
func (d *TestableDriver) stopChan() chan struct{} {
	if d.stop == nil {
		d.stop = make(chan struct{})
	}
	return d.stop
}

// SetGrabLatency changes GrabLatency while captures may be running.
func (d *TestableDriver) SetGrabLatency(l time.Duration) {
	d.mu.Lock()
	d.GrabLatency = l
	d.mu.Unlock()
}

// SetGrabError changes GrabError while captures may be running.
func (d *TestableDriver) SetGrabError(err error) {
	d.mu.Lock()
	d.GrabError = err
	d.mu.Unlock()
}

// Calls returns the grab and retrieve counts.
func (d *TestableDriver) Calls() (grabs, retrieves int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Grabs, d.Retrieves
}

func (d *TestableDriver) record(op string) {
	if d.Order != nil {
		*d.Order = append(*d.Order, d.Name+":"+op)
	}
}

// MockOpener returns an Opener that hands out the given drivers by index
// source. A nil driver, or a missing index, fails to open.
func MockOpener(drivers ...*TestableDriver) Opener {
	return func(src Source) (Driver, error) {
		i, ok := src.Index()
		if !ok || i >= len(drivers) || drivers[i] == nil {
			return nil, fmt.Errorf("no such device %s", src)
		}
		return drivers[i], nil
	}
}

// PatternOpener opens synthetic devices that render a fixed random
// texture. Device i sees the texture shifted left by i*disparity pixels,
// so neighbouring devices form a rectified pair with that disparity.
// Only index sources are accepted.
func PatternOpener(disparity int) Opener {
	return func(src Source) (Driver, error) {
		i, ok := src.Index()
		if !ok {
			return nil, fmt.Errorf("pattern devices only accept indices, got %q", src)
		}
		shift := i * disparity
		return &TestableDriver{Pattern: func(f *frame.Frame) { RenderPattern(f, shift) }}, nil
	}
}

// RenderPattern fills f with a deterministic noise texture sampled at
// x+shift. Channels carry the same value so the gray conversion is exact.
func RenderPattern(f *frame.Frame, shift int) {
	c := f.Channels
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*f.Stride() : (y+1)*f.Stride()]
		for x := 0; x < f.Width; x++ {
			v := noise(x+shift, y)
			for k := 0; k < c; k++ {
				row[x*c+k] = v
			}
		}
	}
}

func noise(x, y int) byte {
	h := uint32(x)*0x9E3779B1 ^ uint32(y)*0x85EBCA77
	h ^= h >> 15
	h *= 0x2C1B3C6D
	h ^= h >> 12
	return byte(h >> 8)
}
