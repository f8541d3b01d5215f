package camera

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/stereo.depth/internal/frame"
)

var (
	// ErrDeviceOpenFailed marks a device that could not be opened or
	// configured. Such devices stay unavailable for the array's lifetime.
	ErrDeviceOpenFailed = errors.New("camera device open failed")
	// ErrCaptureFailed reports a cycle in which at least one available
	// device failed to grab or retrieve.
	ErrCaptureFailed = errors.New("camera capture failed")
	// ErrCaptureTimeout reports a capture that outlived its deadline.
	ErrCaptureTimeout = errors.New("camera capture timed out")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("camera array closed")
)

// Property is a device setting applied after open.
type Property int

const (
	PropWidth Property = iota
	PropHeight
	PropFPS
)

func (p Property) String() string {
	switch p {
	case PropWidth:
		return "width"
	case PropHeight:
		return "height"
	case PropFPS:
		return "fps"
	}
	return fmt.Sprintf("property(%d)", int(p))
}

// Driver is one opened capture device. Grab latches the next frame and
// should return quickly; Retrieve decodes the latched frame into dst,
// reallocating dst.Pix as needed. Drivers are used from one goroutine at
// a time, except that Close may be called while Grab is blocked and must
// make it return.
type Driver interface {
	Set(prop Property, value float64) error
	Grab() error
	Retrieve(dst *frame.Frame) error
	Close() error
}

// Opener opens the device behind a source.
type Opener func(src Source) (Driver, error)

// Source identifies a capture device: either a local enumerated index or
// an opaque backend string such as a pipeline description, URL or file.
type Source struct {
	index int
	uri   string
}

// IndexSource returns the source for local device i.
func IndexSource(i int) Source { return Source{index: i} }

// URISource returns an opaque source.
func URISource(s string) Source { return Source{index: -1, uri: s} }

// ParseSource treats non-negative integers as device indices and anything
// else as an opaque source.
func ParseSource(s string) Source {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil && i >= 0 {
		return IndexSource(i)
	}
	return URISource(s)
}

// ParseSources parses each element with ParseSource.
func ParseSources(ss []string) []Source {
	out := make([]Source, len(ss))
	for i, s := range ss {
		out[i] = ParseSource(s)
	}
	return out
}

// Index returns the device index and whether the source is an index.
func (s Source) Index() (int, bool) { return s.index, s.uri == "" && s.index >= 0 }

// URI returns the opaque source string, empty for index sources.
func (s Source) URI() string { return s.uri }

func (s Source) String() string {
	if i, ok := s.Index(); ok {
		return strconv.Itoa(i)
	}
	return s.uri
}
