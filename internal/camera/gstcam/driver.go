// Package gstcam opens camera sources as GStreamer pipelines ending in an
// appsink. Local device indices become v4l2src pipelines; anything else
// is treated as a launch string, URL or file path.
package gstcam

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/frame"
)

var initOnce sync.Once

func initGst() { initOnce.Do(func() { gst.Init(nil) }) }

// Driver is a camera.Driver backed by a GStreamer pipeline.
type Driver struct {
	src      camera.Source
	pipeline *gst.Pipeline
	sink     *app.Sink
	// caps is nil for launch-string sources, whose caps are fixed.
	caps *gst.Element

	width, height int
	fps           float64
	playing       bool
	sample        *gst.Sample
	samples       uint64
}

// Open is a camera.Opener.
func Open(src camera.Source) (camera.Driver, error) {
	initGst()
	d := &Driver{src: src}
	var err error
	if i, ok := src.Index(); ok {
		err = d.buildV4L2(i)
	} else {
		err = d.buildLaunch(src.URI())
	}
	if err != nil {
		return nil, err
	}
	diagf("opened %s", src)
	return d, nil
}

func (d *Driver) buildV4L2(index int) error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("failed to create v4l2src: %w", err)
	}
	if err := src.SetProperty("device", camera.DevicePath(index)); err != nil {
		return fmt.Errorf("failed to set device: %w", err)
	}
	var elems []*gst.Element
	elems = append(elems, src)
	for _, name := range []string{"videoconvert", "videoscale", "videorate"} {
		e, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		elems = append(elems, e)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	sink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	elems = append(elems, capsfilter, sink.Element)

	if err := pipeline.AddMany(elems...); err != nil {
		return fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(elems...); err != nil {
		return fmt.Errorf("failed to link elements: %w", err)
	}
	d.pipeline, d.sink, d.caps = pipeline, sink, capsfilter
	d.configureSink()
	return nil
}

func (d *Driver) buildLaunch(uri string) error {
	if uri == "" {
		return errors.New("empty source")
	}
	return nil
}

func (d *Driver) configureSink() {
	d.sink.SetProperty("sync", false)
	d.sink.SetProperty("max-buffers", 1)
	d.sink.SetProperty("drop", true)
}

// Set records a capture property. Device pipelines get their capsfilter
// updated; launch strings are built with the size once it is known. The
// pipeline starts once size and rate are all set, so a source that cannot
// play fails the last setup step.
func (d *Driver) Set(prop camera.Property, value float64) error {
	if value <= 0 {
		return fmt.Errorf("invalid %s %g", prop, value)
	}
	if d.playing {
		return fmt.Errorf("cannot set %s while streaming", prop)
	}
	switch prop {
	case camera.PropWidth:
		d.width = int(value)
	case camera.PropHeight:
		d.height = int(value)
	case camera.PropFPS:
		d.fps = value
	default:
		return fmt.Errorf("unsupported property %s", prop)
	}
	if d.caps != nil && d.width > 0 && d.height > 0 {
		caps := camera.RawCaps(d.width, d.height, d.fps)
		if err := d.caps.SetProperty("caps", gst.NewCapsFromString(caps)); err != nil {
			return fmt.Errorf("failed to set caps %q: %w", caps, err)
		}
		tracef("%s caps %s", d.src, caps)
	}
	if d.width > 0 && d.height > 0 && d.fps > 0 {
		return d.start()
	}
	return nil
}

func (d *Driver) start() error {
	if d.width <= 0 || d.height <= 0 {
		return errors.New("size not configured")
	}
	if d.pipeline == nil {
		launch := camera.LaunchString(d.src.URI(), d.width, d.height)
		pipeline, err := gst.NewPipelineFromString(launch)
		if err != nil {
			return fmt.Errorf("failed to parse pipeline %q: %w", launch, err)
		}
		elem, err := pipeline.GetElementByName(camera.SinkName)
		if err != nil {
			return fmt.Errorf("pipeline has no appsink named %q: %w", camera.SinkName, err)
		}
		d.pipeline, d.sink = pipeline, app.SinkFromElement(elem)
		d.configureSink()
		diagf("%s launch: %s", d.src, launch)
	}
	if err := d.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	d.playing = true
	return nil
}

// Grab blocks until the appsink has a sample and latches it.
func (d *Driver) Grab() error {
	if !d.playing {
		if err := d.start(); err != nil {
			opsf("%s: %v", d.src, err)
			return err
		}
	}
	sample := d.sink.PullSample()
	if sample == nil {
		if d.sink.IsEOS() {
			return fmt.Errorf("%s: end of stream", d.src)
		}
		return fmt.Errorf("%s: no sample", d.src)
	}
	d.sample = sample
	d.samples++
	return nil
}

// Retrieve copies the latched sample into dst as packed BGR.
func (d *Driver) Retrieve(dst *frame.Frame) error {
	sample := d.sample
	d.sample = nil
	if sample == nil {
		return errors.New("retrieve without grab")
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return errors.New("sample has no buffer")
	}
	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapInfo.Bytes()
	if len(data) == 0 {
		return errors.New("empty buffer")
	}
	return camera.CopyStrided(dst, data, d.width, d.height)
}

// Close stops the pipeline. It may run while Grab is blocked: the NULL
// state flushes the appsink and PullSample returns nil.
func (d *Driver) Close() error {
	if d.pipeline == nil {
		return nil
	}
	d.playing = false
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop pipeline: %w", err)
	}
	diagf("closed %s after %d samples", d.src, d.samples)
	return nil
}
