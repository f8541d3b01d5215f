package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/disparity"
	"github.com/banshee-data/stereo.depth/internal/frame"
	"github.com/banshee-data/stereo.depth/internal/timeutil"
)

var (
	// ErrAllDevicesUnavailable is fatal: no device in the array can capture.
	ErrAllDevicesUnavailable = errors.New("all camera devices unavailable")
	// ErrViewUnavailable is fatal: a device the estimator needs never opened.
	ErrViewUnavailable = errors.New("view device unavailable")
)

// Rectifier maps raw intensity views to rectified views.
type Rectifier interface {
	Apply(views []*frame.Frame) ([]*frame.Frame, error)
}

// Config holds the pipeline's collaborators.
type Config struct {
	Array *camera.Array
	// Rectifier is required when Estimator is set.
	Rectifier Rectifier
	// Estimator may be nil for capture-only runs.
	Estimator disparity.Estimator
	// Views lists the array indices fed to the estimator, reference first.
	// Defaults to 0..Estimator.Views()-1.
	Views []int

	CaptureTimeout time.Duration
	// MaxFrameRate caps cycles per second in Run. Zero runs back to back.
	MaxFrameRate float64
	// Black replaces real capture with black frames.
	Black bool
	// Background polls the array from its own goroutine and processes the
	// latest complete cycle, dropping cycles the pipeline cannot keep up
	// with.
	Background bool

	Clock timeutil.Clock
	Sinks []Sink
}

// Result is the outcome of one cycle. Frames belong to the pipeline and
// stay valid until the next cycle; sinks that keep them must copy.
type Result struct {
	// Cycle counts every cycle the pipeline ran, skipped or not.
	Cycle    uint64
	Seq      uint64
	TraceID  string
	Started  time.Time
	Duration time.Duration

	// CaptureErr is set when the cycle was skipped for a capture failure.
	CaptureErr error

	Raw       []*frame.Frame
	Rectified []*frame.Frame
	Map       *disparity.Map
	Visual    *frame.Frame
	Devices   []camera.DeviceStatus
}

// Skipped reports whether disparity was not computed this cycle.
func (r *Result) Skipped() bool { return r.Map == nil }

// Pipeline drives cycles. Cycle and Run must not be called concurrently.
//
// Capture failures skip a cycle and are never fatal. Two conditions stop
// the pipeline: every device in the array is unavailable
// (ErrAllDevicesUnavailable), or a device listed in Views failed to open
// (ErrViewUnavailable). The second applies even when other devices still
// capture, because the estimator cannot run without each of its views.
// Black-frame runs skip both checks. Capture-only runs have no views
// unless Views is set.
type Pipeline struct {
	cfg   Config
	views []int
	stats Stats

	mu     sync.RWMutex
	latest *Result
}

// New validates the configuration.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Array == nil {
		return nil, errors.New("pipeline: no camera array")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 2 * time.Second
	}
	views := cfg.Views
	if cfg.Estimator != nil {
		if cfg.Rectifier == nil {
			return nil, errors.New("pipeline: estimator configured without a rectifier")
		}
		if len(views) == 0 {
			views = make([]int, cfg.Estimator.Views())
			for i := range views {
				views[i] = i
			}
		}
		if len(views) != cfg.Estimator.Views() {
			return nil, fmt.Errorf("pipeline: estimator takes %d views, %d configured", cfg.Estimator.Views(), len(views))
		}
	}
	for _, v := range views {
		if v < 0 || v >= cfg.Array.Len() {
			return nil, fmt.Errorf("pipeline: view %d outside array of %d", v, cfg.Array.Len())
		}
	}
	p := &Pipeline{cfg: cfg, views: views}
	diagf("pipeline ready: views=%v estimator=%T black=%v background=%v", views, cfg.Estimator, cfg.Black, cfg.Background)
	return p, nil
}

// Estimator returns the configured estimator, possibly nil.
func (p *Pipeline) Estimator() disparity.Estimator { return p.cfg.Estimator }

// Array returns the camera array.
func (p *Pipeline) Array() *camera.Array { return p.cfg.Array }

// Latest returns the most recent result, or nil before the first cycle.
func (p *Pipeline) Latest() *Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// checkDevices returns a fatal error if capture can no longer serve the
// estimator.
func (p *Pipeline) checkDevices() error {
	if p.cfg.Black {
		return nil
	}
	a := p.cfg.Array
	if a.AllUnavailable() {
		return ErrAllDevicesUnavailable
	}
	for _, v := range p.views {
		if err := a.UnavailableErr(v); err != nil {
			return fmt.Errorf("%w: %v", ErrViewUnavailable, err)
		}
	}
	return nil
}

// Cycle captures once and, when capture succeeded, computes disparity.
// A capture failure is reported in the Result with a nil error. Errors
// are returned only for fatal conditions, dimension mismatches and ctx
// cancellation.
func (p *Pipeline) Cycle(ctx context.Context) (*Result, error) {
	if err := p.checkDevices(); err != nil {
		return nil, err
	}
	started := p.cfg.Clock.Now()
	var captureErr error
	if p.cfg.Black {
		p.cfg.Array.CaptureBlack()
	} else {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.CaptureTimeout)
		captureErr = p.cfg.Array.CaptureContext(cctx)
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return p.process(started, p.cfg.Array.Frames(), captureErr)
}

func (p *Pipeline) process(started time.Time, frames []*frame.Frame, captureErr error) (*Result, error) {
	res := &Result{
		Cycle:   p.stats.cycles.Add(1),
		Started: started,
		Devices: p.cfg.Array.Statuses(),
	}

	res.Raw = make([]*frame.Frame, 0, len(p.views))
	for _, v := range p.views {
		f := frames[v]
		if f == nil {
			if captureErr == nil {
				captureErr = fmt.Errorf("%w: view %d stale", camera.ErrCaptureFailed, v)
			}
			break
		}
		res.Raw = append(res.Raw, f)
	}
	if len(p.views) == 0 {
		for _, f := range frames {
			if f != nil {
				res.Raw = append(res.Raw, f)
			}
		}
	}
	if len(res.Raw) > 0 {
		res.Seq, res.TraceID = res.Raw[0].Seq, res.Raw[0].TraceID
	}

	if captureErr != nil {
		res.CaptureErr = captureErr
		res.Raw = nil
		p.stats.captureFailures.Add(1)
		skipLogf("cycle skipped: %v", captureErr)
		return p.finish(res), nil
	}
	p.stats.captured.Add(1)

	if p.cfg.Estimator == nil {
		return p.finish(res), nil
	}

	gray := make([]*frame.Frame, len(res.Raw))
	for i, f := range res.Raw {
		gray[i] = f.ToGray()
	}
	rect, err := p.cfg.Rectifier.Apply(gray)
	if err != nil {
		p.stats.errors.Add(1)
		return nil, fmt.Errorf("rectify seq=%d: %w", res.Seq, err)
	}
	res.Rectified = rect
	m, err := p.cfg.Estimator.Estimate(rect)
	if err != nil {
		p.stats.errors.Add(1)
		return nil, fmt.Errorf("disparity seq=%d: %w", res.Seq, err)
	}
	res.Map = m
	res.Visual = m.Visual()
	p.stats.computed.Add(1)
	return p.finish(res), nil
}

func (p *Pipeline) finish(res *Result) *Result {
	res.Duration = p.cfg.Clock.Since(res.Started)
	p.stats.lastDurationNS.Store(int64(res.Duration))
	if res.Map != nil {
		st := res.Map.Stats()
		p.stats.lastDisparity.Store(&st)
	}
	tracef("cycle seq=%d trace=%s skipped=%v in %v", res.Seq, res.TraceID, res.Skipped(), res.Duration)

	p.mu.Lock()
	p.latest = res
	p.mu.Unlock()

	for _, s := range p.cfg.Sinks {
		if err := s.Consume(res); err != nil {
			p.stats.sinkErrors.Add(1)
			diagf("sink %T: %v", s, err)
		}
	}
	return res
}

// Run cycles until ctx is done or a fatal condition occurs. It returns nil
// on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	var err error
	if p.cfg.Background && !p.cfg.Black {
		err = p.runBackground(ctx)
	} else {
		err = p.runForeground(ctx)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		opsf("pipeline stopped: %v", err)
	}
	return err
}

func (p *Pipeline) interval() time.Duration {
	if p.cfg.MaxFrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / p.cfg.MaxFrameRate)
}

func (p *Pipeline) runForeground(ctx context.Context) error {
	var tick <-chan time.Time
	if iv := p.interval(); iv > 0 {
		t := p.cfg.Clock.NewTicker(iv)
		defer t.Stop()
		tick = t.C()
	}
	for {
		if _, err := p.Cycle(ctx); err != nil {
			return err
		}
		if tick == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		select {
		case <-tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) runBackground(ctx context.Context) error {
	if err := p.checkDevices(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	box := camera.NewMailbox[camera.Snapshot]()
	pollErr := make(chan error, 1)
	go func() {
		pollErr <- p.cfg.Array.Poll(ctx, p.interval(), p.cfg.CaptureTimeout, box)
		cancel()
	}()

	for {
		snap, err := box.Take(ctx)
		if err != nil {
			// Prefer the poller's reason over our own cancellation.
			select {
			case perr := <-pollErr:
				if errors.Is(perr, camera.ErrDeviceOpenFailed) {
					return ErrAllDevicesUnavailable
				}
				if perr != nil {
					return perr
				}
			default:
			}
			return err
		}
		if err := p.checkDevices(); err != nil {
			return err
		}
		if _, err := p.process(snap.At, snap.Frames, snap.Err); err != nil {
			return err
		}
		p.stats.dropped.Store(box.Drops())
	}
}
