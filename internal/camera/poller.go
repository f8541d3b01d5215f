package camera

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/stereo.depth/internal/frame"
)

// Snapshot is a self-contained copy of one capture cycle. Frames are
// owned by the receiver; entries are nil for devices that failed.
type Snapshot struct {
	Seq    uint64
	At     time.Time
	Frames []*frame.Frame
	Err    error
}

// OK reports whether every available device contributed a frame.
func (s Snapshot) OK() bool { return s.Err == nil }

// Poll captures continuously from a single goroutine and publishes each
// cycle to out. Cycles are paced by interval when it is positive and
// bounded by timeout when it is positive. Poll returns when ctx is done
// or every device has become unavailable.
func (a *Array) Poll(ctx context.Context, interval, timeout time.Duration, out *Mailbox[Snapshot]) error {
	var tick <-chan time.Time
	if interval > 0 {
		t := a.cfg.Clock.NewTicker(interval)
		defer t.Stop()
		tick = t.C()
	}
	diagf("poller started: interval=%v timeout=%v", interval, timeout)
	for {
		if a.AllUnavailable() {
			return ErrDeviceOpenFailed
		}
		var err error
		if timeout > 0 {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			err = a.CaptureContext(cctx)
			cancel()
		} else {
			err = a.capture()
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out.Publish(a.snapshot(err))

		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (a *Array) snapshot(err error) Snapshot {
	s := Snapshot{Frames: make([]*frame.Frame, len(a.devices)), Err: err}
	for i, d := range a.devices {
		f, ok := d.frame()
		if !ok {
			continue
		}
		s.Frames[i] = f.Clone()
		s.Seq, s.At = f.Seq, f.Timestamp
	}
	return s
}
