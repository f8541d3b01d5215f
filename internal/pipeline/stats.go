package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/banshee-data/stereo.depth/internal/disparity"
)

// Stats are cumulative counters since New.
type Stats struct {
	cycles          atomic.Uint64
	captured        atomic.Uint64
	captureFailures atomic.Uint64
	computed        atomic.Uint64
	errors          atomic.Uint64
	sinkErrors      atomic.Uint64
	dropped         atomic.Uint64
	lastDurationNS  atomic.Int64
	lastDisparity   atomic.Pointer[disparity.Stats]
}

// StatsSnapshot is a copy of Stats for reporting.
type StatsSnapshot struct {
	Cycles          uint64           `json:"cycles"`
	Captured        uint64           `json:"captured"`
	CaptureFailures uint64           `json:"capture_failures"`
	Computed        uint64           `json:"computed"`
	Errors          uint64           `json:"errors"`
	SinkErrors      uint64           `json:"sink_errors"`
	Dropped         uint64           `json:"dropped"`
	LastDuration    time.Duration    `json:"last_duration_ns"`
	LastDisparity   *disparity.Stats `json:"last_disparity,omitempty"`
}

// Stats returns the current counters.
func (p *Pipeline) Stats() StatsSnapshot {
	s := &p.stats
	return StatsSnapshot{
		Cycles:          s.cycles.Load(),
		Captured:        s.captured.Load(),
		CaptureFailures: s.captureFailures.Load(),
		Computed:        s.computed.Load(),
		Errors:          s.errors.Load(),
		SinkErrors:      s.sinkErrors.Load(),
		Dropped:         s.dropped.Load(),
		LastDuration:    time.Duration(s.lastDurationNS.Load()),
		LastDisparity:   s.lastDisparity.Load(),
	}
}
