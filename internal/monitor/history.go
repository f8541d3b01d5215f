package monitor

import (
	"sync"
	"time"

	"github.com/banshee-data/stereo.depth/internal/pipeline"
)

// Sample is the per-cycle summary kept by History.
type Sample struct {
	Cycle      uint64    `json:"cycle"`
	Seq        uint64    `json:"seq"`
	Time       time.Time `json:"time"`
	DurationMS float64   `json:"duration_ms"`
	Captured   bool      `json:"captured"`
	Computed   bool      `json:"computed"`
	ValidRatio float64   `json:"valid_ratio"`
	Mean       float64   `json:"mean_disparity"`
}

// History is a fixed-size ring of recent cycle samples. It implements
// pipeline.Sink.
type History struct {
	mu   sync.Mutex
	buf  []Sample
	next int
	full bool
}

// NewHistory keeps the last n samples; n below 1 becomes 1.
func NewHistory(n int) *History {
	return &History{buf: make([]Sample, max(n, 1))}
}

// Consume records one pipeline result.
func (h *History) Consume(r *pipeline.Result) error {
	s := Sample{
		Cycle:      r.Cycle,
		Seq:        r.Seq,
		Time:       r.Started,
		DurationMS: float64(r.Duration) / float64(time.Millisecond),
		Captured:   r.CaptureErr == nil,
		Computed:   r.Map != nil,
	}
	if r.Map != nil {
		st := r.Map.Stats()
		s.ValidRatio, s.Mean = st.ValidRatio, st.Mean
	}
	h.mu.Lock()
	h.buf[h.next] = s
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
	return nil
}

// Samples returns the retained samples, oldest first.
func (h *History) Samples() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Sample(nil), h.buf[:h.next]...)
	}
	out := make([]Sample, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

// Len is the number of retained samples.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}

var _ pipeline.Sink = (*History)(nil)
