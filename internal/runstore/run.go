package runstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/pipeline"
)

// RunInfo describes a run at start.
type RunInfo struct {
	Sources    []string
	Width      int
	Height     int
	FPS        float64
	Strategy   string
	Params     any
	Calibrated bool
}

// Run status values.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
)

// Run records one pipeline run. It implements pipeline.Sink.
type Run struct {
	ID    string
	store *Store

	mu       sync.Mutex
	devices  map[int]camera.DeviceStatus
	finished bool
}

// StartRun inserts a run row and returns its recorder.
func (s *Store) StartRun(info RunInfo, at time.Time) (*Run, error) {
	params := ""
	if info.Params != nil {
		b, err := json.Marshal(info.Params)
		if err != nil {
			return nil, fmt.Errorf("encode run params: %w", err)
		}
		params = string(b)
	}
	id := uuid.NewString()
	_, err := s.Exec(`INSERT INTO runs (run_id, started_at, sources, width, height, fps, strategy, params_json, calibrated, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, at.UTC(), strings.Join(info.Sources, ","), info.Width, info.Height, info.FPS,
		info.Strategy, params, info.Calibrated, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	diagf("run %s started", id)
	return &Run{ID: id, store: s, devices: make(map[int]camera.DeviceStatus)}, nil
}

// Consume records a cycle and any device health changes.
func (r *Run) Consume(res *pipeline.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var captureErr *string
	if res.CaptureErr != nil {
		s := res.CaptureErr.Error()
		captureErr = &s
	}
	var ratio, mean, lo, hi *float64
	if res.Map != nil {
		st := res.Map.Stats()
		ratio, mean, lo, hi = &st.ValidRatio, &st.Mean, &st.Min, &st.Max
	}
	_, err = tx.Exec(`INSERT INTO cycles (run_id, cycle, seq, trace_id, started_at, duration_ms, captured, capture_error, computed,
		valid_ratio, mean_disparity, min_disparity, max_disparity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, res.Cycle, res.Seq, res.TraceID, res.Started.UTC(), float64(res.Duration)/float64(time.Millisecond),
		res.CaptureErr == nil, captureErr, res.Map != nil, ratio, mean, lo, hi)
	if err != nil {
		opsf("run %s cycle %d insert failed: %v", r.ID, res.Cycle, err)
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	for _, ev := range r.deviceEvents(res.Devices) {
		if _, err := tx.Exec(`INSERT INTO device_events (run_id, cycle, device_index, source, event, detail, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, res.Cycle, ev.Index, ev.Source, ev.Event, ev.Detail, res.Started.UTC()); err != nil {
			return fmt.Errorf("failed to insert device event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tracef("run %s cycle %d recorded", r.ID, res.Cycle)
	return nil
}

// Device event kinds.
const (
	EventUnavailable = "unavailable"
	EventFailure     = "failure"
	EventRecovered   = "recovered"
)

// DeviceEvent is one recorded health change.
type DeviceEvent struct {
	Cycle  uint64 `json:"cycle"`
	Index  int    `json:"device_index"`
	Source string `json:"source"`
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// deviceEvents diffs statuses against the previous cycle. Callers hold mu.
func (r *Run) deviceEvents(statuses []camera.DeviceStatus) []DeviceEvent {
	var out []DeviceEvent
	for _, st := range statuses {
		prev, seen := r.devices[st.Index]
		r.devices[st.Index] = st
		ev := DeviceEvent{Index: st.Index, Source: st.Source, Detail: st.LastError}
		switch {
		case !st.Available:
			if !seen || prev.Available {
				ev.Event = EventUnavailable
				out = append(out, ev)
			}
		case st.Failures > prev.Failures:
			ev.Event = EventFailure
			out = append(out, ev)
		case seen && prev.Failures > 0 && !prev.OK && st.OK:
			ev.Event, ev.Detail = EventRecovered, ""
			out = append(out, ev)
		}
	}
	return out
}

// Finish marks the run stopped, or failed when cause is non-nil.
func (r *Run) Finish(at time.Time, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	r.finished = true
	status, msg := StatusStopped, ""
	if cause != nil {
		status, msg = StatusFailed, cause.Error()
	}
	_, err := r.store.Exec(`UPDATE runs SET ended_at = ?, status = ?, error = ? WHERE run_id = ?`,
		at.UTC(), status, msg, r.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	diagf("run %s %s", r.ID, status)
	return nil
}
