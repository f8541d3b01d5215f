package runstore

import (
	"database/sql"
	"slices"
	"time"
)

// RunSummary is a row of the runs table with cycle counts.
type RunSummary struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Sources    string     `json:"sources"`
	Strategy   string     `json:"strategy"`
	Calibrated bool       `json:"calibrated"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Cycles     int        `json:"cycles"`
	Computed   int        `json:"computed"`
}

// CycleRecord is a row of the cycles table.
type CycleRecord struct {
	Cycle        uint64    `json:"cycle"`
	Seq          uint64    `json:"seq"`
	TraceID      string    `json:"trace_id"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   float64   `json:"duration_ms"`
	Captured     bool      `json:"captured"`
	CaptureError string    `json:"capture_error,omitempty"`
	Computed     bool      `json:"computed"`
	ValidRatio   float64   `json:"valid_ratio"`
	Mean         float64   `json:"mean_disparity"`
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	rows, err := s.Query(`
		SELECT r.run_id, r.started_at, r.ended_at, r.sources, r.strategy, r.calibrated, r.status,
		       COALESCE(r.error, ''), COUNT(c.cycle), COALESCE(SUM(c.computed), 0)
		FROM runs r LEFT JOIN cycles c ON c.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var ended sql.NullTime
		if err := rows.Scan(&rs.ID, &rs.StartedAt, &ended, &rs.Sources, &rs.Strategy, &rs.Calibrated,
			&rs.Status, &rs.Error, &rs.Cycles, &rs.Computed); err != nil {
			return nil, err
		}
		if ended.Valid {
			rs.EndedAt = &ended.Time
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// RecentCycles returns up to limit cycles of a run in ascending order.
func (s *Store) RecentCycles(runID string, limit int) ([]CycleRecord, error) {
	rows, err := s.Query(`
		SELECT cycle, seq, COALESCE(trace_id, ''), started_at, duration_ms, captured,
		       COALESCE(capture_error, ''), computed, COALESCE(valid_ratio, 0), COALESCE(mean_disparity, 0)
		FROM cycles WHERE run_id = ?
		ORDER BY cycle DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var c CycleRecord
		if err := rows.Scan(&c.Cycle, &c.Seq, &c.TraceID, &c.StartedAt, &c.DurationMS, &c.Captured,
			&c.CaptureError, &c.Computed, &c.ValidRatio, &c.Mean); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// DeviceEvents returns a run's device events in order.
func (s *Store) DeviceEvents(runID string) ([]DeviceEvent, error) {
	rows, err := s.Query(`
		SELECT cycle, device_index, source, event, COALESCE(detail, '')
		FROM device_events WHERE run_id = ? ORDER BY event_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeviceEvent
	for rows.Next() {
		var e DeviceEvent
		if err := rows.Scan(&e.Cycle, &e.Index, &e.Source, &e.Event, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
