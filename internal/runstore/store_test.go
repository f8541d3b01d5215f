package runstore

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tailscale.com/tsweb"

	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/disparity"
	"github.com/banshee-data/stereo.depth/internal/pipeline"
	"github.com/banshee-data/stereo.depth/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func status(i int, available, ok bool, failures uint64, lastErr string) camera.DeviceStatus {
	return camera.DeviceStatus{
		Index: i, Source: "src", Available: available, OK: ok,
		Failures: failures, LastError: lastErr,
	}
}

func TestOpenMigrates(t *testing.T) {
	s := openStore(t)
	v, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	// Re-running is a no-op.
	assert.NoError(t, s.MigrateUp())
}

func TestRunRecordsCycles(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(RunInfo{
		Sources: []string{"0", "1"}, Width: 64, Height: 48, FPS: 30,
		Strategy: "bm", Params: disparity.DefaultParams(), Calibrated: true,
	}, t0)
	require.NoError(t, err)

	m := &disparity.Map{Width: 2, Height: 1, Raw: []int16{80, -16}, Invalid: -16, NumDisparities: 16}
	results := []*pipeline.Result{
		{Cycle: 1, Seq: 1, TraceID: "a", Started: t0, Duration: 5 * time.Millisecond, Map: m,
			Devices: []camera.DeviceStatus{status(0, true, true, 0, ""), status(1, false, false, 0, "open failed")}},
		{Cycle: 2, Seq: 2, Started: t0.Add(time.Second), CaptureErr: errors.New("grab"),
			Devices: []camera.DeviceStatus{status(0, true, false, 1, "grab: timeout"), status(1, false, false, 0, "open failed")}},
		{Cycle: 3, Seq: 3, Started: t0.Add(2 * time.Second), Map: m,
			Devices: []camera.DeviceStatus{status(0, true, true, 1, "grab: timeout"), status(1, false, false, 0, "open failed")}},
	}
	var sink pipeline.Sink = run
	for _, r := range results {
		require.NoError(t, sink.Consume(r))
	}
	require.NoError(t, run.Finish(t0.Add(time.Minute), nil))

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, StatusStopped, runs[0].Status)
	assert.Equal(t, 3, runs[0].Cycles)
	assert.Equal(t, 2, runs[0].Computed)
	assert.True(t, runs[0].Calibrated)
	require.NotNil(t, runs[0].EndedAt)

	cycles, err := s.RecentCycles(run.ID, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, uint64(2), cycles[0].Cycle)
	assert.False(t, cycles[0].Captured)
	assert.Equal(t, "grab", cycles[0].CaptureError)
	assert.True(t, cycles[1].Computed)
	assert.InDelta(t, 0.5, cycles[1].ValidRatio, 1e-9)
	assert.InDelta(t, 5.0, cycles[1].Mean, 1e-9)

	events, err := s.DeviceEvents(run.ID)
	require.NoError(t, err)
	assert.Equal(t, []DeviceEvent{
		{Cycle: 1, Index: 1, Source: "src", Event: EventUnavailable, Detail: "open failed"},
		{Cycle: 2, Index: 0, Source: "src", Event: EventFailure, Detail: "grab: timeout"},
		{Cycle: 3, Index: 0, Source: "src", Event: EventRecovered},
	}, events)
}

func TestFinishFailed(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(RunInfo{Strategy: "bm"}, t0)
	require.NoError(t, err)
	require.NoError(t, run.Finish(t0, pipeline.ErrAllDevicesUnavailable))
	require.NoError(t, run.Finish(t0, nil), "second finish is ignored")

	runs, err := s.ListRuns(1)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, pipeline.ErrAllDevicesUnavailable.Error(), runs[0].Error)
}

func TestAdminRoutes(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(RunInfo{Strategy: "bm"}, t0)
	require.NoError(t, err)
	require.NoError(t, run.Consume(&pipeline.Result{Cycle: 1, Started: t0}))

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(tsweb.Debugger(mux)))

	get := func(path string) *httptest.ResponseRecorder {
		return testutil.DebugGet(t, mux, path)
	}

	rec := get("/debug/runs")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var runs []RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	rec = get("/debug/run-cycles?run=" + run.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"cycles"`)

	rec = get("/debug/run-cycles")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
