package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tailscale.com/tsweb"

	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/disparity"
	"github.com/banshee-data/stereo.depth/internal/pipeline"
	"github.com/banshee-data/stereo.depth/internal/rectify"
	"github.com/banshee-data/stereo.depth/internal/testutil"
)

const (
	testW = 96
	testH = 48
)

func testParams() disparity.Params {
	return disparity.Params{
		BlockSize:        9,
		NumDisparities:   16,
		UniquenessRatio:  10,
		SpeckleRange:     16,
		TextureThreshold: 10,
		PreFilterCap:     31,
		PreFilterSize:    9,
		PreFilterType:    disparity.PreFilterNormalized,
		Workers:          1,
	}
}

func newTestServer(t *testing.T, withEstimator bool) (*Server, *pipeline.Pipeline, *History) {
	t.Helper()
	a, err := camera.Open(
		[]camera.Source{camera.IndexSource(0), camera.IndexSource(1)},
		camera.Config{Width: testW, Height: testH, FPS: 30, Opener: camera.PatternOpener(4)},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	h := NewHistory(8)
	cfg := pipeline.Config{Array: a, Sinks: []pipeline.Sink{h}}
	if withEstimator {
		bm, err := disparity.NewBlockMatcher(testParams())
		require.NoError(t, err)
		cfg.Estimator = bm
		cfg.Rectifier = rectify.Identity{}
	}
	p, err := pipeline.New(cfg)
	require.NoError(t, err)
	return NewServer(p, h), p, h
}

func do(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHistoryWraps(t *testing.T) {
	h := NewHistory(3)
	assert.Empty(t, h.Samples())
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, h.Consume(&pipeline.Result{Cycle: i, Duration: time.Duration(i) * time.Millisecond}))
	}
	var cycles []uint64
	for _, s := range h.Samples() {
		cycles = append(cycles, s.Cycle)
	}
	if diff := cmp.Diff([]uint64{3, 4, 5}, cycles); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, h.Len())
	assert.InDelta(t, 5.0, h.Samples()[2].DurationMS, 1e-9)
	assert.True(t, h.Samples()[2].Captured)
	assert.False(t, h.Samples()[2].Computed)
}

func TestHistoryRecordsDisparityStats(t *testing.T) {
	_, p, h := newTestServer(t, true)
	_, err := p.Cycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, h.Len())
	s := h.Samples()[0]
	assert.True(t, s.Computed)
	assert.Greater(t, s.ValidRatio, 0.0)
	assert.Equal(t, p.Stats().LastDisparity.ValidRatio, s.ValidRatio)
}

func TestParams(t *testing.T) {
	s, p, _ := newTestServer(t, true)

	rec := do(t, s.handleParams, http.MethodGet, "/debug/params", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got disparity.Params
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, testParams(), got)

	rec = do(t, s.handleParams, http.MethodPost, "/debug/params", `{"uniqueness_ratio": 25}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	want := testParams()
	want.UniquenessRatio = 25
	assert.Equal(t, want, p.Estimator().(disparity.Tunable).Params())

	rec = do(t, s.handleParams, http.MethodPost, "/debug/params", `{"block_size": 4}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, want, p.Estimator().(disparity.Tunable).Params())

	rec = do(t, s.handleParams, http.MethodPost, "/debug/params", `{"no_such_field": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.handleParams, http.MethodDelete, "/debug/params", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParamsWithoutEstimator(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	rec := do(t, s.handleParams, http.MethodGet, "/debug/params", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisparityImage(t *testing.T) {
	s, p, _ := newTestServer(t, true)

	rec := do(t, s.handleDisparity, http.MethodGet, "/debug/disparity.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := p.Cycle(context.Background())
	require.NoError(t, err)

	rec = do(t, s.handleDisparity, http.MethodGet, "/debug/disparity.png?raw=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, testW, img.Bounds().Dx())
	assert.Equal(t, testH, img.Bounds().Dy())

	rec = do(t, s.handleDisparity, http.MethodGet, "/debug/disparity.png", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err = png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
}

func TestViewImage(t *testing.T) {
	s, p, _ := newTestServer(t, true)
	_, err := p.Cycle(context.Background())
	require.NoError(t, err)

	rec := do(t, s.handleView, http.MethodGet, "/debug/view.png?i=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, testW, img.Bounds().Dx())

	rec = do(t, s.handleView, http.MethodGet, "/debug/view.png?i=2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s.handleView, http.MethodGet, "/debug/view.png?i=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCyclesChart(t *testing.T) {
	s, p, _ := newTestServer(t, true)
	for range 2 {
		_, err := p.Cycle(context.Background())
		require.NoError(t, err)
	}
	rec := do(t, s.handleCyclesChart, http.MethodGet, "/debug/cycles-chart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Cycle duration")
}

func TestAttachRoutes(t *testing.T) {
	s, p, _ := newTestServer(t, true)
	_, err := p.Cycle(context.Background())
	require.NoError(t, err)

	mux := http.NewServeMux()
	s.Attach(tsweb.Debugger(mux))

	get := func(path string) *httptest.ResponseRecorder {
		return testutil.DebugGet(t, mux, path)
	}

	rec := get("/debug/cameras")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var statuses []camera.DeviceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Available)
	assert.True(t, statuses[1].OK)

	rec = get("/debug/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var st pipeline.StatsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, uint64(1), st.Computed)

	rec = get("/debug/history")
	require.Equal(t, http.StatusOK, rec.Code)
	var samples []Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &samples))
	assert.Len(t, samples, 1)

	rec = get("/debug/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cameras available")
}
