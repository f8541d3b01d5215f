// Package monitor exposes live pipeline state on the tsweb debug
// handler: device health, counters, the latest disparity image and a
// parameter endpoint for retuning the matcher while it runs.
package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"tailscale.com/tsweb"

	"github.com/banshee-data/stereo.depth/internal/disparity"
	"github.com/banshee-data/stereo.depth/internal/httputil"
	"github.com/banshee-data/stereo.depth/internal/pipeline"
)

// Server serves one pipeline.
type Server struct {
	pipe    *pipeline.Pipeline
	history *History
}

// NewServer wraps p. history may be nil, in which case the cycles chart
// and history endpoints report no data.
func NewServer(p *pipeline.Pipeline, history *History) *Server {
	if history == nil {
		history = NewHistory(1)
	}
	return &Server{pipe: p, history: history}
}

// Attach registers the monitor routes under /debug/.
func (s *Server) Attach(debug *tsweb.DebugHandler) {
	debug.KVFunc("Cycles", func() any { return s.pipe.Stats().Cycles })
	debug.KVFunc("Capture failures", func() any { return s.pipe.Stats().CaptureFailures })
	debug.KVFunc("Cameras available", func() any {
		return fmt.Sprintf("%d/%d", len(s.pipe.Array().Available()), s.pipe.Array().Len())
	})
	debug.KVFunc("Last cycle", func() any { return s.pipe.Stats().LastDuration.String() })

	debug.HandleFunc("cameras", "Camera device status (JSON)", s.handleCameras)
	debug.HandleFunc("stats", "Pipeline counters (JSON)", s.handleStats)
	debug.HandleFunc("params", "Block matching parameters (GET/POST JSON)", s.handleParams)
	debug.HandleFunc("disparity.png", "Latest disparity heat map (?raw=1 for 8-bit gray)", s.handleDisparity)
	debug.HandleFunc("cycles-chart", "Cycle timing and coverage chart", s.handleCyclesChart)
	debug.HandleSilentFunc("history", s.handleHistory)
	debug.HandleSilentFunc("view.png", s.handleView)
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.pipe.Array().Statuses())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.pipe.Stats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.history.Samples())
}

func (s *Server) tunable() (disparity.Tunable, bool) {
	t, ok := s.pipe.Estimator().(disparity.Tunable)
	return t, ok
}

// handleParams returns the matcher parameters on GET. POST merges the
// JSON body onto the current parameters, so a partial document changes
// only the fields it names.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tunable()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no tunable estimator")
		return
	}
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, t.Params())
	case http.MethodPost:
		p := t.Params()
		if err := httputil.DecodeJSON(r, &p); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := t.SetParams(p); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		diagf("parameters updated from %s", r.RemoteAddr)
		httputil.WriteJSONOK(w, t.Params())
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

var errNoDisparity = errors.New("no disparity map yet")

func (s *Server) latestMap() (*pipeline.Result, error) {
	res := s.pipe.Latest()
	if res == nil || res.Map == nil {
		return nil, errNoDisparity
	}
	return res, nil
}

func (s *Server) handleDisparity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	res, err := s.latestMap()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	var buf bytes.Buffer
	if r.URL.Query().Get("raw") == "1" {
		err = res.Visual.WritePNG(&buf)
	} else {
		err = writeHeatmap(&buf, res.Map)
	}
	if err != nil {
		opsf("render disparity seq=%d: %v", res.Seq, err)
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tracef("rendered disparity seq=%d raw=%v %d bytes", res.Seq, r.URL.Query().Get("raw") == "1", buf.Len())
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// handleView serves one rectified view of the latest computed cycle.
// Raw frames are not served because capture reuses their buffers.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	res, err := s.latestMap()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	i := 0
	if v := r.URL.Query().Get("i"); v != "" {
		if i, err = strconv.Atoi(v); err != nil {
			httputil.BadRequest(w, "invalid view index")
			return
		}
	}
	if i < 0 || i >= len(res.Rectified) {
		httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("view %d out of range", i))
		return
	}
	var buf bytes.Buffer
	if err := res.Rectified[i].WritePNG(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleCyclesChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	var buf bytes.Buffer
	if err := renderCyclesChart(&buf, s.history.Samples()); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
