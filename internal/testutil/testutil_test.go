package testutil

import (
	"io"
	"net/http"
	"testing"
)

func TestDebugRequest(t *testing.T) {
	var gotAddr, gotBody, gotType string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAddr = r.RemoteAddr
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
	})

	rec := DebugRequest(t, h, http.MethodPost, "/debug/params", `{"a":1}`)
	AssertStatusCode(t, rec, http.StatusAccepted)
	if gotAddr != LoopbackAddr {
		t.Errorf("RemoteAddr = %q, want %q", gotAddr, LoopbackAddr)
	}
	if gotBody != `{"a":1}` || gotType != "application/json" {
		t.Errorf("body %q type %q", gotBody, gotType)
	}

	DebugGet(t, h, "/debug/")
	if gotBody != "" || gotType != "" {
		t.Errorf("GET carried body %q type %q", gotBody, gotType)
	}
}
