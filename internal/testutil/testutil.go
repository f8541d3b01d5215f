// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// LoopbackAddr is a client address tsweb's debug handler trusts.
const LoopbackAddr = "127.0.0.1:1234"

// DebugRequest serves one request through h as if from localhost, so
// tsweb debug routes accept it.
func DebugRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.RemoteAddr = LoopbackAddr
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DebugGet is DebugRequest for GET.
func DebugGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	return DebugRequest(t, h, http.MethodGet, target, "")
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status code = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}
