package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
)

func Test_requestIDMiddlewareHeaderExists(t *testing.T) {
	api := &API{}
	wantID := "test-req-id-123"
	handler := api.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetRequestID(r.Context()); got != wantID {
			t.Errorf("want request id in context %q, got %q", wantID, got)
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, wantID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get(HeaderRequestID); got != wantID {
		t.Errorf("want X-Request-Id header %q, got %q", wantID, got)
	}
}

func Test_requestIDMiddlewareHeaderNotExists(t *testing.T) {
	api := &API{}
	var ctxID string
	handler := api.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	respID := rr.Header().Get(HeaderRequestID)
	if _, err := uuid.FromString(respID); err != nil {
		t.Errorf("want valid UUID for generated request id, got %q", respID)
	}
	if ctxID != respID {
		t.Errorf("want context request id %q to match header, got %q", respID, ctxID)
	}
}

func Test_headerMiddleware(t *testing.T) {
	api := &API{}
	handler := api.headerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	tests := map[string]string{
		"Content-Type":                "application/json",
		"Access-Control-Allow-Origin": "*",
	}
	for header, want := range tests {
		if got := rr.Header().Get(header); got != want {
			t.Errorf("want %s %q, got %q", header, want, got)
		}
	}
}

func Test_getClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	if got := getClientIP(req); got != "10.0.0.1:4321" {
		t.Errorf("want remote address, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if got := getClientIP(req); got != "203.0.113.7" {
		t.Errorf("want forwarded address, got %q", got)
	}
}
