package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	tests := []struct {
		name     string
		input    string
		expected log.Level
	}{
		{"debug lowercase", "debug", log.DebugLevel},
		{"verbose mixed case", "Verbose", log.DebugLevel},
		{"info uppercase", "INFO", log.InfoLevel},
		{"warning", "warning", log.WarnLevel},
		{"error", "error", log.ErrorLevel},
		{"quiet", "quiet", log.FatalLevel},
		{"empty string", "", log.InfoLevel},
		{"unknown string", "foobar", log.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogLevel(tt.input)
			if got := log.GetLevel(); got != tt.expected {
				t.Errorf("SetLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	var seen string
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-1" {
		t.Fatalf("request id in context = %q, want %q", seen, "req-1")
	}
	if got := rec.Header().Get(RequestIDHeader); got != "req-1" {
		t.Fatalf("response header = %q, want %q", got, "req-1")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestRequestLoggerGeneratesRequestID(t *testing.T) {
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected generated request id header")
	}
}

func TestRecovererReturns500(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestRecovererKeepsWrittenStatus(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if got := rec.Body.String(); got != "partial" {
		t.Fatalf("body = %q, want %q", got, "partial")
	}
}

// headerCountingWriter records every WriteHeader call.
type headerCountingWriter struct {
	http.ResponseWriter
	calls int
}

func (w *headerCountingWriter) WriteHeader(code int) {
	w.calls++
	w.ResponseWriter.WriteHeader(code)
}

func TestRecovererSkipsStatusOnUpgrade(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodGet, "/ws/video", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	w := &headerCountingWriter{ResponseWriter: httptest.NewRecorder()}
	h.ServeHTTP(w, req)
	if w.calls != 0 {
		t.Fatalf("WriteHeader calls = %d, want 0", w.calls)
	}
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recover() = %v, want %v", rec, http.ErrAbortHandler)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestFromContextWithoutRequestID(t *testing.T) {
	entry := FromContext(context.Background())
	if _, ok := entry.Data["request_id"]; ok {
		t.Fatalf("unexpected request_id field: %+v", entry.Data)
	}
}
