package logging

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-Id"

// RequestLogger logs one line per request with status, latency and request id.
// A request id is taken from the inbound header or generated.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(WithRequestID(r.Context(), requestID))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		latency := time.Since(start).Truncate(time.Millisecond)
		entry := log.WithFields(log.Fields{
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": requestID,
		})
		line := fmt.Sprintf("%3d | %10v | %-7s %s", status, latency, r.Method, r.URL.Path)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	})
}

// Recoverer turns handler panics into 500 responses and logs the stack through
// logrus. Once a status has been written, or the connection was upgraded, the
// panic is only logged.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithFields(log.Fields{
					"panic":      rec,
					"stack":      string(debug.Stack()),
					"path":       r.URL.Path,
					"request_id": RequestIDFromContext(r.Context()),
				}).Error("recovered from panic")
				if ww.Status() == 0 && !isUpgrade(r) {
					ww.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

func isUpgrade(r *http.Request) bool {
	return strings.TrimSpace(r.Header.Get("Upgrade")) != ""
}

// WithRequestID stores a request id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// FromContext returns an entry carrying the request id when one is present.
func FromContext(ctx context.Context) *log.Entry {
	if id := RequestIDFromContext(ctx); id != "" {
		return log.WithField("request_id", id)
	}
	return log.NewEntry(log.StandardLogger())
}
