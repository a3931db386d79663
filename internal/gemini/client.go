// Package gemini adapts the Gemini generateContent API into a single
// completion call that never panics and never returns a bare error: every
// outcome is a Result carrying either text or a classified Error.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/aidex/internal/observability"
)

// ErrorKind classifies completion failures.
type ErrorKind string

const (
	KindMissingCredential       ErrorKind = "missing_credential"
	KindTransportFailure        ErrorKind = "transport_failure"
	KindUpstreamError           ErrorKind = "upstream_error"
	KindUnexpectedResponseShape ErrorKind = "unexpected_response_shape"
)

// ImageMimeType is attached to every inline image part.
const ImageMimeType = "image/jpeg"

// Error is the failure half of a Result.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return "gemini: " + string(e.Kind)
	}
	return fmt.Sprintf("gemini: %s: %s", e.Kind, e.Message)
}

// Result is either Text or Err. Callers must check OK before using Text.
type Result struct {
	Text string
	Err  *Error
}

func (r Result) OK() bool { return r.Err == nil }

// Is reports whether the result failed with kind.
func (r Result) Is(kind ErrorKind) bool { return r.Err != nil && r.Err.Kind == kind }

func TextResult(text string) Result { return Result{Text: text} }

func ErrorResult(kind ErrorKind, format string, args ...any) Result {
	return Result{Err: &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// Request is one completion call.
type Request struct {
	Prompt string
	Model  string
	// Image is raw image bytes; it is sent inline as ImageMimeType when non-empty.
	Image []byte
	// JSON constrains the response to valid JSON.
	JSON bool
}

// Client executes completion requests.
type Client interface {
	Complete(ctx context.Context, req Request) Result
}

// Config controls client construction.
type Config struct {
	Mode       string
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Metrics    *observability.Metrics
}

func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "http":
		return NewHTTPClient(cfg), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported gemini mode %q", cfg.Mode)
	}
}
