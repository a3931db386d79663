package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const WelcomeMessage = "Welcome to the Aidex AI Backend. We are ready to assist."

var ErrInvalidFrame = errors.New("invalid video frame")

type Welcome struct {
	Message string `json:"message"`
}

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Language  string `json:"language,omitempty"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

// ErrorResponse is returned by every HTTP handler that fails. Code is empty
// for the legacy empty-message reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// VideoFrame is one inbound /ws/video message. Image holds base64 JPEG bytes,
// optionally as a data URL.
type VideoFrame struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt,omitempty"`
}

// VideoAnalysis is the single outbound message per processed frame. Analysis
// is either the analysis text or an AnalysisError.
type VideoAnalysis struct {
	Analysis any `json:"analysis"`
}

type AnalysisError struct {
	Error string `json:"error"`
}

func AnalysisText(text string) VideoAnalysis {
	return VideoAnalysis{Analysis: text}
}

func AnalysisFailure(format string, args ...any) VideoAnalysis {
	return VideoAnalysis{Analysis: AnalysisError{Error: fmt.Sprintf(format, args...)}}
}

type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SessionHistory struct {
	SessionID      string        `json:"session_id"`
	Turns          []HistoryTurn `json:"turns"`
	Exchanges      int           `json:"exchanges"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	LastActivityAt *time.Time    `json:"last_activity_at,omitempty"`
}

// ParseVideoFrame decodes one websocket payload. A frame without an image is
// valid; callers skip it.
func ParseVideoFrame(raw []byte) (VideoFrame, error) {
	var frame VideoFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return VideoFrame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return frame, nil
}
