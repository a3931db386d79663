package memory

import (
	"context"
	"errors"
)

// DefaultWindow is the number of turns retained per session (the last five exchanges).
const DefaultWindow = 10

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one user or assistant message. Turns are never mutated after append.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

var ErrEmptySessionID = errors.New("empty session id")

// Store owns per-session chat history. Implementations keep at most their
// window of newest turns per session, oldest evicted first, in chronological order.
type Store interface {
	// History returns the retained turns for sessionID; an unseen id yields an empty history.
	History(ctx context.Context, sessionID string) ([]Turn, error)
	// Append adds turns in order and trims the session back to the window.
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Close() error
}

func normalizeWindow(window int) int {
	if window <= 0 {
		return DefaultWindow
	}
	return window
}
