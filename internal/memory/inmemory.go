package memory

import (
	"context"
	"sync"
)

// InMemoryStore keeps history in process memory. It is lost on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	window   int
	sessions map[string][]Turn
}

func NewInMemoryStore(window int) *InMemoryStore {
	return &InMemoryStore{
		window:   normalizeWindow(window),
		sessions: make(map[string][]Turn),
	}
}

func (s *InMemoryStore) History(_ context.Context, sessionID string) ([]Turn, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, ok := s.sessions[sessionID]
	if !ok {
		s.sessions[sessionID] = nil
		return []Turn{}, nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *InMemoryStore) Append(_ context.Context, sessionID string, turns ...Turn) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if len(turns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(s.sessions[sessionID], turns...)
	if len(next) > s.window {
		// Copy so evicted turns do not stay reachable through the backing array.
		trimmed := make([]Turn, s.window)
		copy(trimmed, next[len(next)-s.window:])
		next = trimmed
	}
	s.sessions[sessionID] = next
	return nil
}

// Sessions reports how many session ids have been referenced.
func (s *InMemoryStore) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *InMemoryStore) Close() error { return nil }
