// Package session tracks chat sessions seen by the gateway and serializes
// concurrent chat passes that target the same session id. It never stores
// conversation content; history lives in the memory package.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID             string    `json:"session_id"`
	Turns          int       `json:"turns"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	info Session
	// lock has capacity one; holding the token means owning the session.
	lock chan struct{}
	refs int
}

type Manager struct {
	mu                sync.Mutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Acquire blocks until the caller owns sessionID or ctx ends. The session is
// created on first reference. release must be called exactly once; extra calls are ignored.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (release func(), err error) {
	m.mu.Lock()
	e := m.entryLocked(sessionID)
	e.refs++
	m.mu.Unlock()

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		m.mu.Lock()
		e.refs--
		m.mu.Unlock()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.lock
			m.mu.Lock()
			e.refs--
			e.info.LastActivityAt = time.Now().UTC()
			m.mu.Unlock()
		})
	}, nil
}

// RecordTurn counts one completed exchange for sessionID.
func (m *Manager) RecordTurn(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(sessionID)
	e.info.Turns++
	e.info.LastActivityAt = time.Now().UTC()
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	c := e.info
	return &c, nil
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

// expireInactive forgets idle, unheld sessions. Chat history is unaffected.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, e := range m.sessions {
		if e.refs > 0 {
			continue
		}
		if now.Sub(e.info.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c := e.info
		expired = append(expired, &c)
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func (m *Manager) entryLocked(sessionID string) *entry {
	e, ok := m.sessions[sessionID]
	if ok {
		return e
	}
	now := time.Now().UTC()
	e = &entry{
		info: Session{
			ID:             sessionID,
			StartedAt:      now,
			LastActivityAt: now,
		},
		lock: make(chan struct{}, 1),
	}
	m.sessions[sessionID] = e
	return e
}
