package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerAcquireCreatesSession(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}

	release, err := m.Acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	m.RecordTurn("s1")
	release()
	release()

	got, err := m.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "s1" || got.Turns != 1 {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
}

func TestManagerAcquireSerializesSameSession(t *testing.T) {
	m := NewManager(time.Minute)
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "shared")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxSeen)
	}
}

func TestManagerAcquireDoesNotBlockOtherSessions(t *testing.T) {
	m := NewManager(time.Minute)
	releaseA, err := m.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := m.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}
	releaseB()
}

func TestManagerAcquireHonoursContext(t *testing.T) {
	m := NewManager(time.Minute)
	release, err := m.Acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestManagerJanitorExpiresIdle(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	release, _ := m.Acquire(context.Background(), "s1")
	release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != "s1" {
			t.Fatalf("expired id = %q, want s1", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not expired")
	}
	if _, err := m.Get("s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorKeepsHeldSessions(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	release, _ := m.Acquire(context.Background(), "held")
	defer release()

	time.Sleep(30 * time.Millisecond)
	m.expireInactive()
	if _, err := m.Get("held"); err != nil {
		t.Fatalf("held session expired: %v", err)
	}
}
