package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Entry tracks one guest key inside the current window.
type Entry struct {
	Key         string
	Count       int
	WindowStart time.Time
}

// expired reports whether the window has elapsed. The boundary instant
// itself counts as expired: a window is active while now-start < window.
func (e *Entry) expired(now time.Time, window time.Duration) bool {
	return now.Sub(e.WindowStart) >= window
}

// MemoryStore keeps entries in process memory. It enforces the limit within
// one process only; use RedisStore when several instances share traffic.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	max     int
	window  time.Duration
}

func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		max:     cfg.MaxMessages,
		window:  cfg.Window,
	}
}

// CheckAndConsume runs lookup, expiry and increment under one lock so
// concurrent requests for the same key cannot overshoot the limit.
func (s *MemoryStore) CheckAndConsume(_ context.Context, key string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now, s.window) {
		e = &Entry{Key: key, WindowStart: now}
		s.entries[key] = e
	}

	if e.Count < s.max {
		e.Count++
		return Decision{Allowed: true, Remaining: s.max - e.Count}, nil
	}
	return Decision{
		Allowed:           false,
		RetryAfterSeconds: retryAfterSeconds(e.WindowStart.Add(s.window).Sub(now)),
	}, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.expired(now, s.window) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()
	return nil
}
