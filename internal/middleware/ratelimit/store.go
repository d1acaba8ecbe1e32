// Package ratelimit implements fixed-window request limiting keyed by client.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

type windowEntry struct {
	start time.Time
	count int
}

// MemoryStore is a per-process fixed-window counter. It satisfies echo's
// middleware.RateLimiterStore.
type MemoryStore struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*windowEntry

	stop     chan struct{}
	stopOnce sync.Once

	totalAllowed  uint64
	totalRejected uint64
}

func NewMemoryStore(limit int, window time.Duration) *MemoryStore {
	return NewMemoryStoreWithClock(limit, window, time.Now)
}

// NewMemoryStoreWithClock does not start the cleanup loop; call StartCleanup if needed.
func NewMemoryStoreWithClock(limit int, window time.Duration, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		limit:   limit,
		window:  window,
		now:     now,
		entries: make(map[string]*windowEntry),
		stop:    make(chan struct{}),
	}
}

func (s *MemoryStore) Allow(identifier string) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[identifier]
	if !ok || !now.Before(e.start.Add(s.window)) {
		e = &windowEntry{start: now}
		s.entries[identifier] = e
	}

	if e.count >= s.limit {
		atomic.AddUint64(&s.totalRejected, 1)
		return false, nil
	}
	e.count++
	atomic.AddUint64(&s.totalAllowed, 1)
	return true, nil
}

// ResetAfter reports how long until the identifier's current window ends.
func (s *MemoryStore) ResetAfter(identifier string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[identifier]
	if !ok {
		return 0
	}
	d := e.start.Add(s.window).Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

func (s *MemoryStore) Stats() (allowed, rejected uint64) {
	return atomic.LoadUint64(&s.totalAllowed), atomic.LoadUint64(&s.totalRejected)
}

// StartCleanup drops expired windows every interval until Stop is called.
func (s *MemoryStore) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if !now.Before(e.start.Add(s.window)) {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
