package repository

import (
	"context"
	"sync"
	"time"

	"marketbook/internal/clock"
)

// MemoryThrottle is the process-local fallback used while Redis is down.
type MemoryThrottle struct {
	mu      sync.Mutex
	windows map[string]*rateLimitEntry
	clock   clock.Clock
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryThrottle(clk clock.Clock) *MemoryThrottle {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryThrottle{
		windows: make(map[string]*rateLimitEntry),
		clock:   clk,
	}
}

func (r *MemoryThrottle) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.windows[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.windows[key] = entry
	}
	entry.count++

	if len(r.windows) > 1024 {
		r.evict(now)
	}
	return entry.count <= limit, nil
}

func (r *MemoryThrottle) evict(now time.Time) {
	for k, e := range r.windows {
		if !now.Before(e.expiresAt) {
			delete(r.windows, k)
		}
	}
}
