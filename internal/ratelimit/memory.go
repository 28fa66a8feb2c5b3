package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter implements an in-memory fixed window rate limiter.
//
// A key may be served up to Points requests at the very end of one window
// and Points again right after the boundary, so a short interval straddling
// two windows can see up to twice the configured rate. This is inherent to
// fixed windows and accepted.
type MemoryLimiter struct {
	config  Config
	clock   Clock
	entries sync.Map // map[string]*window

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// window is the counter for a single key.
type window struct {
	mu    sync.Mutex
	count int
	start time.Time
	dead  bool // removed from the map by cleanup
}

// Option configures a MemoryLimiter.
type Option func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(m *MemoryLimiter) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewMemoryLimiter creates a new in-memory rate limiter.
func NewMemoryLimiter(cfg Config, opts ...Option) *MemoryLimiter {
	m := &MemoryLimiter{
		config: cfg,
		clock:  realClock{},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}

	return m
}

// Allow consumes one point for key.
func (m *MemoryLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	for {
		val, _ := m.entries.LoadOrStore(key, &window{})
		w := val.(*window)

		w.mu.Lock()
		if w.dead {
			// Lost a race with cleanup; the next LoadOrStore sees a fresh entry.
			w.mu.Unlock()
			continue
		}
		result := m.consume(w, m.clock.Now())
		w.mu.Unlock()
		return result, nil
	}
}

// consume applies the fixed window algorithm. Caller holds w.mu.
func (m *MemoryLimiter) consume(w *window, now time.Time) *Result {
	if w.start.IsZero() || !now.Before(w.start.Add(m.config.Duration)) {
		w.count = 0
		w.start = now
	}

	resetAfter := w.start.Add(m.config.Duration).Sub(now)

	if w.count >= m.config.Points {
		return &Result{
			Allowed:    false,
			Remaining:  0,
			ResetAfter: resetAfter,
			RetryAfter: resetAfter,
			Limit:      m.config.Points,
		}
	}

	w.count++

	return &Result{
		Allowed:    true,
		Remaining:  m.config.Points - w.count,
		ResetAfter: resetAfter,
		Limit:      m.config.Points,
	}
}

// Reset clears the rate limit state for a key.
func (m *MemoryLimiter) Reset(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if val, ok := m.entries.LoadAndDelete(key); ok {
		w := val.(*window)
		w.mu.Lock()
		w.dead = true
		w.mu.Unlock()
	}
	return nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
	return nil
}

// Len returns the number of keys currently tracked.
func (m *MemoryLimiter) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *MemoryLimiter) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup drops windows that have ended. A dropped key starts a fresh
// window on its next request, exactly as an expired window would.
func (m *MemoryLimiter) cleanup() {
	now := m.clock.Now()

	m.entries.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		if !now.Before(w.start.Add(m.config.Duration)) {
			w.dead = true
			m.entries.CompareAndDelete(key, w)
		}
		w.mu.Unlock()
		return true
	})
}
