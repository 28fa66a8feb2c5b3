// Package ratelimit provides fixed-window rate limiting keyed by client.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited is returned by Consume when the key has used up its window.
var ErrRateLimited = errors.New("rate limit exceeded")

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool          // Whether the request is allowed
	Remaining  int           // Remaining requests in the current window
	ResetAfter time.Duration // Time until the current window ends
	RetryAfter time.Duration // Suggested retry time (if blocked)
	Limit      int           // The configured points per window
}

// Limiter defines the rate limiting interface.
type Limiter interface {
	// Allow consumes one point for the given key and reports whether
	// the request fits inside the key's current window.
	Allow(ctx context.Context, key string) (*Result, error)

	// Reset clears the rate limit state for a key.
	Reset(ctx context.Context, key string) error

	// Close releases any resources held by the limiter.
	Close() error
}

// Consume spends one point for key and returns ErrRateLimited when the
// window is exhausted. Errors from the limiter itself are returned as is.
func Consume(ctx context.Context, l Limiter, key string) error {
	result, err := l.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return ErrRateLimited
	}
	return nil
}

// Config holds rate limiter configuration.
type Config struct {
	Points          int           // Maximum requests per window
	Duration        time.Duration // Fixed window length
	CleanupInterval time.Duration // How often expired windows are dropped; 0 disables
}

// DefaultConfig returns the default configuration: 20 requests per minute.
func DefaultConfig() Config {
	return Config{
		Points:   20,
		Duration: time.Minute,
	}
}

// Clock reads the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time { return f() }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
