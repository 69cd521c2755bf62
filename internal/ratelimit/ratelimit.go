// Package ratelimit provides per-client request throttling for the HTTP
// surface. The in-memory token bucket suits the single-instance
// deployment model; the Limiter interface is the seam for anything
// distributed.
package ratelimit

import "context"

// Limiter decides whether a request identified by key may proceed.
// Implementations must be safe for concurrent use. An error signals a
// limiter malfunction; callers fail open rather than blocking traffic.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources such as cleanup goroutines.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
