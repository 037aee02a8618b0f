package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter throttles outgoing requests per endpoint using the token bucket
// algorithm from golang.org/x/time/rate.
//
// Every endpoint key (typically the base URL of an anchoring or bricking
// service) gets its own bucket, created lazily on first use. This keeps a slow
// or throttling endpoint from starving requests to the other candidates that
// the transport races against it.
//
// A Limiter built with requestsPerSecond == 0 never blocks.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	requestsPerSecond uint
	burst             uint

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter with the given sustained rate and burst per endpoint.
//
// Parameters:
//   - requestsPerSecond: Maximum sustained rate per endpoint (0 = unlimited)
//   - burst: Bucket capacity per endpoint (defaults to 2x the rate when 0)
func New(requestsPerSecond, burst uint) *Limiter {
	if requestsPerSecond > 0 && burst == 0 {
		burst = requestsPerSecond * 2
	}

	return &Limiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		buckets:           make(map[string]*rate.Limiter),
	}
}

// Unlimited reports whether the limiter never throttles.
func (l *Limiter) Unlimited() bool {
	return l == nil || l.requestsPerSecond == 0
}

// bucket returns the token bucket for key, creating it on first use.
func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.requestsPerSecond), int(l.burst))
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether a request to key may proceed right now, consuming a
// token when it does.
func (l *Limiter) Allow(key string) bool {
	if l.Unlimited() {
		return true
	}
	return l.bucket(key).Allow()
}

// Wait blocks until a token for key is available or ctx is done.
//
// Returns the context error if ctx is cancelled first.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l.Unlimited() {
		return ctx.Err()
	}
	return l.bucket(key).Wait(ctx)
}

// Tokens returns the tokens currently available for key.
//
// This is primarily useful for monitoring and tests.
func (l *Limiter) Tokens(key string) float64 {
	if l.Unlimited() {
		return float64(^uint32(0))
	}
	return l.bucket(key).Tokens()
}

// Endpoints returns the number of endpoints that have a bucket.
func (l *Limiter) Endpoints() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
