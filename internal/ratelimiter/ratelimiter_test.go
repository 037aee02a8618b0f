package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
		unlimited         bool
	}{
		{name: "standard rate", requestsPerSecond: 100, burst: 200},
		{name: "default burst", requestsPerSecond: 10, burst: 0},
		{name: "unlimited (zero rate)", requestsPerSecond: 0, burst: 0, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			if limiter == nil {
				t.Fatal("New() returned nil")
			}
			if limiter.Unlimited() != tt.unlimited {
				t.Fatalf("Unlimited() = %v, want %v", limiter.Unlimited(), tt.unlimited)
			}
		})
	}
}

// TestAllow_PerEndpointBuckets verifies that endpoints do not share tokens.
func TestAllow_PerEndpointBuckets(t *testing.T) {
	limiter := New(1, 2)

	for i := 0; i < 2; i++ {
		if !limiter.Allow("http://a") {
			t.Fatalf("request %d to a should be allowed (within burst)", i)
		}
	}
	if limiter.Allow("http://a") {
		t.Fatal("third request to a should be throttled")
	}

	// A different endpoint still has its full burst
	if !limiter.Allow("http://b") {
		t.Fatal("first request to b should be allowed")
	}

	if got := limiter.Endpoints(); got != 2 {
		t.Fatalf("Endpoints() = %d, want 2", got)
	}
}

// TestWait_ContextCancelled verifies that Wait honours cancellation.
func TestWait_ContextCancelled(t *testing.T) {
	limiter := New(1, 1)
	if !limiter.Allow("http://a") {
		t.Fatal("first request should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "http://a"); err == nil {
		t.Fatal("Wait should fail when the context expires before a token is available")
	}
}

// TestUnlimited verifies that an unlimited limiter never blocks.
func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 1000; i++ {
		if !limiter.Allow("http://a") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if err := limiter.Wait(context.Background(), "http://a"); err != nil {
		t.Fatalf("Wait returned %v", err)
	}
	if limiter.Endpoints() != 0 {
		t.Fatal("unlimited limiter should not allocate buckets")
	}
}
