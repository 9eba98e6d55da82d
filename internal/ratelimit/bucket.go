// Package ratelimit implements in-process token-bucket admission control,
// one bucket per (venue, endpoint class). Bucket state is explicitly owned
// by the venue's dispatcher; there is no ambient global limiter.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// BucketConfig sizes one token bucket. Capacity is the burst allowance and
// must be at least 1; RefillPerSec is the sustained rate. Values come from
// venue configuration, never hardcoded here.
type BucketConfig struct {
	Capacity     float64
	RefillPerSec float64
}

// Bucket is a token bucket with continuous refill. Tokens never exceed
// Capacity and never go below zero; callers that find the bucket empty wait
// (Acquire) or are denied (TryAcquire) instead of overdrawing.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	last       time.Time

	now func() time.Time // stubbed in tests
}

// NewBucket creates a full bucket.
func NewBucket(cfg BucketConfig) *Bucket {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	b := &Bucket{
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillPerSec,
		tokens:     cfg.Capacity,
		now:        time.Now,
	}
	b.last = b.now()
	return b
}

// refillLocked advances the token count to the current instant. Caller must
// hold b.mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

// TryAcquire consumes one token if available, returning false otherwise.
func (b *Bucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Acquire blocks until a token is available or ctx is done. It suspends on a
// timer sized to the bucket's refill deficit rather than spinning.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		b.mu.Unlock()

		if b.refillRate <= 0 {
			return fmt.Errorf("ratelimit: %w: bucket has no refill", domain.ErrRateLimited)
		}

		wait := time.Duration(deficit / b.refillRate * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: %w: %v", domain.ErrRateLimited, ctx.Err())
		case <-timer.C:
		}
	}
}

// Tokens returns the current token count after refill.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}
