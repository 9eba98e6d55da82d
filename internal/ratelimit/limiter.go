package ratelimit

import (
	"context"
	"fmt"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// Limiter is one venue's admission controller: an independent bucket per
// endpoint class. Unknown classes fall back to the public-read bucket so a
// misconfigured adapter degrades to the strictest public limit rather than
// bypassing control.
type Limiter struct {
	buckets map[domain.EndpointClass]*Bucket
}

// NewLimiter builds a Limiter from per-class bucket configs. Classes missing
// from cfgs share the public-read config; if that is absent too, a 1-token
// 1/s bucket is used.
func NewLimiter(cfgs map[domain.EndpointClass]BucketConfig) *Limiter {
	fallback, ok := cfgs[domain.ClassPublicRead]
	if !ok {
		fallback = BucketConfig{Capacity: 1, RefillPerSec: 1}
	}

	buckets := make(map[domain.EndpointClass]*Bucket, 3)
	for _, class := range []domain.EndpointClass{domain.ClassPublicRead, domain.ClassAuthRead, domain.ClassOrderWrite} {
		cfg, ok := cfgs[class]
		if !ok {
			cfg = fallback
		}
		buckets[class] = NewBucket(cfg)
	}
	return &Limiter{buckets: buckets}
}

func (l *Limiter) bucket(class domain.EndpointClass) *Bucket {
	if b, ok := l.buckets[class]; ok {
		return b
	}
	return l.buckets[domain.ClassPublicRead]
}

// Acquire blocks until the class's bucket grants a token or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, class domain.EndpointClass) error {
	if err := l.bucket(class).Acquire(ctx); err != nil {
		return fmt.Errorf("ratelimit: acquire %s: %w", class, err)
	}
	return nil
}

// TryAcquire consumes a token from the class's bucket if one is available.
func (l *Limiter) TryAcquire(class domain.EndpointClass) bool {
	return l.bucket(class).TryAcquire()
}

// Compile-time interface check.
var _ domain.RateLimiter = (*Limiter)(nil)
