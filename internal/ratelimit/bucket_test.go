package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// fakeClock lets tests advance bucket time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBucket(cfg BucketConfig) (*Bucket, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := NewBucket(cfg)
	b.now = clock.Now
	b.last = clock.Now()
	b.tokens = cfg.Capacity
	return b, clock
}

func TestBucketDrainAndDeny(t *testing.T) {
	b, _ := newTestBucket(BucketConfig{Capacity: 3, RefillPerSec: 1})

	require.True(t, b.TryAcquire())
	require.True(t, b.TryAcquire())
	require.True(t, b.TryAcquire())
	require.False(t, b.TryAcquire())
}

func TestBucketRefill(t *testing.T) {
	b, clock := newTestBucket(BucketConfig{Capacity: 2, RefillPerSec: 2})

	require.True(t, b.TryAcquire())
	require.True(t, b.TryAcquire())
	require.False(t, b.TryAcquire())

	clock.Advance(500 * time.Millisecond)
	require.True(t, b.TryAcquire())
	require.False(t, b.TryAcquire())
}

func TestBucketNeverExceedsCapacity(t *testing.T) {
	b, clock := newTestBucket(BucketConfig{Capacity: 2, RefillPerSec: 10})

	clock.Advance(time.Hour)
	require.InDelta(t, 2, b.Tokens(), 1e-9)
}

func TestBucketCapacityFloor(t *testing.T) {
	b := NewBucket(BucketConfig{Capacity: 0, RefillPerSec: 1})
	require.True(t, b.TryAcquire())
	require.False(t, b.TryAcquire())
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	b := NewBucket(BucketConfig{Capacity: 1, RefillPerSec: 50})
	require.True(t, b.TryAcquire())

	start := time.Now()
	require.NoError(t, b.Acquire(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestAcquireRespectsContext(t *testing.T) {
	b := NewBucket(BucketConfig{Capacity: 1, RefillPerSec: 0.001})
	require.True(t, b.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Acquire(ctx)
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestAcquireNoRefillFailsFast(t *testing.T) {
	b := NewBucket(BucketConfig{Capacity: 1, RefillPerSec: 0})
	require.True(t, b.TryAcquire())
	require.ErrorIs(t, b.Acquire(context.Background()), domain.ErrRateLimited)
}

func TestBucketConcurrentNoOverdraw(t *testing.T) {
	b, _ := newTestBucket(BucketConfig{Capacity: 100, RefillPerSec: 0})

	var granted atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if b.TryAcquire() {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(100), granted.Load())
	require.False(t, b.TryAcquire())
}

func TestLimiterClassIsolation(t *testing.T) {
	l := NewLimiter(map[domain.EndpointClass]BucketConfig{
		domain.ClassPublicRead: {Capacity: 5, RefillPerSec: 1},
		domain.ClassOrderWrite: {Capacity: 1, RefillPerSec: 0.1},
	})

	require.True(t, l.TryAcquire(domain.ClassOrderWrite))
	require.False(t, l.TryAcquire(domain.ClassOrderWrite))

	// Draining order-write leaves public-read untouched.
	require.True(t, l.TryAcquire(domain.ClassPublicRead))

	// Unconfigured classes fall back to the public-read config but hold
	// their own tokens.
	require.True(t, l.TryAcquire(domain.ClassAuthRead))
}

func TestLimiterUnknownClassFallsBack(t *testing.T) {
	l := NewLimiter(map[domain.EndpointClass]BucketConfig{
		domain.ClassPublicRead: {Capacity: 1, RefillPerSec: 0},
	})

	require.True(t, l.TryAcquire(domain.EndpointClass("mystery")))
	// The fallback shares the public-read bucket, which is now empty.
	require.False(t, l.TryAcquire(domain.ClassPublicRead))
}

func TestLimiterAcquire(t *testing.T) {
	l := NewLimiter(map[domain.EndpointClass]BucketConfig{
		domain.ClassPublicRead: {Capacity: 1, RefillPerSec: 100},
	})

	require.NoError(t, l.Acquire(context.Background(), domain.ClassPublicRead))
	require.NoError(t, l.Acquire(context.Background(), domain.ClassPublicRead))
}
