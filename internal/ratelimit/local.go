package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localBuckets is the single-process fallback used when no redis is configured.
type localBuckets struct {
	mu      sync.Mutex
	buckets map[string]*localEntry
	idle    time.Duration
	now     func() time.Time
	sweep   time.Time
}

type localEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newLocalBuckets(idle time.Duration) *localBuckets {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &localBuckets{
		buckets: map[string]*localEntry{},
		idle:    idle,
		now:     time.Now,
	}
}

func (b *localBuckets) Take(key string, policy Policy) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.evict(now)

	entry, ok := b.buckets[key]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(rate.Limit(policy.Rate), policy.Burst)}
		b.buckets[key] = entry
	}
	entry.seen = now

	if entry.limiter.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: entry.limiter.TokensAt(now)}
	}
	remaining := entry.limiter.TokensAt(now)
	return Decision{Remaining: remaining, RetryAfter: policy.retryAfter(remaining)}
}

func (b *localBuckets) evict(now time.Time) {
	if now.Sub(b.sweep) < b.idle {
		return
	}
	b.sweep = now
	for key, entry := range b.buckets {
		if now.Sub(entry.seen) >= b.idle {
			delete(b.buckets, key)
		}
	}
}
