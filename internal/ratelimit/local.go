package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/tenantry/internal/clock"
	"golang.org/x/time/rate"
)

// LocalBucket keeps buckets in process memory. It is used when Redis is
// not configured, so limits apply per replica.
type LocalBucket struct {
	clock clock.Clock

	mu       sync.Mutex
	limiters map[string]*localEntry
}

type localEntry struct {
	limiter  *rate.Limiter
	rule     Rule
	lastSeen time.Time
}

const localIdleTTL = 10 * time.Minute

func NewLocalBucket(clk clock.Clock) *LocalBucket {
	return &LocalBucket{clock: clk, limiters: make(map[string]*localEntry)}
}

func (b *LocalBucket) Allow(_ context.Context, key string, rule Rule) (*Result, error) {
	if err := rule.validate(); err != nil {
		return &Result{Allowed: false}, err
	}
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.sweep(now)
	entry, ok := b.limiters[key]
	if !ok || entry.rule != rule {
		entry = &localEntry{limiter: rate.NewLimiter(rate.Limit(rule.Rate), rule.Burst), rule: rule}
		b.limiters[key] = entry
	}
	entry.lastSeen = now

	allowed := entry.limiter.AllowN(now, 1)
	return newResult(allowed, rule, entry.limiter.TokensAt(now), now), nil
}

func (b *LocalBucket) sweep(now time.Time) {
	for key, entry := range b.limiters {
		if now.Sub(entry.lastSeen) > localIdleTTL {
			delete(b.limiters, key)
		}
	}
}
