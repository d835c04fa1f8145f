package bridge

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedLimiterKeys bounds memory use against senders rotating
// identities to evict other users' limiter state.
const maxTrackedLimiterKeys = 4096

// userRateLimiter tracks one token-bucket rate.Limiter per (channel,
// sender) key, refilling at perMinute/60 tokens per second with a
// burst of perMinute messages — a sliding-window approximation built on
// golang.org/x/time/rate, since RateLimitPerMin varies per channel
// instance.
type userRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newUserRateLimiter() *userRateLimiter {
	return &userRateLimiter{limiters: make(map[string]*entry)}
}

// Allow reports whether key may send another message under a
// perMinute-messages-per-60s budget, creating the key's limiter on
// first use.
func (u *userRateLimiter) Allow(key string, perMinute int) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.limiters) >= maxTrackedLimiterKeys {
		u.evictOldest()
	}

	e, ok := u.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)}
		u.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

func (u *userRateLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range u.limiters {
		if oldest.IsZero() || e.lastSeen.Before(oldest) {
			oldest = e.lastSeen
			oldestKey = k
		}
	}
	if oldestKey != "" {
		delete(u.limiters, oldestKey)
	}
}
