package password

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long a limiter survives without attempts.
const idleLimiterTTL = 10 * time.Minute

// throttle is a token bucket per account identifier.
type throttle struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	buckets  map[string]*bucket
	lastScan time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newThrottle(limit rate.Limit, burst int) *throttle {
	if burst <= 0 {
		burst = 1
	}
	return &throttle{limit: limit, burst: burst, buckets: make(map[string]*bucket)}
}

func (t *throttle) allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastScan) > idleLimiterTTL {
		for k, b := range t.buckets {
			if now.Sub(b.seen) > idleLimiterTTL {
				delete(t.buckets, k)
			}
		}
		t.lastScan = now
	}

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}
