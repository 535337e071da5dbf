package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateConfig struct {
	UploadsPerMinute int // zero disables limiting
	Burst            int
}

const limiterIdleTTL = 10 * time.Minute

type ownerBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ownerLimiter keeps one token bucket per owner and forgets idle owners.
type ownerLimiter struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	buckets   map[string]*ownerBucket
	lastSweep time.Time
	now       func() time.Time
}

func newOwnerLimiter(cfg RateConfig) *ownerLimiter {
	if cfg.UploadsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &ownerLimiter{
		every:   rate.Limit(float64(cfg.UploadsPerMinute) / 60),
		burst:   burst,
		buckets: map[string]*ownerBucket{},
		now:     time.Now,
	}
}

// Allow reports whether owner may upload now. A nil limiter allows everything.
func (l *ownerLimiter) Allow(owner string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.buckets[owner]
	if !ok {
		b = &ownerBucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[owner] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}
