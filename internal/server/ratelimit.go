package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ipBurst         = 10
	visitorIdleTime = 5 * time.Minute
)

// ipRateLimiter is a token bucket per client IP. Idle buckets are dropped
// during later calls.
type ipRateLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	rps         rate.Limit
	burst       int
	lastCleanup time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(perMinute int) *ipRateLimiter {
	if perMinute <= 0 {
		return &ipRateLimiter{rps: rate.Inf}
	}
	burst := ipBurst
	if perMinute < burst {
		burst = perMinute
	}
	return &ipRateLimiter{
		visitors:    make(map[string]*visitor),
		rps:         rate.Limit(float64(perMinute) / 60.0),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	if l.rps == rate.Inf {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastCleanup) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdleTime {
				delete(l.visitors, k)
			}
		}
		l.lastCleanup = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
