package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused per-user limiter is kept.
const idleLimiterTTL = 10 * time.Minute

type earner struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// earnLimiter bounds how fast each user can earn rewards.
type earnLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	earners map[string]*earner
}

func newEarnLimiter(every time.Duration, burst int) *earnLimiter {
	if burst < 1 {
		burst = 1
	}
	return &earnLimiter{
		limit:   rate.Every(every),
		burst:   burst,
		earners: make(map[string]*earner),
	}
}

func (l *earnLimiter) allow(userID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.earners[userID]
	if !ok {
		e = &earner{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.earners[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// prune forgets users idle for longer than idleLimiterTTL.
func (l *earnLimiter) prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.earners {
		if now.Sub(e.lastSeen) > idleLimiterTTL {
			delete(l.earners, id)
			removed++
		}
	}
	return removed
}

func (l *earnLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.earners)
}
