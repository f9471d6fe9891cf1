package middleware

import (
	"net/http"
	"sync"
	"time"
)

const (
	throttleSweepEvery = time.Minute
	throttleIdleAfter  = 10 * time.Minute
)

// throttle is a per-IP token bucket. Buckets refill continuously at
// perSecond up to burst. Idle entries are swept inline during allow, so the
// map stays bounded without a background goroutine per limiter.
type throttle struct {
	mu        sync.Mutex
	perSecond float64
	burst     float64
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	tokens float64
	seen   time.Time
}

func newThrottle(perSecond float64, burst int) *throttle {
	return &throttle{
		perSecond: perSecond,
		burst:     float64(burst),
		visitors:  map[string]*visitor{},
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (t *throttle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) >= throttleSweepEvery {
		for addr, v := range t.visitors {
			if now.Sub(v.seen) >= throttleIdleAfter {
				delete(t.visitors, addr)
			}
		}
		t.lastSweep = now
	}

	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{tokens: t.burst}
		t.visitors[ip] = v
	} else {
		v.tokens += now.Sub(v.seen).Seconds() * t.perSecond
		if v.tokens > t.burst {
			v.tokens = t.burst
		}
	}
	v.seen = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

// RateLimit caps requests per source IP, answering 429 beyond the limit.
// Mounted behind chi's RealIP, so RemoteAddr already holds the client
// address rather than the proxy's.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	t := newThrottle(perSecond, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.allow(r.RemoteAddr) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
