package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottleBurstAndRefill(t *testing.T) {
	clock := time.Now()
	th := newThrottle(1, 2)
	th.now = func() time.Time { return clock }

	assert.True(t, th.allow("10.0.0.1"))
	assert.True(t, th.allow("10.0.0.1"))
	assert.False(t, th.allow("10.0.0.1"), "burst exhausted")
	assert.True(t, th.allow("10.0.0.2"), "each IP gets its own bucket")

	clock = clock.Add(1500 * time.Millisecond)
	assert.True(t, th.allow("10.0.0.1"), "tokens refill with time")
	assert.False(t, th.allow("10.0.0.1"))
}

func TestThrottleSweepsIdleVisitors(t *testing.T) {
	clock := time.Now()
	th := newThrottle(1, 1)
	th.now = func() time.Time { return clock }

	th.allow("10.0.0.1")
	clock = clock.Add(throttleIdleAfter + time.Minute)
	th.allow("10.0.0.2")

	th.mu.Lock()
	_, stale := th.visitors["10.0.0.1"]
	th.mu.Unlock()
	assert.False(t, stale, "idle bucket must be evicted")
}

func TestRateLimitMiddlewareAnswers429(t *testing.T) {
	h := RateLimit(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony", nil)
	req.RemoteAddr = "203.0.113.9:4242"

	first := httptest.NewRecorder()
	h.ServeHTTP(first, req)
	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
