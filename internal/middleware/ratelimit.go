package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

const (
	rateLimitPerSecond = 20
	rateLimitBurst     = 40
)

type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newRateLimiter(limit rate.Limit, burst int) *rateLimiter {
	return &rateLimiter{limiters: make(map[string]*rate.Limiter), limit: limit, burst: burst}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// RateLimit ограничивает запросы к /api/* по user_id (после Identity). 429 при превышении.
func RateLimit() func(http.Handler) http.Handler {
	limiter := newRateLimiter(rateLimitPerSecond, rateLimitBurst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := GetUserID(r.Context()); userID != "" && !limiter.allow("u:"+string(userID)) {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
