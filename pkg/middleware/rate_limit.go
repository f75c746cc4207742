package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sweetline/sales-assistant/pkg/config"
)

// idleLimiterTTL is how long a client's limiter is kept after its last request.
const idleLimiterTTL = 10 * time.Minute

// RateLimiter hands out a token-bucket limiter per client key. Limiters of
// idle clients expire so the table does not grow without bound.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing rps requests per second per key
// with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: cache.New(idleLimiterTTL, idleLimiterTTL),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// getLimiter gets or creates a limiter for the given key and refreshes its expiry.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	var limiter *rate.Limiter
	if x, ok := rl.limiters.Get(key); ok {
		limiter = x.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
	}
	rl.limiters.Set(key, limiter, cache.DefaultExpiration)
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// RateLimit returns middleware that rejects requests over the per-client
// limit with 429. Clients are keyed by address as resolved through proxies.
// A disabled config returns a pass-through.
func RateLimit(cfg config.RateLimitConfig, proxies TrustedProxies, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled || cfg.RequestsPerSecond <= 0 {
			return next
		}
		rl := NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := proxies.ClientIP(r)
			if !rl.Allow(clientIP) {
				logger.Warn("Rate limit exceeded",
					zap.String("client_ip", clientIP),
					zap.String("path", r.URL.Path))
				writeTooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   "rate_limited",
		"message": "Слишком много запросов. Повторите через несколько секунд.",
	})
}
