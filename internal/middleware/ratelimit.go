package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/pkg/clientip"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

// RateLimitKeyPrefix is the Redis key prefix for fixed-window counters.
const RateLimitKeyPrefix = "ratelimit:"

// RedisRateLimit is a fixed-window limiter shared by every instance through
// Redis. It fails open when Redis is unavailable.
func RedisRateLimit(client *redis.Client, limit int, window time.Duration, exempt []string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if client == nil || isExempt(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}

			key := RateLimitKeyPrefix + clientip.RealClientIP(r)
			ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
			defer cancel()

			pipe := client.TxPipeline()
			incr := pipe.Incr(ctx, key)
			ttl := pipe.TTL(ctx, key)
			if _, err := pipe.Exec(ctx); err != nil {
				log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			count := int(incr.Val())
			reset := ttl.Val()
			// First hit of a window, or a key that lost its expiry.
			if count == 1 || reset < 0 {
				if err := client.Expire(ctx, key, window).Err(); err != nil {
					log.Warn("rate limiter failed to set window", zap.Error(err))
				}
				reset = window
			}
			if reset <= 0 {
				reset = window
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			remaining := limit - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(reset).Unix(), 10))

			if count > limit {
				writeRateLimited(w, reset, "Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SendRateLimit caps how fast one client can post local messages.
func SendRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "ip:" + clientip.RealClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeRateLimited(w, windowLength, "Too many messages sent. Please slow down.")
		}),
	)
}
