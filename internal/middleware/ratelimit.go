package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/metrics"
)

// Limiter decides whether one more request from key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a per-process sliding-log limiter.
type MemoryLimiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu        sync.Mutex
	requests  map[string][]time.Time
	lastSweep time.Time
}

// NewMemoryLimiter allows maxRequests per window per key.
func NewMemoryLimiter(maxRequests int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		requests:    make(map[string][]time.Time),
	}
}

// Allow records the request if it fits. Keys idle for a whole window are
// dropped at most once per window.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	windowStart := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(windowStart)
		l.lastSweep = now
	}

	kept := l.requests[key][:0]
	for _, ts := range l.requests[key] {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.maxRequests {
		l.requests[key] = kept
		return false, nil
	}
	l.requests[key] = append(kept, now)
	return true, nil
}

// sweep drops keys whose newest request is outside the window. Timestamps
// are appended in order, so the last one is the newest.
func (l *MemoryLimiter) sweep(windowStart time.Time) {
	for key, stamps := range l.requests {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(windowStart) {
			delete(l.requests, key)
		}
	}
}

// RedisLimiter shares the sliding window between server replicas using one
// sorted set per key.
type RedisLimiter struct {
	client      redis.Cmdable
	prefix      string
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// NewRedisLimiter allows maxRequests per window per key across all replicas.
func NewRedisLimiter(client redis.Cmdable, maxRequests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:      client,
		prefix:      "fleet:ratelimit:",
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Allow trims the window, adds this request and counts.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	redisKey := l.prefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()[:8]

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(now.Add(-l.window).UnixNano(), 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	card := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit pipeline: %w", err)
	}
	if card.Val() > int64(l.maxRequests) {
		l.client.ZRem(ctx, redisKey, member)
		return false, nil
	}
	return true, nil
}

// RateLimitMiddleware rejects clients over their request budget.
type RateLimitMiddleware struct {
	limiter Limiter
	logger  log.FieldLogger
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(limiter Limiter, logger log.FieldLogger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, logger: logger}
}

// RateLimit applies rate limiting based on client IP. Limiter failures let
// the request through.
func (m *RateLimitMiddleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := m.limiter.Allow(r.Context(), getClientIP(r))
		if err != nil {
			m.logger.WithError(err).Warn("Rate limiter unavailable")
		}
		if !allowed {
			metrics.RateLimitedTotal.Inc()
			writeDetail(w, http.StatusTooManyRequests, "Request was throttled.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
