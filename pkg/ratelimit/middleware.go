package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"appevents/internal/config"
	"appevents/pkg/metrics"
)

const AppIDHeader = "X-App-ID"

type Limiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ByAppID buckets by the X-App-ID header and falls back to the client IP.
func ByAppID(c *gin.Context) string {
	if appID := c.GetHeader(AppIDHeader); appID != "" {
		return "app:" + appID
	}
	return ByClientIP(c)
}

func ByClientIP(c *gin.Context) string {
	clientIP := c.ClientIP()
	if clientIP == "" {
		clientIP = c.RemoteIP()
	}
	return "ip:" + clientIP
}

func DefaultConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:         true,
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type registry struct {
	cfg      config.RateLimitConfig
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

func (r *registry) get(key string) *Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()
	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, exists = r.limiters[key]
	if !exists {
		limiter = &Limiter{
			limiter:  rate.NewLimiter(rate.Limit(r.cfg.RPS), r.cfg.Burst),
			lastSeen: time.Now(),
		}
		r.limiters[key] = limiter
	}
	return limiter
}

func (r *registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, limiter := range r.limiters {
		limiter.mu.Lock()
		lastSeen := limiter.lastSeen
		limiter.mu.Unlock()
		if now.Sub(lastSeen) > r.cfg.MaxAge {
			delete(r.limiters, key)
		}
	}
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// RateLimitMiddleware limits requests per key. Idle limiters are swept until
// ctx is done.
func RateLimitMiddleware(ctx context.Context, cfg config.RateLimitConfig, key KeyFunc) gin.HandlerFunc {
	return newRegistry(ctx, cfg).middleware(key)
}

func newRegistry(ctx context.Context, cfg config.RateLimitConfig) *registry {
	defaults := DefaultConfig()
	if cfg.RPS <= 0 {
		cfg.RPS = defaults.RPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaults.MaxAge
	}

	r := &registry{cfg: cfg, limiters: make(map[string]*Limiter)}

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.sweep(now)
			}
		}
	}()

	return r
}

func (r *registry) middleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByClientIP
	}
	return func(c *gin.Context) {
		limiter := r.get(key(c))

		limiter.mu.Lock()
		limiter.lastSeen = time.Now()
		limiter.mu.Unlock()

		c.Header("X-RateLimit-Limit", formatRate(r.cfg.RPS))

		if !limiter.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		remaining := int(limiter.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}
