package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/persona-chat-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// CallerRateLimiter throttles the whole API surface per caller with a
// token bucket. It protects the HTTP layer; the gateway applies its
// own fixed-window quota per (caller, provider) pair on top.
type CallerRateLimiter struct {
	enabled         bool
	limiters        map[string]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	metrics         *Metrics
	cleanupInterval time.Duration
}

// NewCallerRateLimiter creates a new per-caller limiter
func NewCallerRateLimiter(cfg *config.HTTPLimitConfig, metrics *Metrics, logger *logrus.Logger) *CallerRateLimiter {
	if !cfg.Enabled {
		return &CallerRateLimiter{enabled: false}
	}

	rl := &CallerRateLimiter{
		enabled:         true,
		limiters:        make(map[string]*rate.Limiter),
		rpm:             cfg.RequestsPerMinute,
		burst:           cfg.Burst,
		logger:          logger,
		metrics:         metrics,
		cleanupInterval: 1 * time.Hour,
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a caller is allowed to make a request
func (r *CallerRateLimiter) Allow(callerID string) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(callerID).Allow()

	if !allowed {
		r.logger.WithField("caller_id", callerID).Warn("HTTP rate limit exceeded")
		r.metrics.RecordRateLimitRejected("http")
	}

	return allowed
}

// Middleware returns a gin handler enforcing the limit. The caller
// identity is the opaque X-User-ID header, falling back to the client
// address.
func (r *CallerRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID := c.GetHeader("X-User-ID")
		if callerID == "" {
			callerID = c.ClientIP()
		}

		if !r.Allow(callerID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// getLimiter gets or creates a rate limiter for a caller
func (r *CallerRateLimiter) getLimiter(callerID string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[callerID]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[callerID]; exists {
		return limiter
	}

	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[callerID] = limiter

	return limiter
}

// cleanup bounds the limiter map
func (r *CallerRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		if len(r.limiters) > 10000 {
			r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
			r.limiters = make(map[string]*rate.Limiter)
		}
		r.mu.Unlock()
	}
}
