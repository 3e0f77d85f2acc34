package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// RateLimiter is a per-key token bucket limiter held in memory. Suitable
// for the advisor's single-process deployment.
type RateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger

	mu      sync.RWMutex
	buckets map[string]*tokenBucket

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates an in-memory rate limiter and starts its idle
// bucket cleanup loop.
func NewRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	if config.WindowDuration == 0 {
		config.WindowDuration = time.Minute
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.BurstSize == 0 {
		config.BurstSize = config.RequestsPerMinute
	}

	rl := &RateLimiter{
		config:      config,
		logger:      logger,
		buckets:     make(map[string]*tokenBucket),
		stopCleanup: make(chan struct{}),
	}
	rl.cleanupTicker = time.NewTicker(config.CleanupInterval)
	go rl.cleanupLoop()
	return rl
}

// Allow checks whether one request for the key fits under the limit.
func (rl *RateLimiter) Allow(_ context.Context, key string) *RateLimitResult {
	if !rl.config.Enabled {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: rl.config.RequestsPerMinute,
			ResetTime: time.Now().Add(rl.config.WindowDuration),
		}
	}

	now := time.Now()
	bucket := rl.bucket(key)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if elapsed := now.Sub(bucket.lastRefill); elapsed > 0 {
		refill := int(elapsed.Minutes() * float64(rl.config.RequestsPerMinute))
		if refill > 0 {
			bucket.tokens += refill
			if bucket.tokens > rl.config.BurstSize {
				bucket.tokens = rl.config.BurstSize
			}
			bucket.lastRefill = now
		}
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return &RateLimitResult{
			Allowed:   true,
			Remaining: bucket.tokens,
			ResetTime: now.Add(rl.config.WindowDuration),
		}
	}

	return &RateLimitResult{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  now.Add(rl.config.WindowDuration),
		RetryAfter: rl.config.WindowDuration,
	}
}

func (rl *RateLimiter) bucket(key string) *tokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.buckets[key]; ok {
		return b
	}
	b = &tokenBucket{tokens: rl.config.BurstSize, lastRefill: time.Now()}
	rl.buckets[key] = b
	return b
}

func (rl *RateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets idle for more than two cleanup intervals.
func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-2 * rl.config.CleanupInterval)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, bucket := range rl.buckets {
		bucket.mu.Lock()
		idle := bucket.lastRefill.Before(cutoff)
		bucket.mu.Unlock()
		if idle {
			delete(rl.buckets, key)
		}
	}
}

// Stop halts the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCleanup)
	})
}

// Middleware applies the rate limit keyed by authenticated user or client
// address.
func RateLimitMiddleware(rl *RateLimiter, keyExtractor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			result := rl.Allow(r.Context(), key)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

			if !result.Allowed {
				rl.logger.WithFields(logrus.Fields{
					"key":  maskKey(key),
					"path": r.URL.Path,
				}).Warn("Rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":{"message":"Rate limit exceeded","type":"rate_limit_error","code":429}}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyExtractor keys the limit by authenticated user when available,
// falling back to the client address.
func DefaultKeyExtractor(r *http.Request) string {
	if info, ok := GetAuthInfo(r.Context()); ok {
		return "user:" + info.UserID
	}
	return "ip:" + ClientIP(r)
}
