package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	IPLimitPerMin        int // API requests per client IP per minute
	NotificationsPerHour int // alert notifications per owner per hour
	BurstMultiplier      int // fallback token bucket burst relative to the limit
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		IPLimitPerMin:        120,
		NotificationsPerHour: 30,
		BurstMultiplier:      1,
	}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Observer receives every limiter decision, tagged with the backend used
type Observer interface {
	ObserveRateLimit(scope, backend string, allowed bool)
}

// RateLimiter provides distributed rate limiting with Redis and an in-memory
// fallback when Redis is disabled or failing
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	config       Config
	observer     Observer

	fallbackLimiters map[string]*rate.Limiter
	fallbackMutex    sync.RWMutex
	stop             chan struct{}
	stopOnce         sync.Once
}

// NewRateLimiter creates a new rate limiter. redisClient and observer may be nil.
func NewRateLimiter(redisClient *RedisClient, config Config, observer Observer) *RateLimiter {
	if config.BurstMultiplier < 1 {
		config.BurstMultiplier = 1
	}
	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           config,
		observer:         observer,
		fallbackLimiters: make(map[string]*rate.Limiter),
		stop:             make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupFallbackLimiters()
	return rl
}

func ipKey(ip string) string { return fmt.Sprintf("ratelimit:ip:%s", ip) }

func ownerKey(ownerID string) string { return fmt.Sprintf("ratelimit:notify:%s", ownerID) }

// AllowIP checks the per-minute API limit of a client IP
func (rl *RateLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	return rl.allow(ctx, "ip", ipKey(ip), rl.config.IPLimitPerMin, time.Minute)
}

// AllowNotification checks the hourly notification budget of an owner
func (rl *RateLimiter) AllowNotification(ctx context.Context, ownerID string) (*Result, error) {
	return rl.allow(ctx, "notify", ownerKey(ownerID), rl.config.NotificationsPerHour, time.Hour)
}

func (rl *RateLimiter) allow(ctx context.Context, scope, key string, limit int, period time.Duration) (*Result, error) {
	if limit <= 0 {
		return &Result{Allowed: true, Limit: limit}, nil
	}

	if rl.redisClient.IsEnabled() && rl.redisLimiter != nil {
		result, err := rl.allowRedis(ctx, key, limit, period)
		if err == nil {
			rl.observe(scope, "redis", result.Allowed)
			return result, nil
		}
		slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
	}

	result := rl.allowFallback(key, limit, period)
	rl.observe(scope, "memory", result.Allowed)
	return result, nil
}

func (rl *RateLimiter) observe(scope, backend string, allowed bool) {
	if rl.observer != nil {
		rl.observer.ObserveRateLimit(scope, backend, allowed)
	}
}

// allowRedis uses the redis_rate GCRA limiter shared by every instance
func (rl *RateLimiter) allowRedis(ctx context.Context, key string, limit int, period time.Duration) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit,
		Burst:  limit,
		Period: period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}, nil
}

// allowFallback uses a per-key in-memory token bucket
func (rl *RateLimiter) allowFallback(key string, limit int, period time.Duration) *Result {
	rl.fallbackMutex.Lock()
	limiter, exists := rl.fallbackLimiters[key]
	if !exists {
		rps := rate.Limit(float64(limit) / period.Seconds())
		limiter = rate.NewLimiter(rps, limit*rl.config.BurstMultiplier)
		rl.fallbackLimiters[key] = limiter
	}
	rl.fallbackMutex.Unlock()

	now := time.Now()
	allowed := limiter.AllowN(now, 1)

	remaining := int(limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	result := &Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(period),
	}

	if !allowed {
		r := limiter.ReserveN(now, 1)
		if r.OK() {
			result.RetryAfter = r.DelayFrom(now)
			r.CancelAt(now)
		} else {
			result.RetryAfter = period
		}
		result.ResetAt = now.Add(result.RetryAfter)
	}
	return result
}

// cleanupFallbackLimiters drops the fallback buckets when they pile up
func (rl *RateLimiter) cleanupFallbackLimiters() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.fallbackMutex.Lock()
			if len(rl.fallbackLimiters) > 1000 {
				slog.Info("Cleaning up fallback rate limiters", "count", len(rl.fallbackLimiters))
				rl.fallbackLimiters = make(map[string]*rate.Limiter)
			}
			rl.fallbackMutex.Unlock()
		}
	}
}

// Close stops the cleanup goroutine
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.RLock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.RUnlock()

	stats := map[string]interface{}{
		"redis_enabled":          rl.redisClient.IsEnabled(),
		"fallback_limiters":      fallbackCount,
		"ip_limit_per_min":       rl.config.IPLimitPerMin,
		"notifications_per_hour": rl.config.NotificationsPerHour,
	}
	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
	}
	return stats
}
