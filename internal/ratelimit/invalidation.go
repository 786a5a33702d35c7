package ratelimit

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// ResetOwner clears an owner's notification budget
func (rl *RateLimiter) ResetOwner(ctx context.Context, ownerID string) error {
	key := ownerKey(ownerID)

	rl.fallbackMutex.Lock()
	delete(rl.fallbackLimiters, key)
	rl.fallbackMutex.Unlock()

	if !rl.redisClient.IsEnabled() {
		slog.Info("Reset notification budget (in-memory)", "owner_id", ownerID)
		return nil
	}
	return rl.deleteByPattern(ctx, key)
}

// InvalidateAll removes every rate limit key
func (rl *RateLimiter) InvalidateAll(ctx context.Context) error {
	rl.fallbackMutex.Lock()
	count := len(rl.fallbackLimiters)
	rl.fallbackLimiters = make(map[string]*rate.Limiter)
	rl.fallbackMutex.Unlock()

	if !rl.redisClient.IsEnabled() {
		slog.Warn("Invalidated all rate limits (in-memory)", "count", count)
		return nil
	}
	slog.Warn("Invalidating all rate limits")
	return rl.deleteByPattern(ctx, "ratelimit:*")
}

// deleteByPattern deletes all Redis keys matching a pattern
func (rl *RateLimiter) deleteByPattern(ctx context.Context, pattern string) error {
	client := rl.redisClient.GetClient()

	var cursor uint64
	var deletedCount int
	for {
		keys, nextCursor, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			deleted, err := client.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
			deletedCount += int(deleted)
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	slog.Info("Deleted rate limit keys by pattern", "pattern", pattern, "count", deletedCount)
	return nil
}
