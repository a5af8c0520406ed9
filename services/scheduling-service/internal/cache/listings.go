// Package cache is a read-through Redis cache for available-slot listings.
// Listings are keyed per (provider, day) and dropped whenever any appointment
// for that day mutates, so a stale listing can outlive the truth by at most
// the TTL.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/slotline/slotline/services/scheduling-service/internal/model"
	"github.com/slotline/slotline/services/scheduling-service/internal/scheduling"
)

type ListingCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ scheduling.ListingCache = (*ListingCache)(nil)

func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *ListingCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ListingCache{rdb: rdb, ttl: ttl, logger: logger}
}

func key(provider, day string) string {
	return "slots:" + provider + ":" + day
}

// Get returns the cached listing, or ok=false on a miss or any Redis error.
// Cache failures degrade to storage reads, never to request failures.
func (c *ListingCache) Get(ctx context.Context, provider, day string) ([]model.Appointment, bool) {
	raw, err := c.rdb.Get(ctx, key(provider, day)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("listing cache read failed", "err", err)
		}
		return nil, false
	}
	var appts []model.Appointment
	if err := json.Unmarshal(raw, &appts); err != nil {
		c.logger.Warn("listing cache entry corrupt, dropping", "err", err)
		_ = c.rdb.Del(ctx, key(provider, day)).Err()
		return nil, false
	}
	return appts, true
}

func (c *ListingCache) Set(ctx context.Context, provider, day string, appts []model.Appointment) {
	raw, err := json.Marshal(appts)
	if err != nil {
		c.logger.Warn("listing cache encode failed", "err", err)
		return
	}
	if err := c.rdb.Set(ctx, key(provider, day), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("listing cache write failed", "err", err)
	}
}

func (c *ListingCache) InvalidateDay(ctx context.Context, provider, day string) {
	if err := c.rdb.Del(ctx, key(provider, day)).Err(); err != nil {
		c.logger.Warn("listing cache invalidation failed", "provider", provider, "day", day, "err", err)
	}
}

// ReadyCheck pings Redis for /readyz.
func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
