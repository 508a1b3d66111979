// Package dedupe drops Telegram updates that were already delivered once.
package dedupe

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 6 * time.Hour

type Deduplicator interface {
	// MarkFirst reports whether updateID is seen for the first time.
	MarkFirst(ctx context.Context, updateID int64) (bool, error)
	// Forget clears a mark so a failed update can be delivered again.
	Forget(ctx context.Context, updateID int64) error
}

type Redis struct {
	redis *redis.Client
	ttl   time.Duration
}

var _ Deduplicator = (*Redis)(nil)

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{redis: rdb, ttl: ttl}
}

func (d *Redis) MarkFirst(ctx context.Context, updateID int64) (bool, error) {
	ok, err := d.redis.SetNX(ctx, updateKey(updateID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}

func (d *Redis) Forget(ctx context.Context, updateID int64) error {
	if err := d.redis.Del(ctx, updateKey(updateID)).Err(); err != nil {
		return fmt.Errorf("dedupe del: %w", err)
	}
	return nil
}

func updateKey(updateID int64) string {
	return fmt.Sprintf("personabot:update:%d", updateID)
}

// Memory is the single-process fallback used when no redis address is configured.
type Memory struct {
	seen *cache.Cache
	ttl  time.Duration
}

var _ Deduplicator = (*Memory)(nil)

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{seen: cache.New(ttl, ttl/2), ttl: ttl}
}

func (d *Memory) MarkFirst(_ context.Context, updateID int64) (bool, error) {
	// Add fails when the key is already present and unexpired.
	if err := d.seen.Add(strconv.FormatInt(updateID, 10), struct{}{}, d.ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (d *Memory) Forget(_ context.Context, updateID int64) error {
	d.seen.Delete(strconv.FormatInt(updateID, 10))
	return nil
}
