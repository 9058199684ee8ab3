package datasync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/model"
)

// RedisClient is the subset of redis.Cmdable used by the cache handler.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCacheHandler mirrors the latest projection of each key into Redis
// under "{table}:{pk}:{sk}". Deleted records are evicted.
type RedisCacheHandler struct {
	client RedisClient
	table  string
	now    func() time.Time
}

func NewRedisCacheHandler(client RedisClient, table string) *RedisCacheHandler {
	return &RedisCacheHandler{client: client, table: table, now: time.Now}
}

func (h *RedisCacheHandler) Name() string { return "RedisCacheHandler" }
func (h *RedisCacheHandler) Type() string { return "redis" }

// CacheKey returns the Redis key of a command's projection.
func (h *RedisCacheHandler) CacheKey(cmd *model.Command) string {
	return h.table + ":" + cmd.PK + ":" + key.RemoveSortKeyVersion(cmd.SK)
}

func (h *RedisCacheHandler) Up(ctx context.Context, cmd *model.Command) (any, error) {
	k := h.CacheKey(cmd)
	if cmd.IsDeleted {
		if err := h.client.Del(ctx, k).Err(); err != nil {
			return nil, fmt.Errorf("redis cache evict %s: %w", k, err)
		}
		return nil, nil
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("redis cache encode: %w", err)
	}
	var expiration time.Duration
	if cmd.TTL != nil {
		expiration = time.Unix(*cmd.TTL, 0).Sub(h.now())
		if expiration <= 0 {
			return h.Down(ctx, cmd)
		}
	}
	if err := h.client.Set(ctx, k, body, expiration).Err(); err != nil {
		return nil, fmt.Errorf("redis cache set %s: %w", k, err)
	}
	return nil, nil
}

func (h *RedisCacheHandler) Down(ctx context.Context, cmd *model.Command) (any, error) {
	k := h.CacheKey(cmd)
	if err := h.client.Del(ctx, k).Err(); err != nil {
		return nil, fmt.Errorf("redis cache evict %s: %w", k, err)
	}
	return nil, nil
}
