package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of redis.Cmdable used by RedisPublisher.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher publishes to a Redis pub/sub channel. The caller owns the
// client lifecycle.
type RedisPublisher struct {
	client  RedisClient
	channel string
}

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "cmdsync:notifications"

func NewRedisPublisher(client RedisClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, n Notification) error {
	body, err := Encode(n)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", n.Action, err)
	}
	return nil
}
