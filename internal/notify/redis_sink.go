package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
)

// redisPingTimeout bounds the connectivity check in DialRedis.
const redisPingTimeout = 5 * time.Second

// RedisPublisher is the part of *redis.Client used by RedisSink.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes framed updates on a Redis pub/sub channel so other
// processes can follow device status without their own websocket.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

// NewRedisSink creates a sink publishing on channel.
func NewRedisSink(client RedisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// DialRedis opens a client for cfg and checks it with PING.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Name implements Sink.
func (s *RedisSink) Name() string {
	return "redis"
}

// Deliver implements Sink.
func (s *RedisSink) Deliver(ctx context.Context, u StatusUpdate) error {
	payload, err := json.Marshal(NewEnvelope(u))
	if err != nil {
		return fmt.Errorf("marshalling status update: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to redis channel %s: %w", s.channel, err)
	}
	return nil
}
