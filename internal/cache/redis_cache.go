package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hamnet/relay-service/internal/config"
	"github.com/hamnet/relay-service/internal/domain"
)

// Redis key patterns:
//   {prefix}:station:{callsign}            STRING<channel>, expiry = presence TTL
//   {prefix}:messages:{channel}:{limit}    STRING<json []Message>, short expiry
//   {prefix}:messages:{channel}:keys       SET<cache key> for invalidation

type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

func (c *RedisCache) stationKey(callsign string) string {
	return fmt.Sprintf("%s:station:%s", c.prefix, callsign)
}

func (c *RedisCache) messagesKey(channel string, limit int) string {
	return fmt.Sprintf("%s:messages:%s:%d", c.prefix, channel, limit)
}

func (c *RedisCache) messagesKeySet(channel string) string {
	return fmt.Sprintf("%s:messages:%s:keys", c.prefix, channel)
}

func (c *RedisCache) TouchStation(ctx context.Context, callsign, channel string, ttl time.Duration) error {
	return c.client.Set(ctx, c.stationKey(callsign), channel, ttl).Err()
}

func (c *RedisCache) StationChannel(ctx context.Context, callsign string) (string, error) {
	val, err := c.client.Get(ctx, c.stationKey(callsign)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to get station channel: %w", err)
	}
	return val, nil
}

func (c *RedisCache) GetRecentMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	data, err := c.client.Get(ctx, c.messagesKey(channel, limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached messages: %w", err)
	}

	var messages []domain.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached messages: %w", err)
	}
	return messages, nil
}

func (c *RedisCache) SetRecentMessages(ctx context.Context, channel string, limit int, messages []domain.Message, ttl time.Duration) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages for cache: %w", err)
	}

	key := c.messagesKey(channel, limit)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.SAdd(ctx, c.messagesKeySet(channel), key)
	pipe.Expire(ctx, c.messagesKeySet(channel), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCache) InvalidateMessages(ctx context.Context, channel string) error {
	keySet := c.messagesKeySet(channel)
	keys, err := c.client.SMembers(ctx, keySet).Result()
	if err != nil {
		return fmt.Errorf("failed to list message cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.Del(ctx, keySet)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
