package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSlotPrefix       = "cardbuilder:slot:"
	redisOperationTimeout = 5 * time.Second
)

// RedisSlot keeps every named store under its own Redis key.
type RedisSlot struct {
	client *redis.Client
	prefix string
}

func NewRedisSlot(redisURL string) (*RedisSlot, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisSlotWithClient(redis.NewClient(opts)), nil
}

func NewRedisSlotWithClient(client *redis.Client) *RedisSlot {
	return &RedisSlot{client: client, prefix: redisSlotPrefix}
}

func (r *RedisSlot) key(name string) string {
	return r.prefix + name
}

func (r *RedisSlot) Load(name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOperationTimeout)
	defer cancel()
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", name, err)
	}
	return data, nil
}

func (r *RedisSlot) Save(name string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOperationTimeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

func (r *RedisSlot) Close() error {
	return r.client.Close()
}
