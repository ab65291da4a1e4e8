package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stevemurr/library-sync/model"
)

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache stores snapshots as JSON strings under "<prefix>:snapshot:<scope>".
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(opts RedisOptions) (*RedisCache, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis cache: address is required")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "libsync"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisCache{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL}, nil
}

func (c *RedisCache) key(scope string) string {
	return fmt.Sprintf("%s:snapshot:%s", c.prefix, scope)
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, scope string) (*model.Snapshot, error) {
	data, err := c.client.Get(ctx, c.key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data), nil
}

func (c *RedisCache) Set(ctx context.Context, scope string, snap *model.Snapshot) error {
	b, err := encode(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(scope), b, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, scope string) error {
	return c.client.Del(ctx, c.key(scope)).Err()
}

// Clear deletes every snapshot key under the prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":snapshot:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
