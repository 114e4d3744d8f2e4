package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jacktea/blobfront/pkg/meta"
)

const redisKeyPrefix = "blobfront:record:"

// RedisRecordCache shares cached records between frontends through Redis.
// Values are msgpack encoded.
type RedisRecordCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecordCache connects to addr and verifies the connection.
func NewRedisRecordCache(ctx context.Context, addr string, ttl time.Duration) (*RedisRecordCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis cache: ping %s: %w", addr, err)
	}
	return NewRedisRecordCacheWithClient(client, ttl), nil
}

// NewRedisRecordCacheWithClient wraps an existing client.
func NewRedisRecordCacheWithClient(client *redis.Client, ttl time.Duration) *RedisRecordCache {
	return &RedisRecordCache{client: client, ttl: ttl}
}

func (c *RedisRecordCache) Get(ctx context.Context, id meta.BlobID) (meta.Record, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+string(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return meta.Record{}, false, nil
	}
	if err != nil {
		return meta.Record{}, false, err
	}
	var rec meta.Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return meta.Record{}, false, fmt.Errorf("redis cache: decode %s: %w", id, err)
	}
	return rec, true, nil
}

func (c *RedisRecordCache) Set(ctx context.Context, rec meta.Record) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+string(rec.ID), data, c.ttl).Err()
}

func (c *RedisRecordCache) Delete(ctx context.Context, id meta.BlobID) error {
	return c.client.Del(ctx, redisKeyPrefix+string(id)).Err()
}

func (c *RedisRecordCache) Close() error {
	return c.client.Close()
}
