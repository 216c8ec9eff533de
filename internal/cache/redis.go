package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
)

// HashClient Redis hash 操作介面
//
// *redis.Client、*redis.ClusterClient、redis.UniversalClient 都滿足此介面，
// 測試時也可以替換成假實作。
type HashClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisCache 以單一 Redis hash 作為 bucket 的快取實作
//
// 操作對應：
//
//	Put → HSET {bucket} {key} {json}
//	Get → HGET {bucket} {key}      （redis.Nil 表示不存在）
//	Del → HDEL {bucket} {key}
//	Len → HLEN {bucket}
//
// bucket 在第一次 HSET 時由 Redis 自動建立，最後一個 field 被刪除時由 Redis 自動移除。
// 這是 Redis 的行為，這裡不另外處理。
//
// 併發安全性取決於注入的 client；go-redis 的 *redis.Client 可被多個 goroutine 共用。
type RedisCache struct {
	client HashClient
	bucket string
	codec  Codec
	logger *slog.Logger
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache 創建 Redis 快取
//
// 參數：
//   - client：已連線的 Redis 客戶端（生命週期由呼叫方管理）
//   - bucket：hash 的 key，多個快取可以在同一個 client 上使用不同 bucket
func NewRedisCache(client HashClient, bucket string, opts ...Option) (*RedisCache, error) {
	if bucket == "" {
		return nil, apperrors.ErrInvalidBucket
	}

	o := applyOptions(opts)
	return &RedisCache{
		client: client,
		bucket: bucket,
		codec:  o.codec,
		logger: o.logger.With("backend", "redis", "bucket", bucket),
	}, nil
}

// Bucket 返回 bucket 名稱
func (c *RedisCache) Bucket() string {
	return c.bucket
}

// Put 寫入快取值
func (c *RedisCache) Put(ctx context.Context, key string, value any) error {
	data, err := encode(c.codec, key, value)
	if err != nil {
		return err
	}

	if err := c.client.HSet(ctx, c.bucket, key, string(data)).Err(); err != nil {
		c.logger.ErrorContext(ctx, "redis hset failed", "key", key, "error", err)
		return err
	}

	c.logger.DebugContext(ctx, "cache put", "key", key, "bytes", len(data))
	return nil
}

// Get 讀取快取值
func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	text, err := c.client.HGet(ctx, c.bucket, key).Result()
	if errors.Is(err, redis.Nil) {
		c.logger.DebugContext(ctx, "cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "redis hget failed", "key", key, "error", err)
		return false, err
	}

	if err := decode(c.codec, key, []byte(text), dst); err != nil {
		c.logger.WarnContext(ctx, "cache value does not match requested type", "key", key, "error", err)
		return false, err
	}

	c.logger.DebugContext(ctx, "cache hit", "key", key)
	return true, nil
}

// Del 刪除快取值
func (c *RedisCache) Del(ctx context.Context, key string) error {
	removed, err := c.client.HDel(ctx, c.bucket, key).Result()
	if err != nil {
		c.logger.ErrorContext(ctx, "redis hdel failed", "key", key, "error", err)
		return err
	}

	c.logger.DebugContext(ctx, "cache del", "key", key, "removed", removed)
	return nil
}

// Len 返回 bucket 中的 key 數量
func (c *RedisCache) Len(ctx context.Context) (int64, error) {
	n, err := c.client.HLen(ctx, c.bucket).Result()
	if err != nil {
		c.logger.ErrorContext(ctx, "redis hlen failed", "error", err)
		return 0, err
	}
	return n, nil
}
