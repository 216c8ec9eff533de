package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
)

// DBTX PostgreSQL 查詢介面（*pgxpool.Pool、*pgx.Conn、pgx.Tx 皆滿足）
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	upsertEntrySQL = `
		INSERT INTO cache_entries (bucket, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (bucket, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	selectEntrySQL = `SELECT value FROM cache_entries WHERE bucket = $1 AND key = $2`

	deleteEntrySQL = `DELETE FROM cache_entries WHERE bucket = $1 AND key = $2`

	countEntriesSQL = `SELECT count(*) FROM cache_entries WHERE bucket = $1`
)

// PostgresCache 以 cache_entries 表作為 bucket 的快取實作
//
// 表結構見 internal/migrations/migrations/000001_create_cache_entries.up.sql，
// (bucket, key) 為主鍵，所以同一 bucket 內 key 唯一。
// bucket 與 key 存成 BYTEA，參數一律以 []byte 傳入。
// 每個操作是一條 SQL 語句，不開交易。
type PostgresCache struct {
	db     DBTX
	bucket []byte
	codec  Codec
	logger *slog.Logger
}

var _ Cache = (*PostgresCache)(nil)

// NewPostgresCache 創建 PostgreSQL 快取（連線池由呼叫方管理）
func NewPostgresCache(db DBTX, bucket string, opts ...Option) (*PostgresCache, error) {
	if bucket == "" {
		return nil, apperrors.ErrInvalidBucket
	}

	o := applyOptions(opts)
	return &PostgresCache{
		db:     db,
		bucket: []byte(bucket),
		codec:  o.codec,
		logger: o.logger.With("backend", "postgres", "bucket", bucket),
	}, nil
}

// Bucket 返回 bucket 名稱
func (c *PostgresCache) Bucket() string {
	return string(c.bucket)
}

// Put 寫入快取值（upsert）
func (c *PostgresCache) Put(ctx context.Context, key string, value any) error {
	data, err := encode(c.codec, key, value)
	if err != nil {
		return err
	}

	if _, err := c.db.Exec(ctx, upsertEntrySQL, c.bucket, []byte(key), string(data)); err != nil {
		c.logger.ErrorContext(ctx, "postgres upsert failed", "key", key, "error", err)
		return err
	}

	c.logger.DebugContext(ctx, "cache put", "key", key, "bytes", len(data))
	return nil
}

// Get 讀取快取值
func (c *PostgresCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	var text string
	err := c.db.QueryRow(ctx, selectEntrySQL, c.bucket, []byte(key)).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		c.logger.DebugContext(ctx, "cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "postgres select failed", "key", key, "error", err)
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
func (c *PostgresCache) Del(ctx context.Context, key string) error {
	tag, err := c.db.Exec(ctx, deleteEntrySQL, c.bucket, []byte(key))
	if err != nil {
		c.logger.ErrorContext(ctx, "postgres delete failed", "key", key, "error", err)
		return err
	}

	c.logger.DebugContext(ctx, "cache del", "key", key, "removed", tag.RowsAffected())
	return nil
}

// Len 返回 bucket 中的 key 數量
func (c *PostgresCache) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRow(ctx, countEntriesSQL, c.bucket).Scan(&n); err != nil {
		c.logger.ErrorContext(ctx, "postgres count failed", "error", err)
		return 0, err
	}
	return n, nil
}
