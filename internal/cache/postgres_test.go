package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/redis-backed-cache/internal/cache"
	"github.com/koopa0/system-design/redis-backed-cache/internal/testutils"
	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
)

// TestPostgresCache_Contract 以真實 PostgreSQL 容器驗證同一份快取行為
func TestPostgresCache_Contract(t *testing.T) {
	env := testutils.SetupPostgres(t)

	runCacheContract(t, func(t *testing.T, bucket string) cache.Cache {
		c, err := cache.NewPostgresCache(env.PostgresPool, bucket, cache.WithLogger(env.Logger))
		require.NoError(t, err)
		return c
	})
}

// TestPostgresCache_StorageLayout 驗證 upsert 只保留一列
func TestPostgresCache_StorageLayout(t *testing.T) {
	env := testutils.SetupPostgres(t)
	ctx := context.Background()

	c, err := cache.NewPostgresCache(env.PostgresPool, "layout")
	require.NoError(t, err)
	assert.Equal(t, "layout", c.Bucket())

	require.NoError(t, c.Put(ctx, "k", 1))
	require.NoError(t, c.Put(ctx, "k", 2))

	var rows int
	var raw string
	err = env.PostgresPool.QueryRow(ctx,
		"SELECT count(*), max(value) FROM cache_entries WHERE bucket = $1 AND key = $2",
		[]byte("layout"), []byte("k"),
	).Scan(&rows, &raw)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.Equal(t, "2", raw)

	env.TruncateEntries(t)
	testutils.AssertLen(t, c, 0)
}

// TestNewPostgresCache_EmptyBucket 測試 bucket 名稱不可為空
func TestNewPostgresCache_EmptyBucket(t *testing.T) {
	c, err := cache.NewPostgresCache(nil, "")

	assert.Nil(t, c)
	assert.True(t, apperrors.IsInvalidInput(err))
}
