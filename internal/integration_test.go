package internal_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/redis-backed-cache/internal"
	"github.com/koopa0/system-design/redis-backed-cache/internal/cache"
	"github.com/koopa0/system-design/redis-backed-cache/internal/testutils"
)

// TestHandler_Integration 以真實的 Redis 與 PostgreSQL 跑同一組 HTTP 情境
func TestHandler_Integration(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	config := testutils.DefaultTestConfig()

	backends := map[string]struct {
		factory internal.Factory
		ready   internal.ReadyFunc
		reset   func(t testing.TB)
	}{
		internal.BackendRedis: {
			factory: func(bucket string) (cache.Cache, error) {
				return cache.NewRedisCache(env.RedisClient, bucket, cache.WithLogger(env.Logger))
			},
			ready: func(ctx context.Context) error { return env.RedisClient.Ping(ctx).Err() },
			reset: env.FlushRedis,
		},
		internal.BackendPostgres: {
			factory: func(bucket string) (cache.Cache, error) {
				return cache.NewPostgresCache(env.PostgresPool, bucket, cache.WithLogger(env.Logger))
			},
			ready: env.PostgresPool.Ping,
			reset: env.TruncateEntries,
		},
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			defer backend.reset(t)

			h := internal.NewHandler(backend.factory, backend.ready, env.Logger).Routes()
			base := "/api/v1/buckets/" + config.Cache.DefaultBucket

			lenOf := func() int64 {
				t.Helper()
				rec := testutils.MakeHTTPRequest(t, h, http.MethodGet, base+"/len", nil)
				require.Equal(t, http.StatusOK, rec.Code)

				var body struct {
					Len int64 `json:"len"`
				}
				testutils.ParseJSONResponse(t, rec, &body)
				return body.Len
			}

			rec := testutils.MakeHTTPRequest(t, h, http.MethodGet, "/ready", nil)
			require.Equal(t, http.StatusOK, rec.Code)

			assert.Equal(t, int64(0), lenOf())

			rec = testutils.MakeHTTPRequest(t, h, http.MethodPut, base+"/entries/a", `"X"`)
			require.Equal(t, http.StatusOK, rec.Code)
			rec = testutils.MakeHTTPRequest(t, h, http.MethodPut, base+"/entries/b", `{"y":[1,2]}`)
			require.Equal(t, http.StatusOK, rec.Code)
			rec = testutils.MakeHTTPRequest(t, h, http.MethodPut, base+"/entries/a", `"Z"`)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, int64(2), lenOf())

			rec = testutils.MakeHTTPRequest(t, h, http.MethodGet, base+"/entries/a", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			var body entryBody
			testutils.ParseJSONResponse(t, rec, &body)
			assert.JSONEq(t, `"Z"`, string(body.Value))

			rec = testutils.MakeHTTPRequest(t, h, http.MethodDelete, base+"/entries/a", nil)
			require.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, int64(1), lenOf())

			rec = testutils.MakeHTTPRequest(t, h, http.MethodGet, base+"/entries/a", nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)

			c, err := backend.factory(config.Cache.DefaultBucket)
			require.NoError(t, err)
			testutils.AssertAbsent(t, c, "a")
			testutils.AssertLen(t, c, 1)
		})
	}
}
