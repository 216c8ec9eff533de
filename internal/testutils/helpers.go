package testutils

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/redis-backed-cache/internal"
	"github.com/koopa0/system-design/redis-backed-cache/internal/cache"
)

// DefaultTestConfig 返回測試用的預設配置
func DefaultTestConfig() *internal.Config {
	cfg := internal.DefaultConfig()

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second

	cfg.Cache.Backend = internal.BackendRedis
	cfg.Cache.DefaultBucket = "test"

	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	return cfg
}

// MakeHTTPRequest 執行 HTTP 請求的輔助函數
//
// body 為 string 時原樣送出，其餘型別先編碼成 JSON。
func MakeHTTPRequest(t testing.TB, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		if str, ok := body.(string); ok {
			bodyReader = strings.NewReader(str)
		} else {
			jsonBytes, err := json.Marshal(body)
			require.NoError(t, err)
			bodyReader = strings.NewReader(string(jsonBytes))
		}
	}

	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	return recorder
}

// ParseJSONResponse 解析 JSON 響應
func ParseJSONResponse(t testing.TB, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()

	err := json.NewDecoder(recorder.Body).Decode(target)
	require.NoError(t, err, "failed to parse JSON response")
}

// AssertLen 驗證 bucket 的 key 數量
func AssertLen(t testing.TB, c cache.Cache, expected int64) {
	t.Helper()

	actual, err := c.Len(context.Background())
	require.NoError(t, err)
	require.Equal(t, expected, actual, "bucket should hold %d keys, got %d", expected, actual)
}

// AssertAbsent 驗證 key 不存在
func AssertAbsent(t testing.TB, c cache.Cache, key string) {
	t.Helper()

	var v any
	found, err := c.Get(context.Background(), key, &v)
	require.NoError(t, err)
	require.False(t, found, "key %q should be absent, got %v", key, v)
}

// RunConcurrently 並發執行測試函數
func RunConcurrently(t testing.TB, concurrency int, iterations int, fn func(workerID, iteration int)) {
	t.Helper()

	done := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		workerID := i
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < iterations; j++ {
				fn(workerID, j)
			}
		}()
	}

	for i := 0; i < concurrency; i++ {
		<-done
	}
}
