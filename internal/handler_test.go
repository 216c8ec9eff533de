package internal_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/redis-backed-cache/internal"
	"github.com/koopa0/system-design/redis-backed-cache/internal/cache"
	"github.com/koopa0/system-design/redis-backed-cache/internal/testutils"
	"github.com/koopa0/system-design/redis-backed-cache/pkg/logger"
)

type entryBody struct {
	Bucket string          `json:"bucket"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

func newTestHandler(store *testutils.MockStore, ready internal.ReadyFunc) http.Handler {
	return internal.NewHandler(store.Factory(), ready, logger.Discard()).Routes()
}

// TestHandler_PutAndGet 測試寫入後讀取
func TestHandler_PutAndGet(t *testing.T) {
	store := testutils.NewMockStore()
	h := newTestHandler(store, nil)

	rec := testutils.MakeHTTPRequest(t, h, http.MethodPut, "/api/v1/buckets/users/entries/u1", `{"name":"koopa","age":30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = testutils.MakeHTTPRequest(t, h, http.MethodGet, "/api/v1/buckets/users/entries/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body entryBody
	testutils.ParseJSONResponse(t, rec, &body)
	assert.Equal(t, "users", body.Bucket)
	assert.Equal(t, "u1", body.Key)
	assert.JSONEq(t, `{"name":"koopa","age":30}`, string(body.Value))

	// 透過 Cache 介面讀取同一筆資料
	c, err := store.Bucket("users")
	require.NoError(t, err)
	got, found, err := cache.Get[struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}](context.Background(), c, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "koopa", got.Name)
	assert.Equal(t, 30, got.Age)
}

// TestHandler_Put 測試寫入的各種輸入
func TestHandler_Put(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		body           string
		failWith       error
		expectedStatus int
	}{
		{
			name:           "string value",
			path:           "/api/v1/buckets/test/entries/a",
			body:           `"X"`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "number value",
			path:           "/api/v1/buckets/test/entries/n",
			body:           `42`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid JSON",
			path:           "/api/v1/buckets/test/entries/a",
			body:           `{invalid json}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "empty body",
			path:           "/api/v1/buckets/test/entries/a",
			body:           ``,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "backend failure",
			path:           "/api/v1/buckets/test/entries/a",
			body:           `"X"`,
			failWith:       errors.New("connection refused"),
			expectedStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutils.NewMockStore()
			if tt.failWith != nil {
				store.FailNext(tt.failWith)
			}
			h := newTestHandler(store, nil)

			rec := testutils.MakeHTTPRequest(t, h, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, rec.Code)

			if tt.expectedStatus != http.StatusOK {
				var body errorBody
				testutils.ParseJSONResponse(t, rec, &body)
				assert.False(t, body.Success)
				assert.NotEmpty(t, body.Error)
				assert.NotContains(t, body.Error, "connection refused", "backend errors are not leaked to clients")
			}
		})
	}
}

// TestHandler_GetMissing 測試讀取不存在的 key
func TestHandler_GetMissing(t *testing.T) {
	h := newTestHandler(testutils.NewMockStore(), nil)

	rec := testutils.MakeHTTPRequest(t, h, http.MethodGet, "/api/v1/buckets/test/entries/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	testutils.ParseJSONResponse(t, rec, &body)
	assert.Equal(t, "NOT_FOUND", body.Code)
}

// TestHandler_Delete 測試刪除（冪等）
func TestHandler_Delete(t *testing.T) {
	store := testutils.NewMockStore()
	h := newTestHandler(store, nil)

	rec := testutils.MakeHTTPRequest(t, h, http.MethodPut, "/api/v1/buckets/test/entries/foo", `"BAR"`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = testutils.MakeHTTPRequest(t, h, http.MethodDelete, "/api/v1/buckets/test/entries/foo", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = testutils.MakeHTTPRequest(t, h, http.MethodDelete, "/api/v1/buckets/test/entries/foo", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "deleting an absent key is not an error")

	rec = testutils.MakeHTTPRequest(t, h, http.MethodGet, "/api/v1/buckets/test/entries/foo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(2), store.DelCalls.Load())
}

// TestHandler_Len 測試 bucket 大小隨寫入與刪除變化
func TestHandler_Len(t *testing.T) {
	store := testutils.NewMockStore()
	h := newTestHandler(store, nil)

	lenOf := func(bucket string) int64 {
		t.Helper()
		rec := testutils.MakeHTTPRequest(t, h, http.MethodGet, "/api/v1/buckets/"+bucket+"/len", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Bucket string `json:"bucket"`
			Len    int64  `json:"len"`
		}
		testutils.ParseJSONResponse(t, rec, &body)
		assert.Equal(t, bucket, body.Bucket)
		return body.Len
	}

	put := func(key, value string) {
		t.Helper()
		rec := testutils.MakeHTTPRequest(t, h, http.MethodPut, "/api/v1/buckets/scenario/entries/"+key, value)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, int64(0), lenOf("scenario"))
	put("a", `"X"`)
	assert.Equal(t, int64(1), lenOf("scenario"))
	put("b", `"Y"`)
	assert.Equal(t, int64(2), lenOf("scenario"))
	put("a", `"Z"`)
	assert.Equal(t, int64(2), lenOf("scenario"))

	rec := testutils.MakeHTTPRequest(t, h, http.MethodDelete, "/api/v1/buckets/scenario/entries/a", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(1), lenOf("scenario"))
	assert.Equal(t, int64(0), lenOf("other"))
}

// TestHandler_DecodeMismatch 測試儲存的資料無法解析時返回 422
func TestHandler_DecodeMismatch(t *testing.T) {
	store := testutils.NewMockStore()
	store.Raw("test", "broken", `{"unterminated":`)
	h := newTestHandler(store, nil)

	rec := testutils.MakeHTTPRequest(t, h, http.MethodGet, "/api/v1/buckets/test/entries/broken", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body errorBody
	testutils.ParseJSONResponse(t, rec, &body)
	assert.Equal(t, "DECODE_FAILED", body.Code)
}

// TestHandler_RequestID 測試沿用呼叫方提供的請求 ID
func TestHandler_RequestID(t *testing.T) {
	h := newTestHandler(testutils.NewMockStore(), nil)

	rec := testutils.MakeHTTPRequest(t, h, http.MethodGet, "/health", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36, "generated ids are UUIDs")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

// TestHandler_Probes 測試健康檢查與就緒檢查
func TestHandler_Probes(t *testing.T) {
	t.Run("health", func(t *testing.T) {
		h := newTestHandler(testutils.NewMockStore(), nil)
		rec := testutils.MakeHTTPRequest(t, h, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	})

	t.Run("ready", func(t *testing.T) {
		h := newTestHandler(testutils.NewMockStore(), func(ctx context.Context) error { return nil })
		rec := testutils.MakeHTTPRequest(t, h, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		h := newTestHandler(testutils.NewMockStore(), func(ctx context.Context) error {
			return errors.New("redis: connection pool timeout")
		})
		rec := testutils.MakeHTTPRequest(t, h, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

// failingBody 讀取到一半就失敗的 request body
type failingBody struct{}

func (failingBody) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

// TestHandler_PutBodyErrors 測試讀取 body 失敗時的狀態碼
func TestHandler_PutBodyErrors(t *testing.T) {
	t.Run("body over the limit", func(t *testing.T) {
		store := testutils.NewMockStore()
		h := newTestHandler(store, nil)

		huge := `"` + strings.Repeat("x", 1<<20) + `"`
		rec := testutils.MakeHTTPRequest(t, h, http.MethodPut, "/api/v1/buckets/test/entries/big", huge)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Zero(t, store.PutCalls.Load())
	})

	t.Run("broken body", func(t *testing.T) {
		store := testutils.NewMockStore()
		h := newTestHandler(store, nil)

		req := httptest.NewRequest(http.MethodPut, "/api/v1/buckets/test/entries/k", failingBody{})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, store.PutCalls.Load())
	})
}

// TestHandler_NotifyingBuckets 測試開啟變更事件時，無法作為 subject token 的 bucket 會被拒絕
func TestHandler_NotifyingBuckets(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		expectedStatus int
		subject        string
	}{
		{name: "plain bucket", path: "/api/v1/buckets/sessions/entries/k", expectedStatus: http.StatusOK, subject: "cache.sessions.put"},
		{name: "space", path: "/api/v1/buckets/a%20b/entries/k", expectedStatus: http.StatusBadRequest},
		{name: "star wildcard", path: "/api/v1/buckets/%2A/entries/k", expectedStatus: http.StatusBadRequest},
		{name: "dot", path: "/api/v1/buckets/a.b/entries/k", expectedStatus: http.StatusBadRequest},
		{name: "tail wildcard", path: "/api/v1/buckets/%3E/entries/k", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutils.NewMockStore()
			pub := &subjectRecorder{}
			factory := internal.NotifyingFactory(store.Factory(), pub, "cache", logger.Discard())
			h := internal.NewHandler(factory, nil, logger.Discard()).Routes()

			rec := testutils.MakeHTTPRequest(t, h, http.MethodPut, tt.path, `"X"`)
			assert.Equal(t, tt.expectedStatus, rec.Code)

			if tt.expectedStatus != http.StatusOK {
				var body errorBody
				testutils.ParseJSONResponse(t, rec, &body)
				assert.Equal(t, "INVALID_INPUT", body.Code)
				assert.Zero(t, store.PutCalls.Load(), "rejected buckets are never written")
				assert.Empty(t, pub.subjects)
				return
			}
			assert.Equal(t, []string{tt.subject}, pub.subjects)
		})
	}
}

// subjectRecorder 只記錄 subject
type subjectRecorder struct {
	subjects []string
}

func (p *subjectRecorder) Publish(subject string, _ []byte) error {
	p.subjects = append(p.subjects, subject)
	return nil
}
