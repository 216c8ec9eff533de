package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/koopa0/system-design/redis-backed-cache/internal/cache"
	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
	"github.com/koopa0/system-design/redis-backed-cache/pkg/logger"
)

// maxValueBytes 單一快取值的請求大小上限
const maxValueBytes = 1 << 20

// Factory 依 bucket 名稱取得快取
//
// 所有 bucket 共用同一個連線，Factory 只負責組裝 Cache。
type Factory func(bucket string) (cache.Cache, error)

// ReadyFunc 檢查後端連線是否可用
type ReadyFunc func(ctx context.Context) error

// Handler HTTP 請求處理器
type Handler struct {
	caches Factory
	ready  ReadyFunc
	logger *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(caches Factory, ready ReadyFunc, logger *slog.Logger) *Handler {
	return &Handler{
		caches: caches,
		ready:  ready,
		logger: logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：請求 ID -> 日誌 -> 恢復 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.requestID(h.loggerMiddleware(h.recoverer(handler)))
	}

	mux.HandleFunc("PUT /api/v1/buckets/{bucket}/entries/{key}", wrap(h.put))
	mux.HandleFunc("GET /api/v1/buckets/{bucket}/entries/{key}", wrap(h.get))
	mux.HandleFunc("DELETE /api/v1/buckets/{bucket}/entries/{key}", wrap(h.del))
	mux.HandleFunc("GET /api/v1/buckets/{bucket}/len", wrap(h.length))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /ready", wrap(h.readiness))

	return mux
}

type entryResponse struct {
	Bucket string          `json:"bucket"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value,omitempty"`
}

type lenResponse struct {
	Bucket string `json:"bucket"`
	Len    int64  `json:"len"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// put 寫入快取項目，body 為任意 JSON 值
func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	ctx, c, key, ok := h.resolve(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.WarnContext(ctx, "failed to read request body", "key", key, "error", err)
		h.respondError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		h.respondError(w, "request body must be a JSON value", http.StatusBadRequest)
		return
	}

	if err := c.Put(ctx, key, json.RawMessage(body)); err != nil {
		h.respondCacheError(w, r, "put", key, err)
		return
	}

	h.respondJSON(w, http.StatusOK, entryResponse{
		Bucket: r.PathValue("bucket"),
		Key:    key,
		Value:  body,
	})
}

// get 讀取快取項目
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ctx, c, key, ok := h.resolve(w, r)
	if !ok {
		return
	}

	value, found, err := cache.Get[json.RawMessage](ctx, c, key)
	if err != nil {
		h.respondCacheError(w, r, "get", key, err)
		return
	}
	if !found {
		h.respondCacheError(w, r, "get", key, apperrors.ErrEntryNotFound)
		return
	}

	h.respondJSON(w, http.StatusOK, entryResponse{
		Bucket: r.PathValue("bucket"),
		Key:    key,
		Value:  value,
	})
}

// del 刪除快取項目，不存在也返回 204
func (h *Handler) del(w http.ResponseWriter, r *http.Request) {
	ctx, c, key, ok := h.resolve(w, r)
	if !ok {
		return
	}

	if err := c.Del(ctx, key); err != nil {
		h.respondCacheError(w, r, "del", key, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// length 返回 bucket 的 key 數量
func (h *Handler) length(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	c, err := h.caches(bucket)
	if err != nil {
		h.respondCacheError(w, r, "len", "", err)
		return
	}

	n, err := c.Len(logger.WithBucket(r.Context(), bucket))
	if err != nil {
		h.respondCacheError(w, r, "len", "", err)
		return
	}

	h.respondJSON(w, http.StatusOK, lenResponse{Bucket: bucket, Len: n})
}

// resolve 取得 bucket 對應的快取與 key，返回的 ctx 帶有 bucket 欄位
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (context.Context, cache.Cache, string, bool) {
	bucket := r.PathValue("bucket")
	key := r.PathValue("key")
	if key == "" {
		h.respondError(w, apperrors.ErrInvalidKey.Message, http.StatusBadRequest)
		return nil, nil, "", false
	}

	c, err := h.caches(bucket)
	if err != nil {
		h.respondCacheError(w, r, "resolve", key, err)
		return nil, nil, "", false
	}

	return logger.WithBucket(r.Context(), bucket), c, key, true
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readiness 就緒檢查
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "backend not ready", "error", err)
			h.respondError(w, "backend not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Ready")
}

// 中間件

// requestID 沿用呼叫方的 X-Request-ID，沒有則產生一個
func (h *Handler) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	}
}

// loggerMiddleware 記錄請求日誌
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered", "error", err)
				h.respondError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// respondCacheError 依錯誤類型決定狀態碼
//
//	INVALID_INPUT → 400
//	NOT_FOUND     → 404
//	DECODE_FAILED → 422
//	ENCODE_FAILED → 422
//	其他（連線錯誤）→ 502
func (h *Handler) respondCacheError(w http.ResponseWriter, r *http.Request, op, key string, err error) {
	status := http.StatusBadGateway
	switch {
	case apperrors.IsInvalidInput(err):
		status = http.StatusBadRequest
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsDecode(err), apperrors.IsEncode(err):
		status = http.StatusUnprocessableEntity
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "cache operation failed", "op", op, "key", key, "error", err)
	}

	resp := errorResponse{Success: false}
	if appErr, ok := asAppError(err); ok {
		resp.Code = appErr.Code
		resp.Error = appErr.Message
	} else {
		resp.Error = "cache backend error"
	}
	h.respondJSON(w, status, resp)
}

func asAppError(err error) (*apperrors.AppError, bool) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, message string, code int) {
	h.respondJSON(w, code, errorResponse{
		Success: false,
		Error:   message,
	})
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}
