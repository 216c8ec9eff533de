// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// RequestIDKey 請求 ID 的上下文鍵
	RequestIDKey contextKey = "request_id"
	// BucketKey bucket 名稱的上下文鍵
	BucketKey contextKey = "bucket"
)

// New 建立日誌記錄器
//
// format 為 "json" 時輸出 JSON，其餘一律為 text。
// outputPath 支援 "stdout"、"stderr" 或檔案路徑（append 模式）。
func New(level, format, outputPath string) (*slog.Logger, error) {
	var output io.Writer
	switch outputPath {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		// #nosec G304 - outputPath 來自配置檔
		file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		output = file
	}

	return NewWithWriter(output, level, format), nil
}

// NewWithWriter 以指定的 writer 建立日誌記錄器
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05.000"))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// Discard 返回丟棄所有輸出的日誌記錄器（測試或未注入 logger 時使用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取資訊的處理器
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		r.AddAttrs(slog.String("request_id", requestID))
	}

	if bucket, ok := ctx.Value(BucketKey).(string); ok && bucket != "" {
		r.AddAttrs(slog.String("bucket", bucket))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保持包裝，避免 logger.With(...) 之後遺失上下文欄位
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 同上
func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithRequestID 添加請求 ID 到上下文
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFrom 從上下文取出請求 ID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// WithBucket 添加 bucket 名稱到上下文
func WithBucket(ctx context.Context, bucket string) context.Context {
	return context.WithValue(ctx, BucketKey, bucket)
}
