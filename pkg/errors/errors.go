// Package errors 提供應用程式錯誤處理
//
// 只有本服務自己產生的錯誤才會包成 AppError（序列化失敗、輸入不合法）。
// 來自 Redis / PostgreSQL 連線的錯誤原樣傳回，不在這裡包裝。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeEncode 序列化失敗
	ErrCodeEncode = "ENCODE_FAILED"
	// ErrCodeDecode 反序列化失敗（儲存的文字與目標型別不相容）
	ErrCodeDecode = "DECODE_FAILED"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is，以錯誤碼比對
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本
//
// 預定義錯誤是共用的，所以不能直接修改接收者。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrInvalidBucket bucket 名稱為空
	ErrInvalidBucket = New(ErrCodeInvalidInput, "bucket name required")

	// ErrInvalidSubjectToken bucket 或 subject 前綴無法用於 NATS subject
	ErrInvalidSubjectToken = New(ErrCodeInvalidInput, "name cannot be used in an event subject")

	// ErrInvalidKey key 為空
	ErrInvalidKey = New(ErrCodeInvalidInput, "cache key required")

	// ErrEntryNotFound 快取項目不存在（僅 HTTP 層使用，Get 本身以 found=false 表示）
	ErrEntryNotFound = New(ErrCodeNotFound, "cache entry not found")

	// ErrUnsupportedBackend 不支援的後端
	ErrUnsupportedBackend = New(ErrCodeInvalidInput, "unsupported cache backend")

	// ErrRedisUnavailable Redis 不可用
	ErrRedisUnavailable = New(ErrCodeUnavailable, "redis service unavailable")

	// ErrDatabaseUnavailable 資料庫不可用
	ErrDatabaseUnavailable = New(ErrCodeUnavailable, "database service unavailable")
)

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

// IsEncode 檢查是否為序列化錯誤
func IsEncode(err error) bool {
	return hasCode(err, ErrCodeEncode)
}

// IsDecode 檢查是否為反序列化錯誤
func IsDecode(err error) bool {
	return hasCode(err, ErrCodeDecode)
}

// IsUnavailable 檢查是否為服務不可用錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}
