// Package cache 實現以外部儲存為後端的 key-value 快取
//
// 資料模型：
//
//	bucket（Redis hash / PostgreSQL 的一組列）
//	  ├── key1 → 序列化後的值（JSON 文字）
//	  ├── key2 → ...
//	  └── ...
//
// 每個操作恰好對後端做一次遠端呼叫，沒有重試、批量或本地快取。
// 連線由呼叫方建立並注入，快取本身不負責開啟或關閉連線。
package cache

import (
	"context"
	"log/slog"

	"github.com/koopa0/system-design/redis-backed-cache/pkg/logger"
)

// Cache 是快取介面，定義了四個基本操作。
//
// 此介面由以下實作：
//   - RedisCache（Redis hash）
//   - PostgresCache（cache_entries 表）
//
// 同一 bucket 內一個 key 同時只對應一個值，重複寫入直接覆蓋（last-write-wins）。
// 介面本身不提供跨操作的原子性，Put 之後的 Get 不是一個交易。
type Cache interface {
	// Put 序列化 value 並寫入 key，覆蓋舊值
	Put(ctx context.Context, key string, value any) error

	// Get 讀取 key 並反序列化到 dst（必須是指標）
	//
	// 返回：
	//   - found: false 表示 key 不存在，此時 err 為 nil
	//   - err: 連線錯誤原樣返回；內容與 dst 型別不相容時為 DECODE_FAILED
	Get(ctx context.Context, key string, dst any) (found bool, err error)

	// Del 刪除 key
	//
	// 注意：刪除不存在的 key 不會報錯（冪等操作）
	Del(ctx context.Context, key string) error

	// Len 返回 bucket 中的 key 數量
	Len(ctx context.Context) (int64, error)
}

// Get 以型別參數讀取快取值
//
//	user, ok, err := cache.Get[User](ctx, c, "user:1")
//
// key 不存在時返回 T 的零值與 false。
func Get[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var value T
	found, err := c.Get(ctx, key, &value)
	if err != nil || !found {
		var zero T
		return zero, found, err
	}
	return value, true, nil
}

// Option 設定快取實作的可選參數
type Option func(*options)

type options struct {
	codec  Codec
	logger *slog.Logger
}

func defaultOptions() options {
	return options{
		codec:  JSONCodec{},
		logger: logger.Discard(),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCodec 指定序列化格式（預設 JSON）
func WithCodec(codec Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithLogger 指定日誌記錄器
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
