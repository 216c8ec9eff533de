package internal

import (
	"log/slog"

	"github.com/koopa0/system-design/redis-backed-cache/internal/cache"
)

// NotifyingFactory 讓 next 建立的快取在寫入後發佈變更事件
//
// bucket 無法作為 subject token 時返回 INVALID_INPUT，HTTP 層對應 400，
// 寫入不會發生。
func NotifyingFactory(next Factory, publisher cache.Publisher, prefix string, logger *slog.Logger) Factory {
	return func(bucket string) (cache.Cache, error) {
		c, err := next(bucket)
		if err != nil {
			return nil, err
		}
		notifying, err := cache.NewNotifyingCache(c, bucket, publisher, prefix, cache.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return notifying, nil
	}
}
