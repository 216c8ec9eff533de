package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"

	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
)

// Publisher 發佈訊息到某個 subject
//
// *nats.Conn 直接滿足此介面。
type Publisher interface {
	Publish(subject string, data []byte) error
}

// 變更事件類型
const (
	OpPut = "put"
	OpDel = "del"
)

// ChangeEvent 描述一次成功的寫入或刪除
type ChangeEvent struct {
	Op     string    `json:"op"`
	Bucket string    `json:"bucket"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
}

// NotifyingCache 在寫入成功後發佈變更事件
//
// Subject 格式：{prefix}.{bucket}.{op}，例如 cache.sessions.put
//
// bucket 必須是單一 subject token（不含空白、'.'、'*'、'>'）。
//
// 事件只帶 key 不帶值，訂閱方需要新值時自行 Get。
// 發佈失敗只記錄日誌，不影響已完成的寫入。讀取操作直接轉給內層快取。
type NotifyingCache struct {
	next      Cache
	bucket    string
	publisher Publisher
	prefix    string
	logger    *slog.Logger
	now       func() time.Time
}

var _ Cache = (*NotifyingCache)(nil)

// NewNotifyingCache 包裝一個快取
//
// prefix 可以包含多個以 '.' 分隔的 token（例如 app.cache），空字串時使用 "cache"。
// bucket 或 prefix 不是合法的 subject token 時返回 INVALID_INPUT。
func NewNotifyingCache(next Cache, bucket string, publisher Publisher, prefix string, opts ...Option) (*NotifyingCache, error) {
	if bucket == "" {
		return nil, apperrors.ErrInvalidBucket
	}
	if !validSubjectToken(bucket) {
		return nil, apperrors.ErrInvalidSubjectToken.WithDetails("bucket=" + bucket)
	}

	if prefix == "" {
		prefix = "cache"
	}
	for _, token := range strings.Split(prefix, ".") {
		if !validSubjectToken(token) {
			return nil, apperrors.ErrInvalidSubjectToken.WithDetails("prefix=" + prefix)
		}
	}

	o := applyOptions(opts)
	return &NotifyingCache{
		next:      next,
		bucket:    bucket,
		publisher: publisher,
		prefix:    prefix,
		logger:    o.logger.With("bucket", bucket),
		now:       time.Now,
	}, nil
}

// validSubjectToken 檢查 s 是否為單一且非萬用字元的 subject token
func validSubjectToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Subject 返回某個操作的事件 subject
func (c *NotifyingCache) Subject(op string) string {
	return fmt.Sprintf("%s.%s.%s", c.prefix, c.bucket, op)
}

func (c *NotifyingCache) Put(ctx context.Context, key string, value any) error {
	if err := c.next.Put(ctx, key, value); err != nil {
		return err
	}
	c.publish(ctx, OpPut, key)
	return nil
}

func (c *NotifyingCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	return c.next.Get(ctx, key, dst)
}

func (c *NotifyingCache) Del(ctx context.Context, key string) error {
	if err := c.next.Del(ctx, key); err != nil {
		return err
	}
	c.publish(ctx, OpDel, key)
	return nil
}

func (c *NotifyingCache) Len(ctx context.Context) (int64, error) {
	return c.next.Len(ctx)
}

func (c *NotifyingCache) publish(ctx context.Context, op, key string) {
	data, err := json.Marshal(ChangeEvent{
		Op:     op,
		Bucket: c.bucket,
		Key:    key,
		At:     c.now().UTC(),
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "marshal change event failed", "key", key, "error", err)
		return
	}

	subject := c.Subject(op)
	if err := c.publisher.Publish(subject, data); err != nil {
		c.logger.WarnContext(ctx, "publish change event failed", "subject", subject, "key", key, "error", err)
	}
}
