package testutils

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/koopa0/system-design/redis-backed-cache/internal/cache"
	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
)

// MockStore 記憶體版的 bucket 儲存，行為對齊 Redis hash
//
// 值同樣經過 JSON codec，所以型別不相容時一樣會返回 DECODE_FAILED。
type MockStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	codec   cache.Codec

	// 記錄呼叫次數
	PutCalls atomic.Int32
	GetCalls atomic.Int32
	DelCalls atomic.Int32
	LenCalls atomic.Int32

	// 錯誤注入：下一次操作返回 FailError
	failNext  atomic.Bool
	FailError error
}

// NewMockStore 創建新的 MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		buckets: make(map[string]map[string][]byte),
		codec:   cache.JSONCodec{},
	}
}

// FailNext 讓下一次操作返回 err
func (m *MockStore) FailNext(err error) {
	m.FailError = err
	m.failNext.Store(true)
}

func (m *MockStore) injected() error {
	if m.failNext.CompareAndSwap(true, false) {
		return m.FailError
	}
	return nil
}

// Factory 返回可直接注入 Handler 的 bucket 工廠
func (m *MockStore) Factory() func(bucket string) (cache.Cache, error) {
	return func(bucket string) (cache.Cache, error) {
		return m.Bucket(bucket)
	}
}

// Bucket 返回指定 bucket 的 Cache
func (m *MockStore) Bucket(bucket string) (cache.Cache, error) {
	if bucket == "" {
		return nil, apperrors.ErrInvalidBucket
	}
	return &mockCache{store: m, bucket: bucket}, nil
}

// Raw 直接寫入未經 codec 的文字（用於構造不相容資料）
func (m *MockStore) Raw(bucket, key, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string][]byte)
	}
	m.buckets[bucket][key] = []byte(text)
}

type mockCache struct {
	store  *MockStore
	bucket string
}

func (c *mockCache) Put(ctx context.Context, key string, value any) error {
	m := c.store
	m.PutCalls.Add(1)
	if err := m.injected(); err != nil {
		return err
	}

	data, err := m.codec.Marshal(value)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeEncode, "encode cache value")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buckets[c.bucket] == nil {
		m.buckets[c.bucket] = make(map[string][]byte)
	}
	m.buckets[c.bucket][key] = data
	return nil
}

func (c *mockCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	m := c.store
	m.GetCalls.Add(1)
	if err := m.injected(); err != nil {
		return false, err
	}

	m.mu.RLock()
	data, ok := m.buckets[c.bucket][key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if err := m.codec.Unmarshal(data, dst); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeDecode, "decode cache value")
	}
	return true, nil
}

func (c *mockCache) Del(ctx context.Context, key string) error {
	m := c.store
	m.DelCalls.Add(1)
	if err := m.injected(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets[c.bucket], key)
	if len(m.buckets[c.bucket]) == 0 {
		delete(m.buckets, c.bucket)
	}
	return nil
}

func (c *mockCache) Len(ctx context.Context) (int64, error) {
	m := c.store
	m.LenCalls.Add(1)
	if err := m.injected(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.buckets[c.bucket])), nil
}
