package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内缓存，基于go-cache
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(config Config) (Cache, error) {
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultConfig().DefaultTTL
	}
	cleanup := config.CleanupInterval
	if cleanup <= 0 {
		cleanup = DefaultConfig().CleanupInterval
	}
	return &MemoryCache{items: gocache.New(ttl, cleanup)}, nil
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	return data, ok, nil
}

// Set 保存副本，调用方之后修改切片不影响缓存
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

func (m *MemoryCache) Clear(ctx context.Context) error {
	m.items.Flush()
	return nil
}

// Close 内存缓存无需释放
func (m *MemoryCache) Close() error {
	return nil
}

// Len 当前条目数
func (m *MemoryCache) Len() int {
	return m.items.ItemCount()
}

func init() {
	RegisterCache("memory", NewMemoryCache)
}
