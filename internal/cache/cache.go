package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Cache 页面图片缓存
// 缓存只用于避免重复解码和渲染PDF，命中与否不影响结果
type Cache interface {
	// Get 读取缓存，键不存在时 found 为 false 且 err 为 nil
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set 写入缓存，ttl 为0时使用默认过期时间
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Clear 清空本缓存的所有条目
	Clear(ctx context.Context) error

	// Close 释放连接
	Close() error
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

// 注册的缓存实现
var registry = make(map[string]Factory)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 按类型创建缓存，类型为空时使用内存缓存
func NewCache(config Config) (Cache, error) {
	if config.Type == "" {
		config.Type = "memory"
	}
	factory, ok := registry[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
	return factory(config)
}

// Config 缓存配置
type Config struct {
	Type            string        // memory 或 redis
	RedisAddr       string        // Redis地址
	RedisPassword   string        // Redis密码
	RedisDB         int           // Redis数据库
	KeyPrefix       string        // Redis键前缀，多个项目共用一个Redis时区分
	DefaultTTL      time.Duration // 默认过期时间
	CleanupInterval time.Duration // 内存缓存清理间隔
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		KeyPrefix:       "proofread",
		DefaultTTL:      30 * time.Minute,
		CleanupInterval: 10 * time.Minute,
	}
}

// PageKey 页面图片的缓存键，例如 page:pdf:/books/a/book.pdf:12
// source 需要唯一标识来源文件，physical 是物理索引而不是逻辑页码
func PageKey(source string, physical int) string {
	return "page:" + source + ":" + strconv.Itoa(physical)
}
