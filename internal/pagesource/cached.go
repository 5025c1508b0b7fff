package pagesource

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fyerfyer/ocr-proofreader/internal/cache"
	"github.com/fyerfyer/ocr-proofreader/internal/metrics"
	"github.com/sirupsen/logrus"
)

// CachedSource 为页面来源加一层缓存
// 只缓存成功的结果，失败每次都会重新查找
type CachedSource struct {
	source  Source
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// CachedOption 缓存来源配置选项
type CachedOption func(*CachedSource)

// WithTTL 设置缓存过期时间
func WithTTL(ttl time.Duration) CachedOption {
	return func(c *CachedSource) {
		c.ttl = ttl
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) CachedOption {
	return func(c *CachedSource) {
		c.metrics = m
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) CachedOption {
	return func(c *CachedSource) {
		c.logger = logger
	}
}

// NewCachedSource 创建带缓存的页面来源
func NewCachedSource(source Source, c cache.Cache, opts ...CachedOption) *CachedSource {
	cs := &CachedSource{
		source: source,
		cache:  c,
		ttl:    30 * time.Minute,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

// Name 来源名称
func (c *CachedSource) Name() string {
	return c.source.Name()
}

// Key 页面的缓存键
func (c *CachedSource) Key(page int) string {
	return c.source.Key(page)
}

// Resolve 先查缓存，未命中再查实际来源
func (c *CachedSource) Resolve(ctx context.Context, page int) (*Image, error) {
	key := c.source.Key(page)

	if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var img Image
		if err := json.Unmarshal(data, &img); err == nil {
			// 共用同一张图片的其他来源可能用不同的逻辑页码写入
			img.Page = page
			c.metrics.RecordCacheLookup(true)
			return &img, nil
		}
		// 缓存内容损坏时删掉重新取
		_ = c.cache.Delete(ctx, key)
	} else if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Page cache lookup failed")
	}
	c.metrics.RecordCacheLookup(false)

	start := time.Now()
	img, err := c.source.Resolve(ctx, page)
	c.metrics.RecordPageResolve(c.source.Name(), err, time.Since(start))
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(img); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Failed to cache page image")
		}
	}
	return img, nil
}
