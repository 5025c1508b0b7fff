// Package ocr 读取、保存和生成每页的OCR结果
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fyerfyer/ocr-proofreader/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Store 按页读写OCR结果JSON
// 文件名约定为 page_<物理索引>.json，找不到时再试 <物理索引>.json
type Store struct {
	storage storage.Storage
	offset  int
	logger  *logrus.Logger
}

// NewStore 创建OCR结果存储
func NewStore(s storage.Storage, offset int, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{storage: s, offset: offset, logger: logger}
}

// Key 返回物理索引对应的首选对象键
func Key(physical int) string {
	return fmt.Sprintf("page_%d.json", physical)
}

func candidateKeys(physical int) []string {
	return []string{Key(physical), fmt.Sprintf("%d.json", physical)}
}

// Get 读取逻辑页的OCR结果
// 文件不存在或无法解析时返回 false，解析失败会记录日志
func (s *Store) Get(ctx context.Context, page int) (*Result, bool) {
	if s == nil || s.storage == nil {
		return nil, false
	}
	physical := page + s.offset

	for _, key := range candidateKeys(physical) {
		data, err := s.read(ctx, key)
		if err != nil {
			if !errors.Is(err, storage.ErrObjectNotFound) {
				s.logger.WithError(err).WithField("key", key).Warn("Failed to read OCR result")
			}
			continue
		}

		items, err := Parse(data)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"key":  key,
				"page": page,
			}).WithError(err).Warn("Malformed OCR result ignored")
			return nil, false
		}
		return &Result{Page: page, PhysicalIndex: physical, Items: items}, true
	}

	return nil, false
}

// Exists 检查逻辑页是否已有OCR结果文件
func (s *Store) Exists(ctx context.Context, page int) bool {
	if s == nil || s.storage == nil {
		return false
	}
	for _, key := range candidateKeys(page + s.offset) {
		if ok, err := s.storage.Exists(ctx, key); err == nil && ok {
			return true
		}
	}
	return false
}

// Put 保存逻辑页的原始OCR结果，总是写入 page_<物理索引>.json
func (s *Store) Put(ctx context.Context, page int, raw []byte) error {
	if _, err := Parse(raw); err != nil {
		return fmt.Errorf("refusing to store unreadable ocr result: %w", err)
	}
	key := Key(page + s.offset)
	if _, err := s.storage.Put(ctx, key, bytes.NewReader(raw), int64(len(raw))); err != nil {
		return fmt.Errorf("failed to store ocr result %s: %w", key, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
