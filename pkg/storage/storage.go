package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo 对象元数据
type ObjectInfo struct {
	Key      string    // 相对键，例如 page_12.json
	Size     int64     // 大小(字节)
	MimeType string    // MIME类型
	ModTime  time.Time // 最后修改时间
}

// Storage 按键寻址的对象存储
// OCR结果JSON和导出的切图都通过它读写，可以是本地目录或MinIO桶
type Storage interface {
	// Get 读取对象，不存在时返回 ErrObjectNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put 写入对象，已存在则覆盖
	Put(ctx context.Context, key string, reader io.Reader, size int64) (ObjectInfo, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// Delete 删除对象
	Delete(ctx context.Context, key string) error

	// List 列出指定前缀下的对象
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Config 存储配置
type Config struct {
	Type  string      // local 或 minio
	Local LocalConfig // 本地存储配置
	Minio MinioConfig // MinIO配置
}

// New 根据配置创建存储实例
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// cleanKey 规范化对象键，拒绝跳出根目录的路径
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(key)), "/")
	if key == "" || key == "." {
		return "", fmt.Errorf("invalid object key")
	}
	return key, nil
}

// getMimeType 简单根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
