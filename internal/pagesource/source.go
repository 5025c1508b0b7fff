// Package pagesource 将逻辑页码解析为可显示的页面图片
//
// 物理索引 = 逻辑页码 + 页码偏移，图片来自预先导出的图片目录或PDF文件
package pagesource

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	// 注册扩展图片格式的解码器
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNoSource 既没有配置图片目录也没有配置PDF
var ErrNoSource = errors.New("no page source configured")

// Image 解析得到的页面图片
type Image struct {
	Page          int    `json:"page"`           // 逻辑页码
	PhysicalIndex int    `json:"physical_index"` // 物理索引
	Data          []byte `json:"data"`           // 编码后的图片字节
	MIME          string `json:"mime"`           // 图片MIME类型
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Origin        string `json:"origin"` // 图片来源，文件路径或 pdf#页码
}

// Source 页面图片来源
type Source interface {
	// Resolve 返回逻辑页码对应的图片
	// 目录来源找不到文件时返回 *models.PageNotFoundError
	// PDF来源无法取得页面图片时返回 *models.PageRenderError
	Resolve(ctx context.Context, page int) (*Image, error)

	// Name 来源名称，用于日志和指标
	Name() string

	// Key 页面的缓存键，由来源的绝对路径和物理索引组成
	Key(page int) string
}

// Config 页面来源配置
type Config struct {
	PDFPath   string // PDF文件路径
	ImageDir  string // 图片目录
	Offset    int    // 页码偏移
	PreferPDF bool   // 两者都配置时优先使用PDF
}

// New 根据配置选择页面来源
func New(cfg Config) (Source, error) {
	switch {
	case cfg.PreferPDF && cfg.PDFPath != "":
		return NewPDFSource(cfg.PDFPath, cfg.Offset), nil
	case cfg.ImageDir != "":
		return NewDirSource(cfg.ImageDir, cfg.Offset), nil
	case cfg.PDFPath != "":
		return NewPDFSource(cfg.PDFPath, cfg.Offset), nil
	default:
		return nil, ErrNoSource
	}
}

// PhysicalIndex 计算逻辑页码对应的物理索引
func PhysicalIndex(page, offset int) int {
	return page + offset
}

// mimeByExt 根据扩展名判断图片类型
func mimeByExt(name string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "tif", "tiff":
		return "image/tiff"
	case "bmp":
		return "image/bmp"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func sourceName(kind, path string) string {
	return fmt.Sprintf("%s:%s", kind, filepath.Base(path))
}

// sourceID 来源的唯一标识，两本书的目录同名时也不会冲突
func sourceID(kind, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return kind + ":" + abs
}
