package pagesource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/fyerfyer/ocr-proofreader/internal/cache"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
)

// 候选文件名前缀和扩展名，按顺序尝试
var (
	namePatterns = []string{"page_%d", "%d"}
	imageExts    = []string{".jpg", ".png", ".jpeg", ".tif", ".tiff", ".bmp", ".webp"}
)

// DirSource 从图片目录读取页面
type DirSource struct {
	dir    string
	id     string
	offset int
}

// NewDirSource 创建目录来源
func NewDirSource(dir string, offset int) *DirSource {
	return &DirSource{dir: dir, id: sourceID("dir", dir), offset: offset}
}

// Name 来源名称
func (s *DirSource) Name() string {
	return sourceName("dir", s.dir)
}

// Key 页面的缓存键
func (s *DirSource) Key(page int) string {
	return cache.PageKey(s.id, PhysicalIndex(page, s.offset))
}

// Candidates 返回物理索引对应的候选文件名
func Candidates(physical int) []string {
	names := make([]string, 0, len(namePatterns)*len(imageExts))
	for _, pattern := range namePatterns {
		base := fmt.Sprintf(pattern, physical)
		for _, ext := range imageExts {
			names = append(names, base+ext)
		}
	}
	return names
}

// Resolve 按 page_<idx> 再 <idx> 的顺序查找图片文件
func (s *DirSource) Resolve(ctx context.Context, page int) (*Image, error) {
	physical := PhysicalIndex(page, s.offset)

	for _, name := range Candidates(physical) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read page image %s: %w", path, err)
		}

		img := &Image{
			Page:          page,
			PhysicalIndex: physical,
			Data:          data,
			MIME:          mimeByExt(name),
			Origin:        path,
		}
		// 尺寸只用于展示，解码失败不影响返回
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			img.Width, img.Height = cfg.Width, cfg.Height
		}
		return img, nil
	}

	return nil, &models.PageNotFoundError{Page: page, PhysicalIndex: physical, Dir: s.dir}
}
