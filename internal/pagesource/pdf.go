package pagesource

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fyerfyer/ocr-proofreader/internal/cache"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFSource 从扫描PDF中取出页面图片
// 扫描版每页通常只有一张整页图片，取面积最大的一张
type PDFSource struct {
	path   string
	id     string
	offset int
	conf   *model.Configuration

	mu        sync.Mutex // 保护 pageCount，同一时间只读取一次PDF
	pageCount int
}

// NewPDFSource 创建PDF来源
func NewPDFSource(path string, offset int) *PDFSource {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFSource{path: path, id: sourceID("pdf", path), offset: offset, conf: conf}
}

// Name 来源名称
func (s *PDFSource) Name() string {
	return sourceName("pdf", s.path)
}

// Key 页面的缓存键
func (s *PDFSource) Key(page int) string {
	return cache.PageKey(s.id, PhysicalIndex(page, s.offset))
}

// Resolve 取出第 physical 页（从1开始）的图片
func (s *PDFSource) Resolve(ctx context.Context, page int) (*Image, error) {
	physical := PhysicalIndex(page, s.offset)
	renderErr := func(reason string, err error) error {
		return &models.PageRenderError{Page: page, PhysicalIndex: physical, Reason: reason, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, renderErr("open pdf", err)
	}
	defer f.Close()

	if s.pageCount == 0 {
		n, err := api.PageCount(f, s.conf)
		if err != nil {
			return nil, renderErr("read pdf", err)
		}
		s.pageCount = n
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, renderErr("read pdf", err)
		}
	}
	if physical < 1 || physical > s.pageCount {
		return nil, renderErr(fmt.Sprintf("page index outside 1..%d", s.pageCount), nil)
	}

	pages, err := api.ExtractImagesRaw(f, []string{strconv.Itoa(physical)}, s.conf)
	if err != nil {
		return nil, renderErr("extract images", err)
	}

	var best *model.Image
	for _, images := range pages {
		for objNr := range images {
			img := images[objNr]
			if best == nil || img.Width*img.Height > best.Width*best.Height {
				best = &img
			}
		}
	}
	if best == nil {
		return nil, renderErr("page has no raster image", nil)
	}

	data, err := io.ReadAll(best)
	if err != nil {
		return nil, renderErr("read image stream", err)
	}

	out := &Image{
		Page:          page,
		PhysicalIndex: physical,
		Data:          data,
		MIME:          mimeByExt("x." + best.FileType),
		Width:         best.Width,
		Height:        best.Height,
		Origin:        fmt.Sprintf("%s#%d", s.path, physical),
	}

	// 浏览器不支持TIFF，统一转成PNG
	if out.MIME == "image/tiff" {
		if err := toPNG(out); err != nil {
			return nil, renderErr("convert tiff", err)
		}
	}
	return out, nil
}

func toPNG(img *Image) error {
	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, decoded, imaging.PNG); err != nil {
		return err
	}
	img.Data = buf.Bytes()
	img.MIME = "image/png"
	img.Width, img.Height = decoded.Bounds().Dx(), decoded.Bounds().Dy()
	return nil
}
