// Package viewer 维护逐页对照浏览的状态，并把一页的图片、两侧文本、OCR结果、
// 词头高亮和差异区间组装成页面视图
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyerfyer/ocr-proofreader/internal/highlight"
	"github.com/fyerfyer/ocr-proofreader/internal/metrics"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/ocr"
	"github.com/fyerfyer/ocr-proofreader/internal/pagesource"
	"github.com/fyerfyer/ocr-proofreader/internal/pagetext"
	"github.com/sirupsen/logrus"
)

// RightSource 右侧窗格的内容来源
type RightSource string

const (
	// RightText 右侧显示第二份文本
	RightText RightSource = "text"
	// RightOCR 右侧显示当前页OCR全文
	RightOCR RightSource = "ocr"
)

// ParseRightSource 解析右侧来源名称
func ParseRightSource(s string) (RightSource, error) {
	switch RightSource(s) {
	case RightText, RightOCR:
		return RightSource(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRightSource, s)
	}
}

var (
	// ErrInvalidRightSource 未知的右侧来源
	ErrInvalidRightSource = errors.New("invalid right source")

	// ErrOCRReadOnly OCR模式下右侧文本不可编辑
	ErrOCRReadOnly = errors.New("right pane shows ocr text and is read-only")

	// ErrInvalidRange 起始页大于结束页
	ErrInvalidRange = errors.New("start page greater than end page")

	// ErrNoDiff 光标位置没有差异块
	ErrNoDiff = errors.New("no difference at position")
)

// OCRProvider 按逻辑页提供OCR结果，*ocr.Store 实现了该接口
type OCRProvider interface {
	Get(ctx context.Context, page int) (*ocr.Result, bool)
}

// Viewer 对照浏览器
// 当前页始终位于 [start, end] 内，所有方法可以并发调用
type Viewer struct {
	mu          sync.RWMutex
	start       int
	end         int
	current     int
	texts       map[models.Side]pagetext.PageText
	patterns    map[models.Side]highlight.Pattern
	rightSource RightSource

	source  pagesource.Source // 可以为nil
	ocr     OCRProvider       // 可以为nil
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// Option 浏览器配置选项
type Option func(*Viewer)

// WithSource 设置页面图片来源
func WithSource(source pagesource.Source) Option {
	return func(v *Viewer) {
		v.source = source
	}
}

// WithOCR 设置OCR结果来源
func WithOCR(provider OCRProvider) Option {
	return func(v *Viewer) {
		v.ocr = provider
	}
}

// WithTexts 设置两侧的初始文本
func WithTexts(left, right pagetext.PageText) Option {
	return func(v *Viewer) {
		v.texts[models.SideLeft] = left.Clone()
		v.texts[models.SideRight] = right.Clone()
	}
}

// WithPatterns 设置两侧的词头正则
func WithPatterns(left, right highlight.Pattern) Option {
	return func(v *Viewer) {
		v.patterns[models.SideLeft] = left
		v.patterns[models.SideRight] = right
	}
}

// WithRightSource 设置右侧来源
func WithRightSource(src RightSource) Option {
	return func(v *Viewer) {
		v.rightSource = src
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Viewer) {
		v.metrics = m
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(v *Viewer) {
		v.logger = logger
	}
}

// New 创建浏览器，当前页为起始页
func New(start, end int, opts ...Option) (*Viewer, error) {
	if start > end {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}

	v := &Viewer{
		start:   start,
		end:     end,
		current: start,
		texts: map[models.Side]pagetext.PageText{
			models.SideLeft:  {},
			models.SideRight: {},
		},
		patterns: map[models.Side]highlight.Pattern{
			models.SideLeft:  highlight.None(),
			models.SideRight: highlight.None(),
		},
		rightSource: RightText,
		logger:      logrus.New(),
	}

	for _, opt := range opts {
		opt(v)
	}

	v.metrics.SetCurrentPage(v.current)
	return v, nil
}

// Range 返回可浏览的页码范围
func (v *Viewer) Range() (int, int) {
	return v.start, v.end
}

// Current 返回当前页
func (v *Viewer) Current() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Next 前进一页，已在最后一页时不变
func (v *Viewer) Next() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current < v.end {
		v.current++
	}
	v.metrics.SetCurrentPage(v.current)
	return v.current
}

// Previous 后退一页，已在第一页时不变
func (v *Viewer) Previous() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current > v.start {
		v.current--
	}
	v.metrics.SetCurrentPage(v.current)
	return v.current
}

// Jump 跳转到指定页，超出范围时返回 *models.OutOfRangeError 且当前页不变
func (v *Viewer) Jump(page int) error {
	if err := v.checkRange(page); err != nil {
		return err
	}
	v.mu.Lock()
	v.current = page
	v.mu.Unlock()
	v.metrics.SetCurrentPage(page)
	return nil
}

func (v *Viewer) checkRange(page int) error {
	if page < v.start || page > v.end {
		return &models.OutOfRangeError{Page: page, Start: v.start, End: v.end}
	}
	return nil
}

// Text 返回某侧某页的文本，OCR模式下右侧为OCR全文
func (v *Viewer) Text(ctx context.Context, side models.Side, page int) string {
	v.mu.RLock()
	src := v.rightSource
	text := v.texts[side].Get(page)
	v.mu.RUnlock()

	if side == models.SideRight && src == RightOCR {
		result, _ := v.loadOCR(ctx, page)
		return result.FullText()
	}
	return text
}

// SetText 修改某侧某页的文本，只保存在内存中
func (v *Viewer) SetText(side models.Side, page int, text string) error {
	if err := v.checkRange(page); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if side == models.SideRight && v.rightSource == RightOCR {
		return ErrOCRReadOnly
	}
	pages, ok := v.texts[side]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrInvalidSide, side)
	}
	pages[page] = text
	return nil
}

// SetTexts 整体替换某侧文本，例如文件在磁盘上被修改后重新加载
func (v *Viewer) SetTexts(side models.Side, pages pagetext.PageText) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.texts[side] = pages.Clone()
}

// Texts 返回某侧文本的副本
func (v *Viewer) Texts(side models.Side) pagetext.PageText {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.texts[side].Clone()
}

// SetPatterns 运行时修改词头正则
func (v *Viewer) SetPatterns(left, right highlight.Pattern) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.patterns[models.SideLeft] = left
	v.patterns[models.SideRight] = right
}

// Patterns 返回两侧的词头正则
func (v *Viewer) Patterns() (highlight.Pattern, highlight.Pattern) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.patterns[models.SideLeft], v.patterns[models.SideRight]
}

// SetRightSource 切换右侧来源
func (v *Viewer) SetRightSource(src RightSource) error {
	if _, err := ParseRightSource(string(src)); err != nil {
		return err
	}
	v.mu.Lock()
	v.rightSource = src
	v.mu.Unlock()
	return nil
}

// RightSource 返回右侧来源
func (v *Viewer) RightSource() RightSource {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rightSource
}

// Image 取某页的图片，没有配置图片来源时返回 pagesource.ErrNoSource
func (v *Viewer) Image(ctx context.Context, page int) (*pagesource.Image, error) {
	if err := v.checkRange(page); err != nil {
		return nil, err
	}
	if v.source == nil {
		return nil, pagesource.ErrNoSource
	}
	return v.source.Resolve(ctx, page)
}

// OCR 取某页的OCR结果
func (v *Viewer) OCR(ctx context.Context, page int) (*ocr.Result, bool) {
	return v.loadOCR(ctx, page)
}

func (v *Viewer) loadOCR(ctx context.Context, page int) (*ocr.Result, bool) {
	if v.ocr == nil {
		return nil, false
	}
	return v.ocr.Get(ctx, page)
}
