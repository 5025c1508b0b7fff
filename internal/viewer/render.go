package viewer

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/ocr-proofreader/internal/diff"
	"github.com/fyerfyer/ocr-proofreader/internal/highlight"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/ocr"
	"github.com/fyerfyer/ocr-proofreader/internal/pagesource"
	"github.com/sirupsen/logrus"
)

// PageView 一页的完整视图
type PageView struct {
	Page        int         `json:"page"`
	Start       int         `json:"start_page"`
	End         int         `json:"end_page"`
	Image       *ImageInfo  `json:"image,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"` // 图片不可用时的提示
	Left        string      `json:"left"`
	Right       string      `json:"right"`
	RightSource RightSource `json:"right_source"`
	OCR         *OCRView    `json:"ocr,omitempty"`
	Highlights  Highlights  `json:"highlights"`
	Diff        DiffView    `json:"diff"`
}

// ImageInfo 页面图片的元信息，图片字节通过单独的接口获取
type ImageInfo struct {
	PhysicalIndex int    `json:"physical_index"`
	MIME          string `json:"mime"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Origin        string `json:"origin"`
}

// OCRView 当前页的OCR叠加层
type OCRView struct {
	PhysicalIndex int             `json:"physical_index"`
	Items         []ocr.Item      `json:"items"`
	Lines         []ocr.CharRange `json:"lines"`
}

// Highlights 两侧的词头高亮，未配置正则的一侧为nil
type Highlights struct {
	Left  []highlight.Span `json:"left"`
	Right []highlight.Span `json:"right"`
}

// DiffView 两侧文本的字符级差异
type DiffView struct {
	Ops   []diff.OpCode `json:"ops"`
	Left  []diff.Range  `json:"left"`
	Right []diff.Range  `json:"right"`
}

// Location 光标位置在对侧和页面图片上的对应
type Location struct {
	Page        int         `json:"page"`
	Side        models.Side `json:"side"`
	Index       int         `json:"index"`
	Counterpart int         `json:"counterpart"` // 对侧下标，-1表示无法对应
	BBox        *ocr.Box    `json:"bbox,omitempty"`
	Line        int         `json:"line"` // OCR行号，-1表示没有
}

// snapshot 渲染时需要的状态副本
type snapshot struct {
	left        string
	right       string
	leftPat     highlight.Pattern
	rightPat    highlight.Pattern
	rightSource RightSource
}

func (v *Viewer) snapshot(page int) snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return snapshot{
		left:        v.texts[models.SideLeft].Get(page),
		right:       v.texts[models.SideRight].Get(page),
		leftPat:     v.patterns[models.SideLeft],
		rightPat:    v.patterns[models.SideRight],
		rightSource: v.rightSource,
	}
}

// Render 组装当前页的视图
func (v *Viewer) Render(ctx context.Context) *PageView {
	view, _ := v.RenderPage(ctx, v.Current())
	return view
}

// RenderPage 组装指定页的视图，不改变当前页
// 图片取不到时视图带提示信息而不是返回错误，只有页码越界时返回错误
func (v *Viewer) RenderPage(ctx context.Context, page int) (*PageView, error) {
	if err := v.checkRange(page); err != nil {
		return nil, err
	}

	snap := v.snapshot(page)
	view := &PageView{
		Page:        page,
		Start:       v.start,
		End:         v.end,
		Left:        snap.left,
		Right:       snap.right,
		RightSource: snap.rightSource,
	}

	img, err := v.Image(ctx, page)
	if err != nil {
		view.Placeholder = placeholder(page, err)
		v.logger.WithFields(logrus.Fields{
			"page":  page,
			"error": err.Error(),
		}).Debug("Page image unavailable")
	} else {
		view.Image = &ImageInfo{
			PhysicalIndex: img.PhysicalIndex,
			MIME:          img.MIME,
			Width:         img.Width,
			Height:        img.Height,
			Origin:        img.Origin,
		}
	}

	result, ok := v.loadOCR(ctx, page)
	if ok {
		view.OCR = &OCRView{
			PhysicalIndex: result.PhysicalIndex,
			Items:         result.Items,
			Lines:         result.CharMap(),
		}
	}
	if snap.rightSource == RightOCR {
		view.Right = result.FullText()
	}

	view.Highlights = Highlights{
		Left:  highlight.Highlight(view.Left, snap.leftPat),
		Right: highlight.Highlight(view.Right, snap.rightPat),
	}

	ops := diff.Compare(view.Left, view.Right)
	view.Diff = DiffView{
		Ops:   ops,
		Left:  diff.Spans(ops, true),
		Right: diff.Spans(ops, false),
	}

	return view, nil
}

// placeholder 生成图片不可用时显示的提示
func placeholder(page int, err error) string {
	var notFound *models.PageNotFoundError
	var renderErr *models.PageRenderError
	switch {
	case errors.As(err, &notFound):
		return fmt.Sprintf("No image for page %d (physical index %d)", page, notFound.PhysicalIndex)
	case errors.As(err, &renderErr):
		return fmt.Sprintf("Cannot render page %d from PDF: %s", page, renderErr.Reason)
	case errors.Is(err, pagesource.ErrNoSource):
		return "No image source configured"
	default:
		return fmt.Sprintf("Image unavailable for page %d: %v", page, err)
	}
}

// pageText 一页两侧实际显示的文本
type pageText struct {
	left        string
	right       string
	rightSource RightSource
	ocr         *ocr.Result
	hasOCR      bool
}

func (v *Viewer) pageTexts(ctx context.Context, page int) (*pageText, error) {
	if err := v.checkRange(page); err != nil {
		return nil, err
	}
	snap := v.snapshot(page)
	pt := &pageText{left: snap.left, right: snap.right, rightSource: snap.rightSource}
	pt.ocr, pt.hasOCR = v.loadOCR(ctx, page)
	if snap.rightSource == RightOCR {
		pt.right = pt.ocr.FullText()
	}
	return pt, nil
}

// Locate 把某侧文本中的字符下标对应到对侧下标和OCR包围盒
func (v *Viewer) Locate(ctx context.Context, page int, side models.Side, idx int) (*Location, error) {
	pt, err := v.pageTexts(ctx, page)
	if err != nil {
		return nil, err
	}

	fromLeft := side == models.SideLeft
	loc := &Location{
		Page:        page,
		Side:        side,
		Index:       idx,
		Counterpart: diff.MapIndex(diff.Compare(pt.left, pt.right), idx, fromLeft),
		Line:        -1,
	}

	result, ok := pt.ocr, pt.hasOCR
	if !ok {
		return loc, nil
	}

	// 先求出OCR全文中的下标
	ocrIdx := -1
	switch {
	case pt.rightSource == RightOCR && !fromLeft:
		ocrIdx = idx
	case pt.rightSource == RightOCR:
		ocrIdx = loc.Counterpart
	default:
		leftIdx := idx
		if !fromLeft {
			leftIdx = loc.Counterpart
		}
		if leftIdx >= 0 {
			ocrOps := diff.Compare(pt.left, result.FullText())
			ocrIdx = diff.MapIndex(ocrOps, leftIdx, true)
		}
	}

	if box, line, found := result.BoxAt(ocrIdx); found {
		loc.BBox = &box
		loc.Line = line
	}
	return loc, nil
}

// Patch 对光标所在的差异块执行接受或推送
// push为false时用对侧内容覆盖本侧，为true时把本侧内容推到对侧；返回修改后的视图
func (v *Viewer) Patch(ctx context.Context, page int, side models.Side, idx int, push bool) (*PageView, error) {
	pt, err := v.pageTexts(ctx, page)
	if err != nil {
		return nil, err
	}

	onLeft := side == models.SideLeft
	op, ok := diff.OpAt(diff.Compare(pt.left, pt.right), idx, onLeft)
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrNoDiff, idx)
	}

	target := side
	var text string
	if push {
		target = side.Other()
		text, err = diff.Push(pt.left, pt.right, op, onLeft)
	} else {
		text, err = diff.Accept(pt.left, pt.right, op, onLeft)
	}
	if err != nil {
		return nil, err
	}

	if err := v.SetText(target, page, text); err != nil {
		return nil, err
	}
	return v.RenderPage(ctx, page)
}
