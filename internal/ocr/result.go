package ocr

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"unicode/utf8"
)

// ErrUnknownFormat OCR JSON 不是可识别的结构
var ErrUnknownFormat = errors.New("unrecognized ocr json format")

// Box 文本行包围盒 [x1, y1, x2, y2]
type Box [4]float64

// Rect 转换为整数坐标的矩形
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b[0])), int(math.Floor(b[1])),
		int(math.Ceil(b[2])), int(math.Ceil(b[3])),
	)
}

// Item 一个识别出的文本行或文本块
type Item struct {
	Text       string  `json:"text"`
	BBox       Box     `json:"bbox"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Result 一页的OCR结果
type Result struct {
	Page          int    `json:"page"`
	PhysicalIndex int    `json:"physical_index"`
	Items         []Item `json:"items"`
}

// CharRange 全文中一行文字的字符区间 [Start, End)，不含行尾换行
type CharRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Line  int `json:"line"`
	BBox  Box `json:"bbox"`
}

// FullText 按顺序拼接所有文本，每项后跟一个换行
func (r *Result) FullText() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, item := range r.Items {
		sb.WriteString(item.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// CharMap 返回全文中每一行对应的字符区间
func (r *Result) CharMap() []CharRange {
	if r == nil {
		return nil
	}
	ranges := make([]CharRange, 0, len(r.Items))
	idx := 0
	for i, item := range r.Items {
		n := utf8.RuneCountInString(item.Text)
		ranges = append(ranges, CharRange{Start: idx, End: idx + n, Line: i, BBox: item.BBox})
		idx += n + 1
	}
	return ranges
}

// BoxAt 查找全文字符下标所在行的包围盒，行尾换行归属于该行
func (r *Result) BoxAt(idx int) (Box, int, bool) {
	if idx < 0 {
		return Box{}, -1, false
	}
	for _, cr := range r.CharMap() {
		if cr.Start <= idx && idx <= cr.End {
			return cr.BBox, cr.Line, true
		}
	}
	return Box{}, -1, false
}

// Boxes 返回所有包围盒，顺序与文本行一致
func (r *Result) Boxes() []image.Rectangle {
	if r == nil {
		return nil
	}
	rects := make([]image.Rectangle, len(r.Items))
	for i, item := range r.Items {
		rects[i] = item.BBox.Rect()
	}
	return rects
}

// Parse 解析PaddleOCR输出
// 支持三种结构：
//   - 列表形式 [[points], [text, confidence]]
//   - 字典列表 [{"text": ..., "bbox": [x1,y1,x2,y2]}]
//   - 版面解析结果 {"layoutParsingResults": [{"prunedResult": {"parsing_res_list": [...]}}]}，可外包一层 fullContent
func Parse(data []byte) ([]Item, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid ocr json: %w", err)
	}

	switch v := raw.(type) {
	case []interface{}:
		return parseList(v)
	case map[string]interface{}:
		return parseLayout(v)
	default:
		return nil, ErrUnknownFormat
	}
}

func parseList(list []interface{}) ([]Item, error) {
	items := make([]Item, 0, len(list))
	for i, entry := range list {
		var (
			item Item
			err  error
		)
		switch v := entry.(type) {
		case map[string]interface{}:
			item, err = parseDictItem(v)
		case []interface{}:
			item, err = parsePairItem(v)
		default:
			err = ErrUnknownFormat
		}
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// parseDictItem 解析 {"text": ..., "bbox": ...}
func parseDictItem(m map[string]interface{}) (Item, error) {
	text, _ := m["text"].(string)
	box, err := parseBox(m["bbox"])
	if err != nil {
		return Item{}, err
	}
	item := Item{Text: text, BBox: box}
	if conf, ok := m["confidence"].(float64); ok {
		item.Confidence = conf
	}
	return item, nil
}

// parsePairItem 解析 [points, [text, confidence]]
func parsePairItem(pair []interface{}) (Item, error) {
	if len(pair) != 2 {
		return Item{}, fmt.Errorf("%w: expected [points, [text, confidence]]", ErrUnknownFormat)
	}
	box, err := parseBox(pair[0])
	if err != nil {
		return Item{}, err
	}
	rec, ok := pair[1].([]interface{})
	if !ok || len(rec) == 0 {
		return Item{}, fmt.Errorf("%w: missing recognition", ErrUnknownFormat)
	}
	text, ok := rec[0].(string)
	if !ok {
		return Item{}, fmt.Errorf("%w: text is not a string", ErrUnknownFormat)
	}
	item := Item{Text: text, BBox: box}
	if len(rec) > 1 {
		item.Confidence, _ = rec[1].(float64)
	}
	return item, nil
}

// parseBox 接受 [x1,y1,x2,y2] 或多边形顶点 [[x,y], ...]
func parseBox(v interface{}) (Box, error) {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return Box{}, fmt.Errorf("%w: missing bbox", ErrUnknownFormat)
	}

	if _, isPoint := list[0].([]interface{}); isPoint {
		box := Box{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
		for _, p := range list {
			pt, ok := p.([]interface{})
			if !ok || len(pt) < 2 {
				return Box{}, fmt.Errorf("%w: bad polygon point", ErrUnknownFormat)
			}
			x, okX := pt[0].(float64)
			y, okY := pt[1].(float64)
			if !okX || !okY {
				return Box{}, fmt.Errorf("%w: bad polygon point", ErrUnknownFormat)
			}
			box[0], box[1] = math.Min(box[0], x), math.Min(box[1], y)
			box[2], box[3] = math.Max(box[2], x), math.Max(box[3], y)
		}
		return box, nil
	}

	if len(list) != 4 {
		return Box{}, fmt.Errorf("%w: bbox needs 4 numbers", ErrUnknownFormat)
	}
	var box Box
	for i, n := range list {
		f, ok := n.(float64)
		if !ok {
			return Box{}, fmt.Errorf("%w: bbox value is not a number", ErrUnknownFormat)
		}
		box[i] = f
	}
	return box, nil
}

// parseLayout 解析版面解析结果，只保留正文和竖排正文块
func parseLayout(m map[string]interface{}) ([]Item, error) {
	if inner, ok := m["fullContent"].(map[string]interface{}); ok {
		m = inner
	}
	if results, ok := m["layoutParsingResults"].([]interface{}); ok {
		if len(results) == 0 {
			return []Item{}, nil
		}
		first, ok := results[0].(map[string]interface{})
		if !ok {
			return nil, ErrUnknownFormat
		}
		m = first
	}

	pruned, ok := m["prunedResult"].(map[string]interface{})
	if !ok {
		return nil, ErrUnknownFormat
	}
	blocks, _ := pruned["parsing_res_list"].([]interface{})

	items := make([]Item, 0, len(blocks))
	for _, b := range blocks {
		block, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		label, _ := block["block_label"].(string)
		if label != "text" && label != "vertical_text" {
			continue
		}
		box, err := parseBox(block["block_bbox"])
		if err != nil {
			return nil, err
		}
		text, _ := block["block_content"].(string)
		items = append(items, Item{Text: text, BBox: box})
	}
	return items, nil
}
