// Package pagetext 按页码标记把校对文本切分为逐页内容
package pagetext

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fyerfyer/ocr-proofreader/internal/models"
)

// MarkerToken 文本中表示新页开始的标记，紧跟页码数字
const MarkerToken = "<页码>"

// markerPattern 同时识别两种页码标记：
//   - 行内形式 <页码>12
//   - 独占一行的形式 <12>（导出工具写回的格式）
var markerPattern = regexp.MustCompile(`(?m)<页码>(\d*)|^[ \t]*<(\d+)>[ \t]*$`)

// LeadingPolicy 第一个页码标记之前文本的处理策略
type LeadingPolicy string

const (
	// LeadingDiscard 丢弃首个标记之前的文本
	LeadingDiscard LeadingPolicy = "discard"
	// LeadingToStart 将首个标记之前的文本归入起始页
	LeadingToStart LeadingPolicy = "start"
)

// SplitterConfig 分页器配置
type SplitterConfig struct {
	Leading   LeadingPolicy // 首个标记之前文本的处理方式
	StartPage int           // Leading 为 LeadingToStart 时使用的页码
	Source    string        // 来源文件，仅用于错误信息
}

// DefaultSplitterConfig 返回默认分页器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		Leading:   LeadingDiscard,
		StartPage: 1,
	}
}

// PageText 逻辑页码到该页文本的映射
type PageText map[int]string

// Get 返回某页文本，缺失的页返回空串
func (p PageText) Get(page int) string {
	return p[page]
}

// Pages 返回排好序的页码
func (p PageText) Pages() []int {
	pages := make([]int, 0, len(p))
	for page := range p {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages
}

// Clone 复制一份映射
func (p PageText) Clone() PageText {
	out := make(PageText, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Splitter 页码标记分页器
type Splitter struct {
	config SplitterConfig
}

// NewSplitter 创建分页器
func NewSplitter(config SplitterConfig) *Splitter {
	if config.Leading == "" {
		config.Leading = LeadingDiscard
	}
	return &Splitter{config: config}
}

// Split 使用默认配置切分文本
func Split(text string) (PageText, error) {
	return NewSplitter(DefaultSplitterConfig()).Split(text)
}

type marker struct {
	page       int
	start, end int // 标记本身在文本中的字节区间
}

// Split 将文本切分为逐页内容
// 页码为标记中的逻辑页码，不做偏移换算
func (s *Splitter) Split(text string) (PageText, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")

	markers, err := s.findMarkers(text)
	if err != nil {
		return nil, err
	}

	pages := make(PageText)
	if len(markers) == 0 {
		s.attachLeading(pages, text)
		return pages, nil
	}

	s.attachLeading(pages, text[:markers[0].start])

	for i, m := range markers {
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1].start
		}
		content := strings.TrimSpace(text[m.end:end])
		if prev, ok := pages[m.page]; ok && prev != "" {
			// 同一页码重复出现时内容按顺序拼接
			if content != "" {
				pages[m.page] = prev + "\n" + content
			}
			continue
		}
		pages[m.page] = content
	}

	return pages, nil
}

func (s *Splitter) findMarkers(text string) ([]marker, error) {
	locs := markerPattern.FindAllStringSubmatchIndex(text, -1)
	markers := make([]marker, 0, len(locs))
	for _, loc := range locs {
		var digits string
		start, end := loc[0], loc[1]
		if loc[2] >= 0 {
			// 行内形式，数字为空时同样视为格式错误
			digits = text[loc[2]:loc[3]]
		} else {
			digits = text[loc[4]:loc[5]]
		}

		page, err := strconv.Atoi(digits)
		if err != nil {
			return nil, &models.MalformedTextError{
				Source: s.config.Source,
				Marker: text[start:end],
				Offset: start,
				Err:    err,
			}
		}
		markers = append(markers, marker{page: page, start: start, end: end})
	}
	return markers, nil
}

func (s *Splitter) attachLeading(pages PageText, leading string) {
	leading = strings.TrimSpace(leading)
	if leading == "" || s.config.Leading != LeadingToStart {
		return
	}
	pages[s.config.StartPage] = leading
}
