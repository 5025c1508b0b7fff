// Package highlight 用正则表达式标记文本中的词头位置
package highlight

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Span 一次匹配在文本中的位置
// Start/End 为字节偏移，RuneStart/RuneEnd 为字符偏移，便于前端定位
type Span struct {
	Start     int    `json:"start"`
	End       int    `json:"end"`
	RuneStart int    `json:"rune_start"`
	RuneEnd   int    `json:"rune_end"`
	Text      string `json:"text"`
}

// ErrInvalidPattern 正则表达式无法编译
var ErrInvalidPattern = errors.New("invalid headword regex")

// Pattern 可选的词头正则
// 零值表示未配置，与"配置了但没有匹配"区分开
type Pattern struct {
	expr string
	re   *regexp.Regexp
}

// None 返回未配置的正则
func None() Pattern {
	return Pattern{}
}

// Compile 编译词头正则，空串视为未配置
// 按多行模式编译，^ 匹配每一行的行首
func Compile(expr string) (Pattern, error) {
	if strings.TrimSpace(expr) == "" {
		return None(), nil
	}
	re, err := regexp.Compile("(?m)" + expr)
	if err != nil {
		return None(), fmt.Errorf("%w %q: %v", ErrInvalidPattern, expr, err)
	}
	return Pattern{expr: expr, re: re}, nil
}

// MustCompile 编译失败时panic，仅用于测试和常量
func MustCompile(expr string) Pattern {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Configured 是否配置了正则
func (p Pattern) Configured() bool {
	return p.re != nil
}

// String 返回原始表达式
func (p Pattern) String() string {
	return p.expr
}

// Highlight 返回 pattern 在 text 中的所有匹配，按出现顺序排列
// 未配置正则时返回 nil，没有匹配时返回空切片
func Highlight(text string, p Pattern) []Span {
	if !p.Configured() {
		return nil
	}

	matches := p.re.FindAllStringIndex(text, -1)
	spans := make([]Span, 0, len(matches))
	runePos, bytePos := 0, 0
	for _, m := range matches {
		// 空匹配（例如 ^([a-z]*?)）不产生高亮
		if m[0] == m[1] {
			continue
		}
		runePos += utf8.RuneCountInString(text[bytePos:m[0]])
		runeStart := runePos
		runePos += utf8.RuneCountInString(text[m[0]:m[1]])
		bytePos = m[1]

		spans = append(spans, Span{
			Start:     m[0],
			End:       m[1],
			RuneStart: runeStart,
			RuneEnd:   runePos,
			Text:      text[m[0]:m[1]],
		})
	}
	return spans
}
