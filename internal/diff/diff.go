// Package diff 计算两侧文本的字符级差异，并在两侧之间换算光标位置
//
// 所有下标都以字符(rune)计，而不是字节
package diff

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// 操作类型
const (
	TagEqual   = "equal"
	TagReplace = "replace"
	TagDelete  = "delete"
	TagInsert  = "insert"
)

// OpCode 描述把左侧 [I1,I2) 变成右侧 [J1,J2) 的一步操作
type OpCode struct {
	Tag string `json:"tag"`
	I1  int    `json:"i1"`
	I2  int    `json:"i2"`
	J1  int    `json:"j1"`
	J2  int    `json:"j2"`
}

// Range 一段字符区间 [Start, End)
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

var tagNames = map[byte]string{
	'e': TagEqual,
	'r': TagReplace,
	'd': TagDelete,
	'i': TagInsert,
}

// Compare 计算 left 到 right 的字符级操作序列
// 关闭自动垃圾字符判定，长文本中的高频字符也参与匹配
func Compare(left, right string) []OpCode {
	a, b := splitRunes(left), splitRunes(right)
	matcher := difflib.NewMatcherWithJunk(a, b, false, nil)

	codes := matcher.GetOpCodes()
	ops := make([]OpCode, 0, len(codes))
	for _, c := range codes {
		ops = append(ops, OpCode{Tag: tagNames[c.Tag], I1: c.I1, I2: c.I2, J1: c.J1, J2: c.J2})
	}
	return ops
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// MapIndex 把一侧的字符下标换算到另一侧
// 落在相同区间时按偏移换算，落在差异区间时取对侧区间起点；找不到返回 -1
func MapIndex(ops []OpCode, idx int, fromLeft bool) int {
	for _, op := range ops {
		s1, s2, d1, d2 := op.J1, op.J2, op.I1, op.I2
		if fromLeft {
			s1, s2, d1, d2 = op.I1, op.I2, op.J1, op.J2
		}
		if idx < s1 || idx > s2 {
			continue
		}
		if op.Tag != TagEqual {
			return d1
		}
		mapped := d1 + (idx - s1)
		if mapped > d2 {
			mapped = d2
		}
		return mapped
	}
	return -1
}

// OpAt 返回包含下标 idx 的差异操作，区间两端都算在内
func OpAt(ops []OpCode, idx int, left bool) (OpCode, bool) {
	for _, op := range ops {
		if op.Tag == TagEqual {
			continue
		}
		start, end := op.J1, op.J2
		if left {
			start, end = op.I1, op.I2
		}
		if start <= idx && idx <= end {
			return op, true
		}
	}
	return OpCode{}, false
}

// Spans 返回一侧所有非空的差异区间，用于标红
func Spans(ops []OpCode, left bool) []Range {
	spans := make([]Range, 0)
	for _, op := range ops {
		if op.Tag == TagEqual {
			continue
		}
		r := Range{Start: op.J1, End: op.J2}
		if left {
			r = Range{Start: op.I1, End: op.I2}
		}
		if r.Start == r.End {
			continue
		}
		spans = append(spans, r)
	}
	return spans
}

// Apply 把 text 中 [start,end) 的字符替换为 replacement
func Apply(text string, start, end int, replacement string) (string, error) {
	runes := []rune(text)
	if start < 0 || end < start || end > len(runes) {
		return "", fmt.Errorf("range [%d,%d) outside text of length %d", start, end, len(runes))
	}
	return string(runes[:start]) + replacement + string(runes[end:]), nil
}

// Accept 用对侧对应的内容覆盖本侧的差异块，返回修改后的本侧文本
func Accept(left, right string, op OpCode, onLeft bool) (string, error) {
	if onLeft {
		other, err := slice(right, op.J1, op.J2)
		if err != nil {
			return "", err
		}
		return Apply(left, op.I1, op.I2, other)
	}
	other, err := slice(left, op.I1, op.I2)
	if err != nil {
		return "", err
	}
	return Apply(right, op.J1, op.J2, other)
}

// Push 把本侧差异块的内容推送到对侧，返回修改后的对侧文本
func Push(left, right string, op OpCode, fromLeft bool) (string, error) {
	return Accept(left, right, op, !fromLeft)
}

func slice(text string, start, end int) (string, error) {
	runes := []rune(text)
	if start < 0 || end < start || end > len(runes) {
		return "", fmt.Errorf("range [%d,%d) outside text of length %d", start, end, len(runes))
	}
	return string(runes[start:end]), nil
}
