package models

import (
	"errors"
	"fmt"
)

var (
	// ErrPageNotFound 页面图片资源不存在
	ErrPageNotFound = errors.New("page not found")

	// ErrPageRender PDF页面渲染失败
	ErrPageRender = errors.New("page render failed")

	// ErrOutOfRange 页码超出可浏览范围
	ErrOutOfRange = errors.New("page out of range")

	// ErrMalformedText 文本页码标记无法解析
	ErrMalformedText = errors.New("malformed page text")

	// ErrTextNotFound 文本文件不存在
	ErrTextNotFound = errors.New("text file not found")

	// ErrInvalidSide 无效的文本侧
	ErrInvalidSide = errors.New("invalid side")

	// ErrOCRDisabled 未配置OCR接口
	ErrOCRDisabled = errors.New("ocr api not configured")

	// ErrEditNotFound 没有该页的修改记录
	ErrEditNotFound = errors.New("page edit not found")

	// ErrSessionNotFound 没有保存过的会话
	ErrSessionNotFound = errors.New("session not found")

	// ErrJobNotFound OCR任务不存在
	ErrJobNotFound = errors.New("ocr job not found")

	// ErrOCRResultNotFound 该页没有可用的OCR结果
	ErrOCRResultNotFound = errors.New("no ocr result for page")

	// ErrUnknownEngine 未知或未启用的OCR引擎
	ErrUnknownEngine = errors.New("unknown ocr engine")
)

// PageNotFoundError 目录中找不到物理页对应的图片
type PageNotFoundError struct {
	Page          int    // 逻辑页码
	PhysicalIndex int    // 物理索引
	Dir           string // 查找的目录
}

func (e *PageNotFoundError) Error() string {
	return fmt.Sprintf("page %d (physical %d) not found in %s", e.Page, e.PhysicalIndex, e.Dir)
}

// Is 支持 errors.Is(err, ErrPageNotFound)
func (e *PageNotFoundError) Is(target error) bool { return target == ErrPageNotFound }

// PageRenderError PDF页面无法转换为图片
type PageRenderError struct {
	Page          int
	PhysicalIndex int
	Reason        string
	Err           error
}

func (e *PageRenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render page %d (physical %d): %s: %v", e.Page, e.PhysicalIndex, e.Reason, e.Err)
	}
	return fmt.Sprintf("render page %d (physical %d): %s", e.Page, e.PhysicalIndex, e.Reason)
}

func (e *PageRenderError) Is(target error) bool { return target == ErrPageRender }

func (e *PageRenderError) Unwrap() error { return e.Err }

// OutOfRangeError 跳转页码不在 [Start, End] 内
type OutOfRangeError struct {
	Page  int
	Start int
	End   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("page %d outside range [%d, %d]", e.Page, e.Start, e.End)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// MalformedTextError 存在页码标记但页码不是合法整数
type MalformedTextError struct {
	Source string // 文件路径，可为空
	Marker string // 出错的标记原文
	Offset int    // 标记在文本中的字节偏移
	Err    error
}

func (e *MalformedTextError) Error() string {
	src := e.Source
	if src == "" {
		src = "<text>"
	}
	return fmt.Sprintf("%s: bad page marker %q at byte %d: %v", src, e.Marker, e.Offset, e.Err)
}

func (e *MalformedTextError) Is(target error) bool { return target == ErrMalformedText }

func (e *MalformedTextError) Unwrap() error { return e.Err }
