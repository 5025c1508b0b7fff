package ocr

import (
	"context"
	"errors"
)

// 识别引擎名称
const (
	EngineRemote = "remote"
	EngineLocal  = "local"
)

// ErrLocalOCRDisabled 编译时未启用本地OCR
var ErrLocalOCRDisabled = errors.New("local ocr not enabled; rebuild with -tags tesseract")

// Engine OCR识别引擎
// Recognize 返回的字节是可以被 Parse 解析的JSON
type Engine interface {
	Name() string
	Recognize(ctx context.Context, image []byte) ([]byte, error)
}
