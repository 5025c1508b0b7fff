//go:build !tesseract

package ocr

import "context"

// TesseractEngine 未启用本地OCR时的占位实现
type TesseractEngine struct{}

// NewTesseractEngine 返回 ErrLocalOCRDisabled
func NewTesseractEngine(languages ...string) (*TesseractEngine, error) {
	return nil, ErrLocalOCRDisabled
}

// Name 引擎名称
func (e *TesseractEngine) Name() string {
	return EngineLocal
}

// Recognize 返回 ErrLocalOCRDisabled
func (e *TesseractEngine) Recognize(ctx context.Context, image []byte) ([]byte, error) {
	return nil, ErrLocalOCRDisabled
}
