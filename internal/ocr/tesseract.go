//go:build tesseract

package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine 基于Tesseract的本地识别引擎
// 需要系统安装 tesseract 及对应语言包，并以 -tags tesseract 编译
type TesseractEngine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine 创建本地识别引擎
func NewTesseractEngine(languages ...string) (*TesseractEngine, error) {
	return &TesseractEngine{languages: languages, clientFactory: gosseract.NewClient}, nil
}

// Name 引擎名称
func (e *TesseractEngine) Name() string {
	return EngineLocal
}

// Recognize 按文本行识别，输出字典列表形式的JSON
func (e *TesseractEngine) Recognize(ctx context.Context, image []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := e.clientFactory()
	defer client.Close()

	if len(e.languages) > 0 {
		if err := client.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	items := make([]Item, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		items = append(items, Item{
			Text: text,
			BBox: Box{
				float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Max.X), float64(b.Box.Max.Y),
			},
			Confidence: b.Confidence / 100,
		})
	}
	return json.Marshal(items)
}
