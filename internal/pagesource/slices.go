package pagesource

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/fyerfyer/ocr-proofreader/pkg/storage"
)

// ExportSlices 按OCR文本行的包围盒裁出小图，保存为 <prefix><页码>_<序号>.jpg
// 与图片无交集的包围盒跳过，序号仍按包围盒在列表中的位置计算
func ExportSlices(ctx context.Context, img *Image, boxes []image.Rectangle, store storage.Storage, prefix string) ([]string, error) {
	if len(boxes) == 0 {
		return nil, nil
	}

	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode page image: %w", err)
	}
	bounds := src.Bounds()

	keys := make([]string, 0, len(boxes))
	for i, box := range boxes {
		if err := ctx.Err(); err != nil {
			return keys, err
		}

		rect := box.Canon().Intersect(bounds)
		if rect.Empty() {
			continue
		}

		var buf bytes.Buffer
		crop := imaging.Crop(src, rect)
		if err := imaging.Encode(&buf, crop, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
			return keys, fmt.Errorf("failed to encode slice %d: %w", i, err)
		}

		key := fmt.Sprintf("%s%d_%d.jpg", prefix, img.Page, i)
		if _, err := store.Put(ctx, key, &buf, int64(buf.Len())); err != nil {
			return keys, fmt.Errorf("failed to store slice %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	return keys, nil
}
