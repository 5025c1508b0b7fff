package pagetext

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fyerfyer/ocr-proofreader/internal/models"
)

// LoadFile 读取文本文件并切分
func LoadFile(path string, config SplitterConfig) (PageText, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrTextNotFound, path)
		}
		return nil, fmt.Errorf("failed to read text file: %w", err)
	}

	if config.Source == "" {
		config.Source = path
	}
	return NewSplitter(config).Split(string(content))
}

// Format 按页码顺序输出为分页文本
// 使用独占一行的 <N> 标记，可以被 Split 原样读回
func Format(pages PageText) string {
	var b strings.Builder
	for _, page := range pages.Pages() {
		b.WriteString("<")
		b.WriteString(strconv.Itoa(page))
		b.WriteString(">\n")
		b.WriteString(pages[page])
		b.WriteString("\n")
	}
	return b.String()
}

// WriteFile 将分页文本写回文件
// 先写临时文件再重命名，避免写到一半时原文件被截断
func WriteFile(path string, pages PageText) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(Format(pages)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write pages: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
