package handler

import (
	_ "embed"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

//go:embed usage.md
var usageMarkdown []byte

// HelpHandler 渲染使用说明页
type HelpHandler struct {
	once sync.Once
	page []byte
}

// NewHelpHandler 创建帮助页处理器
func NewHelpHandler() *HelpHandler {
	return &HelpHandler{}
}

// render 把内嵌的Markdown转换为完整的HTML页面
func (h *HelpHandler) render() []byte {
	h.once.Do(func() {
		extensions := parser.CommonExtensions | parser.AutoHeadingIDs
		doc := parser.NewWithExtensions(extensions).Parse(usageMarkdown)

		renderer := html.NewRenderer(html.RendererOptions{
			Flags: html.CommonFlags | html.CompletePage | html.HrefTargetBlank,
			Title: "OCR Proofreader",
		})
		h.page = markdown.Render(doc, renderer)
	})
	return h.page
}

// Help 返回使用说明
// GET /help
func (h *HelpHandler) Help(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", h.render())
}

// Markdown 返回原始Markdown
// GET /help.md
func (h *HelpHandler) Markdown(c *gin.Context) {
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", usageMarkdown)
}
