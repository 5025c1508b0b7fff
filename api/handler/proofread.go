package handler

import (
	"net/http"
	"strconv"

	"github.com/fyerfyer/ocr-proofreader/api/middleware"
	"github.com/fyerfyer/ocr-proofreader/api/model"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ProofreadHandler 处理逐页浏览和文本编辑的API请求
type ProofreadHandler struct {
	service *services.ProofreadService // 校对服务
	logger  *logrus.Logger             // 日志记录器
}

// NewProofreadHandler 创建新的校对处理器
func NewProofreadHandler(service *services.ProofreadService) *ProofreadHandler {
	return &ProofreadHandler{
		service: service,
		logger:  middleware.GetLogger(),
	}
}

// bindPage 解析路径中的页码
func bindPage(c *gin.Context) (int, bool) {
	var uri model.PageURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid page number", err.Error()))
		return 0, false
	}
	return uri.Page, true
}

// bindSide 解析路径中的文本侧
func bindSide(c *gin.Context) (models.Side, bool) {
	var uri model.SideURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("side must be left or right", err.Error()))
		return "", false
	}
	return models.Side(uri.Side), true
}

// bindJSON 解析请求体
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid request body", err.Error()))
		return false
	}
	return true
}

// GetView 获取当前页视图
// GET /api/view
func (h *ProofreadHandler) GetView(c *gin.Context) {
	c.JSON(http.StatusOK, model.NewSuccessResponse(h.service.View(c.Request.Context())))
}

// Next 前进一页
// POST /api/view/next
func (h *ProofreadHandler) Next(c *gin.Context) {
	c.JSON(http.StatusOK, model.NewSuccessResponse(h.service.Next(c.Request.Context())))
}

// Previous 后退一页
// POST /api/view/previous
func (h *ProofreadHandler) Previous(c *gin.Context) {
	c.JSON(http.StatusOK, model.NewSuccessResponse(h.service.Previous(c.Request.Context())))
}

// Jump 跳转到指定页
// POST /api/view/jump
func (h *ProofreadHandler) Jump(c *gin.Context) {
	var req model.JumpRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.service.Jump(c.Request.Context(), *req.Page)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(view))
}

// GetPage 获取指定页视图，不改变当前页
// GET /api/pages/:page
func (h *ProofreadHandler) GetPage(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	view, err := h.service.Page(c.Request.Context(), page)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(view))
}

// GetImage 返回页面图片的原始字节
// GET /api/pages/:page/image
func (h *ProofreadHandler) GetImage(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	img, err := h.service.Viewer().Image(c.Request.Context(), page)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.Header("X-Physical-Index", strconv.Itoa(img.PhysicalIndex))
	c.Header("Cache-Control", "private, max-age=60")
	c.Data(http.StatusOK, img.MIME, img.Data)
}

// GetDiff 获取某页两侧的差异
// GET /api/pages/:page/diff
func (h *ProofreadHandler) GetDiff(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	view, err := h.service.Page(c.Request.Context(), page)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DiffResponse{Page: page, Diff: view.Diff}))
}

// UpdateText 修改某页某侧的文本
// PUT /api/pages/:page/text/:side
func (h *ProofreadHandler) UpdateText(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	side, ok := bindSide(c)
	if !ok {
		return
	}
	var req model.TextUpdateRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.service.UpdateText(c.Request.Context(), side, page, *req.Text)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(view))
}

// Patch 接受或推送光标所在的差异块
// POST /api/pages/:page/patch
func (h *ProofreadHandler) Patch(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	var req model.PatchRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.service.Patch(c.Request.Context(), page, models.Side(req.Side), *req.Index, req.Push)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"page":  page,
		"side":  req.Side,
		"index": *req.Index,
		"push":  req.Push,
	}).Debug("Diff block applied")
	c.JSON(http.StatusOK, model.NewSuccessResponse(view))
}

// MapPosition 把光标位置对应到对侧和页面图片上
// POST /api/pages/:page/map
func (h *ProofreadHandler) MapPosition(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	var req model.MapRequest
	if !bindJSON(c, &req) {
		return
	}

	loc, err := h.service.Locate(c.Request.Context(), page, models.Side(req.Side), *req.Index)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(loc))
}

// SaveSide 把一侧文本写回文件
// POST /api/texts/:side/save
func (h *ProofreadHandler) SaveSide(c *gin.Context) {
	side, ok := bindSide(c)
	if !ok {
		return
	}

	path, err := h.service.SaveSide(c.Request.Context(), side)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SaveResponse{Side: string(side), Path: path}))
}

// ReloadSide 从文件重新加载一侧文本
// POST /api/texts/:side/reload
func (h *ProofreadHandler) ReloadSide(c *gin.Context) {
	side, ok := bindSide(c)
	if !ok {
		return
	}

	if err := h.service.ReloadSide(side); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(h.service.View(c.Request.Context())))
}

// GetRegex 获取两侧词头正则
// GET /api/settings/regex
func (h *ProofreadHandler) GetRegex(c *gin.Context) {
	left, right := h.service.Patterns()
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.RegexResponse{Left: left, Right: right}))
}

// UpdateRegex 修改词头正则
// PUT /api/settings/regex
func (h *ProofreadHandler) UpdateRegex(c *gin.Context) {
	var req model.RegexRequest
	if !bindJSON(c, &req) {
		return
	}

	left, right := h.service.Patterns()
	if req.Left != nil {
		left = *req.Left
	}
	if req.Right != nil {
		right = *req.Right
	}

	if err := h.service.SetPatterns(c.Request.Context(), left, right); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.RegexResponse{Left: left, Right: right}))
}

// UpdateRightSource 切换右侧显示第二份文本还是OCR全文
// PUT /api/settings/right-source
func (h *ProofreadHandler) UpdateRightSource(c *gin.Context) {
	var req model.RightSourceRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.service.SetRightSource(c.Request.Context(), req.Source); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.RightSourceResponse{Source: req.Source}))
}
