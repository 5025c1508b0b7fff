package handler

import (
	"net/http"

	"github.com/fyerfyer/ocr-proofreader/api/middleware"
	"github.com/fyerfyer/ocr-proofreader/api/model"
	"github.com/fyerfyer/ocr-proofreader/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// OCRHandler 处理识别任务和切图导出的API请求
type OCRHandler struct {
	service *services.ProofreadService
	logger  *logrus.Logger
}

// NewOCRHandler 创建OCR处理器
func NewOCRHandler(service *services.ProofreadService) *OCRHandler {
	return &OCRHandler{
		service: service,
		logger:  middleware.GetLogger(),
	}
}

// RequestOCR 为某页发起识别
// POST /api/pages/:page/ocr
// 后台执行时返回202，同步执行时返回200
func (h *OCRHandler) RequestOCR(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	var req model.OCRRequest
	// 请求体可以为空
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	job, err := h.service.RequestOCR(c.Request.Context(), page, req.GetEngine(), req.Force)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	status := http.StatusOK
	if !job.Status.Done() {
		status = http.StatusAccepted
	}
	c.JSON(status, model.NewSuccessResponse(model.NewJobResponse(job, false)))
}

// GetJob 查询识别任务
// GET /api/jobs/:id
func (h *OCRHandler) GetJob(c *gin.Context) {
	var uri model.JobURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("job id is required"))
		return
	}

	job, err := h.service.Job(c.Request.Context(), uri.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewJobResponse(job, true)))
}

// ListPageJobs 列出某页的识别任务
// GET /api/pages/:page/ocr/jobs
func (h *OCRHandler) ListPageJobs(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	jobs, err := h.service.PageJobs(c.Request.Context(), page)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.JobListResponse{Page: page, Jobs: make([]model.JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, model.NewJobResponse(job, false))
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ExportSlices 按OCR包围盒导出切图
// POST /api/pages/:page/slices
func (h *OCRHandler) ExportSlices(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	keys, err := h.service.ExportSlices(c.Request.Context(), page)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SlicesResponse{Page: page, Count: len(keys), Keys: keys}))
}
