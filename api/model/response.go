package model

import (
	"time"

	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/viewer"
	"github.com/fyerfyer/ocr-proofreader/pkg/taskqueue"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// DiffResponse 某页两侧的差异
type DiffResponse struct {
	Page int             `json:"page"`
	Diff viewer.DiffView `json:"diff"`
}

// SaveResponse 文本写回结果
type SaveResponse struct {
	Side string `json:"side"`
	Path string `json:"path"`
}

// JobResponse OCR任务信息
type JobResponse struct {
	ID          string      `json:"id"`
	Page        int         `json:"page"`
	Engine      string      `json:"engine"`
	Status      string      `json:"status"`
	Error       string      `json:"error,omitempty"`
	Stale       bool        `json:"stale"` // 完成时页面已经切换，结果未显示
	Result      interface{} `json:"result,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// NewJobResponse 转换OCR任务记录，includeResult为false时不带原始结果
func NewJobResponse(job *models.OcrJob, includeResult bool) JobResponse {
	resp := JobResponse{
		ID:          job.ID,
		Page:        job.Page,
		Engine:      job.Engine,
		Status:      string(job.Status),
		Error:       job.Error,
		Stale:       job.Stale,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	if includeResult && len(job.Result) > 0 {
		resp.Result = job.Result
	}
	return resp
}

// JobListResponse 某页的OCR任务列表
type JobListResponse struct {
	Page int           `json:"page"`
	Jobs []JobResponse `json:"jobs"`
}

// TaskResponse 队列中的任务
type TaskResponse struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Group     string      `json:"group"`
	Status    string      `json:"status"`
	Attempts  int         `json:"attempts"`
	Error     string      `json:"error,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewTaskResponse 转换队列任务
func NewTaskResponse(task *taskqueue.Task) TaskResponse {
	resp := TaskResponse{
		ID:        task.ID,
		Type:      string(task.Type),
		Group:     task.Group,
		Status:    string(task.Status),
		Attempts:  task.Attempts,
		Error:     task.Error,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
	if len(task.Result) > 0 {
		resp.Result = task.Result
	}
	return resp
}

// SlicesResponse 切图导出结果
type SlicesResponse struct {
	Page  int      `json:"page"`
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

// RegexResponse 两侧词头正则
type RegexResponse struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// RightSourceResponse 右侧来源
type RightSourceResponse struct {
	Source string `json:"source"`
}
