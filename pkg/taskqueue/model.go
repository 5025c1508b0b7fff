package taskqueue

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskOCRRecognize 单页OCR识别任务
	TaskOCRRecognize TaskType = "ocr_recognize"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Done 是否处于终止状态
func (s TaskStatus) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	Group       string          `json:"group"`        // 分组键，同一页的任务共用，见 GroupKey
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据，不同任务类型对应不同结构
	Result      json.RawMessage `json:"result"`       // 任务结果数据
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// clone 返回任务的副本，避免调用方修改队列内部状态
func (t *Task) clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}

// GroupKey 生成某项目某页的任务分组键
func GroupKey(project string, page int) string {
	return fmt.Sprintf("%s#%d", project, page)
}

// OCRPayload OCR识别任务载荷
type OCRPayload struct {
	JobID   string `json:"job_id"`  // 数据库中的任务记录ID
	Project string `json:"project"` // 项目标识
	Page    int    `json:"page"`    // 发起识别时的逻辑页
	Engine  string `json:"engine"`  // remote 或 local
	Force   bool   `json:"force"`   // 已有本地结果时是否仍然识别
}

// OCRResult OCR识别任务结果
type OCRResult struct {
	JobID   string `json:"job_id"`
	Page    int    `json:"page"`
	Items   int    `json:"items"`   // 识别出的文本行数
	Skipped bool   `json:"skipped"` // 已有本地结果，未调用识别引擎
	Stale   bool   `json:"stale"`   // 完成时界面已切换到其他页
}
