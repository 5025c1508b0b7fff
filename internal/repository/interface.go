package repository

import "github.com/fyerfyer/ocr-proofreader/internal/models"

// EditRepository 页面文本修改记录仓储
type EditRepository interface {
	// Upsert 保存某页某侧的文本，已存在则覆盖并标记为未写回
	Upsert(edit *models.PageEdit) error

	// Get 获取某页某侧的修改记录
	Get(project string, side models.Side, page int) (*models.PageEdit, error)

	// ListBySide 列出一侧的所有修改记录，按页码排序
	ListBySide(project string, side models.Side) ([]*models.PageEdit, error)

	// ListUnsaved 列出一侧尚未写回文本文件的记录
	ListUnsaved(project string, side models.Side) ([]*models.PageEdit, error)

	// MarkSaved 把一侧的记录标记为已写回
	MarkSaved(project string, side models.Side) error

	// DeleteBySide 删除一侧的所有修改记录
	DeleteBySide(project string, side models.Side) error
}

// SessionRepository 校对会话仓储
type SessionRepository interface {
	// Get 获取项目的会话，不存在时返回 models.ErrSessionNotFound
	Get(project string) (*models.Session, error)

	// Save 创建或更新会话
	Save(session *models.Session) error
}

// OcrJobRepository OCR任务仓储
type OcrJobRepository interface {
	// Create 创建任务记录
	Create(job *models.OcrJob) error

	// Update 更新任务记录
	Update(job *models.OcrJob) error

	// GetByID 根据ID获取任务
	GetByID(id string) (*models.OcrJob, error)

	// ListByPage 列出某页的任务，最新的在前
	ListByPage(project string, page int) ([]*models.OcrJob, error)

	// UpdateStatus 更新任务状态
	UpdateStatus(id string, status models.OcrJobStatus, errorMsg string) error
}
