package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Side 对照文本的一侧
type Side string

const (
	// SideLeft 左侧文本（待校对的主文本）
	SideLeft Side = "left"
	// SideRight 右侧文本（第二版本或OCR结果）
	SideRight Side = "right"
)

// ParseSide 解析侧名称
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideLeft, SideRight:
		return Side(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Other 返回另一侧
func (s Side) Other() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// PageEdit 校对过程中对某页文本的修改
// 保存前以数据库记录为准，保存到文本文件后仍保留
type PageEdit struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Project   string    `gorm:"not null;uniqueIndex:idx_edit_page"` // 项目标识（配置文件的绝对路径，不限长度）
	Side      Side      `gorm:"not null;size:10;uniqueIndex:idx_edit_page"`
	Page      int       `gorm:"not null;uniqueIndex:idx_edit_page"`
	Text      string    `gorm:"type:text"`
	Saved     bool      `gorm:"not null;default:false"` // 是否已写回文本文件
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (e *PageEdit) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (e *PageEdit) BeforeUpdate(tx *gorm.DB) (err error) {
	e.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (PageEdit) TableName() string {
	return "page_edits"
}

// Session 校对会话，记录上次浏览的位置和界面设置
type Session struct {
	Project     string         `gorm:"primaryKey"`
	CurrentPage int            `gorm:"not null"`
	RightSource string         `gorm:"size:10"`
	Settings    datatypes.JSON `gorm:"type:json"` // 运行时修改的正则等
	UpdatedAt   time.Time      `gorm:"not null"`
}

// BeforeSave 保存前更新时间
func (s *Session) BeforeSave(tx *gorm.DB) (err error) {
	s.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Session) TableName() string {
	return "sessions"
}

// OcrJobStatus OCR任务状态
type OcrJobStatus string

const (
	OcrJobPending   OcrJobStatus = "pending"
	OcrJobRunning   OcrJobStatus = "running"
	OcrJobCompleted OcrJobStatus = "completed"
	OcrJobFailed    OcrJobStatus = "failed"
)

// Done 任务是否已经结束
func (s OcrJobStatus) Done() bool {
	return s == OcrJobCompleted || s == OcrJobFailed
}

// OcrJob 一次OCR识别请求
type OcrJob struct {
	ID          string         `gorm:"primaryKey;size:50"`
	Project     string         `gorm:"not null;index"`
	Page        int            `gorm:"not null;index"`
	Engine      string         `gorm:"not null;size:20"` // remote 或 local
	Status      OcrJobStatus   `gorm:"not null;size:20"`
	Error       string         `gorm:"type:text"`
	Result      datatypes.JSON `gorm:"type:json"`
	Stale       bool           `gorm:"not null;default:false"` // 完成时页面已切换
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
	CompletedAt *time.Time
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (j *OcrJob) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (j *OcrJob) BeforeUpdate(tx *gorm.DB) (err error) {
	j.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (OcrJob) TableName() string {
	return "ocr_jobs"
}
