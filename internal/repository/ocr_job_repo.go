package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"gorm.io/gorm"
)

// ocrJobRepository OCR任务仓储实现
type ocrJobRepository struct {
	db *gorm.DB
}

// NewOcrJobRepository 创建OCR任务仓储实例
func NewOcrJobRepository(db *gorm.DB) OcrJobRepository {
	return &ocrJobRepository{db: db}
}

// Create 创建任务记录
func (r *ocrJobRepository) Create(job *models.OcrJob) error {
	if job.ID == "" {
		return errors.New("job ID cannot be empty")
	}
	if job.Status == "" {
		job.Status = models.OcrJobPending
	}
	return r.db.Create(job).Error
}

// Update 更新任务记录
func (r *ocrJobRepository) Update(job *models.OcrJob) error {
	if job.ID == "" {
		return errors.New("job ID cannot be empty")
	}
	return r.db.Save(job).Error
}

// GetByID 根据ID获取任务
func (r *ocrJobRepository) GetByID(id string) (*models.OcrJob, error) {
	var job models.OcrJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

// ListByPage 列出某页的任务
func (r *ocrJobRepository) ListByPage(project string, page int) ([]*models.OcrJob, error) {
	var jobs []*models.OcrJob
	err := r.db.Where("project = ? AND page = ?", project, page).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// UpdateStatus 更新任务状态，进入终态时记录完成时间
func (r *ocrJobRepository) UpdateStatus(id string, status models.OcrJobStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"error":      errorMsg,
		"updated_at": time.Now(),
	}
	if status == models.OcrJobCompleted || status == models.OcrJobFailed {
		updates["completed_at"] = time.Now()
	}

	result := r.db.Model(&models.OcrJob{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	return nil
}
