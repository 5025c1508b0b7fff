package repository

import (
	"errors"
	"fmt"

	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// editRepository 修改记录仓储实现
type editRepository struct {
	db *gorm.DB // 数据库连接
}

// NewEditRepository 创建修改记录仓储实例
func NewEditRepository(db *gorm.DB) EditRepository {
	return &editRepository{db: db}
}

// Upsert 保存某页文本
func (r *editRepository) Upsert(edit *models.PageEdit) error {
	if edit.Project == "" {
		return errors.New("project cannot be empty")
	}
	if _, err := models.ParseSide(string(edit.Side)); err != nil {
		return err
	}
	edit.Saved = false

	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project"}, {Name: "side"}, {Name: "page"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "saved", "updated_at"}),
	}).Create(edit).Error
}

// Get 获取某页某侧的修改记录
func (r *editRepository) Get(project string, side models.Side, page int) (*models.PageEdit, error) {
	var edit models.PageEdit
	err := r.db.Where("project = ? AND side = ? AND page = ?", project, side, page).First(&edit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s page %d", models.ErrEditNotFound, side, page)
		}
		return nil, err
	}
	return &edit, nil
}

// ListBySide 列出一侧的所有修改记录
func (r *editRepository) ListBySide(project string, side models.Side) ([]*models.PageEdit, error) {
	var edits []*models.PageEdit
	err := r.db.Where("project = ? AND side = ?", project, side).
		Order("page ASC").
		Find(&edits).Error
	return edits, err
}

// ListUnsaved 列出尚未写回的记录
func (r *editRepository) ListUnsaved(project string, side models.Side) ([]*models.PageEdit, error) {
	var edits []*models.PageEdit
	err := r.db.Where("project = ? AND side = ? AND saved = ?", project, side, false).
		Order("page ASC").
		Find(&edits).Error
	return edits, err
}

// MarkSaved 标记为已写回
func (r *editRepository) MarkSaved(project string, side models.Side) error {
	return r.db.Model(&models.PageEdit{}).
		Where("project = ? AND side = ?", project, side).
		Update("saved", true).Error
}

// DeleteBySide 删除一侧的所有修改记录
func (r *editRepository) DeleteBySide(project string, side models.Side) error {
	return r.db.Where("project = ? AND side = ?", project, side).
		Delete(&models.PageEdit{}).Error
}
