package repository

import (
	"errors"
	"fmt"

	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"gorm.io/gorm"
)

// sessionRepository 会话仓储实现
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建会话仓储实例
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Get 获取项目的会话
func (r *sessionRepository) Get(project string) (*models.Session, error) {
	var session models.Session
	err := r.db.Where("project = ?", project).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, project)
		}
		return nil, err
	}
	return &session, nil
}

// Save 创建或更新会话
func (r *sessionRepository) Save(session *models.Session) error {
	if session.Project == "" {
		return errors.New("project cannot be empty")
	}
	return r.db.Save(session).Error
}
