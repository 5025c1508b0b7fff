package repository

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fyerfyer/ocr-proofreader/internal/database"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := database.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "test.db")

	db, err := database.Setup(cfg, logger)
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

const project = "/books/dict/config.json"

func TestEditRepository_Upsert(t *testing.T) {
	repo := NewEditRepository(setupTestDB(t))

	require.NoError(t, repo.Upsert(&models.PageEdit{Project: project, Side: models.SideLeft, Page: 3, Text: "初稿"}))
	require.NoError(t, repo.MarkSaved(project, models.SideLeft))

	saved, err := repo.Get(project, models.SideLeft, 3)
	require.NoError(t, err)
	assert.True(t, saved.Saved)

	// 再次保存覆盖文本，并重新标记为未写回
	require.NoError(t, repo.Upsert(&models.PageEdit{Project: project, Side: models.SideLeft, Page: 3, Text: "二稿"}))

	edit, err := repo.Get(project, models.SideLeft, 3)
	require.NoError(t, err)
	assert.Equal(t, "二稿", edit.Text)
	assert.False(t, edit.Saved)

	edits, err := repo.ListBySide(project, models.SideLeft)
	require.NoError(t, err)
	assert.Len(t, edits, 1)
}

func TestEditRepository_SidesAreIndependent(t *testing.T) {
	repo := NewEditRepository(setupTestDB(t))

	require.NoError(t, repo.Upsert(&models.PageEdit{Project: project, Side: models.SideLeft, Page: 2, Text: "L2"}))
	require.NoError(t, repo.Upsert(&models.PageEdit{Project: project, Side: models.SideLeft, Page: 1, Text: "L1"}))
	require.NoError(t, repo.Upsert(&models.PageEdit{Project: project, Side: models.SideRight, Page: 1, Text: "R1"}))

	left, err := repo.ListBySide(project, models.SideLeft)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, 1, left[0].Page)
	assert.Equal(t, 2, left[1].Page)

	require.NoError(t, repo.MarkSaved(project, models.SideLeft))
	unsaved, err := repo.ListUnsaved(project, models.SideLeft)
	require.NoError(t, err)
	assert.Empty(t, unsaved)

	unsaved, err = repo.ListUnsaved(project, models.SideRight)
	require.NoError(t, err)
	assert.Len(t, unsaved, 1)

	require.NoError(t, repo.DeleteBySide(project, models.SideRight))
	_, err = repo.Get(project, models.SideRight, 1)
	assert.True(t, errors.Is(err, models.ErrEditNotFound))
}

func TestEditRepository_Validation(t *testing.T) {
	repo := NewEditRepository(setupTestDB(t))

	assert.Error(t, repo.Upsert(&models.PageEdit{Side: models.SideLeft, Page: 1}))
	err := repo.Upsert(&models.PageEdit{Project: project, Side: "middle", Page: 1})
	assert.True(t, errors.Is(err, models.ErrInvalidSide))
}

func TestSessionRepository(t *testing.T) {
	repo := NewSessionRepository(setupTestDB(t))

	_, err := repo.Get(project)
	assert.True(t, errors.Is(err, models.ErrSessionNotFound))

	session := &models.Session{
		Project:     project,
		CurrentPage: 5,
		RightSource: "text",
		Settings:    datatypes.JSON(`{"regex_left": "^a"}`),
	}
	require.NoError(t, repo.Save(session))

	session.CurrentPage = 6
	require.NoError(t, repo.Save(session))

	got, err := repo.Get(project)
	require.NoError(t, err)
	assert.Equal(t, 6, got.CurrentPage)
	assert.Equal(t, "text", got.RightSource)
	assert.JSONEq(t, `{"regex_left": "^a"}`, string(got.Settings))
	assert.False(t, got.UpdatedAt.IsZero())

	assert.Error(t, repo.Save(&models.Session{}))
}

func TestOcrJobRepository(t *testing.T) {
	repo := NewOcrJobRepository(setupTestDB(t))

	job := &models.OcrJob{ID: "job-1", Project: project, Page: 4, Engine: "remote"}
	require.NoError(t, repo.Create(job))
	assert.Equal(t, models.OcrJobPending, job.Status)

	require.NoError(t, repo.Create(&models.OcrJob{ID: "job-2", Project: project, Page: 4, Engine: "local"}))
	require.NoError(t, repo.Create(&models.OcrJob{ID: "job-3", Project: project, Page: 5, Engine: "local"}))

	jobs, err := repo.ListByPage(project, 4)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	require.NoError(t, repo.UpdateStatus("job-1", models.OcrJobFailed, "timeout"))
	got, err := repo.GetByID("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.OcrJobFailed, got.Status)
	assert.Equal(t, "timeout", got.Error)
	assert.NotNil(t, got.CompletedAt)

	got.Stale = true
	got.Result = datatypes.JSON(`[]`)
	require.NoError(t, repo.Update(got))
	got, err = repo.GetByID("job-1")
	require.NoError(t, err)
	assert.True(t, got.Stale)

	_, err = repo.GetByID("missing")
	assert.True(t, errors.Is(err, models.ErrJobNotFound))
	assert.True(t, errors.Is(repo.UpdateStatus("missing", models.OcrJobRunning, ""), models.ErrJobNotFound))
	assert.Error(t, repo.Create(&models.OcrJob{}))
}

func TestProjectColumnsHoldLongPaths(t *testing.T) {
	// 项目标识是配置文件的绝对路径，在Postgres上不能是 varchar(100)
	for _, model := range []interface{}{&models.PageEdit{}, &models.Session{}, &models.OcrJob{}} {
		s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
		require.NoError(t, err)
		field := s.LookUpField("Project")
		require.NotNil(t, field, s.Name)
		assert.Zero(t, field.Size, s.Name)
	}

	db := setupTestDB(t)
	long := "/" + strings.Repeat("very-long-directory-name/", 12) + "config.json"
	require.Greater(t, len(long), 255)

	edits := NewEditRepository(db)
	require.NoError(t, edits.Upsert(&models.PageEdit{Project: long, Side: models.SideLeft, Page: 1, Text: "长路径"}))
	edit, err := edits.Get(long, models.SideLeft, 1)
	require.NoError(t, err)
	assert.Equal(t, long, edit.Project)

	sessions := NewSessionRepository(db)
	require.NoError(t, sessions.Save(&models.Session{Project: long, CurrentPage: 2}))
	session, err := sessions.Get(long)
	require.NoError(t, err)
	assert.Equal(t, 2, session.CurrentPage)
}
