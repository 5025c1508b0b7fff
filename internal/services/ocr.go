package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/pagesource"
	"github.com/fyerfyer/ocr-proofreader/pkg/taskqueue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Engines 返回已注册的识别引擎名称
func (s *ProofreadService) Engines() []string {
	names := make([]string, 0, len(s.engines))
	for name := range s.engines {
		names = append(names, name)
	}
	return names
}

// RequestOCR 为某页发起一次识别
// 有队列时在后台执行并立即返回pending状态的任务，没有队列时同步执行
// 本地已有该页结果且未强制时不调用引擎，任务直接完成
func (s *ProofreadService) RequestOCR(ctx context.Context, page int, engine string, force bool) (*models.OcrJob, error) {
	if _, ok := s.engines[engine]; !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownEngine, engine)
	}
	if s.ocrStore == nil {
		return nil, fmt.Errorf("no ocr result store configured")
	}
	if start, end := s.viewer.Range(); page < start || page > end {
		return nil, &models.OutOfRangeError{Page: page, Start: start, End: end}
	}

	job := &models.OcrJob{
		ID:      uuid.New().String(),
		Project: s.cfg.Project,
		Page:    page,
		Engine:  engine,
		Status:  models.OcrJobPending,
	}
	if err := s.createJob(job); err != nil {
		return nil, err
	}

	payload := &taskqueue.OCRPayload{
		JobID:   job.ID,
		Project: s.cfg.Project,
		Page:    page,
		Engine:  engine,
		Force:   force,
	}

	if s.queue == nil {
		if _, err := s.runOCR(ctx, payload); err != nil {
			s.logger.WithError(err).WithField("page", page).Warn("OCR failed")
		}
		return s.Job(ctx, job.ID)
	}

	taskID, err := s.queue.Enqueue(ctx, taskqueue.TaskOCRRecognize, taskqueue.GroupKey(s.cfg.Project, page), payload)
	if err != nil {
		s.finishJob(job, models.OcrJobFailed, nil, false, err.Error())
		return nil, fmt.Errorf("failed to enqueue ocr task: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"task_id": taskID,
		"page":    page,
		"engine":  engine,
	}).Info("OCR task enqueued")
	return job, nil
}

// ProcessTask 实现 taskqueue.Handler，在工作者中执行识别
func (s *ProofreadService) ProcessTask(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var payload taskqueue.OCRPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}
	return s.runOCR(ctx, &payload)
}

// GetTaskTypes 返回服务处理的任务类型
func (s *ProofreadService) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{taskqueue.TaskOCRRecognize}
}

// RegisterHandlers 把识别任务注册到工作者
func (s *ProofreadService) RegisterHandlers(worker taskqueue.Worker) {
	for _, t := range s.GetTaskTypes() {
		worker.RegisterHandler(t, s)
	}
}

// runOCR 识别一页并保存结果
// 完成时如果界面已经切到别的页，结果照常保存，但标记为过期，不会推送到当前视图
func (s *ProofreadService) runOCR(ctx context.Context, payload *taskqueue.OCRPayload) (*taskqueue.OCRResult, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"job_id": payload.JobID,
		"page":   payload.Page,
		"engine": payload.Engine,
	})

	job := s.loadJob(payload)
	s.updateJob(job, models.OcrJobRunning, "")

	result := &taskqueue.OCRResult{JobID: payload.JobID, Page: payload.Page}

	if !payload.Force && s.ocrStore.Exists(ctx, payload.Page) {
		result.Skipped = true
		if existing, ok := s.ocrStore.Get(ctx, payload.Page); ok {
			result.Items = len(existing.Items)
		}
		s.finishJob(job, models.OcrJobCompleted, nil, false, "")
		logger.Info("OCR result already present, skipping engine")
		return result, nil
	}

	raw, err := s.recognize(ctx, payload)
	if err != nil {
		s.finishJob(job, models.OcrJobFailed, nil, false, err.Error())
		return nil, err
	}

	if err := s.ocrStore.Put(ctx, payload.Page, raw); err != nil {
		s.finishJob(job, models.OcrJobFailed, nil, false, err.Error())
		return nil, err
	}

	if stored, ok := s.ocrStore.Get(ctx, payload.Page); ok {
		result.Items = len(stored.Items)
	}

	if s.viewer.Current() != payload.Page {
		result.Stale = true
		s.metrics.RecordStaleOCR()
		logger.WithField("current_page", s.viewer.Current()).Info("OCR finished after page changed, result stored but not shown")
	}

	s.finishJob(job, models.OcrJobCompleted, raw, result.Stale, "")
	logger.WithField("items", result.Items).Info("OCR completed")
	return result, nil
}

// recognize 取页面图片并调用引擎
func (s *ProofreadService) recognize(ctx context.Context, payload *taskqueue.OCRPayload) ([]byte, error) {
	engine, ok := s.engines[payload.Engine]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownEngine, payload.Engine)
	}

	img, err := s.viewer.Image(ctx, payload.Page)
	if err != nil {
		return nil, fmt.Errorf("no image for page %d: %w", payload.Page, err)
	}

	start := time.Now()
	raw, err := engine.Recognize(ctx, img.Data)
	s.metrics.RecordOCR(engine.Name(), err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("ocr engine %s failed: %w", engine.Name(), err)
	}
	return raw, nil
}

func (s *ProofreadService) createJob(job *models.OcrJob) error {
	if s.jobs == nil {
		return nil
	}
	if err := s.jobs.Create(job); err != nil {
		return fmt.Errorf("failed to create ocr job: %w", err)
	}
	return nil
}

// loadJob 取任务记录，没有仓储时用载荷构造一个临时记录
func (s *ProofreadService) loadJob(payload *taskqueue.OCRPayload) *models.OcrJob {
	if s.jobs != nil && payload.JobID != "" {
		if job, err := s.jobs.GetByID(payload.JobID); err == nil {
			return job
		}
	}
	return &models.OcrJob{
		ID:      payload.JobID,
		Project: payload.Project,
		Page:    payload.Page,
		Engine:  payload.Engine,
	}
}

func (s *ProofreadService) updateJob(job *models.OcrJob, status models.OcrJobStatus, errMsg string) {
	job.Status = status
	if s.jobs == nil || job.ID == "" {
		return
	}
	if err := s.jobs.UpdateStatus(job.ID, status, errMsg); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to update ocr job status")
	}
}

func (s *ProofreadService) finishJob(job *models.OcrJob, status models.OcrJobStatus, raw []byte, stale bool, errMsg string) {
	now := time.Now()
	job.Status = status
	job.Error = errMsg
	job.Stale = stale
	job.CompletedAt = &now
	if len(raw) > 0 && json.Valid(raw) {
		job.Result = datatypes.JSON(raw)
	}

	if s.jobs == nil || job.ID == "" {
		return
	}
	if err := s.jobs.Update(job); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to save ocr job")
	}
}

// Job 查询识别任务
func (s *ProofreadService) Job(ctx context.Context, id string) (*models.OcrJob, error) {
	if s.jobs == nil {
		return nil, models.ErrJobNotFound
	}
	return s.jobs.GetByID(id)
}

// PageJobs 列出某页的识别任务
func (s *ProofreadService) PageJobs(ctx context.Context, page int) ([]*models.OcrJob, error) {
	if s.jobs == nil {
		return []*models.OcrJob{}, nil
	}
	return s.jobs.ListByPage(s.cfg.Project, page)
}

// ExportSlices 按OCR包围盒把页面图片切成小图保存，返回存储键
func (s *ProofreadService) ExportSlices(ctx context.Context, page int) ([]string, error) {
	if s.slices == nil {
		return nil, fmt.Errorf("no slice storage configured")
	}

	img, err := s.viewer.Image(ctx, page)
	if err != nil {
		return nil, err
	}

	result, ok := s.viewer.OCR(ctx, page)
	if !ok || len(result.Items) == 0 {
		return nil, fmt.Errorf("%w: page %d", models.ErrOCRResultNotFound, page)
	}

	keys, err := pagesource.ExportSlices(ctx, img, result.Boxes(), s.slices, s.cfg.SlicesPrefix)
	if err != nil {
		return nil, err
	}
	s.metrics.AddSlices(len(keys))

	s.logger.WithFields(logrus.Fields{
		"page":   page,
		"slices": len(keys),
	}).Info("Slices exported")
	return keys, nil
}
