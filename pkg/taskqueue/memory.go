package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryQueue 进程内任务队列
// 单机使用时不需要Redis，任务在进程退出后丢失
type MemoryQueue struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	groups  map[string][]string
	pending chan string
	done    chan struct{}
	closed  bool
	cfg     *Config
	logger  *logrus.Logger
}

// NewMemoryQueue 创建进程内任务队列
func NewMemoryQueue(cfg *Config) *MemoryQueue {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &MemoryQueue{
		tasks:   make(map[string]*Task),
		groups:  make(map[string][]string),
		pending: make(chan string, 256),
		done:    make(chan struct{}),
		cfg:     cfg,
		logger:  logger,
	}
}

// SetLogger 替换日志记录器
func (q *MemoryQueue) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		q.logger = logger
	}
}

// Enqueue 将任务加入队列，立即可被工作者取走
func (q *MemoryQueue) Enqueue(ctx context.Context, taskType TaskType, group string, payload interface{}) (string, error) {
	task, err := newTask(uuid.New().String(), taskType, group, payload, q.cfg.RetryLimit)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.tasks[task.ID] = task
	if group != "" {
		q.groups[group] = append(q.groups[group], task.ID)
	}
	q.mu.Unlock()

	q.schedule(task.ID, 0)

	q.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"task_type": taskType,
		"group":     group,
	}).Debug("Task enqueued")

	return task.ID, nil
}

// schedule 把任务ID放入待处理通道，delay>0时延后放入
func (q *MemoryQueue) schedule(taskID string, delay time.Duration) {
	if delay <= 0 {
		select {
		case q.pending <- taskID:
			return
		case <-q.done:
			return
		default:
		}
		// 通道已满时不阻塞调用方
		go q.push(taskID)
		return
	}
	time.AfterFunc(delay, func() { q.push(taskID) })
}

func (q *MemoryQueue) push(taskID string) {
	select {
	case q.pending <- taskID:
	case <-q.done:
	}
}

// GetTask 获取任务信息
func (q *MemoryQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.clone(), nil
}

// GetTasksByGroup 获取同一分组的所有任务，按创建时间排序
func (q *MemoryQueue) GetTasksByGroup(ctx context.Context, group string) ([]*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := q.groups[group]
	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := q.tasks[id]; ok {
			tasks = append(tasks, task.clone())
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// UpdateTaskStatus 更新任务状态
func (q *MemoryQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	return applyStatus(task, status, result, errMsg)
}

// Close 关闭队列，未处理的任务被丢弃
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// MemoryWorker 进程内工作者实现
type MemoryWorker struct {
	queue    *MemoryQueue
	cfg      *Config
	mu       sync.RWMutex
	handlers map[TaskType]Handler
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *logrus.Logger
}

// NewMemoryWorker 创建进程内工作者
func NewMemoryWorker(queue *MemoryQueue, cfg *Config) *MemoryWorker {
	if cfg == nil {
		cfg = queue.cfg
	}
	return &MemoryWorker{
		queue:    queue,
		cfg:      cfg,
		handlers: make(map[TaskType]Handler),
		logger:   queue.logger,
	}
}

// RegisterHandler 注册任务处理器
func (w *MemoryWorker) RegisterHandler(taskType TaskType, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[taskType] = handler
	w.logger.WithField("task_type", taskType).Info("Registered handler for task type")
}

// Start 启动工作者，立即返回
func (w *MemoryWorker) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	concurrency := w.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	return nil
}

// Stop 停止工作者，等待正在处理的任务结束
func (w *MemoryWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *MemoryWorker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.queue.done:
			return
		case taskID := <-w.queue.pending:
			w.process(ctx, taskID)
		}
	}
}

// process 执行单个任务，失败时按配置延迟重试
func (w *MemoryWorker) process(ctx context.Context, taskID string) {
	logger := w.logger.WithField("task_id", taskID)

	task, err := w.queue.GetTask(ctx, taskID)
	if err != nil {
		// 队列关闭后记录可能已不存在
		logger.WithError(err).Debug("Skip missing task")
		return
	}

	w.mu.RLock()
	h, ok := w.handlers[task.Type]
	w.mu.RUnlock()
	if !ok {
		msg := fmt.Sprintf("no handler registered for task type %s", task.Type)
		_ = w.queue.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, msg)
		logger.Error(msg)
		return
	}

	if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""); err != nil {
		logger.WithError(err).Error("Failed to update task status to processing")
	}

	task, err = w.queue.GetTask(ctx, taskID)
	if err != nil {
		return
	}

	result, err := h.ProcessTask(ctx, task)
	if err != nil {
		if task.Attempts <= task.MaxRetries {
			logger.WithError(err).WithField("attempts", task.Attempts).Warn("Task failed, will retry")
			_ = w.queue.UpdateTaskStatus(ctx, taskID, StatusPending, nil, err.Error())
			w.queue.schedule(taskID, w.cfg.RetryDelay)
			return
		}
		if updateErr := w.queue.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, err.Error()); updateErr != nil {
			logger.WithError(updateErr).Error("Failed to update task status after failure")
		}
		logger.WithError(err).Error("Task failed")
		return
	}

	if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""); err != nil {
		logger.WithError(err).Error("Failed to update task status after completion")
	}
}

func init() {
	RegisterQueueFactory("memory", func(cfg *Config) (Queue, error) {
		return NewMemoryQueue(cfg), nil
	})
}
