package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Queue 后台任务队列
// 任务记录与调度分开保存，调用方按ID或分组查询进度
type Queue interface {
	// Enqueue 将任务加入队列，返回任务ID
	// group 为空时任务不属于任何分组
	Enqueue(ctx context.Context, taskType TaskType, group string, payload interface{}) (string, error)

	// GetTask 获取任务信息，不存在时返回 ErrTaskNotFound
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// GetTasksByGroup 获取同一分组的所有任务
	GetTasksByGroup(ctx context.Context, group string) ([]*Task, error)

	// UpdateTaskStatus 更新任务状态和结果，result 为nil时保留原结果
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errorMsg string) error

	Close() error
}

// Handler 执行某类任务
type Handler interface {
	// ProcessTask 处理任务，返回的结果会写入任务记录
	ProcessTask(ctx context.Context, task *Task) (interface{}, error)

	// GetTaskTypes 返回此处理器支持的任务类型
	GetTaskTypes() []TaskType
}

// HandlerFunc 把普通函数适配为Handler
type HandlerFunc func(ctx context.Context, task *Task) (interface{}, error)

func (f HandlerFunc) ProcessTask(ctx context.Context, task *Task) (interface{}, error) {
	return f(ctx, task)
}

// GetTaskTypes 函数处理器不声明类型，由注册时指定
func (f HandlerFunc) GetTaskTypes() []TaskType {
	return nil
}

// Worker 从队列取任务并交给对应的Handler
type Worker interface {
	RegisterHandler(taskType TaskType, handler Handler)

	// Start 启动后立即返回
	Start() error

	// Stop 等待正在执行的任务结束后返回
	Stop()
}

// Config 队列配置
type Config struct {
	RedisAddr     string        // Redis地址
	RedisPassword string        // Redis密码
	RedisDB       int           // Redis数据库
	Concurrency   int           // 同时执行的任务数
	RetryLimit    int           // 失败后的最大重试次数
	RetryDelay    time.Duration // 重试间隔
}

// DefaultConfig 返回默认配置
// 识别请求受远程接口限流，并发保持较低
func DefaultConfig() *Config {
	return &Config{
		RedisAddr:   "localhost:6379",
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  5 * time.Second,
	}
}

// Factory 队列工厂函数类型
type Factory func(cfg *Config) (Queue, error)

var queueFactories = make(map[string]Factory)

// RegisterQueueFactory 注册队列实现
func RegisterQueueFactory(name string, factory Factory) {
	queueFactories[name] = factory
}

// NewQueue 根据名称（memory 或 redis）创建队列
func NewQueue(name string, cfg *Config) (Queue, error) {
	factory, ok := queueFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue implementation: %s", name)
	}
	return factory(cfg)
}

// NewWorker 为队列创建对应的工作者
func NewWorker(queue Queue, cfg *Config) (Worker, error) {
	switch q := queue.(type) {
	case *MemoryQueue:
		return NewMemoryWorker(q, cfg), nil
	case *RedisQueue:
		return NewRedisWorker(q, cfg), nil
	default:
		return nil, fmt.Errorf("no worker for queue type %T", queue)
	}
}

// TaskError 队列错误
type TaskError string

func (e TaskError) Error() string {
	return string(e)
}

const (
	// ErrTaskNotFound 任务不存在或已过期
	ErrTaskNotFound = TaskError("task not found")
	// ErrInvalidPayload 载荷无法解析
	ErrInvalidPayload = TaskError("invalid task payload")
	// ErrQueueClosed 队列已关闭
	ErrQueueClosed = TaskError("queue closed")
)

// UnmarshalPayload 解析任务载荷或结果
func UnmarshalPayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func marshal(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(v)
}

// newTask 创建待处理任务
func newTask(id string, taskType TaskType, group string, payload interface{}, maxRetries int) (*Task, error) {
	data, err := marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	now := time.Now()
	return &Task{
		ID:         id,
		Type:       taskType,
		Group:      group,
		Status:     StatusPending,
		Payload:    data,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: maxRetries,
	}, nil
}

// applyStatus 状态迁移
// 每次进入处理中计一次尝试，进入终止状态时记录完成时间
func applyStatus(task *Task, status TaskStatus, result interface{}, errMsg string) error {
	now := time.Now()
	task.Status = status
	task.UpdatedAt = now

	switch {
	case status == StatusProcessing:
		task.Attempts++
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
	case status.Done():
		task.CompletedAt = &now
	}

	if result != nil {
		data, err := marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		task.Result = data
	}
	if errMsg != "" {
		task.Error = errMsg
	}
	return nil
}
