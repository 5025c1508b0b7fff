package handler

import (
	"net/http"

	"github.com/fyerfyer/ocr-proofreader/api/middleware"
	"github.com/fyerfyer/ocr-proofreader/api/model"
	"github.com/fyerfyer/ocr-proofreader/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 查询后台队列中的任务
type TaskHandler struct {
	queue   taskqueue.Queue // 任务队列
	project string          // 当前项目，用于按页分组
	logger  *logrus.Logger  // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue, project string) *TaskHandler {
	return &TaskHandler{
		queue:   queue,
		project: project,
		logger:  middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	var uri model.JobURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("task id is required"))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), uri.ID)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", uri.ID).Debug("Failed to get task")
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewTaskResponse(task)))
}

// GetPageTasks 获取某页相关的所有队列任务
// GET /api/pages/:page/tasks
func (h *TaskHandler) GetPageTasks(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	group := taskqueue.GroupKey(h.project, page)
	tasks, err := h.queue.GetTasksByGroup(c.Request.Context(), group)
	if err != nil {
		h.logger.WithError(err).WithField("group", group).Error("Failed to get page tasks")
		middleware.HandleError(c, err)
		return
	}

	infos := make([]model.TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, model.NewTaskResponse(task))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"page":  page,
		"tasks": infos,
	}))
}
