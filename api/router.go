package api

import (
	"net/http"

	"github.com/fyerfyer/ocr-proofreader/api/handler"
	"github.com/fyerfyer/ocr-proofreader/api/middleware"
	"github.com/fyerfyer/ocr-proofreader/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Handlers 路由用到的处理器，Task为nil时不注册队列查询接口
type Handlers struct {
	Proofread *handler.ProofreadHandler
	OCR       *handler.OCRHandler
	Task      *handler.TaskHandler
	Help      *handler.HelpHandler
}

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(h Handlers, m *metrics.Metrics) *gin.Engine {
	router := gin.New()

	// 应用全局中间件
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics(m))
	router.Use(middleware.ErrorMiddleware())

	// 在调试模式下记录请求体，并允许前端开发服务器跨域访问
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
		router.Use(Cors())
	}

	if h.Help != nil {
		router.GET("/help", h.Help.Help)
		router.GET("/help.md", h.Help.Markdown)
	}
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := router.Group("/api")
	{
		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})

		// 当前页浏览
		viewGroup := api.Group("/view")
		{
			viewGroup.GET("", h.Proofread.GetView)
			viewGroup.POST("/next", h.Proofread.Next)
			viewGroup.POST("/previous", h.Proofread.Previous)
			viewGroup.POST("/jump", h.Proofread.Jump)
		}

		// 按页操作
		pageGroup := api.Group("/pages/:page")
		{
			pageGroup.GET("", h.Proofread.GetPage)
			pageGroup.GET("/image", h.Proofread.GetImage)
			pageGroup.GET("/diff", h.Proofread.GetDiff)
			pageGroup.PUT("/text/:side", h.Proofread.UpdateText)
			pageGroup.POST("/patch", h.Proofread.Patch)
			pageGroup.POST("/map", h.Proofread.MapPosition)

			pageGroup.POST("/ocr", h.OCR.RequestOCR)
			pageGroup.GET("/ocr/jobs", h.OCR.ListPageJobs)
			pageGroup.POST("/slices", h.OCR.ExportSlices)

			if h.Task != nil {
				pageGroup.GET("/tasks", h.Task.GetPageTasks)
			}
		}

		// 整侧文本
		textGroup := api.Group("/texts/:side")
		{
			textGroup.POST("/save", h.Proofread.SaveSide)
			textGroup.POST("/reload", h.Proofread.ReloadSide)
		}

		api.GET("/jobs/:id", h.OCR.GetJob)
		if h.Task != nil {
			api.GET("/tasks/:id", h.Task.GetTaskStatus)
		}

		// 运行时设置
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("/regex", h.Proofread.GetRegex)
			settingsGroup.PUT("/regex", h.Proofread.UpdateRegex)
			settingsGroup.PUT("/right-source", h.Proofread.UpdateRightSource)
		}
	}

	return router
}

// Cors 跨域资源共享中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Trace-ID, X-Physical-Index")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
