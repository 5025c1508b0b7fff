package middleware

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// log API层和命令行共用的日志记录器，启动时由 SetLogger 替换
var log = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	l.SetLevel(logrus.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// 请求日志字段
const (
	FieldTraceID  = "trace_id"
	FieldPath     = "path"
	FieldRoute    = "route" // 路由模板，如 /api/pages/:page
	FieldMethod   = "method"
	FieldStatus   = "status_code"
	FieldLatency  = "latency"
	FieldClientIP = "client_ip"
)

const (
	traceIDHeader = "X-Trace-ID"
	traceIDKey    = "TraceID"
	// 整页文本可能很长，调试日志只保留开头
	maxLoggedBody = 2048
)

// GetLogger 返回共用的日志记录器
func GetLogger() *logrus.Logger {
	return log
}

// SetLogger 替换共用的日志记录器
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// quietRoute 高频请求只在调试级别记录
func quietRoute(c *gin.Context) bool {
	return c.Request.URL.Path == "/metrics" || c.FullPath() == "/api/pages/:page/image"
}

// Logger 请求完成后记录状态码和耗时
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			FieldMethod:   c.Request.Method,
			FieldPath:     c.Request.URL.Path,
			FieldRoute:    c.FullPath(),
			FieldStatus:   c.Writer.Status(),
			FieldLatency:  time.Since(start).String(),
			FieldClientIP: c.ClientIP(),
			FieldTraceID:  GetTraceID(c),
		})
		if quietRoute(c) {
			entry.Debug("HTTP request")
		} else {
			entry.Info("HTTP request")
		}
	}
}

// RequestBodyLog 调试级别下记录请求体
func RequestBodyLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && log.IsLevelEnabled(logrus.DebugLevel) {
			body, err := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			if err == nil && len(body) > 0 {
				logBody(c, body)
			}
		}
		c.Next()
	}
}

func logBody(c *gin.Context, body []byte) {
	shown := body
	if len(shown) > maxLoggedBody {
		shown = shown[:maxLoggedBody]
	}
	log.WithFields(logrus.Fields{
		FieldMethod:  c.Request.Method,
		FieldPath:    c.Request.URL.Path,
		FieldTraceID: GetTraceID(c),
		"size":       len(body),
		"body":       string(shown),
	}).Debug("Request body")
}

// SetTraceID 沿用请求头中的追踪ID，没有时生成一个
func SetTraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(traceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDKey, traceID)
		c.Header(traceIDHeader, traceID)
		c.Next()
	}
}

// GetTraceID 读取当前请求的追踪ID
func GetTraceID(c *gin.Context) string {
	return c.GetString(traceIDKey)
}
