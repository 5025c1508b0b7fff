package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/ocr-proofreader/api/model"
	"github.com/fyerfyer/ocr-proofreader/internal/highlight"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/pagesource"
	"github.com/fyerfyer/ocr-proofreader/internal/viewer"
	"github.com/fyerfyer/ocr-proofreader/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 错误类型
const (
	ErrorTypeValidation  = "VALIDATION_ERROR"
	ErrorTypeNotFound    = "NOT_FOUND_ERROR"
	ErrorTypeConflict    = "CONFLICT_ERROR"    // 当前状态下不允许的操作
	ErrorTypeUnavailable = "UNAVAILABLE_ERROR" // 依赖的功能未配置或不可用
	ErrorTypeInternal    = "INTERNAL_ERROR"
)

// AppError 带HTTP状态码的应用错误
type AppError struct {
	Type    string
	Message string
	Details string
	Code    int
}

func (e AppError) Error() string {
	if e.Details == "" {
		return e.Type + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// errorKind 领域错误对应的错误类型和状态码
type errorKind struct {
	typ  string
	code int
	errs []error
}

// errorKinds 按顺序匹配，第一个命中的生效
var errorKinds = []errorKind{
	{ErrorTypeValidation, http.StatusBadRequest, []error{
		models.ErrOutOfRange,
		models.ErrInvalidSide,
		models.ErrUnknownEngine,
		viewer.ErrInvalidRightSource,
		viewer.ErrNoDiff,
		highlight.ErrInvalidPattern,
	}},
	{ErrorTypeNotFound, http.StatusNotFound, []error{
		models.ErrPageNotFound,
		models.ErrJobNotFound,
		models.ErrOCRResultNotFound,
		taskqueue.ErrTaskNotFound,
	}},
	{ErrorTypeConflict, http.StatusConflict, []error{
		viewer.ErrOCRReadOnly,
	}},
	{ErrorTypeUnavailable, http.StatusServiceUnavailable, []error{
		pagesource.ErrNoSource,
		models.ErrOCRDisabled,
	}},
	{ErrorTypeUnavailable, http.StatusUnprocessableEntity, []error{
		models.ErrPageRender,
	}},
}

// FromError 把处理器返回的错误转换为应用错误，未识别的错误按500处理
func FromError(err error) AppError {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var appErrPtr *AppError
	if errors.As(err, &appErrPtr) {
		return *appErrPtr
	}

	for _, kind := range errorKinds {
		for _, target := range kind.errs {
			if errors.Is(err, target) {
				return AppError{Type: kind.typ, Message: err.Error(), Code: kind.code}
			}
		}
	}

	return AppError{
		Type:    ErrorTypeInternal,
		Message: "Internal server error",
		Details: err.Error(),
		Code:    http.StatusInternalServerError,
	}
}

// abortWith 写出错误响应并终止处理链
func abortWith(c *gin.Context, code int, message string) {
	resp := model.NewErrorResponse(code, message)
	resp.TraceID = GetTraceID(c)
	c.AbortWithStatusJSON(code, resp)
}

// ErrorMiddleware 恢复panic，并把 c.Errors 中最后一个错误写成统一响应
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.WithFields(logrus.Fields{
				"error":   r,
				"stack":   string(debug.Stack()),
				FieldPath: c.Request.URL.Path,
			}).Error("Panic recovered in API request")

			message := "An unexpected error occurred"
			if gin.IsDebugging() {
				message = fmt.Sprintf("Panic: %v", r)
			}
			abortWith(c, http.StatusInternalServerError, message)
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := FromError(c.Errors.Last().Err)
		entry := log.WithFields(logrus.Fields{
			"error_type":  appErr.Type,
			FieldTraceID: GetTraceID(c),
			FieldPath:    c.Request.URL.Path,
		})

		message := appErr.Message
		if appErr.Code >= http.StatusInternalServerError {
			entry.WithField("details", appErr.Details).Error(appErr.Message)
			// 调试模式下把内部错误原文返回给前端
			if appErr.Details != "" && gin.IsDebugging() {
				message = appErr.Details
			}
		} else {
			entry.Warn(appErr.Message)
		}

		abortWith(c, appErr.Code, message)
	}
}

// HandleError 处理器中记录错误，由 ErrorMiddleware 统一输出
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
