// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError API错误信息
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, message...)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	if len(message) == 0 {
		message = []string{"资源创建成功"}
	}
	rh.write(c, http.StatusCreated, data, message...)
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(status, response)
}

// sanitizeErrorMessage 错误信息中含有密钥类字样时整体替换
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "token", "authorization"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

// FromError 按错误类型输出响应；AppError 只向调用方暴露其消息
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	status, code := statusForError(err)

	message := "服务器内部错误"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		utils.GetLogger().Error("请求处理失败", map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": rh.getRequestID(c),
			"error":      err,
		})
		utils.GetMetricsCollector().RecordError(string(apperrors.TypeOf(err)), "api")
	}
	rh.Error(c, status, code, message)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	rh.Error(c, http.StatusNotFound, rh.getResourceNotFoundCode(resource), resource+"不存在", details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// Conflict 409错误响应
func (rh *ResponseHelper) Conflict(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusConflict, ErrorConflict, message, details...)
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// getResourceNotFoundCode 根据资源类型生成错误代码
func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch resource {
	case "项目", "project":
		return ErrorProjectNotFound
	case "文件", "knowledge":
		return ErrorKnowledgeNotFound
	case "脚本段", "segment":
		return ErrorSegmentNotFound
	case "消息", "message":
		return ErrorMessageNotFound
	default:
		return ErrorNotFound
	}
}

// ExportResponse 导出响应：format=json 时走标准信封，否则作为附件下载
func (rh *ResponseHelper) ExportResponse(c *gin.Context, result *models.ExportResult, asJSON bool) {
	if asJSON {
		rh.Success(c, result, "导出成功")
		return
	}
	rh.DownloadResponse(c, result.Content, result.FileName, result.ContentType)
}

// DownloadResponse 下载响应（强制下载）
func (rh *ResponseHelper) DownloadResponse(c *gin.Context, content string, filename string, contentType string) {
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Length", strconv.Itoa(len(content)))
	c.String(http.StatusOK, content)
}
