// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"
	ErrorUnauthorized  = "UNAUTHORIZED"

	// 流程相关错误
	ErrorPrecondition = "PRECONDITION_FAILED"
	ErrorBusy         = "GENERATION_IN_PROGRESS"
	ErrorNoContext    = "NO_ACTIVE_CONTEXT"

	// 资源
	ErrorProjectNotFound   = "PROJECT_NOT_FOUND"
	ErrorKnowledgeNotFound = "KNOWLEDGE_FILE_NOT_FOUND"
	ErrorSegmentNotFound   = "SEGMENT_NOT_FOUND"
	ErrorMessageNotFound   = "MESSAGE_NOT_FOUND"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"

	// 导出相关错误
	ErrorExportFailed        = "EXPORT_FAILED"
	ErrorExportFormatInvalid = "EXPORT_FORMAT_INVALID"
)

// statusForError 按错误类型映射HTTP状态码与错误代码
func statusForError(err error) (int, string) {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorBadRequest
	case apperrors.ErrorTypePrecondition:
		return http.StatusUnprocessableEntity, ErrorPrecondition
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case apperrors.ErrorTypeBusy:
		return http.StatusConflict, ErrorBusy
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorConflict
	case apperrors.ErrorTypeUpstream:
		return http.StatusBadGateway, ErrorLLMServiceUnavailable
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, ErrorLLMServiceUnavailable
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
