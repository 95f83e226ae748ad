// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"

	// 业务流程相关
	ErrorTypePrecondition ErrorType = "precondition_failed" // 缺少必要的选择，调用模型前拒绝
	ErrorTypeBusy         ErrorType = "busy"                // 已有生成任务在进行
	ErrorTypeUpstream     ErrorType = "upstream_error"      // 模型服务调用失败，可重试
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewPreconditionError 用户缺少必要选择
func NewPreconditionError(message string) *AppError {
	return NewAppError(ErrorTypePrecondition, message, nil)
}

// NewBusyError 已有任务在执行
func NewBusyError(message string) *AppError {
	return NewAppError(ErrorTypeBusy, message, nil)
}

// NewUpstreamError 模型服务失败
func NewUpstreamError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUpstream, message, originalError)
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeValidation
	}
	return false
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeNotFound
	}
	return false
}

// IsPreconditionError 检查是否为前置条件错误
func IsPreconditionError(err error) bool {
	return TypeOf(err) == ErrorTypePrecondition
}

// IsBusyError 检查是否为忙碌错误
func IsBusyError(err error) bool {
	return TypeOf(err) == ErrorTypeBusy
}

// IsUpstreamError 检查是否为模型服务错误
func IsUpstreamError(err error) bool {
	return TypeOf(err) == ErrorTypeUpstream
}

// TypeOf 返回错误链上第一个 AppError 的类型
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeConflict
	}
	return false
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypePrecondition:
		return "PRECONDITION_FAILED"
	case ErrorTypeBusy:
		return "BUSY"
	case ErrorTypeUpstream:
		return "UPSTREAM_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
