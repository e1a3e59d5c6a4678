package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 调用方可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// IsValidation 是否为确定性的校验失败（重试同样的输入会得到同样的错误）
func IsValidation(err error) bool {
	code := GetCode(err)
	return (code >= 20000 && code < 21000) || code == CodeInvalidParams
}

// HTTPStatus 错误码映射到 HTTP 状态码
func HTTPStatus(err error) int {
	switch code := GetCode(err); {
	case code == CodeConversationNotFound:
		return http.StatusNotFound
	case IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 参数相关 11000-11999
	CodeInvalidParams = 11002

	// 会话/消息相关 20000-20999
	CodeConversationNotFound = 20001
	CodeInvalidSender        = 20002
	CodeEmptyMessage         = 20003
	CodeMessageTooLong       = 20004
	CodeInvalidAttachment    = 20005
	CodeInvalidIdentity      = 20006

	// 系统错误 50000-50999
	CodeServerError = 50001
	CodeDBError     = 50002
)

// ============== 预定义错误 ==============

var (
	ErrInvalidParams = NewError(CodeInvalidParams, "参数校验失败")
)

// 会话/消息相关
var (
	ErrConversationNotFound = NewError(CodeConversationNotFound, "会话不存在")
	ErrInvalidSender        = NewError(CodeInvalidSender, "发送者不属于该会话")
	ErrEmptyMessage         = NewError(CodeEmptyMessage, "消息内容和附件不能同时为空")
	ErrMessageTooLong       = NewError(CodeMessageTooLong, "消息内容超过 1000 字符")
	ErrInvalidAttachment    = NewError(CodeInvalidAttachment, "附件信息不完整或类型不支持")
	ErrInvalidIdentity      = NewError(CodeInvalidIdentity, "无效的身份名称")
)

// 系统相关
var (
	ErrServerError = NewError(CodeServerError, "服务器内部错误")
	ErrDBError     = NewError(CodeDBError, "数据库错误")
)
