package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.hrchat/internal/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 错误码常量（使用 internal/errors 包的定义）
const (
	CodeSuccess = appErrors.CodeSuccess

	CodeInvalidParams = appErrors.CodeInvalidParams

	// 会话/消息相关 20000-20999
	CodeConversationNotFound = appErrors.CodeConversationNotFound
	CodeInvalidSender        = appErrors.CodeInvalidSender
	CodeEmptyMessage         = appErrors.CodeEmptyMessage
	CodeMessageTooLong       = appErrors.CodeMessageTooLong
	CodeInvalidAttachment    = appErrors.CodeInvalidAttachment
	CodeInvalidIdentity      = appErrors.CodeInvalidIdentity

	// 系统错误 50000-50999
	CodeServerError = appErrors.CodeServerError
	CodeDBError     = appErrors.CodeDBError
)

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// ErrorWithMsg 参数错误等自定义消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorFromAppError 从 AppError 生成错误响应，HTTP 状态码按错误类别映射
func ErrorFromAppError(c *gin.Context, err error) {
	c.JSON(appErrors.HTTPStatus(err), Response{
		Code:    appErrors.GetCode(err),
		Message: appErrors.GetMessage(err),
		Data:    nil,
	})
}
