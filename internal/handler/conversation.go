package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.hrchat/internal/errors"
	"sudooom.hrchat/internal/identity"
	"sudooom.hrchat/internal/service"
	"sudooom.hrchat/pkg/response"
)

// ConversationHandler 会话与消息的请求/响应接口
type ConversationHandler struct {
	convs    *service.ConversationService
	messages *service.MessageService
	identity *identity.Resolver
	logger   *slog.Logger
}

// NewConversationHandler 创建处理器
func NewConversationHandler(convs *service.ConversationService, messages *service.MessageService, resolver *identity.Resolver) *ConversationHandler {
	return &ConversationHandler{
		convs:    convs,
		messages: messages,
		identity: resolver,
		logger:   slog.Default(),
	}
}

// ListConversations 会话列表，最近活动在前
// GET /api/v1/conversations
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	convs, err := h.convs.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, convs)
}

// GetConversation 单个会话
// GET /api/v1/conversations/:key
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, err := h.convs.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, conv)
}

// ListMessages 会话消息，按发送时间升序
// GET /api/v1/conversations/:key/messages
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	msgs, err := h.messages.List(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, msgs)
}

// SendMessage 发送消息
// POST /api/v1/messages
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, msg)
}

// DeriveSenderID 根据显示名计算发送者标识
// GET /api/v1/identity/sender-id?name=
func (h *ConversationHandler) DeriveSenderID(c *gin.Context) {
	senderID, err := h.identity.DeriveSenderID(c.Query("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"senderId": senderID})
}

func (h *ConversationHandler) fail(c *gin.Context, err error) {
	if !appErrors.IsValidation(err) {
		h.logger.Error("Request failed",
			"path", c.FullPath(),
			"error", err)
	}
	response.ErrorFromAppError(c, err)
}
