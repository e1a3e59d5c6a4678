package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	appErrors "sudooom.hrchat/internal/errors"
	"sudooom.hrchat/internal/identity"
	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/internal/store"
)

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	ConversationID string             `json:"conversationId" binding:"required"` // 会话 ID 或员工 key
	SenderID       string             `json:"senderId" binding:"required"`       // 发送者标识
	Text           string             `json:"text"`
	Attachments    []model.Attachment `json:"attachments"`
}

// MessageService 消息服务
type MessageService struct {
	convs    *ConversationService
	metadata store.ConversationStore
	messages store.MessageStore
	identity *identity.Resolver
	clock    func() time.Time
	logger   *slog.Logger
}

// NewMessageService 创建消息服务
func NewMessageService(convs *ConversationService, metadata store.ConversationStore, messages store.MessageStore, resolver *identity.Resolver) *MessageService {
	return &MessageService{
		convs:    convs,
		metadata: metadata,
		messages: messages,
		identity: resolver,
		clock:    time.Now,
		logger:   slog.Default(),
	}
}

// SetClock 替换时钟（测试用）
func (s *MessageService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// now 服务端时间，截断到微秒与 PostgreSQL timestamptz 精度一致
func (s *MessageService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// Send 校验并追加消息，然后条件更新会话的最后活动信息
func (s *MessageService) Send(ctx context.Context, req *SendMessageRequest) (*model.Message, error) {
	conv, err := s.convs.Resolve(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	if !s.identity.ValidateSender(req.SenderID, conv) {
		s.logger.Warn("Rejected message from non-participant",
			"conversationId", conv.ID,
			"senderId", req.SenderID)
		return nil, appErrors.ErrInvalidSender
	}
	if err := validateContent(req.Text, req.Attachments); err != nil {
		return nil, err
	}

	preview := BuildPreview(req.Text, req.Attachments)
	msg := &model.Message{
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Text:           req.Text,
		Attachments:    req.Attachments,
		SentAt:         s.now(),
	}

	saved, err := s.messages.Append(ctx, msg)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrConversationNotFound
		}
		s.logger.Error("Failed to append message", "conversationId", conv.ID, "error", err)
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	// 消息已持久化：元数据更新失败只记录，不回滚，下一条消息会修正
	applied, err := s.metadata.UpdateLastActivityIfNewer(ctx, conv.ID, preview, saved.SentAt)
	if err != nil {
		s.logger.Error("Failed to update conversation activity",
			"conversationId", conv.ID,
			"messageId", saved.ID,
			"error", err)
	} else if !applied {
		s.logger.Debug("Conversation already has newer activity",
			"conversationId", conv.ID,
			"messageId", saved.ID)
	}

	s.logger.Info("Message accepted",
		"conversationId", conv.ID,
		"messageId", saved.ID,
		"senderId", saved.SenderID,
		"attachments", len(saved.Attachments))

	return saved, nil
}

// List 按发送时间升序返回会话消息
func (s *MessageService) List(ctx context.Context, keyOrID string) ([]model.Message, error) {
	conv, err := s.convs.Resolve(ctx, keyOrID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrConversationNotFound
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	return msgs, nil
}

// validateContent 正文与附件校验
func validateContent(text string, attachments []model.Attachment) error {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return appErrors.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > model.MaxTextLength {
		return appErrors.ErrMessageTooLong
	}
	for _, a := range attachments {
		if strings.TrimSpace(a.URL) == "" || strings.TrimSpace(a.Name) == "" || !a.Kind.Valid() {
			return appErrors.ErrInvalidAttachment
		}
	}
	return nil
}
