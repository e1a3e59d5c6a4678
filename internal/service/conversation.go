package service

import (
	"context"
	"errors"
	"log/slog"

	appErrors "sudooom.hrchat/internal/errors"
	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/internal/store"
)

// ConversationService 会话查询服务
type ConversationService struct {
	convs  store.ConversationStore
	logger *slog.Logger
}

// NewConversationService 创建会话服务
func NewConversationService(convs store.ConversationStore) *ConversationService {
	return &ConversationService{
		convs:  convs,
		logger: slog.Default(),
	}
}

// Resolve 按 employeeKey 或会话 ID 查找会话，先查 employeeKey。
// 兼容只知道员工 key 的调用方，所有按 key 定位会话的入口都经过这里。
func (s *ConversationService) Resolve(ctx context.Context, keyOrID string) (*model.Conversation, error) {
	if keyOrID == "" {
		return nil, appErrors.ErrConversationNotFound
	}

	conv, err := s.convs.FindByEmployeeKey(ctx, keyOrID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	conv, err = s.convs.FindByID(ctx, keyOrID)
	if err == nil {
		return conv, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, appErrors.ErrConversationNotFound
	}
	return nil, appErrors.ErrDBError.Wrap(err)
}

// Get 获取单个会话
func (s *ConversationService) Get(ctx context.Context, keyOrID string) (*model.Conversation, error) {
	return s.Resolve(ctx, keyOrID)
}

// List 返回全部会话，最近活动的在前
func (s *ConversationService) List(ctx context.Context) ([]model.Conversation, error) {
	convs, err := s.convs.ListAll(ctx)
	if err != nil {
		s.logger.Error("Failed to list conversations", "error", err)
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	return convs, nil
}
