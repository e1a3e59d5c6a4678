// Package store 定义会话与消息存储接口，具体实现见 memory 与 postgres 子包
package store

import (
	"context"
	"errors"
	"time"

	"sudooom.hrchat/internal/model"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrEmployeeKeyExists = errors.New("store: employee key already exists")
)

// ConversationStore 会话存储（只读接口 + 元数据条件更新）
type ConversationStore interface {
	FindByEmployeeKey(ctx context.Context, key string) (*model.Conversation, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	// ListAll 按 LastActivityAt 倒序返回全部会话
	ListAll(ctx context.Context) ([]model.Conversation, error)
	// UpdateLastActivityIfNewer 原子条件更新：仅当会话没有 LastActivityAt
	// 或已有值严格早于 at 时写入 preview/at。applied 表示本次是否生效。
	UpdateLastActivityIfNewer(ctx context.Context, id, preview string, at time.Time) (applied bool, err error)
}

// MessageStore 消息存储
type MessageStore interface {
	Append(ctx context.Context, msg *model.Message) (*model.Message, error)
	// ListByConversation 按 SentAt 升序返回会话的全部消息
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	FindMessageByID(ctx context.Context, id string) (*model.Message, error)
}

// Provisioner 会话开通（仅供后台种子进程使用，不对外暴露）
type Provisioner interface {
	Provision(ctx context.Context, employeeKey, hrName, employeeName string) (*model.Conversation, error)
}

// Store 组合接口
type Store interface {
	ConversationStore
	MessageStore
	Provisioner
	Close()
}
