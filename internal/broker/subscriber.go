package broker

import (
	"sync"

	"sudooom.hrchat/internal/model"
)

// 订阅范围
const (
	// GlobalScope 会话列表范围
	GlobalScope = "conversations"
	// conversationScopePrefix 单个会话范围前缀
	conversationScopePrefix = "conversation:"
)

// ConversationScope 返回会话范围名
func ConversationScope(key string) string {
	return conversationScopePrefix + key
}

// 通知类型
const (
	TypeConversationUpdated = "conversation_updated"
	TypeNewMessage          = "new_message"
)

// Notification 推送给订阅者的通知
//
// new_message 只是门铃：只带定位信息，客户端收到后必须重新拉取消息列表。
type Notification struct {
	Type           string              `json:"type"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	ConversationID string              `json:"conversationId,omitempty"`
	EmployeeKey    string              `json:"employeeKey,omitempty"`
	MessageID      string              `json:"messageId,omitempty"`
}

// Subscriber 订阅者。Send 必须非阻塞，返回 false 表示通知被丢弃。
type Subscriber interface {
	ID() string
	Send(n Notification) bool
}

// ChanSubscriber 基于缓冲 channel 的订阅者，缓冲满时丢弃
type ChanSubscriber struct {
	id     string
	ch     chan Notification
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewChanSubscriber 创建 channel 订阅者
func NewChanSubscriber(id string, buffer int) *ChanSubscriber {
	return &ChanSubscriber{id: id, ch: make(chan Notification, buffer)}
}

func (s *ChanSubscriber) ID() string { return s.id }

// Send 非阻塞发送
func (s *ChanSubscriber) Send(n Notification) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- n:
		return true
	default:
		return false
	}
}

// C 通知 channel
func (s *ChanSubscriber) C() <-chan Notification {
	return s.ch
}

// Close 关闭 channel
func (s *ChanSubscriber) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
