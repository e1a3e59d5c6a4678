// Package proto 推送通道的 JSON 帧定义，服务端 push 包与客户端 syncagent 共用
package proto

import "sudooom.hrchat/internal/model"

// 客户端 -> 服务端帧类型
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// 订阅范围（客户端视角）
const (
	ScopeConversations = "conversations" // 会话列表
	ScopeConversation  = "conversation"  // 单个会话，Key 为会话 ID 或员工 key
)

// 服务端 -> 客户端帧类型
const (
	TypeConnected           = "connected"
	TypeSubscribed          = "subscribed"
	TypeUnsubscribed        = "unsubscribed"
	TypeConversationUpdated = "conversation_updated"
	TypeNewMessage          = "new_message"
	TypeError               = "error"
)

// 错误码
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnsupportedType = "unsupported_type"
)

// ClientFrame 客户端上行帧
type ClientFrame struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
	Key   string `json:"key,omitempty"`
}

// ServerFrame 服务端下行帧
//
// new_message 是门铃：只带定位字段，客户端必须重新拉取消息列表。
type ServerFrame struct {
	Type           string              `json:"type"`
	ClientID       string              `json:"clientId,omitempty"`
	Scope          string              `json:"scope,omitempty"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	ConversationID string              `json:"conversationId,omitempty"`
	EmployeeKey    string              `json:"employeeKey,omitempty"`
	MessageID      string              `json:"messageId,omitempty"`
	Code           string              `json:"code,omitempty"`
	Error          string              `json:"error,omitempty"`
}
