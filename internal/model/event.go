package model

// ChangeKind 变更事件类型
type ChangeKind string

const (
	ChangeConversationUpserted ChangeKind = "conversation-upserted"
	ChangeMessageAppended      ChangeKind = "message-appended"
)

// ChangeEvent 存储层变更事件（不持久化）
type ChangeEvent struct {
	Kind         ChangeKind    `json:"kind"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Message      *Message      `json:"message,omitempty"`
}

// ConversationID 事件所属会话 ID，用于路由
func (e ChangeEvent) ConversationID() string {
	switch {
	case e.Message != nil:
		return e.Message.ConversationID
	case e.Conversation != nil:
		return e.Conversation.ID
	}
	return ""
}

// NewMessageAppended 构建消息追加事件
func NewMessageAppended(msg *Message) ChangeEvent {
	return ChangeEvent{Kind: ChangeMessageAppended, Message: msg}
}

// NewConversationUpserted 构建会话更新事件
func NewConversationUpserted(conv *Conversation) ChangeEvent {
	return ChangeEvent{Kind: ChangeConversationUpserted, Conversation: conv}
}
