package model

import (
	"sort"
	"time"
)

// MaxTextLength 消息正文最大字符数
const MaxTextLength = 1000

// AttachmentKind 附件类型
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image" // 图片
	AttachmentFile  AttachmentKind = "file"  // 文件
)

// Valid 是否为支持的附件类型
func (k AttachmentKind) Valid() bool {
	return k == AttachmentImage || k == AttachmentFile
}

// Attachment 消息附件，字段来自外部上传服务的返回值
type Attachment struct {
	URL         string         `json:"url"`
	Kind        AttachmentKind `json:"kind"`
	Name        string         `json:"name"`
	SizeBytes   int64          `json:"sizeBytes"`
	ExternalRef string         `json:"externalRef,omitempty"`
}

// Message 会话中的一条消息，创建后不可修改
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments"`
	SentAt         time.Time    `json:"sentAt"`
}

// Clone 深拷贝消息（附件切片单独复制）
func (m *Message) Clone() *Message {
	cp := *m
	if m.Attachments != nil {
		cp.Attachments = make([]Attachment, len(m.Attachments))
		copy(cp.Attachments, m.Attachments)
	}
	return &cp
}

// SortMessages 按 SentAt 升序排序，时间相同时按 ID 排序保证稳定
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
}

// SortConversations 按最后活动时间倒序，从未活动的会话排在最后
func SortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastActivityAt, convs[j].LastActivityAt
		switch {
		case a == nil && b == nil:
			return convs[i].EmployeeKey < convs[j].EmployeeKey
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
