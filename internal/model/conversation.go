package model

import "time"

const (
	// ParticipantHR 参与者数组中 HR 的下标
	ParticipantHR = 0
	// ParticipantEmployee 参与者数组中员工的下标
	ParticipantEmployee = 1

	// MaxPreviewLength 会话预览最大字符数
	MaxPreviewLength = 100
)

// Conversation HR 与员工的一对一会话（每个员工一条）
type Conversation struct {
	ID                 string     `json:"id"`
	EmployeeKey        string     `json:"employeeKey"`
	ParticipantNames   [2]string  `json:"participantNames"` // [HR 显示名, 员工显示名]
	LastMessagePreview string     `json:"lastMessagePreview"`
	LastActivityAt     *time.Time `json:"lastActivityAt,omitempty"`
}

// HRName 返回 HR 一方的显示名
func (c *Conversation) HRName() string {
	return c.ParticipantNames[ParticipantHR]
}

// EmployeeName 返回员工一方的显示名
func (c *Conversation) EmployeeName() string {
	return c.ParticipantNames[ParticipantEmployee]
}

// ActivityBefore 判断会话的最后活动时间是否为空或早于 t
func (c *Conversation) ActivityBefore(t time.Time) bool {
	return c.LastActivityAt == nil || c.LastActivityAt.Before(t)
}

// Clone 返回深拷贝，避免调用方修改存储层持有的对象
func (c *Conversation) Clone() *Conversation {
	cp := *c
	if c.LastActivityAt != nil {
		t := *c.LastActivityAt
		cp.LastActivityAt = &t
	}
	return &cp
}
