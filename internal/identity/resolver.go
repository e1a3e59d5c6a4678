package identity

import (
	"strings"

	appErrors "sudooom.hrchat/internal/errors"
	"sudooom.hrchat/internal/model"
)

const (
	// DefaultHRSenderID 固定的 HR 发送者标识
	DefaultHRSenderID = "hr_sconnor"
	// DefaultHRMarker 显示名中标识 HR 的标记
	DefaultHRMarker = "(HR)"
	// EmployeePrefix 员工发送者标识前缀
	EmployeePrefix = "emp_"
)

// Resolver 根据显示名推导发送者标识，并校验发送者是否属于会话
//
// 规则：
//   - 显示名包含 HR 标记（忽略大小写）或与配置的 HR 名称相同，返回固定 HR 标识
//   - 否则：转小写，去掉非 [a-z0-9] 和空白以外的字符，连续空白折叠为单个 "_"，加 "emp_" 前缀
type Resolver struct {
	hrSenderID string
	hrMarker   string
	hrNames    map[string]struct{}
}

// NewResolver 创建身份解析器，空参数使用默认值
func NewResolver(hrSenderID, hrMarker string, hrNames ...string) *Resolver {
	if hrSenderID == "" {
		hrSenderID = DefaultHRSenderID
	}
	if hrMarker == "" {
		hrMarker = DefaultHRMarker
	}
	names := make(map[string]struct{}, len(hrNames))
	for _, n := range hrNames {
		if n = normalizeSpace(n); n != "" {
			names[strings.ToLower(n)] = struct{}{}
		}
	}
	return &Resolver{
		hrSenderID: hrSenderID,
		hrMarker:   strings.ToLower(hrMarker),
		hrNames:    names,
	}
}

// HRSenderID 返回固定的 HR 发送者标识
func (r *Resolver) HRSenderID() string {
	return r.hrSenderID
}

// IsHR 显示名是否代表 HR 一方
func (r *Resolver) IsHR(displayName string) bool {
	lower := strings.ToLower(normalizeSpace(displayName))
	if lower == "" {
		return false
	}
	if strings.Contains(lower, r.hrMarker) {
		return true
	}
	_, ok := r.hrNames[lower]
	return ok
}

// DeriveSenderID 从显示名推导发送者标识
func (r *Resolver) DeriveSenderID(displayName string) (string, error) {
	if strings.TrimSpace(displayName) == "" {
		return "", appErrors.ErrInvalidIdentity
	}
	if r.IsHR(displayName) {
		return r.hrSenderID, nil
	}
	return EmployeePrefix + slug(displayName), nil
}

// IsSenderFor senderID 是否就是该参与者名推导出的标识
func (r *Resolver) IsSenderFor(senderID, participantName string) bool {
	derived, err := r.DeriveSenderID(participantName)
	if err != nil {
		return false
	}
	return senderID == derived
}

// ValidateSender senderID 是否属于会话的两位参与者之一
func (r *Resolver) ValidateSender(senderID string, conv *model.Conversation) bool {
	if conv == nil || senderID == "" {
		return false
	}
	return r.IsSenderFor(senderID, conv.HRName()) || r.IsSenderFor(senderID, conv.EmployeeName())
}

// slug 转小写、去除非字母数字字符、空白折叠为下划线
func slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' || r == '_':
			pendingSep = b.Len() > 0
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep {
				b.WriteByte('_')
				pendingSep = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
