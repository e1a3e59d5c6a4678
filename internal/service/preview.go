package service

import (
	"fmt"
	"strings"

	"sudooom.hrchat/internal/model"
)

// 附件预览标记
const (
	imageGlyph = "📷"
	fileGlyph  = "📎"
)

// BuildPreview 生成会话列表预览：正文（去首尾空白）+ 附件摘要，截断到 100 个字符。
// 附件摘要为第一个附件的标记和文件名，多个附件时追加 (+N)。
func BuildPreview(text string, attachments []model.Attachment) string {
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(text); t != "" {
		parts = append(parts, t)
	}
	if len(attachments) > 0 {
		parts = append(parts, attachmentSummary(attachments))
	}
	return truncate(strings.Join(parts, " "), model.MaxPreviewLength)
}

func attachmentSummary(attachments []model.Attachment) string {
	first := attachments[0]
	glyph := fileGlyph
	if first.Kind == model.AttachmentImage {
		glyph = imageGlyph
	}
	summary := glyph + " " + first.Name
	if n := len(attachments) - 1; n > 0 {
		summary += fmt.Sprintf(" (+%d)", n)
	}
	return summary
}

// truncate 按字符（rune）截断
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
