package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"sudooom.hrchat/internal/model"
)

func TestBuildPreview(t *testing.T) {
	img := model.Attachment{URL: "u", Kind: model.AttachmentImage, Name: "photo.jpg"}
	file := model.Attachment{URL: "u", Kind: model.AttachmentFile, Name: "report.pdf"}

	tests := []struct {
		name        string
		text        string
		attachments []model.Attachment
		want        string
	}{
		{"text only", "Hi Alice", nil, "Hi Alice"},
		{"text is trimmed", "  Thanks!\n", nil, "Thanks!"},
		{"single image", "", []model.Attachment{img}, "📷 photo.jpg"},
		{"single file", "", []model.Attachment{file}, "📎 report.pdf"},
		{"two attachments", "", []model.Attachment{img, file}, "📷 photo.jpg (+1)"},
		{"three attachments led by file", "", []model.Attachment{file, img, img}, "📎 report.pdf (+2)"},
		{"text with attachment", "see this", []model.Attachment{img}, "see this 📷 photo.jpg"},
		{"blank text with attachment", "   ", []model.Attachment{file}, "📎 report.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildPreview(tt.text, tt.attachments))
		})
	}
}

func TestBuildPreview_TruncatesByCharacter(t *testing.T) {
	long := strings.Repeat("你好", 80)
	got := BuildPreview(long, nil)
	assert.Equal(t, model.MaxPreviewLength, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))

	exact := strings.Repeat("a", model.MaxPreviewLength)
	assert.Equal(t, exact, BuildPreview(exact, nil))
}
