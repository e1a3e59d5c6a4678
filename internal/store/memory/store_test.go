package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.hrchat/internal/feed"
	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/internal/store"
)

func provision(t *testing.T, s *Store, key, hr, emp string) *model.Conversation {
	t.Helper()
	conv, err := s.Provision(context.Background(), key, hr, emp)
	require.NoError(t, err)
	return conv
}

func TestStore_ProvisionAndFind(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	conv := provision(t, s, "alice", "Sarah Connor (HR)", "Alice Johnson")

	assert.NotEmpty(t, conv.ID)
	assert.Nil(t, conv.LastActivityAt)

	byKey, err := s.FindByEmployeeKey(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, byKey.ID)

	byID, err := s.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Johnson", byID.EmployeeName())
	assert.Equal(t, "Sarah Connor (HR)", byID.HRName())

	_, err = s.Provision(ctx, "alice", "x", "y")
	assert.ErrorIs(t, err, store.ErrEmployeeKeyExists)

	_, err = s.FindByEmployeeKey(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindByID(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_FindReturnsCopy(t *testing.T) {
	s := New(nil)
	conv := provision(t, s, "alice", "HR (HR)", "Alice")

	got, err := s.FindByID(context.Background(), conv.ID)
	require.NoError(t, err)
	got.LastMessagePreview = "mutated"

	again, err := s.FindByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, again.LastMessagePreview)
}

func TestStore_UpdateLastActivityIfNewer(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	conv := provision(t, s, "alice", "HR (HR)", "Alice")
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		preview     string
		at          time.Time
		wantApplied bool
		wantPreview string
		wantAt      time.Time
	}{
		{"first activity always applies", "one", base, true, "one", base},
		{"newer applies", "two", base.Add(time.Second), true, "two", base.Add(time.Second)},
		{"older is ignored", "stale", base, false, "two", base.Add(time.Second)},
		{"equal is ignored", "same", base.Add(time.Second), false, "two", base.Add(time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := s.UpdateLastActivityIfNewer(ctx, conv.ID, tt.preview, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.wantApplied, applied)

			got, err := s.FindByID(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPreview, got.LastMessagePreview)
			require.NotNil(t, got.LastActivityAt)
			assert.True(t, tt.wantAt.Equal(*got.LastActivityAt))
		})
	}

	_, err := s.UpdateLastActivityIfNewer(ctx, "missing", "x", base)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ConcurrentCASKeepsLatest(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		t.Run(fmt.Sprintf("reversed=%v", reversed), func(t *testing.T) {
			s := New(nil)
			ctx := context.Background()
			conv := provision(t, s, "alice", "HR (HR)", "Alice")
			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

			const n = 50
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				i := i
				if reversed {
					i = n - 1 - i
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.UpdateLastActivityIfNewer(ctx, conv.ID, fmt.Sprintf("msg-%d", i), base.Add(time.Duration(i)*time.Millisecond))
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := s.FindByID(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("msg-%d", n-1), got.LastMessagePreview)
			assert.True(t, base.Add((n-1)*time.Millisecond).Equal(*got.LastActivityAt))
		})
	}
}

func TestStore_AppendAndList(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	conv := provision(t, s, "alice", "HR (HR)", "Alice")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// 插入顺序与 sentAt 顺序相反
	later, err := s.Append(ctx, &model.Message{ConversationID: conv.ID, SenderID: "emp_alice", Text: "later", SentAt: base.Add(time.Second)})
	require.NoError(t, err)
	earlier, err := s.Append(ctx, &model.Message{ConversationID: conv.ID, SenderID: "hr_sconnor", Text: "earlier", SentAt: base})
	require.NoError(t, err)

	assert.NotEmpty(t, later.ID)
	assert.NotEqual(t, later.ID, earlier.ID)
	assert.NotNil(t, earlier.Attachments)

	msgs, err := s.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier", msgs[0].Text)
	assert.Equal(t, "later", msgs[1].Text)

	found, err := s.FindMessageByID(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, "later", found.Text)

	_, err = s.FindMessageByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Append(ctx, &model.Message{ConversationID: "missing", Text: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.ListByConversation(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_AttachmentsRoundTrip(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	conv := provision(t, s, "alice", "HR (HR)", "Alice")

	atts := []model.Attachment{
		{URL: "https://blob/1", Kind: model.AttachmentImage, Name: "photo.jpg", SizeBytes: 1024, ExternalRef: "ref-1"},
		{URL: "https://blob/2", Kind: model.AttachmentFile, Name: "cv.pdf", SizeBytes: 2048},
	}
	_, err := s.Append(ctx, &model.Message{ConversationID: conv.ID, SenderID: "emp_alice", Attachments: atts, SentAt: time.Now()})
	require.NoError(t, err)

	// 调用方修改原切片不影响已存储的消息
	atts[0].Name = "changed"

	msgs, err := s.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Attachments, 2)
	assert.Equal(t, "photo.jpg", msgs[0].Attachments[0].Name)
	assert.Equal(t, "ref-1", msgs[0].Attachments[0].ExternalRef)
	assert.Equal(t, model.AttachmentFile, msgs[0].Attachments[1].Kind)
	assert.Equal(t, int64(2048), msgs[0].Attachments[1].SizeBytes)
}

func TestStore_ListAllOrdering(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	a := provision(t, s, "alice", "HR (HR)", "Alice")
	b := provision(t, s, "bob", "HR (HR)", "Bob")
	provision(t, s, "carol", "HR (HR)", "Carol")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.UpdateLastActivityIfNewer(ctx, a.ID, "a", base)
	require.NoError(t, err)
	_, err = s.UpdateLastActivityIfNewer(ctx, b.ID, "b", base.Add(time.Minute))
	require.NoError(t, err)

	convs, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, "bob", convs[0].EmployeeKey)
	assert.Equal(t, "alice", convs[1].EmployeeKey)
	assert.Equal(t, "carol", convs[2].EmployeeKey)
}

func TestStore_EmitsAfterWrite(t *testing.T) {
	local := feed.NewLocal()
	s := New(local)
	ctx := context.Background()

	var kinds []model.ChangeKind
	local.OnChange(func(ctx context.Context, ev model.ChangeEvent) {
		kinds = append(kinds, ev.Kind)
		// 事件到达时数据必须已可读
		switch ev.Kind {
		case model.ChangeMessageAppended:
			_, err := s.FindMessageByID(ctx, ev.Message.ID)
			assert.NoError(t, err)
		case model.ChangeConversationUpserted:
			_, err := s.FindByID(ctx, ev.Conversation.ID)
			assert.NoError(t, err)
		}
	})

	conv := provision(t, s, "alice", "HR (HR)", "Alice")
	_, err := s.Append(ctx, &model.Message{ConversationID: conv.ID, SenderID: "emp_alice", Text: "hi", SentAt: time.Now()})
	require.NoError(t, err)
	_, err = s.UpdateLastActivityIfNewer(ctx, conv.ID, "hi", time.Now())
	require.NoError(t, err)
	// 未生效的条件更新不发布事件
	_, err = s.UpdateLastActivityIfNewer(ctx, conv.ID, "old", time.Unix(0, 0))
	require.NoError(t, err)

	assert.Equal(t, []model.ChangeKind{
		model.ChangeConversationUpserted,
		model.ChangeMessageAppended,
		model.ChangeConversationUpserted,
	}, kinds)
}
