// Package memory 进程内存储实现，用于开发、测试和单机部署
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.hrchat/internal/feed"
	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/internal/store"
	"sudooom.hrchat/internal/store/idgen"
)

// entry 单个会话的数据，消息列表和元数据由 entry 自己的锁保护
type entry struct {
	mu   sync.Mutex
	conv model.Conversation
	msgs []model.Message
}

// Store 内存存储
//
// 顶层读写锁只保护索引（会话的增删查），单个会话的写入只锁该会话，
// 不同会话之间的发送互不阻塞。
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*entry
	byKey map[string]*entry

	messages sync.Map // messageID -> model.Message

	ids     *idgen.Node
	emitter feed.Emitter
	logger  *slog.Logger
}

// New 创建内存存储；emitter 为 nil 时不发布变更事件
func New(emitter feed.Emitter) *Store {
	return &Store{
		byID:    make(map[string]*entry),
		byKey:   make(map[string]*entry),
		ids:     idgen.NewNode(1),
		emitter: emitter,
		logger:  slog.Default(),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) emit(ctx context.Context, ev model.ChangeEvent) {
	if s.emitter != nil {
		s.emitter.Emit(ctx, ev)
	}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	return e, ok
}

// Provision 开通会话，employeeKey 已存在时返回 ErrEmployeeKeyExists
func (s *Store) Provision(ctx context.Context, employeeKey, hrName, employeeName string) (*model.Conversation, error) {
	s.mu.Lock()
	if _, exists := s.byKey[employeeKey]; exists {
		s.mu.Unlock()
		return nil, store.ErrEmployeeKeyExists
	}
	e := &entry{conv: model.Conversation{
		ID:               s.ids.NextString(),
		EmployeeKey:      employeeKey,
		ParticipantNames: [2]string{hrName, employeeName},
	}}
	s.byID[e.conv.ID] = e
	s.byKey[employeeKey] = e
	conv := e.conv.Clone()
	s.mu.Unlock()

	s.logger.Info("Conversation provisioned", "conversationId", conv.ID, "employeeKey", employeeKey)
	s.emit(ctx, model.NewConversationUpserted(conv.Clone()))
	return conv, nil
}

// FindByEmployeeKey 按员工 key 查找会话
func (s *Store) FindByEmployeeKey(ctx context.Context, key string) (*model.Conversation, error) {
	s.mu.RLock()
	e, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.snapshot(), nil
}

// FindByID 按会话 ID 查找
func (s *Store) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.snapshot(), nil
}

// ListAll 返回全部会话，最近活动的在前
func (s *Store) ListAll(ctx context.Context) ([]model.Conversation, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	convs := make([]model.Conversation, 0, len(entries))
	for _, e := range entries {
		convs = append(convs, *e.snapshot())
	}
	model.SortConversations(convs)
	return convs, nil
}

// UpdateLastActivityIfNewer 在会话锁内完成比较和写入
func (s *Store) UpdateLastActivityIfNewer(ctx context.Context, id, preview string, at time.Time) (bool, error) {
	e, ok := s.lookup(id)
	if !ok {
		return false, store.ErrNotFound
	}

	e.mu.Lock()
	if !e.conv.ActivityBefore(at) {
		e.mu.Unlock()
		return false, nil
	}
	t := at
	e.conv.LastActivityAt = &t
	e.conv.LastMessagePreview = preview
	conv := e.conv.Clone()
	e.mu.Unlock()

	s.emit(ctx, model.NewConversationUpserted(conv))
	return true, nil
}

// Append 追加消息，未指定 ID 时分配一个
func (s *Store) Append(ctx context.Context, msg *model.Message) (*model.Message, error) {
	e, ok := s.lookup(msg.ConversationID)
	if !ok {
		return nil, store.ErrNotFound
	}

	saved := msg.Clone()
	if saved.ID == "" {
		saved.ID = s.ids.NextString()
	}
	if saved.Attachments == nil {
		saved.Attachments = []model.Attachment{}
	}

	e.mu.Lock()
	e.msgs = append(e.msgs, *saved)
	e.mu.Unlock()
	s.messages.Store(saved.ID, *saved)

	s.emit(ctx, model.NewMessageAppended(saved.Clone()))
	return saved, nil
}

// ListByConversation 返回会话消息，按发送时间升序
func (s *Store) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	e, ok := s.lookup(conversationID)
	if !ok {
		return nil, store.ErrNotFound
	}

	e.mu.Lock()
	msgs := make([]model.Message, len(e.msgs))
	for i := range e.msgs {
		msgs[i] = *e.msgs[i].Clone()
	}
	e.mu.Unlock()

	model.SortMessages(msgs)
	return msgs, nil
}

// FindMessageByID 按消息 ID 查找
func (s *Store) FindMessageByID(ctx context.Context, id string) (*model.Message, error) {
	v, ok := s.messages.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	msg := v.(model.Message)
	return msg.Clone(), nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() {}

func (e *entry) snapshot() *model.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone()
}
