// Package syncagent 客户端同步代理：每个连接的客户端（看板或移动端）一个实例。
//
// 代理维护按会话划分的消息缓存，把推送当作门铃：收到 new_message 后重新拉取完整消息列表，
// 不把推送内容当作消息本身。切换会话后到达的旧响应直接丢弃。
package syncagent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/pkg/proto"
)

var (
	ErrNoActiveConversation = errors.New("syncagent: no active conversation")
	ErrClosed               = errors.New("syncagent: agent closed")
)

// State 当前会话的同步状态
type State int

const (
	StateIdle        State = iota // 未选中会话
	StateSubscribing              // 已订阅，等待第一次拉取
	StateSynced                   // 缓存与存储一致
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateSynced:
		return "synced"
	}
	return "unknown"
}

// SendRequest 发送消息请求
type SendRequest struct {
	ConversationID string             `json:"conversationId"`
	SenderID       string             `json:"senderId"`
	Text           string             `json:"text"`
	Attachments    []model.Attachment `json:"attachments"`
}

// API 请求/响应接口
type API interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListMessages(ctx context.Context, keyOrID string) ([]model.Message, error)
	SendMessage(ctx context.Context, req SendRequest) (*model.Message, error)
}

// Transport 推送订阅通道
type Transport interface {
	Subscribe(scope, key string) error
	Unsubscribe(scope, key string) error
}

// Options 代理配置
type Options struct {
	SenderID string
	// RetryDelay 发送后补拉一次的等待时间，默认 300ms
	RetryDelay time.Duration
	// FetchTimeout 后台拉取的超时，默认 10s
	FetchTimeout time.Duration
	// OnMessages 当前会话的消息缓存被替换时回调
	OnMessages func(key string, msgs []model.Message)
	// OnConversations 会话列表变化时回调
	OnConversations func(convs []model.Conversation)
}

// Agent 客户端同步代理
type Agent struct {
	api       API
	transport Transport
	opts      Options
	logger    *slog.Logger

	mu         sync.Mutex
	active     string
	state      State
	generation uint64 // 选中/取消选中时递增
	fetchSeq   uint64
	appliedSeq uint64
	messages   map[string][]model.Message
	convs      map[string]model.Conversation
	watchers   int
	closed     bool

	// notifyMu 保证缓存替换和回调按拉取顺序进行
	notifyMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New 创建同步代理
func New(api API, transport Transport, opts Options) *Agent {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 300 * time.Millisecond
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &Agent{
		api:       api,
		transport: transport,
		opts:      opts,
		logger:    slog.Default(),
		messages:  make(map[string][]model.Message),
		convs:     make(map[string]model.Conversation),
		done:      make(chan struct{}),
	}
}

// State 当前状态
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Active 当前选中的会话 key（员工 key 或会话 ID），未选中为空
func (a *Agent) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Messages 返回缓存的消息
func (a *Agent) Messages(key string) []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneMessages(a.messages[key])
}

// Conversations 返回缓存的会话列表，最近活动的在前
func (a *Agent) Conversations() []model.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationList()
}

// Select 选中会话：订阅该会话范围并立即拉取。
// 之前访问过的会话先回调一次缓存内容，拉取完成后再替换。
func (a *Agent) Select(ctx context.Context, key string) ([]model.Message, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}

	a.mu.Lock()
	prev := a.active
	if prev == key && a.state != StateIdle {
		msgs := cloneMessages(a.messages[key])
		a.mu.Unlock()
		return msgs, nil
	}
	a.active = key
	a.state = StateSubscribing
	a.generation++
	gen := a.generation
	cached, hasCache := a.messages[key]
	cached = cloneMessages(cached)
	a.mu.Unlock()

	if prev != "" {
		a.unsubscribe(proto.ScopeConversation, prev)
	}
	// 推送不可用时仍可通过拉取工作
	a.subscribe(proto.ScopeConversation, key)

	if hasCache && a.opts.OnMessages != nil {
		a.opts.OnMessages(key, cached)
	}

	if err := a.refresh(ctx, key, gen); err != nil {
		return cached, err
	}
	return a.Messages(key), nil
}

// Deselect 取消选中并退订
func (a *Agent) Deselect() {
	a.mu.Lock()
	key := a.active
	if key == "" {
		a.mu.Unlock()
		return
	}
	a.active = ""
	a.state = StateIdle
	a.generation++
	a.mu.Unlock()

	a.unsubscribe(proto.ScopeConversation, key)
}

// Send 在当前会话发送消息。发送成功后立即重新拉取；
// 若拉取结果里还没有这条消息，约 300ms 后再补拉一次。
func (a *Agent) Send(ctx context.Context, text string, attachments []model.Attachment) (*model.Message, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}

	a.mu.Lock()
	key, gen := a.active, a.generation
	a.mu.Unlock()
	if key == "" {
		return nil, ErrNoActiveConversation
	}

	msg, err := a.api.SendMessage(ctx, SendRequest{
		ConversationID: key,
		SenderID:       a.opts.SenderID,
		Text:           text,
		Attachments:    attachments,
	})
	if err != nil {
		return nil, err
	}

	if err := a.refresh(ctx, key, gen); err != nil {
		a.logger.Warn("Refetch after send failed", "key", key, "error", err)
	}
	if !a.hasMessage(key, msg.ID) {
		a.scheduleRetry(key, gen)
	}
	return msg, nil
}

// WatchConversations 注册会话列表监听。第一个监听者订阅全局范围。
func (a *Agent) WatchConversations(ctx context.Context) ([]model.Conversation, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}

	a.mu.Lock()
	a.watchers++
	first := a.watchers == 1
	a.mu.Unlock()

	if first {
		a.subscribe(proto.ScopeConversations, "")
	}
	if err := a.refreshConversations(ctx); err != nil {
		return a.Conversations(), err
	}
	return a.Conversations(), nil
}

// UnwatchConversations 注销监听，最后一个监听者退订全局范围
func (a *Agent) UnwatchConversations() {
	a.mu.Lock()
	if a.watchers == 0 {
		a.mu.Unlock()
		return
	}
	a.watchers--
	last := a.watchers == 0
	a.mu.Unlock()

	if last {
		a.unsubscribe(proto.ScopeConversations, "")
	}
}

// HandleNotification 处理推送帧，由传输层的读循环调用，不阻塞
func (a *Agent) HandleNotification(frame proto.ServerFrame) {
	switch frame.Type {
	case proto.TypeNewMessage:
		a.mu.Lock()
		key, gen := a.active, a.generation
		a.mu.Unlock()
		if key == "" || (key != frame.ConversationID && key != frame.EmployeeKey) {
			return
		}
		a.spawn(func(ctx context.Context) {
			if err := a.refresh(ctx, key, gen); err != nil {
				a.logger.Warn("Refetch after push failed", "key", key, "error", err)
			}
		})

	case proto.TypeConversationUpdated:
		if frame.Conversation == nil {
			return
		}
		a.notifyMu.Lock()
		defer a.notifyMu.Unlock()

		a.mu.Lock()
		applied := a.applyConversation(*frame.Conversation)
		list := a.conversationList()
		a.mu.Unlock()
		if applied && a.opts.OnConversations != nil {
			a.opts.OnConversations(list)
		}

	case proto.TypeError:
		a.logger.Warn("Push error", "code", frame.Code, "error", frame.Error)

	default:
		a.logger.Debug("Push frame", "type", frame.Type, "scope", frame.Scope)
	}
}

// Resync 传输层重连后调用：重新订阅仍然活跃的范围并全量拉取。
// 断线期间错过的事件不回放，由拉取补齐。
func (a *Agent) Resync(ctx context.Context) error {
	a.mu.Lock()
	watching := a.watchers > 0
	key, gen := a.active, a.generation
	a.mu.Unlock()

	var errs []error
	if watching {
		a.subscribe(proto.ScopeConversations, "")
		if err := a.refreshConversations(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if key != "" {
		a.subscribe(proto.ScopeConversation, key)
		if err := a.refresh(ctx, key, gen); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 停止后台拉取并等待其退出
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.done)
		a.mu.Unlock()
	})
	a.wg.Wait()
}

// refresh 拉取会话消息并替换缓存。选中的会话已变化，或更晚发起的拉取已经生效时，结果被丢弃。
func (a *Agent) refresh(ctx context.Context, key string, gen uint64) error {
	a.mu.Lock()
	a.fetchSeq++
	seq := a.fetchSeq
	a.mu.Unlock()

	msgs, err := a.api.ListMessages(ctx, key)
	if err != nil {
		return err
	}

	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	if gen != a.generation || key != a.active || seq < a.appliedSeq {
		a.mu.Unlock()
		a.logger.Debug("Stale fetch ignored", "key", key)
		return nil
	}
	a.appliedSeq = seq
	a.messages[key] = msgs
	a.state = StateSynced
	a.mu.Unlock()

	if a.opts.OnMessages != nil {
		a.opts.OnMessages(key, cloneMessages(msgs))
	}
	return nil
}

// refreshConversations 拉取会话列表并逐条合并，推送带来的更新快照不会被更旧的拉取结果覆盖
func (a *Agent) refreshConversations(ctx context.Context) error {
	convs, err := a.api.ListConversations(ctx)
	if err != nil {
		return err
	}

	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	for _, c := range convs {
		a.applyConversation(c)
	}
	list := a.conversationList()
	a.mu.Unlock()

	if a.opts.OnConversations != nil {
		a.opts.OnConversations(list)
	}
	return nil
}

// applyConversation 只在新快照的最后活动时间不早于缓存时替换，需持有 mu
func (a *Agent) applyConversation(c model.Conversation) bool {
	cur, ok := a.convs[c.ID]
	if ok && cur.LastActivityAt != nil {
		if c.LastActivityAt == nil || c.LastActivityAt.Before(*cur.LastActivityAt) {
			return false
		}
	}
	a.convs[c.ID] = *c.Clone()
	return true
}

// conversationList 需持有 mu
func (a *Agent) conversationList() []model.Conversation {
	list := make([]model.Conversation, 0, len(a.convs))
	for _, c := range a.convs {
		list = append(list, *c.Clone())
	}
	model.SortConversations(list)
	return list
}

func (a *Agent) hasMessage(key, id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.messages[key] {
		if m.ID == id {
			return true
		}
	}
	return false
}

// scheduleRetry 一次性补拉，不循环
func (a *Agent) scheduleRetry(key string, gen uint64) {
	a.goTracked(func() {
		timer := time.NewTimer(a.opts.RetryDelay)
		defer timer.Stop()
		select {
		case <-a.done:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.opts.FetchTimeout)
		defer cancel()
		if err := a.refresh(ctx, key, gen); err != nil {
			a.logger.Warn("Retry fetch after send failed", "key", key, "error", err)
		}
	})
}

func (a *Agent) spawn(fn func(ctx context.Context)) {
	a.goTracked(func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.FetchTimeout)
		defer cancel()
		fn(ctx)
	})
}

// goTracked 启动受 Close 等待的 goroutine，关闭后不再启动
func (a *Agent) goTracked(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *Agent) subscribe(scope, key string) {
	if a.transport == nil {
		return
	}
	if err := a.transport.Subscribe(scope, key); err != nil {
		a.logger.Warn("Subscribe failed, relying on fetch", "scope", scope, "key", key, "error", err)
	}
}

func (a *Agent) unsubscribe(scope, key string) {
	if a.transport == nil {
		return
	}
	if err := a.transport.Unsubscribe(scope, key); err != nil {
		a.logger.Debug("Unsubscribe failed", "scope", scope, "key", key, "error", err)
	}
}

func (a *Agent) isClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func cloneMessages(msgs []model.Message) []model.Message {
	if msgs == nil {
		return nil
	}
	out := make([]model.Message, len(msgs))
	for i := range msgs {
		out[i] = *msgs[i].Clone()
	}
	return out
}
