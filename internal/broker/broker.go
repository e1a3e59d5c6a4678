// Package broker 把存储变更事件扇出给订阅者。
//
// 两类范围：全局会话列表 "conversations"，以及每个会话一个的 "conversation:<id>"。
// 投递尽力而为：慢订阅者的通知被丢弃，不会阻塞其他订阅者。
package broker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"sudooom.hrchat/internal/feed"
	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/internal/workerpool"
)

// ConversationResolver 重新读取事件所属会话
type ConversationResolver interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
}

// Stats 运行统计
type Stats struct {
	FeedAvailable bool             `json:"feedAvailable"`
	Scopes        int              `json:"scopes"`
	Subscriptions int              `json:"subscriptions"`
	Delivered     uint64           `json:"delivered"`
	Dropped       uint64           `json:"dropped"`
	Pool          workerpool.Stats `json:"pool"`
}

// Broker 扇出服务，进程内单例，由 main 创建并注入
type Broker struct {
	registry *registry
	convs    ConversationResolver
	pool     *workerpool.Pool
	logger   *slog.Logger

	resolveTimeout time.Duration
	feedAvailable  atomic.Bool
	stopped        atomic.Bool
	delivered      atomic.Uint64
	dropped        atomic.Uint64
}

// New 创建 Broker
func New(convs ConversationResolver, pool *workerpool.Pool) *Broker {
	return &Broker{
		registry:       newRegistry(),
		convs:          convs,
		pool:           pool,
		logger:         slog.Default(),
		resolveTimeout: 5 * time.Second,
	}
}

// Start 注册到变更通知源。通知源不可用时只记录警告，推送降级，请求/响应路径不受影响。
func (b *Broker) Start(f feed.Feed) {
	if f == nil || !f.Available() {
		b.logger.Warn("Change feed unavailable, push notifications disabled")
		return
	}
	f.OnChange(b.HandleChange)
	b.feedAvailable.Store(true)
	b.logger.Info("Broker attached to change feed")
}

// Shutdown 停止处理事件并等待队列中的投递完成
func (b *Broker) Shutdown() {
	if b.stopped.Swap(true) {
		return
	}
	b.pool.Shutdown()
	b.logger.Info("Broker shutdown completed")
}

// Subscribe 加入范围（幂等）
func (b *Broker) Subscribe(sub Subscriber, scope string) {
	if b.registry.add(scope, sub) {
		b.logger.Debug("Subscribed", "clientId", sub.ID(), "scope", scope)
	}
}

// Unsubscribe 退出范围（幂等）
func (b *Broker) Unsubscribe(subscriberID, scope string) {
	if b.registry.remove(scope, subscriberID) {
		b.logger.Debug("Unsubscribed", "clientId", subscriberID, "scope", scope)
	}
}

// UnsubscribeAll 退出全部范围，连接断开时调用
func (b *Broker) UnsubscribeAll(subscriberID string) {
	scopes := b.registry.removeAll(subscriberID)
	if len(scopes) > 0 {
		b.logger.Debug("Unsubscribed from all scopes", "clientId", subscriberID, "scopes", len(scopes))
	}
}

// ScopeSize 范围内订阅者数量
func (b *Broker) ScopeSize(scope string) int {
	return b.registry.size(scope)
}

// Stats 返回运行统计
func (b *Broker) Stats() Stats {
	scopes, subs := b.registry.counts()
	return Stats{
		FeedAvailable: b.feedAvailable.Load(),
		Scopes:        scopes,
		Subscriptions: subs,
		Delivered:     b.delivered.Load(),
		Dropped:       b.dropped.Load(),
		Pool:          b.pool.Stats(),
	}
}

// HandleChange 变更事件入口，投递交给 worker pool，不阻塞通知源
func (b *Broker) HandleChange(ctx context.Context, ev model.ChangeEvent) {
	if b.stopped.Load() {
		return
	}
	if !b.pool.TrySubmit(func() { b.process(ev) }) {
		b.logger.Warn("Broker queue full, change event dropped",
			"kind", ev.Kind,
			"conversationId", ev.ConversationID())
	}
}

func (b *Broker) process(ev model.ChangeEvent) {
	switch ev.Kind {
	case model.ChangeMessageAppended:
		b.onMessageAppended(ev.Message)
	case model.ChangeConversationUpserted:
		if ev.Conversation == nil {
			return
		}
		b.publish(Notification{Type: TypeConversationUpdated, Conversation: ev.Conversation}, GlobalScope)
	default:
		b.logger.Warn("Unknown change kind", "kind", ev.Kind)
	}
}

// onMessageAppended 重新读取会话后通知会话范围（门铃）和全局范围（会话快照）。
// 元数据条件更新失败也照常通知，快照可能来自另一条消息。
func (b *Broker) onMessageAppended(msg *model.Message) {
	if msg == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.resolveTimeout)
	defer cancel()

	conv, err := b.convs.FindByID(ctx, msg.ConversationID)
	if err != nil {
		b.logger.Warn("Failed to resolve conversation for message, notification dropped",
			"conversationId", msg.ConversationID,
			"messageId", msg.ID,
			"error", err)
		return
	}

	doorbell := Notification{
		Type:           TypeNewMessage,
		ConversationID: conv.ID,
		EmployeeKey:    conv.EmployeeKey,
		MessageID:      msg.ID,
	}

	// 预订阅时按原始 employeeKey 登记的订阅者也要收到
	scopes := []string{ConversationScope(conv.ID)}
	if conv.EmployeeKey != "" && conv.EmployeeKey != conv.ID {
		scopes = append(scopes, ConversationScope(conv.EmployeeKey))
	}
	b.publish(doorbell, scopes...)

	b.publish(Notification{Type: TypeConversationUpdated, Conversation: conv}, GlobalScope)
}

// publish 向一个或多个范围投递，同一订阅者只收到一次
func (b *Broker) publish(n Notification, scopes ...string) {
	seen := make(map[string]struct{})
	for _, scope := range scopes {
		for _, sub := range b.registry.snapshot(scope) {
			if _, ok := seen[sub.ID()]; ok {
				continue
			}
			seen[sub.ID()] = struct{}{}
			b.deliver(sub, scope, n)
		}
	}
}

func (b *Broker) deliver(sub Subscriber, scope string, n Notification) {
	if sub.Send(n) {
		b.delivered.Add(1)
		return
	}
	b.dropped.Add(1)
	b.logger.Warn("Subscriber not keeping up, notification dropped",
		"clientId", sub.ID(),
		"scope", scope,
		"type", n.Type)
}
