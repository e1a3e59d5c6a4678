package feed

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"sudooom.hrchat/internal/model"
)

// Redis 基于 Redis Pub/Sub 的通知源
type Redis struct {
	*dispatcher
	client    *redis.Client
	channel   string
	pubsub    *redis.PubSub
	available atomic.Bool
	done      chan struct{}
}

// NewRedis 创建 Redis 通知源
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = "hrchat_changes"
	}
	return &Redis{
		dispatcher: newDispatcher(),
		client:     client,
		channel:    channel,
	}
}

func (r *Redis) Available() bool {
	return r.available.Load()
}

// Emit 发布变更事件
func (r *Redis) Emit(ctx context.Context, ev model.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("Failed to marshal change event", "error", err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Warn("Failed to publish change event", "kind", ev.Kind, "error", err)
	}
}

// Start 订阅频道，等待订阅确认后才标记可用
func (r *Redis) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	r.pubsub = pubsub
	r.available.Store(true)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		// go-redis 在连接断开后自动重新订阅
		for msg := range pubsub.Channel() {
			var ev model.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("Invalid change event", "channel", msg.Channel, "error", err)
				continue
			}
			r.dispatch(context.Background(), ev)
		}
	}()

	r.logger.Info("Redis change feed started", "channel", r.channel)
	return nil
}

// Close 关闭订阅
func (r *Redis) Close() error {
	r.available.Store(false)
	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	<-r.done
	r.pubsub = nil
	return err
}
