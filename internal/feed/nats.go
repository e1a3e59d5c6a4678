package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"sudooom.hrchat/internal/config"
	"sudooom.hrchat/internal/model"
)

// Connect 建立 NATS 连接
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.Timeout(10 * time.Second),
	}
	return nats.Connect(cfg.URL, opts...)
}

// NATS 基于 NATS subject 的通知源：存储层通过 Emit 发布，Start 订阅 {prefix}.>
type NATS struct {
	*dispatcher
	nc     *nats.Conn
	prefix string
	sub    *nats.Subscription
}

// NewNATS 创建 NATS 通知源
func NewNATS(nc *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = "hrchat.change"
	}
	return &NATS{
		dispatcher: newDispatcher(),
		nc:         nc,
		prefix:     prefix,
	}
}

// Subject 事件类型对应的 subject
func (n *NATS) Subject(kind model.ChangeKind) string {
	return n.prefix + "." + string(kind)
}

// Available 已订阅且连接正常
func (n *NATS) Available() bool {
	return n.nc != nil && n.nc.IsConnected() && n.sub != nil
}

// Emit 发布变更事件，失败只记录日志（推送尽力而为）
func (n *NATS) Emit(ctx context.Context, ev model.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("Failed to marshal change event", "error", err)
		return
	}
	if err := n.nc.Publish(n.Subject(ev.Kind), data); err != nil {
		n.logger.Warn("Failed to publish change event", "kind", ev.Kind, "error", err)
	}
}

// Start 订阅变更 subject
func (n *NATS) Start(ctx context.Context) error {
	sub, err := n.nc.Subscribe(n.prefix+".>", func(msg *nats.Msg) {
		var ev model.ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			n.logger.Warn("Invalid change event", "subject", msg.Subject, "error", err)
			return
		}
		n.dispatch(context.Background(), ev)
	})
	if err != nil {
		return err
	}
	n.sub = sub
	n.logger.Info("NATS change feed started", "subject", n.prefix+".>")
	return nil
}

// Close 取消订阅
func (n *NATS) Close() error {
	if n.sub == nil {
		return nil
	}
	err := n.sub.Unsubscribe()
	n.sub = nil
	return err
}
