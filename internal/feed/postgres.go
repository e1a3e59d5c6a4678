package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.hrchat/internal/model"
)

// RecordLoader 根据通知中的 ID 读取完整记录
type RecordLoader interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	FindMessageByID(ctx context.Context, id string) (*model.Message, error)
}

// pgNotification 触发器 hrchat_notify_change 发出的负载
type pgNotification struct {
	Kind model.ChangeKind `json:"kind"`
	ID   string           `json:"id"`
}

// Postgres 基于 LISTEN/NOTIFY 的通知源。
// NOTIFY 在事务提交后才投递，收到通知时记录一定可读。
type Postgres struct {
	*dispatcher
	pool      *pgxpool.Pool
	loader    RecordLoader
	channel   string
	available atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	retryWait time.Duration
}

// NewPostgres 创建 PostgreSQL 通知源
func NewPostgres(pool *pgxpool.Pool, loader RecordLoader, channel string) *Postgres {
	if channel == "" {
		channel = "hrchat_changes"
	}
	return &Postgres{
		dispatcher: newDispatcher(),
		pool:       pool,
		loader:     loader,
		channel:    channel,
		retryWait:  2 * time.Second,
	}
}

// Available 首次 LISTEN 成功后为 true
func (p *Postgres) Available() bool {
	return p.available.Load()
}

// Start 获取专用连接并开始监听。首次 LISTEN 失败返回错误，调用方按降级处理。
func (p *Postgres) Start(ctx context.Context) error {
	conn, err := p.listen(ctx)
	if err != nil {
		return fmt.Errorf("feed: postgres listen: %w", err)
	}
	p.available.Store(true)

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, conn)

	p.logger.Info("Postgres change feed started", "channel", p.channel)
	return nil
}

func (p *Postgres) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

// loop 等待通知，连接断开后重新获取连接；断线期间的事件不补发
func (p *Postgres) loop(ctx context.Context, conn *pgxpool.Conn) {
	defer close(p.done)
	defer func() {
		if conn != nil {
			conn.Release()
		}
	}()

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryWait):
			}
			c, err := p.listen(ctx)
			if err != nil {
				p.logger.Warn("Postgres change feed reconnect failed", "error", err)
				continue
			}
			conn = c
			p.logger.Info("Postgres change feed reconnected", "channel", p.channel)
		}

		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			p.logger.Warn("Postgres change feed lost connection", "error", err)
			conn.Hijack().Close(context.Background())
			conn = nil
			continue
		}
		p.handle(ctx, n.Payload)
	}
}

func (p *Postgres) handle(ctx context.Context, payload string) {
	var n pgNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		p.logger.Warn("Invalid change notification", "payload", payload, "error", err)
		return
	}

	var ev model.ChangeEvent
	switch n.Kind {
	case model.ChangeMessageAppended:
		msg, err := p.loader.FindMessageByID(ctx, n.ID)
		if err != nil {
			p.logger.Warn("Failed to load appended message", "messageId", n.ID, "error", err)
			return
		}
		ev = model.NewMessageAppended(msg)
	case model.ChangeConversationUpserted:
		conv, err := p.loader.FindByID(ctx, n.ID)
		if err != nil {
			p.logger.Warn("Failed to load upserted conversation", "conversationId", n.ID, "error", err)
			return
		}
		ev = model.NewConversationUpserted(conv)
	default:
		p.logger.Warn("Unknown change kind", "kind", n.Kind)
		return
	}
	p.dispatch(ctx, ev)
}

// Close 停止监听并释放连接
func (p *Postgres) Close() error {
	p.available.Store(false)
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}
