package syncagent

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sudooom.hrchat/pkg/proto"
)

var ErrNotConnected = errors.New("syncagent: push transport not connected")

const wsWriteWait = 10 * time.Second

// Handler 接收推送帧和重连事件，*Agent 实现了它
type Handler interface {
	HandleNotification(frame proto.ServerFrame)
	Resync(ctx context.Context) error
}

// WSClient websocket 推送传输，断线后按指数退避重连
type WSClient struct {
	url        string
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	mu   sync.Mutex // 保护 conn，同时串行化写
	conn *websocket.Conn
}

// NewWSClient 创建推送客户端，baseURL 形如 ws://host:8080/ws
func NewWSClient(baseURL, clientID string) (*WSClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if clientID != "" {
		q := u.Query()
		q.Set("client_id", clientID)
		u.RawQuery = q.Encode()
	}
	return &WSClient{
		url:        u.String(),
		dialer:     websocket.DefaultDialer,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		logger:     slog.Default(),
	}, nil
}

// SetBackoff 设置重连退避区间
func (c *WSClient) SetBackoff(min, max time.Duration) {
	c.minBackoff, c.maxBackoff = min, max
}

// Subscribe 实现 Transport
func (c *WSClient) Subscribe(scope, key string) error {
	return c.write(proto.ClientFrame{Type: proto.TypeSubscribe, Scope: scope, Key: key})
}

// Unsubscribe 实现 Transport
func (c *WSClient) Unsubscribe(scope, key string) error {
	return c.write(proto.ClientFrame{Type: proto.TypeUnsubscribe, Scope: scope, Key: key})
}

// Connected 是否已连接
func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *WSClient) write(frame proto.ClientFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(frame)
}

// Run 连接并读取推送直到 ctx 结束。每次连上（包括第一次）都调用 h.Resync，
// 连接建立之前发出的订阅在这里补发。
func (c *WSClient) Run(ctx context.Context, h Handler) error {
	backoff := c.minBackoff
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Push connect failed, retrying",
				"url", c.url,
				"backoff", backoff,
				"error", err)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.logger.Info("Push connected", "url", c.url)

		// 关闭连接以打断阻塞的读
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

		go func() {
			if err := h.Resync(ctx); err != nil {
				c.logger.Warn("Resync after connect failed", "error", err)
			}
		}()

		c.readLoop(conn, h)
		stop()

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("Push connection lost, reconnecting", "backoff", backoff)
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn, h Handler) {
	for {
		var frame proto.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.logger.Info("Push connection closed by server", "code", closeErr.Code, "reason", closeErr.Text)
			} else {
				c.logger.Debug("Push read failed", "error", err)
			}
			return
		}
		h.HandleNotification(frame)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
