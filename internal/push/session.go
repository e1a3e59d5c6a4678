package push

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"sudooom.hrchat/internal/broker"
	"sudooom.hrchat/pkg/proto"
)

var ErrSessionClosed = errors.New("push: session closed")

const writeWait = 10 * time.Second

// Session 一个 websocket 推送连接，同时是 broker 的订阅者。
// 写操作经由缓冲 channel 串行化，缓冲满时丢弃通知而不是阻塞 broker。
type Session struct {
	id         string
	ws         *websocket.Conn
	send       chan []byte
	closeChan  chan struct{}
	closeOnce  sync.Once
	lastActive atomic.Int64
	createTime time.Time
	pingPeriod time.Duration
	logger     *slog.Logger
}

// NewSession 创建会话并启动写循环
func NewSession(id string, ws *websocket.Conn, sendBuffer int, pingPeriod time.Duration) *Session {
	s := &Session{
		id:         id,
		ws:         ws,
		send:       make(chan []byte, sendBuffer),
		closeChan:  make(chan struct{}),
		createTime: time.Now(),
		pingPeriod: pingPeriod,
		logger:     slog.Default(),
	}
	s.Touch()
	go s.writeLoop()
	return s
}

// ID 客户端 ID
func (s *Session) ID() string {
	return s.id
}

// Send 实现 broker.Subscriber，非阻塞
func (s *Session) Send(n broker.Notification) bool {
	frame := proto.ServerFrame{
		Type:           n.Type,
		Conversation:   n.Conversation,
		ConversationID: n.ConversationID,
		EmployeeKey:    n.EmployeeKey,
		MessageID:      n.MessageID,
	}
	return s.SendFrame(frame) == nil
}

// SendFrame 编码并入队一帧
func (s *Session) SendFrame(frame proto.ServerFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-s.closeChan:
		return ErrSessionClosed
	default:
	}
	select {
	case <-s.closeChan:
		return ErrSessionClosed
	case s.send <- payload:
		return nil
	default:
		return errors.New("push: send buffer full")
	}
}

// Touch 记录活跃时间（收到任何帧或 pong 时调用）
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActiveTime 最后活跃时间
func (s *Session) LastActiveTime() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// CreateTime 创建时间
func (s *Session) CreateTime() time.Time {
	return s.createTime
}

// Done 会话关闭后 channel 被关闭
func (s *Session) Done() <-chan struct{} {
	return s.closeChan
}

// Close 关闭连接，可重复调用
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		deadline := time.Now().Add(writeWait)
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.ws.Close()
	})
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("Push write failed", "clientId", s.id, "error", err)
				s.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(messageType, data)
}
