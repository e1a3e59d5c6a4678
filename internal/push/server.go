// Package push websocket 推送通道：客户端订阅范围，broker 的通知经由会话下发。
package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sudooom.hrchat/internal/broker"
	"sudooom.hrchat/internal/config"
	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/pkg/proto"
)

// ConversationResolver 把员工 key 或会话 ID 解析为会话
type ConversationResolver interface {
	Resolve(ctx context.Context, keyOrID string) (*model.Conversation, error)
}

// Server websocket 推送服务
type Server struct {
	broker         *broker.Broker
	convs          ConversationResolver
	manager        *Manager
	upgrader       websocket.Upgrader
	cfg            config.PushConfig
	resolveTimeout time.Duration
	logger         *slog.Logger
}

// NewServer 创建推送服务
func NewServer(b *broker.Broker, convs ConversationResolver, manager *Manager, cfg config.PushConfig) *Server {
	return &Server{
		broker:  b,
		convs:   convs,
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 跨域由 REST 层的 CORS 配置约束，推送通道不做鉴权
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cfg:            cfg,
		resolveTimeout: 5 * time.Second,
		logger:         slog.Default(),
	}
}

// Manager 会话管理器
func (s *Server) Manager() *Manager {
	return s.manager
}

// OnSessionTimeout 心跳超时回调：退出所有范围
func (s *Server) OnSessionTimeout(sess *Session) {
	s.broker.UnsubscribeAll(sess.ID())
}

// ServeHTTP 升级为 websocket 并处理订阅帧直到连接断开
// GET /ws?client_id=
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		s.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	sess := NewSession(clientID, ws, s.cfg.SendBuffer, s.cfg.HeartbeatInterval)
	if old := s.manager.Add(sess); old != nil {
		// 同一客户端重连：旧连接的订阅作废，由新连接重新订阅
		s.broker.UnsubscribeAll(clientID)
		old.Close(websocket.CloseGoingAway, "replaced by new session")
	}
	s.logger.Info("Push session connected", "clientId", clientID, "sessions", s.manager.Count())

	defer func() {
		if s.manager.Remove(sess) {
			s.broker.UnsubscribeAll(clientID)
		}
		sess.Close(websocket.CloseNormalClosure, "session closed")
		s.logger.Info("Push session closed", "clientId", clientID)
	}()

	ws.SetReadLimit(s.cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		sess.Touch()
		return nil
	})

	_ = sess.SendFrame(proto.ServerFrame{Type: proto.TypeConnected, ClientID: clientID})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug("Push session read failed", "clientId", clientID, "error", err)
			}
			return
		}
		sess.Touch()

		var frame proto.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.replyError(sess, proto.ErrCodeBadRequest, "invalid payload")
			continue
		}

		switch frame.Type {
		case proto.TypeSubscribe:
			s.handleSubscribe(r.Context(), sess, frame)
		case proto.TypeUnsubscribe:
			s.handleUnsubscribe(r.Context(), sess, frame)
		default:
			s.replyError(sess, proto.ErrCodeUnsupportedType, "unknown frame type")
		}
	}
}

func (s *Server) handleSubscribe(ctx context.Context, sess *Session, frame proto.ClientFrame) {
	scopes, ok := s.scopesFor(ctx, sess, frame)
	if !ok {
		return
	}
	s.broker.Subscribe(sess, scopes[0])
	_ = sess.SendFrame(proto.ServerFrame{Type: proto.TypeSubscribed, Scope: scopes[0]})
}

func (s *Server) handleUnsubscribe(ctx context.Context, sess *Session, frame proto.ClientFrame) {
	scopes, ok := s.scopesFor(ctx, sess, frame)
	if !ok {
		return
	}
	for _, scope := range scopes {
		s.broker.Unsubscribe(sess.ID(), scope)
	}
	_ = sess.SendFrame(proto.ServerFrame{Type: proto.TypeUnsubscribed, Scope: scopes[0]})
}

// scopesFor 解析帧对应的 broker 范围。第一个为订阅使用的范围；
// 按原始 key 预订阅过的范围也一并返回，退订时一起移除。
func (s *Server) scopesFor(ctx context.Context, sess *Session, frame proto.ClientFrame) ([]string, bool) {
	switch frame.Scope {
	case proto.ScopeConversations:
		return []string{broker.GlobalScope}, true
	case proto.ScopeConversation:
		if frame.Key == "" {
			s.replyError(sess, proto.ErrCodeBadRequest, "key is required")
			return nil, false
		}
		raw := broker.ConversationScope(frame.Key)

		ctx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
		defer cancel()
		conv, err := s.convs.Resolve(ctx, frame.Key)
		if err != nil {
			// 会话尚不存在时按原始 key 预订阅
			s.logger.Debug("Conversation not resolved, using raw key",
				"clientId", sess.ID(),
				"key", frame.Key,
				"error", err)
			return []string{raw}, true
		}
		resolved := broker.ConversationScope(conv.ID)
		if resolved == raw {
			return []string{resolved}, true
		}
		return []string{resolved, raw}, true
	default:
		s.replyError(sess, proto.ErrCodeBadRequest, "unknown scope")
		return nil, false
	}
}

func (s *Server) replyError(sess *Session, code, message string) {
	_ = sess.SendFrame(proto.ServerFrame{
		Type:  proto.TypeError,
		Code:  code,
		Error: message,
	})
}

// Shutdown 关闭所有推送会话
func (s *Server) Shutdown() {
	for _, sess := range s.manager.All() {
		sess.Close(websocket.CloseGoingAway, "server shutting down")
	}
}
