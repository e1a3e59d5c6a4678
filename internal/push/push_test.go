package push

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.hrchat/internal/broker"
	"sudooom.hrchat/internal/config"
	"sudooom.hrchat/internal/feed"
	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/internal/service"
	"sudooom.hrchat/internal/store/memory"
	"sudooom.hrchat/internal/workerpool"
	"sudooom.hrchat/pkg/proto"
)

type testEnv struct {
	store  *memory.Store
	broker *broker.Broker
	server *Server
	http   *httptest.Server
	conv   *model.Conversation
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	local := feed.NewLocal()
	s := memory.New(local)
	conv, err := s.Provision(context.Background(), "alice", "Sarah Connor (HR)", "Alice Johnson")
	require.NoError(t, err)

	b := broker.New(s, workerpool.New(2, 64))
	b.Start(local)

	srv := NewServer(b, service.NewConversationService(s), NewManager(), config.PushConfig{
		SendBuffer:        16,
		ReadLimit:         4096,
		HeartbeatInterval: time.Minute,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
		b.Shutdown()
	})
	return &testEnv{store: s, broker: b, server: srv, http: ts, conv: conv}
}

func (e *testEnv) dial(t *testing.T, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws?client_id=" + clientID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	frame := readFrame(t, ws)
	require.Equal(t, proto.TypeConnected, frame.Type)
	require.Equal(t, clientID, frame.ClientID)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) proto.ServerFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame proto.ServerFrame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

// readUntil 跳过不关心的帧，直到读到指定类型
func readUntil(t *testing.T, ws *websocket.Conn, frameType string) proto.ServerFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		frame := readFrame(t, ws)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame received", frameType)
	return proto.ServerFrame{}
}

func subscribe(t *testing.T, ws *websocket.Conn, scope, key string) proto.ServerFrame {
	t.Helper()
	require.NoError(t, ws.WriteJSON(proto.ClientFrame{Type: proto.TypeSubscribe, Scope: scope, Key: key}))
	return readFrame(t, ws)
}

func (e *testEnv) append(t *testing.T, text string) *model.Message {
	t.Helper()
	msg, err := e.store.Append(context.Background(), &model.Message{
		ConversationID: e.conv.ID,
		SenderID:       "emp_alice_johnson",
		Text:           text,
		SentAt:         time.Now().UTC(),
	})
	require.NoError(t, err)
	return msg
}

func TestServer_ConversationScopeReceivesDoorbell(t *testing.T) {
	env := setup(t)
	ws := env.dial(t, "mobile")

	ack := subscribe(t, ws, proto.ScopeConversation, "alice")
	assert.Equal(t, proto.TypeSubscribed, ack.Type)
	assert.Equal(t, broker.ConversationScope(env.conv.ID), ack.Scope)

	msg := env.append(t, "hello")

	frame := readUntil(t, ws, proto.TypeNewMessage)
	assert.Equal(t, env.conv.ID, frame.ConversationID)
	assert.Equal(t, "alice", frame.EmployeeKey)
	assert.Equal(t, msg.ID, frame.MessageID)
	assert.Nil(t, frame.Conversation)
}

func TestServer_GlobalScopeReceivesSnapshot(t *testing.T) {
	env := setup(t)
	ws := env.dial(t, "dashboard")

	ack := subscribe(t, ws, proto.ScopeConversations, "")
	assert.Equal(t, proto.TypeSubscribed, ack.Type)
	assert.Equal(t, broker.GlobalScope, ack.Scope)

	at := time.Now().UTC().Truncate(time.Microsecond)
	applied, err := env.store.UpdateLastActivityIfNewer(context.Background(), env.conv.ID, "hi there", at)
	require.NoError(t, err)
	require.True(t, applied)

	frame := readUntil(t, ws, proto.TypeConversationUpdated)
	require.NotNil(t, frame.Conversation)
	assert.Equal(t, "hi there", frame.Conversation.LastMessagePreview)
	require.NotNil(t, frame.Conversation.LastActivityAt)
	assert.True(t, at.Equal(*frame.Conversation.LastActivityAt))
}

func TestServer_PreSubscribeUnknownKey(t *testing.T) {
	env := setup(t)
	ws := env.dial(t, "early")

	ack := subscribe(t, ws, proto.ScopeConversation, "bob")
	assert.Equal(t, proto.TypeSubscribed, ack.Type)
	assert.Equal(t, broker.ConversationScope("bob"), ack.Scope)

	conv, err := env.store.Provision(context.Background(), "bob", "Sarah Connor (HR)", "Bob Smith")
	require.NoError(t, err)
	_, err = env.store.Append(context.Background(), &model.Message{
		ConversationID: conv.ID,
		SenderID:       "emp_bob_smith",
		Text:           "first",
		SentAt:         time.Now().UTC(),
	})
	require.NoError(t, err)

	frame := readUntil(t, ws, proto.TypeNewMessage)
	assert.Equal(t, conv.ID, frame.ConversationID)
}

func TestServer_Unsubscribe(t *testing.T) {
	env := setup(t)
	ws := env.dial(t, "mobile")
	subscribe(t, ws, proto.ScopeConversation, env.conv.ID)
	require.Equal(t, 1, env.broker.ScopeSize(broker.ConversationScope(env.conv.ID)))

	require.NoError(t, ws.WriteJSON(proto.ClientFrame{Type: proto.TypeUnsubscribe, Scope: proto.ScopeConversation, Key: "alice"}))
	ack := readFrame(t, ws)
	assert.Equal(t, proto.TypeUnsubscribed, ack.Type)
	assert.Equal(t, 0, env.broker.ScopeSize(broker.ConversationScope(env.conv.ID)))
}

func TestServer_BadFrames(t *testing.T) {
	env := setup(t)
	ws := env.dial(t, "bad")

	tests := []struct {
		name    string
		payload string
		code    string
	}{
		{"invalid json", `{not json`, proto.ErrCodeBadRequest},
		{"unknown type", `{"type":"typing"}`, proto.ErrCodeUnsupportedType},
		{"unknown scope", `{"type":"subscribe","scope":"everything"}`, proto.ErrCodeBadRequest},
		{"missing key", `{"type":"subscribe","scope":"conversation"}`, proto.ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.payload)))
			frame := readFrame(t, ws)
			assert.Equal(t, proto.TypeError, frame.Type)
			assert.Equal(t, tt.code, frame.Code)
		})
	}
}

func TestServer_DisconnectRemovesSubscriptions(t *testing.T) {
	env := setup(t)
	ws := env.dial(t, "leaver")
	subscribe(t, ws, proto.ScopeConversations, "")
	require.Equal(t, 1, env.broker.ScopeSize(broker.GlobalScope))

	require.NoError(t, ws.Close())

	assert.Eventually(t, func() bool {
		return env.broker.ScopeSize(broker.GlobalScope) == 0 && env.server.Manager().Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ReconnectReplacesSession(t *testing.T) {
	env := setup(t)
	first := env.dial(t, "phone")
	subscribe(t, first, proto.ScopeConversations, "")

	second := env.dial(t, "phone")
	assert.Equal(t, 0, env.broker.ScopeSize(broker.GlobalScope))
	subscribe(t, second, proto.ScopeConversations, "")

	// 旧连接退出时不能带走新连接的订阅
	assert.Never(t, func() bool {
		return env.broker.ScopeSize(broker.GlobalScope) != 1
	}, 200*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, 1, env.server.Manager().Count())
}

func TestHeartbeatChecker_ClosesStaleSessions(t *testing.T) {
	env := setup(t)
	ws := env.dial(t, "sleepy")
	subscribe(t, ws, proto.ScopeConversations, "")

	var timedOut []string
	checker := NewHeartbeatChecker(env.server.Manager(), time.Second, time.Second, func(s *Session) {
		timedOut = append(timedOut, s.ID())
		env.server.OnSessionTimeout(s)
	})

	assert.Equal(t, 0, checker.CheckOnce(time.Now()))
	assert.Equal(t, 1, checker.CheckOnce(time.Now().Add(time.Minute)))
	assert.Equal(t, []string{"sleepy"}, timedOut)
	assert.Equal(t, 0, env.broker.ScopeSize(broker.GlobalScope))
	assert.Equal(t, 0, env.server.Manager().Count())
}

func TestSession_FrameEncoding(t *testing.T) {
	conv := &model.Conversation{ID: "c1", EmployeeKey: "alice"}
	payload, err := json.Marshal(proto.ServerFrame{Type: proto.TypeConversationUpdated, Conversation: conv})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"conversation_updated","conversation":{"id":"c1","employeeKey":"alice","participantNames":["",""],"lastMessagePreview":""}}`, string(payload))
}
