package feed

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.hrchat/internal/model"
)

func TestLocal_EmitDispatchesSynchronously(t *testing.T) {
	l := NewLocal()
	require.True(t, l.Available())

	var got []model.ChangeEvent
	l.OnChange(func(ctx context.Context, ev model.ChangeEvent) {
		got = append(got, ev)
	})

	msg := &model.Message{ID: "m1", ConversationID: "c1"}
	l.Emit(context.Background(), model.NewMessageAppended(msg))

	// 同步分发：Emit 返回时处理函数已经执行
	require.Len(t, got, 1)
	assert.Equal(t, model.ChangeMessageAppended, got[0].Kind)
	assert.Equal(t, "c1", got[0].ConversationID())
}

func TestLocal_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	l := NewLocal()

	called := false
	l.OnChange(func(ctx context.Context, ev model.ChangeEvent) { panic("boom") })
	l.OnChange(func(ctx context.Context, ev model.ChangeEvent) { called = true })

	l.Emit(context.Background(), model.NewConversationUpserted(&model.Conversation{ID: "c1"}))
	assert.True(t, called)
}

func TestLocal_NilHandlerIgnored(t *testing.T) {
	l := NewLocal()
	l.OnChange(nil)
	assert.NotPanics(t, func() {
		l.Emit(context.Background(), model.NewConversationUpserted(&model.Conversation{ID: "c1"}))
	})
}

func TestNoop(t *testing.T) {
	var f Feed = Noop{}
	assert.False(t, f.Available())
	f.OnChange(func(ctx context.Context, ev model.ChangeEvent) { t.Fatal("must not be called") })
	Noop{}.Emit(context.Background(), model.ChangeEvent{})
}

func TestChangeEvent_ConversationID(t *testing.T) {
	assert.Equal(t, "c1", model.NewConversationUpserted(&model.Conversation{ID: "c1"}).ConversationID())
	assert.Equal(t, "c2", model.NewMessageAppended(&model.Message{ConversationID: "c2"}).ConversationID())
	assert.Equal(t, "", model.ChangeEvent{}.ConversationID())
}

func TestRedis_PublishSubscribe(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("跳过测试：无法连接 Redis: %v", err)
	}

	f := NewRedis(client, "hrchat_changes_test")
	received := make(chan model.ChangeEvent, 1)
	f.OnChange(func(ctx context.Context, ev model.ChangeEvent) { received <- ev })

	require.NoError(t, f.Start(ctx))
	defer f.Close()
	assert.True(t, f.Available())

	f.Emit(ctx, model.NewMessageAppended(&model.Message{ID: "m1", ConversationID: "c1"}))

	select {
	case ev := <-received:
		assert.Equal(t, "m1", ev.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redis change event")
	}
}

func TestNATS_PublishSubscribe(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("跳过测试：未设置 NATS_URL")
	}
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	f := NewNATS(nc, "hrchat.test.change")
	var mu sync.Mutex
	var got []model.ChangeEvent
	done := make(chan struct{})
	f.OnChange(func(ctx context.Context, ev model.ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		close(done)
	})
	require.NoError(t, f.Start(context.Background()))
	defer f.Close()
	require.NoError(t, nc.Flush())

	f.Emit(context.Background(), model.NewConversationUpserted(&model.Conversation{ID: "c9"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for nats change event")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "c9", got[0].Conversation.ID)
	assert.Equal(t, "hrchat.test.change.conversation-upserted", f.Subject(model.ChangeConversationUpserted))
}
