package channel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/llmbot/internal/state"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	h := NewHub(4)

	err := h.Publish(ctx, "c1", Monitor("m", "x"))
	assert.ErrorIs(t, err, ErrNoSubscriber)

	ch, cancel, err := h.Subscribe(ctx, "c1")
	require.NoError(t, err)
	other, cancelOther, err := h.Subscribe(ctx, "c2")
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, h.Publish(ctx, "c1", Monitor("m", "**query_preprocess**")))
	got := receive(t, ch)
	assert.Equal(t, TypeMonitor, got.MessageType)
	assert.Equal(t, "**query_preprocess**", got.Message)

	select {
	case m := <-other:
		t.Fatalf("unexpected message on other connection: %+v", m)
	default:
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 1, h.Connections())
	cancel()
}

func TestHub_SlowConsumer(t *testing.T) {
	ctx := context.Background()
	h := NewHub(1)
	_, cancel, err := h.Subscribe(ctx, "c")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, h.Publish(ctx, "c", Start("m")))
	assert.ErrorIs(t, h.Publish(ctx, "c", End("m")), ErrSlowConsumer)
}

func TestHub_ContextCancelUnsubscribes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(0)
	ch, _, err := h.Subscribe(ctx, "c")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Zero(t, h.Connections())
}

func TestMessage_WireFormat(t *testing.T) {
	b, err := json.Marshal(Context("mid", nil))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message_type":"CONTEXT"`)
	assert.Contains(t, string(b), `"ddb_additional_kwargs":{"figure":[]}`)

	b, err = json.Marshal(Chunk("mid", "hello", 2))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":{"content":"hello","chunk_id":2}`)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := RedisConfig{URL: "redis://" + mr.Addr()}.NewClient(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b := NewRedisBroker(newTestRedis(t), "test:")

	err := b.Publish(ctx, "c1", Monitor("m", "x"))
	assert.ErrorIs(t, err, ErrNoSubscriber)

	ch, cancel, err := b.Subscribe(ctx, "c1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, "c1", Monitor("m", "trace text")))
	require.NoError(t, b.Publish(ctx, "c1", Context("m", []state.Figure{{ContentType: "png", FigurePath: "a.png"}})))

	got := receive(t, ch)
	assert.Equal(t, TypeMonitor, got.MessageType)
	assert.Equal(t, "trace text", got.Message)

	got = receive(t, ch)
	assert.Equal(t, TypeContext, got.MessageType)
	require.NotNil(t, got.DDBAdditionalKwargs)
	assert.Equal(t, "a.png", got.DDBAdditionalKwargs.Figure[0].FigurePath)
}

func TestRedisBroker_CancelClosesChannel(t *testing.T) {
	b := NewRedisBroker(newTestRedis(t), "")
	ch, cancel, err := b.Subscribe(context.Background(), "c")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestRedisConfig_InvalidURL(t *testing.T) {
	_, err := RedisConfig{URL: "not-a-url"}.NewClient(context.Background())
	assert.Error(t, err)
}
