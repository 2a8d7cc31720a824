package entry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/llmbot/internal/channel"
	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/state"
	"github.com/wwwzy/llmbot/internal/storage"
)

// fakeRunner 记录收到的状态，按需要返回答案或错误
type fakeRunner struct {
	mu     sync.Mutex
	calls  int
	seen   *state.State
	ctxCfg chatbot.Config
	answer string
	figure []state.Figure
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, st *state.State) (*state.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = st
	f.ctxCfg, _ = chatbot.FromContext(ctx)
	if f.err != nil {
		return st, f.err
	}
	st.Answer = f.answer
	st.Figure = f.figure
	st.ExtraResponse = map[string]any{"agent": map[string]any{"call_number": 0}}
	st.TraceInfos = append(st.TraceInfos, state.TraceEvent{Seq: 1, Node: "query_preprocess", Message: "ok"})
	return st, nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []*storage.ChatRecord
	err     error
}

func (m *memRecorder) InsertChatRecord(_ context.Context, rec *storage.ChatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func newTestService(r Runner, opts ...Option) *Service {
	return NewService(chatbot.NewResolver(chatbot.BuiltinLLMConfig()), r, opts...)
}

func TestHandle_InvalidModeRejectedBeforeRun(t *testing.T) {
	runner := &fakeRunner{answer: "x"}
	rec := &memRecorder{}
	svc := newTestService(runner, WithRecorder(rec))

	_, err := svc.Handle(context.Background(), Request{
		Query:         "你好",
		ChatbotConfig: map[string]any{"chatbot_mode": "telepathy"},
	})
	require.Error(t, err)
	assert.Equal(t, errx.KindConfig, errx.KindOf(err))
	assert.ErrorIs(t, err, chatbot.ErrInvalidMode)
	assert.Equal(t, 0, runner.calls)
	assert.Empty(t, rec.records)
}

func TestHandle_EmptyQuery(t *testing.T) {
	runner := &fakeRunner{}
	_, err := newTestService(runner).Handle(context.Background(), Request{Query: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Equal(t, errx.KindConfig, errx.KindOf(err))
	assert.Equal(t, 0, runner.calls)
}

func TestHandle_UnknownScene(t *testing.T) {
	runner := &fakeRunner{}
	_, err := newTestService(runner).Handle(context.Background(), Request{Query: "q", EntryType: "moon"})
	assert.ErrorIs(t, err, chatbot.ErrUnknownScene)
	assert.Equal(t, 0, runner.calls)
}

func TestHandle_Success(t *testing.T) {
	runner := &fakeRunner{answer: "北京今天晴", figure: []state.Figure{{ContentType: "image", FigurePath: "f1.png"}}}
	rec := &memRecorder{}
	svc := newTestService(runner, WithRecorder(rec))

	resp, err := svc.Handle(context.Background(), Request{
		Query:           "北京天气",
		ChatbotConfig:   map[string]any{"chatbot_mode": "rag"},
		CustomMessageID: "msg-7",
		SessionID:       "s-1",
		UserID:          "u-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-7", resp.MessageID)
	assert.Equal(t, "北京今天晴", resp.Answer)
	assert.Equal(t, []state.Figure{{ContentType: "image", FigurePath: "f1.png"}}, resp.Figure)
	assert.Contains(t, resp.Extra, "agent")

	require.NotNil(t, runner.seen)
	assert.Equal(t, chatbot.ModeRAG, runner.seen.ChatbotConfig.ChatbotMode)
	assert.Equal(t, chatbot.ModeRAG, runner.ctxCfg.ChatbotMode)
	assert.Equal(t, "s-1", runner.seen.SessionID)

	require.Len(t, rec.records, 1)
	r := rec.records[0]
	assert.Equal(t, "msg-7", r.MessageID)
	assert.Equal(t, "u-1", r.UserID)
	assert.Equal(t, "rag", r.Mode)
	assert.Equal(t, "success", r.Status)
	assert.Equal(t, "北京今天晴", r.Answer)
	assert.Contains(t, r.TraceJSON, "query_preprocess")
}

func TestHandle_GeneratesMessageID(t *testing.T) {
	runner := &fakeRunner{answer: "a"}
	svc := newTestService(runner)

	r1, err := svc.Handle(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	r2, err := svc.Handle(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.NotEmpty(t, r1.MessageID)
	assert.NotEqual(t, r1.MessageID, r2.MessageID)
	assert.NotNil(t, r1.Figure)
}

func TestHandle_History(t *testing.T) {
	history := append(History("上一个问题", "上一个回答"), nil)

	runner := &fakeRunner{answer: "a"}
	svc := newTestService(runner)
	_, err := svc.Handle(context.Background(), Request{
		Query:         "q",
		ChatbotConfig: map[string]any{"use_history": true},
		ChatHistory:   history,
	})
	require.NoError(t, err)
	require.Len(t, runner.seen.ChatHistory, 2)
	assert.Equal(t, schema.User, runner.seen.ChatHistory[0].Role)

	_, err = svc.Handle(context.Background(), Request{
		Query:         "q",
		ChatbotConfig: map[string]any{"use_history": false},
		ChatHistory:   history,
	})
	require.NoError(t, err)
	assert.Empty(t, runner.seen.ChatHistory)
}

type fakeHistory struct {
	sessionID string
	turns     int
	msgs      []*schema.Message
	err       error
}

func (h *fakeHistory) SessionHistory(_ context.Context, sessionID string, turns int) ([]*schema.Message, error) {
	h.sessionID = sessionID
	h.turns = turns
	return h.msgs, h.err
}

func TestHandle_SessionHistoryBackfill(t *testing.T) {
	hist := &fakeHistory{msgs: History("昨天的问题", "昨天的回答")}
	runner := &fakeRunner{answer: "a"}
	svc := newTestService(runner, WithHistory(hist, 3))

	_, err := svc.Handle(context.Background(), Request{Query: "q", SessionID: "s-9"})
	require.NoError(t, err)
	assert.Equal(t, "s-9", hist.sessionID)
	assert.Equal(t, 3, hist.turns)
	require.Len(t, runner.seen.ChatHistory, 2)
	assert.Equal(t, "昨天的问题", runner.seen.ChatHistory[0].Content)

	// 请求自带历史时不回填
	hist.sessionID = ""
	_, err = svc.Handle(context.Background(), Request{Query: "q", SessionID: "s-9", ChatHistory: History("x", "y")})
	require.NoError(t, err)
	assert.Empty(t, hist.sessionID)
	assert.Equal(t, "x", runner.seen.ChatHistory[0].Content)

	// 读取失败不影响请求
	hist.err = errors.New("db locked")
	hist.msgs = nil
	resp, err := svc.Handle(context.Background(), Request{Query: "q", SessionID: "s-9"})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Answer)
	assert.Empty(t, runner.seen.ChatHistory)
}

func TestHandle_SceneSelection(t *testing.T) {
	runner := &fakeRunner{answer: "a"}
	svc := newTestService(runner)

	_, err := svc.Handle(context.Background(), Request{
		Query:         "q",
		ChatbotConfig: map[string]any{"scene": "retail"},
	})
	require.NoError(t, err)
	cfg := runner.seen.ChatbotConfig
	assert.Equal(t, chatbot.SceneRetail, cfg.Scene)
	assert.Equal(t, 3, cfg.AgentRepeatedCallLimit)
	assert.Equal(t, "query_rewrite", cfg.IntentionConfig.QueryKey)
	assert.Empty(t, cfg.AgentConfig.Tools)

	retail := newTestService(runner, WithDefaultScene(chatbot.SceneRetail))
	_, err = retail.Handle(context.Background(), Request{
		Query:         "q",
		ChatbotConfig: map[string]any{"scene": "common"},
	})
	require.NoError(t, err)
	cfg = runner.seen.ChatbotConfig
	assert.Equal(t, chatbot.SceneCommon, cfg.Scene)
	assert.Equal(t, 5, cfg.AgentRepeatedCallLimit)
	assert.Equal(t, chatbot.ReservedTools, cfg.AgentConfig.Tools)

	runner.calls = 0
	_, err = svc.Handle(context.Background(), Request{
		Query:         "q",
		EntryType:     "common",
		ChatbotConfig: map[string]any{"scene": "retail"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, chatbot.ErrSceneMismatch)
	assert.Equal(t, errx.KindConfig, errx.KindOf(err))
	assert.Equal(t, 0, runner.calls)
}

func TestHandle_ExtensionsReachConfig(t *testing.T) {
	runner := &fakeRunner{answer: "a"}
	svc := newTestService(runner)

	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{
		"query": "这件衣服有货吗",
		"goods_id": "g-42",
		"chatbot_config": {"chatbot_mode": "chat"}
	}`), &req))
	_, err := svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "g-42", runner.seen.ChatbotConfig.Extensions["goods_id"])
}

func TestHandle_RunFailure(t *testing.T) {
	runner := &fakeRunner{err: errx.Node("retriever", errors.New("upstream down"))}
	rec := &memRecorder{}
	svc := newTestService(runner, WithRecorder(rec))

	resp, err := svc.Handle(context.Background(), Request{Query: "q", CustomMessageID: "m-err"})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, errx.KindNode, errx.KindOf(err))

	require.Len(t, rec.records, 1)
	assert.Equal(t, "failed", rec.records[0].Status)
	assert.Empty(t, rec.records[0].Answer)
	assert.Contains(t, rec.records[0].ErrorMessage, "upstream down")
}

func TestHandle_RecorderFailureIgnored(t *testing.T) {
	runner := &fakeRunner{answer: "a"}
	rec := &memRecorder{err: errors.New("disk full")}
	resp, err := newTestService(runner, WithRecorder(rec)).Handle(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Answer)
}

func collect(t *testing.T, ch <-chan channel.Message, n int) []channel.Message {
	t.Helper()
	out := make([]channel.Message, 0, n)
	for len(out) < n {
		select {
		case m := <-ch:
			out = append(out, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of %d frames", len(out), n)
		}
	}
	return out
}

func TestHandle_StreamFrames(t *testing.T) {
	ctx := context.Background()
	hub := channel.NewHub(8)
	ch, cancel, err := hub.Subscribe(ctx, "conn-1")
	require.NoError(t, err)
	defer cancel()

	runner := &fakeRunner{answer: "答案", figure: []state.Figure{{ContentType: "image", FigurePath: "f.png"}}}
	svc := newTestService(runner, WithPublisher(hub))
	_, err = svc.Handle(ctx, Request{Query: "q", Stream: true, WSConnectionID: "conn-1", CustomMessageID: "m1"})
	require.NoError(t, err)

	frames := collect(t, ch, 4)
	types := []channel.MessageType{}
	for _, f := range frames {
		types = append(types, f.MessageType)
		assert.Equal(t, "m1", f.MessageID)
	}
	assert.Equal(t, []channel.MessageType{channel.TypeStart, channel.TypeChunk, channel.TypeContext, channel.TypeEnd}, types)
}

func TestHandle_StreamError(t *testing.T) {
	ctx := context.Background()
	hub := channel.NewHub(8)
	ch, cancel, err := hub.Subscribe(ctx, "conn-2")
	require.NoError(t, err)
	defer cancel()

	runner := &fakeRunner{err: errors.New("boom")}
	_, err = newTestService(runner, WithPublisher(hub)).Handle(ctx, Request{Query: "q", Stream: true, WSConnectionID: "conn-2"})
	require.Error(t, err)

	frames := collect(t, ch, 2)
	assert.Equal(t, channel.TypeStart, frames[0].MessageType)
	assert.Equal(t, channel.TypeError, frames[1].MessageType)
	assert.Contains(t, frames[1].Message, "boom")
}

func TestHandle_NoStreamWithoutConnection(t *testing.T) {
	ctx := context.Background()
	hub := channel.NewHub(8)
	ch, cancel, err := hub.Subscribe(ctx, "conn-3")
	require.NoError(t, err)
	defer cancel()

	_, err = newTestService(&fakeRunner{answer: "a"}, WithPublisher(hub)).Handle(ctx, Request{Query: "q", Stream: true})
	require.NoError(t, err)
	select {
	case m := <-ch:
		t.Fatalf("unexpected frame %+v", m)
	default:
	}
}

func TestRequestJSON(t *testing.T) {
	raw := `{"query":"q","stream":true,"ws_connection_id":"c","goods_id":"g","chatbot_config":{"chatbot_mode":"agent"}}`
	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	assert.Equal(t, "q", req.Query)
	assert.True(t, req.Stream)
	assert.Equal(t, map[string]any{"goods_id": "g"}, req.Extensions)

	b, err := json.Marshal(req)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "g", m["goods_id"])
	assert.Equal(t, "c", m["ws_connection_id"])
}

func TestRequestOverride_ChatbotConfigWins(t *testing.T) {
	req := Request{
		ChatbotConfig: map[string]any{"chatbot_mode": "rag"},
		Extensions:    map[string]any{"chatbot_mode": "chat", "goods_id": "g"},
	}
	got := req.override()
	assert.Equal(t, "rag", got["chatbot_mode"])
	assert.Equal(t, "g", got["goods_id"])
}

func TestResponseJSON(t *testing.T) {
	resp := Response{
		MessageID: "m",
		Answer:    "a",
		Extra:     map[string]any{"agent": map[string]any{"call_number": float64(2)}},
	}
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_id":"m","answer":"a","agent":{"call_number":2},"ddb_additional_kwargs":{"figure":[]}}`, string(b))

	var back Response
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "a", back.Answer)
	assert.Equal(t, "m", back.MessageID)
	assert.Equal(t, []state.Figure{}, back.Figure)
	assert.Equal(t, resp.Extra, back.Extra)
}
