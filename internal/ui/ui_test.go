package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/llmbot/internal/entry"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/state"
)

type scriptedBackend struct {
	reqs []entry.Request
}

func (b *scriptedBackend) Handle(_ context.Context, req entry.Request) (*entry.Response, error) {
	b.reqs = append(b.reqs, req)
	if req.Query == "坏" {
		return nil, errx.Node("llm_generate", errors.New("timeout"))
	}
	return &entry.Response{
		MessageID: "m",
		Answer:    "答: " + req.Query,
		Extra: map[string]any{"agent": map[string]any{
			"call_number": 2,
			"tools":       []string{"get_weather", "give_final_response"},
		}},
		Figure: []state.Figure{{ContentType: "image/png", FigurePath: "a.png"}},
	}, nil
}

func TestSession_AccumulatesHistory(t *testing.T) {
	s := NewSession(ChatOptions{Mode: "agent", Scene: "retail", Override: map[string]any{"use_history": true}})

	req := s.Request("第一问")
	assert.Empty(t, req.ChatHistory)
	assert.Equal(t, "agent", req.ChatbotConfig["chatbot_mode"])
	assert.Equal(t, true, req.ChatbotConfig["use_history"])
	assert.Equal(t, "retail", req.EntryType)
	assert.Equal(t, s.ID, req.SessionID)

	s.Record("第一问", &entry.Response{Answer: "第一答"})
	req = s.Request("第二问")
	require.Len(t, req.ChatHistory, 2)
	assert.Equal(t, schema.User, req.ChatHistory[0].Role)
	assert.Equal(t, "第一答", req.ChatHistory[1].Content)

	// 请求持有历史的副本
	s.Record("第二问", &entry.Response{Answer: "第二答"})
	assert.Len(t, req.ChatHistory, 2)
}

func TestConsoleChatUI(t *testing.T) {
	backend := &scriptedBackend{}
	var out bytes.Buffer
	u := &ConsoleChatUI{In: strings.NewReader("你好\n\n坏\n再见\nexit\n"), Out: &out}

	require.NoError(t, u.Run(context.Background(), backend, ChatOptions{ShowDetails: true}))

	text := out.String()
	assert.Contains(t, text, "助手: 答: 你好")
	assert.Contains(t, text, "工具: get_weather -> give_final_response (共 2 轮)")
	assert.Contains(t, text, "图片: a.png (image/png)")
	assert.Contains(t, text, "请求失败 [node]")
	assert.Contains(t, text, "已退出。")

	require.Len(t, backend.reqs, 3)
	// 失败的一轮不进入历史
	assert.Len(t, backend.reqs[2].ChatHistory, 2)
}

func TestConsoleChatUI_EOF(t *testing.T) {
	var out bytes.Buffer
	u := &ConsoleChatUI{In: strings.NewReader(""), Out: &out}
	assert.NoError(t, u.Run(context.Background(), &scriptedBackend{}, ChatOptions{}))
}

func TestDetails_Empty(t *testing.T) {
	assert.Empty(t, Details(nil))
	assert.Empty(t, Details(&entry.Response{Answer: "a"}))
}
