package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/llmbot/internal/entry"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/ui"
)

type nopBackend struct{}

func (nopBackend) Handle(context.Context, entry.Request) (*entry.Response, error) {
	return &entry.Response{Answer: "ok"}, nil
}

func update(t *testing.T, m chatModel, msg tea.Msg) (chatModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	cm, ok := next.(chatModel)
	require.True(t, ok)
	return cm, cmd
}

func TestChatModel_ResultStreamsAnswer(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, ui.ChatOptions{ShowDetails: true})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})

	answer := strings.Repeat("北京今天晴，", 10)
	m, cmd := update(t, m, backendResultMsg{
		query: "北京天气",
		resp: &entry.Response{
			Answer: answer,
			Extra:  map[string]any{"agent": map[string]any{"call_number": 1, "tools": []string{"get_weather"}}},
		},
	})
	require.NotNil(t, cmd)
	assert.True(t, m.streaming)
	require.Len(t, m.lines, 2)
	assert.Equal(t, schema.Assistant, m.lines[0].role)
	assert.Equal(t, schema.Tool, m.lines[1].role)
	assert.Len(t, m.session.History, 2)

	for i := 0; i < 20 && m.streaming; i++ {
		m, _ = update(t, m, streamTickMsg{})
	}
	assert.False(t, m.streaming)
	assert.Equal(t, len([]rune(answer)), m.streamPos)
}

func TestChatModel_ErrorResult(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, ui.ChatOptions{})
	m.thinking = true
	m, _ = update(t, m, backendResultMsg{query: "q", err: errx.Node("retriever", errors.New("down"))})

	assert.False(t, m.thinking)
	require.Len(t, m.lines, 1)
	assert.Contains(t, m.lines[0].content, "请求失败 [node]")
	assert.Empty(t, m.session.History)
}

func TestChatModel_EnterSendsRequest(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, ui.ChatOptions{})
	m.input.SetValue("你好")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	require.NotNil(t, cmd)
	assert.True(t, m.thinking)
	require.Len(t, m.lines, 1)
	assert.Equal(t, "你好", m.lines[0].content)
	assert.Empty(t, m.input.Value())

	// 等待回答期间不接受新输入
	m.input.SetValue("再来")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Len(t, m.lines, 1)
}
