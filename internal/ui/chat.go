package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/wwwzy/llmbot/internal/entry"
	"github.com/wwwzy/llmbot/pkg/maputil"
)

// ChatBackend 由 *entry.Service 实现
type ChatBackend interface {
	Handle(ctx context.Context, req entry.Request) (*entry.Response, error)
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	// Mode 为空时使用场景默认模式
	Mode  string
	Scene string
	// Override 合并进每轮请求的 chatbot_config
	Override map[string]any
	// ShowDetails 在回答后展示 agent 调用信息与图片
	ShowDetails bool
}

// Session 保存一次交互会话的多轮历史
type Session struct {
	ID      string
	History []*schema.Message
	opts    ChatOptions
}

func NewSession(opts ChatOptions) *Session {
	return &Session{ID: uuid.NewString(), opts: opts}
}

// Request 构造本轮请求，历史按当前会话累积
func (s *Session) Request(query string) entry.Request {
	override := maputil.DeepMerge(nil, s.opts.Override)
	if s.opts.Mode != "" {
		override["chatbot_mode"] = s.opts.Mode
	}
	history := make([]*schema.Message, len(s.History))
	copy(history, s.History)
	return entry.Request{
		Query:         query,
		ChatbotConfig: override,
		ChatHistory:   history,
		EntryType:     s.opts.Scene,
		SessionID:     s.ID,
	}
}

// Record 把成功的一轮写入历史
func (s *Session) Record(query string, resp *entry.Response) {
	if resp == nil {
		return
	}
	s.History = append(s.History, entry.History(query, resp.Answer)...)
}

// Details 格式化回答附带的信息，没有可展示内容时返回空串
func Details(resp *entry.Response) string {
	if resp == nil {
		return ""
	}
	var parts []string
	if a, ok := resp.Extra["agent"].(map[string]any); ok {
		if tools := toolNames(a["tools"]); len(tools) > 0 {
			parts = append(parts, fmt.Sprintf("工具: %s (共 %v 轮)", strings.Join(tools, " -> "), a["call_number"]))
		}
	}
	for _, f := range resp.Figure {
		parts = append(parts, fmt.Sprintf("图片: %s (%s)", f.FigurePath, f.ContentType))
	}
	return strings.Join(parts, "\n")
}

// toolNames 兼容进程内的 []string 与经过 JSON 的 []any
func toolNames(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
