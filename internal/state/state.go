package state

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/internal/chatbot"
)

// State 是一次请求内在节点间流转的共享状态。
// 只能通过 Apply 合并 Patch 修改，各字段的合并方式由 Patch 中的包装类型决定。
type State struct {
	Query          string         `json:"query"`
	MessageID      string         `json:"message_id"`
	SessionID      string         `json:"session_id,omitempty"`
	WSConnectionID string         `json:"ws_connection_id,omitempty"`
	Stream         bool           `json:"stream"`
	EnableTrace    bool           `json:"enable_trace"`
	ChatbotConfig  chatbot.Config `json:"chatbot_config"`

	ChatHistory []*schema.Message `json:"chat_history"`

	QueryRewrite          string          `json:"query_rewrite"`
	IntentType            string          `json:"intent_type"`
	IntentFewshotExamples []IntentExample `json:"intent_fewshot_examples"`
	IntentFewshotTools    []string        `json:"intent_fewshot_tools"`
	Contexts              []string        `json:"contexts"`
	Figure                []Figure        `json:"figure"`
	Answer                string          `json:"answer"`
	ExtraResponse         map[string]any  `json:"extra_response"`
	TraceInfos            []TraceEvent    `json:"trace_infos"`

	AgentCurrentOutput     *AgentOutput `json:"agent_current_output,omitempty"`
	AgentToolHistory       []ToolCall   `json:"agent_tool_history"`
	AgentRepeatedCallLimit int          `json:"agent_repeated_call_limit"`
	AgentCurrentCallNumber int          `json:"agent_current_call_number"`
	FunctionCallingParseOK bool         `json:"function_calling_parse_ok"`
	AgentFinished          bool         `json:"agent_finished"`
}

// New 构造一次请求的初始状态，追加型与深合并字段初始化为空值。
func New(query string, cfg chatbot.Config) *State {
	return &State{
		Query:                  query,
		EnableTrace:            cfg.EnableTrace,
		ChatbotConfig:          cfg,
		ChatHistory:            []*schema.Message{},
		IntentFewshotExamples:  []IntentExample{},
		IntentFewshotTools:     []string{},
		Contexts:               []string{},
		Figure:                 []Figure{},
		ExtraResponse:          map[string]any{},
		TraceInfos:             []TraceEvent{},
		AgentToolHistory:       []ToolCall{},
		AgentRepeatedCallLimit: cfg.AgentRepeatedCallLimit,
	}
}

// LastToolCall 返回最近一次工具执行记录。
func (s *State) LastToolCall() (ToolCall, bool) {
	if len(s.AgentToolHistory) == 0 {
		return ToolCall{}, false
	}
	return s.AgentToolHistory[len(s.AgentToolHistory)-1], true
}

// VisitedNodes 按执行顺序返回经过的节点。
func (s *State) VisitedNodes() []string {
	out := make([]string, 0, len(s.TraceInfos))
	for _, ev := range s.TraceInfos {
		out = append(out, ev.Node)
	}
	return out
}

// TraceText 把轨迹拼成 markdown 文本，用于调试输出。
func (s *State) TraceText() string {
	var b strings.Builder
	for _, ev := range s.TraceInfos {
		b.WriteString("**")
		b.WriteString(ev.Node)
		b.WriteString("**: ")
		b.WriteString(ev.Message)
		b.WriteString("\n")
	}
	return b.String()
}

// SearchQuery 返回用于检索的查询：有改写结果时优先使用。
func (s *State) SearchQuery() string {
	if s.QueryRewrite != "" {
		return s.QueryRewrite
	}
	return s.Query
}
