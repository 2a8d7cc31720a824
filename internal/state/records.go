package state

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// TraceEvent 是一次节点执行产生的可读轨迹，只用于观测。
type TraceEvent struct {
	Seq     int       `json:"seq"`
	Node    string    `json:"node"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RunMode 区分工具结果是否直接作为最终答案。
type RunMode string

const (
	// RunOnce 工具的结果即为最终答案。
	RunOnce RunMode = "once"
	// RunLoop 工具的结果回灌给下一轮规划。
	RunLoop RunMode = "loop"
)

// ToolCall 记录一次工具执行。Error 非空表示调用未被有效执行（如参数解析失败）。
type ToolCall struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Arguments string  `json:"arguments"`
	Output    string  `json:"output"`
	Result    string  `json:"result"`
	Mode      RunMode `json:"mode"`
	Error     string  `json:"error,omitempty"`
}

// Valid 表示该次调用产生了可用结果。
func (c ToolCall) Valid() bool {
	return c.Error == ""
}

type IntentExample struct {
	Query  string         `json:"query"`
	Score  float64        `json:"score"`
	Intent string         `json:"intent"`
	Answer string         `json:"answer,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Figure 是随答案返回的附件描述。
type Figure struct {
	ContentType string `json:"content_type"`
	FigurePath  string `json:"figure_path"`
}

// AgentOutput 是一次规划的结果：模型原始消息与解析出的工具调用。
type AgentOutput struct {
	Message    *schema.Message  `json:"message,omitempty"`
	ToolCall   *schema.ToolCall `json:"tool_call,omitempty"`
	ParseError string           `json:"parse_error,omitempty"`
}
