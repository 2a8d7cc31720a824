package agent

import (
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/state"
)

// PlanRequest 是一次规划所需的全部输入，由引擎从共享状态中组装
type PlanRequest struct {
	Query       string
	ChatHistory []*schema.Message
	// ToolHistory 为此前各轮的工具执行记录，按执行顺序排列
	ToolHistory []state.ToolCall
	Fewshots    []state.IntentExample
	// Tools 为本轮允许模型选择的工具
	Tools     []*schema.ToolInfo
	LLMConfig chatbot.LLMConfig
	// Templates 为按 group/model/tool_calling 查到的 prompt 模板，可为空
	Templates map[string]string
}

// AllowedNames 返回 Tools 中的工具名
func (r PlanRequest) AllowedNames() []string {
	names := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		if t != nil {
			names = append(names, t.Name)
		}
	}
	return names
}

// Run 是 agent 子图中流转的状态
type Run struct {
	Request PlanRequest

	// Message 为模型原始输出
	Message *schema.Message
	// ToolCall 为解析出的工具调用，解析失败时为 nil
	ToolCall   *schema.ToolCall
	ParseError string
}

// Output 转为共享状态中的 agent 输出
func (r *Run) Output() *state.AgentOutput {
	return &state.AgentOutput{
		Message:    r.Message,
		ToolCall:   r.ToolCall,
		ParseError: r.ParseError,
	}
}

// ParseOK 表示模型输出解析为合法的工具调用
func (r *Run) ParseOK() bool {
	return r.ToolCall != nil && r.ParseError == ""
}
