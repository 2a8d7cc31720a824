package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wwwzy/llmbot/internal/chatbot"
)

var (
	ErrNoToolCall       = errors.New("model output contains no tool call")
	ErrToolNotAllowed   = errors.New("tool not allowed")
	ErrInvalidArguments = errors.New("tool arguments must be a json object")
)

// PlanNode 调用 Planner 生成下一步动作
func PlanNode(ctx context.Context, run *Run, planner Planner) (*Run, error) {
	msg, err := planner.Plan(ctx, run.Request)
	if err != nil {
		return run, fmt.Errorf("agent plan failed: %w", err)
	}
	run.Message = msg
	run.ToolCall = nil
	run.ParseError = ""
	return run, nil
}

// ParseNode 把模型输出解析为一次工具调用
// 解析失败不是错误：失败原因写入 ParseError，由上层记录后进入下一轮
func ParseNode(_ context.Context, run *Run) (*Run, error) {
	tc, err := ParseToolCall(run.Message, run.Request.AllowedNames())
	if err != nil {
		run.ParseError = err.Error()
		return run, nil
	}
	run.ToolCall = tc
	return run, nil
}

// ParseToolCall 取模型输出中的第一个工具调用并校验。
// 没有工具调用但有文本时，视为以该文本调用 give_final_response。
func ParseToolCall(msg *schema.Message, allowed []string) (*schema.ToolCall, error) {
	if msg == nil {
		return nil, ErrNoToolCall
	}

	if len(msg.ToolCalls) == 0 {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			return nil, ErrNoToolCall
		}
		args, err := json.Marshal(map[string]string{"response": content})
		if err != nil {
			return nil, err
		}
		return &schema.ToolCall{
			ID:   "call_" + uuid.NewString(),
			Type: "function",
			Function: schema.FunctionCall{
				Name:      chatbot.ToolFinalResponse,
				Arguments: string(args),
			},
		}, nil
	}

	tc := msg.ToolCalls[0]
	name := strings.TrimSpace(tc.Function.Name)
	if name == "" {
		return nil, ErrNoToolCall
	}
	if name != chatbot.ToolFinalResponse && !slices.Contains(allowed, name) {
		return nil, fmt.Errorf("%w: %s", ErrToolNotAllowed, name)
	}

	args := strings.TrimSpace(tc.Function.Arguments)
	if args == "" || args == "null" {
		args = "{}"
	}
	if !gjson.Valid(args) || !gjson.Parse(args).IsObject() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArguments, name)
	}

	if tc.ID == "" {
		tc.ID = "call_" + uuid.NewString()
	}
	if tc.Type == "" {
		tc.Type = "function"
	}
	tc.Index = nil
	tc.Function.Name = name
	tc.Function.Arguments = args
	return &tc, nil
}

// BuildMessages 组装规划所需的消息序列：历史对话、当前问题，以及此前每轮的工具调用与结果
func BuildMessages(req PlanRequest) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(req.ChatHistory)+1+2*len(req.ToolHistory))
	msgs = append(msgs, req.ChatHistory...)
	msgs = append(msgs, schema.UserMessage(req.Query))

	for _, call := range req.ToolHistory {
		if call.Name == "" {
			// 模型输出里没有可识别的工具名，只能把错误回灌给模型
			msgs = append(msgs, schema.UserMessage("上一轮输出无法解析为工具调用: "+call.Error))
			continue
		}
		id := call.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		msgs = append(msgs, schema.AssistantMessage("", []schema.ToolCall{{
			ID:   id,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		}}))

		content := call.Output
		if !call.Valid() {
			content = "工具调用失败: " + call.Error
		}
		msgs = append(msgs, schema.ToolMessage(content, id))
	}
	return msgs
}
