package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/invoke"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

var ErrEmptyPlan = errors.New("planner returned empty message")

// Planner 根据完整上下文提出下一步动作，返回模型原始消息
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*schema.Message, error)
}

// RemotePlanner 通过外部 llm_generate 函数（tool_calling 任务）规划
type RemotePlanner struct {
	invoker invoke.Invoker
}

func NewRemotePlanner(inv invoke.Invoker) *RemotePlanner {
	return &RemotePlanner{invoker: inv}
}

func (p *RemotePlanner) Plan(ctx context.Context, req PlanRequest) (*schema.Message, error) {
	resp, err := invoke.Call[invoke.LLMResponse](ctx, p.invoker, invoke.FnLLMGenerate, invoke.LLMRequest{
		Task:        chatbot.TaskToolCalling,
		Query:       req.Query,
		ChatHistory: req.ChatHistory,
		LLMConfig:   req.LLMConfig,
		Templates:   req.Templates,
		Tools:       req.Tools,
		Fewshots:    req.Fewshots,
		Messages:    BuildMessages(req),
	})
	if err != nil {
		return nil, err
	}
	if resp.Message != nil {
		return resp.Message, nil
	}
	if resp.Answer != "" {
		return schema.AssistantMessage(resp.Answer, nil), nil
	}
	return nil, ErrEmptyPlan
}

// ArkPlanner 在进程内直接调用 ToolCallingChatModel 规划
type ArkPlanner struct {
	model    model.ToolCallingChatModel
	template prompt.ChatTemplate
}

func NewArkPlanner(cm model.ToolCallingChatModel) *ArkPlanner {
	return &ArkPlanner{model: cm, template: NewChatTemplate()}
}

func (p *ArkPlanner) Plan(ctx context.Context, req PlanRequest) (*schema.Message, error) {
	cm := p.model
	if len(req.Tools) > 0 {
		bound, err := p.model.WithTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools to chat model failed: %w", err)
		}
		cm = bound
	}

	messages, err := p.messages(ctx, req)
	if err != nil {
		return nil, err
	}

	msg, err := cm.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("chat model generate failed: %w", err)
	}
	if msg == nil {
		return nil, ErrEmptyPlan
	}
	logx.Debug().Int("tool_calls", len(msg.ToolCalls)).Msg("agent planned")
	return msg, nil
}

// messages 优先使用存储中的自定义系统提示词，否则使用默认模板
func (p *ArkPlanner) messages(ctx context.Context, req PlanRequest) ([]*schema.Message, error) {
	vars := promptVars(req)
	if tpl := req.Templates[SystemPromptKey]; tpl != "" {
		out := []*schema.Message{schema.SystemMessage(renderSystemPrompt(tpl, vars))}
		return append(out, BuildMessages(req)...), nil
	}

	in := map[string]any{"messages": BuildMessages(req)}
	for k, v := range vars {
		in[k] = v
	}
	messages, err := p.template.Format(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("format chat template failed: %w", err)
	}
	return messages, nil
}
