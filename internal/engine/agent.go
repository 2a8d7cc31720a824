package engine

import (
	"context"
	"fmt"

	"github.com/wwwzy/llmbot/internal/agent"
	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/state"
)

// agentStep 是 agent 循环的一轮，按以下顺序决策：
//  1. 没有意图样例，或第一轮就选择了 give_final_response：改走检索 + RAG 生成，结束循环
//  2. 上一轮有效执行了 run-once 工具：其结果即为答案，结束循环
//  3. 调用次数已达上限：最后一次工具结果有效则以它为上下文做 RAG 生成并结束，否则预算耗尽
//  4. 否则调用规划子图，调用次数加一
func (e *Engine) agentStep(ctx context.Context, st *state.State) (state.Patch, string, error) {
	prev := st.AgentCurrentCallNumber
	limit := st.AgentRepeatedCallLimit
	last, hasLast := st.LastToolCall()
	parsedLast := hasLast && st.FunctionCallingParseOK

	if len(st.IntentFewshotExamples) == 0 ||
		(prev == 1 && parsedLast && last.Name == chatbot.ToolFinalResponse) {
		return e.ragFallback(ctx, st)
	}

	if prev >= 1 && parsedLast && last.Mode == state.RunOnce && last.Valid() {
		return state.Patch{
			Answer:        state.Set(last.Result),
			AgentFinished: state.Set(true),
		}, fmt.Sprintf("%s is run-once, use its result", last.Name), nil
	}

	if prev >= limit {
		if hasLast && last.Valid() {
			return e.answerFromToolResult(ctx, st, last)
		}
		return state.Patch{}, "", errx.Routing(NodeAgent,
			fmt.Errorf("%w: limit %d", ErrAgentBudgetExhausted, limit))
	}

	cfg := st.ChatbotConfig
	templates, err := e.templates(ctx, st, chatbot.TaskToolCalling, cfg.AgentConfig.ModelID)
	if err != nil {
		return state.Patch{}, "", err
	}
	run, err := e.deps.Agent.Step(ctx, agent.PlanRequest{
		Query:       st.Query,
		ChatHistory: st.ChatHistory,
		ToolHistory: st.AgentToolHistory,
		Fewshots:    st.IntentFewshotExamples,
		Tools:       e.deps.Toolbox.Infos(agent.AllowedTools(cfg, st.IntentFewshotTools)),
		LLMConfig:   cfg.AgentConfig.LLMConfig,
		Templates:   templates,
	})
	if err != nil {
		return state.Patch{}, "", err
	}

	n := prev + 1
	text := fmt.Sprintf("call %d/%d: parse failed: %s", n, limit, run.ParseError)
	if run.ParseOK() {
		text = fmt.Sprintf("call %d/%d: %s %s", n, limit, run.ToolCall.Function.Name, run.ToolCall.Function.Arguments)
	}
	return state.Patch{
		AgentCurrentOutput:     state.Set(run.Output()),
		FunctionCallingParseOK: state.Set(run.ParseOK()),
		AgentCurrentCallNumber: state.Set(n),
	}, text, nil
}

func (e *Engine) ragFallback(ctx context.Context, st *state.State) (state.Patch, string, error) {
	contexts, figures, retrieved, err := e.retrieve(ctx, st)
	if err != nil {
		return state.Patch{}, "", err
	}
	answer, generated, err := e.generateRAG(ctx, st, contexts)
	if err != nil {
		return state.Patch{}, "", err
	}
	p := retrieved.Then(generated).Then(state.Patch{
		Contexts:      state.Set(contexts),
		Figure:        state.Set(firstFigure(figures)),
		Answer:        state.Set(answer),
		AgentFinished: state.Set(true),
	})
	return p, fmt.Sprintf("no usable intention, answer with rag over %d contexts", len(contexts)), nil
}

// answerFromToolResult 在预算用尽时把最后一次工具结果作为上下文交给 RAG 生成
func (e *Engine) answerFromToolResult(ctx context.Context, st *state.State, last state.ToolCall) (state.Patch, string, error) {
	contexts := []string{last.Result}
	answer, p, err := e.generateRAG(ctx, st, contexts)
	if err != nil {
		return state.Patch{}, "", err
	}
	p.Contexts = state.Set(contexts)
	p.Answer = state.Set(answer)
	p.AgentFinished = state.Set(true)
	return p, fmt.Sprintf("call limit %d reached, answer from result of %s", st.AgentRepeatedCallLimit, last.Name), nil
}

// toolsExecution 执行本轮解析出的唯一工具调用。
// 解析失败或参数不合法只追加一条错误记录，交给下一轮规划修正；工具运行出错则整个请求失败。
func (e *Engine) toolsExecution(ctx context.Context, st *state.State) (state.Patch, string, error) {
	out := st.AgentCurrentOutput
	if !st.FunctionCallingParseOK || out == nil || out.ToolCall == nil {
		rec := state.ToolCall{Error: "no valid tool call"}
		if out != nil {
			if out.ParseError != "" {
				rec.Error = out.ParseError
			}
			if out.Message != nil && len(out.Message.ToolCalls) > 0 {
				raw := out.Message.ToolCalls[0]
				rec.ID = raw.ID
				rec.Name = raw.Function.Name
				rec.Arguments = raw.Function.Arguments
			}
		}
		return state.Patch{
			AgentToolHistory: state.Append[state.ToolCall]{rec},
		}, "skip tool execution: " + rec.Error, nil
	}

	ctx = chatbot.WithConfig(ctx, st.ChatbotConfig)
	ctx = agent.WithMessageID(ctx, st.MessageID)
	rec, err := e.deps.Toolbox.Execute(ctx, out.ToolCall)
	if err != nil {
		return state.Patch{}, "", err
	}
	text := fmt.Sprintf("%s (%s): %s", rec.Name, rec.Mode, rec.Result)
	if !rec.Valid() {
		text = fmt.Sprintf("%s rejected: %s", rec.Name, rec.Error)
	}
	return state.Patch{
		AgentToolHistory: state.Append[state.ToolCall]{rec},
	}, text, nil
}
