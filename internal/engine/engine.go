package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel/trace"

	"github.com/wwwzy/llmbot/internal/agent"
	"github.com/wwwzy/llmbot/internal/channel"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/invoke"
	"github.com/wwwzy/llmbot/internal/observability"
	"github.com/wwwzy/llmbot/internal/state"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

const GraphName = "llmbot"

const (
	NodeQueryPreprocess    = "query_preprocess"
	NodeDirectGeneration   = "llm_direct_results_generation"
	NodeKnowledgeRetrieve  = "knowledge_retrieve"
	NodeRAGGeneration      = "llm_rag_results_generation"
	NodeIntentionDetection = "intention_detection"
	NodeMatchedQuery       = "matched_query_return"
	NodeAgent              = "agent"
	NodeToolsExecution     = "tools_execution"
	NodeFinalResults       = "final_results_preparation"
)

var (
	ErrUnknownRoute         = errors.New("router returned a label with no matching edge")
	ErrAgentBudgetExhausted = errors.New("agent call budget exhausted without a valid tool result")
	ErrNoAnswer             = errors.New("walk finished without an answer")
)

// PromptStore 按 group/model/task 查找 prompt 模板，找不到时返回空 map。
type PromptStore interface {
	PromptTemplates(ctx context.Context, group, modelID, task string) (map[string]string, error)
}

// Deps 为引擎的外部协作者。Prompts、Publisher、Metrics 可为空。
type Deps struct {
	Invoker   invoke.Invoker
	Agent     *agent.Agent
	Toolbox   *agent.Toolbox
	Prompts   PromptStore
	Publisher channel.Publisher
	Metrics   *observability.Metrics
	// MaxSteps 为单次遍历的最少步数上限，实际上限还会按 agent 调用预算放大
	MaxSteps int
}

// Engine 持有编译好的图。构造后只读，可被任意多个并发请求共享。
type Engine struct {
	deps     Deps
	runnable compose.Runnable[*state.State, *state.State]
	tracer   trace.Tracer
	handler  callbacks.Handler
}

// New 构建并编译图，只应在启动阶段调用一次
func New(ctx context.Context, deps Deps) (*Engine, error) {
	if deps.Invoker == nil {
		return nil, errors.New("engine: invoker is required")
	}
	if deps.Agent == nil || deps.Toolbox == nil {
		return nil, errors.New("engine: agent and toolbox are required")
	}

	e := &Engine{
		deps:    deps,
		tracer:  observability.Tracer(),
		handler: newLogHandler(),
	}
	r, err := e.build(ctx)
	if err != nil {
		return nil, err
	}
	e.runnable = r
	return e, nil
}

func (e *Engine) build(ctx context.Context) (compose.Runnable[*state.State, *state.State], error) {
	g := compose.NewGraph[*state.State, *state.State]()

	nodes := []struct {
		key  string
		body nodeFunc
	}{
		{NodeQueryPreprocess, e.queryPreprocess},
		{NodeDirectGeneration, e.directGeneration},
		{NodeKnowledgeRetrieve, e.knowledgeRetrieve},
		{NodeRAGGeneration, e.ragGeneration},
		{NodeIntentionDetection, e.intentionDetection},
		{NodeMatchedQuery, e.matchedQueryReturn},
		{NodeAgent, e.agentStep},
		{NodeToolsExecution, e.toolsExecution},
		{NodeFinalResults, e.finalResults},
	}
	for _, n := range nodes {
		if err := g.AddLambdaNode(n.key, e.wrap(n.key, n.body), compose.WithNodeName(n.key)); err != nil {
			return nil, err
		}
	}

	edges := [][2]string{
		{compose.START, NodeQueryPreprocess},
		{NodeDirectGeneration, compose.END},
		{NodeKnowledgeRetrieve, NodeRAGGeneration},
		{NodeRAGGeneration, compose.END},
		{NodeMatchedQuery, compose.END},
		{NodeToolsExecution, NodeAgent},
		{NodeFinalResults, compose.END},
	}
	for _, ed := range edges {
		if err := g.AddEdge(ed[0], ed[1]); err != nil {
			return nil, err
		}
	}

	if err := g.AddBranch(NodeQueryPreprocess, branch(routeMode, modeChat, modeRAG, modeAgent)); err != nil {
		return nil, err
	}
	if err := g.AddBranch(NodeIntentionDetection, branch(routeIntent, intentMatched, intentAgent)); err != nil {
		return nil, err
	}
	if err := g.AddBranch(NodeAgent, branch(routeAgent, agentTools, agentFinal)); err != nil {
		return nil, err
	}

	r, err := g.Compile(ctx, compose.WithGraphName(GraphName))
	if err != nil {
		return nil, fmt.Errorf("compile graph: %w", err)
	}
	return r, nil
}

// Run 从入口节点遍历到终点，返回最终状态。st 归本次请求独占。
func (e *Engine) Run(ctx context.Context, st *state.State) (*state.State, error) {
	f := &failure{}
	ctx = withFailure(ctx, f)

	out, err := e.runnable.Invoke(ctx, st,
		compose.WithRuntimeMaxSteps(e.stepBudget(st)),
		compose.WithCallbacks(e.handler),
	)
	err = e.classify(err, f)
	// 每个终点都必须产出非空答案
	if err == nil && strings.TrimSpace(out.Answer) == "" {
		err = errx.Routing(GraphName, ErrNoAnswer)
	}
	e.deps.Metrics.ObserveRun(string(st.ChatbotConfig.ChatbotMode), err)
	if err != nil {
		return st, err
	}
	logx.Debug().Str("message_id", out.MessageID).Str("trace", out.TraceText()).Msg("walk finished")
	return out, nil
}

// stepBudget 每轮 agent 迭代占两步（agent + tools_execution），再加上固定路径与余量
func (e *Engine) stepBudget(st *state.State) int {
	return max(e.deps.MaxSteps, 2*(st.AgentRepeatedCallLimit+2)+8)
}

// classify 优先返回节点或路由器记录的原始错误，eino 的包装不向外暴露
func (e *Engine) classify(err error, f *failure) error {
	if err == nil {
		return nil
	}
	if first := f.get(); first != nil {
		return first
	}
	if errors.Is(err, compose.ErrExceedMaxSteps) {
		return errx.Routing("graph", fmt.Errorf("%w: step limit reached", ErrAgentBudgetExhausted))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errx.Node("graph", err)
	}
	return errx.New(errx.KindInternal, "graph", err)
}

func newLogHandler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			logx.Debug().Str("name", info.Name).Str("component", string(info.Component)).Msg("graph step start")
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			logx.Debug().Str("name", info.Name).Str("component", string(info.Component)).Msg("graph step end")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			logx.Debug().Err(err).Str("name", info.Name).Str("component", string(info.Component)).Msg("graph step error")
			return ctx
		}).
		Build()
}
