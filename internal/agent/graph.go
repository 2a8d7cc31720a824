package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/compose"
)

const (
	GraphName = "agent"

	NodeLLMGenerate = "agent_llm_generate"
	NodeParse       = "parse_tool_calling"
)

// BuildGraph 构建 agent 子图：规划 -> 解析
func BuildGraph(ctx context.Context, planner Planner) (compose.Runnable[*Run, *Run], error) {
	if planner == nil {
		return nil, errors.New("planner is nil")
	}

	g := compose.NewGraph[*Run, *Run]()

	// 使用闭包注入 planner
	if err := g.AddLambdaNode(NodeLLMGenerate, compose.InvokableLambda(func(ctx context.Context, run *Run) (*Run, error) {
		return PlanNode(ctx, run, planner)
	})); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(NodeParse, compose.InvokableLambda(ParseNode)); err != nil {
		return nil, err
	}

	if err := g.AddEdge(compose.START, NodeLLMGenerate); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeLLMGenerate, NodeParse); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeParse, compose.END); err != nil {
		return nil, err
	}

	runnable, err := g.Compile(ctx, compose.WithGraphName(GraphName))
	if err != nil {
		return nil, fmt.Errorf("compile agent graph: %w", err)
	}
	return runnable, nil
}

// Agent 持有编译好的子图，构造后只读，可被并发请求共享
type Agent struct {
	runnable compose.Runnable[*Run, *Run]
}

func New(ctx context.Context, planner Planner) (*Agent, error) {
	r, err := BuildGraph(ctx, planner)
	if err != nil {
		return nil, err
	}
	return &Agent{runnable: r}, nil
}

// Step 执行一轮规划与解析
func (a *Agent) Step(ctx context.Context, req PlanRequest) (*Run, error) {
	return a.runnable.Invoke(ctx, &Run{Request: req})
}
