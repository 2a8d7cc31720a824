package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/invoke"
	"github.com/wwwzy/llmbot/internal/state"
)

// ArgumentError 表示模型给出的工具参数不可用。它不是运行故障，调用记录会带着错误回灌给下一轮规划。
type ArgumentError struct {
	Tool   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

func badArgs(tool, format string, a ...any) error {
	return &ArgumentError{Tool: tool, Reason: fmt.Sprintf(format, a...)}
}

// Tool 是 agent 可调用的工具。Mode 决定结果是直接作为答案还是回灌给下一轮规划。
type Tool interface {
	tool.InvokableTool
	Mode() state.RunMode
}

// RhetoricalQuestionTool 向用户追问
type RhetoricalQuestionTool struct{}

func (t *RhetoricalQuestionTool) Mode() state.RunMode { return state.RunOnce }

func (t *RhetoricalQuestionTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: chatbot.ToolRhetoricalQuestion,
		Desc: "Ask the user a clarifying question when the information is not enough to answer.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"question": {
				Desc:     "The question to ask the user",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

func (t *RhetoricalQuestionTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", badArgs(chatbot.ToolRhetoricalQuestion, "%v", err)
	}
	if strings.TrimSpace(args.Question) == "" {
		return "", badArgs(chatbot.ToolRhetoricalQuestion, "question is required")
	}
	return args.Question, nil
}

// FinalResponseTool 给出最终答案
type FinalResponseTool struct{}

func (t *FinalResponseTool) Mode() state.RunMode { return state.RunOnce }

func (t *FinalResponseTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: chatbot.ToolFinalResponse,
		Desc: "Give the final response to the user when the question can be answered.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"response": {
				Desc:     "The final answer to the user",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

func (t *FinalResponseTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", badArgs(chatbot.ToolFinalResponse, "%v", err)
	}
	return args.Response, nil
}

// WeatherTool 通过外部 tool_get_weather 函数查询天气
type WeatherTool struct {
	invoker invoke.Invoker
}

func NewWeatherTool(inv invoke.Invoker) *WeatherTool {
	return &WeatherTool{invoker: inv}
}

func (t *WeatherTool) Mode() state.RunMode { return state.RunOnce }

func (t *WeatherTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: chatbot.ToolGetWeather,
		Desc: "Get the current weather of a city.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"city": {
				Desc:     "City name, e.g. 'Beijing'",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

func (t *WeatherTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args invoke.WeatherRequest
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", badArgs(chatbot.ToolGetWeather, "%v", err)
	}
	if args.City == "" {
		return "", badArgs(chatbot.ToolGetWeather, "city is required")
	}

	raw, err := t.invoker.Invoke(ctx, invoke.FnToolGetWeather, args)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SearchKnowledgeTool 使用本次请求的 rag_config 检索知识库，结果回灌给下一轮规划
type SearchKnowledgeTool struct {
	invoker invoke.Invoker
}

func NewSearchKnowledgeTool(inv invoke.Invoker) *SearchKnowledgeTool {
	return &SearchKnowledgeTool{invoker: inv}
}

func (t *SearchKnowledgeTool) Mode() state.RunMode { return state.RunLoop }

func (t *SearchKnowledgeTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: chatbot.ToolSearchKnowledge,
		Desc: "Search the knowledge base for documents related to the query.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "The search query",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

func (t *SearchKnowledgeTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", badArgs(chatbot.ToolSearchKnowledge, "%v", err)
	}
	if args.Query == "" {
		return "", badArgs(chatbot.ToolSearchKnowledge, "query is required")
	}
	cfg, ok := chatbot.FromContext(ctx)
	if !ok {
		return "", errors.New("chatbot config missing in context")
	}

	resp, err := invoke.Call[invoke.RetrieveResponse](ctx, t.invoker, invoke.FnRetriever, invoke.RetrieveRequest{
		Query:      args.Query,
		Retrievers: cfg.RAGConfig.RetrieverConfig.Retrievers,
		Rerankers:  cfg.RAGConfig.RetrieverConfig.Rerankers,
	})
	if err != nil {
		return "", err
	}

	contents := make([]string, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		contents = append(contents, d.PageContent)
	}
	data, err := json.Marshal(map[string]any{
		"result":    strings.Join(contents, "\n\n"),
		"documents": len(resp.Documents),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// GetTools 返回内置的全部工具
func GetTools(inv invoke.Invoker) []Tool {
	return []Tool{
		&RhetoricalQuestionTool{},
		&FinalResponseTool{},
		NewWeatherTool(inv),
		NewSearchKnowledgeTool(inv),
	}
}

// AllowedTools 计算本轮允许的工具名：意图样例关联的工具与配置中的工具，
// give_final_response 始终在列。only_use_rag_tool 时只保留知识检索。
func AllowedTools(cfg chatbot.Config, fewshotTools []string) []string {
	var out []string
	add := func(name string) {
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}

	if cfg.AgentConfig.OnlyUseRAGTool {
		add(chatbot.ToolSearchKnowledge)
	} else {
		for _, n := range fewshotTools {
			add(n)
		}
		for _, n := range cfg.AgentConfig.Tools {
			add(n)
		}
	}
	add(chatbot.ToolFinalResponse)
	return out
}
