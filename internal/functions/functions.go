// Package functions 提供节点外部函数的进程内实现，供 invoker.mode=local 时使用。
// 配置了聊天模型时生成类任务交给模型，否则按规则给出确定的结果。
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/invoke"
	"github.com/wwwzy/llmbot/internal/state"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

const (
	defaultIntentTopK   = 5
	defaultRetrieveTopK = 5
)

type Options struct {
	// Model 为空时使用规则实现
	Model    model.ToolCallingChatModel
	Corpus   []invoke.Document
	Examples []state.IntentExample
}

type Functions struct {
	model    model.ToolCallingChatModel
	corpus   []invoke.Document
	examples []state.IntentExample
}

func New(opts Options) *Functions {
	f := &Functions{model: opts.Model, corpus: opts.Corpus, examples: opts.Examples}
	if f.corpus == nil {
		f.corpus = DefaultCorpus()
	}
	if f.examples == nil {
		f.examples = DefaultExamples()
	}
	return f
}

// Register 在 l 上注册全部函数
func (f *Functions) Register(l *invoke.Local) *invoke.Local {
	return l.
		Register(invoke.FnQueryPreprocess, invoke.Handle(f.QueryPreprocess)).
		Register(invoke.FnIntentionDetection, invoke.Handle(f.DetectIntention)).
		Register(invoke.FnRetriever, invoke.Handle(f.Retrieve)).
		Register(invoke.FnLLMGenerate, invoke.Handle(f.Generate)).
		Register(invoke.FnToolGetWeather, invoke.Handle(f.Weather))
}

const rewritePrompt = "根据对话历史，把用户最后的问题改写成一个不依赖上下文的完整问题。只输出改写后的问题。"

// QueryPreprocess 在有历史且配置了模型时改写问题，否则原样返回
func (f *Functions) QueryPreprocess(ctx context.Context, req invoke.QueryPreprocessRequest) (invoke.QueryPreprocessResponse, error) {
	if f.model == nil || len(req.ChatHistory) == 0 {
		return invoke.QueryPreprocessResponse{QueryRewrite: req.Query}, nil
	}
	msgs := make([]*schema.Message, 0, len(req.ChatHistory)+2)
	msgs = append(msgs, schema.SystemMessage(rewritePrompt))
	msgs = append(msgs, req.ChatHistory...)
	msgs = append(msgs, schema.UserMessage(req.Query))
	out, err := f.model.Generate(ctx, msgs)
	if err != nil {
		return invoke.QueryPreprocessResponse{}, fmt.Errorf("rewrite query: %w", err)
	}
	rewrite := strings.TrimSpace(out.Content)
	if rewrite == "" {
		rewrite = req.Query
	}
	return invoke.QueryPreprocessResponse{QueryRewrite: rewrite}, nil
}

// DetectIntention 按相似度返回意图样例，得分为 0 的样例不返回
func (f *Functions) DetectIntention(_ context.Context, req invoke.IntentionRequest) (invoke.IntentionResponse, error) {
	k := topK(req.Retrievers, defaultIntentTopK)
	out := []state.IntentExample{}
	for _, ex := range f.examples {
		s := similarity(req.Query, ex.Query)
		if s <= 0 {
			continue
		}
		ex.Score = s
		out = append(out, ex)
	}
	slices.SortStableFunc(out, func(a, b state.IntentExample) int { return compareScore(a.Score, b.Score) })
	if len(out) > k {
		out = out[:k]
	}
	return invoke.IntentionResponse{Examples: out}, nil
}

func (f *Functions) Retrieve(_ context.Context, req invoke.RetrieveRequest) (invoke.RetrieveResponse, error) {
	k := topK(req.Retrievers, defaultRetrieveTopK)
	out := []invoke.Document{}
	for _, d := range f.corpus {
		s := similarity(req.Query, d.PageContent)
		if s <= 0 {
			continue
		}
		d.Score = s
		out = append(out, d)
	}
	slices.SortStableFunc(out, func(a, b invoke.Document) int { return compareScore(a.Score, b.Score) })
	if len(out) > k {
		out = out[:k]
	}
	return invoke.RetrieveResponse{Documents: out}, nil
}

// Generate 处理 chat / rag / tool_calling 三类生成任务
func (f *Functions) Generate(ctx context.Context, req invoke.LLMRequest) (invoke.LLMResponse, error) {
	if f.model == nil {
		return ruleGenerate(req), nil
	}

	cm := f.model
	if req.Task == chatbot.TaskToolCalling && len(req.Tools) > 0 {
		withTools, err := f.model.WithTools(req.Tools)
		if err != nil {
			return invoke.LLMResponse{}, fmt.Errorf("bind tools: %w", err)
		}
		cm = withTools
	}
	msg, err := cm.Generate(ctx, generationMessages(req))
	if err != nil {
		return invoke.LLMResponse{}, fmt.Errorf("generate %s: %w", req.Task, err)
	}
	logx.Debug().Str("task", string(req.Task)).Int("tool_calls", len(msg.ToolCalls)).Msg("local generate")

	resp := invoke.LLMResponse{Answer: msg.Content}
	if req.Task == chatbot.TaskToolCalling {
		resp.Message = msg
	}
	return resp, nil
}

var weatherConditions = []string{"晴", "多云", "阴", "小雨", "雷阵雨", "小雪"}

// Weather 返回演示用的天气数据，同一城市结果固定
func (f *Functions) Weather(_ context.Context, req invoke.WeatherRequest) (map[string]any, error) {
	city := strings.TrimSpace(req.City)
	if city == "" {
		return nil, errors.New("city is required")
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(city))
	sum := h.Sum32()
	cond := weatherConditions[sum%uint32(len(weatherConditions))]
	temp := int(sum%35) - 5
	return map[string]any{
		"result":      fmt.Sprintf("%s当前天气%s，气温%d°C", city, cond, temp),
		"city":        city,
		"condition":   cond,
		"temperature": temp,
	}, nil
}

const (
	defaultChatPrompt = "你是一个乐于助人的中文助手，回答要简洁准确。"
	defaultRAGPrompt  = "你是一个知识库问答助手。请只根据下面的资料回答问题，资料中没有的内容直接说明不知道。\n\n资料：\n{context}"
)

func generationMessages(req invoke.LLMRequest) []*schema.Message {
	system := req.Templates["system_prompt"]
	if system == "" {
		system = defaultChatPrompt
		if req.Task == chatbot.TaskRAG {
			system = defaultRAGPrompt
		}
	}
	if req.Task == chatbot.TaskRAG {
		system = strings.ReplaceAll(system, "{context}", strings.Join(req.Contexts, "\n\n"))
	}

	msgs := []*schema.Message{schema.SystemMessage(system)}
	if len(req.Messages) > 0 {
		return append(msgs, req.Messages...)
	}
	msgs = append(msgs, req.ChatHistory...)
	return append(msgs, schema.UserMessage(req.Query))
}

// ruleGenerate 是没有模型时的确定实现。
// tool_calling 只会主动调用天气工具，其余情况返回纯文本，解析后视为 give_final_response。
func ruleGenerate(req invoke.LLMRequest) invoke.LLMResponse {
	switch req.Task {
	case chatbot.TaskRAG:
		if len(req.Contexts) == 0 {
			return invoke.LLMResponse{Answer: fmt.Sprintf("知识库中没有找到与「%s」相关的内容。", req.Query)}
		}
		return invoke.LLMResponse{Answer: "根据知识库：" + req.Contexts[0]}
	case chatbot.TaskToolCalling:
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == schema.Tool {
			content := req.Messages[n-1].Content
			return invoke.LLMResponse{Answer: content, Message: schema.AssistantMessage(content, nil)}
		}
		if tc := weatherCall(req); tc != nil {
			return invoke.LLMResponse{Message: schema.AssistantMessage("", []schema.ToolCall{*tc})}
		}
		content := "我可以直接回答：" + req.Query
		return invoke.LLMResponse{Answer: content, Message: schema.AssistantMessage(content, nil)}
	default:
		return invoke.LLMResponse{Answer: "收到：" + req.Query}
	}
}

var cityNoise = []string{"今天", "明天", "后天", "现在", "天气", "气温", "怎么样", "如何", "会下雨吗", "下雨吗", "的", "？", "?"}

// weatherCall 在首个意图样例为天气且天气工具可用时构造一次调用
func weatherCall(req invoke.LLMRequest) *schema.ToolCall {
	if len(req.Fewshots) == 0 || req.Fewshots[0].Intent != chatbot.ToolGetWeather {
		return nil
	}
	if !slices.ContainsFunc(req.Tools, func(t *schema.ToolInfo) bool { return t != nil && t.Name == chatbot.ToolGetWeather }) {
		return nil
	}
	city := req.Query
	for _, w := range cityNoise {
		city = strings.ReplaceAll(city, w, "")
	}
	city = strings.TrimSpace(city)
	if city == "" {
		return nil
	}
	args, err := json.Marshal(map[string]string{"city": city})
	if err != nil {
		return nil
	}
	return &schema.ToolCall{
		ID:       "call_weather",
		Type:     "function",
		Function: schema.FunctionCall{Name: chatbot.ToolGetWeather, Arguments: string(args)},
	}
}

// topK 取第一个检索器配置中的 top_k
func topK(retrievers []chatbot.RetrieverConfig, def int) int {
	if len(retrievers) == 0 {
		return def
	}
	switch v := retrievers[0].Config["top_k"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

// compareScore 按得分降序
func compareScore(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
