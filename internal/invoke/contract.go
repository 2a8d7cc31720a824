package invoke

import (
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/state"
)

// 以下为各外部函数的请求/响应结构。

type QueryPreprocessRequest struct {
	Query       string            `json:"query"`
	ChatHistory []*schema.Message `json:"chat_history"`
	LLMConfig   chatbot.LLMConfig `json:"llm_config"`
}

type QueryPreprocessResponse struct {
	QueryRewrite string `json:"query_rewrite"`
}

type IntentionRequest struct {
	Query      string                    `json:"query"`
	Retrievers []chatbot.RetrieverConfig `json:"retrievers"`
}

type IntentionResponse struct {
	Examples []state.IntentExample `json:"examples"`
}

type RetrieveRequest struct {
	Query      string                    `json:"query"`
	Retrievers []chatbot.RetrieverConfig `json:"retrievers"`
	Rerankers  []chatbot.RerankerConfig  `json:"rerankers,omitempty"`
}

type Document struct {
	PageContent string         `json:"page_content"`
	Score       float64        `json:"score"`
	Figure      []state.Figure `json:"figure,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type RetrieveResponse struct {
	Documents []Document `json:"documents"`
}

// LLMRequest 统一描述 chat / rag / tool_calling 等任务的一次模型调用。
type LLMRequest struct {
	Task        chatbot.TaskType      `json:"task"`
	Query       string                `json:"query"`
	ChatHistory []*schema.Message     `json:"chat_history"`
	Contexts    []string              `json:"contexts,omitempty"`
	LLMConfig   chatbot.LLMConfig     `json:"llm_config"`
	Templates   map[string]string     `json:"templates,omitempty"`
	Tools       []*schema.ToolInfo    `json:"tools,omitempty"`
	Fewshots    []state.IntentExample `json:"fewshot_examples,omitempty"`
	Messages    []*schema.Message     `json:"messages,omitempty"`
}

// LLMResponse 中 Message 仅在 tool_calling 任务中返回。
type LLMResponse struct {
	Answer  string          `json:"answer"`
	Message *schema.Message `json:"message,omitempty"`
}

type WeatherRequest struct {
	City string `json:"city"`
}
