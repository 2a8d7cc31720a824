package chatbot

import (
	"encoding/json"
)

// Mode 为对话模式。
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeRAG   Mode = "rag"
	ModeAgent Mode = "agent"
)

// Valid 判断模式是否属于 {chat, rag, agent}。
func (m Mode) Valid() bool {
	switch m {
	case ModeChat, ModeRAG, ModeAgent:
		return true
	default:
		return false
	}
}

// SceneType 为业务场景，决定默认配置。
type SceneType string

const (
	SceneCommon SceneType = "common"
	SceneRetail SceneType = "retail"
)

// TaskType 为 LLM 任务类型，也是 prompt 模板的分组键。
type TaskType string

const (
	TaskChat         TaskType = "chat"
	TaskRAG          TaskType = "rag"
	TaskToolCalling  TaskType = "tool_calling"
	TaskQueryRewrite TaskType = "conversation_query_rewrite"
)

// 通用场景下始终存在的工具。
const (
	ToolRhetoricalQuestion = "give_rhetorical_question"
	ToolFinalResponse      = "give_final_response"
	ToolGetWeather         = "get_weather"
)

// ToolSearchKnowledge 检索知识库，only_use_rag_tool 时是唯一可用的工具。
const ToolSearchKnowledge = "search_knowledge"

// ReservedTools 按追加顺序列出通用场景强制注入的工具。
var ReservedTools = []string{ToolRhetoricalQuestion, ToolFinalResponse, ToolGetWeather}

type LLMConfig struct {
	ModelID      string         `json:"model_id"`
	EndpointName string         `json:"endpoint_name,omitempty"`
	ModelKwargs  map[string]any `json:"model_kwargs,omitempty"`
}

type IndexConfig struct {
	IntentIndexIDs []string `json:"intent_index_ids"`
	RAGIndexIDs    []string `json:"rag_index_ids"`
}

type RetrieverConfig struct {
	Type     string         `json:"type"`
	IndexIDs []string       `json:"index_ids"`
	Config   map[string]any `json:"config,omitempty"`
}

type RerankerConfig struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type QueryProcessConfig struct {
	ConversationQueryRewrite LLMConfig `json:"conversation_query_rewrite_config"`
}

type IntentionConfig struct {
	// QueryKey 指定用 state 中哪个字段检索意图样例（query / query_rewrite）。
	QueryKey string `json:"query_key"`
	// SimilarQueryThreshold >0 时，得分不低于该值且带答案的样例直接作为答案返回。
	SimilarQueryThreshold float64           `json:"similar_query_threshold"`
	Retrievers            []RetrieverConfig `json:"retrievers"`
}

type AgentConfig struct {
	LLMConfig
	Tools          []string `json:"tools"`
	OnlyUseRAGTool bool     `json:"only_use_rag_tool"`
}

type RetrieverSet struct {
	Retrievers []RetrieverConfig `json:"retrievers"`
	Rerankers  []RerankerConfig  `json:"rerankers,omitempty"`
}

type RAGConfig struct {
	RetrieverConfig RetrieverSet `json:"retriever_config"`
	LLMConfig       LLMConfig    `json:"llm_config"`
}

// Config 是合并、校验后的有效配置，构造后只读。
type Config struct {
	ChatbotMode            Mode               `json:"chatbot_mode"`
	Scene                  SceneType          `json:"scene"`
	GroupName              string             `json:"group_name"`
	ChatbotID              string             `json:"chatbot_id,omitempty"`
	UseHistory             bool               `json:"use_history"`
	EnableTrace            bool               `json:"enable_trace"`
	AgentRepeatedCallLimit int                `json:"agent_repeated_call_limit"`
	DefaultLLMConfig       LLMConfig          `json:"default_llm_config"`
	DefaultIndexConfig     IndexConfig        `json:"default_index_config"`
	QueryProcessConfig     QueryProcessConfig `json:"query_process_config"`
	IntentionConfig        IntentionConfig    `json:"intention_config"`
	AgentConfig            AgentConfig        `json:"agent_config"`
	ChatConfig             LLMConfig          `json:"chat_config"`
	RAGConfig              RAGConfig          `json:"rag_config"`

	// Extensions 保存未在 schema 中声明的顶层键（场景扩展字段）。
	Extensions map[string]any `json:"-"`
}

// MarshalJSON 将 Extensions 平铺回顶层，已声明字段优先。
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	b, err := json.Marshal(plain(c))
	if err != nil || len(c.Extensions) == 0 {
		return b, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range c.Extensions {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}
