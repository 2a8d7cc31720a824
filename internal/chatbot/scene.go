package chatbot

// BuiltinLLMConfig 是环境未提供 default_llm_config 时使用的默认模型配置。
func BuiltinLLMConfig() LLMConfig {
	return LLMConfig{
		ModelID: "anthropic.claude-3-sonnet-20240229-v1:0",
		ModelKwargs: map[string]any{
			"temperature": 0.0,
			"max_tokens":  4096,
		},
	}
}

// BuiltinIndexConfig 是默认的意图/RAG 索引。
func BuiltinIndexConfig() IndexConfig {
	return IndexConfig{
		IntentIndexIDs: []string{"default-intent"},
		RAGIndexIDs:    []string{"test-pdf"},
	}
}

// Scene 描述一个场景的默认配置。
type Scene interface {
	Type() SceneType
	Defaults(llm LLMConfig, index IndexConfig) Config
	// ForcedTools 返回合并后必须出现在 agent 工具集合中的工具。
	ForcedTools() []string
}

type commonScene struct{}

func (commonScene) Type() SceneType { return SceneCommon }

func (commonScene) ForcedTools() []string { return ReservedTools }

func (commonScene) Defaults(llm LLMConfig, index IndexConfig) Config {
	return Config{
		ChatbotMode:            ModeChat,
		Scene:                  SceneCommon,
		GroupName:              "Admin",
		UseHistory:             true,
		EnableTrace:            true,
		AgentRepeatedCallLimit: 5,
		DefaultLLMConfig:       cloneLLM(llm),
		DefaultIndexConfig:     index,
		QueryProcessConfig: QueryProcessConfig{
			ConversationQueryRewrite: cloneLLM(llm),
		},
		IntentionConfig: IntentionConfig{
			QueryKey: "query",
			Retrievers: []RetrieverConfig{{
				Type:     "qq",
				IndexIDs: append([]string(nil), index.IntentIndexIDs...),
				Config:   map[string]any{"top_k": 10},
			}},
		},
		AgentConfig: AgentConfig{
			LLMConfig: cloneLLM(llm),
			Tools:     []string{},
		},
		ChatConfig: cloneLLM(llm),
		RAGConfig: RAGConfig{
			RetrieverConfig: RetrieverSet{
				Retrievers: []RetrieverConfig{{
					Type:     "qd",
					IndexIDs: append([]string(nil), index.RAGIndexIDs...),
					Config: map[string]any{
						"top_k":           5,
						"using_whole_doc": false,
					},
				}},
				Rerankers: []RerankerConfig{{
					Type: "reranker",
					Config: map[string]any{
						"enable_debug": false,
						"target_model": "bge_reranker_model.tar.gz",
					},
				}},
			},
			LLMConfig: cloneLLM(llm),
		},
	}
}

// retailScene 在通用默认值上收紧调用预算并改用零售意图索引，不强制注入工具。
type retailScene struct{}

func (retailScene) Type() SceneType { return SceneRetail }

func (retailScene) ForcedTools() []string { return nil }

func (retailScene) Defaults(llm LLMConfig, index IndexConfig) Config {
	c := commonScene{}.Defaults(llm, index)
	c.Scene = SceneRetail
	c.AgentRepeatedCallLimit = 3
	c.IntentionConfig = IntentionConfig{
		QueryKey: "query_rewrite",
		Retrievers: []RetrieverConfig{{
			Type:     "qq",
			IndexIDs: []string{"retail-intent"},
			Config:   map[string]any{"top_k": 5},
		}},
	}
	return c
}

var scenes = map[SceneType]Scene{
	SceneCommon: commonScene{},
	SceneRetail: retailScene{},
}

// LookupScene 返回场景定义；空值视为通用场景。
func LookupScene(t SceneType) (Scene, bool) {
	if t == "" {
		t = SceneCommon
	}
	s, ok := scenes[t]
	return s, ok
}

func cloneLLM(c LLMConfig) LLMConfig {
	out := c
	if c.ModelKwargs != nil {
		out.ModelKwargs = make(map[string]any, len(c.ModelKwargs))
		for k, v := range c.ModelKwargs {
			out.ModelKwargs[k] = v
		}
	}
	return out
}
