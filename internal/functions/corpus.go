package functions

import (
	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/invoke"
	"github.com/wwwzy/llmbot/internal/state"
)

// DefaultCorpus 是内置的演示知识库
func DefaultCorpus() []invoke.Document {
	return []invoke.Document{
		{
			PageContent: "llmbot 支持三种对话模式：chat 模式直接调用大模型回答，rag 模式先检索知识库再生成回答，agent 模式先识别意图再循环调用工具。",
			Metadata:    map[string]any{"source": "guide.md"},
		},
		{
			PageContent: "agent 模式下每次请求的工具调用次数受 agent_repeated_call_limit 限制，通用场景默认 5 次，零售场景默认 3 次。",
			Metadata:    map[string]any{"source": "guide.md"},
		},
		{
			PageContent: "通用场景始终提供 give_rhetorical_question、give_final_response 和 get_weather 三个工具。",
			Metadata:    map[string]any{"source": "tools.md"},
		},
		{
			PageContent: "检索增强生成（RAG）把检索到的文档片段作为上下文交给模型，回答会附带第一份资料的图片。",
			Figure:      []state.Figure{{ContentType: "image/png", FigurePath: "figures/rag-flow.png"}},
			Metadata:    map[string]any{"source": "rag.md"},
		},
	}
}

// DefaultExamples 是内置的意图样例
func DefaultExamples() []state.IntentExample {
	return []state.IntentExample{
		{Query: "今天北京天气怎么样", Intent: chatbot.ToolGetWeather},
		{Query: "上海明天会下雨吗", Intent: chatbot.ToolGetWeather},
		{Query: "帮我查一下知识库里的资料", Intent: chatbot.ToolSearchKnowledge},
		{Query: "帮我订一张票", Intent: chatbot.ToolRhetoricalQuestion},
		{Query: "你好", Intent: chatbot.ToolFinalResponse, Answer: "你好，我是 llmbot，有什么可以帮你？"},
	}
}
