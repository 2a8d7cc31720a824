package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/internal/state"
)

// SystemPromptKey 为 prompt 模板存储中 tool_calling 任务的系统提示词名
const SystemPromptKey = "system_prompt"

// SystemPromptTemplate 定义系统提示词模板
// 包含动态变量: {time}, {examples}
const SystemPromptTemplate = `你是一名专业的智能客服助手。
你的目标是理解用户的问题，选择合适的工具获取信息，并给出准确、简洁的回答。

当前系统时间: {time}

你需要遵循以下原则:
1. 每一轮只能调用一个工具。
2. 信息不足以回答时，调用 give_rhetorical_question 向用户追问。
3. 已经可以回答时，调用 give_final_response 给出最终答案，不要编造工具结果中没有的信息。
4. 工具执行失败时，根据错误信息修正参数或换用其他工具。

以下是与用户问题相似的历史问题及其对应的工具，可作参考:
{examples}`

// NewChatTemplate 创建默认的规划 ChatTemplate
// "messages" 为历史对话、当前问题与此前工具调用组成的消息序列
func NewChatTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(SystemPromptTemplate),
		schema.MessagesPlaceholder("messages", false),
	)
}

// renderSystemPrompt 渲染存储中的自定义系统提示词
// 自定义模板可能包含 JSON 等花括号内容，只做占位符替换，不走 FString
func renderSystemPrompt(tpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

func promptVars(req PlanRequest) map[string]string {
	return map[string]string{
		"time":     time.Now().Format(time.RFC3339),
		"examples": formatFewshots(req.Fewshots),
	}
}

func formatFewshots(examples []state.IntentExample) string {
	if len(examples) == 0 {
		return "(无)"
	}
	var b strings.Builder
	for _, ex := range examples {
		fmt.Fprintf(&b, "- 问题: %s => 工具: %s\n", ex.Query, ex.Intent)
	}
	return strings.TrimRight(b.String(), "\n")
}
