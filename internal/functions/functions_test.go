package functions

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/invoke"
)

type fakeModel struct {
	input []*schema.Message
	tools []*schema.ToolInfo
	reply *schema.Message
	err   error
}

func (m *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	return m.reply, m.err
}

func (m *fakeModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *fakeModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.tools = tools
	return m, nil
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("北京天气", "北京天气"))
	assert.Equal(t, 0.0, similarity("北京天气", "你好"))
	assert.Equal(t, 0.0, similarity("", "你好"))
	assert.Equal(t, 1.0, similarity("好", "好"))
	assert.Greater(t, similarity("北京天气", "今天北京天气怎么样"), 0.5)
}

func TestRegister_AllFunctions(t *testing.T) {
	l := New(Options{}).Register(invoke.NewLocal())
	assert.ElementsMatch(t, []invoke.Function{
		invoke.FnQueryPreprocess,
		invoke.FnIntentionDetection,
		invoke.FnRetriever,
		invoke.FnLLMGenerate,
		invoke.FnToolGetWeather,
	}, l.Functions())
}

func TestDetectIntention(t *testing.T) {
	inv := New(Options{}).Register(invoke.NewLocal())

	resp, err := invoke.Call[invoke.IntentionResponse](context.Background(), inv, invoke.FnIntentionDetection,
		invoke.IntentionRequest{Query: "北京天气"})
	require.NoError(t, err)
	require.Len(t, resp.Examples, 1)
	assert.Equal(t, chatbot.ToolGetWeather, resp.Examples[0].Intent)
	assert.Greater(t, resp.Examples[0].Score, 0.0)

	resp, err = invoke.Call[invoke.IntentionResponse](context.Background(), inv, invoke.FnIntentionDetection,
		invoke.IntentionRequest{Query: "xyz"})
	require.NoError(t, err)
	assert.Empty(t, resp.Examples)
}

func TestRetrieve_TopKAndOrder(t *testing.T) {
	f := New(Options{})

	resp, err := f.Retrieve(context.Background(), invoke.RetrieveRequest{Query: "知识库"})
	require.NoError(t, err)
	require.Len(t, resp.Documents, 1)
	assert.Contains(t, resp.Documents[0].PageContent, "知识库")

	resp, err = f.Retrieve(context.Background(), invoke.RetrieveRequest{Query: "模式"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(resp.Documents), 2)
	for i := 1; i < len(resp.Documents); i++ {
		assert.GreaterOrEqual(t, resp.Documents[i-1].Score, resp.Documents[i].Score)
	}

	resp, err = f.Retrieve(context.Background(), invoke.RetrieveRequest{
		Query:      "模式",
		Retrievers: []chatbot.RetrieverConfig{{Type: "local", Config: map[string]any{"top_k": float64(1)}}},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Documents, 1)
}

func TestQueryPreprocess(t *testing.T) {
	f := New(Options{})
	out, err := f.QueryPreprocess(context.Background(), invoke.QueryPreprocessRequest{Query: "那上海呢"})
	require.NoError(t, err)
	assert.Equal(t, "那上海呢", out.QueryRewrite)

	cm := &fakeModel{reply: schema.AssistantMessage(" 上海今天天气怎么样 ", nil)}
	f = New(Options{Model: cm})
	out, err = f.QueryPreprocess(context.Background(), invoke.QueryPreprocessRequest{
		Query:       "那上海呢",
		ChatHistory: []*schema.Message{schema.UserMessage("北京天气"), schema.AssistantMessage("晴", nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, "上海今天天气怎么样", out.QueryRewrite)
	require.Len(t, cm.input, 4)
	assert.Equal(t, schema.System, cm.input[0].Role)
	assert.Equal(t, "那上海呢", cm.input[3].Content)
}

func TestGenerate_Rules(t *testing.T) {
	f := New(Options{})
	ctx := context.Background()

	out, err := f.Generate(ctx, invoke.LLMRequest{Task: chatbot.TaskChat, Query: "你好"})
	require.NoError(t, err)
	assert.Equal(t, "收到：你好", out.Answer)
	assert.Nil(t, out.Message)

	out, err = f.Generate(ctx, invoke.LLMRequest{Task: chatbot.TaskRAG, Query: "q", Contexts: []string{"资料一", "资料二"}})
	require.NoError(t, err)
	assert.Equal(t, "根据知识库：资料一", out.Answer)

	out, err = f.Generate(ctx, invoke.LLMRequest{Task: chatbot.TaskRAG, Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "没有找到")

	out, err = f.Generate(ctx, invoke.LLMRequest{
		Task:     chatbot.TaskToolCalling,
		Query:    "北京天气",
		Messages: []*schema.Message{schema.UserMessage("北京天气"), schema.ToolMessage("北京晴", "call-1")},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Message)
	assert.Empty(t, out.Message.ToolCalls)
	assert.Equal(t, "北京晴", out.Message.Content)
}

func TestGenerate_Model(t *testing.T) {
	cm := &fakeModel{reply: schema.AssistantMessage("答案", nil)}
	f := New(Options{Model: cm})
	ctx := context.Background()

	out, err := f.Generate(ctx, invoke.LLMRequest{
		Task:      chatbot.TaskRAG,
		Query:     "q",
		Contexts:  []string{"a", "b"},
		Templates: map[string]string{"system_prompt": "资料:{context}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "答案", out.Answer)
	assert.Nil(t, out.Message)
	require.Len(t, cm.input, 2)
	assert.Equal(t, "资料:a\n\nb", cm.input[0].Content)
	assert.Nil(t, cm.tools)

	tools := []*schema.ToolInfo{{Name: chatbot.ToolGetWeather}}
	out, err = f.Generate(ctx, invoke.LLMRequest{
		Task:     chatbot.TaskToolCalling,
		Tools:    tools,
		Messages: []*schema.Message{schema.UserMessage("北京天气")},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Message)
	assert.Equal(t, tools, cm.tools)
	require.Len(t, cm.input, 2)
	assert.Equal(t, defaultChatPrompt, cm.input[0].Content)

	cm.err = errors.New("quota")
	_, err = f.Generate(ctx, invoke.LLMRequest{Task: chatbot.TaskChat, Query: "q"})
	assert.ErrorContains(t, err, "quota")
}

func TestWeather(t *testing.T) {
	f := New(Options{})
	a, err := f.Weather(context.Background(), invoke.WeatherRequest{City: "北京"})
	require.NoError(t, err)
	b, err := f.Weather(context.Background(), invoke.WeatherRequest{City: " 北京 "})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a["result"], "北京当前天气")
	assert.Contains(t, weatherConditions, a["condition"])

	_, err = f.Weather(context.Background(), invoke.WeatherRequest{City: " "})
	assert.Error(t, err)
}

func TestGenerate_RulesCallWeather(t *testing.T) {
	f := New(Options{})
	tools := []*schema.ToolInfo{{Name: chatbot.ToolGetWeather}, {Name: chatbot.ToolFinalResponse}}

	examples, err := f.DetectIntention(context.Background(), invoke.IntentionRequest{Query: "北京天气"})
	require.NoError(t, err)

	out, err := f.Generate(context.Background(), invoke.LLMRequest{
		Task:     chatbot.TaskToolCalling,
		Query:    "北京天气",
		Tools:    tools,
		Fewshots: examples.Examples,
		Messages: []*schema.Message{schema.UserMessage("北京天气")},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Message)
	require.Len(t, out.Message.ToolCalls, 1)
	assert.Equal(t, chatbot.ToolGetWeather, out.Message.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"北京"}`, out.Message.ToolCalls[0].Function.Arguments)

	// 天气工具不可用时直接回答
	out, err = f.Generate(context.Background(), invoke.LLMRequest{
		Task:     chatbot.TaskToolCalling,
		Query:    "北京天气",
		Tools:    tools[1:],
		Fewshots: examples.Examples,
	})
	require.NoError(t, err)
	assert.Empty(t, out.Message.ToolCalls)
}
