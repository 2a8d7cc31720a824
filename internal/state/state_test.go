package state

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/llmbot/internal/chatbot"
)

func TestNew_InitializesIdentityValues(t *testing.T) {
	s := New("hi", chatbot.Config{AgentRepeatedCallLimit: 4, EnableTrace: true})

	assert.Equal(t, "hi", s.Query)
	assert.Equal(t, 4, s.AgentRepeatedCallLimit)
	assert.Zero(t, s.AgentCurrentCallNumber)
	assert.True(t, s.EnableTrace)
	assert.NotNil(t, s.ChatHistory)
	assert.NotNil(t, s.ExtraResponse)
	assert.NotNil(t, s.Figure)
	assert.Empty(t, s.TraceInfos)
	assert.Empty(t, s.AgentToolHistory)
}

func TestApply_OverwriteOnlyWhenPresent(t *testing.T) {
	s := New("q", chatbot.Config{})
	s.Apply(Patch{Answer: Set("first"), IntentType: Set("intention detected")})
	s.Apply(Patch{Answer: Set("second")})

	assert.Equal(t, "second", s.Answer)
	assert.Equal(t, "intention detected", s.IntentType)

	s.Apply(Patch{Contexts: Set([]string{"a"})})
	s.Apply(Patch{Contexts: Set([]string{"b"})})
	assert.Equal(t, []string{"b"}, s.Contexts)
}

func TestApply_AppendPreservesOrder(t *testing.T) {
	s := New("q", chatbot.Config{})
	s.Apply(Patch{
		ChatHistory:      Append[*schema.Message]{schema.UserMessage("1")},
		TraceInfos:       Append[TraceEvent]{{Seq: 1, Node: "a"}},
		AgentToolHistory: Append[ToolCall]{{Name: "x"}},
	})
	before := append([]TraceEvent(nil), s.TraceInfos...)

	s.Apply(Patch{
		ChatHistory:      Append[*schema.Message]{schema.AssistantMessage("2", nil), schema.UserMessage("1")},
		TraceInfos:       Append[TraceEvent]{{Seq: 2, Node: "b"}},
		AgentToolHistory: Append[ToolCall]{{Name: "x"}},
		Answer:           Set("done"),
	})

	require.Len(t, s.ChatHistory, 3)
	assert.Equal(t, []string{"1", "2", "1"}, []string{s.ChatHistory[0].Content, s.ChatHistory[1].Content, s.ChatHistory[2].Content})
	assert.Equal(t, before, s.TraceInfos[:len(before)])
	assert.Equal(t, []string{"a", "b"}, s.VisitedNodes())
	assert.Len(t, s.AgentToolHistory, 2)
}

func TestApply_DeepMergeExtraResponse(t *testing.T) {
	s := New("q", chatbot.Config{})
	s.Apply(Patch{ExtraResponse: DeepMerge{"debug": map[string]any{"a": 1, "b": map[string]any{"c": 1}}}})
	s.Apply(Patch{ExtraResponse: DeepMerge{"debug": map[string]any{"b": map[string]any{"d": 2}, "a": 3}, "k": "v"}})

	assert.Equal(t, map[string]any{
		"debug": map[string]any{"a": 3, "b": map[string]any{"c": 1, "d": 2}},
		"k":     "v",
	}, s.ExtraResponse)
}

func TestDecodePatch(t *testing.T) {
	p, err := DecodePatch([]byte(`{
		"answer": "ok",
		"query_rewrite": null,
		"contexts": ["x", "y"],
		"extra_response": {"ref": 1},
		"trace_infos": [{"seq": 1, "node": "remote", "message": "m"}]
	}`))
	require.NoError(t, err)

	assert.True(t, p.Answer.Present)
	assert.True(t, p.QueryRewrite.Present)
	assert.False(t, p.IntentType.Present)

	s := New("q", chatbot.Config{})
	s.QueryRewrite = "old"
	s.IntentType = "kept"
	s.Apply(p)
	assert.Equal(t, "ok", s.Answer)
	assert.Equal(t, "", s.QueryRewrite)
	assert.Equal(t, "kept", s.IntentType)
	assert.Equal(t, []string{"x", "y"}, s.Contexts)
	assert.Equal(t, float64(1), s.ExtraResponse["ref"])
	assert.Equal(t, []string{"remote"}, s.VisitedNodes())
}

func TestDecodePatch_RejectsUnknownAndMistyped(t *testing.T) {
	_, err := DecodePatch([]byte(`{"query": "cannot change"}`))
	assert.Error(t, err)

	_, err = DecodePatch([]byte(`{"answer": 3}`))
	assert.Error(t, err)
}

func TestLastToolCallAndSearchQuery(t *testing.T) {
	s := New("raw", chatbot.Config{})
	_, ok := s.LastToolCall()
	assert.False(t, ok)
	assert.Equal(t, "raw", s.SearchQuery())

	s.Apply(Patch{
		AgentToolHistory: Append[ToolCall]{{Name: "a"}, {Name: "b", Error: "bad args"}},
		QueryRewrite:     Set("rewritten"),
	})
	last, ok := s.LastToolCall()
	require.True(t, ok)
	assert.Equal(t, "b", last.Name)
	assert.False(t, last.Valid())
	assert.Equal(t, "rewritten", s.SearchQuery())
}

func TestPatchThen_EquivalentToSequentialApply(t *testing.T) {
	p := Patch{
		Answer:           Set("first"),
		Contexts:         Set([]string{"a"}),
		ExtraResponse:    DeepMerge{"usage": map[string]any{"in": 1, "out": 2}},
		AgentToolHistory: Append[ToolCall]{{Name: "x"}},
	}
	q := Patch{
		Answer:           Set("second"),
		ExtraResponse:    DeepMerge{"usage": map[string]any{"out": 5}},
		AgentToolHistory: Append[ToolCall]{{Name: "y"}},
		AgentFinished:    Set(true),
	}

	seq := New("q", chatbot.Config{})
	seq.Apply(p)
	seq.Apply(q)

	once := New("q", chatbot.Config{})
	once.Apply(p.Then(q))

	assert.Equal(t, seq.Answer, once.Answer)
	assert.Equal(t, "second", once.Answer)
	assert.Equal(t, []string{"a"}, once.Contexts)
	assert.Equal(t, seq.ExtraResponse, once.ExtraResponse)
	assert.Equal(t, map[string]any{"in": 1, "out": 5}, once.ExtraResponse["usage"])
	assert.Equal(t, seq.AgentToolHistory, once.AgentToolHistory)
	assert.True(t, once.AgentFinished)

	// 组合不修改原 patch
	assert.Len(t, p.AgentToolHistory, 1)
	assert.Equal(t, "first", p.Answer.Value)
}

func TestTraceText(t *testing.T) {
	s := New("q", chatbot.Config{})
	assert.Empty(t, s.TraceText())

	s.Apply(Patch{TraceInfos: Append[TraceEvent]{
		{Seq: 1, Node: "query_preprocess", Message: "query rewrite: q"},
		{Seq: 2, Node: "llm_direct_results_generation", Message: "answer generated"},
	}})
	assert.Equal(t, "**query_preprocess**: query rewrite: q\n**llm_direct_results_generation**: answer generated\n", s.TraceText())
}
