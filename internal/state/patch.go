package state

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/pkg/maputil"
)

// Overwrite 字段：最近一次写入胜出。Present 为 false 时不修改原值。
type Overwrite[T any] struct {
	Value   T
	Present bool
}

// Set 构造一个会覆盖原值的写入。
func Set[T any](v T) Overwrite[T] {
	return Overwrite[T]{Value: v, Present: true}
}

func (o Overwrite[T]) IsZero() bool { return !o.Present }

// then 返回先写 o 再写 n 的结果
func (o Overwrite[T]) then(n Overwrite[T]) Overwrite[T] {
	if n.Present {
		return n
	}
	return o
}

func (o Overwrite[T]) apply(dst *T) {
	if o.Present {
		*dst = o.Value
	}
}

func (o Overwrite[T]) MarshalJSON() ([]byte, error) {
	if !o.Present {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON 中出现该键即视为写入，显式 null 写入零值。
func (o *Overwrite[T]) UnmarshalJSON(b []byte) error {
	var v T
	if !bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
	}
	o.Value = v
	o.Present = true
	return nil
}

// Append 字段：按顺序追加到原序列末尾，不去重。
type Append[T any] []T

func (a Append[T]) apply(dst *[]T) {
	if len(a) == 0 {
		return
	}
	*dst = append(*dst, a...)
}

func (a Append[T]) then(n Append[T]) Append[T] {
	if len(n) == 0 {
		return a
	}
	out := make(Append[T], 0, len(a)+len(n))
	return append(append(out, a...), n...)
}

// DeepMerge 字段：按键递归合并，冲突叶子取新值。
type DeepMerge map[string]any

func (d DeepMerge) apply(dst *map[string]any) {
	if len(d) == 0 {
		return
	}
	*dst = maputil.DeepMerge(*dst, d)
}

func (d DeepMerge) then(n DeepMerge) DeepMerge {
	if len(n) == 0 {
		return d
	}
	return maputil.DeepMerge(d, n)
}

// Patch 是节点返回的局部状态更新，每个可写字段的合并方式由其类型静态声明。
// 请求级字段（query、配置、连接 id 等）不可由节点修改，因此不出现在这里。
type Patch struct {
	ChatHistory Append[*schema.Message] `json:"chat_history,omitempty"`
	TraceInfos  Append[TraceEvent]      `json:"trace_infos,omitempty"`

	QueryRewrite          Overwrite[string]          `json:"query_rewrite,omitzero"`
	IntentType            Overwrite[string]          `json:"intent_type,omitzero"`
	IntentFewshotExamples Overwrite[[]IntentExample] `json:"intent_fewshot_examples,omitzero"`
	IntentFewshotTools    Overwrite[[]string]        `json:"intent_fewshot_tools,omitzero"`
	Contexts              Overwrite[[]string]        `json:"contexts,omitzero"`
	Figure                Overwrite[[]Figure]        `json:"figure,omitzero"`
	Answer                Overwrite[string]          `json:"answer,omitzero"`
	ExtraResponse         DeepMerge                  `json:"extra_response,omitempty"`

	AgentCurrentOutput     Overwrite[*AgentOutput] `json:"agent_current_output,omitzero"`
	AgentToolHistory       Append[ToolCall]        `json:"agent_tool_history,omitempty"`
	AgentCurrentCallNumber Overwrite[int]          `json:"agent_current_call_number,omitzero"`
	FunctionCallingParseOK Overwrite[bool]         `json:"function_calling_parse_ok,omitzero"`
	AgentFinished          Overwrite[bool]         `json:"agent_finished,omitzero"`
}

// Then 返回与先应用 p 再应用 q 等效的单个 patch。
func (p Patch) Then(q Patch) Patch {
	return Patch{
		ChatHistory: p.ChatHistory.then(q.ChatHistory),
		TraceInfos:  p.TraceInfos.then(q.TraceInfos),

		QueryRewrite:          p.QueryRewrite.then(q.QueryRewrite),
		IntentType:            p.IntentType.then(q.IntentType),
		IntentFewshotExamples: p.IntentFewshotExamples.then(q.IntentFewshotExamples),
		IntentFewshotTools:    p.IntentFewshotTools.then(q.IntentFewshotTools),
		Contexts:              p.Contexts.then(q.Contexts),
		Figure:                p.Figure.then(q.Figure),
		Answer:                p.Answer.then(q.Answer),
		ExtraResponse:         p.ExtraResponse.then(q.ExtraResponse),

		AgentCurrentOutput:     p.AgentCurrentOutput.then(q.AgentCurrentOutput),
		AgentToolHistory:       p.AgentToolHistory.then(q.AgentToolHistory),
		AgentCurrentCallNumber: p.AgentCurrentCallNumber.then(q.AgentCurrentCallNumber),
		FunctionCallingParseOK: p.FunctionCallingParseOK.then(q.FunctionCallingParseOK),
		AgentFinished:          p.AgentFinished.then(q.AgentFinished),
	}
}

// Apply 将 p 合并进 s。
func (s *State) Apply(p Patch) {
	p.ChatHistory.apply(&s.ChatHistory)
	p.TraceInfos.apply(&s.TraceInfos)

	p.QueryRewrite.apply(&s.QueryRewrite)
	p.IntentType.apply(&s.IntentType)
	p.IntentFewshotExamples.apply(&s.IntentFewshotExamples)
	p.IntentFewshotTools.apply(&s.IntentFewshotTools)
	p.Contexts.apply(&s.Contexts)
	p.Figure.apply(&s.Figure)
	p.Answer.apply(&s.Answer)
	p.ExtraResponse.apply(&s.ExtraResponse)

	p.AgentCurrentOutput.apply(&s.AgentCurrentOutput)
	p.AgentToolHistory.apply(&s.AgentToolHistory)
	p.AgentCurrentCallNumber.apply(&s.AgentCurrentCallNumber)
	p.FunctionCallingParseOK.apply(&s.FunctionCallingParseOK)
	p.AgentFinished.apply(&s.AgentFinished)
}

// DecodePatch 解析外部计算单元返回的 JSON patch，未知字段视为协议错误。
func DecodePatch(raw []byte) (Patch, error) {
	var p Patch
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Patch{}, fmt.Errorf("decode state patch: %w", err)
	}
	return p, nil
}
