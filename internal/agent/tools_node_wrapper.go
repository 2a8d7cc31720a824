package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"

	"github.com/wwwzy/llmbot/internal/state"
)

// ToolObserver 接收每次工具执行的结果，用于指标统计
type ToolObserver interface {
	ObserveTool(tool string, err error)
}

type ToolboxOption func(*Toolbox)

// WithAuditStore 为每个工具加上审计包装
func WithAuditStore(store AuditStore) ToolboxOption {
	return func(tb *Toolbox) { tb.audit = store }
}

func WithToolObserver(o ToolObserver) ToolboxOption {
	return func(tb *Toolbox) { tb.observer = o }
}

// Toolbox 管理已注册的工具，每次只执行一个工具调用。构造后只读。
type Toolbox struct {
	names    []string
	infos    map[string]*schema.ToolInfo
	modes    map[string]state.RunMode
	node     *compose.ToolsNode
	audit    AuditStore
	observer ToolObserver
}

// NewToolbox 创建一个基于 Eino compose.ToolsNode 的工具箱
func NewToolbox(ctx context.Context, tools []Tool, opts ...ToolboxOption) (*Toolbox, error) {
	tb := &Toolbox{
		infos: make(map[string]*schema.ToolInfo, len(tools)),
		modes: make(map[string]state.RunMode, len(tools)),
	}
	for _, opt := range opts {
		opt(tb)
	}

	base := make([]tool.BaseTool, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("get tool info failed: %w", err)
		}
		if _, dup := tb.infos[info.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", info.Name)
		}
		tb.names = append(tb.names, info.Name)
		tb.infos[info.Name] = info
		tb.modes[info.Name] = t.Mode()

		var it tool.InvokableTool = t
		if tb.audit != nil {
			it = wrapWithAudit(it, tb.audit)
		}
		base = append(base, it)
	}

	tn, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               base,
		ExecuteSequentially: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create tools node failed: %w", err)
	}
	tb.node = tn
	return tb, nil
}

// Names 按注册顺序返回工具名
func (tb *Toolbox) Names() []string {
	return append([]string(nil), tb.names...)
}

// Infos 按 names 的顺序返回已注册工具的描述，未注册的名字被忽略
func (tb *Toolbox) Infos(names []string) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		info, ok := tb.infos[n]
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, info)
	}
	return out
}

// Execute 执行一个工具调用并生成执行记录。参数不合法时记录带 Error 返回；工具运行出错时返回错误。
func (tb *Toolbox) Execute(ctx context.Context, tc *schema.ToolCall) (state.ToolCall, error) {
	if tc == nil {
		return state.ToolCall{}, ErrNoToolCall
	}
	name := tc.Function.Name
	mode, ok := tb.modes[name]
	if !ok {
		return state.ToolCall{}, fmt.Errorf("%w: %s", ErrToolNotAllowed, name)
	}

	// ToolsNode 会解析这个 Message 中的 ToolCalls 并执行
	input := schema.AssistantMessage("", []schema.ToolCall{*tc})
	outputs, err := tb.node.Invoke(ctx, input)
	if err == nil && len(outputs) == 0 {
		err = errors.New("tools node returned no output")
	}
	if tb.observer != nil {
		tb.observer.ObserveTool(name, err)
	}
	rec := state.ToolCall{
		ID:        tc.ID,
		Name:      name,
		Arguments: tc.Function.Arguments,
		Mode:      mode,
	}
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		rec.Error = argErr.Error()
		return rec, nil
	}
	if err != nil {
		return state.ToolCall{}, fmt.Errorf("execute tool %s: %w", name, err)
	}

	rec.Output = outputs[0].Content
	rec.Result = toolResult(rec.Output)
	return rec, nil
}

// toolResult 从工具输出中提取结果：JSON 输出取 result 字段，否则原样返回
func toolResult(output string) string {
	if !gjson.Valid(output) {
		return output
	}
	r := gjson.Get(output, "result")
	if !r.Exists() {
		return output
	}
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Raw
}
