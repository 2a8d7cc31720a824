package engine

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/wwwzy/llmbot/internal/invoke"
	"github.com/wwwzy/llmbot/internal/state"
)

// statePatchKey 是外部函数响应中附带状态更新的字段
const statePatchKey = "state_patch"

// callNode 调用外部函数并把响应解码为 Resp。
// 响应若带有 state_patch，解码后作为节点 patch 的底稿返回，节点自己的写入在其之后生效。
// trace_infos 由适配器统一追加，外部写入的轨迹被丢弃。
func callNode[Resp any](ctx context.Context, inv invoke.Invoker, fn invoke.Function, payload any) (Resp, state.Patch, error) {
	raw, err := inv.Invoke(ctx, fn, payload)
	if err != nil {
		var zero Resp
		return zero, state.Patch{}, fmt.Errorf("invoke %s: %w", fn, err)
	}
	out, err := invoke.Decode[Resp](raw)
	if err != nil {
		return out, state.Patch{}, fmt.Errorf("invoke %s: %w", fn, err)
	}

	sp := gjson.GetBytes(raw, statePatchKey)
	if !sp.Exists() || sp.Type == gjson.Null {
		return out, state.Patch{}, nil
	}
	p, err := state.DecodePatch([]byte(sp.Raw))
	if err != nil {
		return out, state.Patch{}, fmt.Errorf("invoke %s: %w: %v", fn, invoke.ErrRemote, err)
	}
	p.TraceInfos = nil
	return out, p, nil
}
