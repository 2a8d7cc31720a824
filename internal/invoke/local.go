package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc 处理一次调用，输入输出均为 JSON。
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Local 是进程内的函数注册表。payload 在两个方向上都经过 JSON 序列化，
// 与网络实现保持相同的边界语义。
type Local struct {
	mu       sync.RWMutex
	handlers map[Function]HandlerFunc
}

func NewLocal() *Local {
	return &Local{handlers: make(map[Function]HandlerFunc)}
}

// Register 注册或替换 fn 的处理函数。
func (l *Local) Register(fn Function, h HandlerFunc) *Local {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[fn] = h
	return l
}

// Functions 返回已注册的函数名（有序）。
func (l *Local) Functions() []Function {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Function, 0, len(l.handlers))
	for fn := range l.handlers {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *Local) Invoke(ctx context.Context, fn Function, payload any) (json.RawMessage, error) {
	l.mu.RLock()
	h, ok := l.handlers[fn]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, fn)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", fn, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h(ctx, body)
}

// Handle 把强类型函数适配为 HandlerFunc。
func Handle[Req, Resp any](f func(ctx context.Context, req Req) (Resp, error)) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("decode request: %w", err)
			}
		}
		resp, err := f(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}
