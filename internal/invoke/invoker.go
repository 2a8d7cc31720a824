package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Function 是外部计算单元的名字。
type Function string

const (
	FnQueryPreprocess    Function = "query_preprocess"
	FnIntentionDetection Function = "intention_detection"
	FnRetriever          Function = "retriever"
	FnLLMGenerate        Function = "llm_generate"
	FnToolGetWeather     Function = "tool_get_weather"
)

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrRemote          = errors.New("remote function failed")
)

// Invoker 调用一个外部计算单元，payload 以 JSON 传递，返回原始 JSON 响应。
// 实现可以是进程内注册表，也可以是网络服务；重试只发生在实现内部。
type Invoker interface {
	Invoke(ctx context.Context, fn Function, payload any) (json.RawMessage, error)
}

// Decode 将响应解码为 T。
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, fmt.Errorf("%w: empty response", ErrRemote)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: malformed response: %v", ErrRemote, err)
	}
	return out, nil
}

// Call 调用 fn 并把响应解码为 Resp。
func Call[Resp any](ctx context.Context, inv Invoker, fn Function, payload any) (Resp, error) {
	raw, err := inv.Invoke(ctx, fn, payload)
	if err != nil {
		var zero Resp
		return zero, fmt.Errorf("invoke %s: %w", fn, err)
	}
	out, err := Decode[Resp](raw)
	if err != nil {
		return out, fmt.Errorf("invoke %s: %w", fn, err)
	}
	return out, nil
}
