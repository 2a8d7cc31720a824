package agent

import (
	"context"
)

type messageIDKey struct{}

// WithMessageID 将本次请求的 message_id 注入 context，工具审计以它串联记录
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, messageIDKey{}, messageID)
}

// MessageIDFrom 从 context 获取 message_id
func MessageIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(messageIDKey{}).(string); ok {
		return v
	}
	return ""
}
