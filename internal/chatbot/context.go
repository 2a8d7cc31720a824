package chatbot

import "context"

type configKey struct{}

// WithConfig 将一次请求的有效配置注入 context，供工具等下游组件读取。
func WithConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext 取出 WithConfig 注入的配置。
func FromContext(ctx context.Context) (Config, bool) {
	cfg, ok := ctx.Value(configKey{}).(Config)
	return cfg, ok
}
