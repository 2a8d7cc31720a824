package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino/components/model"

	"github.com/wwwzy/llmbot/internal/agent"
	"github.com/wwwzy/llmbot/internal/channel"
	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/config"
	"github.com/wwwzy/llmbot/internal/engine"
	"github.com/wwwzy/llmbot/internal/entry"
	"github.com/wwwzy/llmbot/internal/functions"
	"github.com/wwwzy/llmbot/internal/invoke"
	"github.com/wwwzy/llmbot/internal/observability"
	"github.com/wwwzy/llmbot/internal/storage"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

// app 聚合 serve 与 chat 共用的组件
type app struct {
	store   *storage.Storage
	metrics *observability.Metrics
	broker  channel.Broker
	service *entry.Service

	closers []func(context.Context) error
}

func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	rt := &app{}
	defer func() {
		if err != nil {
			rt.close(context.Background())
		}
	}()

	// 1. 存储
	rt.store, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.store.Close() })

	// 2. 可观测性
	if cfg.Metrics.Enabled {
		rt.metrics = observability.NewMetrics()
	}
	_, shutdown, err := observability.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("初始化 tracing 失败: %w", err)
	}
	rt.closers = append(rt.closers, shutdown)

	// 3. 模型与外部函数
	var cm model.ToolCallingChatModel
	if cfg.Ark.APIKey != "" && cfg.Ark.ModelID != "" {
		arkModel, err := agent.NewChatModel(ctx, cfg.Ark)
		if err != nil {
			return nil, fmt.Errorf("创建 ark 模型失败: %w", err)
		}
		cm = arkModel
	}

	var (
		inv   invoke.Invoker
		local []string
	)
	switch cfg.Invoker.Mode {
	case config.InvokerHTTP:
		inv, err = invoke.NewHTTP(cfg.Invoker.HTTP(), &http.Client{})
		if err != nil {
			return nil, fmt.Errorf("创建 http invoker 失败: %w", err)
		}
	default:
		l := functions.New(functions.Options{Model: cm}).Register(invoke.NewLocal())
		for _, fn := range l.Functions() {
			local = append(local, string(fn))
		}
		inv = l
	}

	// 4. agent 子图与工具
	var planner agent.Planner
	switch cfg.Planner.Provider {
	case config.PlannerArk:
		if cm == nil {
			return nil, errors.New("planner.provider=ark 需要配置 ark.api_key 与 ark.model_id")
		}
		planner = agent.NewArkPlanner(cm)
	default:
		planner = agent.NewRemotePlanner(inv)
	}
	ag, err := agent.New(ctx, planner)
	if err != nil {
		return nil, fmt.Errorf("构建 agent 失败: %w", err)
	}

	toolOpts := []agent.ToolboxOption{agent.WithAuditStore(rt.store)}
	if rt.metrics != nil {
		toolOpts = append(toolOpts, agent.WithToolObserver(rt.metrics))
	}
	toolbox, err := agent.NewToolbox(ctx, agent.GetTools(inv), toolOpts...)
	if err != nil {
		return nil, fmt.Errorf("构建工具集失败: %w", err)
	}

	// 5. 推送通道
	if cfg.Redis.Enabled {
		client, err := cfg.Redis.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("连接 redis 失败: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
		rt.broker = channel.NewRedisBroker(client, cfg.Redis.Prefix)
	} else {
		rt.broker = channel.NewHub(64)
	}

	// 6. 图引擎与入口
	eng, err := engine.New(ctx, engine.Deps{
		Invoker:   inv,
		Agent:     ag,
		Toolbox:   toolbox,
		Prompts:   rt.store,
		Publisher: rt.broker,
		Metrics:   rt.metrics,
		MaxSteps:  cfg.Server.MaxSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("构建图引擎失败: %w", err)
	}

	resolver := chatbot.NewResolver(cfg.DefaultLLM.Chatbot())
	rt.service = entry.NewService(resolver, eng,
		entry.WithRecorder(rt.store),
		entry.WithPublisher(rt.broker),
		entry.WithDefaultScene(chatbot.SceneType(cfg.Scene)),
		entry.WithHistory(rt.store, cfg.Storage.HistoryTurns),
	)

	logx.Info().
		Str("invoker", cfg.Invoker.Mode).
		Str("planner", cfg.Planner.Provider).
		Bool("redis", cfg.Redis.Enabled).
		Bool("chat_model", cm != nil).
		Strs("functions", local).
		Strs("tools", toolbox.Names()).
		Int("history_turns", cfg.Storage.HistoryTurns).
		Msg("app ready")
	return rt, nil
}

// close 逆序释放资源
func (rt *app) close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			logx.Warn().Err(err).Msg("close app component")
		}
	}
	rt.closers = nil
}
