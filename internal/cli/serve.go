package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wwwzy/llmbot/internal/monitor"
	"github.com/wwwzy/llmbot/internal/server"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

var serveAddr string

// serveCmd 启动 HTTP / WebSocket 服务与后台数据清理
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 llmbot 服务",
	Long: `启动 HTTP 与 WebSocket 服务。
这将初始化数据库、构建工作流图，并按 monitor.retention 配置定期清理历史记录。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.close(shutdownCtx)
		}()

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := server.New(a.service, a.broker,
			server.WithMetrics(a.metrics),
			server.WithRequestTimeout(cfg.Server.RequestTimeout),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, addr)
		})

		if cfg.Monitor.Retention.Enabled {
			ret, err := monitor.NewRetentionCollector(a.store)
			if err != nil {
				return fmt.Errorf("创建 retention 采集器失败: %w", err)
			}
			mgr, err := monitor.NewManager(cfg.Monitor)
			if err != nil {
				return fmt.Errorf("创建监控管理器失败: %w", err)
			}
			mgr.WithRetention(ret)
			g.Go(func() error {
				return mgr.Run(gctx)
			})
		}

		logx.Info().Str("addr", addr).Msg("llmbot started, press Ctrl+C to stop")
		if err := g.Wait(); err != nil {
			return err
		}
		logx.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址，覆盖 server.addr")
}
