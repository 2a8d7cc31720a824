package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wwwzy/llmbot/internal/tui"
	"github.com/wwwzy/llmbot/internal/ui"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

var (
	chatUI      string
	chatMode    string
	chatScene   string
	chatDetails bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `在终端中直接与工作流图对话，不需要启动服务。
会话内的多轮历史会随每轮请求一起发送。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			// 全屏界面下日志会打乱画面
			logx.Init(logx.LoggerOpts{
				Environment: logx.ParseEnvironment(cfg.Environment),
				Level:       cfg.LogLevel,
				Output:      io.Discard,
			})
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		return uiImpl.Run(ctx, a.service, ui.ChatOptions{
			Mode:        chatMode,
			Scene:       chatScene,
			ShowDetails: chatDetails,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVar(&chatMode, "mode", "", "对话模式: chat/rag/agent，默认使用场景配置")
	chatCmd.Flags().StringVar(&chatScene, "scene", "", "场景: common/retail，默认使用配置中的 scene")
	chatCmd.Flags().BoolVar(&chatDetails, "details", false, "回答后展示工具调用与图片信息")
}
