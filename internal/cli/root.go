package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wwwzy/llmbot/internal/config"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "llmbot",
	Short: "llmbot 是一个基于工作流图的对话服务",
	Long: `llmbot 按场景解析对话配置，并通过 chat / rag / agent 三种模式的工作流图回答问题。
可以作为 HTTP / WebSocket 服务运行，也可以在终端中直接对话。`,
	SilenceUsage: true,
}

// Execute 由 main.main() 调用，只需调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.llmbot/config.yaml 搜索）")
}

// initConfig 读取配置文件和环境变量，并按配置初始化日志。
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logx.Init(logx.LoggerOpts{
		Environment: logx.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
	})
}
