package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/llmbot/internal/monitor"
	"github.com/wwwzy/llmbot/internal/storage"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况、浏览对话记录和清理历史记录的命令。`,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	RunE:  runInfo,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "立即按保留策略清理历史记录",
	Long: `忽略定时任务间隔，立即执行一次清理。
默认读取配置文件中的 monitor.retention 策略，--chat-days / --tool-days 可覆盖保留天数。`,
	RunE: runPrune,
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "列出最近的对话记录",
	RunE:  runChats,
}

var (
	pruneChatDays int
	pruneToolDays int

	chatsLimit   int
	chatsSession string
	chatsStatus  string
)

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd, pruneCmd, chatsCmd)

	pruneCmd.Flags().IntVar(&pruneChatDays, "chat-days", 0, "对话记录保留最近 N 天")
	pruneCmd.Flags().IntVar(&pruneToolDays, "tool-days", 0, "工具调用记录保留最近 N 天")

	chatsCmd.Flags().IntVar(&chatsLimit, "limit", 20, "最多显示条数")
	chatsCmd.Flags().StringVar(&chatsSession, "session", "", "按 session_id 过滤")
	chatsCmd.Flags().StringVar(&chatsStatus, "status", "", "按状态过滤: success/failed")
}

func openStore(ctx context.Context) (*storage.Storage, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	return store, nil
}

func runInfo(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	dbPath := cfg.Storage.Path
	if abs, err := filepath.Abs(dbPath); err == nil {
		dbPath = abs
	}
	dbSize := "in-memory"
	if !cfg.Storage.InMemory {
		info, err := os.Stat(dbPath)
		switch {
		case os.IsNotExist(err):
			dbSize = "Not Found (Will be created on first run)"
		case err != nil:
			dbSize = fmt.Sprintf("Error: %v", err)
		default:
			dbSize = fmt.Sprintf("%.2f MB (%s)", float64(info.Size())/1024/1024, dbPath)
		}
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Database File: %s\n\n", dbSize)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "PromptTemplates\t%d\n", counts.PromptTemplates)
	fmt.Fprintf(w, "ToolCallRecords\t%d\n", counts.ToolCallRecords)
	fmt.Fprintf(w, "ChatRecords\t%d\n", counts.ChatRecords)
	return w.Flush()
}

func runPrune(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	policy := cfg.Monitor.Retention
	if pruneChatDays > 0 {
		policy.ChatRecords.KeepFor = time.Duration(pruneChatDays) * 24 * time.Hour
	}
	if pruneToolDays > 0 {
		policy.ToolCalls.KeepFor = time.Duration(pruneToolDays) * 24 * time.Hour
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	before, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Policy: ChatRecords KeepFor=%s, ToolCalls KeepFor=%s\n", policy.ChatRecords.KeepFor, policy.ToolCalls.KeepFor)
	if err := monitor.Prune(ctx, store, policy); err != nil {
		return fmt.Errorf("清理失败: %w", err)
	}
	after, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Prune completed. Deleted %d chat records, %d tool call records.\n",
		before.ChatRecords-after.ChatRecords, before.ToolCallRecords-after.ToolCallRecords)
	return nil
}

func runChats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.QueryChatRecords(ctx, storage.ChatQuery{
		SessionID: chatsSession,
		Status:    chatsStatus,
		Limit:     chatsLimit,
		Desc:      true,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CreatedAt\tMessageID\tMode\tStatus\tDuration\tQuery")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.MessageID, r.Mode, r.Status, r.DurationMS, truncate(r.Query, 40))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "..."
}
