package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wwwzy/llmbot/internal/storage"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "管理提示词模板",
	Long: `提示词模板按 (group, model, task, name) 唯一定位。
生成类节点按请求的 group_name 与模型读取同一任务下的全部模板，没有记录时使用内置默认值。`,
}

var promptsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "新增或覆盖一条模板",
	RunE:  runPromptsSet,
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出模板",
	RunE:  runPromptsList,
}

var promptsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "删除一条模板",
	RunE:  runPromptsDelete,
}

var (
	promptGroup    string
	promptModel    string
	promptTask     string
	promptName     string
	promptTemplate string
	promptFile     string
)

func init() {
	rootCmd.AddCommand(promptsCmd)
	promptsCmd.AddCommand(promptsSetCmd, promptsListCmd, promptsDeleteCmd)

	for _, c := range []*cobra.Command{promptsSetCmd, promptsListCmd, promptsDeleteCmd} {
		c.Flags().StringVar(&promptGroup, "group", "Admin", "模板分组，对应 group_name")
		c.Flags().StringVar(&promptModel, "model", "", "模型标识，对应 llm_config.model_id")
		c.Flags().StringVar(&promptTask, "task", "", "任务类型: chat/rag/tool_calling/conversation_query_rewrite")
	}
	for _, c := range []*cobra.Command{promptsSetCmd, promptsDeleteCmd} {
		c.Flags().StringVar(&promptName, "name", "system_prompt", "模板名")
	}
	promptsSetCmd.Flags().StringVar(&promptTemplate, "template", "", "模板内容")
	promptsSetCmd.Flags().StringVar(&promptFile, "file", "", "从文件读取模板内容")
}

func runPromptsSet(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	text := promptTemplate
	if promptFile != "" {
		b, err := os.ReadFile(promptFile)
		if err != nil {
			return fmt.Errorf("读取模板文件失败: %w", err)
		}
		text = string(b)
	}
	if text == "" {
		return errors.New("必须通过 --template 或 --file 提供模板内容")
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.UpsertPromptTemplate(ctx, &storage.PromptTemplate{
		GroupName: promptGroup,
		ModelID:   promptModel,
		Task:      promptTask,
		Name:      promptName,
		Template:  text,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s/%s/%s/%s\n", promptGroup, promptModel, promptTask, promptName)
	return nil
}

func runPromptsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.QueryPromptTemplates(ctx, storage.PromptQuery{
		GroupName: promptGroup,
		ModelID:   promptModel,
		Task:      promptTask,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Group\tModel\tTask\tName\tTemplate")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.GroupName, r.ModelID, r.Task, r.Name, truncate(r.Template, 50))
	}
	return w.Flush()
}

func runPromptsDelete(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.DeletePromptTemplate(ctx, promptGroup, promptModel, promptTask, promptName)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d template(s)\n", n)
	return nil
}
