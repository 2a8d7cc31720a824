package agent

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/internal/storage"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

const (
	auditTruncateLimit = 2048
)

// AuditStore 持久化工具调用记录，*storage.Storage 实现了它
type AuditStore interface {
	InsertToolCallRecord(ctx context.Context, rec *storage.ToolCallRecord) error
	UpdateToolCallRecord(ctx context.Context, id uint64, up storage.ToolCallUpdate) error
}

// AuditedTool 是一个工具包装器，用于在工具执行前后记录审计日志
type AuditedTool struct {
	impl  tool.InvokableTool
	store AuditStore
}

// wrapWithAudit 将普通工具包装为带审计功能的工具
func wrapWithAudit(t tool.InvokableTool, store AuditStore) tool.InvokableTool {
	if store == nil {
		return t
	}
	return &AuditedTool{impl: t, store: store}
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	name := "unknown"
	if info, err := t.impl.Info(ctx); err == nil && info != nil {
		name = info.Name
	}

	record := &storage.ToolCallRecord{
		TraceID:    MessageIDFrom(ctx),
		Tool:       name,
		ParamsJSON: truncate(argumentsInJSON, auditTruncateLimit),
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}

	// 审计失败只记日志，不阻断工具执行
	if err := t.store.InsertToolCallRecord(ctx, record); err != nil {
		logx.Warn().Err(err).Str("tool", name).Msg("insert tool call record failed")
	}

	result, runErr := t.impl.InvokableRun(ctx, argumentsInJSON, opts...)

	finishedAt := time.Now().UTC()
	status := "success"
	var errMsg *string
	var resultJSON *string

	if runErr != nil {
		status = "failed"
		e := truncate(runErr.Error(), auditTruncateLimit)
		errMsg = &e
	} else {
		r := truncate(result, auditTruncateLimit)
		resultJSON = &r
	}

	// 只有在 Insert 成功且有了 ID 后，才能 Update
	if record.ID != 0 {
		update := storage.ToolCallUpdate{
			Status:       &status,
			ResultJSON:   resultJSON,
			ErrorMessage: errMsg,
			FinishedAt:   &finishedAt,
		}
		if err := t.store.UpdateToolCallRecord(ctx, record.ID, update); err != nil {
			logx.Warn().Err(err).Uint64("id", record.ID).Msg("update tool call record failed")
		}
	}

	return result, runErr
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
