package agent

import (
	"context"
	"errors"

	"github.com/cloudwego/eino-ext/components/model/ark"

	"github.com/wwwzy/llmbot/internal/config"
)

// NewChatModel 初始化 Ark ChatModel，供 ArkPlanner 使用
func NewChatModel(ctx context.Context, arkConfig config.ArkConfig) (*ark.ChatModel, error) {
	if arkConfig.APIKey == "" || arkConfig.ModelID == "" {
		return nil, errors.New("ARK_API_KEY, ARK_MODEL_ID must be set")
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  arkConfig.APIKey,
		Model:   arkConfig.ModelID,
		BaseURL: arkConfig.BaseURL,
	})
}
