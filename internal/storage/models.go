package storage

import "time"

// PromptTemplate 是按 (group, model, task, name) 唯一定位的一条提示词模板。
//
// 生成类节点按 (GroupName, ModelID, Task) 读取同组的全部模板；没有记录时使用内置默认值。
type PromptTemplate struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// GroupName 为逻辑分组（chatbot 配置中的 group_name）。
	GroupName string `gorm:"size:128;not null;uniqueIndex:idx_prompt_key,priority:1"`
	// ModelID 为模型标识，与 llm_config.model_id 对应。
	ModelID string `gorm:"size:255;not null;uniqueIndex:idx_prompt_key,priority:2"`
	// Task 为任务类型（chat / rag / tool_calling / conversation_query_rewrite）。
	Task string `gorm:"size:64;not null;uniqueIndex:idx_prompt_key,priority:3"`
	// Name 为模板名（如 system_prompt）。
	Name     string `gorm:"size:128;not null;uniqueIndex:idx_prompt_key,priority:4"`
	Template string `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// ToolCallRecord 记录一次 agent 工具调用及其结果，用于审计与追溯。
//
// 入参与输出统一以 JSON 字符串存放，超长内容会被截断。
type ToolCallRecord struct {
	ID uint64 `gorm:"primaryKey"`
	// TraceID 串联一次请求（即 message_id）。
	TraceID string `gorm:"size:64;index"`
	// Tool 为工具名。
	Tool       string `gorm:"size:128;not null;index"`
	ParamsJSON string `gorm:"type:text"`
	ResultJSON string `gorm:"type:text"`
	// Status 为 running / success / failed。
	Status       string `gorm:"size:32;not null;index"`
	ErrorMessage string `gorm:"type:text"`
	// StartedAt/FinishedAt 表示调用起止时间。
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time `gorm:"index"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime;index"`
}

// ChatRecord 是一次请求的最终结果。
type ChatRecord struct {
	ID        uint64 `gorm:"primaryKey"`
	MessageID string `gorm:"size:64;not null;uniqueIndex"`
	// SessionID 与 CreatedAt 组成联合索引，用于按会话回填历史
	SessionID string `gorm:"size:128;index:idx_chat_session_created,priority:1"`
	UserID    string `gorm:"size:128;index"`
	Mode      string `gorm:"size:16;not null"`
	Scene     string `gorm:"size:32"`
	Query     string `gorm:"type:text;not null"`
	Answer    string `gorm:"type:text"`
	// Status 为 success / failed。
	Status       string `gorm:"size:16;not null;index"`
	ErrorMessage string `gorm:"type:text"`
	// TraceJSON 为按执行顺序排列的节点轨迹。
	TraceJSON  string    `gorm:"type:text"`
	DurationMS int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime;index;index:idx_chat_session_created,priority:2"`
}
