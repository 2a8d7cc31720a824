package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

var errNotInitialized = errors.New("storage not initialized")

// ---- prompt templates ----

// PromptQuery 的字段均为可选精确匹配，零值不参与过滤。
type PromptQuery struct {
	GroupName string
	ModelID   string
	Task      string
	Limit     int
}

// UpsertPromptTemplate 按 (group, model, task, name) 插入或覆盖模板内容。
func (s *Storage) UpsertPromptTemplate(ctx context.Context, p *PromptTemplate) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if p == nil {
		return errors.New("prompt template is nil")
	}
	if p.GroupName == "" || p.ModelID == "" || p.Task == "" || p.Name == "" {
		return errors.New("prompt template key is incomplete")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_name"}, {Name: "model_id"}, {Name: "task"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"template", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("upsert prompt template: %w", err)
	}
	return nil
}

// PromptTemplates 返回 (group, model, task) 下的 name -> template。没有记录时返回空 map。
func (s *Storage) PromptTemplates(ctx context.Context, group, modelID, task string) (map[string]string, error) {
	rows, err := s.QueryPromptTemplates(ctx, PromptQuery{GroupName: group, ModelID: modelID, Task: task, Limit: maxLimit})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Template
	}
	return out, nil
}

func (s *Storage) QueryPromptTemplates(ctx context.Context, q PromptQuery) ([]PromptTemplate, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	db := s.db.WithContext(ctx).Model(&PromptTemplate{})
	if q.GroupName != "" {
		db = db.Where("group_name = ?", q.GroupName)
	}
	if q.ModelID != "" {
		db = db.Where("model_id = ?", q.ModelID)
	}
	if q.Task != "" {
		db = db.Where("task = ?", q.Task)
	}
	var out []PromptTemplate
	err := db.Order("group_name, model_id, task, name").Limit(normalizeLimit(q.Limit)).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query prompt templates: %w", err)
	}
	return out, nil
}

func (s *Storage) DeletePromptTemplate(ctx context.Context, group, modelID, task, name string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).
		Where("group_name = ? AND model_id = ? AND task = ? AND name = ?", group, modelID, task, name).
		Delete(&PromptTemplate{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete prompt template: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ---- tool call records ----

// ToolCallQuery 的字段均为可选过滤条件；时间范围作用于 CreatedAt，两端包含。
type ToolCallQuery struct {
	TraceID string
	Tool    string
	Status  string
	From    *time.Time
	To      *time.Time
	Limit   int
	Desc    bool
}

func (s *Storage) InsertToolCallRecord(ctx context.Context, rec *ToolCallRecord) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if rec == nil {
		return errors.New("tool call record is nil")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert tool call record: %w", err)
	}
	return nil
}

type ToolCallUpdate struct {
	Status       *string
	ResultJSON   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

func (s *Storage) UpdateToolCallRecord(ctx context.Context, id uint64, up ToolCallUpdate) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	updates := make(map[string]interface{})
	if up.Status != nil {
		updates["status"] = *up.Status
	}
	if up.ResultJSON != nil {
		updates["result_json"] = *up.ResultJSON
	}
	if up.ErrorMessage != nil {
		updates["error_message"] = *up.ErrorMessage
	}
	if up.FinishedAt != nil {
		updates["finished_at"] = *up.FinishedAt
	}
	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&ToolCallRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update tool call record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError{Entity: "tool call record", ID: id}
	}
	return nil
}

func (s *Storage) QueryToolCallRecords(ctx context.Context, q ToolCallQuery) ([]ToolCallRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	db := s.db.WithContext(ctx).Model(&ToolCallRecord{})
	if q.TraceID != "" {
		db = db.Where("trace_id = ?", q.TraceID)
	}
	if q.Tool != "" {
		db = db.Where("tool = ?", q.Tool)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	db = whereCreatedBetween(db, q.From, q.To)
	db = orderByCreated(db, q.Desc).Limit(normalizeLimit(q.Limit))

	var out []ToolCallRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query tool call records: %w", err)
	}
	return out, nil
}

func (s *Storage) DeleteToolCallRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	return s.deleteBeforeLimited(ctx, &ToolCallRecord{}, "tool call records", before, limit)
}

// ---- chat records ----

type ChatQuery struct {
	SessionID string
	UserID    string
	Status    string
	From      *time.Time
	To        *time.Time
	Limit     int
	Desc      bool
}

func (s *Storage) InsertChatRecord(ctx context.Context, rec *ChatRecord) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if rec == nil {
		return errors.New("chat record is nil")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert chat record: %w", err)
	}
	return nil
}

// GetChatRecord 按 message_id 读取，不存在时返回 notFoundError。
func (s *Storage) GetChatRecord(ctx context.Context, messageID string) (*ChatRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var rec ChatRecord
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError{Entity: "chat record", Key: messageID}
	}
	if err != nil {
		return nil, fmt.Errorf("get chat record: %w", err)
	}
	return &rec, nil
}

func (s *Storage) QueryChatRecords(ctx context.Context, q ChatQuery) ([]ChatRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	db := s.db.WithContext(ctx).Model(&ChatRecord{})
	if q.SessionID != "" {
		db = db.Where("session_id = ?", q.SessionID)
	}
	if q.UserID != "" {
		db = db.Where("user_id = ?", q.UserID)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	db = whereCreatedBetween(db, q.From, q.To)
	db = orderByCreated(db, q.Desc).Limit(normalizeLimit(q.Limit))

	var out []ChatRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query chat records: %w", err)
	}
	return out, nil
}

func (s *Storage) DeleteChatRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	return s.deleteBeforeLimited(ctx, &ChatRecord{}, "chat records", before, limit)
}

// ---- counts ----

// Counts 为各表记录数。
type Counts struct {
	PromptTemplates int64
	ToolCallRecords int64
	ChatRecords     int64
}

func (s *Storage) Count(ctx context.Context) (Counts, error) {
	if s == nil || s.db == nil {
		return Counts{}, errNotInitialized
	}
	var c Counts
	db := s.db.WithContext(ctx)
	if err := db.Model(&PromptTemplate{}).Count(&c.PromptTemplates).Error; err != nil {
		return c, fmt.Errorf("count prompt templates: %w", err)
	}
	if err := db.Model(&ToolCallRecord{}).Count(&c.ToolCallRecords).Error; err != nil {
		return c, fmt.Errorf("count tool call records: %w", err)
	}
	if err := db.Model(&ChatRecord{}).Count(&c.ChatRecords).Error; err != nil {
		return c, fmt.Errorf("count chat records: %w", err)
	}
	return c, nil
}

// deleteBeforeLimited 删除 created_at < before 的最早至多 limit 条记录。
func (s *Storage) deleteBeforeLimited(ctx context.Context, model any, entity string, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}

	var ids []uint64
	err := s.db.WithContext(ctx).Model(model).
		Select("id").
		Where("created_at < ?", before).
		Order("id ASC").
		Limit(normalizeDeleteLimit(limit)).
		Find(&ids).Error
	if err != nil {
		return 0, fmt.Errorf("select %s ids: %w", entity, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(model)
	if res.Error != nil {
		return 0, fmt.Errorf("delete %s: %w", entity, res.Error)
	}
	return res.RowsAffected, nil
}

func whereCreatedBetween(db *gorm.DB, from, to *time.Time) *gorm.DB {
	if from != nil {
		db = db.Where("created_at >= ?", *from)
	}
	if to != nil {
		db = db.Where("created_at <= ?", *to)
	}
	return db
}

func orderByCreated(db *gorm.DB, desc bool) *gorm.DB {
	if desc {
		return db.Order("created_at DESC, id DESC")
	}
	return db.Order("created_at ASC, id ASC")
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}

type notFoundError struct {
	Entity string
	ID     uint64
	Key    string
}

func (e notFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
	}
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

// IsNotFound 判断 err 是否为记录不存在。
func IsNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf)
}
