package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config 为 sqlite 存储配置。HistoryTurns 控制按 session 回填对话历史时取的轮数，0 表示不回填。
type Config struct {
	Path            string           `mapstructure:"path"`
	InMemory        bool             `mapstructure:"in_memory"`
	EnableWAL       bool             `mapstructure:"enable_wal"`
	BusyTimeout     time.Duration    `mapstructure:"busy_timeout"`
	MaxOpenConns    int              `mapstructure:"max_open_conns"`
	MaxIdleConns    int              `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration    `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration    `mapstructure:"slow_threshold"`
	HistoryTurns    int              `mapstructure:"history_turns"`
	Logger          logger.Interface `mapstructure:"-"`
}

// Storage 持有提示词模板、工具审计与对话记录三张表
type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

var models = []any{
	&PromptTemplate{},
	&ToolCallRecord{},
	&ChatRecord{},
}

// 每个内存库使用独立的名字，同进程内多个 Storage 互不可见
var memSeq atomic.Uint64

func Open(ctx context.Context, cfg Config) (*Storage, error) {
	dsn, err := dsnFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{Logger: cfg.Logger}
	if gormCfg.Logger == nil {
		gormCfg.Logger = newGormLogger(cfg.SlowThreshold)
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	// 内存库在最后一个连接关闭时消失，保持至少一个空闲连接
	if cfg.InMemory && cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 1
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 && !cfg.InMemory {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Storage{db: db, sqlDB: sqlDB}
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return errNotInitialized
	}
	return s.sqlDB.PingContext(ctx)
}

// SessionHistory 取该 session 最近 turns 轮成功的问答，按时间正序展开为 user/assistant 消息。
// 失败的请求没有答案，不进入历史。
func (s *Storage) SessionHistory(ctx context.Context, sessionID string, turns int) ([]*schema.Message, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if sessionID == "" || turns <= 0 {
		return nil, nil
	}

	var rows []ChatRecord
	err := s.db.WithContext(ctx).
		Select("query", "answer", "created_at").
		Where("session_id = ? AND status = ?", sessionID, "success").
		Order("created_at DESC").Order("id DESC").
		Limit(turns).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}

	slices.Reverse(rows)
	out := make([]*schema.Message, 0, 2*len(rows))
	for _, r := range rows {
		out = append(out, schema.UserMessage(r.Query), schema.AssistantMessage(r.Answer, nil))
	}
	return out, nil
}

// dsnFromConfig 生成 glebarez/sqlite 的 DSN，连接级 pragma 通过 _pragma 参数在每个新连接上生效
func dsnFromConfig(cfg Config) (string, error) {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")

	if cfg.InMemory {
		q.Set("mode", "memory")
		q.Set("cache", "shared")
		return fmt.Sprintf("file:llmbot-%d?%s", memSeq.Add(1), q.Encode()), nil
	}
	if cfg.Path == "" {
		return "", errors.New("sqlite path is required when InMemory=false")
	}
	if cfg.EnableWAL {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + cfg.Path + "?" + q.Encode(), nil
}
