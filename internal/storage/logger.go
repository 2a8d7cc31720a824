package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	logx "github.com/wwwzy/llmbot/pkg/logger"
)

// gormLogger 把 gorm 日志转到 zerolog。慢查询按 warn 输出，其余 SQL 只在 debug 级别输出。
type gormLogger struct {
	level         logger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(slow time.Duration) logger.Interface {
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return &gormLogger{level: logger.Warn, slowThreshold: slow}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		logx.Info().Str("component", "gorm").Msg(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		logx.Warn().Str("component", "gorm").Msg(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		logx.Error().Str("component", "gorm").Msg(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		logx.Error().Err(err).Str("component", "gorm").Dur("elapsed", elapsed).Int64("rows", rows).Msg(sql)
	case elapsed > l.slowThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		logx.Warn().Str("component", "gorm").Dur("elapsed", elapsed).Int64("rows", rows).Msg("slow sql: " + sql)
	case l.level >= logger.Info:
		sql, rows := fc()
		logx.Debug().Str("component", "gorm").Dur("elapsed", elapsed).Int64("rows", rows).Msg(sql)
	}
}
