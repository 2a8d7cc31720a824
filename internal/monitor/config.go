package monitor

import (
	"runtime"
	"time"
)

type ErrorHandler func(err error)

// RetentionConfig 控制已存储记录的定期清理。KeepFor 为 0 表示该类记录永久保留。
type RetentionConfig struct {
	// Enabled 控制清理流水线是否启用。
	Enabled bool `mapstructure:"enabled"`
	// Interval 为清理周期；启动时先执行一次。
	Interval time.Duration `mapstructure:"interval"`
	// Workers 为并发执行清理任务的 worker 数量。
	Workers int `mapstructure:"workers"`
	// BatchRows 为单批删除的最大行数，避免长时间持有写锁。
	BatchRows int `mapstructure:"batch_rows"`
	// IdleSleep 为两批删除之间的间隔，给在线请求让出写入机会。
	IdleSleep time.Duration `mapstructure:"idle_sleep"`

	ChatRecords RecordRetention `mapstructure:"chat_records"`
	ToolCalls   RecordRetention `mapstructure:"tool_calls"`

	// OnError 为异步错误回调；默认丢弃。
	OnError ErrorHandler `mapstructure:"-"`
}

type RecordRetention struct {
	KeepFor time.Duration `mapstructure:"keep_for"`
}

type Config struct {
	Retention RetentionConfig `mapstructure:"retention"`
}

func DefaultConfig() Config {
	return Config{
		Retention: RetentionConfig{
			Enabled:     true,
			Interval:    time.Hour,
			Workers:     2,
			BatchRows:   500,
			IdleSleep:   50 * time.Millisecond,
			ChatRecords: RecordRetention{KeepFor: 30 * 24 * time.Hour},
			ToolCalls:   RecordRetention{KeepFor: 7 * 24 * time.Hour},
		},
	}
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = max(1, runtime.NumCPU()/2)
	}
	if c.BatchRows <= 0 {
		c.BatchRows = 500
	}
	if c.IdleSleep < 0 {
		c.IdleSleep = 0
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}
