package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	logx "github.com/wwwzy/llmbot/pkg/logger"
)

// RetentionStore 是清理所需的存储能力。
type RetentionStore interface {
	DeleteChatRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteToolCallRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
}

type RetentionCollector struct {
	cfg RetentionConfig

	store RetentionStore
}

func NewRetentionCollector(store RetentionStore) (*RetentionCollector, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &RetentionCollector{store: store, cfg: DefaultConfig().Retention}, nil
}

func (c *RetentionCollector) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}
	c.cfg = c.cfg.withDefaults()

	if err := c.runOnce(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.runOnce(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

// Prune 按 cfg 立即执行一次清理，供命令行使用。
func Prune(ctx context.Context, store RetentionStore, cfg RetentionConfig) error {
	c, err := NewRetentionCollector(store)
	if err != nil {
		return err
	}
	c.cfg = cfg.withDefaults()
	return c.runOnce(ctx, time.Now().UTC())
}

type deleteFunc func(ctx context.Context, before time.Time, limit int) (int64, error)

func (c *RetentionCollector) runOnce(ctx context.Context, now time.Time) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}

	var tasks []func(context.Context) error
	add := func(name string, keep time.Duration, del deleteFunc) {
		if keep <= 0 {
			return
		}
		before := now.Add(-keep)
		tasks = append(tasks, func(ctx context.Context) error {
			n, err := c.deleteBefore(ctx, before, del)
			if n > 0 {
				logx.Info().Str("records", name).Int64("deleted", n).Time("before", before).Msg("retention pruned")
			}
			return err
		})
	}
	add("chat_records", c.cfg.ChatRecords.KeepFor, c.store.DeleteChatRecordsBeforeLimited)
	add("tool_calls", c.cfg.ToolCalls.KeepFor, c.store.DeleteToolCallRecordsBeforeLimited)
	if len(tasks) == 0 {
		return nil
	}

	workers := c.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			close(errs)
			return ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			c.cfg.OnError(err)
			return err
		}
	}
	return nil
}

// deleteBefore 分批删除直到没有可删记录，返回删除总数。
func (c *RetentionCollector) deleteBefore(ctx context.Context, before time.Time, del deleteFunc) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		affected, err := del(ctx, before, c.cfg.BatchRows)
		if err != nil {
			return total, err
		}
		total += affected
		if affected == 0 {
			return total, nil
		}
		if err := c.sleepIdle(ctx); err != nil {
			return total, err
		}
	}
}

func (c *RetentionCollector) sleepIdle(ctx context.Context) error {
	if c.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
