package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	logx "github.com/wwwzy/llmbot/pkg/logger"
)

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Prefix       string        `mapstructure:"prefix"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// NewClient 按配置创建并探活 redis 客户端。
func (c RedisConfig) NewClient(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if c.ReadTimeout > 0 {
		opts.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		opts.WriteTimeout = c.WriteTimeout
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisBroker 通过 redis pub/sub 转发消息，适用于多实例部署：
// 持有 websocket 连接的实例订阅，执行请求的实例发布。
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBroker(client redis.UniversalClient, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "llmbot:ws:"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

func (b *RedisBroker) topic(connID string) string {
	return b.prefix + connID
}

func (b *RedisBroker) Publish(ctx context.Context, connID string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	n, err := b.client.Publish(ctx, b.topic(connID), payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", connID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNoSubscriber, connID)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, connID string) (<-chan Message, func(), error) {
	ps := b.client.Subscribe(ctx, b.topic(connID))
	// 等待订阅确认，避免订阅建立前发布的消息丢失
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", connID, err)
	}

	out := make(chan Message, defaultBuffer)
	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					logx.Warn().Err(err).Str("conn_id", connID).Msg("drop malformed channel message")
					continue
				}
				select {
				case out <- msg:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
