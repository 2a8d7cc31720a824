package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wwwzy/llmbot/internal/channel"
	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/invoke"
	"github.com/wwwzy/llmbot/internal/monitor"
	"github.com/wwwzy/llmbot/internal/observability"
	"github.com/wwwzy/llmbot/internal/storage"
)

// 规划器实现
const (
	PlannerRemote = "remote"
	PlannerArk    = "ark"
)

// 节点调用方式
const (
	InvokerLocal = "local"
	InvokerHTTP  = "http"
)

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

// LLMConfig 是环境级默认模型，作为各场景模型配置的基础
type LLMConfig struct {
	ModelID      string         `mapstructure:"model_id"`
	EndpointName string         `mapstructure:"endpoint_name"`
	ModelKwargs  map[string]any `mapstructure:"model_kwargs"`
}

func (c LLMConfig) Chatbot() chatbot.LLMConfig {
	return chatbot.LLMConfig{ModelID: c.ModelID, EndpointName: c.EndpointName, ModelKwargs: c.ModelKwargs}
}

type InvokerConfig struct {
	// Mode 为 local 时使用进程内的演示实现，http 时调用远端函数网关
	Mode            string            `mapstructure:"mode"`
	BaseURL         string            `mapstructure:"base_url"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	MaxRetries      uint              `mapstructure:"max_retries"`
	InitialInterval time.Duration     `mapstructure:"initial_interval"`
	Headers         map[string]string `mapstructure:"headers"`
}

func (c InvokerConfig) HTTP() invoke.HTTPConfig {
	return invoke.HTTPConfig{
		BaseURL:         c.BaseURL,
		Timeout:         c.Timeout,
		MaxRetries:      c.MaxRetries,
		InitialInterval: c.InitialInterval,
		Headers:         c.Headers,
	}
}

type PlannerConfig struct {
	Provider string `mapstructure:"provider"`
}

type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	channel.RedisConfig `mapstructure:",squash"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxSteps 为图遍历的步数上限，0 时按调用预算推算
	MaxSteps int `mapstructure:"max_steps"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	LogLevel    string `mapstructure:"log_level"`
	Environment string `mapstructure:"environment"`
	// Scene 为请求未指定 entry_type 时使用的场景
	Scene string `mapstructure:"scene"`

	DefaultLLM LLMConfig                   `mapstructure:"default_llm_config"`
	Storage    storage.Config              `mapstructure:"storage"`
	Monitor    monitor.Config              `mapstructure:"monitor"`
	Redis      RedisConfig                 `mapstructure:"redis"`
	Server     ServerConfig                `mapstructure:"server"`
	Invoker    InvokerConfig               `mapstructure:"invoker"`
	Planner    PlannerConfig               `mapstructure:"planner"`
	Ark        ArkConfig                   `mapstructure:"ark"`
	Tracing    observability.TracingConfig `mapstructure:"tracing"`
	Metrics    MetricsConfig               `mapstructure:"metrics"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.llmbot")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("LLMBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 只存在于环境变量中的 key 需要先有默认值，Unmarshal 才能看到
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, ok := chatbot.LookupScene(chatbot.SceneType(c.Scene)); !ok {
		return fmt.Errorf("unknown scene %q", c.Scene)
	}

	switch c.Invoker.Mode {
	case InvokerLocal:
	case InvokerHTTP:
		if c.Invoker.BaseURL == "" {
			return fmt.Errorf("invoker.base_url is required when invoker.mode is http")
		}
	default:
		return fmt.Errorf("invoker.mode must be local or http, got %q", c.Invoker.Mode)
	}

	switch c.Planner.Provider {
	case PlannerRemote:
	case PlannerArk:
		// ark 只在作为规划器时必填
		if c.Ark.APIKey == "" {
			return fmt.Errorf("ark.api_key is required (or set ARK_API_KEY env var)")
		}
		if c.Ark.ModelID == "" {
			return fmt.Errorf("ark.model_id is required (or set ARK_MODEL_ID env var)")
		}
	default:
		return fmt.Errorf("planner.provider must be remote or ark, got %q", c.Planner.Provider)
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("environment", d.Environment)
	v.SetDefault("scene", d.Scene)

	v.SetDefault("default_llm_config.model_id", d.DefaultLLM.ModelID)
	v.SetDefault("default_llm_config.endpoint_name", d.DefaultLLM.EndpointName)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.history_turns", d.Storage.HistoryTurns)

	// 数据清理
	v.SetDefault("monitor.retention.enabled", d.Monitor.Retention.Enabled)
	v.SetDefault("monitor.retention.interval", d.Monitor.Retention.Interval)
	v.SetDefault("monitor.retention.workers", d.Monitor.Retention.Workers)
	v.SetDefault("monitor.retention.batch_rows", d.Monitor.Retention.BatchRows)
	v.SetDefault("monitor.retention.idle_sleep", d.Monitor.Retention.IdleSleep)
	v.SetDefault("monitor.retention.chat_records.keep_for", d.Monitor.Retention.ChatRecords.KeepFor)
	v.SetDefault("monitor.retention.tool_calls.keep_for", d.Monitor.Retention.ToolCalls.KeepFor)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.max_steps", d.Server.MaxSteps)

	v.SetDefault("invoker.mode", d.Invoker.Mode)
	v.SetDefault("invoker.base_url", d.Invoker.BaseURL)
	v.SetDefault("invoker.timeout", d.Invoker.Timeout)
	v.SetDefault("invoker.max_retries", d.Invoker.MaxRetries)
	v.SetDefault("invoker.initial_interval", d.Invoker.InitialInterval)

	v.SetDefault("planner.provider", d.Planner.Provider)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", d.Ark.BaseURL)

	_ = v.BindEnv("ark.api_key", "ARK_API_KEY")
	_ = v.BindEnv("ark.model_id", "ARK_MODEL_ID")
	_ = v.BindEnv("ark.base_url", "ARK_BASE_URL")
}

func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		Environment: "development",
		Scene:       string(chatbot.SceneCommon),
		DefaultLLM:  LLMConfig{ModelID: chatbot.BuiltinLLMConfig().ModelID},
		Storage: storage.Config{
			Path:         "llmbot.db",
			BusyTimeout:  5 * time.Second,
			HistoryTurns: 5,
		},
		Monitor: monitor.DefaultConfig(),
		Redis: RedisConfig{
			RedisConfig: channel.RedisConfig{
				URL:          "",
				Prefix:       "llmbot:ws:",
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 2 * time.Minute,
		},
		Invoker: InvokerConfig{
			Mode:            InvokerLocal,
			Timeout:         30 * time.Second,
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
		},
		Planner: PlannerConfig{Provider: PlannerRemote},
		Ark:     ArkConfig{BaseURL: "https://ark.cn-beijing.volces.com/api/v3"},
		Tracing: observability.TracingConfig{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRate:  1,
			ServiceName: "llmbot",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}
