package chatbot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/wwwzy/llmbot/pkg/maputil"
)

var (
	ErrInvalidMode     = errors.New("invalid chatbot mode")
	ErrInvalidOverride = errors.New("invalid configuration override")
	ErrUnknownScene    = errors.New("unknown scene")
	ErrSceneMismatch   = errors.New("scene conflicts with the selected scene")
)

// legacyLimitKey 是旧版配置中调用预算的键名，仅作为 agent_repeated_call_limit 的别名接收。
const legacyLimitKey = "agent_recursion_limit"

// Resolver 将调用方的部分配置合并到场景默认值之上。
// 默认模型配置通常在进程启动时由环境配置确定。
type Resolver struct {
	defaultLLM   LLMConfig
	defaultIndex IndexConfig
}

func NewResolver(defaultLLM LLMConfig) *Resolver {
	base := BuiltinLLMConfig()
	if defaultLLM.ModelID != "" {
		base.ModelID = defaultLLM.ModelID
	}
	if defaultLLM.EndpointName != "" {
		base.EndpointName = defaultLLM.EndpointName
	}
	if len(defaultLLM.ModelKwargs) > 0 {
		base.ModelKwargs = cloneLLM(defaultLLM).ModelKwargs
	}
	return &Resolver{defaultLLM: base, defaultIndex: BuiltinIndexConfig()}
}

// Resolve 生成一次请求的有效配置。
// 场景只确定一次：scene 非空时以它为准，override["scene"] 与之不同则拒绝；
// scene 为空时取 override["scene"]，仍为空则为通用场景。默认值与强制工具都来自这个场景。
func (r *Resolver) Resolve(scene SceneType, override map[string]any) (Config, error) {
	override = normalizeAliases(override)

	requested, err := overrideScene(override)
	if err != nil {
		return Config{}, err
	}
	switch {
	case scene == "":
		scene = requested
	case requested != "" && requested != scene:
		return Config{}, fmt.Errorf("%w: entry scene %q, chatbot_config.scene %q", ErrSceneMismatch, scene, requested)
	}
	sc, ok := LookupScene(scene)
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownScene, scene)
	}

	// default_llm_config / default_index_config 为浅合并：调用方的顶层键整体替换环境值
	llm, err := overlay(r.defaultLLM, override["default_llm_config"])
	if err != nil {
		return Config{}, fmt.Errorf("default_llm_config: %w", err)
	}
	index, err := overlay(r.defaultIndex, override["default_index_config"])
	if err != nil {
		return Config{}, fmt.Errorf("default_index_config: %w", err)
	}

	if requested == "" {
		override = maputil.DeepMerge(override, map[string]any{"scene": string(sc.Type())})
	}
	return sc.Defaults(llm, index).Apply(override)
}

// Apply 将 override 按字段递归合并到 c 上，调用方值在叶子处胜出，列表整体替换。
// 场景在 c 构造时已确定，override 只能重复同一个场景；强制工具取自该场景。
// 合并结果经 schema 解码、工具集合归一化与校验后返回；对同一 override 重复 Apply 结果不变。
func (c Config) Apply(override map[string]any) (Config, error) {
	sc, ok := LookupScene(c.Scene)
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownScene, c.Scene)
	}
	override = normalizeAliases(override)
	requested, err := overrideScene(override)
	if err != nil {
		return Config{}, err
	}
	if requested != "" && requested != sc.Type() {
		return Config{}, fmt.Errorf("%w: config scene %q, override scene %q", ErrSceneMismatch, sc.Type(), requested)
	}

	base, err := toMap(c)
	if err != nil {
		return Config{}, err
	}
	out, err := decode(maputil.DeepMerge(base, override))
	if err != nil {
		return Config{}, err
	}

	out.Scene = sc.Type()
	out.AgentConfig.Tools = toolSet(out.AgentConfig.Tools, sc.ForcedTools())

	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

func (c Config) Validate() error {
	if !c.ChatbotMode.Valid() {
		return fmt.Errorf("%w: %q (supported: chat, rag, agent)", ErrInvalidMode, c.ChatbotMode)
	}
	if c.AgentRepeatedCallLimit < 1 {
		return fmt.Errorf("%w: agent_repeated_call_limit must be positive, got %d", ErrInvalidOverride, c.AgentRepeatedCallLimit)
	}
	return nil
}

// overrideScene 读取 override 中的 scene，空串视为未指定
func overrideScene(override map[string]any) (SceneType, error) {
	raw, ok := override["scene"]
	if !ok || raw == nil {
		return "", nil
	}
	switch v := raw.(type) {
	case string:
		return SceneType(v), nil
	case SceneType:
		return v, nil
	default:
		return "", fmt.Errorf("%w: scene must be a string, got %T", ErrInvalidOverride, raw)
	}
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return m, nil
}

func decode(m map[string]any) (Config, error) {
	var out Config
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Squash:   true,
		Metadata: &md,
		Result:   &out,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(m); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}

	for _, key := range md.Unused {
		if strings.ContainsAny(key, ".[") {
			continue
		}
		if out.Extensions == nil {
			out.Extensions = map[string]any{}
		}
		out.Extensions[key] = maputil.Clone(m[key])
	}
	return out, nil
}

func overlay[T any](base T, raw any) (T, error) {
	if raw == nil {
		return base, nil
	}
	patch, ok := raw.(map[string]any)
	if !ok {
		return base, fmt.Errorf("%w: expected object, got %T", ErrInvalidOverride, raw)
	}
	m, err := toMap(base)
	if err != nil {
		return base, err
	}
	for k, v := range patch {
		m[k] = maputil.Clone(v)
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Squash: true, Result: &out})
	if err != nil {
		return base, err
	}
	if err := dec.Decode(m); err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	return out, nil
}

func normalizeAliases(override map[string]any) map[string]any {
	legacy, ok := override[legacyLimitKey]
	if !ok {
		return override
	}
	out := make(map[string]any, len(override))
	for k, v := range override {
		if k != legacyLimitKey {
			out[k] = v
		}
	}
	if _, exists := out["agent_repeated_call_limit"]; !exists {
		out["agent_repeated_call_limit"] = legacy
	}
	return out
}

// toolSet 去重并保持首次出现的顺序，forced 中缺失的工具依次追加。
func toolSet(tools []string, forced []string) []string {
	out := make([]string, 0, len(tools)+len(forced))
	seen := make(map[string]struct{}, len(tools)+len(forced))
	for _, group := range [][]string{tools, forced} {
		for _, t := range group {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
