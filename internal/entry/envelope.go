package entry

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/llmbot/internal/state"
	"github.com/wwwzy/llmbot/pkg/maputil"
)

// Request 是系统边界上的入站请求。未声明的顶层键作为场景扩展保存在 Extensions。
type Request struct {
	Query           string            `json:"query"`
	ChatbotConfig   map[string]any    `json:"chatbot_config,omitempty"`
	ChatHistory     []*schema.Message `json:"chat_history,omitempty"`
	Stream          bool              `json:"stream"`
	CustomMessageID string            `json:"custom_message_id,omitempty"`
	WSConnectionID  string            `json:"ws_connection_id,omitempty"`
	// EntryType 选择场景，为空时取 chatbot_config.scene，都没有时使用服务默认场景
	EntryType string `json:"entry_type,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	Extensions map[string]any `json:"-"`
}

var requestKeys = map[string]bool{
	"query": true, "chatbot_config": true, "chat_history": true, "stream": true,
	"custom_message_id": true, "ws_connection_id": true, "entry_type": true,
	"session_id": true, "user_id": true,
}

func (r *Request) UnmarshalJSON(b []byte) error {
	type plain Request
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for k, v := range all {
		if requestKeys[k] {
			continue
		}
		if p.Extensions == nil {
			p.Extensions = map[string]any{}
		}
		p.Extensions[k] = v
	}
	*r = Request(p)
	return nil
}

func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	b, err := json.Marshal(plain(r))
	if err != nil || len(r.Extensions) == 0 {
		return b, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range r.Extensions {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// override 返回交给配置解析的调用方配置：场景扩展放在顶层，chatbot_config 中的同名键优先
func (r Request) override() map[string]any {
	if len(r.Extensions) == 0 {
		return r.ChatbotConfig
	}
	return maputil.DeepMerge(r.Extensions, r.ChatbotConfig)
}

// Response 是出站响应：extra_response 的键平铺到顶层，figure 始终存在
type Response struct {
	MessageID string
	Answer    string
	Extra     map[string]any
	Figure    []state.Figure
}

type additionalKwargs struct {
	Figure []state.Figure `json:"figure"`
}

var reservedResponseKeys = []string{"answer", "message_id", "ddb_additional_kwargs"}

func (r Response) MarshalJSON() ([]byte, error) {
	m := maputil.DeepMerge(nil, r.Extra)
	figure := r.Figure
	if figure == nil {
		figure = []state.Figure{}
	}
	m["answer"] = r.Answer
	m["message_id"] = r.MessageID
	m["ddb_additional_kwargs"] = additionalKwargs{Figure: figure}
	return json.Marshal(m)
}

func (r *Response) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out Response
	if v, ok := raw["answer"]; ok {
		if err := json.Unmarshal(v, &out.Answer); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
	}
	if v, ok := raw["message_id"]; ok {
		if err := json.Unmarshal(v, &out.MessageID); err != nil {
			return fmt.Errorf("decode message_id: %w", err)
		}
	}
	if v, ok := raw["ddb_additional_kwargs"]; ok {
		var kw additionalKwargs
		if err := json.Unmarshal(v, &kw); err != nil {
			return fmt.Errorf("decode ddb_additional_kwargs: %w", err)
		}
		out.Figure = kw.Figure
	}
	for _, k := range reservedResponseKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		out.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var x any
			if err := json.Unmarshal(v, &x); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out.Extra[k] = x
		}
	}
	*r = out
	return nil
}
