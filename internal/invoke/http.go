package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	logx "github.com/wwwzy/llmbot/pkg/logger"
)

const maxErrorBody = 512

type HTTPConfig struct {
	BaseURL string
	// Timeout 为单次尝试的超时，0 表示不限制（仍受 ctx 约束）。
	Timeout         time.Duration
	MaxRetries      uint
	InitialInterval time.Duration
	Headers         map[string]string
}

// HTTP 通过 POST {BaseURL}/{function} 调用远端函数。
// 5xx 与网络错误按指数退避重试，4xx 直接失败。
// 兼容 Lambda proxy 形态的响应 {"statusCode": .., "body": ".."}。
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig, client *http.Client) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("invoker base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid invoker base url: %w", err)
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{cfg: cfg, client: client}, nil
}

func (h *HTTP) Invoke(ctx context.Context, fn Function, payload any) (json.RawMessage, error) {
	endpoint, err := url.JoinPath(h.cfg.BaseURL, string(fn))
	if err != nil {
		return nil, fmt.Errorf("build url for %s: %w", fn, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", fn, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.cfg.InitialInterval

	attempt := 0
	op := func() (json.RawMessage, error) {
		attempt++
		raw, err := h.do(ctx, endpoint, body)
		if err != nil {
			logx.Debug().Err(err).Str("function", string(fn)).Int("attempt", attempt).Msg("remote call failed")
		}
		return raw, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(h.cfg.MaxRetries+1),
	)
}

func (h *HTTP) do(ctx context.Context, endpoint string, body []byte) (json.RawMessage, error) {
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrRemote, err)
	}
	if err := statusError(resp.StatusCode, raw); err != nil {
		return nil, err
	}
	return unwrapProxy(raw)
}

// unwrapProxy 解开 Lambda proxy 包装，返回真正的业务 JSON。
func unwrapProxy(raw []byte) (json.RawMessage, error) {
	if !gjson.ValidBytes(raw) {
		return nil, backoff.Permanent(fmt.Errorf("%w: response is not valid json", ErrRemote))
	}
	status := gjson.GetBytes(raw, "statusCode")
	inner := gjson.GetBytes(raw, "body")
	if !status.Exists() || !inner.Exists() {
		return json.RawMessage(raw), nil
	}

	payload := []byte(inner.Raw)
	if inner.Type == gjson.String {
		payload = []byte(inner.Str)
	}
	if err := statusError(int(status.Int()), payload); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(payload) {
		return nil, backoff.Permanent(fmt.Errorf("%w: proxy body is not valid json", ErrRemote))
	}
	return json.RawMessage(payload), nil
}

func statusError(code int, body []byte) error {
	if code < 400 {
		return nil
	}
	msg := string(body)
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	err := fmt.Errorf("%w: status %d: %s", ErrRemote, code, msg)
	if code >= 500 || code == http.StatusTooManyRequests {
		return err
	}
	return backoff.Permanent(err)
}
