package entry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/wwwzy/llmbot/internal/channel"
	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/state"
	"github.com/wwwzy/llmbot/internal/storage"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

var ErrEmptyQuery = errors.New("query is empty")

// Runner 执行一次图遍历，*engine.Engine 实现了它
type Runner interface {
	Run(ctx context.Context, st *state.State) (*state.State, error)
}

// Recorder 持久化每次请求的结果
type Recorder interface {
	InsertChatRecord(ctx context.Context, rec *storage.ChatRecord) error
}

// HistoryStore 按 session 读取最近几轮问答，*storage.Storage 实现了它
type HistoryStore interface {
	SessionHistory(ctx context.Context, sessionID string, turns int) ([]*schema.Message, error)
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithPublisher 开启流式推送：带 ws_connection_id 的流式请求会收到 START/CHUNK/CONTEXT/END 帧
func WithPublisher(p channel.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithHistory 在请求未携带 chat_history 但带有 session_id 时，从 store 回填最近 turns 轮
func WithHistory(store HistoryStore, turns int) Option {
	return func(s *Service) {
		s.history = store
		s.historyTurns = turns
	}
}

func WithDefaultScene(scene chatbot.SceneType) Option {
	return func(s *Service) { s.scene = scene }
}

// Service 是对外的调用边界。engine 在启动阶段构造一次后注入，Service 本身无请求间共享的可变状态。
type Service struct {
	resolver  *chatbot.Resolver
	engine    Runner
	recorder  Recorder
	publisher channel.Publisher
	scene     chatbot.SceneType

	history      HistoryStore
	historyTurns int
}

func NewService(resolver *chatbot.Resolver, engine Runner, opts ...Option) *Service {
	s := &Service{resolver: resolver, engine: engine, scene: chatbot.SceneCommon}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle 处理一次请求。配置错误在任何节点执行前返回；遍历失败时不返回部分答案。
func (s *Service) Handle(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, errx.Config("entry", ErrEmptyQuery)
	}
	// entry_type 优先；缺省时由 chatbot_config.scene 决定，二者都没有才用服务默认场景
	override := req.override()
	scene := chatbot.SceneType(req.EntryType)
	if _, ok := override["scene"]; scene == "" && !ok {
		scene = s.scene
	}
	cfg, err := s.resolver.Resolve(scene, override)
	if err != nil {
		return nil, errx.Config("resolve config", err)
	}

	st := s.initialState(ctx, req, cfg)
	ctx = chatbot.WithConfig(ctx, cfg)

	streaming := s.streaming(st)
	if streaming {
		s.publish(ctx, st, channel.Start(st.MessageID))
	}

	out, err := s.engine.Run(ctx, st)
	if out == nil {
		out = st
	}
	s.record(ctx, req, out, err, time.Since(start))

	if err != nil {
		if streaming {
			s.publish(ctx, st, channel.Error(st.MessageID, err.Error()))
		}
		logx.Error().Err(err).Str("message_id", st.MessageID).Str("kind", string(errx.KindOf(err))).Msg("request failed")
		return nil, err
	}

	resp := project(out)
	if streaming {
		s.publish(ctx, st, channel.Chunk(st.MessageID, resp.Answer, 0))
		s.publish(ctx, st, channel.Context(st.MessageID, resp.Figure))
		s.publish(ctx, st, channel.End(st.MessageID))
	}
	logx.Info().
		Str("message_id", st.MessageID).
		Str("mode", string(cfg.ChatbotMode)).
		Dur("took", time.Since(start)).
		Msg("request finished")
	return resp, nil
}

// initialState 组装初始状态：关闭历史时 chat_history 为空，请求未带历史时按 session 回填
func (s *Service) initialState(ctx context.Context, req Request, cfg chatbot.Config) *state.State {
	st := state.New(req.Query, cfg)
	st.MessageID = req.CustomMessageID
	if st.MessageID == "" {
		st.MessageID = uuid.NewString()
	}
	st.SessionID = req.SessionID
	st.WSConnectionID = req.WSConnectionID
	st.Stream = req.Stream
	if !cfg.UseHistory {
		return st
	}
	for _, m := range req.ChatHistory {
		if m != nil {
			st.ChatHistory = append(st.ChatHistory, m)
		}
	}
	if len(st.ChatHistory) == 0 && s.history != nil && st.SessionID != "" {
		msgs, err := s.history.SessionHistory(ctx, st.SessionID, s.historyTurns)
		if err != nil {
			logx.Warn().Err(err).Str("session_id", st.SessionID).Msg("load session history failed")
		}
		st.ChatHistory = append(st.ChatHistory, msgs...)
	}
	return st
}

func project(st *state.State) *Response {
	figure := st.Figure
	if figure == nil {
		figure = []state.Figure{}
	}
	return &Response{
		MessageID: st.MessageID,
		Answer:    st.Answer,
		Extra:     st.ExtraResponse,
		Figure:    figure,
	}
}

func (s *Service) streaming(st *state.State) bool {
	return s.publisher != nil && st.Stream && st.WSConnectionID != ""
}

func (s *Service) publish(ctx context.Context, st *state.State, msg channel.Message) {
	if err := s.publisher.Publish(ctx, st.WSConnectionID, msg); err != nil {
		logx.Warn().Err(err).Str("type", string(msg.MessageType)).Str("connection_id", st.WSConnectionID).Msg("publish failed")
	}
}

// record 写入请求记录，失败只记日志
func (s *Service) record(ctx context.Context, req Request, st *state.State, runErr error, took time.Duration) {
	if s.recorder == nil {
		return
	}
	trace, err := json.Marshal(st.TraceInfos)
	if err != nil {
		trace = []byte("[]")
	}
	rec := &storage.ChatRecord{
		MessageID:  st.MessageID,
		SessionID:  st.SessionID,
		UserID:     req.UserID,
		Mode:       string(st.ChatbotConfig.ChatbotMode),
		Scene:      string(st.ChatbotConfig.Scene),
		Query:      st.Query,
		Answer:     st.Answer,
		Status:     "success",
		TraceJSON:  string(trace),
		DurationMS: took.Milliseconds(),
	}
	if runErr != nil {
		rec.Status = "failed"
		rec.Answer = ""
		rec.ErrorMessage = runErr.Error()
	}
	// 请求可能已超时，写记录不受其影响
	if err := s.recorder.InsertChatRecord(context.WithoutCancel(ctx), rec); err != nil {
		logx.Warn().Err(err).Str("message_id", st.MessageID).Msg("insert chat record failed")
	}
}

// History 把一问一答转为 chat_history 记录，供多轮客户端使用
func History(query, answer string) []*schema.Message {
	return []*schema.Message{schema.UserMessage(query), schema.AssistantMessage(answer, nil)}
}
