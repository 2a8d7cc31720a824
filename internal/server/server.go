package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/wwwzy/llmbot/internal/channel"
	"github.com/wwwzy/llmbot/internal/entry"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/observability"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Handler 是入口层，*entry.Service 实现了它
type Handler interface {
	Handle(ctx context.Context, req entry.Request) (*entry.Response, error)
}

type Option func(*Server)

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRequestTimeout 设置单个请求的处理时限，0 表示不限制
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

type Server struct {
	handler  Handler
	broker   channel.Broker
	metrics  *observability.Metrics
	timeout  time.Duration
	upgrader websocket.Upgrader
}

// New 创建 HTTP 服务；broker 为 nil 时不提供 websocket 端点
func New(h Handler, broker channel.Broker, opts ...Option) *Server {
	s := &Server{
		handler: h,
		broker:  broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe(s.metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		if s.broker != nil {
			r.Get("/ws", s.handleWS)
		}
	})
	return r
}

// ListenAndServe 阻塞直到 ctx 结束，随后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logx.Info().Msg("http server stopped")
		return nil
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req entry.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, errx.Config("decode request", err))
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.handler.Handle(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorBody struct {
	Error string    `json:"error"`
	Kind  errx.Kind `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errx.HTTPStatus(err), errorBody{Error: err.Error(), Kind: errx.KindOf(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warn().Err(err).Msg("write response failed")
	}
}
