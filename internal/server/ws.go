package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wwwzy/llmbot/internal/channel"
	"github.com/wwwzy/llmbot/internal/entry"
	"github.com/wwwzy/llmbot/internal/errx"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

const writeWait = 10 * time.Second

// wsConn 串行化对同一连接的写
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg channel.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// handleWS 为每个连接分配 id 并订阅 broker。
// 连接上的每条入站消息是一个请求，按流式处理；推送帧由 broker 转发回连接。
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	frames, unsubscribe, err := s.broker.Subscribe(ctx, connID)
	if err != nil {
		logx.Error().Err(err).Str("connection_id", connID).Msg("subscribe failed")
		_ = conn.send(channel.Error("", "subscribe failed"))
		return
	}
	defer unsubscribe()
	logx.Info().Str("connection_id", connID).Msg("websocket connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range frames {
			if err := conn.send(msg); err != nil {
				logx.Debug().Err(err).Str("connection_id", connID).Msg("forward frame failed")
				cancel()
				return
			}
		}
	}()

	for {
		var req entry.Request
		if err := raw.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logx.Debug().Err(err).Str("connection_id", connID).Msg("websocket read ended")
			}
			break
		}
		req.WSConnectionID = connID
		req.Stream = true

		reqCtx := ctx
		var reqCancel context.CancelFunc = func() {}
		if s.timeout > 0 {
			reqCtx, reqCancel = context.WithTimeout(ctx, s.timeout)
		}
		_, err := s.handler.Handle(reqCtx, req)
		reqCancel()
		// 配置错误发生在 START 之前，入口层不会推送，这里直接回写
		if err != nil && errx.KindOf(err) == errx.KindConfig {
			if werr := conn.send(channel.Error(req.CustomMessageID, err.Error())); werr != nil {
				break
			}
		}
	}

	cancel()
	unsubscribe()
	wg.Wait()
	logx.Info().Str("connection_id", connID).Msg("websocket closed")
}
