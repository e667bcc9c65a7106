// Package realtime exposes message exchange over a WebSocket.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-relay/backend/internal/handler/response"
	"github.com/zhouzirui/persona-relay/backend/internal/middleware"
	"github.com/zhouzirui/persona-relay/backend/internal/service/exchange"
)

const (
	defaultReadTimeout = 60 * time.Second
	pingInterval       = 54 * time.Second
	writeTimeout       = 10 * time.Second
)

// Handler WebSocket 消息处理器，每个连接绑定一个会话
type Handler struct {
	engine   *exchange.Engine
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// readTimeout 两次读取之间允许的最长空闲时间
	readTimeout time.Duration
}

// New 创建WebSocket处理器
func New(engine *exchange.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:      engine,
		logger:      logger.Named("realtime"),
		readTimeout: defaultReadTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Message string `json:"message"`
}

type errorFrame struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Reject unknown sessions before upgrading so clients get a plain HTTP status.
	if _, err := h.engine.History(r.Context(), sessionID); err != nil {
		response.Error(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	clientKey := middleware.ClientKeyFrom(r)
	logger := h.logger.With(zap.String("session", sessionID), zap.String("client", clientKey))
	logger.Info("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		pingLoop(ctx, conn)
	}()
	defer func() {
		cancel()
		<-pingDone
	}()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read failed", zap.Error(err))
			}
			logger.Info("connection closed")
			return
		}

		res, err := h.engine.SendMessage(ctx, exchange.SendRequest{
			SessionID: sessionID,
			Message:   msg.Message,
			ClientKey: clientKey,
		})

		var frame any
		if err != nil {
			ef := errorFrame{SessionID: sessionID, Error: err.Error()}
			var xerr *exchange.Error
			if errors.As(err, &xerr) {
				ef.Error, ef.Code = xerr.Message, string(xerr.Code)
			}
			frame = ef
		} else {
			_, frame = response.Exchange(res)
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Warn("write failed", zap.Error(err))
			return
		}
		// Pongs are not read while an exchange runs, so the idle window starts after the reply.
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

// pingLoop 定期发送ping消息。WriteControl 可与 WriteJSON 并发调用。
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
