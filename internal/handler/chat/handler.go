package chat

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-relay/backend/internal/handler/response"
	"github.com/zhouzirui/persona-relay/backend/internal/middleware"
	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/service/exchange"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ratelimit"
	"github.com/zhouzirui/persona-relay/backend/pkg/utils"
)

// RemainingHeader 返回当前窗口内剩余的请求次数
const RemainingHeader = "X-RateLimit-Remaining"

// Handler 聊天服务的HTTP处理器
type Handler struct {
	engine *exchange.Engine
}

// New 创建聊天处理器
func New(engine *exchange.Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/start", h.handleStart)
	r.Post("/send", h.handleSend)
	r.Get("/history", h.handleHistory)
	r.Post("/save", h.handleSave)
	r.Get("/sessions", h.handleSessions)
}

type startResponse struct {
	SessionID   string `json:"sessionId"`
	Persona     string `json:"persona"`
	PersonaKey  string `json:"personaKey"`
	SessionName string `json:"sessionName"`
}

// handleStart 创建会话
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaKey  string `json:"personaKey"`
		DisplayName string `json:"displayName"`
		SessionName string `json:"sessionName"` // 旧客户端字段
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := payload.DisplayName
	if strings.TrimSpace(name) == "" {
		name = payload.SessionName
	}

	client := middleware.ClientKeyFrom(r)
	session, err := h.engine.StartSession(r.Context(), exchange.StartRequest{
		PersonaKey:  payload.PersonaKey,
		DisplayName: name,
		ClientKey:   client,
	})
	h.setRemaining(w, ratelimit.KindStart, client)
	if err != nil {
		response.Error(w, err)
		return
	}

	personaName := session.PersonaKey
	for _, p := range h.engine.Personas() {
		if p.Key == session.PersonaKey {
			personaName = p.Name
			break
		}
	}

	utils.RespondJSON(w, http.StatusCreated, startResponse{
		SessionID:   session.ID,
		Persona:     personaName,
		PersonaKey:  session.PersonaKey,
		SessionName: session.DisplayName,
	})
}

// handleSend 发送一条消息并返回分类后的结果
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	client := middleware.ClientKeyFrom(r)
	res, err := h.engine.SendMessage(r.Context(), exchange.SendRequest{
		SessionID: payload.SessionID,
		Message:   payload.Message,
		ClientKey: client,
	})
	h.setRemaining(w, ratelimit.KindSend, client)
	if err != nil {
		response.Error(w, err)
		return
	}

	status, body := response.Exchange(res)
	utils.RespondJSON(w, status, body)
}

type historyResponse struct {
	SessionID string      `json:"sessionId,omitempty"`
	History   []chat.Turn `json:"history"`
}

// handleHistory 读取当前会话记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.History(r.Context(), r.URL.Query().Get("sessionId"))
	if err != nil {
		response.Error(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, historyResponse{SessionID: res.SessionID, History: res.Turns})
}

// handleSave 将会话保存为一条新的对话记录
func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.SaveSession(r.Context(), payload.SessionID)
	if err != nil {
		response.Error(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"conversationId": id,
		"message":        "conversation saved",
	})
}

// handleSessions 列出内存中的会话，仅用于诊断
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": h.engine.Sessions()})
}

func (h *Handler) setRemaining(w http.ResponseWriter, kind ratelimit.Kind, client string) {
	if n := h.engine.Remaining(kind, client); n >= 0 {
		w.Header().Set(RemainingHeader, strconv.Itoa(n))
	}
}
