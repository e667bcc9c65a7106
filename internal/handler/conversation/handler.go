package conversation

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-relay/backend/internal/handler/response"
	"github.com/zhouzirui/persona-relay/backend/internal/service/exchange"
	"github.com/zhouzirui/persona-relay/backend/pkg/utils"
)

// Handler 已保存对话的只读接口
type Handler struct {
	engine *exchange.Engine
}

// New 创建对话处理器
func New(engine *exchange.Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations", h.handleList)
	r.Get("/conversations/{id}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Conversations(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		utils.RespondErrorCode(w, http.StatusNotFound, string(exchange.CodeConversationNotFound), "conversation not found")
		return
	}

	conv, err := h.engine.Conversation(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}
