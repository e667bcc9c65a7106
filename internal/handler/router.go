package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/handler/conversation"
	"github.com/zhouzirui/persona-relay/backend/internal/handler/persona"
	"github.com/zhouzirui/persona-relay/backend/internal/handler/realtime"
	middlewarePkg "github.com/zhouzirui/persona-relay/backend/internal/middleware"
	personaModel "github.com/zhouzirui/persona-relay/backend/internal/model/persona"
	"github.com/zhouzirui/persona-relay/backend/internal/service/exchange"
	"github.com/zhouzirui/persona-relay/backend/pkg/utils"
)

// Options tune the router.
type Options struct {
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(personas personaModel.Store, engine *exchange.Engine, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.ClientKey)
	r.Use(middlewarePkg.Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.AllowedOrigins))

	r.Get("/", handleRoot)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "endpoint not found")
	})

	// Create handlers
	personaHandler := persona.New(personas)
	chatHandler := chat.New(engine)
	conversationHandler := conversation.New(engine)
	realtimeHandler := realtime.New(engine, logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", handleHealth)

		personaHandler.RegisterRoutes(api)
		conversationHandler.RegisterRoutes(api)

		api.Route("/chat", func(c chi.Router) {
			chatHandler.RegisterRoutes(c)
			realtimeHandler.RegisterRoutes(c)
		})
	})

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"message": "persona relay API",
		"endpoints": map[string]string{
			"health":        "GET /api/health",
			"personas":      "GET /api/personas",
			"start_chat":    "POST /api/chat/start",
			"send":          "POST /api/chat/send",
			"history":       "GET /api/chat/history",
			"save":          "POST /api/chat/save",
			"sessions":      "GET /api/chat/sessions",
			"realtime":      "GET /api/chat/ws/{sessionID}",
			"conversations": "GET /api/conversations",
			"conversation":  "GET /api/conversations/{id}",
		},
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
