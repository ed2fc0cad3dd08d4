package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/ai-show/backend/internal/handler/health"
	"github.com/zhouzirui/ai-show/backend/internal/handler/persona"
	"github.com/zhouzirui/ai-show/backend/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/ai-show/backend/internal/middleware"
	personaModel "github.com/zhouzirui/ai-show/backend/internal/model/persona"
	"github.com/zhouzirui/ai-show/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(personas personaModel.Store, voiceHandler *voice.Handler, healthHandler *health.Handler, origins middlewarePkg.Origins) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(origins))
	r.NotFound(utils.NotFound)
	r.MethodNotAllowed(utils.MethodNotAllowed)

	healthHandler.RegisterRoutes(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		persona.New(personas).RegisterRoutes(api)
	})

	// WebSocket 语音入口
	if voiceHandler != nil {
		voiceHandler.RegisterRoutes(r)
	}

	return r
}
