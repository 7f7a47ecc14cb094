package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/attune-labs/attune/backend/internal/escalation"
	"github.com/attune-labs/attune/backend/internal/feed"
	messageHandler "github.com/attune-labs/attune/backend/internal/handler/message"
	sessionHandler "github.com/attune-labs/attune/backend/internal/handler/session"
	streamHandler "github.com/attune-labs/attune/backend/internal/handler/stream"
	wsHandler "github.com/attune-labs/attune/backend/internal/handler/ws"
	middlewarePkg "github.com/attune-labs/attune/backend/internal/middleware"
	chatService "github.com/attune-labs/attune/backend/internal/service/chat"
	"github.com/attune-labs/attune/backend/internal/service/compose"
	syncengine "github.com/attune-labs/attune/backend/internal/sync"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, pipeline *compose.Pipeline, engine *syncengine.Engine, detector *escalation.Detector, source feed.Source) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.New(chatSvc).RegisterRoutes(api)
		messageHandler.New(pipeline, chatSvc).RegisterRoutes(api)
		streamHandler.New(engine, detector).RegisterRoutes(api)
		wsHandler.New(source).RegisterRoutes(api)
	})

	return r
}
