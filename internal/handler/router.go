package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/echoes/backend/internal/events"
	"github.com/zhouzirui/echoes/backend/internal/handler/live"
	"github.com/zhouzirui/echoes/backend/internal/handler/profile"
	"github.com/zhouzirui/echoes/backend/internal/handler/session"
	"github.com/zhouzirui/echoes/backend/internal/handler/stream"
	"github.com/zhouzirui/echoes/backend/internal/handler/upload"
	"github.com/zhouzirui/echoes/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/echoes/backend/internal/middleware"
	profileModel "github.com/zhouzirui/echoes/backend/internal/model/profile"
	sessionService "github.com/zhouzirui/echoes/backend/internal/service/session"
	uploadService "github.com/zhouzirui/echoes/backend/internal/service/upload"
	"github.com/zhouzirui/echoes/backend/pkg/utils"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Profiles       profileModel.Store
	Sessions       *sessionService.Manager
	Events         *events.Bus
	Uploads        *uploadService.Controller
	UploadMaxBytes int64
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	streamHandler := stream.New(deps.Sessions, deps.Events)
	liveHandler := live.New(deps.Sessions, deps.Events)

	r.Route("/api", func(api chi.Router) {
		profile.New(deps.Profiles).RegisterRoutes(api)
		session.New(deps.Sessions).RegisterRoutes(api, streamHandler.RegisterRoutes, liveHandler.RegisterRoutes)
		upload.New(deps.Uploads, deps.UploadMaxBytes).RegisterRoutes(api)
	})

	return r
}
