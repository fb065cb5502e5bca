// Package server assembles the HTTP router from the service handlers.
package server

import (
	"context"
	"net/http"
	"time"

	"ms-events/internal/auth"
	"ms-events/internal/auth/auth_api"
	"ms-events/internal/config"
	"ms-events/internal/events/event_api"
	"ms-events/internal/events/qr"
	"ms-events/internal/events/service"
	"ms-events/internal/logger"
	"ms-events/internal/metrics"
	"ms-events/internal/middleware"
	"ms-events/internal/realtime"
	"ms-events/internal/realtime/realtime_api"
	"ms-events/internal/uploads"
	"ms-events/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/uptrace/bun"
)

const healthTimeout = 2 * time.Second

type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *bun.DB
	Auth    *auth.Service
	Users   auth.UserLookup
	Events  *service.EventService
	Hub     *realtime.Hub
	Uploads *uploads.Store
	Limiter *middleware.RateLimiter
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Realtime int    `json:"realtimeConnections"`
}

type notFoundResponse struct {
	Message string `json:"message"`
	Path    string `json:"path"`
}

func NewRouter(d Deps) http.Handler {
	devMode := d.Config.IsDevelopment()
	mw := auth.NewMiddleware(d.Auth.Tokens, d.Users, d.Logger, devMode)

	r := chi.NewRouter()
	r.Use(middleware.RealIP(d.Config.Server.TrustedProxies))
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(middleware.Recovery(d.Logger, devMode))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{d.Config.Server.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", health(d))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Handle(uploads.PublicPrefix+"*", d.Uploads.Handler())

	authHandler := &auth_api.Handler{Service: d.Auth, Logger: d.Logger, DevMode: devMode}
	authHandler.RegisterRoutes(r, mw, d.Limiter.Handler)

	eventHandler := &event_api.Handler{
		Service: d.Events,
		Uploads: d.Uploads,
		QR:      qr.NewGenerator(d.Config.Server.FrontendURL),
		Logger:  d.Logger,
		DevMode: devMode,
	}
	eventHandler.RegisterRoutes(r, mw)

	realtimeHandler := &realtime_api.Handler{Hub: d.Hub, Logger: d.Logger, DevMode: devMode}
	realtimeHandler.RegisterRoutes(r)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusNotFound, notFoundResponse{Message: "Route not found", Path: r.URL.Path})
	})
	return r
}

func health(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "ok", Realtime: d.Hub.ConnectionCount()}
		status := http.StatusOK
		if err := d.DB.PingContext(ctx); err != nil {
			d.Logger.Error("HEALTH", "Database ping failed: "+err.Error())
			resp.Status = "degraded"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		}
		utils.WriteJSON(w, status, resp)
	}
}
