package auth_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-events/internal/apperr"
	"ms-events/internal/auth"
	"ms-events/internal/logger"
	"ms-events/internal/models"
	"ms-events/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *auth.Service
	Logger  *logger.Logger
	DevMode bool
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// RegisterRoutes mounts /api/auth and /api/admin. limit guards the credential endpoints.
func (h *Handler) RegisterRoutes(r chi.Router, mw *auth.Middleware, limit func(http.Handler) http.Handler) {
	r.Route("/api/auth", func(r chi.Router) {
		r.With(limit).Post("/register", h.Register)
		r.With(limit).Post("/login", h.Login)
		r.With(mw.Protect).Get("/me", h.Me)
	})
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(mw.Protect, mw.Authorize(models.RoleAdmin))
		r.Patch("/users/{id}/active", h.SetUserActive)
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("Invalid request body"))
		return
	}

	result, err := h.Service.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("Invalid request body"))
		return
	}

	result, err := h.Service.Login(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthorized("Not authorized"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, user.AuthView())
}

func (h *Handler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		h.writeError(w, r, apperr.ValidationFields("active must be a boolean", "active"))
		return
	}

	user, err := h.Service.SetUserActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Admin %s set user %s active=%t", auth.UserID(r.Context()), user.ID, *req.Active))
	utils.WriteJSON(w, http.StatusOK, user.AuthView())
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.Logger.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	}
	utils.WriteError(w, err, h.DevMode)
}
