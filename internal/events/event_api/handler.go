package event_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"ms-events/internal/apperr"
	"ms-events/internal/auth"
	"ms-events/internal/events/qr"
	"ms-events/internal/events/service"
	"ms-events/internal/logger"
	"ms-events/internal/models"
	"ms-events/internal/uploads"
	"ms-events/internal/utils"

	"github.com/go-chi/chi/v5"
)

// multipart bodies may carry this much form data on top of the image
const formOverhead = 1 << 20

type Handler struct {
	Service *service.EventService
	Uploads *uploads.Store
	QR      *qr.Generator
	Logger  *logger.Logger
	DevMode bool
}

func (h *Handler) RegisterRoutes(r chi.Router, mw *auth.Middleware) {
	r.Route("/api/events", func(r chi.Router) {
		r.With(mw.Optional).Get("/", h.ListEvents)
		r.With(mw.Protect).Get("/mine", h.ListMyEvents)
		r.With(mw.Optional).Get("/{id}", h.GetEvent)
		r.Get("/{id}/qr", h.EventQR)

		r.Group(func(r chi.Router) {
			r.Use(mw.Protect)
			r.Post("/", h.CreateEvent)
			r.Put("/{id}", h.UpdateEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Post("/{id}/join", h.JoinEvent)
			r.Post("/{id}/leave", h.LeaveEvent)
		})
	})
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	creator := q.Get("creator")
	if creator == "" {
		creator = q.Get("userId")
	}

	events, err := h.Service.ListEvents(r.Context(), models.EventQuery{
		Category:  q.Get("category"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Creator:   creator,
		Search:    q.Get("search"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, models.EventResponses(events))
}

func (h *Handler) ListMyEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Service.ListUserEvents(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, models.EventResponses(events))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.Service.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, event.Response())
}

// EventQR serves a PNG share code for the event page.
func (h *Handler) EventQR(w http.ResponseWriter, r *http.Request) {
	event, err := h.Service.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	png, err := h.QR.EventPNG(event.ID)
	if err != nil {
		h.writeError(w, r, apperr.Internal("Failed to generate QR code", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	patch, uploaded, err := h.readPatch(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	event, err := h.Service.CreateEvent(r.Context(), auth.UserID(r.Context()), patch)
	if err != nil {
		h.discardUpload(uploaded)
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, event.Response())
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	patch, uploaded, err := h.readPatch(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var previousImage string
	if uploaded != "" {
		if current, err := h.Service.GetEvent(r.Context(), id); err == nil {
			previousImage = current.ImageURL
		}
	}

	event, err := h.Service.UpdateEvent(r.Context(), auth.UserID(r.Context()), id, patch)
	if err != nil {
		h.discardUpload(uploaded)
		h.writeError(w, r, err)
		return
	}
	if previousImage != "" && previousImage != event.ImageURL {
		h.discardUpload(previousImage)
	}
	utils.WriteJSON(w, http.StatusOK, event.Response())
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.Service.DeleteEvent(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.discardUpload(event.ImageURL)
	utils.WriteJSON(w, http.StatusOK, utils.MessageResponse{
		Success: true,
		Message: "Event deleted successfully",
		EventID: event.ID,
	})
}

func (h *Handler) JoinEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.Service.JoinEvent(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, event.Response())
}

func (h *Handler) LeaveEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.Service.LeaveEvent(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, event.Response())
}

// readPatch decodes a multipart, JSON or urlencoded event body. An uploaded
// image is stored immediately and its URL returned so callers can discard it
// when the operation fails.
func (h *Handler) readPatch(w http.ResponseWriter, r *http.Request) (models.EventPatch, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, h.Uploads.MaxBytes+formOverhead)
		if err := r.ParseMultipartForm(formOverhead); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return models.EventPatch{}, "", apperr.ValidationFields(
					fmt.Sprintf("Image must be at most %d bytes", h.Uploads.MaxBytes), "image")
			}
			return models.EventPatch{}, "", apperr.Validation("Invalid form data")
		}
		patch := patchFromValues(r.MultipartForm.Value)
		files := r.MultipartForm.File["image"]
		if len(files) == 0 {
			return patch, "", nil
		}
		imageURL, err := h.Uploads.Save(files[0])
		if err != nil {
			return models.EventPatch{}, "", err
		}
		patch.ImageURL = &imageURL
		return patch, imageURL, nil

	case "application/json":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return models.EventPatch{}, "", apperr.Validation("Invalid request body")
		}
		patch, err := patchFromJSON(body)
		return patch, "", err

	default:
		if err := r.ParseForm(); err != nil {
			return models.EventPatch{}, "", apperr.Validation("Invalid form data")
		}
		return patchFromValues(r.PostForm), "", nil
	}
}

func (h *Handler) discardUpload(imageURL string) {
	if imageURL == "" {
		return
	}
	if err := h.Uploads.Remove(imageURL); err != nil {
		h.Logger.Warn("UPLOAD", fmt.Sprintf("Failed to remove %s: %v", imageURL, err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.Logger.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	}
	utils.WriteError(w, err, h.DevMode)
}
