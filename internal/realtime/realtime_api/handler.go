package realtime_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ms-events/internal/apperr"
	"ms-events/internal/logger"
	"ms-events/internal/realtime"
	"ms-events/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	actionJoin  = "joinEvent"
	actionLeave = "leaveEvent"
)

type Handler struct {
	Hub       *realtime.Hub
	Logger    *logger.Logger
	DevMode   bool
	Heartbeat time.Duration
}

type roomCommand struct {
	Action  string `json:"action"`
	EventID string `json:"eventId"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/realtime", func(r chi.Router) {
		r.Get("/", h.Stream)
		r.Post("/{connectionId}/rooms", h.Rooms)
	})
}

// Stream opens an SSE connection. ?events=id1,id2 joins rooms up front.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteError(w, apperr.Internal("Streaming unsupported", nil), h.DevMode)
		return
	}

	var preJoin []string
	if raw := r.URL.Query().Get("events"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if _, err := uuid.Parse(id); err != nil {
				utils.WriteError(w, apperr.InvalidID(fmt.Sprintf("Invalid event id %q", id)), h.DevMode)
				return
			}
			preJoin = append(preJoin, id)
		}
	}

	// streams outlive the server write timeout
	http.NewResponseController(w).SetWriteDeadline(time.Time{})
	setupSSEHeaders(w)

	ctx := r.Context()
	conn := h.Hub.Connect(ctx)

	fmt.Fprintf(w, "event: connected\ndata: {\"connectionId\":\"%s\"}\n\n", conn.ID)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client %s connected", conn.ID))

	for _, id := range preJoin {
		conn.Join(id)
	}

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-conn.Frames():
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Event, frame.Data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client %s disconnected", conn.ID))
			return
		}
	}
}

// Rooms handles joinEvent and leaveEvent commands for an open connection.
func (h *Handler) Rooms(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.Hub.Connection(chi.URLParam(r, "connectionId"))
	if !ok {
		utils.WriteError(w, apperr.NotFound("Connection not found"), h.DevMode)
		return
	}

	var cmd roomCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		utils.WriteError(w, apperr.Validation("Invalid request body"), h.DevMode)
		return
	}
	if _, err := uuid.Parse(cmd.EventID); err != nil {
		utils.WriteError(w, apperr.InvalidID("Invalid event id"), h.DevMode)
		return
	}

	switch cmd.Action {
	case actionJoin:
		conn.Join(cmd.EventID)
		h.Logger.LogRealtime("JOIN", cmd.EventID, conn.ID)
	case actionLeave:
		conn.Leave(cmd.EventID)
		h.Logger.LogRealtime("LEAVE", cmd.EventID, conn.ID)
	default:
		utils.WriteError(w, apperr.ValidationFields("action must be joinEvent or leaveEvent", "action"), h.DevMode)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
