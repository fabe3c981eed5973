package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mmuslimabdulj/goat-space/internal/delivery/ws"
	"github.com/mmuslimabdulj/goat-space/view/pages"
)

// statusTimeout bounds how long a request waits for the hub
const statusTimeout = 2 * time.Second

// isOriginAllowed checks if the origin is in the allowed list
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	// Empty origin is allowed (same-origin and non-browser clients)
	if origin == "" {
		return true
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	return false
}

type Handler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(hub *ws.Hub, allowedOrigins []string, log zerolog.Logger) *Handler {
	h := &Handler{
		hub: hub,
		log: log.With().Str("component", "http").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if isOriginAllowed(origin, allowedOrigins) {
				return true
			}
			h.log.Warn().Str("origin", origin).Msg("websocket origin rejected")
			return false
		},
	}
	return h
}

// HandleWebSocket upgrades HTTP to WebSocket and registers the client with the hub
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	// Start read/write pumps in goroutines
	go client.WritePump()
	go client.ReadPump()
}

// HandleStatus serves the operator status page
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	st, err := h.hub.Status(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("status unavailable")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	component := pages.Status(pages.StatusData{
		NumUsers:     st.NumUsers,
		Connections:  st.Connections,
		Dashboards:   st.Dashboards,
		LastSaveTime: st.LastSaveTime,
		GeneratedAt:  time.Now(),
		Users:        st.Users,
	})
	if err := component.Render(r.Context(), w); err != nil {
		h.log.Error().Err(err).Msg("failed to render status page")
	}
}

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status       string     `json:"status"`
	NumUsers     int        `json:"numUsers"`
	Connections  int        `json:"connections"`
	LastSaveTime *time.Time `json:"lastSaveTime,omitempty"`
}

// HandleHealth reports whether the hub is serving
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	st, err := h.hub.Status(ctx)
	if err != nil {
		status := "unavailable"
		if errors.Is(err, ws.ErrHubStopped) {
			status = "stopped"
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(HealthResponse{Status: status})
		return
	}

	resp := HealthResponse{Status: "ok", NumUsers: st.NumUsers, Connections: st.Connections}
	if !st.LastSaveTime.IsZero() {
		resp.LastSaveTime = &st.LastSaveTime
	}
	json.NewEncoder(w).Encode(resp)
}
