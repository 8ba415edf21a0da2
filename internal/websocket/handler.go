package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/streamvault/backend/internal/auth"
	"github.com/streamvault/backend/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict allowed origins once the dashboard host is fixed
		return true
	},
}

// Handler upgrades HTTP requests to progress-update subscriptions.
type Handler struct {
	hub         *Hub
	authService *auth.Service
	log         *logger.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(hub *Hub, authService *auth.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default().WithComponent("websocket")
	}
	return &Handler{hub: hub, authService: authService, log: log}
}

// ServeWS handles WebSocket requests. Authentication uses a query
// parameter because the browser WebSocket API cannot set headers:
// ?token=<jwt>&job_id=<id>. job_id is optional; omitting it subscribes to
// every job.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.authService.Enabled() {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, `{"code":"UNAUTHORIZED","message":"missing token parameter"}`, http.StatusUnauthorized)
			return
		}
		if _, err := h.authService.ValidateToken(token); err != nil {
			if err == auth.ErrTokenExpired {
				http.Error(w, `{"code":"TOKEN_EXPIRED","message":"access token has expired"}`, http.StatusUnauthorized)
				return
			}
			http.Error(w, `{"code":"UNAUTHORIZED","message":"invalid access token"}`, http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(r.Context(), "websocket upgrade failed", err)
		return
	}

	client := NewClient(h.hub, conn, r.URL.Query().Get("job_id"))
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// GetHub returns the hub instance for wiring into the processor's sinks.
func (h *Handler) GetHub() *Hub {
	return h.hub
}
