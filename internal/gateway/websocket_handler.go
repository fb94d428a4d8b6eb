package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/countrybattle/backend/internal/battle"
)

// WebSocketHandler upgrades viewer requests and seeds each new connection
// with the current battle state.
type WebSocketHandler struct {
	manager *ConnectionManager
	battles *battle.Manager
}

// NewWebSocketHandler creates the /ws handler.
func NewWebSocketHandler(cm *ConnectionManager, battles *battle.Manager) *WebSocketHandler {
	return &WebSocketHandler{manager: cm, battles: battles}
}

// HandleViewer upgrades the request and immediately sends the active battle
// state, or no_battle when nothing is running.
func (h *WebSocketHandler) HandleViewer(w http.ResponseWriter, r *http.Request) {
	conn, err := h.manager.Upgrade(w, r)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade viewer connection")
		return
	}

	if b := h.battles.Active(); b != nil {
		h.manager.SendTo(conn, b.Snapshot())
	} else {
		h.manager.SendTo(conn, noBattleMessage())
	}
}

// RegisterRoutes attaches the websocket endpoints to an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.HandleViewer)
}
