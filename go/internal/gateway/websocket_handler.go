package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for auction connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	registry          *Registry
}

func NewWebSocketHandler(cm *ConnectionManager, registry *Registry) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		registry:          registry,
	}
}

// HandleAuctionConnection upgrades /ws/auction. The bidder comes from the
// bidder_id query parameter; there is no credential check here.
func (h *WebSocketHandler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	bidderID := r.URL.Query().Get("bidder_id")
	if bidderID == "" {
		http.Error(w, "bidder_id is required", http.StatusBadRequest)
		return
	}

	// Upgrade writes its own error response on failure.
	if _, err := h.connectionManager.UpgradeConnection(w, r, bidderID); err != nil {
		log.Error().
			Err(err).
			Str("bidder_id", bidderID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// ConnectionStats is the body of GET /ws/stats.
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	TotalSubscriptions int            `json:"total_subscriptions"`
	ActiveItems        int            `json:"active_items"`
	ItemSubscriptions  map[string]int `json:"item_subscriptions"`
}

func (h *WebSocketHandler) Stats() ConnectionStats {
	items := h.registry.ItemCounts()
	return ConnectionStats{
		TotalConnections:   h.connectionManager.Count(),
		TotalSubscriptions: h.registry.Count(),
		ActiveItems:        len(items),
		ItemSubscriptions:  items,
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes on the router
func (h *WebSocketHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/auction", h.HandleAuctionConnection)
	r.HandleFunc("/ws/stats", h.HandleConnectionStats).Methods(http.MethodGet)
}
