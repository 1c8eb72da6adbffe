package handler

import (
	"encoding/json"
	"net/http"

	"chatwire/internal/hub"
)

// RoomHandler exposes the hub's live room view. Rooms are created implicitly
// on first join, so this lists only rooms with connected members.
type RoomHandler struct {
	Hub *hub.Hub
}

func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Hub.Rooms())
}
