package handlers

import (
	"encoding/json"
	"net/http"
	"parley/internal/app/registry"
	"parley/internal/core/services"
	"parley/pkg/logging"
	"strconv"
)

type PresenceHandler struct {
	conns    *services.ConnectionService
	registry *registry.Registry
}

func NewPresenceHandler(conns *services.ConnectionService, reg *registry.Registry) *PresenceHandler {
	return &PresenceHandler{conns: conns, registry: reg}
}

// Presence serves GET /presence/{userID}.
func (h *PresenceHandler) Presence(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	view, err := h.conns.Presence(r.Context(), userID)
	if err != nil {
		// The in-process view is still meaningful without the mirror.
		log.WarnContext(r.Context(), "presence handler - presence - mirror unavailable", "user_id", userID, "err", err)
	}
	writeJSON(w, http.StatusOK, view)
}

// Health serves GET /healthz.
func (h *PresenceHandler) Health(w http.ResponseWriter, r *http.Request) {
	users, conns := h.registry.Count()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"users":       users,
		"connections": conns,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
