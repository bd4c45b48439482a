package registry

import (
	"context"
	"log/slog"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
	"sync"
)

type Registry struct {
	mu    sync.RWMutex
	users map[int64]map[string]contracts.Client // user_id → conn_id → client
	conns map[string]contracts.Client          // conn_id → client
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		users: make(map[int64]map[string]contracts.Client),
		conns: make(map[string]contracts.Client),
		log:   log,
	}
}

func (h *Registry) Register(c contracts.Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	connID := c.ID()
	if _, ok := h.conns[connID]; ok {
		return connID
	}
	set := h.users[c.UserID()]
	if set == nil {
		set = make(map[string]contracts.Client)
		h.users[c.UserID()] = set
	}
	set[connID] = c
	h.conns[connID] = c
	return connID
}

func (h *Registry) Unregister(c contracts.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	connID := c.ID()
	if cur, ok := h.conns[connID]; !ok || cur != c {
		return
	}
	delete(h.conns, connID)
	userID := c.UserID()
	delete(h.users[userID], connID)
	if len(h.users[userID]) == 0 {
		delete(h.users, userID)
	}
}

// Connections returns a snapshot of the user's live connections. Callers may
// write to them after the lock is released.
func (h *Registry) Connections(userID int64) []contracts.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.users[userID]
	out := make([]contracts.Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (h *Registry) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// Count returns the number of online users and live connections.
func (h *Registry) Count() (users, conns int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users), len(h.conns)
}

func (h *Registry) BroadcastToUser(ctx context.Context, userID int64, env domain.Envelope) bool {
	data, err := env.Encode()
	if err != nil {
		h.log.ErrorContext(ctx, "registry - broadcast to user - encode failed", "user_id", userID, "type", env.Type, "err", err)
		return false
	}
	delivered := false
	for _, c := range h.Connections(userID) {
		// A connection that closed after the snapshot fails here; that is not an error.
		if err := c.Send(ctx, data); err != nil {
			h.log.DebugContext(ctx, "registry - broadcast to user - send skipped", "user_id", userID, "conn_id", c.ID(), "err", err)
			continue
		}
		delivered = true
	}
	return delivered
}

// CloseAll closes every live connection; used on shutdown.
func (h *Registry) CloseAll() int {
	h.mu.RLock()
	clients := make([]contracts.Client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}
