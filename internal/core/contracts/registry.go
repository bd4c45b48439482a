package contracts

import (
	"context"
	"parley/internal/core/domain"
)

// Registry is the in-process owner of every live connection, keyed by user.
// The REST layer uses BroadcastToUser and IsOnline to push its own events.
type Registry interface {
	// Register adds the client to its user's connection set and returns the connection id.
	Register(c Client) string
	// Unregister removes the client; calling it twice is harmless.
	Unregister(c Client)
	// BroadcastToUser writes env to every live connection of userID.
	// It returns false when the user has no connection that accepted the write.
	BroadcastToUser(ctx context.Context, userID int64, env domain.Envelope) bool
	// IsOnline is true iff the user has at least one registered connection.
	IsOnline(userID int64) bool
}

// Client represents the minimal interface required for the Registry to
// communicate with an individual WebSocket connection.
type Client interface {
	ID() string
	UserID() int64
	// Send queues one encoded frame. It never blocks on a slow reader.
	Send(ctx context.Context, data []byte) error
	Close()
	Done() <-chan struct{}
}
