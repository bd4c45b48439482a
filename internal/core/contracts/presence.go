package contracts

import (
	"context"
	"time"
)

// PresenceStore mirrors the registry's online set outside the process so other
// services can read it. The registry stays authoritative.
type PresenceStore interface {
	// UpdateOnlineStatus records connID as alive for ttl.
	UpdateOnlineStatus(ctx context.Context, userID int64, connID string, ttl time.Duration) error
	// RemoveConnection drops connID immediately.
	RemoveConnection(ctx context.Context, userID int64, connID string) error
	// GetOnlineConnections returns the connection ids seen within ttl.
	GetOnlineConnections(ctx context.Context, userID int64) ([]string, error)
}
