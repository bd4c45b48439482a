package contracts

import (
	"context"
	"parley/internal/core/domain"
)

// NotificationQueue carries events produced by the REST layer to the socket layer.
type NotificationQueue interface {
	// Publish appends a notification to the stream (producer side).
	Publish(ctx context.Context, n domain.Notification) error
	// Subscribe reads the stream as part of conGroup until ctx is done.
	Subscribe(ctx context.Context, conGroup string, handler func(ctx context.Context, messageID string, data []byte) error) error
	// Acknowledge removes the message from the group's pending list.
	Acknowledge(ctx context.Context, conGroup, messageID string) error
	// Delete removes the message from the stream.
	Delete(ctx context.Context, messageID string) error
}
