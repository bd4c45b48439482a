package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
)

// NotificationWorker drains the notification stream into live sockets.
type NotificationWorker struct {
	log      *slog.Logger
	queue    contracts.NotificationQueue
	registry contracts.Registry
	conGroup string
}

func NewNotificationWorker(
	log *slog.Logger,
	queue contracts.NotificationQueue,
	registry contracts.Registry,
	conGroup string,
) contracts.AsyncWorker {
	return &NotificationWorker{
		log:      log,
		queue:    queue,
		registry: registry,
		conGroup: conGroup,
	}
}

func (w *NotificationWorker) Run(ctx context.Context) error {
	if err := w.queue.Subscribe(ctx, w.conGroup, w.ProcessMessage); err != nil {
		w.log.ErrorContext(ctx, "worker - run - subscribe to stream failed", "group", w.conGroup, "err", err)
		return err
	}
	w.log.InfoContext(ctx, "worker - run - subscribe to stream success", "group", w.conGroup)
	return nil
}

// ProcessMessage pushes one notification to every connection of its user.
// Offline users simply miss it; the REST layer keeps the durable copy.
func (w *NotificationWorker) ProcessMessage(ctx context.Context, messageID string, raw []byte) error {
	var n domain.Notification
	if err := json.Unmarshal(raw, &n); err != nil || n.UserID <= 0 || !n.Type.IsNotification() {
		// Poison records are dropped so they do not sit in the pending list.
		w.log.WarnContext(ctx, "worker - process message - invalid notification", "message_id", messageID, "err", err)
		return w.finish(ctx, messageID)
	}
	delivered := w.registry.BroadcastToUser(ctx, n.UserID, domain.Envelope{Type: n.Type, Data: n.Data})
	w.log.DebugContext(ctx, "worker - process message - notification pushed",
		"message_id", messageID, "user_id", n.UserID, "type", n.Type, "delivered", delivered)
	return w.finish(ctx, messageID)
}

func (w *NotificationWorker) finish(ctx context.Context, messageID string) error {
	if err := w.queue.Acknowledge(ctx, w.conGroup, messageID); err != nil {
		w.log.ErrorContext(ctx, "worker - process message - acknowledge message failed", "message_id", messageID, "err", err)
		return err
	}
	if err := w.queue.Delete(ctx, messageID); err != nil {
		// Already acked; the record only wastes stream memory.
		w.log.ErrorContext(ctx, "worker - process message - delete message failed", "message_id", messageID, "err", err)
	}
	return nil
}
