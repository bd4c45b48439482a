package services

import (
	"context"
	"log/slog"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
	"parley/internal/core/events"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// HeartbeatMonitor pings one connection on a fixed interval and tears it down
// when a ping cannot be written. Pongs are not tracked.
type HeartbeatMonitor struct {
	interval    time.Duration
	presenceTTL time.Duration
	registry    contracts.Registry
	presence    contracts.PresenceStore
	log         *slog.Logger
	now         func() time.Time
}

func NewHeartbeatMonitor(
	log *slog.Logger,
	registry contracts.Registry,
	presence contracts.PresenceStore,
	interval, presenceTTL time.Duration,
) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		log:         log,
		registry:    registry,
		presence:    presence,
		interval:    interval,
		presenceTTL: presenceTTL,
		now:         time.Now,
	}
}

// Run blocks until ctx is done, the client closes, or a ping fails.
func (h *HeartbeatMonitor) Run(ctx context.Context, c contracts.Client) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("heartbeat - run - stopped", "conn_id", c.ID(), "user_id", c.UserID())
			return
		case <-c.Done():
			return
		case <-ticker.C:
			if err := events.Reply(ctx, c, domain.TypePing, domain.PingPayload{Timestamp: h.now().UnixMilli()}); err != nil {
				h.log.WarnContext(ctx, "heartbeat - run - ping failed, closing", "conn_id", c.ID(), "user_id", c.UserID(), "err", err)
				h.registry.Unregister(c)
				c.Close()
				h.forget(ctx, c)
				return
			}
			h.refresh(ctx, c)
		}
	}
}

func (h *HeartbeatMonitor) refresh(ctx context.Context, c contracts.Client) {
	if h.presence == nil {
		return
	}
	_, span := tracer.Start(ctx, "Heartbeat.UpdateOnlineStatus")
	defer span.End()
	if err := h.presence.UpdateOnlineStatus(ctx, c.UserID(), c.ID(), h.presenceTTL); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redis update failed")
		h.log.ErrorContext(ctx, "heartbeat - refresh - update online status failed", "conn_id", c.ID(), "user_id", c.UserID(), "err", err)
	}
}

func (h *HeartbeatMonitor) forget(ctx context.Context, c contracts.Client) {
	if h.presence == nil {
		return
	}
	if err := h.presence.RemoveConnection(ctx, c.UserID(), c.ID()); err != nil {
		h.log.ErrorContext(ctx, "heartbeat - forget - remove connection failed", "conn_id", c.ID(), "user_id", c.UserID(), "err", err)
	}
}
