package services

import (
	"context"
	"log/slog"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
	"parley/internal/core/events"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("core-services")

// PresenceView answers "is this user reachable" for the REST layer.
type PresenceView struct {
	UserID      int64 `json:"userId"`
	Online      bool  `json:"online"`
	Connections int   `json:"connections"`
}

// ConnectionService owns the lifecycle of one socket: admission, heartbeat,
// inbound frames and teardown.
type ConnectionService struct {
	verifier    domain.TokenVerifier
	registry    contracts.Registry
	presence    contracts.PresenceStore
	dispatcher  *events.Dispatcher
	heartbeat   *HeartbeatMonitor
	presenceTTL time.Duration
	offline     []func(ctx context.Context, userID int64)
	log         *slog.Logger
}

func NewConnectionService(
	log *slog.Logger,
	verifier domain.TokenVerifier,
	registry contracts.Registry,
	presence contracts.PresenceStore,
	dispatcher *events.Dispatcher,
	heartbeat *HeartbeatMonitor,
	presenceTTL time.Duration,
) *ConnectionService {
	return &ConnectionService{
		log:         log,
		verifier:    verifier,
		registry:    registry,
		presence:    presence,
		dispatcher:  dispatcher,
		heartbeat:   heartbeat,
		presenceTTL: presenceTTL,
	}
}

// OnUserOffline registers fn to run when a user's last connection goes away.
// Register hooks before serving; the list is not guarded.
func (c *ConnectionService) OnUserOffline(fn func(ctx context.Context, userID int64)) {
	c.offline = append(c.offline, fn)
}

// Authenticate resolves the handshake token. Failures are auth errors.
func (c *ConnectionService) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	identity, err := c.verifier.Verify(token)
	if err != nil {
		c.log.WarnContext(ctx, "connection - authenticate - rejected", "err", err)
		return nil, domain.AuthError(err)
	}
	return identity, nil
}

// HandleConnect admits an authenticated client: it registers it, mirrors its
// presence and sends the connection envelope.
func (c *ConnectionService) HandleConnect(ctx context.Context, client contracts.Client) error {
	ctx, span := tracer.Start(ctx, "ConnectionService.HandleConnect", trace.WithAttributes(
		attribute.Int64("user_id", client.UserID()),
		attribute.String("conn_id", client.ID()),
	))
	defer span.End()

	connID := c.registry.Register(client)
	if c.presence != nil {
		if err := c.presence.UpdateOnlineStatus(ctx, client.UserID(), connID, c.presenceTTL); err != nil {
			span.RecordError(err)
			c.log.ErrorContext(ctx, "connection - handle connect - update online status failed", "conn_id", connID, "user_id", client.UserID(), "err", err)
		}
	}
	if err := events.Reply(ctx, client, domain.TypeConnection, domain.ConnectionPayload{
		Success:   true,
		ConnectID: connID,
		UserID:    client.UserID(),
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connection envelope failed")
		c.log.ErrorContext(ctx, "connection - handle connect - send connection envelope failed", "conn_id", connID, "user_id", client.UserID(), "err", err)
		return err
	}
	c.log.InfoContext(ctx, "connection - handle connect - success", "conn_id", connID, "user_id", client.UserID())
	return nil
}

// HandleHeartbeat blocks running the ping loop for client.
func (c *ConnectionService) HandleHeartbeat(ctx context.Context, client contracts.Client) {
	c.heartbeat.Run(ctx, client)
}

// HandleMessage dispatches one inbound frame synchronously.
func (c *ConnectionService) HandleMessage(ctx context.Context, client contracts.Client, raw []byte) {
	c.dispatcher.Dispatch(ctx, client, client.UserID(), raw)
}

// HandleDisconnect removes client from the registry and presence mirror. It
// is safe to call more than once.
func (c *ConnectionService) HandleDisconnect(ctx context.Context, client contracts.Client) {
	c.registry.Unregister(client)
	client.Close()
	if c.presence != nil {
		if err := c.presence.RemoveConnection(ctx, client.UserID(), client.ID()); err != nil {
			c.log.ErrorContext(ctx, "connection - handle disconnect - remove connection failed", "conn_id", client.ID(), "user_id", client.UserID(), "err", err)
		}
	}
	c.log.InfoContext(ctx, "connection - handle disconnect - done", "conn_id", client.ID(), "user_id", client.UserID())
	if !c.registry.IsOnline(client.UserID()) {
		for _, fn := range c.offline {
			fn(ctx, client.UserID())
		}
	}
}

// Presence reports whether userID is online here and how many live
// connections the presence mirror holds for them.
func (c *ConnectionService) Presence(ctx context.Context, userID int64) (PresenceView, error) {
	view := PresenceView{UserID: userID, Online: c.registry.IsOnline(userID)}
	if c.presence == nil {
		return view, nil
	}
	conns, err := c.presence.GetOnlineConnections(ctx, userID)
	if err != nil {
		c.log.ErrorContext(ctx, "connection - presence - get online connections failed", "user_id", userID, "err", err)
		return view, err
	}
	view.Connections = len(conns)
	return view, nil
}
