package handlers

import (
	"context"
	"net/http"
	"parley/internal/app/server/ws"
	"parley/internal/config"
	"parley/internal/core/domain"
	"parley/internal/core/services"
	"parley/pkg/logging"
	"strings"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WSHandler struct {
	conns    *services.ConnectionService
	cfg      config.WSConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(conns *services.ConnectionService, cfg config.WSConfig) *WSHandler {
	return &WSHandler{
		conns: conns,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // browsers connect from the web app's origin
			},
		},
	}
}

// Handler upgrades the request and serves the socket until it closes. The
// token travels in the "token" query parameter or an Authorization header.
func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", "err", err)
		return
	}
	// The session outlives the HTTP request context.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	socket := ws.NewWebSocket(ctx, log, conn, s.cfg.ReadLimit, s.cfg.WriteTimeout)

	identity, err := s.conns.Authenticate(ctx, bearerToken(r))
	if err != nil {
		rejectSocket(socket, err)
		log.WarnContext(ctx, "ws handler - authenticate - connection rejected", logging.Err(err))
		return
	}
	span.SetAttributes(attribute.Int64("user.id", identity.UserID))

	client := ws.NewClient(ctx, log, socket, identity.UserID, s.cfg.SendBuffer)
	ctx, log = logging.With(ctx, logging.User(identity.UserID), logging.Connection(client.ID()))
	defer s.conns.HandleDisconnect(ctx, client)
	if err := s.conns.HandleConnect(ctx, client); err != nil {
		return
	}
	log.InfoContext(ctx, "ws handler - ws connection established")

	go s.conns.HandleHeartbeat(client.Context(), client)

	socket.ReadLoop(func(data []byte) {
		s.conns.HandleMessage(client.Context(), client, data)
	})
}

// rejectSocket writes one error envelope and closes the socket.
func rejectSocket(socket *ws.WebSocket, err error) {
	env, encErr := domain.NewEnvelope(domain.TypeError, domain.AsError(err).Payload())
	if encErr == nil {
		if raw, encErr := env.Encode(); encErr == nil {
			_ = socket.WriteMessage(raw)
		}
	}
	socket.CloseWith(websocket.ClosePolicyViolation, "authentication failed")
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
