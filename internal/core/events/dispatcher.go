package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
	"parley/pkg/logging"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("event-dispatcher")

// Inbound is one decoded client message routed to a handler.
type Inbound struct {
	Client contracts.Client
	UserID int64
	Data   json.RawMessage
}

// HandlerFunc handles one inbound message. A returned *domain.Error is sent
// back to the originating connection; any other error is reported as internal.
type HandlerFunc func(ctx context.Context, in Inbound) error

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.MessageType][]HandlerFunc
	log      *slog.Logger
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.MessageType][]HandlerFunc),
		log:      log,
	}
}

// On registers h for t. Handlers for the same type run in registration order.
func (d *Dispatcher) On(t domain.MessageType, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

// Handle registers a handler that receives the payload decoded as T. A payload
// that does not decode is answered with a protocol error.
func Handle[T any](d *Dispatcher, t domain.MessageType, fn func(ctx context.Context, in Inbound, payload T) error) {
	d.On(t, func(ctx context.Context, in Inbound) error {
		var payload T
		if err := json.Unmarshal(in.Data, &payload); err != nil {
			return domain.ProtocolError("invalid message format", fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		}
		return fn(ctx, in, payload)
	})
}

// Emit runs every handler registered for t and reports whether any exists.
// A failing or panicking handler does not stop the ones after it.
func (d *Dispatcher) Emit(ctx context.Context, t domain.MessageType, in Inbound) bool {
	d.mu.RLock()
	hs := d.handlers[t]
	d.mu.RUnlock()
	if len(hs) == 0 {
		return false
	}
	for i, h := range hs {
		if err := d.run(ctx, h, in); err != nil {
			d.log.ErrorContext(ctx, "dispatcher - emit - handler failed", logging.MessageType(string(t)), "handler", i, logging.User(in.UserID), logging.Err(err))
			d.reply(ctx, in.Client, domain.AsError(err))
		}
	}
	return true
}

func (d *Dispatcher) run(ctx context.Context, h HandlerFunc, in Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.InternalError("internal server error", fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h(ctx, in)
}

// Dispatch decodes a raw frame from client and routes it. Frames that fail to
// decode, or whose type has no handler, get exactly one error reply.
func (d *Dispatcher) Dispatch(ctx context.Context, client contracts.Client, userID int64, raw []byte) {
	ctx, span := tracer.Start(ctx, "Dispatcher.Dispatch", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int("payload_size", len(raw)),
	))
	defer span.End()

	env, err := domain.DecodeEnvelope(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		d.log.WarnContext(ctx, "dispatcher - dispatch - decode failed", logging.User(userID), logging.Err(err))
		d.reply(ctx, client, domain.AsError(err))
		return
	}
	span.SetAttributes(attribute.String("type", string(env.Type)))
	if !d.Emit(ctx, env.Type, Inbound{Client: client, UserID: userID, Data: env.Data}) {
		err := domain.ProtocolError("unknown message type", fmt.Errorf("%w: no handler for %q", domain.ErrUnknownMessageType, env.Type))
		span.RecordError(err)
		d.log.WarnContext(ctx, "dispatcher - dispatch - unhandled type", logging.User(userID), logging.MessageType(string(env.Type)))
		d.reply(ctx, client, err)
	}
}

func (d *Dispatcher) reply(ctx context.Context, client contracts.Client, e *domain.Error) {
	if client == nil {
		return
	}
	if err := Reply(ctx, client, domain.TypeError, e.Payload()); err != nil {
		d.log.DebugContext(ctx, "dispatcher - reply - send failed", logging.Connection(client.ID()), logging.Err(err))
	}
}

// Reply encodes data as a t envelope and queues it on client.
func Reply(ctx context.Context, client contracts.Client, t domain.MessageType, data any) error {
	env, err := domain.NewEnvelope(t, data)
	if err != nil {
		return err
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	return client.Send(ctx, raw)
}
