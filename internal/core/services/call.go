package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
	"parley/internal/core/events"
	"parley/pkg/logging"
	"time"

	"github.com/pion/webrtc/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ReasonNormal   = "normal"
	ReasonRejected = "rejected"
	ReasonBusy     = "busy"
	ReasonTimeout  = "timeout"
)

// CallService relays WebRTC signaling between two users. Media never passes
// through the server.
type CallService struct {
	relationships domain.RelationshipRepository
	users         domain.UserRepository
	registry      contracts.Registry
	ledger        *CallLedger
	strict        bool
	log           *slog.Logger
	now           func() time.Time
}

// NewCallService builds the relay. With strict set, signaling that does not
// match a call in the ledger is refused instead of relayed.
func NewCallService(
	log *slog.Logger,
	relationships domain.RelationshipRepository,
	users domain.UserRepository,
	registry contracts.Registry,
	strict bool,
	ringTimeout time.Duration,
) *CallService {
	s := &CallService{
		log:           log,
		relationships: relationships,
		users:         users,
		registry:      registry,
		strict:        strict,
		now:           time.Now,
	}
	s.ledger = NewCallLedger(ringTimeout, s.onRingTimeout)
	return s
}

func (s *CallService) Ledger() *CallLedger { return s.ledger }

// Bind registers the call handlers on d.
func (s *CallService) Bind(d *events.Dispatcher) {
	events.Handle(d, domain.TypeCallOffer, s.Offer)
	events.Handle(d, domain.TypeCallAnswer, s.Answer)
	events.Handle(d, domain.TypeCallICECandidate, s.ICECandidate)
	events.Handle(d, domain.TypeCallHangUp, func(ctx context.Context, in events.Inbound, req domain.CallEndRequest) error {
		return s.End(ctx, in, domain.TypeCallHangUp, req)
	})
	events.Handle(d, domain.TypeCallReject, func(ctx context.Context, in events.Inbound, req domain.CallEndRequest) error {
		return s.End(ctx, in, domain.TypeCallReject, req)
	})
	events.Handle(d, domain.TypeCallBusy, func(ctx context.Context, in events.Inbound, req domain.CallEndRequest) error {
		return s.End(ctx, in, domain.TypeCallBusy, req)
	})
}

func (s *CallService) Offer(ctx context.Context, in events.Inbound, req domain.CallOfferRequest) error {
	calleeID := req.ReceiverID.Int64()
	ctx, span := tracer.Start(ctx, "CallService.Offer", trace.WithAttributes(
		attribute.Int64("user_id", in.UserID),
		attribute.Int64("receiver_id", calleeID),
	))
	defer span.End()

	if calleeID <= 0 || calleeID == in.UserID {
		return domain.ProtocolError("invalid receiverId", domain.ErrInvalidPayload)
	}
	if err := validateSDP(req.Offer, webrtc.SDPTypeOffer); err != nil {
		span.RecordError(err)
		return domain.ProtocolError("invalid offer", err)
	}
	ok, err := s.relationships.CanContact(ctx, in.UserID, calleeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relationship check failed")
		s.log.ErrorContext(ctx, "call - offer - relationship check failed", logging.User(in.UserID), "receiver_id", calleeID, logging.Err(err))
		return domain.InternalError("internal server error", err)
	}
	if !ok {
		return domain.AuthorizationError("you can only call friends or group members", domain.ErrNotContactable)
	}
	if !s.registry.IsOnline(calleeID) {
		s.log.InfoContext(ctx, "call - offer - callee offline", logging.User(in.UserID), "receiver_id", calleeID)
		return s.notAvailable(ctx, in.Client, calleeID)
	}

	session := s.ledger.Open(in.UserID, calleeID)
	callID := session.ID.String()
	span.SetAttributes(attribute.String("call_id", callID))

	var convID *int64
	if req.ConversationID != nil && *req.ConversationID > 0 {
		v := req.ConversationID.Int64()
		convID = &v
	}
	callType := req.CallType
	if callType == "" {
		callType = "video"
	}
	env, err := domain.NewEnvelope(domain.TypeCallOffer, domain.CallOfferPayload{
		CallID:         callID,
		SenderID:       in.UserID,
		SenderInfo:     s.profile(ctx, in.UserID),
		Offer:          req.Offer,
		ConversationID: convID,
		CallType:       callType,
		Timestamp:      s.now(),
	})
	if err != nil {
		_, _ = s.ledger.End(callID, in.UserID)
		return domain.InternalError("internal server error", err)
	}
	// The callee can drop between IsOnline and the write.
	if !s.registry.BroadcastToUser(ctx, calleeID, env) {
		_, _ = s.ledger.End(callID, in.UserID)
		s.log.InfoContext(ctx, "call - offer - callee unreachable", logging.Call(callID), "receiver_id", calleeID)
		return s.notAvailable(ctx, in.Client, calleeID)
	}
	s.log.InfoContext(ctx, "call - offer - relayed", logging.Call(callID), logging.User(in.UserID), "receiver_id", calleeID)
	return events.Reply(ctx, in.Client, domain.TypeCallOfferSent, domain.OfferSentPayload{
		CallID:     callID,
		ReceiverID: calleeID,
	})
}

func (s *CallService) Answer(ctx context.Context, in events.Inbound, req domain.CallAnswerRequest) error {
	ctx, span := tracer.Start(ctx, "CallService.Answer", trace.WithAttributes(
		attribute.Int64("user_id", in.UserID),
		attribute.String("call_id", req.CallID),
	))
	defer span.End()

	if err := validateSDP(req.Answer, webrtc.SDPTypeAnswer); err != nil {
		span.RecordError(err)
		return domain.ProtocolError("invalid answer", err)
	}
	receiverID := req.ReceiverID.Int64()
	err := s.checkSignal(req.CallID, in.UserID, receiverID)
	if err == nil {
		_, err = s.ledger.Answer(req.CallID, in.UserID)
	}
	if err != nil {
		span.RecordError(err)
		if s.strict {
			return ledgerError(err)
		}
		s.log.WarnContext(ctx, "call - answer - ledger mismatch, relaying", logging.Call(req.CallID), logging.User(in.UserID), logging.Err(err))
	}
	s.relay(ctx, receiverID, domain.TypeCallAnswer, domain.CallAnswerPayload{
		CallID:        req.CallID,
		SenderID:      in.UserID,
		ResponderInfo: s.profile(ctx, in.UserID),
		Answer:        req.Answer,
		Timestamp:     s.now(),
	})
	return nil
}

// ICECandidate forwards a candidate. It never replies with an error.
func (s *CallService) ICECandidate(ctx context.Context, in events.Inbound, req domain.ICECandidateRequest) error {
	receiverID := req.ReceiverID.Int64()
	err := s.checkSignal(req.CallID, in.UserID, receiverID)
	if err == nil {
		_, err = s.ledger.Touch(req.CallID, in.UserID)
	}
	if err != nil {
		if s.strict {
			s.log.DebugContext(ctx, "call - ice candidate - dropped", logging.Call(req.CallID), logging.User(in.UserID), logging.Err(err))
			return nil
		}
		s.log.WarnContext(ctx, "call - ice candidate - ledger mismatch, relaying", logging.Call(req.CallID), logging.User(in.UserID), logging.Err(err))
	}
	s.relay(ctx, receiverID, domain.TypeCallICECandidate, domain.ICECandidatePayload{
		CallID:    req.CallID,
		SenderID:  in.UserID,
		Candidate: req.Candidate,
		Timestamp: s.now(),
	})
	return nil
}

// End relays hang_up, reject or busy and forgets the call.
func (s *CallService) End(ctx context.Context, in events.Inbound, t domain.MessageType, req domain.CallEndRequest) error {
	ctx, span := tracer.Start(ctx, "CallService.End", trace.WithAttributes(
		attribute.Int64("user_id", in.UserID),
		attribute.String("call_id", req.CallID),
		attribute.String("type", string(t)),
	))
	defer span.End()

	receiverID := req.ReceiverID.Int64()
	err := s.checkSignal(req.CallID, in.UserID, receiverID)
	if err == nil {
		_, err = s.ledger.End(req.CallID, in.UserID)
	}
	if err != nil {
		span.RecordError(err)
		if s.strict {
			return ledgerError(err)
		}
		s.log.WarnContext(ctx, "call - end - ledger mismatch, relaying", logging.Call(req.CallID), logging.User(in.UserID), logging.Err(err))
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultReason(t)
	}
	s.log.InfoContext(ctx, "call - end - relayed", logging.Call(req.CallID), logging.User(in.UserID), logging.MessageType(string(t)), "reason", reason)
	s.relay(ctx, receiverID, t, domain.CallEndPayload{
		CallID:    req.CallID,
		SenderID:  in.UserID,
		Reason:    reason,
		Timestamp: s.now(),
	})
	return nil
}

// EndCallsFor ends every call of a user who has no connection left and tells
// each counterpart the call is over.
func (s *CallService) EndCallsFor(ctx context.Context, userID int64) {
	for _, session := range s.ledger.EndAllFor(userID) {
		callID := session.ID.String()
		s.log.InfoContext(ctx, "call - party offline - ended", logging.Call(callID), logging.User(userID))
		s.relay(ctx, session.Counterpart(userID), domain.TypeCallHangUp, domain.CallEndPayload{
			CallID:    callID,
			SenderID:  userID,
			Reason:    ReasonNormal,
			Timestamp: s.now(),
		})
	}
}

func (s *CallService) onRingTimeout(session domain.CallSession) {
	ctx := context.Background()
	callID := session.ID.String()
	s.log.InfoContext(ctx, "call - ring timeout - expired", logging.Call(callID), "caller_id", session.CallerID, "callee_id", session.CalleeID)
	for _, uid := range []int64{session.CallerID, session.CalleeID} {
		s.relay(ctx, uid, domain.TypeCallHangUp, domain.CallEndPayload{
			CallID:    callID,
			SenderID:  session.Counterpart(uid),
			Reason:    ReasonTimeout,
			Timestamp: s.now(),
		})
	}
}

func (s *CallService) relay(ctx context.Context, userID int64, t domain.MessageType, data any) {
	env, err := domain.NewEnvelope(t, data)
	if err != nil {
		s.log.ErrorContext(ctx, "call - relay - encode failed", logging.MessageType(string(t)), logging.Err(err))
		return
	}
	if !s.registry.BroadcastToUser(ctx, userID, env) {
		s.log.DebugContext(ctx, "call - relay - receiver unreachable", logging.MessageType(string(t)), "receiver_id", userID)
	}
}

func (s *CallService) notAvailable(ctx context.Context, client contracts.Client, calleeID int64) error {
	return events.Reply(ctx, client, domain.TypeCallNotAvailable, domain.NotAvailablePayload{
		Message:    "user is not available",
		ReceiverID: calleeID,
	})
}

// profile returns a snapshot for event payloads; a lookup failure degrades to
// the bare id.
func (s *CallService) profile(ctx context.Context, userID int64) *domain.UserProfile {
	p, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		s.log.WarnContext(ctx, "call - profile lookup failed", logging.User(userID), logging.Err(err))
		return &domain.UserProfile{ID: userID}
	}
	return p
}

func validateSDP(desc webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc.Type != want {
		return fmt.Errorf("%w: sdp type %q, want %q", domain.ErrInvalidPayload, desc.Type, want)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// checkSignal verifies that callID is live, that senderID is one of its
// parties and that receiverID is the other one.
func (s *CallService) checkSignal(callID string, senderID, receiverID int64) error {
	session, ok := s.ledger.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrCallNotFound, callID)
	}
	if !session.Involves(senderID) {
		return fmt.Errorf("%w: user %d", domain.ErrNotCallParty, senderID)
	}
	if session.Counterpart(senderID) != receiverID {
		return fmt.Errorf("%w: receiver %d", domain.ErrNotCallParty, receiverID)
	}
	return nil
}

func ledgerError(err error) error {
	if errors.Is(err, domain.ErrNotCallParty) {
		return domain.AuthorizationError("you are not a party of this call", err)
	}
	return domain.NotFoundError("call not found", err)
}

func defaultReason(t domain.MessageType) string {
	switch t {
	case domain.TypeCallReject:
		return ReasonRejected
	case domain.TypeCallBusy:
		return ReasonBusy
	default:
		return ReasonNormal
	}
}
