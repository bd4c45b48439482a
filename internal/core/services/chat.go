package services

import (
	"context"
	"log/slog"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
	"parley/internal/core/events"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type ChatService struct {
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
	conversations domain.ConversationRepository
	users         domain.UserRepository
	registry      contracts.Registry
	txManager     domain.Transactor
	log           *slog.Logger
	now           func() time.Time
}

func NewChatService(
	log *slog.Logger,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	conversations domain.ConversationRepository,
	users domain.UserRepository,
	registry contracts.Registry,
	txManager domain.Transactor,
) *ChatService {
	return &ChatService{
		log:           log,
		participants:  participants,
		messages:      messages,
		conversations: conversations,
		users:         users,
		registry:      registry,
		txManager:     txManager,
		now:           time.Now,
	}
}

// Bind registers the chat handlers on d.
func (s *ChatService) Bind(d *events.Dispatcher) {
	events.Handle(d, domain.TypeChatSend, s.Send)
	events.Handle(d, domain.TypeChatMarkRead, s.MarkRead)
	events.Handle(d, domain.TypeChatTyping, s.Typing)
	events.Handle(d, domain.TypeChatHistory, s.History)
}

// Send persists a message, confirms it to the sender with its tempId and
// fans it out to the other participants.
func (s *ChatService) Send(ctx context.Context, in events.Inbound, req domain.ChatSendRequest) error {
	convID := req.ConversationID.Int64()
	ctx, span := tracer.Start(ctx, "ChatService.Send", trace.WithAttributes(
		attribute.Int64("user_id", in.UserID),
		attribute.Int64("conv_id", convID),
	))
	defer span.End()

	hasMedia := req.MediaURL != nil && *req.MediaURL != ""
	if convID <= 0 || (strings.TrimSpace(req.Content) == "" && !hasMedia) {
		return domain.ProtocolError("conversationId and content are required", domain.ErrInvalidPayload).WithTempID(req.TempID)
	}
	if err := s.requireParticipant(ctx, convID, in.UserID); err != nil {
		span.RecordError(err)
		return domain.AsError(err).WithTempID(req.TempID)
	}

	msgType := req.Type
	if msgType == "" {
		msgType = "text"
	}
	newMsg := &domain.NewMessage{
		ConversationID: convID,
		SenderID:       in.UserID,
		Content:        req.Content,
		Type:           msgType,
		MediaURL:       req.MediaURL,
	}
	if req.ReplyToID != nil && *req.ReplyToID > 0 {
		id := req.ReplyToID.Int64()
		newMsg.ReplyToID = &id
	}

	var msg *domain.Message
	if err := s.txManager.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if msg, err = s.messages.CreateMessage(txCtx, newMsg); err != nil {
			return err
		}
		return s.conversations.TouchLastMessageAt(txCtx, convID, msg.CreatedAt)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		s.log.ErrorContext(ctx, "chat - send - persist failed", "conv_id", convID, "user_id", in.UserID, "temp_id", req.TempID, "err", err)
		return domain.InternalError("failed to send message", err).WithTempID(req.TempID)
	}
	s.log.InfoContext(ctx, "chat - send - persist success", "conv_id", convID, "user_id", in.UserID, "msg_id", msg.ID)

	if err := events.Reply(ctx, in.Client, domain.TypeChatSent, domain.SentPayload{Message: *msg, TempID: req.TempID}); err != nil {
		s.log.WarnContext(ctx, "chat - send - confirm failed", "conv_id", convID, "user_id", in.UserID, "err", err)
	}

	others, err := s.otherParticipants(ctx, convID, in.UserID)
	if err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "chat - send - list participants failed", "conv_id", convID, "err", err)
		return nil
	}
	env, err := domain.NewEnvelope(domain.TypeChatReceived, msg)
	if err != nil {
		return domain.InternalError("failed to send message", err).WithTempID(req.TempID)
	}
	delivered := 0
	for _, uid := range others {
		if s.registry.BroadcastToUser(ctx, uid, env) {
			delivered++
		}
	}
	span.SetAttributes(attribute.Int("recipients", len(others)), attribute.Int("delivered", delivered))
	span.SetStatus(codes.Ok, "sent")
	return nil
}

// MarkRead moves the reader's cursor, marks messages read and tells each
// author which of their messages were read.
func (s *ChatService) MarkRead(ctx context.Context, in events.Inbound, req domain.MarkReadRequest) error {
	convID := req.ConversationID.Int64()
	ctx, span := tracer.Start(ctx, "ChatService.MarkRead", trace.WithAttributes(
		attribute.Int64("user_id", in.UserID),
		attribute.Int64("conv_id", convID),
		attribute.Int("message_count", len(req.MessageIDs)),
	))
	defer span.End()

	if convID <= 0 {
		return domain.ProtocolError("conversationId is required", domain.ErrConversationInvalid)
	}
	p, err := s.participants.FindParticipant(ctx, convID, in.UserID)
	if err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "chat - mark read - participant lookup failed", "conv_id", convID, "user_id", in.UserID, "err", err)
		return nil
	}
	if p == nil {
		s.log.WarnContext(ctx, "chat - mark read - not a participant", "conv_id", convID, "user_id", in.UserID)
		return nil
	}

	readAt := s.now()
	if err := s.participants.UpdateLastRead(ctx, convID, in.UserID, readAt); err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "chat - mark read - update cursor failed", "conv_id", convID, "user_id", in.UserID, "err", err)
	}

	if ids := uniqueIDs(req.MessageIDs); len(ids) > 0 {
		s.notifyAuthors(ctx, convID, in.UserID, ids, readAt)
	}

	if err := events.Reply(ctx, in.Client, domain.TypeChatReadConfirmed, domain.ReadConfirmedPayload{
		ConversationID: convID,
		ReadAt:         readAt,
	}); err != nil {
		s.log.WarnContext(ctx, "chat - mark read - confirm failed", "conv_id", convID, "user_id", in.UserID, "err", err)
	}
	return nil
}

func (s *ChatService) notifyAuthors(ctx context.Context, convID, readerID int64, ids []int64, readAt time.Time) {
	if err := s.messages.UpdateStatus(ctx, convID, ids, readerID, domain.MessageRead); err != nil {
		s.log.ErrorContext(ctx, "chat - mark read - update status failed", "conv_id", convID, "user_id", readerID, "err", err)
		return
	}
	authors, err := s.messages.ListAuthors(ctx, convID, ids)
	if err != nil {
		s.log.ErrorContext(ctx, "chat - mark read - list authors failed", "conv_id", convID, "err", err)
		return
	}
	bySender := make(map[int64][]int64)
	for _, a := range authors {
		if a.SenderID == readerID {
			continue
		}
		bySender[a.SenderID] = append(bySender[a.SenderID], a.MessageID)
	}
	senders := make([]int64, 0, len(bySender))
	for uid := range bySender {
		senders = append(senders, uid)
	}
	slices.Sort(senders)
	for _, uid := range senders {
		msgIDs := bySender[uid]
		slices.Sort(msgIDs)
		env, err := domain.NewEnvelope(domain.TypeChatRead, domain.ReadPayload{
			ConversationID: convID,
			MessageIDs:     msgIDs,
			ReadBy:         readerID,
			ReadAt:         readAt,
		})
		if err != nil {
			s.log.ErrorContext(ctx, "chat - mark read - encode failed", "conv_id", convID, "err", err)
			continue
		}
		s.registry.BroadcastToUser(ctx, uid, env)
	}
}

// Typing relays a typing indicator to the other participants. It never
// reports failures to the typer.
func (s *ChatService) Typing(ctx context.Context, in events.Inbound, req domain.TypingRequest) error {
	convID := req.ConversationID.Int64()
	if convID <= 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "ChatService.Typing", trace.WithAttributes(
		attribute.Int64("user_id", in.UserID),
		attribute.Int64("conv_id", convID),
	))
	defer span.End()

	if err := s.requireParticipant(ctx, convID, in.UserID); err != nil {
		s.log.DebugContext(ctx, "chat - typing - dropped", "conv_id", convID, "user_id", in.UserID, "err", err)
		return nil
	}
	profile, err := s.users.GetProfile(ctx, in.UserID)
	if err != nil {
		s.log.DebugContext(ctx, "chat - typing - profile lookup failed", "user_id", in.UserID, "err", err)
		return nil
	}
	others, err := s.otherParticipants(ctx, convID, in.UserID)
	if err != nil {
		s.log.DebugContext(ctx, "chat - typing - list participants failed", "conv_id", convID, "err", err)
		return nil
	}
	env, err := domain.NewEnvelope(domain.TypeChatTyping, domain.TypingPayload{
		ConversationID: convID,
		User:           profile,
		IsTyping:       req.IsTyping,
		Timestamp:      s.now(),
	})
	if err != nil {
		return nil
	}
	for _, uid := range others {
		s.registry.BroadcastToUser(ctx, uid, env)
	}
	return nil
}

// History pages backwards through a conversation and returns the page
// oldest-first.
func (s *ChatService) History(ctx context.Context, in events.Inbound, req domain.HistoryRequest) error {
	convID := req.ConversationID.Int64()
	ctx, span := tracer.Start(ctx, "ChatService.History", trace.WithAttributes(
		attribute.Int64("user_id", in.UserID),
		attribute.Int64("conv_id", convID),
	))
	defer span.End()

	if convID <= 0 {
		return domain.ProtocolError("conversationId is required", domain.ErrConversationInvalid)
	}
	if err := s.requireParticipant(ctx, convID, in.UserID); err != nil {
		span.RecordError(err)
		return err
	}
	limit := clampLimit(req.Limit)
	var before *time.Time
	if req.Before != nil && !req.Before.Time().IsZero() {
		t := req.Before.Time()
		before = &t
	}
	msgs, err := s.messages.ListMessages(ctx, convID, before, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "db read failed")
		s.log.ErrorContext(ctx, "chat - history - list messages failed", "conv_id", convID, "user_id", in.UserID, "err", err)
		return domain.InternalError("failed to load history", err)
	}
	slices.Reverse(msgs)
	if msgs == nil {
		msgs = []domain.Message{}
	}
	span.SetAttributes(attribute.Int("message_count", len(msgs)))
	return events.Reply(ctx, in.Client, domain.TypeChatHistory, domain.HistoryPayload{
		ConversationID: convID,
		Messages:       msgs,
		HasMore:        len(msgs) == limit,
	})
}

func (s *ChatService) requireParticipant(ctx context.Context, convID, userID int64) error {
	p, err := s.participants.FindParticipant(ctx, convID, userID)
	if err != nil {
		s.log.ErrorContext(ctx, "chat - participant lookup failed", "conv_id", convID, "user_id", userID, "err", err)
		return domain.InternalError("internal server error", err)
	}
	if p == nil {
		return domain.AuthorizationError("you are not a participant of this conversation", domain.ErrNotParticipant)
	}
	return nil
}

func (s *ChatService) otherParticipants(ctx context.Context, convID, userID int64) ([]int64, error) {
	ids, err := s.participants.ListParticipantIDs(ctx, convID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(ids, func(id int64) bool { return id == userID }), nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}

func uniqueIDs(in []domain.ID) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, id := range in {
		v := id.Int64()
		if v <= 0 {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
