package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	TypeConnection MessageType = "connection"
	TypeError      MessageType = "error"
	TypeMessage    MessageType = "message"
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"

	TypeChatSend          MessageType = "chat:send"
	TypeChatSent          MessageType = "chat:sent"
	TypeChatReceived      MessageType = "chat:received"
	TypeChatMarkRead      MessageType = "chat:mark_read"
	TypeChatRead          MessageType = "chat:read"
	TypeChatReadConfirmed MessageType = "chat:read_confirmed"
	TypeChatTyping        MessageType = "chat:typing"
	TypeChatHistory       MessageType = "chat:history"

	TypeCallOffer        MessageType = "offer"
	TypeCallOfferSent    MessageType = "offer_sent"
	TypeCallAnswer       MessageType = "answer"
	TypeCallICECandidate MessageType = "ice_candidate"
	TypeCallHangUp       MessageType = "hang_up"
	TypeCallReject       MessageType = "reject"
	TypeCallBusy         MessageType = "busy"
	TypeCallNotAvailable MessageType = "not_available"

	TypeFriendRequest         MessageType = "friend:request"
	TypeFriendRequestReceived MessageType = "friend:request_received"
	TypeFriendAccept          MessageType = "friend:accept"
	TypeFriendAcceptReceived  MessageType = "friend:accept_received"
	TypeFriendReject          MessageType = "friend:reject"
	TypeFriendRejectReceived  MessageType = "friend:reject_received"
	TypeFriendDelete          MessageType = "friend:delete"
	TypeFriendDeleteReceived  MessageType = "friend:delete_received"
	TypeFriendOnlineStatus    MessageType = "friend:online_status"

	TypeGroupCreated          MessageType = "group:created"
	TypeGroupUpdated          MessageType = "group:updated"
	TypeGroupDeleted          MessageType = "group:deleted"
	TypeGroupMemberJoined     MessageType = "group:member_joined"
	TypeGroupMemberLeft       MessageType = "group:member_left"
	TypeGroupMemberRemoved    MessageType = "group:member_removed"
	TypeGroupRoleChanged      MessageType = "group:role_changed"
	TypeGroupOwnerTransferred MessageType = "group:owner_transferred"
)

var knownTypes = map[MessageType]struct{}{}

func init() {
	for _, t := range []MessageType{
		TypeConnection, TypeError, TypeMessage, TypePing, TypePong,
		TypeChatSend, TypeChatSent, TypeChatReceived, TypeChatMarkRead, TypeChatRead,
		TypeChatReadConfirmed, TypeChatTyping, TypeChatHistory,
		TypeCallOffer, TypeCallOfferSent, TypeCallAnswer, TypeCallICECandidate,
		TypeCallHangUp, TypeCallReject, TypeCallBusy, TypeCallNotAvailable,
		TypeFriendRequest, TypeFriendRequestReceived, TypeFriendAccept, TypeFriendAcceptReceived,
		TypeFriendReject, TypeFriendRejectReceived, TypeFriendDelete, TypeFriendDeleteReceived,
		TypeFriendOnlineStatus,
		TypeGroupCreated, TypeGroupUpdated, TypeGroupDeleted, TypeGroupMemberJoined,
		TypeGroupMemberLeft, TypeGroupMemberRemoved, TypeGroupRoleChanged, TypeGroupOwnerTransferred,
	} {
		knownTypes[t] = struct{}{}
	}
}

// Valid reports whether t belongs to the closed set of message kinds.
func (t MessageType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// IsNotification reports whether t may be pushed by the notification ingress.
func (t MessageType) IsNotification() bool {
	if !t.Valid() {
		return false
	}
	s := string(t)
	return len(s) > 7 && (s[:7] == "friend:" || s[:6] == "group:")
}

// Envelope is the single wire unit in both directions.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope encodes data as the payload of a t envelope.
func NewEnvelope(t MessageType, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: raw}, nil
}

func (e Envelope) Encode() ([]byte, error) {
	if e.Data == nil {
		e.Data = json.RawMessage("null")
	}
	return json.Marshal(e)
}

// DecodeEnvelope parses one inbound text frame. It fails with a protocol
// error when the frame is not a {type, data} object or the type is unknown.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var in struct {
		Type *MessageType   `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&in); err != nil || in.Type == nil {
		if err == nil {
			err = ErrMalformedEnvelope
		}
		return Envelope{}, ProtocolError("invalid message format", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err))
	}
	if dec.More() {
		return Envelope{}, ProtocolError("invalid message format", ErrMalformedEnvelope)
	}
	if !in.Type.Valid() {
		return Envelope{}, ProtocolError("unknown message type", fmt.Errorf("%w: %q", ErrUnknownMessageType, *in.Type))
	}
	if len(in.Data) == 0 {
		in.Data = json.RawMessage("null")
	}
	return Envelope{Type: *in.Type, Data: in.Data}, nil
}

// ID accepts both JSON numbers and numeric strings; clients send either.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: id %q", ErrInvalidPayload, s)
	}
	*id = ID(v)
	return nil
}

func (id ID) Int64() int64 { return int64(id) }

// Timestamp accepts an RFC3339 string or epoch milliseconds, as a number or
// a numeric string.
type Timestamp time.Time

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*ts = Timestamp{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*ts = Timestamp(time.UnixMilli(ms))
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrInvalidPayload, s)
	}
	*ts = Timestamp(t)
	return nil
}

func (ts Timestamp) Time() time.Time { return time.Time(ts) }

// Inbound payloads

type ChatSendRequest struct {
	ConversationID ID      `json:"conversationId"`
	Content        string  `json:"content"`
	TempID         string  `json:"tempId"`
	Type           string  `json:"type"`
	MediaURL       *string `json:"mediaUrl"`
	ReplyToID      *ID     `json:"replyToId"`
}

type MarkReadRequest struct {
	ConversationID ID   `json:"conversationId"`
	MessageIDs     []ID `json:"messageIds"`
}

type TypingRequest struct {
	ConversationID ID   `json:"conversationId"`
	IsTyping       bool `json:"isTyping"`
}

type HistoryRequest struct {
	ConversationID ID         `json:"conversationId"`
	Before         *Timestamp `json:"before"`
	Limit          int        `json:"limit"`
}

type CallOfferRequest struct {
	ReceiverID     ID                        `json:"receiverId"`
	Offer          webrtc.SessionDescription `json:"offer"`
	ConversationID *ID                       `json:"conversationId"`
	CallType       string                    `json:"callType"`
}

type CallAnswerRequest struct {
	CallID     string                    `json:"callId"`
	ReceiverID ID                        `json:"receiverId"`
	Answer     webrtc.SessionDescription `json:"answer"`
}

type ICECandidateRequest struct {
	CallID     string                  `json:"callId"`
	ReceiverID ID                      `json:"receiverId"`
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
}

// CallEndRequest is shared by hang_up, reject and busy.
type CallEndRequest struct {
	CallID     string `json:"callId"`
	ReceiverID ID     `json:"receiverId"`
	Reason     string `json:"reason"`
}

// Outbound payloads

type ErrorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	TempID  string `json:"tempId,omitempty"`
}

type ConnectionPayload struct {
	Success   bool   `json:"success"`
	ConnectID string `json:"connectId"`
	UserID    int64  `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// SentPayload is the canonical record plus the echo of the client tempId.
type SentPayload struct {
	Message
	TempID string `json:"tempId"`
}

type ReadPayload struct {
	ConversationID int64     `json:"conversationId"`
	MessageIDs     []int64   `json:"messageIds"`
	ReadBy         int64     `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

type ReadConfirmedPayload struct {
	ConversationID int64     `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
}

type TypingPayload struct {
	ConversationID int64        `json:"conversationId"`
	User           *UserProfile `json:"user"`
	IsTyping       bool         `json:"isTyping"`
	Timestamp      time.Time    `json:"timestamp"`
}

type HistoryPayload struct {
	ConversationID int64     `json:"conversationId"`
	Messages       []Message `json:"messages"`
	HasMore        bool      `json:"hasMore"`
}

type CallOfferPayload struct {
	CallID         string                    `json:"callId"`
	SenderID       int64                     `json:"senderId"`
	SenderInfo     *UserProfile              `json:"senderInfo"`
	Offer          webrtc.SessionDescription `json:"offer"`
	ConversationID *int64                    `json:"conversationId,omitempty"`
	CallType       string                    `json:"callType"`
	Timestamp      time.Time                 `json:"timestamp"`
}

type OfferSentPayload struct {
	CallID     string `json:"callId"`
	ReceiverID int64  `json:"receiverId"`
}

type CallAnswerPayload struct {
	CallID        string                    `json:"callId"`
	SenderID      int64                     `json:"senderId"`
	ResponderInfo *UserProfile              `json:"responderInfo"`
	Answer        webrtc.SessionDescription `json:"answer"`
	Timestamp     time.Time                 `json:"timestamp"`
}

type ICECandidatePayload struct {
	CallID    string                  `json:"callId"`
	SenderID  int64                   `json:"senderId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	Timestamp time.Time               `json:"timestamp"`
}

type CallEndPayload struct {
	CallID    string    `json:"callId"`
	SenderID  int64     `json:"senderId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type NotAvailablePayload struct {
	Message    string `json:"message"`
	ReceiverID int64  `json:"receiverId"`
}
