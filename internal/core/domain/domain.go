package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Identity is what the token verifier resolves a connection token to.
type Identity struct {
	UserID int64
	Email  string
}

// UserProfile is the public snapshot of a user attached to outgoing events.
type UserProfile struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar"`
}

// Participant links a user to a conversation.
type Participant struct {
	ConversationID int64
	UserID         int64
	LastReadAt     *time.Time
}

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// ReplyPreview is the quoted message shown above a reply.
type ReplyPreview struct {
	ID       int64  `json:"id"`
	Content  string `json:"content"`
	SenderID int64  `json:"senderId"`
	Type     string `json:"type"`
}

// Message is the canonical, persisted chat entry. Only the message store
// assigns ID, Status and timestamps.
type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversationId"`
	SenderID       int64         `json:"senderId"`
	Content        string        `json:"content"`
	Type           string        `json:"type"`
	MediaURL       *string       `json:"mediaUrl"`
	ReplyToID      *int64        `json:"replyToId"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Sender         *UserProfile  `json:"sender,omitempty"`
	ReplyTo        *ReplyPreview `json:"replyTo,omitempty"`
}

// NewMessage is the insert shape handed to the message store.
type NewMessage struct {
	ConversationID int64
	SenderID       int64
	Content        string
	Type           string
	MediaURL       *string
	ReplyToID      *int64
}

// MessageAuthor pairs a message id with the user who wrote it.
type MessageAuthor struct {
	MessageID int64
	SenderID  int64
}

type CallState string

const (
	CallRinging    CallState = "ringing" // OUTGOING for the caller, INCOMING for the callee
	CallConnecting CallState = "connecting"
	CallConnected  CallState = "connected"
	CallEnded      CallState = "ended"
)

// CallSession is one signaling exchange from offer to a terminal event.
type CallSession struct {
	ID        uuid.UUID
	CallerID  int64
	CalleeID  int64
	State     CallState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Involves reports whether userID is the caller or the callee.
func (c *CallSession) Involves(userID int64) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// Counterpart returns the other party of the call.
func (c *CallSession) Counterpart(userID int64) int64 {
	if userID == c.CallerID {
		return c.CalleeID
	}
	return c.CallerID
}

// Notification is a server-originated event for one user, produced outside
// the socket layer (friend requests, group changes).
type Notification struct {
	UserID int64           `json:"userId"`
	Type   MessageType     `json:"type"`
	Data   json.RawMessage `json:"data"`
}
