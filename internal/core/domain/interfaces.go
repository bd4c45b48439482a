package domain

import (
	"context"
	"time"
)

// TokenVerifier resolves the bearer token presented at handshake.
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}

// ParticipantRepository answers conversation membership questions.
type ParticipantRepository interface {
	// FindParticipant returns nil, nil when userID is not a participant.
	FindParticipant(ctx context.Context, convID, userID int64) (*Participant, error)
	// ListParticipantIDs returns every user of the conversation.
	ListParticipantIDs(ctx context.Context, convID int64) ([]int64, error)
	// UpdateLastRead moves the reader's read cursor.
	UpdateLastRead(ctx context.Context, convID, userID int64, at time.Time) error
}

// MessageRepository owns canonical messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, in *NewMessage) (*Message, error)
	// ListMessages returns up to limit messages older than before, newest first.
	ListMessages(ctx context.Context, convID int64, before *time.Time, limit int) ([]Message, error)
	// UpdateStatus sets status on ids in convID, skipping messages written by excludeSender.
	UpdateStatus(ctx context.Context, convID int64, ids []int64, excludeSender int64, status MessageStatus) error
	// ListAuthors returns the author of each id found in convID.
	ListAuthors(ctx context.Context, convID int64, ids []int64) ([]MessageAuthor, error)
}

type ConversationRepository interface {
	TouchLastMessageAt(ctx context.Context, convID int64, at time.Time) error
}

// RelationshipRepository decides who may call whom.
type RelationshipRepository interface {
	// CanContact is true for accepted friends or members of a shared group.
	CanContact(ctx context.Context, userA, userB int64) (bool, error)
}

type UserRepository interface {
	GetProfile(ctx context.Context, userID int64) (*UserProfile, error)
}

// Transactor runs fn inside one database transaction carried by ctx.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
