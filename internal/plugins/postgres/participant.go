package postgres

import (
	"context"
	"database/sql"
	"errors"
	"parley/internal/core/domain"
	"time"
)

type ParticipantRepo struct {
	db *sql.DB
}

func NewParticipantRepo(db *sql.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

/*
	CREATE TABLE conversation_participants (
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id         BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		last_read_at    TIMESTAMPTZ,
		PRIMARY KEY (conversation_id, user_id)
	);
*/

func (r *ParticipantRepo) FindParticipant(
	ctx context.Context,
	convID, userID int64,
) (*domain.Participant, error) {
	if convID <= 0 {
		return nil, domain.ErrConversationInvalid
	}
	exec := GetExecutor(ctx, r.db)
	var p domain.Participant
	err := exec.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, last_read_at
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, convID, userID).Scan(&p.ConversationID, &p.UserID, &p.LastReadAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *ParticipantRepo) ListParticipantIDs(ctx context.Context, convID int64) ([]int64, error) {
	if convID <= 0 {
		return nil, domain.ErrConversationInvalid
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT user_id
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY user_id
	`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ParticipantRepo) UpdateLastRead(
	ctx context.Context,
	convID, userID int64,
	at time.Time,
) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_at = $3
		WHERE conversation_id = $1 AND user_id = $2
	`, convID, userID, at)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotParticipant
	}
	return nil
}
