package postgres

import (
	"context"
	"database/sql"
	"parley/internal/core/domain"
	"time"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

/*
	CREATE TABLE conversations (
		id              BIGSERIAL PRIMARY KEY,
		last_message_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);
*/

func (r *ConversationRepo) TouchLastMessageAt(ctx context.Context, convID int64, at time.Time) error {
	query := `UPDATE conversations SET last_message_at = $2 WHERE id = $1`
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, convID, at)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrConversationInvalid
	}
	return nil
}
