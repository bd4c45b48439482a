package postgres

import (
	"context"
	"database/sql"
	"errors"
	"parley/internal/core/domain"
	"time"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{
		db: db,
	}
}

/*
	CREATE TABLE messages (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id       BIGINT NOT NULL REFERENCES users(id),
		content         TEXT   NOT NULL DEFAULT '',
		type            TEXT   NOT NULL DEFAULT 'text',
		media_url       TEXT,
		reply_to_id     BIGINT REFERENCES messages(id) ON DELETE SET NULL,
		status          TEXT   NOT NULL DEFAULT 'sent',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX messages_conversation_created_idx ON messages (conversation_id, created_at DESC);
*/

const messageColumns = `
	m.id, m.conversation_id, m.sender_id, m.content, m.type, m.media_url,
	m.reply_to_id, m.status, m.created_at, m.updated_at,
	u.username, u.avatar,
	r.id, r.content, r.sender_id, r.type
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	LEFT JOIN messages r ON r.id = m.reply_to_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var (
		m          domain.Message
		sender     domain.UserProfile
		replyID    sql.NullInt64
		replyBody  sql.NullString
		replyFrom  sql.NullInt64
		replyType  sql.NullString
		replyToID  sql.NullInt64
		mediaURL   sql.NullString
		avatar     sql.NullString
		statusText string
	)
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Content,
		&m.Type,
		&mediaURL,
		&replyToID,
		&statusText,
		&m.CreatedAt,
		&m.UpdatedAt,
		&sender.Username,
		&avatar,
		&replyID,
		&replyBody,
		&replyFrom,
		&replyType,
	)
	if err != nil {
		return domain.Message{}, err
	}
	m.Status = domain.MessageStatus(statusText)
	if mediaURL.Valid {
		m.MediaURL = &mediaURL.String
	}
	if replyToID.Valid {
		m.ReplyToID = &replyToID.Int64
	}
	if avatar.Valid {
		sender.Avatar = &avatar.String
	}
	sender.ID = m.SenderID
	m.Sender = &sender
	if replyID.Valid {
		m.ReplyTo = &domain.ReplyPreview{
			ID:       replyID.Int64,
			Content:  replyBody.String,
			SenderID: replyFrom.Int64,
			Type:     replyType.String,
		}
	}
	return m, nil
}

// CreateMessage inserts the message and returns the stored row with sender
// and reply preview attached.
func (r *MessageRepo) CreateMessage(
	ctx context.Context,
	in *domain.NewMessage,
) (*domain.Message, error) {
	if in.ConversationID <= 0 {
		return nil, domain.ErrConversationInvalid
	}
	exec := GetExecutor(ctx, r.db)
	var id int64
	err := exec.QueryRowContext(ctx, `
		INSERT INTO messages (
			conversation_id, sender_id, content, type, media_url, reply_to_id, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		in.ConversationID,
		in.SenderID,
		in.Content,
		in.Type,
		in.MediaURL,
		in.ReplyToID,
		string(domain.MessageSent),
	).Scan(&id)
	if err != nil {
		return nil, err
	}
	m, err := scanMessage(exec.QueryRowContext(ctx, `SELECT `+messageColumns+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepo) ListMessages(
	ctx context.Context,
	convID int64,
	before *time.Time,
	limit int,
) ([]domain.Message, error) {
	if convID <= 0 {
		return nil, domain.ErrConversationInvalid
	}
	exec := GetExecutor(ctx, r.db)
	var (
		rows *sql.Rows
		err  error
	)
	if before != nil {
		rows, err = exec.QueryContext(ctx, `SELECT `+messageColumns+`
			WHERE m.conversation_id = $1 AND m.created_at < $2
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $3
		`, convID, *before, limit)
	} else {
		rows, err = exec.QueryContext(ctx, `SELECT `+messageColumns+`
			WHERE m.conversation_id = $1
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $2
		`, convID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs := make([]domain.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *MessageRepo) UpdateStatus(
	ctx context.Context,
	convID int64,
	ids []int64,
	excludeSender int64,
	status domain.MessageStatus,
) error {
	if len(ids) == 0 {
		return nil
	}
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		UPDATE messages
		SET status = $3, updated_at = now()
		WHERE conversation_id = $1
		  AND id = ANY($2)
		  AND sender_id <> $4
	`, convID, ids, string(status), excludeSender)
	return err
}

func (r *MessageRepo) ListAuthors(
	ctx context.Context,
	convID int64,
	ids []int64,
) ([]domain.MessageAuthor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT id, sender_id
		FROM messages
		WHERE conversation_id = $1 AND id = ANY($2)
		ORDER BY id
	`, convID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MessageAuthor
	for rows.Next() {
		var a domain.MessageAuthor
		if err := rows.Scan(&a.MessageID, &a.SenderID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
