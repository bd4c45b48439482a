package postgres

import (
	"context"
	"database/sql"
)

type RelationshipRepo struct {
	db *sql.DB
}

func NewRelationshipRepo(db *sql.DB) *RelationshipRepo {
	return &RelationshipRepo{db: db}
}

/*
	CREATE TABLE friendships (
		initiator_id BIGINT NOT NULL REFERENCES users(id),
		receiver_id  BIGINT NOT NULL REFERENCES users(id),
		status       TEXT   NOT NULL, -- pending | accepted | rejected
		PRIMARY KEY (initiator_id, receiver_id)
	);

	CREATE TABLE group_members (
		group_id BIGINT NOT NULL,
		user_id  BIGINT NOT NULL REFERENCES users(id),
		PRIMARY KEY (group_id, user_id)
	);
*/

// CanContact is true when the users are accepted friends in either direction
// or both belong to at least one group.
func (r *RelationshipRepo) CanContact(ctx context.Context, userA, userB int64) (bool, error) {
	if userA == userB {
		return false, nil
	}
	exec := GetExecutor(ctx, r.db)
	var ok bool
	err := exec.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE status = 'accepted'
			  AND ((initiator_id = $1 AND receiver_id = $2)
			    OR (initiator_id = $2 AND receiver_id = $1))
		) OR EXISTS (
			SELECT 1
			FROM group_members a
			JOIN group_members b ON b.group_id = a.group_id
			WHERE a.user_id = $1 AND b.user_id = $2
		)
	`, userA, userB).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}
