package postgres

import (
	"context"
	"database/sql"
	"errors"
	"parley/internal/core/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

/*
	CREATE TABLE users (
		id         BIGSERIAL PRIMARY KEY,
		username   TEXT NOT NULL,
		avatar     TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
*/

func (r *UserRepo) GetProfile(ctx context.Context, userID int64) (*domain.UserProfile, error) {
	if userID <= 0 {
		return nil, domain.ErrUserNotFound
	}
	user := &domain.UserProfile{ID: userID}
	query := `SELECT username, avatar FROM users WHERE id = $1`
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, query, userID).Scan(&user.Username, &user.Avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}
