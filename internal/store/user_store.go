package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/ec-platform/internal/domain/user"
)

// UserStore persists accounts for the auth and user services.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'customer',
			password_hash TEXT NOT NULL,
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

func (s *UserStore) Insert(ctx context.Context, u *user.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, password_hash, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, u.Role, u.PasswordHash, u.Active, u.CreatedAt, u.UpdatedAt,
	)
	return mapDuplicate(err, user.ErrDuplicateEmail)
}

func (s *UserStore) Update(ctx context.Context, u *user.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, name = $3, role = $4, password_hash = $5, active = $6, updated_at = $7
		WHERE id = $1`,
		u.ID, u.Email, u.Name, u.Role, u.PasswordHash, u.Active, u.UpdatedAt,
	)
	if err != nil {
		return mapDuplicate(err, user.ErrDuplicateEmail)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*user.User, error) {
	return s.getOne(ctx, `WHERE id = $1`, id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.getOne(ctx, `WHERE email = $1`, email)
}

func (s *UserStore) getOne(ctx context.Context, where string, arg any) (*user.User, error) {
	var u user.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, password_hash, active, created_at, updated_at
		FROM users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
