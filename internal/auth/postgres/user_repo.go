// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package postgres implements auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/keystride/keystride/internal/auth"
	"github.com/keystride/keystride/internal/store"
)

// emailConstraint is the unique constraint on users.email.
const emailConstraint = "users_email_key"

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db store.Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db store.Querier) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user and returns the generated user_id.
func (r *UserRepository) Create(ctx context.Context, u *auth.User) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING user_id
	`, u.Username, u.Email, u.PasswordHash).Scan(&id)
	if store.IsUniqueViolation(err, emailConstraint) {
		return 0, oops.Code("USER_DUPLICATE_EMAIL").
			With("email", u.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return 0, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", u.Username).
			Wrap(err)
	}
	return id, nil
}

// GetByEmail retrieves a user by exact email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT user_id, username, email, password_hash, created_at
		FROM users
		WHERE email = $1
	`, email)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrUserNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return u, nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT user_id, username, email, password_hash, created_at
		FROM users
		WHERE user_id = $1
	`, id)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("user_id", id).
			Wrap(auth.ErrUserNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("user_id", id).
			Wrap(err)
	}
	return u, nil
}

// EmailInUse reports whether a user other than exceptID holds email.
func (r *UserRepository) EmailInUse(ctx context.Context, email string, exceptID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE email = $1 AND user_id <> $2
		)
	`, email, exceptID).Scan(&exists)
	if err != nil {
		return false, oops.Code("USER_EMAIL_CHECK_FAILED").
			With("operation", "check email").
			Wrap(err)
	}
	return exists, nil
}

// UpdateProfile overwrites username and email. The password hash is left as is.
func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, username, email string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET username = $1, email = $2
		WHERE user_id = $3
	`, username, email, id)
	if store.IsUniqueViolation(err, emailConstraint) {
		return oops.Code("USER_DUPLICATE_EMAIL").
			With("email", email).
			With("user_id", id).
			Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update profile").
			With("user_id", id).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id).
			Wrap(auth.ErrUserNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		//nolint:wrapcheck // callers classify pgx.ErrNoRows
		return nil, err
	}
	return &u, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
