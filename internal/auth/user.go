// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/keystride/keystride/pkg/errutil"
)

// User is a Keystride account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// UserRepository persists accounts.
type UserRepository interface {
	// Create inserts u and returns the store-assigned id.
	// Returns ErrDuplicateEmail if the email is already in use.
	Create(ctx context.Context, u *User) (int64, error)

	// GetByEmail returns the account with the exact email.
	// Returns ErrUserNotFound if none exists.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID returns the account with id.
	// Returns ErrUserNotFound if none exists.
	GetByID(ctx context.Context, id int64) (*User, error)

	// EmailInUse reports whether an account other than exceptID holds email.
	// Pass 0 for exceptID to check every account.
	EmailInUse(ctx context.Context, email string, exceptID int64) (bool, error)

	// UpdateProfile overwrites username and email of account id.
	// Returns ErrUserNotFound if no row was updated and ErrDuplicateEmail on a unique violation.
	UpdateProfile(ctx context.Context, id int64, username, email string) error
}

// requireFields returns a validation error naming the first blank field.
// fields alternates name and value.
func requireFields(fields ...string) error {
	var missing []string
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			missing = append(missing, fields[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errutil.Invalid(missing[0], strings.Join(missing, ", ")+" required")
}
