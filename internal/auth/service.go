// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/oops"

	"github.com/keystride/keystride/pkg/errutil"
)

// dummyPasswordHash is verified when the email is unknown so both login
// failures cost one bcrypt comparison. It matches no password.
//
//nolint:gosec // G101: not a credential
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIvNq.Uf3hE9tQALNP1Qn9sNp5x5x5x5"

// TokenIssuer issues session tokens.
type TokenIssuer interface {
	Issue(userID int64) (string, error)
}

// Registration is the result of a successful Register.
type Registration struct {
	UserID int64
	Token  string
}

// Profile is the public view of an account.
type Profile struct {
	Username string
	Email    string
}

// Service orchestrates registration, login and profile changes.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	tokens TokenIssuer
	logger *slog.Logger
}

// NewService creates a Service. All dependencies are required; logger
// defaults to slog.Default().
func NewService(users UserRepository, hasher PasswordHasher, tokens TokenIssuer, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, hasher: hasher, tokens: tokens, logger: logger}, nil
}

// Register creates an account and returns its id with a fresh token.
func (s *Service) Register(ctx context.Context, username, email, password string) (*Registration, error) {
	if err := requireFields("username", username, "email", email, "password", password); err != nil {
		return nil, oops.Code("AUTH_VALIDATION").Wrap(err)
	}
	if len(password) > MaxPasswordBytes {
		return nil, oops.Code("AUTH_VALIDATION").
			With("password_bytes", len(password)).
			Wrap(errutil.Invalid("password", fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes)))
	}

	taken, err := s.users.EmailInUse(ctx, email, 0)
	if err != nil {
		return nil, persistence("check email", err)
	}
	if taken {
		return nil, oops.Code("AUTH_DUPLICATE_EMAIL").With("email", email).Wrap(ErrDuplicateEmail)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	userID, err := s.users.Create(ctx, &User{Username: username, Email: email, PasswordHash: hash})
	if err != nil {
		// A concurrent registration can still win between the check and the insert.
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code("AUTH_DUPLICATE_EMAIL").With("email", email).Wrap(err)
		}
		return nil, persistence("create user", err)
	}

	token, err := s.tokens.Issue(userID)
	if err != nil {
		return nil, oops.With("operation", "issue token", "user_id", userID).Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", userID)
	return &Registration{UserID: userID, Token: token}, nil
}

// Login checks the password for email and returns a fresh token.
// An unknown email fails with ErrUserNotFound and a wrong password with
// ErrInvalidCredentials. Both paths run one hash comparison.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	if err := requireFields("email", email, "password", password); err != nil {
		return "", oops.Code("AUTH_VALIDATION").Wrap(err)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			//nolint:errcheck // result is discarded; the call only equalizes cost
			_, _ = s.hasher.Verify(password, dummyPasswordHash)
			s.logger.InfoContext(ctx, "login rejected", "reason", "unknown email")
			return "", oops.Code("AUTH_USER_NOT_FOUND").Wrap(err)
		}
		return "", persistence("get user by email", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return "", oops.With("operation", "verify password", "user_id", user.ID).Wrap(err)
	}
	if !ok {
		s.logger.InfoContext(ctx, "login rejected", "reason", "wrong password", "user_id", user.ID)
		return "", oops.Code("AUTH_INVALID_CREDENTIALS").With("user_id", user.ID).Wrap(ErrInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", oops.With("operation", "issue token", "user_id", user.ID).Wrap(err)
	}
	return token, nil
}

// Profile returns the username and email of userID.
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").With("user_id", userID).Wrap(err)
		}
		return nil, persistence("get user by id", err)
	}
	return &Profile{Username: user.Username, Email: user.Email}, nil
}

// UpdateProfile changes username and email of userID. The password is
// never touched. The email must not belong to another account.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, username, email string) error {
	if err := requireFields("username", username, "email", email); err != nil {
		return oops.Code("AUTH_VALIDATION").Wrap(err)
	}

	taken, err := s.users.EmailInUse(ctx, email, userID)
	if err != nil {
		return persistence("check email", err)
	}
	if taken {
		return oops.Code("AUTH_DUPLICATE_EMAIL").With("email", email, "user_id", userID).Wrap(ErrDuplicateEmail)
	}

	if err := s.users.UpdateProfile(ctx, userID, username, email); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			return oops.Code("AUTH_DUPLICATE_EMAIL").With("email", email, "user_id", userID).Wrap(err)
		case errors.Is(err, ErrUserNotFound):
			return oops.Code("AUTH_USER_NOT_FOUND").With("user_id", userID).Wrap(err)
		}
		return persistence("update profile", err)
	}

	s.logger.InfoContext(ctx, "profile updated", "user_id", userID)
	return nil
}

// persistence marks err as a store failure while keeping its chain.
func persistence(operation string, err error) error {
	return oops.Code("AUTH_PERSISTENCE").
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrPersistence, err))
}
