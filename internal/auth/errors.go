// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package auth

import "errors"

var (
	// ErrDuplicateEmail is returned when the email belongs to another account.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrUserNotFound is returned when no account matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing token")
	// ErrUnauthorized is the single client-facing outcome for bad or expired tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidToken is returned for malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for well-signed tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrPersistence wraps unexpected failures of the user store.
	ErrPersistence = errors.New("persistence failure")
)
