// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// TokenVerifier verifies session tokens.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Guard authenticates requests from their Authorization header.
// It performs no store I/O.
type Guard struct {
	tokens TokenVerifier
}

// NewGuard creates a Guard over tokens.
func NewGuard(tokens TokenVerifier) *Guard {
	return &Guard{tokens: tokens}
}

// Authenticate returns the user id carried by a "Bearer <token>" header value.
// A missing header, another scheme or an empty token fails with ErrMissingToken.
// Invalid and expired tokens both fail with ErrUnauthorized.
func (g *Guard) Authenticate(authorization string) (int64, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return 0, oops.Code("AUTH_MISSING_TOKEN").Wrap(ErrMissingToken)
	}

	userID, err := g.tokens.Verify(token)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, ErrExpiredToken) {
			reason = "expired"
		}
		// The cause is kept out of the chain so callers cannot tell the two apart.
		return 0, oops.Code("AUTH_UNAUTHORIZED").With("reason", reason).Wrap(ErrUnauthorized)
	}
	return userID, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type userIDKey struct{}

// ContextWithUserID returns a copy of ctx carrying the authenticated user id.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user id stored by ContextWithUserID.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey{}).(int64)
	return userID, ok
}
