// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// DefaultTokenTTL is the lifetime of an issued token.
const DefaultTokenTTL = time.Hour

// Claims is the JWT payload. userId matches the wire name clients already read.
type Claims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 session tokens.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService creates a TokenService signing with secret.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if secret == "" {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("token signing secret is required")
	}
	s := &TokenService{
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue returns a signed token for userID valid for TTL from now.
func (s *TokenService) Issue(userID int64) (string, error) {
	issuedAt := s.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("user_id", userID).Wrap(err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its user id.
// Failures wrap ErrExpiredToken or ErrInvalidToken.
func (s *TokenService) Verify(token string) (int64, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, oops.Code("TOKEN_EXPIRED").Wrap(ErrExpiredToken)
		}
		return 0, oops.Code("TOKEN_INVALID").With("reason", err.Error()).Wrap(ErrInvalidToken)
	}
	if claims.UserID <= 0 {
		return 0, oops.Code("TOKEN_INVALID").With("reason", "missing userId claim").Wrap(ErrInvalidToken)
	}
	return claims.UserID, nil
}
