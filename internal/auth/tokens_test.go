// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystride/keystride/internal/auth"
	"github.com/keystride/keystride/pkg/errutil"
)

// fakeClock is a settable time source for token tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func newTokenService(t *testing.T, clock *fakeClock, opts ...auth.TokenOption) *auth.TokenService {
	t.Helper()
	opts = append(opts, auth.WithClock(clock.Now))
	svc, err := auth.NewTokenService("test-secret", opts...)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	svc, err := auth.NewTokenService("")
	require.Error(t, err)
	assert.Nil(t, svc)
	errutil.AssertErrorCode(t, err, "AUTH_CONFIG_INVALID")
}

func TestTokenService_TTL(t *testing.T) {
	clock := newClock()
	assert.Equal(t, time.Hour, newTokenService(t, clock).TTL())
	assert.Equal(t, 5*time.Minute, newTokenService(t, clock, auth.WithTokenTTL(5*time.Minute)).TTL())
	assert.Equal(t, time.Hour, newTokenService(t, clock, auth.WithTokenTTL(-time.Second)).TTL())
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	clock := newClock()
	svc := newTokenService(t, clock)

	token, err := svc.Issue(42)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	userID, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenService_ClaimsCarryUserIDAndWindow(t *testing.T) {
	clock := newClock()
	svc := newTokenService(t, clock)

	token, err := svc.Issue(7)
	require.NoError(t, err)

	claims := &auth.Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.True(t, clock.Now().Equal(claims.IssuedAt.Time))
	assert.True(t, clock.Now().Add(time.Hour).Equal(claims.ExpiresAt.Time))
}

func TestTokenService_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{name: "valid just after issue", advance: time.Second},
		{name: "valid one second before expiry", advance: time.Hour - time.Second},
		{name: "expired exactly at expiry", advance: time.Hour, wantErr: auth.ErrExpiredToken},
		{name: "expired long after", advance: 48 * time.Hour, wantErr: auth.ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			svc := newTokenService(t, clock)

			token, err := svc.Issue(1)
			require.NoError(t, err)

			clock.Advance(tt.advance)
			userID, err := svc.Verify(token)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, int64(1), userID)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			errutil.AssertErrorCode(t, err, "TOKEN_EXPIRED")
			assert.Zero(t, userID)
		})
	}
}

func TestTokenService_RejectsInvalidTokens(t *testing.T) {
	clock := newClock()
	svc := newTokenService(t, clock)

	other, err := auth.NewTokenService("another-secret", auth.WithClock(clock.Now))
	require.NoError(t, err)
	foreign, err := other.Issue(1)
	require.NoError(t, err)

	valid, err := svc.Issue(1)
	require.NoError(t, err)
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{UserID: 1}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.token"},
		{name: "signed with another secret", token: foreign},
		{name: "tampered payload", token: tampered},
		{name: "alg none", token: noneToken},
		{name: "missing user id", token: noUser},
		{name: "missing expiry", token: noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := svc.Verify(tt.token)
			require.ErrorIs(t, err, auth.ErrInvalidToken)
			assert.NotErrorIs(t, err, auth.ErrExpiredToken)
			errutil.AssertErrorCode(t, err, "TOKEN_INVALID")
			assert.Zero(t, userID)
		})
	}
}
