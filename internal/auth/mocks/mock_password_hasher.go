// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/keystride/keystride/internal/auth"
)

// MockPasswordHasher is a mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

var _ auth.PasswordHasher = (*MockPasswordHasher)(nil)

// MockTokenIssuer is a mock of auth.TokenIssuer.
type MockTokenIssuer struct {
	mock.Mock
}

// NewMockTokenIssuer creates a mock that asserts its expectations on cleanup.
func NewMockTokenIssuer(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTokenIssuer {
	m := &MockTokenIssuer{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockTokenIssuer) Issue(userID int64) (string, error) {
	args := m.Called(userID)
	return args.String(0), args.Error(1)
}

var _ auth.TokenIssuer = (*MockTokenIssuer)(nil)
