// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package mocks provides testify mocks of the auth interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/keystride/keystride/internal/auth"
)

// MockUserRepository is a mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a mock that asserts its expectations on cleanup.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockUserRepository {
	m := &MockUserRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockUserRepository) Create(ctx context.Context, u *auth.User) (int64, error) {
	args := m.Called(ctx, u)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserRepository) EmailInUse(ctx context.Context, email string, exceptID int64) (bool, error) {
	args := m.Called(ctx, email, exceptID)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepository) UpdateProfile(ctx context.Context, id int64, username, email string) error {
	args := m.Called(ctx, id, username, email)
	return args.Error(0)
}

var _ auth.UserRepository = (*MockUserRepository)(nil)
