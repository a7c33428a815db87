// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/keystride/keystride/internal/auth"
	"github.com/keystride/keystride/internal/observability"
	"github.com/keystride/keystride/internal/progress"
	"github.com/keystride/keystride/internal/web"
)

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]auth.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[int64]auth.User)}
}

func (m *memUsers) Create(_ context.Context, u *auth.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return 0, auth.ErrDuplicateEmail
		}
	}
	m.nextID++
	stored := *u
	stored.ID = m.nextID
	m.byID[stored.ID] = stored
	return stored.ID, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

func (m *memUsers) EmailInUse(_ context.Context, email string, exceptID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.byID {
		if u.Email == email && id != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) UpdateProfile(_ context.Context, id int64, username, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.Username, u.Email = username, email
	m.byID[id] = u
	return nil
}

func (m *memUsers) delete(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

type memProgress struct {
	mu   sync.Mutex
	rows map[int64]progress.Record
}

func (m *memProgress) Get(_ context.Context, userID int64) (*progress.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[userID]
	if !ok {
		return nil, progress.ErrNotFound
	}
	return &rec, nil
}

func (m *memProgress) Insert(_ context.Context, rec *progress.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[rec.UserID]; ok {
		return progress.ErrConflict
	}
	m.rows[rec.UserID] = *rec
	return nil
}

func (m *memProgress) Update(_ context.Context, rec *progress.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[rec.UserID]; !ok {
		return progress.ErrNotFound
	}
	m.rows[rec.UserID] = *rec
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type api struct {
	handler http.Handler
	clock   *clock
	users   *memUsers
	metrics *observability.Metrics
}

const testSecret = "test-secret"

func newAPI(t *testing.T) *api {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := auth.NewTokenService(testSecret, auth.WithClock(clk.Now))
	require.NoError(t, err)

	users := newMemUsers()
	authSvc, err := auth.NewService(users, auth.NewBcryptHasher(4), tokens, logger)
	require.NoError(t, err)

	progressSvc, err := progress.NewService(&memProgress{rows: make(map[int64]progress.Record)},
		progress.WithClock(clk.Now), progress.WithLogger(logger))
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	handler := web.NewRouter(web.Params{
		Auth:     authSvc,
		Progress: progressSvc,
		Guard:    auth.NewGuard(tokens),
		Metrics:  metrics,
		Logger:   logger,
	})
	return &api{handler: handler, clock: clk, users: users, metrics: metrics}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (a *api) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return rec, resp
}

func decodeData[T any](t *testing.T, resp response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

type registered struct {
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
	Token   string `json:"token"`
}

func (a *api) register(t *testing.T, username, email, password string) registered {
	t.Helper()
	rec, resp := a.do(t, http.MethodPost, "/api/users/register", "", map[string]any{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "register failed: %s", resp.Error)
	return decodeData[registered](t, resp)
}
