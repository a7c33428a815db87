// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/keystride/keystride/internal/auth"
	"github.com/keystride/keystride/internal/observability"
	"github.com/keystride/keystride/internal/progress"
	"github.com/keystride/keystride/pkg/errutil"
)

// AuthService is the account API used by the handlers.
type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*auth.Registration, error)
	Login(ctx context.Context, email, password string) (string, error)
	Profile(ctx context.Context, userID int64) (*auth.Profile, error)
	UpdateProfile(ctx context.Context, userID int64, username, email string) error
}

// ProgressService is the progress API used by the handlers.
type ProgressService interface {
	Read(ctx context.Context, userID int64) (*progress.Record, error)
	Upsert(ctx context.Context, userID int64, in progress.UpsertInput) (progress.Outcome, error)
}

// Fallback messages for unexpected failures, per route.
const (
	msgRegisterFailed       = "failed to register user"
	msgLoginFailed          = "failed to log in"
	msgGetUserFailed        = "failed to fetch user data"
	msgUpdateUserFailed     = "failed to update user data"
	msgGetProgressFailed    = "failed to fetch user progress"
	msgUpdateProgressFailed = "failed to update user progress"
)

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
	Token   string `json:"token"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

type profileRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

type profileResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// progressRequest uses pointers so absent and null fields stay nil.
type progressRequest struct {
	CurrentLevel *int     `json:"currentLevel"`
	BadgesEarned []string `json:"badgesEarned"`
	WPM          *float64 `json:"wpm"`
}

type progressResponse struct {
	CurrentLevel int       `json:"currentLevel"`
	BadgesEarned []string  `json:"badgesEarned"`
	WPM          float64   `json:"wpm"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type handlers struct {
	auth     AuthService
	progress ProgressService
	metrics  *observability.Metrics
	logger   *slog.Logger
	validate *validator.Validate
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so messages match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs struct validation and converts failures to a ValidationError.
// Missing fields are reported together, mirroring the service layer.
func (h *handlers) check(req any) error {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return oops.Code("REQUEST_INVALID").Wrap(err)
	}

	var missing []string
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		}
	}
	if len(missing) > 0 {
		return oops.Code("REQUEST_INVALID").
			Wrap(errutil.Invalid(missing[0], strings.Join(missing, ", ")+" required"))
	}

	fe := fieldErrs[0]
	msg := fe.Field() + " is invalid"
	if fe.Tag() == "email" {
		msg = fe.Field() + " must be a valid email address"
	}
	return oops.Code("REQUEST_INVALID").Wrap(errutil.Invalid(fe.Field(), msg))
}

// outcome is the metrics label for err.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := errutil.Code(err); code != "" {
		return code
	}
	return "error"
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, h.logger, err, msgRegisterFailed)
		return
	}
	if err := h.check(req); err != nil {
		fail(w, r, h.logger, err, msgRegisterFailed)
		return
	}

	reg, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	h.metrics.AuthEvent(observability.EventRegister, outcome(err))
	if err != nil {
		fail(w, r, h.logger, err, msgRegisterFailed)
		return
	}

	writeData(w, http.StatusCreated, registerResponse{
		Message: "user registered successfully",
		UserID:  reg.UserID,
		Token:   reg.Token,
	})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, h.logger, err, msgLoginFailed)
		return
	}
	if err := h.check(req); err != nil {
		fail(w, r, h.logger, err, msgLoginFailed)
		return
	}

	token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	h.metrics.AuthEvent(observability.EventLogin, outcome(err))
	if err != nil {
		fail(w, r, h.logger, err, msgLoginFailed)
		return
	}

	writeData(w, http.StatusOK, loginResponse{Message: "login successful", Token: token})
}

// userID reads the id stored by requireAuth.
func userID(r *http.Request) (int64, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return 0, oops.Code("AUTH_MISSING_TOKEN").Wrap(auth.ErrMissingToken)
	}
	return id, nil
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		fail(w, r, h.logger, err, msgGetUserFailed)
		return
	}

	profile, err := h.auth.Profile(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, err, msgGetUserFailed)
		return
	}

	writeData(w, http.StatusOK, profileResponse{Username: profile.Username, Email: profile.Email})
}

func (h *handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		fail(w, r, h.logger, err, msgUpdateUserFailed)
		return
	}

	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, h.logger, err, msgUpdateUserFailed)
		return
	}
	if err := h.check(req); err != nil {
		fail(w, r, h.logger, err, msgUpdateUserFailed)
		return
	}

	err = h.auth.UpdateProfile(r.Context(), id, req.Username, req.Email)
	h.metrics.AuthEvent(observability.EventProfileUpdate, outcome(err))
	if err != nil {
		fail(w, r, h.logger, err, msgUpdateUserFailed)
		return
	}

	writeData(w, http.StatusOK, messageResponse{Message: "profile updated successfully"})
}

func (h *handlers) getProgress(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		fail(w, r, h.logger, err, msgGetProgressFailed)
		return
	}

	rec, err := h.progress.Read(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, err, msgGetProgressFailed)
		return
	}

	badges := rec.BadgesEarned
	if badges == nil {
		badges = []string{}
	}
	writeData(w, http.StatusOK, progressResponse{
		CurrentLevel: rec.CurrentLevel,
		BadgesEarned: badges,
		WPM:          rec.WPM,
		LastUpdated:  rec.LastUpdated,
	})
}

func (h *handlers) postProgress(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		fail(w, r, h.logger, err, msgUpdateProgressFailed)
		return
	}

	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, h.logger, err, msgUpdateProgressFailed)
		return
	}

	result, err := h.progress.Upsert(r.Context(), id, progress.UpsertInput{
		CurrentLevel: req.CurrentLevel,
		BadgesEarned: req.BadgesEarned,
		WPM:          req.WPM,
	})
	if err != nil {
		h.metrics.ProgressWrite(outcome(err))
		fail(w, r, h.logger, err, msgUpdateProgressFailed)
		return
	}
	h.metrics.ProgressWrite(result.String())

	if result == progress.Created {
		writeData(w, http.StatusCreated, messageResponse{Message: "progress created successfully"})
		return
	}
	writeData(w, http.StatusOK, messageResponse{Message: "progress updated successfully"})
}
