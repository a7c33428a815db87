// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/keystride/keystride/internal/auth"
	"github.com/keystride/keystride/internal/progress"
	"github.com/keystride/keystride/pkg/errutil"
)

const maxBodyBytes = 1 << 20

// envelope wraps every response body.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client-facing messages for the error taxonomy.
const (
	msgMissingToken       = "token not provided"
	msgUnauthorized       = "invalid or expired token"
	msgDuplicateEmail     = "email is already registered"
	msgUserNotFound       = "user not found"
	msgInvalidCredentials = "incorrect password"
	msgProgressNotFound   = "progress not found"
	msgMalformedBody      = "request body must be a JSON object"
)

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errutil.ErrValidation), errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, progress.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-safe message for err. Anything outside the
// taxonomy gets fallback so internal details never leak.
func messageFor(err error, fallback string) string {
	var verr *errutil.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	switch {
	case errors.Is(err, auth.ErrDuplicateEmail):
		return msgDuplicateEmail
	case errors.Is(err, auth.ErrMissingToken):
		return msgMissingToken
	case errors.Is(err, auth.ErrUnauthorized):
		return msgUnauthorized
	case errors.Is(err, auth.ErrInvalidCredentials):
		return msgInvalidCredentials
	case errors.Is(err, auth.ErrUserNotFound):
		return msgUserNotFound
	case errors.Is(err, progress.ErrNotFound):
		return msgProgressNotFound
	}
	return fallback
}

// fail writes the envelope for err. Server faults are logged with their
// code and context; client errors only at debug.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, fallback string) {
	status := statusFor(err)
	ctx := r.Context()
	logger = logger.With("request_id", RequestID(ctx))
	if status >= http.StatusInternalServerError {
		errutil.LogError(ctx, logger, fallback, err)
	} else {
		logger.DebugContext(ctx, "request rejected", "status", status, "code", errutil.Code(err))
	}
	writeMessage(w, status, messageFor(err, fallback))
}

// decodeJSON reads a JSON object into dst. An empty body decodes as {}.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return oops.Code("REQUEST_MALFORMED").
			With("decode_error", err.Error()).
			Wrap(errutil.Invalid("body", msgMalformedBody))
	}
	return nil
}
