// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package errutil

import "errors"

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError describes rejected input. Message is safe to show to clients.
type ValidationError struct {
	Field   string
	Message string
}

// Invalid returns a *ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
