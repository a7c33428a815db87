// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package errutil holds helpers for working with oops coded errors.
package errutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the oops code carried by err, or "" when there is none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code := oopsErr.Code()
	if code == nil {
		return ""
	}
	return fmt.Sprint(code)
}

// LogError logs err at error level. Code and context of oops errors are
// emitted as separate attributes.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(ctx, msg, errorAttrs(err)...)
}

// LogWarn is LogError at warn level, for failures the caller recovered from.
func LogWarn(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.WarnContext(ctx, msg, errorAttrs(err)...)
}

func errorAttrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if kv := oopsErr.Context(); len(kv) > 0 {
		attrs = append(attrs, "context", kv)
	}
	return attrs
}
