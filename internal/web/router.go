// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package web serves the Keystride JSON API under /api/users.
package web

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keystride/keystride/internal/observability"
)

// BasePath is where the user routes are mounted.
const BasePath = "/api/users"

// Params groups the router dependencies. Metrics may be nil.
type Params struct {
	Auth     AuthService
	Progress ProgressService
	Guard    Authenticator
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// NewRouter builds the API handler.
func NewRouter(p Params) http.Handler {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{
		auth:     p.Auth,
		progress: p.Progress,
		metrics:  p.Metrics,
		logger:   logger,
		validate: newValidator(),
	}

	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		requestID,
		accessLog(logger),
		instrument(p.Metrics),
		chimw.Recoverer,
		secureHeaders(),
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(p.Guard, p.Metrics, logger))
			r.Get("/user", h.getUser)
			r.Put("/user", h.updateUser)
			r.Get("/userprogress", h.getProgress)
			r.Post("/userprogress", h.postProgress)
		})
	})

	return otelhttp.NewHandler(r, "keystride.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
