// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InstallPropagators makes the process honor W3C traceparent and baggage
// headers. Without an SDK tracer provider no spans are exported, but the
// incoming trace id still reaches request contexts and therefore the logs.
func InstallPropagators() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}
