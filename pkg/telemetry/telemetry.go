/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package telemetry records telemetry-flagged protocol errors as OpenTelemetry
// span events.
//
// Error messages reach this package un-redacted; they are re-rendered through
// the redacting formatter before being attached to a span, so a placeholder
// value that is not marked redaction-exempt never leaves the process on the
// analytics surface. The user-facing rendering of the same message is the
// session's business, not this package's.
package telemetry

import (
	"context"

	"github.com/google/go-dap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/dapkit/dapkit/internal/dap/pii"
)

// System owns the tracer provider for the process.
type System struct {
	provider *sdktrace.TracerProvider
}

// NewSystem builds a telemetry system with the given span processors (none is
// valid: spans are then created but never exported, which keeps call sites
// uniform when telemetry is disabled).
func NewSystem(processors ...sdktrace.SpanProcessor) *System {
	var opts []sdktrace.TracerProviderOption
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &System{provider: provider}
}

// Shutdown flushes and stops the tracer provider.
func (s *System) Shutdown(ctx context.Context) {
	_ = s.provider.Shutdown(ctx)
}

// Reporter emits protocol error messages to the telemetry sink. It satisfies
// the session layer's TelemetryReporter.
func (s *System) Reporter() *Reporter {
	return NewReporter(s.provider)
}

// Reporter records telemetry-flagged error messages.
type Reporter struct {
	tracer trace.Tracer
}

// NewReporter builds a Reporter on the given provider, or on the global
// provider when nil.
func NewReporter(provider trace.TracerProvider) *Reporter {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	return &Reporter{
		tracer: provider.Tracer("github.com/dapkit/dapkit/pkg/telemetry"),
	}
}

// ReportErrorMessage records one protocol error. The message text attached to
// the span is the redacted rendering: only underscore-prefixed placeholders
// are interpolated.
func (r *Reporter) ReportErrorMessage(sessionID string, msg *dap.ErrorMessage) {
	_, span := r.tracer.Start(context.Background(), "session.error")
	defer span.End()

	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("error.id", msg.Id),
		attribute.String("error.message", pii.Format(msg.Format, true, msg.Variables)),
	)
}
