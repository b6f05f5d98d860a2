// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evolution

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const governanceTracerName = "aleutian.governance"

// Tracer provides OpenTelemetry tracing for governance operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with governance-specific span creation.
// When disabled, returns noop spans for zero overhead.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a governance tracer. Uses slog.Default() when logger
// is nil; when enabled is false every span is a noop.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(governanceTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartOp starts a span for one governance operation on a proposal.
// Caller must end the span via EndOp.
func (t *Tracer) StartOp(ctx context.Context, op, proposalID string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "governance."+op,
		trace.WithAttributes(
			attribute.String("governance.proposal_id", proposalID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "governance operation",
		slog.String("op", op),
		slog.String("proposal_id", proposalID),
	)
	return ctx, span
}

// EndOp completes a governance span, recording the error if any.
func (t *Tracer) EndOp(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// LoggerWithTrace returns a logger carrying trace_id and span_id when
// the context holds a valid span, for log/trace correlation.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
