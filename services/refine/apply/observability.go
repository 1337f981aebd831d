// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apply

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const applyTracerName = "aleutian.refine.apply"

// Tracer creates spans for apply operations. When disabled it returns
// noop spans.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a tracer. A nil logger uses slog.Default().
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(applyTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartApply starts the span of one apply request.
func (t *Tracer) StartApply(ctx context.Context, projectID, planID string, selected int, dryRun bool) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "refine.apply",
		trace.WithAttributes(
			attribute.String("refine.project_id", projectID),
			attribute.String("refine.plan_id", planID),
			attribute.Int("refine.selected", selected),
			attribute.Bool("refine.dry_run", dryRun),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndApply completes an apply span.
func (t *Tracer) EndApply(span trace.Span, result *ApplyResult, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if result == nil {
		return
	}
	span.SetAttributes(
		attribute.String("refine.state", string(result.State)),
		attribute.String("refine.backup_id", result.BackupID),
		attribute.Int("refine.applied", len(result.Results)),
		attribute.Int("refine.failed", len(result.Failures)),
	)
	if result.State == StateVerificationFailed {
		span.SetStatus(codes.Error, "verification failed")
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartTransform starts the span of one transform inside an apply.
func (t *Tracer) StartTransform(ctx context.Context, transformID, kind string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "refine.apply.transform",
		trace.WithAttributes(
			attribute.String("refine.transform_id", transformID),
			attribute.String("refine.kind", kind),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndTransform completes a transform span.
func (t *Tracer) EndTransform(span trace.Span, err error) {
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

// StartRollback starts a rollback span.
func (t *Tracer) StartRollback(ctx context.Context, backupID, reason string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	t.logger.DebugContext(ctx, "rolling back", slog.String("backup_id", backupID), slog.String("reason", reason))
	return t.tracer.Start(ctx, "refine.rollback",
		trace.WithAttributes(
			attribute.String("refine.backup_id", backupID),
			attribute.String("refine.reason", reason),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRollback completes a rollback span.
func (t *Tracer) EndRollback(span trace.Span, result *RollbackResult, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if result != nil {
		span.SetAttributes(
			attribute.Int("refine.restored", len(result.Restored)),
			attribute.Int("refine.removed", len(result.Removed)),
		)
	}
	span.SetStatus(codes.Ok, "")
}
