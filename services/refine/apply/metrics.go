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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.refine.apply")

var (
	applyTotal      metric.Int64Counter
	applyDuration   metric.Float64Histogram
	transformsTotal metric.Int64Counter
	rollbackTotal   metric.Int64Counter
	activeApplies   metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		applyTotal, err = meter.Int64Counter(
			"refine_apply_total",
			metric.WithDescription("Apply operations, by final state"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		applyDuration, err = meter.Float64Histogram(
			"refine_apply_duration_seconds",
			metric.WithDescription("Duration of apply operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transformsTotal, err = meter.Int64Counter(
			"refine_apply_transforms_total",
			metric.WithDescription("Transforms attempted, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"refine_rollback_total",
			metric.WithDescription("Rollbacks, by success"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeApplies, err = meter.Int64UpDownCounter(
			"refine_apply_active",
			metric.WithDescription("Apply operations currently running"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordApply(ctx context.Context, r *ApplyResult, duration time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("state", string(r.State)),
		attribute.Bool("dry_run", r.DryRun),
	)
	applyTotal.Add(ctx, 1, attrs)
	applyDuration.Record(ctx, duration.Seconds(), attrs)
	transformsTotal.Add(ctx, int64(len(r.Results)), metric.WithAttributes(attribute.String("outcome", "applied")))
	transformsTotal.Add(ctx, int64(len(r.Failures)), metric.WithAttributes(attribute.String("outcome", "failed")))
}

func recordRollback(ctx context.Context, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	rollbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

func incActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	activeApplies.Add(ctx, 1)
}

func decActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	activeApplies.Add(ctx, -1)
}
