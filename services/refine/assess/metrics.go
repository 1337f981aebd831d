// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assess

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.refine.assess")

var (
	assessTotal      metric.Int64Counter
	assessDuration   metric.Float64Histogram
	detectorDuration metric.Float64Histogram
	detectorFailures metric.Int64Counter
	findingsTotal    metric.Int64Counter

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

		assessTotal, err = meter.Int64Counter(
			"refine_assess_total",
			metric.WithDescription("Total number of assessments run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		assessDuration, err = meter.Float64Histogram(
			"refine_assess_duration_seconds",
			metric.WithDescription("Duration of whole assessments in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		detectorDuration, err = meter.Float64Histogram(
			"refine_detector_duration_seconds",
			metric.WithDescription("Duration of single detector runs in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		detectorFailures, err = meter.Int64Counter(
			"refine_detector_failures_total",
			metric.WithDescription("Detector runs that failed, panicked or timed out"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		findingsTotal, err = meter.Int64Counter(
			"refine_findings_total",
			metric.WithDescription("Findings emitted, by detector"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordDetector(ctx context.Context, r DetectorResult) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("detector", r.ID))
	detectorDuration.Record(ctx, r.Duration.Seconds(), attrs)
	if r.Err != nil {
		reason := "error"
		if r.TimedOut {
			reason = "timeout"
		}
		detectorFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("detector", r.ID),
			attribute.String("reason", reason),
		))
		return
	}
	findingsTotal.Add(ctx, int64(len(r.Findings)), attrs)
}

func recordAssess(ctx context.Context, duration time.Duration, failures int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "complete"
	if failures > 0 {
		status = "partial"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	assessTotal.Add(ctx, 1, attrs)
	assessDuration.Record(ctx, duration.Seconds(), attrs)
}
