// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for impact analysis.
var (
	tracer = otel.Tracer("aleutian.refine.impact")
	meter  = otel.Meter("aleutian.refine.impact")
)

var (
	analysisLatency metric.Float64Histogram
	analysisTotal   metric.Int64Counter
	impactedFiles   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analysisLatency, err = meter.Float64Histogram(
			"refine_impact_duration_seconds",
			metric.WithDescription("Duration of impact analyses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysisTotal, err = meter.Int64Counter(
			"refine_impact_total",
			metric.WithDescription("Total number of impact analyses, by risk level"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		impactedFiles, err = meter.Int64Histogram(
			"refine_impact_files",
			metric.WithDescription("Number of files impacted per analysis"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordAnalysis(ctx context.Context, duration time.Duration, r *Report) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("risk", string(r.RiskLevel)))
	analysisLatency.Record(ctx, duration.Seconds(), attrs)
	analysisTotal.Add(ctx, 1, attrs)
	impactedFiles.Record(ctx, int64(len(r.ImpactedFiles)))
}
