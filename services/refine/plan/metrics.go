// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.refine.plan")

var (
	plansTotal      metric.Int64Counter
	planTransforms  metric.Int64Histogram
	transformsTotal metric.Int64Counter

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

		plansTotal, err = meter.Int64Counter(
			"refine_plans_total",
			metric.WithDescription("Total number of plans generated"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		planTransforms, err = meter.Int64Histogram(
			"refine_plan_transforms",
			metric.WithDescription("Number of transforms per generated plan"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transformsTotal, err = meter.Int64Counter(
			"refine_planned_transforms_total",
			metric.WithDescription("Planned transforms, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordPlan(p *Plan) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	ctx := context.Background()
	plansTotal.Add(ctx, 1)
	planTransforms.Record(ctx, int64(len(p.Transforms)))
	for kind, n := range p.Summary.ByKind {
		transformsTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", string(kind))))
	}
}
