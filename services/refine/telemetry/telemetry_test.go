// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterNone

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "zipkin"
	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg = DefaultConfig()
	cfg.MetricExporter = "statsd"
	_, err = Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_PrometheusHandler(t *testing.T) {
	cfg := DefaultConfig()
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	counter, err := otel.Meter("telemetry_test").Int64Counter("refine_test_hits_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	h := MetricsHandler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "refine_test_hits_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestInit_StdoutTracer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterStdout
	cfg.MetricExporter = ExporterNone

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "telemetry_test", "op")
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	assert.Same(t, base, LoggerWithTrace(context.Background(), base))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	LoggerWithTrace(ctx, base).Info("hello")
	assert.Contains(t, buf.String(), "trace_id="+sc.TraceID().String())
	assert.Contains(t, buf.String(), "span_id="+sc.SpanID().String())
}
