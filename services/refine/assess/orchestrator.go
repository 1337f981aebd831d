// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assess runs every applicable detector over a project snapshot
// and aggregates the findings into an immutable Assessment.
//
// Detectors run in parallel, each under its own timeout, and write to
// their own result slot. A detector that fails, panics or times out
// contributes nothing and is recorded as a DetectorFailure; Assess itself
// never fails.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/detect"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// DefaultDetectorTimeout bounds a single detector run.
const DefaultDetectorTimeout = 30 * time.Second

var (
	// ErrDetectorPanic wraps a recovered detector panic.
	ErrDetectorPanic = errors.New("detector panicked")

	// ErrDetectorTimeout is reported when a detector exceeds its timeout.
	ErrDetectorTimeout = errors.New("detector timed out")
)

var tracer = otel.Tracer("aleutian.refine.assess")

// DetectorResult is the outcome of one detector run: either findings or
// a failure reason, never both.
type DetectorResult struct {
	ID       string
	Findings []evidence.Evidence
	Err      error
	Duration time.Duration
	TimedOut bool
	Skipped  bool
}

// Failed reports whether the run contributed nothing because of an error.
func (r DetectorResult) Failed() bool { return r.Err != nil }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout overrides DefaultDetectorTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxConcurrency limits the number of detectors running at once.
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithModelPool lets the orchestrator count lines through the same text
// cache the detectors use.
func WithModelPool(p *codemodel.Pool) Option {
	return func(o *Orchestrator) { o.pool = p }
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator runs detectors and aggregates their findings.
//
// # Thread Safety
//
// Safe for concurrent use; each Assess call owns its result buffers.
type Orchestrator struct {
	registry       *detect.Registry
	timeout        time.Duration
	maxConcurrency int
	logger         *slog.Logger
	pool           *codemodel.Pool
	now            func() time.Time
}

// New creates an Orchestrator over registry.
func New(registry *detect.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		timeout:        DefaultDetectorTimeout,
		maxConcurrency: runtime.GOMAXPROCS(0),
		logger:         slog.Default().With("component", "assess.Orchestrator"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Assess runs every applicable detector over pc.
//
// # Description
//
// Findings are concatenated in registration order, then in each
// detector's own order. Metrics and the maintainability index are
// computed over the full finding list.
//
// # Inputs
//
//   - ctx: Cancelling it makes outstanding detectors fail; the partial
//     Assessment is still returned.
//   - pc: The project snapshot. Never mutated.
//
// # Outputs
//
//   - *evidence.Assessment: Always non-nil.
func (o *Orchestrator) Assess(ctx context.Context, pc *evidence.ProjectContext) *evidence.Assessment {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "refine.assess",
		trace.WithAttributes(
			attribute.String("refine.project_id", pc.ID()),
			attribute.Int("refine.source_files", len(pc.SourceFiles())),
		),
	)
	defer span.End()

	results := o.RunDetectors(ctx, pc)

	var findings []evidence.Evidence
	var failures []evidence.DetectorFailure
	for _, r := range results {
		if r.Failed() {
			failures = append(failures, evidence.DetectorFailure{
				DetectorID: r.ID,
				Reason:     r.Err.Error(),
				TimedOut:   r.TimedOut,
				Duration:   r.Duration,
			})
			continue
		}
		findings = append(findings, r.Findings...)
	}
	if findings == nil {
		findings = []evidence.Evidence{}
	}

	totalLines := o.countLines(pc)
	metrics := evidence.ComputeMetrics(findings, len(pc.SourceFiles()), totalLines)
	a := &evidence.Assessment{
		ID:        uuid.NewString(),
		ProjectID: pc.ID(),
		CreatedAt: o.now().UTC(),
		Evidence:  findings,
		Summary:   evidence.Summarize(findings, metrics),
		Metrics:   metrics,
		Failures:  failures,
	}

	span.SetAttributes(
		attribute.Int("refine.findings", len(findings)),
		attribute.Int("refine.detector_failures", len(failures)),
		attribute.Float64("refine.maintainability", metrics.MaintainabilityIndex),
	)
	recordAssess(ctx, time.Since(start), len(failures))
	o.logger.InfoContext(ctx, "assessment complete",
		slog.String("project_id", pc.ID()),
		slog.String("assessment_id", a.ID),
		slog.Int("findings", len(findings)),
		slog.Int("failures", len(failures)),
		slog.Float64("maintainability", metrics.MaintainabilityIndex),
		slog.Duration("duration", time.Since(start)),
	)
	return a
}

// RunDetectors runs every registered detector and returns one result
// per detector in registration order.
func (o *Orchestrator) RunDetectors(ctx context.Context, pc *evidence.ProjectContext) []DetectorResult {
	detectors := o.registry.All()
	results := make([]DetectorResult, len(detectors))

	var g errgroup.Group
	g.SetLimit(o.maxConcurrency)
	for i, d := range detectors {
		g.Go(func() error {
			results[i] = o.run(ctx, d, pc)
			recordDetector(ctx, results[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// run executes one detector under its timeout with panic recovery.
func (o *Orchestrator) run(ctx context.Context, d detect.Detector, pc *evidence.ProjectContext) DetectorResult {
	id := d.ID()
	start := time.Now()
	logger := o.logger.With(slog.String("detector", id))

	applicable, err := safeApplicable(d, pc)
	if err != nil {
		logger.WarnContext(ctx, "detector applicability check failed", slog.String("error", err.Error()))
		return DetectorResult{ID: id, Err: err, Duration: time.Since(start)}
	}
	if !applicable {
		return DetectorResult{ID: id, Skipped: true, Findings: nil}
	}

	dctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan DetectorResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- DetectorResult{Err: fmt.Errorf("%w: %v", ErrDetectorPanic, r)}
				logger.Error("detector panic recovered",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		var findings []evidence.Evidence
		for e := range d.Detect(dctx, pc) {
			if e.DetectorID != id {
				logger.Warn("restamping finding with foreign detector id", slog.String("emitted_id", e.DetectorID))
				e.DetectorID = id
			}
			findings = append(findings, e)
		}
		if err := dctx.Err(); err != nil {
			done <- DetectorResult{Err: err}
			return
		}
		done <- DetectorResult{Findings: findings}
	}()

	var result DetectorResult
	select {
	case result = <-done:
	case <-dctx.Done():
		result = DetectorResult{Err: dctx.Err()}
	}
	result.ID = id
	result.Duration = time.Since(start)

	if result.Err != nil {
		// A done parent is not this detector's timeout.
		if errors.Is(result.Err, context.DeadlineExceeded) && ctx.Err() == nil {
			result.TimedOut = true
			result.Err = fmt.Errorf("%w after %s", ErrDetectorTimeout, o.timeout)
		}
		result.Findings = nil
		logger.WarnContext(ctx, "detector contributed no findings",
			slog.String("error", result.Err.Error()),
			slog.Bool("timed_out", result.TimedOut),
			slog.Duration("duration", result.Duration),
		)
	}
	return result
}

func safeApplicable(d detect.Detector, pc *evidence.ProjectContext) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in IsApplicable: %v", ErrDetectorPanic, r)
		}
	}()
	return d.IsApplicable(pc), nil
}

func (o *Orchestrator) countLines(pc *evidence.ProjectContext) int {
	total := 0
	for _, f := range pc.SourceFiles() {
		if o.pool != nil {
			if txt, err := o.pool.For(pc).Text(f); err == nil {
				total += len(txt.Raw)
			}
			continue
		}
		lines, err := pc.ReadLines(f)
		if err != nil {
			o.logger.Debug("file left out of line count", slog.String("file", f), slog.String("error", err.Error()))
			continue
		}
		total += len(lines)
	}
	return total
}
