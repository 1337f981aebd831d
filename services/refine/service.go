// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package refine exposes assessment, planning, impact analysis and the
// apply engine as one service, and serves it over HTTP.
package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianRefine/services/refine/apply"
	"github.com/AleutianAI/AleutianRefine/services/refine/assess"
	"github.com/AleutianAI/AleutianRefine/services/refine/build"
	"github.com/AleutianAI/AleutianRefine/services/refine/cluster"
	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/impact"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
	"github.com/AleutianAI/AleutianRefine/services/refine/store"
	"github.com/AleutianAI/AleutianRefine/services/refine/telemetry"
	"github.com/AleutianAI/AleutianRefine/services/refine/workspace"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// DefaultClusterLimit is the number of top areas a cluster report lists
// when the caller does not ask for a limit.
const DefaultClusterLimit = 10

// Workspace resolves project ids to scanned projects.
type Workspace interface {
	Project(ctx context.Context, id string) (*evidence.ProjectContext, error)
	List() ([]string, error)
}

// ServiceConfig holds the defaults applied to requests that leave them
// unset.
type ServiceConfig struct {
	Planning          plan.Options
	RunTests          bool
	RollbackOnFailure bool
}

// DefaultServiceConfig returns the planning defaults with tests and
// automatic rollback off.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Planning: plan.DefaultOptions()}
}

// ApplyOptions selects transforms and overrides the configured apply
// defaults. Nil pointers keep the defaults.
type ApplyOptions struct {
	TransformIDs      []string
	DryRun            bool
	RollbackOnFailure *bool
	RunTests          *bool
	TestScope         string
}

// Service is the refine facade used by the HTTP handlers and the CLI.
//
// # Description
//
// Assessments and plans live in the store; everything else is derived on
// demand. The service keeps the last scanned snapshot of each project so
// that assess, impact and apply share parsed models, and drops it whenever
// the project's files may have changed.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent Assess calls for one project share a
// single run; concurrent applies to one project are rejected by the engine.
type Service struct {
	config       ServiceConfig
	workspace    Workspace
	store        store.Store
	orchestrator *assess.Orchestrator
	analyzer     *impact.Analyzer
	engine       *apply.Engine
	pool         *codemodel.Pool
	logger       *slog.Logger

	flight singleflight.Group

	mu        sync.Mutex
	snapshots map[string]*evidence.ProjectContext
}

// Deps are the collaborators of a Service.
type Deps struct {
	Workspace    Workspace
	Store        store.Store
	Orchestrator *assess.Orchestrator
	Analyzer     *impact.Analyzer
	Engine       *apply.Engine
	Pool         *codemodel.Pool
	Logger       *slog.Logger
}

// NewService wires a Service. Every dependency except Logger is required.
func NewService(cfg ServiceConfig, deps Deps) (*Service, error) {
	switch {
	case deps.Workspace == nil:
		return nil, errors.New("refine: workspace is required")
	case deps.Store == nil:
		return nil, errors.New("refine: store is required")
	case deps.Orchestrator == nil:
		return nil, errors.New("refine: orchestrator is required")
	case deps.Analyzer == nil:
		return nil, errors.New("refine: analyzer is required")
	case deps.Engine == nil:
		return nil, errors.New("refine: engine is required")
	case deps.Pool == nil:
		return nil, errors.New("refine: model pool is required")
	}
	if err := cfg.Planning.Validate(); err != nil {
		return nil, fmt.Errorf("refine: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:       cfg,
		workspace:    deps.Workspace,
		store:        deps.Store,
		orchestrator: deps.Orchestrator,
		analyzer:     deps.Analyzer,
		engine:       deps.Engine,
		pool:         deps.Pool,
		logger:       logger.With("component", "refine.Service"),
		snapshots:    make(map[string]*evidence.ProjectContext),
	}, nil
}

// PlanDefaults returns the options Plan uses when given none.
func (s *Service) PlanDefaults() plan.Options { return s.config.Planning }

// Projects lists the project ids in the workspace.
func (s *Service) Projects() ([]string, error) {
	return s.workspace.List()
}

// Assess scans the project, runs every detector and stores the result as
// the project's current assessment. Concurrent calls for the same project
// share one run and receive the same assessment. A caller whose context
// ends stops waiting with its error; the shared run is not cancelled by
// it and stores a complete result.
func (s *Service) Assess(ctx context.Context, projectID string) (*evidence.Assessment, error) {
	if err := checkID(projectID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The flight is shared, so it must not inherit one caller's
	// cancellation; a caller that gives up stops waiting instead.
	fctx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(projectID, func() (any, error) {
		pc, err := s.rescan(fctx, projectID)
		if err != nil {
			return nil, err
		}
		a := s.orchestrator.Assess(fctx, pc)
		if err := s.store.SaveAssessment(fctx, a); err != nil {
			return nil, fmt.Errorf("saving assessment: %w", err)
		}
		return a, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	a := res.Val.(*evidence.Assessment)
	telemetry.LoggerWithTrace(ctx, s.logger).InfoContext(ctx, "assessment stored",
		slog.String("project_id", projectID),
		slog.String("assessment_id", a.ID),
		slog.Int("findings", len(a.Evidence)),
		slog.Int("failed_detectors", len(a.Failures)),
		slog.Bool("shared", res.Shared),
	)
	return a, nil
}

// Assessment returns the stored assessment of the project.
func (s *Service) Assessment(ctx context.Context, projectID string) (*evidence.Assessment, error) {
	if err := checkID(projectID); err != nil {
		return nil, err
	}
	a, err := s.store.Assessment(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAssessmentNotFound, projectID)
	}
	return a, err
}

// Clusters groups the stored assessment's findings. A non-positive limit
// uses DefaultClusterLimit.
func (s *Service) Clusters(ctx context.Context, projectID string, limit int) (cluster.Report, error) {
	a, err := s.Assessment(ctx, projectID)
	if err != nil {
		return cluster.Report{}, err
	}
	if limit <= 0 {
		limit = DefaultClusterLimit
	}
	return cluster.NewReport(a, limit), nil
}

// Plan generates a plan from the stored assessment and makes it the
// project's current plan. Nil opts uses the configured defaults.
func (s *Service) Plan(ctx context.Context, projectID string, opts *plan.Options) (*plan.Plan, error) {
	a, err := s.Assessment(ctx, projectID)
	if err != nil {
		return nil, err
	}
	o := s.config.Planning
	if opts != nil {
		o = *opts
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p, err := plan.Generate(a, o)
	if err != nil {
		return nil, err
	}
	if err := s.store.SavePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("saving plan: %w", err)
	}
	telemetry.LoggerWithTrace(ctx, s.logger).InfoContext(ctx, "plan stored",
		slog.String("project_id", projectID),
		slog.String("plan_id", p.ID),
		slog.Int("transforms", len(p.Transforms)),
	)
	return p, nil
}

// LastPlan returns the project's current plan.
func (s *Service) LastPlan(ctx context.Context, projectID string) (*plan.Plan, error) {
	if err := checkID(projectID); err != nil {
		return nil, err
	}
	p, err := s.store.Plan(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, projectID)
	}
	return p, err
}

// Impact analyzes the selected transforms of the current plan without
// applying them. Empty transformIDs selects the whole plan; an id not in
// the plan is ErrInvalidInput.
func (s *Service) Impact(ctx context.Context, projectID string, transformIDs []string) (*impact.Report, error) {
	p, err := s.LastPlan(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ops := make([]impact.Operation, 0, len(p.Transforms))
	if len(transformIDs) == 0 {
		for _, t := range p.Transforms {
			ops = append(ops, impact.OperationFor(t))
		}
	} else {
		for _, id := range transformIDs {
			t, ok := p.Transform(id)
			if !ok {
				return nil, fmt.Errorf("%w: transform %s not in plan %s", ErrInvalidInput, id, p.ID)
			}
			ops = append(ops, impact.OperationFor(t))
		}
	}
	pc, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.analyzer.Analyze(ctx, pc, ops...)
}

// Apply runs the selected transforms of the current plan through the
// engine. A HIGH-risk selection comes back as a blocked result, not an
// error.
func (s *Service) Apply(ctx context.Context, projectID string, opts ApplyOptions) (*apply.ApplyResult, error) {
	if err := build.ValidateScope(opts.TestScope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p, err := s.LastPlan(ctx, projectID)
	if err != nil {
		return nil, err
	}
	pc, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}

	req := apply.Request{
		TransformIDs:      opts.TransformIDs,
		DryRun:            opts.DryRun,
		RollbackOnFailure: s.config.RollbackOnFailure,
		RunTests:          s.config.RunTests,
		TestScope:         opts.TestScope,
	}
	if opts.RollbackOnFailure != nil {
		req.RollbackOnFailure = *opts.RollbackOnFailure
	}
	if opts.RunTests != nil {
		req.RunTests = *opts.RunTests
	}

	res, err := s.engine.Apply(ctx, pc, p, req)
	if !opts.DryRun {
		s.invalidate(projectID)
	}
	return res, err
}

// Rollback restores a backup taken by an earlier apply of this project.
func (s *Service) Rollback(ctx context.Context, projectID, backupID string) (*apply.RollbackResult, error) {
	if err := checkID(projectID); err != nil {
		return nil, err
	}
	if backupID == "" {
		return nil, fmt.Errorf("%w: backup id is required", ErrInvalidInput)
	}
	b, err := s.engine.Backups().Load(backupID)
	if err != nil {
		return nil, err
	}
	if b.ProjectID != projectID {
		return nil, fmt.Errorf("%w: %s belongs to another project", ErrBackupNotFound, backupID)
	}
	res, err := s.engine.Rollback(ctx, backupID)
	s.invalidate(projectID)
	return res, err
}

// DeleteProject forgets everything held for the project: the stored
// assessment and plan and the cached snapshot. Backups stay on disk.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	if err := checkID(projectID); err != nil {
		return err
	}
	s.invalidate(projectID)
	if err := s.store.Delete(ctx, projectID); err != nil {
		return fmt.Errorf("deleting %s: %w", projectID, err)
	}
	s.logger.InfoContext(ctx, "project evicted", slog.String("project_id", projectID))
	return nil
}

// Evict is the workspace.EvictFunc used by the directory watcher.
func (s *Service) Evict(projectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.DeleteProject(ctx, projectID); err != nil {
		s.logger.Warn("evicting removed project failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}
}

// snapshot returns the cached scan of the project, scanning on first use.
func (s *Service) snapshot(ctx context.Context, projectID string) (*evidence.ProjectContext, error) {
	s.mu.Lock()
	pc, ok := s.snapshots[projectID]
	s.mu.Unlock()
	if ok {
		return pc, nil
	}
	return s.rescan(ctx, projectID)
}

// rescan replaces the cached snapshot with a fresh scan.
func (s *Service) rescan(ctx context.Context, projectID string) (*evidence.ProjectContext, error) {
	pc, err := s.workspace.Project(ctx, projectID)
	if err != nil {
		if errors.Is(err, workspace.ErrInvalidProjectID) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	s.mu.Lock()
	if old, ok := s.snapshots[projectID]; ok {
		s.pool.Forget(old)
	}
	s.snapshots[projectID] = pc
	s.mu.Unlock()
	return pc, nil
}

func (s *Service) invalidate(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pc, ok := s.snapshots[projectID]; ok {
		s.pool.Forget(pc)
		delete(s.snapshots, projectID)
	}
}

func checkID(projectID string) error {
	if err := workspace.ValidateID(projectID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
