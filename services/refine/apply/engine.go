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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRefine/services/refine/build"
	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/impact"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

// Request selects what an apply does.
type Request struct {
	// TransformIDs to apply, in order. Empty selects the whole plan.
	TransformIDs []string `json:"transform_ids,omitempty"`

	// DryRun computes diffs without touching the project.
	DryRun bool `json:"dry_run"`

	// RollbackOnFailure restores the backup when verification fails.
	RollbackOnFailure bool `json:"rollback_on_failure"`

	// RunTests runs the project tests after a successful compile.
	RunTests bool `json:"run_tests"`

	// TestScope narrows the test run to matching tests. It is handed to
	// the build tool's test filter and must pass build.ValidateScope.
	// Empty runs everything.
	TestScope string `json:"test_scope,omitempty"`
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTransformers replaces the default transformer registry.
func WithTransformers(r *TransformerRegistry) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.transformers = r
		}
	}
}

// WithAnalyzer replaces the impact analyzer.
func WithAnalyzer(a *impact.Analyzer) EngineOption {
	return func(e *Engine) {
		if a != nil {
			e.analyzer = a
		}
	}
}

// WithBuildRegistry enables compile and test verification.
func WithBuildRegistry(r *build.Registry) EngineOption {
	return func(e *Engine) { e.builds = r }
}

// WithPreflight replaces the git preflight check.
func WithPreflight(p *GitPreflight) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.preflight = p
		}
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracing toggles span creation.
func WithTracing(enabled bool) EngineOption {
	return func(e *Engine) { e.tracing = enabled }
}

// Engine applies planned transforms with backup, verification and
// rollback.
//
// # Description
//
// One apply runs at a time per project; a second concurrent call gets
// ErrApplyInProgress. Before touching anything the engine runs impact
// analysis and refuses HIGH risk selections, then snapshots every target
// file. Transforms run in order; a failing transform is recorded and the
// rest continue.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	backups      *BackupStore
	pool         *codemodel.Pool
	transformers *TransformerRegistry
	analyzer     *impact.Analyzer
	builds       *build.Registry
	preflight    *GitPreflight
	logger       *slog.Logger
	tracing      bool
	tracer       *Tracer

	mu   sync.Mutex
	busy map[string]struct{} // projects with an apply or rollback running
}

// NewEngine creates an engine writing snapshots to backups and reading
// models through pool.
func NewEngine(backups *BackupStore, pool *codemodel.Pool, opts ...EngineOption) *Engine {
	e := &Engine{
		backups:      backups,
		pool:         pool,
		transformers: DefaultTransformers(),
		logger:       slog.Default(),
		tracing:      true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "apply.Engine")
	if e.analyzer == nil {
		e.analyzer = impact.NewAnalyzer(pool, impact.WithLogger(e.logger))
	}
	if e.preflight == nil {
		e.preflight = NewGitPreflight(false, e.logger)
	}
	e.tracer = NewTracer(e.logger, e.tracing)
	return e
}

// Backups returns the snapshot store.
func (e *Engine) Backups() *BackupStore { return e.backups }

// tryAcquire marks the project busy, reporting false when another apply
// or rollback holds it. Entries exist only while held.
func (e *Engine) tryAcquire(projectID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.busy[projectID]; held {
		return false
	}
	if e.busy == nil {
		e.busy = make(map[string]struct{})
	}
	e.busy[projectID] = struct{}{}
	return true
}

func (e *Engine) release(projectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.busy, projectID)
}

// Apply runs the selected transforms of p against the project.
//
// # Outputs
//
//   - *ApplyResult: Every selected id ends up in Results or Failures,
//     unless the selection was blocked by impact analysis.
//   - error: ErrApplyInProgress, ErrNilPlan, ErrBackupFailed,
//     ErrDirtyWorktree or an impact analysis failure. Individual
//     transform failures are reported in the result instead.
func (e *Engine) Apply(ctx context.Context, pc *evidence.ProjectContext, p *plan.Plan, req Request) (*ApplyResult, error) {
	if p == nil {
		return nil, ErrNilPlan
	}
	if pc == nil {
		return nil, impact.ErrNilContext
	}
	if err := build.ValidateScope(req.TestScope); err != nil {
		return nil, err
	}

	if !e.tryAcquire(pc.ID()) {
		return nil, fmt.Errorf("%w: %s", ErrApplyInProgress, pc.ID())
	}
	defer e.release(pc.ID())

	start := time.Now()
	incActive(ctx)
	defer decActive(ctx)

	selected := selection(p, req.TransformIDs)
	ctx, span := e.tracer.StartApply(ctx, pc.ID(), p.ID, len(selected), req.DryRun)
	res, err := e.apply(ctx, pc, p, req, selected)
	e.tracer.EndApply(span, res, err)
	if res != nil {
		recordApply(ctx, res, time.Since(start))
		e.logger.InfoContext(ctx, "apply finished",
			slog.String("project_id", pc.ID()),
			slog.String("plan_id", p.ID),
			slog.String("state", string(res.State)),
			slog.Int("applied", len(res.Results)),
			slog.Int("failed", len(res.Failures)),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return res, err
}

// selection returns the requested ids without duplicates, or every plan
// transform when none were requested.
func selection(p *plan.Plan, ids []string) []string {
	if len(ids) == 0 {
		out := make([]string, len(p.Transforms))
		for i, t := range p.Transforms {
			out[i] = t.ID
		}
		return out
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (e *Engine) apply(ctx context.Context, pc *evidence.ProjectContext, p *plan.Plan, req Request, selected []string) (*ApplyResult, error) {
	res := &ApplyResult{
		ProjectID: pc.ID(),
		PlanID:    p.ID,
		State:     StatePending,
		DryRun:    req.DryRun,
		RiskLevel: impact.RiskLow,
		Results:   []TransformResult{},
		Failures:  []FailedTransform{},
		Timestamp: time.Now().UTC(),
	}

	var known []plan.PlannedTransform
	var unknown []string
	for _, id := range selected {
		if t, ok := p.Transform(id); ok {
			known = append(known, t)
		} else {
			unknown = append(unknown, id)
		}
	}

	if len(known) > 0 {
		ops := make([]impact.Operation, len(known))
		for i, t := range known {
			ops[i] = impact.OperationFor(t)
		}
		rep, err := e.analyzer.Analyze(ctx, pc, ops...)
		if err != nil {
			return nil, fmt.Errorf("impact analysis: %w", err)
		}
		res.RiskLevel = rep.RiskLevel
		if rep.Blocked() {
			res.State = StateBlocked
			res.Blocked = true
			res.BlockedReason = blockedReason(rep)
			e.logger.WarnContext(ctx, "apply blocked by impact analysis",
				slog.String("project_id", pc.ID()),
				slog.String("reason", res.BlockedReason),
			)
			return res, nil
		}
	}

	targets := targetFiles(known)
	warnings, err := e.preflight.Check(ctx, pc.Root(), targets)
	if err != nil {
		return nil, err
	}
	res.Warnings = warnings

	var backup *Backup
	if !req.DryRun {
		backup, err = e.backups.Create(pc.ID(), pc.Root())
		if err != nil {
			return nil, err
		}
		for _, f := range targets {
			if err := e.backups.Capture(backup, f); err != nil {
				if derr := e.backups.Delete(backup.ID); derr != nil {
					e.logger.WarnContext(ctx, "discarding partial backup failed", slog.String("error", derr.Error()))
				}
				return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
			}
		}
		res.BackupID = backup.ID
	}

	res.State = StateApplying
	ws := newWorkingSet(pc)
	aborted := false
	abort := func(rest []plan.PlannedTransform) {
		aborted = true
		for _, r := range rest {
			res.Failures = append(res.Failures, FailedTransform{TransformID: r.ID, State: StateFailed, Error: ErrAborted.Error()})
		}
	}
	for i, t := range known {
		if ctx.Err() != nil {
			abort(known[i:])
			break
		}
		tr, err := e.applyOne(ctx, ws, backup, t, req.DryRun)
		if err != nil && ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			abort(known[i:])
			break
		}
		if err != nil {
			e.logger.WarnContext(ctx, "transform failed",
				slog.String("transform_id", t.ID),
				slog.String("kind", string(t.Kind)),
				slog.String("error", err.Error()),
			)
			res.Failures = append(res.Failures, FailedTransform{TransformID: t.ID, State: StateFailed, Error: err.Error()})
			continue
		}
		res.Results = append(res.Results, *tr)
	}
	for _, id := range unknown {
		res.Failures = append(res.Failures, FailedTransform{TransformID: id, State: StateFailed, Error: "transform not in plan"})
	}

	if !req.DryRun && len(res.Results) > 0 && e.pool != nil {
		e.pool.Forget(pc)
	}

	switch {
	case aborted:
		res.State = StateFailed
		res.Warnings = append(res.Warnings, "apply aborted: "+context.Cause(ctx).Error())
		return res, nil
	case len(res.Results) == 0:
		res.State = StateFailed
		return res, nil
	}

	res.State = StateVerifying
	res.Verification = e.verify(ctx, pc, res, req)
	if res.Verification.Passed {
		res.State = StateVerified
		return res, nil
	}

	res.State = StateVerificationFailed
	if req.RollbackOnFailure && backup != nil {
		if _, err := e.rollback(context.WithoutCancel(ctx), backup.ID, "verification failed"); err != nil {
			res.Warnings = append(res.Warnings, "automatic rollback failed: "+err.Error())
			return res, nil
		}
		res.RolledBack = true
		res.State = StateRolledBack
	}
	return res, nil
}

func blockedReason(rep *impact.Report) string {
	var parts []string
	for _, ti := range rep.PerTransform {
		if ti.RiskLevel != impact.RiskHigh {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", ti.TransformID, strings.Join(ti.Reasons, "; ")))
	}
	return "HIGH risk: " + strings.Join(parts, ", ")
}

func targetFiles(ts []plan.PlannedTransform) []string {
	var files []string
	for _, t := range ts {
		if t.Target.File != "" {
			files = append(files, t.Target.File)
		}
	}
	slices.Sort(files)
	return slices.Compact(files)
}

// applyOne runs a single transform. Nothing stays written when it fails.
func (e *Engine) applyOne(ctx context.Context, ws *workingSet, backup *Backup, t plan.PlannedTransform, dryRun bool) (tr *TransformResult, err error) {
	ctx, span := e.tracer.StartTransform(ctx, t.ID, string(t.Kind))
	defer func() { e.tracer.EndTransform(span, err) }()
	defer func() {
		if r := recover(); r != nil {
			tr, err = nil, fmt.Errorf("transformer panicked: %v", r)
		}
	}()

	transformer, err := e.transformers.Resolve(t)
	if err != nil {
		return nil, err
	}
	edits, err := transformer.Transform(ctx, ws, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", transformer.Name(), err)
	}
	if len(edits) == 0 {
		return nil, fmt.Errorf("%s: %w: no edits produced", transformer.Name(), ErrNotApplicable)
	}

	staged := make([]stagedEdit, 0, len(edits))
	for _, ed := range edits {
		rel, err := evidence.CleanRelative(ed.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEdit, err)
		}
		before, existed, err := ws.current(rel)
		if err != nil {
			return nil, err
		}
		if err := e.checkSyntax(ctx, rel, before, existed, ed.Content); err != nil {
			return nil, err
		}
		staged = append(staged, stagedEdit{path: rel, before: before, after: ed.Content, existed: existed})
	}

	result := &TransformResult{
		TransformID:  t.ID,
		Kind:         t.Kind,
		State:        StateApplied,
		Verification: VerificationResult{Passed: true},
	}
	result.Verification.add(Check{Name: "syntax", Passed: true})

	if dryRun {
		result.Verification.add(Check{Name: "write", Passed: true, Message: "dry run"})
	} else {
		if err := e.write(ws, backup, staged); err != nil {
			return nil, err
		}
		result.Verification.add(verifyWritten(ws, staged))
	}
	ws.commit(staged)

	for _, s := range staged {
		fc, err := fileChange(s)
		if err != nil {
			return nil, err
		}
		result.Changes = append(result.Changes, fc)
	}
	return result, nil
}

type stagedEdit struct {
	path    string
	before  []byte
	after   []byte
	existed bool
}

// checkSyntax rejects an edit that breaks a file which parsed cleanly.
// It ignores cancellation: once a transform has produced its edits, the
// abort decision belongs to the apply loop.
func (e *Engine) checkSyntax(ctx context.Context, rel string, before []byte, existed bool, after []byte) error {
	if e.pool == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	reg := e.pool.Registry()
	if !reg.Supports(rel) {
		return nil
	}
	if existed {
		m, err := reg.Parse(ctx, rel, before)
		if err != nil || m.SyntaxErrors {
			return nil
		}
	}
	m, err := reg.Parse(ctx, rel, after)
	if err != nil {
		return fmt.Errorf("%w: %s does not parse: %v", ErrInvalidEdit, rel, err)
	}
	if m.SyntaxErrors {
		return fmt.Errorf("%w: %s has syntax errors after transform", ErrInvalidEdit, rel)
	}
	return nil
}

// write stores staged edits, capturing each file before its first write.
// On error every file written so far is put back.
func (e *Engine) write(ws *workingSet, backup *Backup, staged []stagedEdit) error {
	var done []stagedEdit
	undo := func() {
		for _, s := range slices.Backward(done) {
			abs := ws.abs(s.path)
			if s.existed {
				_ = os.WriteFile(abs, s.before, fileMode(abs))
			} else {
				_ = os.Remove(abs)
			}
		}
	}

	for _, s := range staged {
		if backup != nil {
			if err := e.backups.Capture(backup, s.path); err != nil {
				undo()
				return fmt.Errorf("%w: %v", ErrBackupFailed, err)
			}
		}
		abs := ws.abs(s.path)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			undo()
			return fmt.Errorf("creating directory for %s: %w", s.path, err)
		}
		if err := os.WriteFile(abs, s.after, fileMode(abs)); err != nil {
			undo()
			return fmt.Errorf("writing %s: %w", s.path, err)
		}
		done = append(done, s)
	}
	return nil
}

func fileMode(abs string) fs.FileMode {
	if info, err := os.Stat(abs); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

func verifyWritten(ws *workingSet, staged []stagedEdit) Check {
	for _, s := range staged {
		got, err := os.ReadFile(ws.abs(s.path))
		if err != nil {
			return Check{Name: "write", Passed: false, Message: err.Error()}
		}
		if !bytes.Equal(got, s.after) {
			return Check{Name: "write", Passed: false, Message: s.path + " differs from the written content"}
		}
	}
	return Check{Name: "write", Passed: true}
}

func fileChange(s stagedEdit) (FileChange, error) {
	before := s.before
	action := ActionModified
	if !s.existed {
		before = nil
		action = ActionCreated
	}
	d, err := RenderDiff(s.path, before, s.after)
	if err != nil {
		return FileChange{}, err
	}
	added, deleted, err := DiffStat(d)
	if err != nil {
		return FileChange{}, err
	}
	return FileChange{Path: s.path, Action: action, Diff: d, LinesAdded: added, LinesDeleted: deleted}, nil
}

// verify compiles and optionally tests the project after the transforms.
// A missing build tool or provider counts as a skipped pass.
func (e *Engine) verify(ctx context.Context, pc *evidence.ProjectContext, res *ApplyResult, req Request) VerificationResult {
	v := VerificationResult{Passed: true}

	failed := 0
	for _, r := range res.Results {
		if !r.Verification.Passed {
			failed++
		}
	}
	v.add(Check{Name: "transforms", Passed: failed == 0, Message: fmt.Sprintf("%d of %d transforms failed their checks", failed, len(res.Results))})

	if req.DryRun {
		v.Skipped = true
		v.add(Check{Name: "compile", Passed: true, Message: "dry run"})
		return v
	}
	provider, ok := e.provider(pc)
	if !ok {
		v.Skipped = true
		v.add(Check{Name: "compile", Passed: true, Message: "no build provider"})
		return v
	}

	var changed []string
	for _, r := range res.Results {
		for _, c := range r.Changes {
			changed = append(changed, c.Path)
		}
	}
	slices.Sort(changed)
	changed = slices.Compact(changed)

	compiled, err := provider.Compile(ctx, pc.Root(), changed)
	v.Compile = compiled
	if !v.addBuild("compile", compiled, err) {
		return v
	}
	if !req.RunTests {
		return v
	}
	tested, err := provider.Test(ctx, pc.Root(), req.TestScope)
	v.Test = tested
	v.addBuild("test", tested, err)
	return v
}

// addBuild records a build step and reports whether it passed.
func (v *VerificationResult) addBuild(name string, r *build.Result, err error) bool {
	switch {
	case err != nil:
		v.add(Check{Name: name, Passed: false, Message: err.Error()})
		return false
	case r.Skipped:
		v.Skipped = true
		v.add(Check{Name: name, Passed: true, Message: r.Command + " not installed"})
		return true
	case r.TimedOut:
		v.add(Check{Name: name, Passed: false, Message: "timed out"})
		return false
	case !r.Passed:
		v.add(Check{Name: name, Passed: false, Message: fmt.Sprintf("exit code %d", r.ExitCode)})
		return false
	}
	v.add(Check{Name: name, Passed: true})
	return true
}

func (e *Engine) provider(pc *evidence.ProjectContext) (build.Provider, bool) {
	if e.builds == nil {
		return nil, false
	}
	if kind := pc.BuildSystem(); kind != "" && kind != evidence.BuildUnknown {
		if p, ok := e.builds.For(kind); ok {
			return p, true
		}
	}
	return e.builds.Detect(pc.Root())
}

// Rollback restores the snapshot taken by an earlier apply. Rolling back
// the same backup twice leaves the project unchanged the second time.
func (e *Engine) Rollback(ctx context.Context, backupID string) (*RollbackResult, error) {
	b, err := e.backups.Load(backupID)
	if err != nil {
		return nil, err
	}
	if !e.tryAcquire(b.ProjectID) {
		return nil, fmt.Errorf("%w: %s", ErrApplyInProgress, b.ProjectID)
	}
	defer e.release(b.ProjectID)
	return e.rollback(ctx, backupID, "requested")
}

func (e *Engine) rollback(ctx context.Context, backupID, reason string) (res *RollbackResult, err error) {
	ctx, span := e.tracer.StartRollback(ctx, backupID, reason)
	defer func() {
		e.tracer.EndRollback(span, res, err)
		recordRollback(ctx, err == nil)
	}()

	res, err = e.backups.Restore(backupID)
	if err != nil {
		return res, fmt.Errorf("rollback %s: %w", backupID, err)
	}
	e.logger.InfoContext(ctx, "rollback complete",
		slog.String("backup_id", backupID),
		slog.String("reason", reason),
		slog.Int("restored", len(res.Restored)),
		slog.Int("removed", len(res.Removed)),
	)
	return res, nil
}

// workingSet is the project as seen by transformers during one apply:
// disk content overlaid with the edits made so far.
type workingSet struct {
	pc      *evidence.ProjectContext
	pending map[string][]byte
}

func newWorkingSet(pc *evidence.ProjectContext) *workingSet {
	return &workingSet{pc: pc, pending: make(map[string][]byte)}
}

func (w *workingSet) abs(rel string) string {
	return filepath.Join(w.pc.Root(), filepath.FromSlash(rel))
}

// ReadFile implements Files.
func (w *workingSet) ReadFile(rel string) ([]byte, error) {
	clean, err := evidence.CleanRelative(rel)
	if err != nil {
		return nil, err
	}
	if c, ok := w.pending[clean]; ok {
		return slices.Clone(c), nil
	}
	return os.ReadFile(w.abs(clean))
}

func (w *workingSet) current(rel string) ([]byte, bool, error) {
	if c, ok := w.pending[rel]; ok {
		return c, true, nil
	}
	content, err := os.ReadFile(w.abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", rel, err)
	}
	return content, true, nil
}

func (w *workingSet) commit(staged []stagedEdit) {
	for _, s := range staged {
		w.pending[s.path] = s.after
	}
}
