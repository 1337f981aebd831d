// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package refine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRefine/services/refine/apply"
	"github.com/AleutianAI/AleutianRefine/services/refine/assess"
	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/detect"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/impact"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
	"github.com/AleutianAI/AleutianRefine/services/refine/store"
	"github.com/AleutianAI/AleutianRefine/services/refine/workspace"
)

// longSum is a Go file with one method long enough to be flagged.
func longSum() string {
	var b strings.Builder
	b.WriteString("package calc\n\nfunc Sum(a, b, c int) int {\n\tx := 0\n")
	for range 24 {
		b.WriteString("\tx += a\n")
	}
	b.WriteString("\treturn x\n}\n")
	return b.String()
}

type fixture struct {
	root string
	svc  *Service
}

func newFixture(t *testing.T, projects ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	for _, id := range projects {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "sum.go"), []byte(longSum()), 0o644))
	}

	models := codemodel.DefaultRegistry()
	pool, err := codemodel.NewPool(models, 8)
	require.NoError(t, err)
	ws, err := workspace.NewDirProvider(root, models)
	require.NoError(t, err)
	st, err := store.NewMemoryStore(16)
	require.NoError(t, err)
	backups, err := apply.NewBackupStore(t.TempDir())
	require.NoError(t, err)

	svc, err := NewService(DefaultServiceConfig(), Deps{
		Workspace:    ws,
		Store:        st,
		Orchestrator: assess.New(detect.DefaultRegistry(detect.DefaultThresholds(), pool), assess.WithModelPool(pool)),
		Analyzer:     impact.NewAnalyzer(pool),
		Engine:       apply.NewEngine(backups, pool, apply.WithTracing(false)),
		Pool:         pool,
	})
	require.NoError(t, err)
	return &fixture{root: root, svc: svc}
}

func (f *fixture) read(t *testing.T, id string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, id, "sum.go"))
	require.NoError(t, err)
	return string(data)
}

func TestService_AssessPlanApplyRollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "calc")

	a, err := f.svc.Assess(ctx, "calc")
	require.NoError(t, err)
	assert.Equal(t, "calc", a.ProjectID)
	require.NotEmpty(t, a.Evidence)

	stored, err := f.svc.Assessment(ctx, "calc")
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)

	rep, err := f.svc.Clusters(ctx, "calc", 0)
	require.NoError(t, err)
	assert.Equal(t, len(a.Evidence), rep.Total)
	assert.LessOrEqual(t, len(rep.TopAreas), DefaultClusterLimit)

	p, err := f.svc.Plan(ctx, "calc", nil)
	require.NoError(t, err)
	assert.Equal(t, a.ID, p.AssessmentID)
	require.NotEmpty(t, p.Transforms)

	last, err := f.svc.LastPlan(ctx, "calc")
	require.NoError(t, err)
	assert.Equal(t, p.ID, last.ID)

	first := p.Transforms[0].ID
	ir, err := f.svc.Impact(ctx, "calc", []string{first})
	require.NoError(t, err)
	assert.NotEqual(t, impact.RiskHigh, ir.RiskLevel)
	require.Len(t, ir.PerTransform, 1)

	before := f.read(t, "calc")

	dry, err := f.svc.Apply(ctx, "calc", ApplyOptions{TransformIDs: []string{first}, DryRun: true})
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Empty(t, dry.BackupID)
	require.Len(t, dry.Results, 1)
	assert.Equal(t, before, f.read(t, "calc"))

	res, err := f.svc.Apply(ctx, "calc", ApplyOptions{TransformIDs: []string{first}})
	require.NoError(t, err)
	assert.Equal(t, apply.StateVerified, res.State)
	require.NotEmpty(t, res.BackupID)
	assert.NotEqual(t, before, f.read(t, "calc"))

	rb, err := f.svc.Rollback(ctx, "calc", res.BackupID)
	require.NoError(t, err)
	assert.Contains(t, rb.Restored, "sum.go")
	assert.Equal(t, before, f.read(t, "calc"))
}

func TestService_RollbackOfAnotherProjectsBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "calc", "other")

	_, err := f.svc.Assess(ctx, "calc")
	require.NoError(t, err)
	p, err := f.svc.Plan(ctx, "calc", nil)
	require.NoError(t, err)
	require.NotEmpty(t, p.Transforms)
	res, err := f.svc.Apply(ctx, "calc", ApplyOptions{TransformIDs: []string{p.Transforms[0].ID}})
	require.NoError(t, err)
	require.NotEmpty(t, res.BackupID)

	_, err = f.svc.Rollback(ctx, "other", res.BackupID)
	assert.ErrorIs(t, err, ErrBackupNotFound)

	_, err = f.svc.Rollback(ctx, "calc", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "calc")

	_, err := f.svc.Assessment(ctx, "calc")
	assert.ErrorIs(t, err, ErrAssessmentNotFound)

	_, err = f.svc.Plan(ctx, "calc", nil)
	assert.ErrorIs(t, err, ErrAssessmentNotFound)

	_, err = f.svc.LastPlan(ctx, "calc")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	_, err = f.svc.Apply(ctx, "calc", ApplyOptions{})
	assert.ErrorIs(t, err, ErrPlanNotFound)

	_, err = f.svc.Assess(ctx, "../etc")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Assess(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = f.svc.Assess(ctx, "calc")
	require.NoError(t, err)

	bad := plan.DefaultOptions()
	bad.RiskTolerance = 2
	_, err = f.svc.Plan(ctx, "calc", &bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Plan(ctx, "calc", nil)
	require.NoError(t, err)
	_, err = f.svc.Impact(ctx, "calc", []string{"not-a-transform"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_ConcurrentAssessStoresOneCurrentAssessment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "calc")

	var wg sync.WaitGroup
	results := make([]*evidence.Assessment, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.Assess(ctx, "calc")
		}()
	}
	wg.Wait()

	ids := map[string]bool{}
	for i := range results {
		require.NoError(t, errs[i])
		ids[results[i].ID] = true
	}
	stored, err := f.svc.Assessment(ctx, "calc")
	require.NoError(t, err)
	assert.True(t, ids[stored.ID], "stored assessment must be one that was returned")
}

func TestService_DeleteProjectEvicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "calc")

	_, err := f.svc.Assess(ctx, "calc")
	require.NoError(t, err)
	_, err = f.svc.Plan(ctx, "calc", nil)
	require.NoError(t, err)

	f.svc.Evict("calc")

	_, err = f.svc.Assessment(ctx, "calc")
	assert.ErrorIs(t, err, ErrAssessmentNotFound)
	_, err = f.svc.LastPlan(ctx, "calc")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	assert.ErrorIs(t, f.svc.DeleteProject(ctx, "-bad"), ErrInvalidInput)
}

func TestService_Projects(t *testing.T) {
	f := newFixture(t, "beta", "alpha")
	ids, err := f.svc.Projects()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, ids)
}

func TestNewService_RequiresDeps(t *testing.T) {
	_, err := NewService(DefaultServiceConfig(), Deps{})
	assert.Error(t, err)
}

// gatedDetector emits one finding per token received on release.
type gatedDetector struct {
	started chan struct{}
	release chan struct{}
}

func (gatedDetector) ID() string                                 { return "test.gated" }
func (gatedDetector) Category() evidence.Category                { return evidence.CategoryCode }
func (gatedDetector) IsApplicable(*evidence.ProjectContext) bool { return true }

func (g gatedDetector) Detect(ctx context.Context, _ *evidence.ProjectContext) detect.Sequence {
	return func(yield func(evidence.Evidence) bool) {
		g.started <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return
		}
		yield(evidence.New("test.gated", evidence.CategoryCode,
			evidence.CodePointer{File: "sum.go", StartLine: 1, EndLine: 1},
			evidence.SeverityMinor, "gated finding", nil))
	}
}

func newGatedService(t *testing.T, g gatedDetector) *Service {
	t.Helper()
	f := newFixture(t, "calc")
	reg := detect.NewRegistry()
	require.NoError(t, reg.Register(g))
	f.svc.orchestrator = assess.New(reg)
	return f.svc
}

func TestService_CancelledAssessKeepsStoredResult(t *testing.T) {
	ctx := context.Background()
	g := gatedDetector{started: make(chan struct{}, 1), release: make(chan struct{})}
	svc := newGatedService(t, g)

	go func() {
		<-g.started
		g.release <- struct{}{}
	}()
	first, err := svc.Assess(ctx, "calc")
	require.NoError(t, err)
	require.Len(t, first.Evidence, 1)

	cctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Assess(cctx, "calc")
		errc <- err
	}()
	<-g.started
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	stored, err := svc.Assessment(ctx, "calc")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID, "a cancelled caller stores nothing")

	// The detached run still completes with real results.
	g.release <- struct{}{}
	require.Eventually(t, func() bool {
		latest, err := svc.Assessment(ctx, "calc")
		return err == nil && latest.ID != first.ID
	}, 5*time.Second, 10*time.Millisecond)
	latest, err := svc.Assessment(ctx, "calc")
	require.NoError(t, err)
	assert.Len(t, latest.Evidence, 1)
	assert.Empty(t, latest.Failures)
}

func TestService_AssessWithDoneContext(t *testing.T) {
	f := newFixture(t, "calc")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Assess(ctx, "calc")
	require.ErrorIs(t, err, context.Canceled)
	_, err = f.svc.Assessment(context.Background(), "calc")
	assert.ErrorIs(t, err, ErrAssessmentNotFound)
}

func TestService_ApplyRejectsTestScopeFlags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "calc")
	_, err := f.svc.Assess(ctx, "calc")
	require.NoError(t, err)
	_, err = f.svc.Plan(ctx, "calc", nil)
	require.NoError(t, err)
	before := f.read(t, "calc")

	run := true
	for _, scope := range []string{"-toolexec=/usr/bin/touch marker", "-exec=sh", "./... -o=/tmp/x"} {
		_, err := f.svc.Apply(ctx, "calc", ApplyOptions{RunTests: &run, TestScope: scope})
		assert.ErrorIs(t, err, ErrInvalidInput, scope)
	}
	assert.Equal(t, before, f.read(t, "calc"), "nothing is applied")
}
