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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/detect"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

type stubDetector struct {
	id       string
	skip     bool
	findings []evidence.Evidence
	delay    time.Duration
	block    bool
	panicMsg string
}

func (s stubDetector) ID() string                  { return s.id }
func (s stubDetector) Category() evidence.Category { return evidence.CategoryCode }

func (s stubDetector) IsApplicable(*evidence.ProjectContext) bool { return !s.skip }

func (s stubDetector) Detect(ctx context.Context, _ *evidence.ProjectContext) detect.Sequence {
	return func(yield func(evidence.Evidence) bool) {
		if s.panicMsg != "" {
			panic(s.panicMsg)
		}
		if s.block {
			<-ctx.Done()
			return
		}
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return
			}
		}
		for _, e := range s.findings {
			if !yield(e) {
				return
			}
		}
	}
}

func finding(id, file string, sev evidence.Severity) evidence.Evidence {
	return evidence.New(id, evidence.CategoryCode, evidence.CodePointer{File: file, StartLine: 1, EndLine: 1}, sev, "stub finding", nil)
}

func project(t *testing.T, lines int) *evidence.ProjectContext {
	t.Helper()
	root := t.TempDir()
	content := strings.Repeat("x := 1\n", lines)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte(content), 0o644))
	pc, err := evidence.NewProjectContext(evidence.ProjectConfig{
		ID:          "demo",
		Root:        root,
		SourceFiles: []string{"main.go"},
	})
	require.NoError(t, err)
	return pc
}

func registry(t *testing.T, detectors ...detect.Detector) *detect.Registry {
	t.Helper()
	r := detect.NewRegistry()
	for _, d := range detectors {
		require.NoError(t, r.Register(d))
	}
	return r
}

func TestAssess_RegistrationOrderIndependentOfCompletion(t *testing.T) {
	slow := stubDetector{id: "slow", delay: 30 * time.Millisecond, findings: []evidence.Evidence{
		finding("slow", "a.go", evidence.SeverityMajor),
		finding("slow", "b.go", evidence.SeverityMinor),
	}}
	fast := stubDetector{id: "fast", findings: []evidence.Evidence{
		finding("fast", "c.go", evidence.SeverityInfo),
	}}
	o := New(registry(t, slow, fast), WithMaxConcurrency(2))

	a := o.Assess(context.Background(), project(t, 10))

	require.Len(t, a.Evidence, 3)
	assert.Equal(t, []string{"slow", "slow", "fast"}, []string{a.Evidence[0].DetectorID, a.Evidence[1].DetectorID, a.Evidence[2].DetectorID})
	assert.Equal(t, "a.go", a.Evidence[0].Pointer.File)
	assert.Equal(t, "b.go", a.Evidence[1].Pointer.File)
	assert.Empty(t, a.Failures)
	assert.Equal(t, "demo", a.ProjectID)
	assert.NotEmpty(t, a.ID)
}

func TestAssess_PanickingDetectorIsIsolated(t *testing.T) {
	ok := stubDetector{id: "ok", findings: []evidence.Evidence{finding("ok", "a.go", evidence.SeverityMajor)}}
	bad := stubDetector{id: "bad", panicMsg: "boom"}
	o := New(registry(t, bad, ok))

	a := o.Assess(context.Background(), project(t, 10))

	require.Len(t, a.Evidence, 1)
	assert.Equal(t, "ok", a.Evidence[0].DetectorID)
	require.Len(t, a.Failures, 1)
	assert.Equal(t, "bad", a.Failures[0].DetectorID)
	assert.Contains(t, a.Failures[0].Reason, "boom")
	assert.False(t, a.Failures[0].TimedOut)
}

func TestAssess_TimeoutLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	stuck := stubDetector{id: "stuck", block: true}
	ok := stubDetector{id: "ok", findings: []evidence.Evidence{finding("ok", "a.go", evidence.SeverityMinor)}}
	o := New(registry(t, stuck, ok), WithTimeout(50*time.Millisecond))

	a := o.Assess(context.Background(), project(t, 10))

	require.Len(t, a.Evidence, 1)
	require.Len(t, a.Failures, 1)
	assert.Equal(t, "stuck", a.Failures[0].DetectorID)
	assert.True(t, a.Failures[0].TimedOut)
	assert.Contains(t, a.Failures[0].Reason, "timed out")
}

func TestAssess_AllDetectorsFail(t *testing.T) {
	o := New(registry(t,
		stubDetector{id: "p1", panicMsg: "one"},
		stubDetector{id: "p2", panicMsg: "two"},
	))

	a := o.Assess(context.Background(), project(t, 50))

	assert.Empty(t, a.Evidence)
	assert.Len(t, a.Failures, 2)
	assert.Equal(t, 0, a.Summary.TotalFindings)
	assert.GreaterOrEqual(t, a.Metrics.MaintainabilityIndex, 10.0)
	assert.LessOrEqual(t, a.Metrics.MaintainabilityIndex, 100.0)
}

func TestAssess_ForeignDetectorIDIsRestamped(t *testing.T) {
	liar := stubDetector{id: "honest", findings: []evidence.Evidence{finding("someone-else", "a.go", evidence.SeverityMinor)}}
	o := New(registry(t, liar))

	a := o.Assess(context.Background(), project(t, 10))

	require.Len(t, a.Evidence, 1)
	assert.Equal(t, "honest", a.Evidence[0].DetectorID)
}

func TestAssess_InapplicableDetectorIsNotAFailure(t *testing.T) {
	o := New(registry(t, stubDetector{id: "n/a", skip: true, panicMsg: "must not run"}))

	a := o.Assess(context.Background(), project(t, 10))

	assert.Empty(t, a.Evidence)
	assert.Empty(t, a.Failures)
}

func TestAssess_MetricsOverLines(t *testing.T) {
	d := stubDetector{id: "three", findings: []evidence.Evidence{
		finding("three", "main.go", evidence.SeverityMajor),
		finding("three", "main.go", evidence.SeverityMajor),
		finding("three", "main.go", evidence.SeverityCritical),
	}}
	pool, err := codemodel.NewPool(codemodel.DefaultRegistry(), 2)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := New(registry(t, d), WithModelPool(pool), WithClock(func() time.Time { return fixed }))

	a := o.Assess(context.Background(), project(t, 300))

	assert.Equal(t, 1, a.Metrics.TotalFiles)
	assert.Equal(t, 300, a.Metrics.TotalLines)
	assert.InDelta(t, 98.2, a.Metrics.MaintainabilityIndex, 1e-9)
	assert.Equal(t, 2, a.Summary.BySeverity[evidence.SeverityMajor])
	assert.Equal(t, 1, a.Summary.BySeverity[evidence.SeverityCritical])
	assert.Equal(t, 0, a.Summary.BySeverity[evidence.SeverityBlocker])
	assert.Equal(t, fixed, a.CreatedAt)
}

func TestAssess_CancelledParentStillReturns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := New(registry(t, stubDetector{id: "stuck", block: true}))

	a := o.Assess(ctx, project(t, 10))

	require.NotNil(t, a)
	require.Len(t, a.Failures, 1)
	assert.False(t, a.Failures[0].TimedOut)
}

func TestAssess_ParentDeadlineIsNotADetectorTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	o := New(registry(t, stubDetector{id: "stuck", block: true}), WithTimeout(time.Hour))

	a := o.Assess(ctx, project(t, 10))

	require.Len(t, a.Failures, 1)
	assert.False(t, a.Failures[0].TimedOut)
	assert.NotContains(t, a.Failures[0].Reason, "timed out after")
	assert.Contains(t, a.Failures[0].Reason, context.DeadlineExceeded.Error())
}

func TestAssess_DefaultRegistryOverRealProject(t *testing.T) {
	root := t.TempDir()
	var b strings.Builder
	b.WriteString("package calc\n\nfunc Sum(a, b, c int) int {\n\tx := 0\n")
	for range 24 {
		b.WriteString("\tx += a\n")
	}
	b.WriteString("\treturn x\n}\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "sum.go"), []byte(b.String()), 0o644))
	pc, err := evidence.NewProjectContext(evidence.ProjectConfig{ID: "calc", Root: root, SourceFiles: []string{"sum.go"}})
	require.NoError(t, err)
	pool, err := codemodel.NewPool(codemodel.DefaultRegistry(), 2)
	require.NoError(t, err)

	o := New(detect.DefaultRegistry(detect.DefaultThresholds(), pool), WithModelPool(pool))
	a := o.Assess(context.Background(), pc)

	assert.Empty(t, a.Failures)
	var ids []string
	for _, e := range a.Evidence {
		ids = append(ids, e.DetectorID)
	}
	assert.Contains(t, ids, detect.IDLongMethod)
	assert.NotContains(t, ids, detect.IDLongParameterList)
}
