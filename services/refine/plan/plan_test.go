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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRefine/services/refine/detect"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

func finding(id string, sev evidence.Severity, ptr evidence.CodePointer, metrics map[string]evidence.Metric) evidence.Evidence {
	return evidence.New(id, evidence.Category(""), ptr, sev, "", metrics)
}

func assessment(findings ...evidence.Evidence) *evidence.Assessment {
	return &evidence.Assessment{ID: "assessment-1", ProjectID: "demo", Evidence: findings}
}

func kinds(p *Plan) []TransformKind {
	out := make([]TransformKind, 0, len(p.Transforms))
	for _, t := range p.Transforms {
		out = append(out, t.Kind)
	}
	return out
}

func TestGenerate_SortedByPriorityTiesKeepFindingOrder(t *testing.T) {
	a := assessment(
		finding(detect.IDMagicNumber, evidence.SeverityMinor, evidence.CodePointer{File: "a.go", StartLine: 3}, nil),
		finding(detect.IDLongMethod, evidence.SeverityMajor, evidence.CodePointer{File: "b.go", Method: "Run"}, nil),
		finding(detect.IDMagicNumber, evidence.SeverityMinor, evidence.CodePointer{File: "c.go", StartLine: 9}, nil),
		finding(detect.IDDeepNesting, evidence.SeverityMinor, evidence.CodePointer{File: "d.go", Method: "Walk"}, nil),
	)

	p, err := Generate(a, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []TransformKind{KindExtractMethod, KindGuardClauses, KindExtractConstant, KindExtractConstant}, kinds(p))
	assert.Equal(t, "a.go", p.Transforms[2].Target.File)
	assert.Equal(t, "c.go", p.Transforms[3].Target.File)
	assert.Equal(t, "0", p.Transforms[2].Metadata[MetaEvidenceIndex])
	assert.InDelta(t, 0.65, p.Transforms[0].Priority, 1e-9)
	assert.Equal(t, "assessment-1", p.AssessmentID)
	assert.Equal(t, "demo", p.ProjectID)
}

func TestGenerate_RerunIsIdentical(t *testing.T) {
	a := assessment(
		finding(detect.IDFeatureEnvy, evidence.SeverityMajor, evidence.CodePointer{File: "x.go", Method: "Envy"}, nil),
		finding(detect.IDMessageChain, evidence.SeverityMinor, evidence.CodePointer{File: "x.go", Method: "Chain"}, nil),
		finding(detect.IDEmptyCatch, evidence.SeverityMajor, evidence.CodePointer{File: "y.java"}, nil),
		finding(detect.IDDuplicateBlock, evidence.SeverityMinor, evidence.CodePointer{File: "z.ts"}, nil),
	)

	p1, err := Generate(a, DefaultOptions())
	require.NoError(t, err)
	p2, err := Generate(a, DefaultOptions())
	require.NoError(t, err)

	if diff := cmp.Diff(p1.Transforms, p2.Transforms); diff != "" {
		t.Errorf("regenerated plan differs (-first +second):\n%s", diff)
	}
	assert.NotEqual(t, p1.ID, p2.ID)
}

func TestGenerate_GodClassSelectsPair(t *testing.T) {
	god := finding(detect.IDLargeClass, evidence.SeverityCritical,
		evidence.CodePointer{File: "Big.java", Class: "Big"},
		map[string]evidence.Metric{evidence.MetricSmell: evidence.Str(detect.SmellGodClass)})
	large := finding(detect.IDLargeClass, evidence.SeverityMajor,
		evidence.CodePointer{File: "Mid.java", Class: "Mid"},
		map[string]evidence.Metric{evidence.MetricSmell: evidence.Str(detect.SmellLargeClass)})

	p, err := Generate(assessment(god, large), DefaultOptions())
	require.NoError(t, err)

	require.Len(t, p.Transforms, 3)
	assert.ElementsMatch(t, []TransformKind{KindExtractClass, KindMoveMethod, KindExtractClass}, kinds(p))
	assert.Equal(t, TargetClass, p.Transforms[0].Target.Kind)
	assert.Equal(t, detect.SmellGodClass, p.Transforms[0].Metadata[MetaSmell])

	ids := map[string]bool{}
	for _, tr := range p.Transforms {
		ids[tr.ID] = true
	}
	assert.Len(t, ids, 3, "transform ids must be unique")
}

func TestGenerate_UnknownDetectorFallsBack(t *testing.T) {
	p, err := Generate(assessment(finding("vendor.custom", evidence.SeverityInfo, evidence.CodePointer{File: "a.go"}, nil)), DefaultOptions())
	require.NoError(t, err)

	require.Len(t, p.Transforms, 1)
	assert.Equal(t, KindReviewFinding, p.Transforms[0].Kind)
	assert.Equal(t, TargetFile, p.Transforms[0].Target.Kind)
}

func TestGenerate_Filters(t *testing.T) {
	a := assessment(
		finding(detect.IDDebtMarker, evidence.SeverityInfo, evidence.CodePointer{File: "a.go"}, nil),
		finding(detect.IDLongMethod, evidence.SeverityMajor, evidence.CodePointer{File: "a.go", Method: "A"}, nil),
		finding(detect.IDLongMethod, evidence.SeverityCritical, evidence.CodePointer{File: "b.go", Method: "B"}, nil),
		finding(detect.IDImportCount, evidence.SeverityMajor, evidence.CodePointer{File: "c.go"}, nil),
	)

	opts := DefaultOptions()
	opts.MinSeverity = evidence.SeverityMajor
	p, err := Generate(a, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Summary.TotalTransforms)

	opts.Detectors = []string{detect.IDLongMethod}
	opts.MaxTransforms = 1
	p, err = Generate(a, opts)
	require.NoError(t, err)
	require.Len(t, p.Transforms, 1)
	assert.Equal(t, "A", p.Transforms[0].Target.Method)
}

func TestGenerate_EmptyAssessment(t *testing.T) {
	p, err := Generate(assessment(), DefaultOptions())
	require.NoError(t, err)
	assert.NotNil(t, p.Transforms)
	assert.Empty(t, p.Transforms)
	assert.Equal(t, 0, p.Summary.TotalTransforms)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Options) {}},
		{name: "zero tolerance", mutate: func(o *Options) { o.RiskTolerance = 0 }},
		{name: "tolerance above one", mutate: func(o *Options) { o.RiskTolerance = 1.5 }, wantErr: true},
		{name: "negative tolerance", mutate: func(o *Options) { o.RiskTolerance = -0.1 }, wantErr: true},
		{name: "bad severity", mutate: func(o *Options) { o.MinSeverity = evidence.Severity(9) }, wantErr: true},
		{name: "blocker floor", mutate: func(o *Options) { o.MinSeverity = evidence.SeverityBlocker }},
		{name: "negative max", mutate: func(o *Options) { o.MaxTransforms = -1 }, wantErr: true},
		{name: "empty detector id", mutate: func(o *Options) { o.Detectors = []string{""} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOptions)
				_, genErr := Generate(assessment(), o)
				assert.ErrorIs(t, genErr, ErrInvalidOptions)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSummarize_DefaultsForMissingEstimates(t *testing.T) {
	s := Summarize([]PlannedTransform{
		{Kind: KindReviewFinding},
		{Kind: KindExtractMethod, Metadata: map[string]string{MetaPayoff: "0.8", MetaRisk: "0.3", MetaCost: "bogus"}},
	})

	assert.Equal(t, 2, s.TotalTransforms)
	assert.InDelta(t, 0.5+0.8, s.TotalPayoff, 1e-9)
	assert.InDelta(t, 0.5+0.3, s.TotalRisk, 1e-9)
	assert.InDelta(t, 1.0+1.0, s.TotalCost, 1e-9)
	assert.Equal(t, 1, s.ByKind[KindExtractMethod])
}

func TestTemplates_InheritanceKinds(t *testing.T) {
	cycle := finding(detect.IDCyclicDependency, evidence.SeverityCritical, evidence.CodePointer{File: "a/a.go"}, nil)
	tpl := TemplatesFor(cycle)
	require.Len(t, tpl, 1)
	assert.True(t, TouchesInheritance(tpl[0].Kind))
	assert.False(t, TouchesInheritance(KindExtractMethod))

	for id, ts := range templates {
		for _, tp := range ts {
			assert.GreaterOrEqual(t, tp.Payoff, 0.0, id)
			assert.LessOrEqual(t, tp.Payoff, 1.0, id)
			assert.GreaterOrEqual(t, tp.Risk, 0.0, id)
			assert.LessOrEqual(t, tp.Risk, 1.0, id)
		}
	}
}

func TestTransformID_Deterministic(t *testing.T) {
	a := TransformID("x", 1, KindExtractMethod)
	assert.Equal(t, a, TransformID("x", 1, KindExtractMethod))
	assert.NotEqual(t, a, TransformID("x", 2, KindExtractMethod))
	assert.NotEqual(t, a, TransformID("y", 1, KindExtractMethod))
}
