// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evidence

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity_OrderAndWeights(t *testing.T) {
	for i := 1; i < len(AllSeverities); i++ {
		assert.True(t, AllSeverities[i].AtLeast(AllSeverities[i-1]))
		assert.Greater(t, AllSeverities[i].Weight(), AllSeverities[i-1].Weight())
	}
	assert.Equal(t, 20, SeverityBlocker.Weight())
	assert.Equal(t, 10, SeverityCritical.Weight())
	assert.Equal(t, 5, SeverityMajor.Weight())
	assert.Equal(t, 2, SeverityMinor.Weight())
	assert.Equal(t, 1, SeverityInfo.Weight())
	assert.Equal(t, 0, Severity(42).Weight())
	assert.False(t, Severity(-1).Valid())
}

func TestParseSeverity(t *testing.T) {
	t.Run("case insensitive", func(t *testing.T) {
		s, err := ParseSeverity(" critical ")
		require.NoError(t, err)
		assert.Equal(t, SeverityCritical, s)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := ParseSeverity("urgent")
		assert.True(t, errors.Is(err, ErrInvalidSeverity))
	})
}

func TestSeverity_JSON(t *testing.T) {
	data, err := json.Marshal(map[Severity]int{SeverityMajor: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"MAJOR":2}`, string(data))

	var decoded struct {
		Severity Severity `json:"severity"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"severity":"BLOCKER"}`), &decoded))
	assert.Equal(t, SeverityBlocker, decoded.Severity)

	assert.Error(t, json.Unmarshal([]byte(`{"severity":3}`), &decoded))
}

func TestMaintainabilityIndex(t *testing.T) {
	tests := []struct {
		name     string
		findings int
		lines    int
		want     float64
	}{
		{"clean small project", 0, 0, 100},
		{"findings only", 10, 0, 95},
		{"line penalty", 0, 5000, 95},
		{"line penalty capped", 0, 1_000_000, 80},
		{"floor", 500, 50_000, 10},
		{"negative inputs", -3, -10, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MaintainabilityIndex(tt.findings, tt.lines), 0.001)
		})
	}
}

func TestComputeMetrics(t *testing.T) {
	findings := []Evidence{
		New("design.long-method", CategoryDesign, CodePointer{File: "a.go"}, SeverityMajor, "long", nil),
		New("design.long-parameter-list", CategoryDesign, CodePointer{File: "a.go"}, SeverityMinor, "params", nil),
		New("code.magic-number", CategoryCode, CodePointer{File: "b.go"}, SeverityMajor, "magic", nil),
	}

	m := ComputeMetrics(findings, 2, 300)

	assert.Equal(t, 2, m.TotalFiles)
	assert.Equal(t, 300, m.TotalLines)
	assert.Equal(t, 2, m.FindingsBySeverity[SeverityMajor])
	assert.Equal(t, 1, m.FindingsBySeverity[SeverityMinor])
	assert.Equal(t, 0, m.FindingsBySeverity[SeverityBlocker])
	assert.Equal(t, map[string]int{"design": 2, "code": 1}, m.FindingsByCategory)
	assert.InDelta(t, 98.2, m.MaintainabilityIndex, 0.001)

	sum := Summarize(findings, m)
	assert.Equal(t, 3, sum.TotalFindings)
	assert.Equal(t, m.MaintainabilityIndex, sum.MaintainabilityIndex)
}

func TestEvidence_Accessors(t *testing.T) {
	metrics := map[string]Metric{
		MetricSmell: Str("god-class"),
		MetricValue: Int(1200),
	}
	e := New("design.large-class", CategoryDesign, CodePointer{File: "Big.java", Class: "Big", StartLine: 3}, SeverityCritical, "big", metrics)

	metrics[MetricValue] = Int(1)
	v, ok := e.Number(MetricValue)
	require.True(t, ok)
	assert.Equal(t, 1200.0, v)

	assert.Equal(t, "god-class", e.Smell())
	assert.Equal(t, "design.large-class", e.Type())
	assert.Equal(t, "design", e.CategoryPrefix())
	assert.Equal(t, "Big.java:3 (Big)", e.Pointer.String())

	_, ok = e.Text(MetricValue)
	assert.False(t, ok)
}

func TestNewProjectContext(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\r\nvar x = 1\n"), 0o644))

	props := map[string]string{"lang": "go"}
	pc, err := NewProjectContext(ProjectConfig{
		ID:          "demo",
		Root:        root,
		SourceFiles: []string{"pkg/a.go", "./pkg/a.go", "pkg/z.go"},
		TestFiles:   []string{"pkg/a_test.go"},
		Properties:  props,
	})
	require.NoError(t, err)

	props["lang"] = "java"
	v, _ := pc.Property("lang")
	assert.Equal(t, "go", v)
	assert.Equal(t, BuildUnknown, pc.BuildSystem())
	assert.Equal(t, []string{"pkg/a.go", "pkg/z.go"}, pc.SourceFiles())
	assert.True(t, pc.IsTest("pkg/a_test.go"))
	assert.False(t, pc.IsTest("pkg/a.go"))

	files := pc.SourceFiles()
	files[0] = "mutated"
	assert.Equal(t, "pkg/a.go", pc.SourceFiles()[0])

	lines, err := pc.ReadLines("pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"package pkg", "var x = 1"}, lines)

	_, err = pc.ReadFile("other.go")
	assert.ErrorIs(t, err, ErrNotInProject)

	_, err = NewProjectContext(ProjectConfig{Root: root, SourceFiles: []string{"../escape.go"}})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestSplitLines_OverlongLineIsAnError(t *testing.T) {
	lines, err := SplitLines([]byte("a\r\nb\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)

	long := append([]byte("first\n"), bytes.Repeat([]byte("x"), MaxLineLength+1)...)
	_, err = SplitLines(append(long, "\nlast\n"...))
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
