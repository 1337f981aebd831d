// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cluster partitions assessment findings by type, severity and
// impact, and ranks the most problematic areas of a project.
//
// Every function here is pure: clustering depends only on a finding's
// detector id, category and severity, never on its content.
package cluster

import (
	"cmp"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianRefine/services/refine/detect"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// TypeCluster is the structural family a finding belongs to.
type TypeCluster string

const (
	ClusterClass         TypeCluster = "class-level"
	ClusterMethod        TypeCluster = "method-level"
	ClusterDesign        TypeCluster = "design-level"
	ClusterCode          TypeCluster = "code-level"
	ClusterArchitectural TypeCluster = "architectural"
)

// AllTypeClusters lists the type clusters in report order.
var AllTypeClusters = []TypeCluster{
	ClusterClass,
	ClusterMethod,
	ClusterDesign,
	ClusterCode,
	ClusterArchitectural,
}

// ImpactBucket is the coarse impact grouping of a finding.
type ImpactBucket string

const (
	ImpactHigh   ImpactBucket = "HIGH"
	ImpactMedium ImpactBucket = "MEDIUM"
	ImpactLow    ImpactBucket = "LOW"
)

// AllImpactBuckets lists the buckets from most to least severe.
var AllImpactBuckets = []ImpactBucket{ImpactHigh, ImpactMedium, ImpactLow}

var detectorClusters = map[string]TypeCluster{
	detect.IDLongMethod:        ClusterMethod,
	detect.IDLongParameterList: ClusterMethod,
	detect.IDFeatureEnvy:       ClusterMethod,
	detect.IDLargeClass:        ClusterClass,
	detect.IDDataClass:         ClusterClass,
	detect.IDMessageChain:      ClusterDesign,
	detect.IDDeepNesting:       ClusterMethod,
	detect.IDMagicNumber:       ClusterCode,
	detect.IDEmptyCatch:        ClusterCode,
	detect.IDDuplicateBlock:    ClusterCode,
	detect.IDDebtMarker:        ClusterCode,
	detect.IDImportCount:       ClusterArchitectural,
	detect.IDCyclicDependency:  ClusterArchitectural,
}

var categoryClusters = map[evidence.Category]TypeCluster{
	evidence.CategoryDesign:          ClusterDesign,
	evidence.CategoryCode:            ClusterCode,
	evidence.CategoryArchitecture:    ClusterArchitectural,
	evidence.CategoryMaintainability: ClusterCode,
}

// ClusterFor returns the type cluster of e: the detector's own mapping
// when known, otherwise the one implied by its category, otherwise the
// detector-id prefix.
func ClusterFor(e evidence.Evidence) TypeCluster {
	if c, ok := detectorClusters[e.DetectorID]; ok {
		return c
	}
	if c, ok := categoryClusters[e.Category]; ok {
		return c
	}
	if c, ok := categoryClusters[evidence.Category(e.CategoryPrefix())]; ok {
		return c
	}
	return ClusterCode
}

// ImpactFor returns the impact bucket of e.
func ImpactFor(e evidence.Evidence) ImpactBucket {
	c := ClusterFor(e)
	switch {
	case e.Severity.AtLeast(evidence.SeverityCritical), c == ClusterArchitectural:
		return ImpactHigh
	case e.Severity == evidence.SeverityMajor, c == ClusterClass:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// Partitions holds three independent, exhaustive and disjoint groupings
// of one finding sequence. Values are indices into that sequence in
// ascending order.
type Partitions struct {
	ByType     map[TypeCluster][]int       `json:"by_type"`
	BySeverity map[evidence.Severity][]int `json:"by_severity"`
	ByImpact   map[ImpactBucket][]int      `json:"by_impact"`
}

// Partition groups findings along every dimension.
func Partition(findings []evidence.Evidence) Partitions {
	p := Partitions{
		ByType:     make(map[TypeCluster][]int),
		BySeverity: make(map[evidence.Severity][]int),
		ByImpact:   make(map[ImpactBucket][]int),
	}
	for i, e := range findings {
		t := ClusterFor(e)
		p.ByType[t] = append(p.ByType[t], i)
		p.BySeverity[e.Severity] = append(p.BySeverity[e.Severity], i)
		imp := ImpactFor(e)
		p.ByImpact[imp] = append(p.ByImpact[imp], i)
	}
	return p
}

// ClusterStatistics summarizes one type cluster.
type ClusterStatistics struct {
	Cluster    TypeCluster               `json:"cluster"`
	Count      int                       `json:"count"`
	BySeverity map[evidence.Severity]int `json:"by_severity"`
	Score      int                       `json:"score"`
}

// Statistics returns one entry per type cluster, in AllTypeClusters
// order, including empty clusters.
func Statistics(findings []evidence.Evidence) []ClusterStatistics {
	index := make(map[TypeCluster]int, len(AllTypeClusters))
	stats := make([]ClusterStatistics, len(AllTypeClusters))
	for i, c := range AllTypeClusters {
		index[c] = i
		stats[i] = ClusterStatistics{Cluster: c, BySeverity: zeroSeverities()}
	}
	for _, e := range findings {
		s := &stats[index[ClusterFor(e)]]
		s.Count++
		s.BySeverity[e.Severity]++
		s.Score += e.Severity.Weight()
	}
	return stats
}

// Area is one entry in the ranked list of problematic areas.
type Area struct {
	Area     string `json:"area"`
	Findings int    `json:"findings"`
	Score    int    `json:"score"`
}

// ProjectArea names findings that carry no file.
const ProjectArea = "(project)"

// TopAreas ranks files by severity-weighted score.
//
// # Description
//
// Each finding adds its severity weight to the score of its file. Areas
// are sorted by score descending; equal scores keep first-seen order.
//
// # Inputs
//
//   - limit: Maximum number of areas. Must be > 0, otherwise the result
//     is empty.
func TopAreas(findings []evidence.Evidence, limit int) []Area {
	if limit <= 0 {
		return []Area{}
	}

	var areas []Area
	index := make(map[string]int)
	for _, e := range findings {
		name := strings.TrimSpace(e.Pointer.File)
		if name == "" {
			name = ProjectArea
		}
		i, ok := index[name]
		if !ok {
			i = len(areas)
			index[name] = i
			areas = append(areas, Area{Area: name})
		}
		areas[i].Findings++
		areas[i].Score += e.Severity.Weight()
	}

	slices.SortStableFunc(areas, func(a, b Area) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if limit < len(areas) {
		areas = areas[:limit]
	}
	if areas == nil {
		return []Area{}
	}
	return areas
}

// Report bundles every clustering view of one assessment.
type Report struct {
	AssessmentID string                    `json:"assessment_id"`
	ProjectID    string                    `json:"project_id"`
	Total        int                       `json:"total"`
	Partitions   Partitions                `json:"partitions"`
	Statistics   []ClusterStatistics       `json:"statistics"`
	ImpactCounts map[ImpactBucket]int      `json:"impact_counts"`
	Severity     map[evidence.Severity]int `json:"severity_counts"`
	TopAreas     []Area                    `json:"top_areas"`
}

// NewReport clusters the findings of a.
func NewReport(a *evidence.Assessment, limit int) Report {
	p := Partition(a.Evidence)
	impact := make(map[ImpactBucket]int, len(AllImpactBuckets))
	for _, b := range AllImpactBuckets {
		impact[b] = len(p.ByImpact[b])
	}
	severity := zeroSeverities()
	for s, idx := range p.BySeverity {
		severity[s] = len(idx)
	}
	return Report{
		AssessmentID: a.ID,
		ProjectID:    a.ProjectID,
		Total:        len(a.Evidence),
		Partitions:   p,
		Statistics:   Statistics(a.Evidence),
		ImpactCounts: impact,
		Severity:     severity,
		TopAreas:     TopAreas(a.Evidence, limit),
	}
}

func zeroSeverities() map[evidence.Severity]int {
	m := make(map[evidence.Severity]int, len(evidence.AllSeverities))
	for _, s := range evidence.AllSeverities {
		m[s] = 0
	}
	return m
}
