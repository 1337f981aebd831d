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
	"math"
	"time"
)

// Maintainability index parameters.
const (
	MaintainabilityCeiling = 100.0
	MaintainabilityFloor   = 10.0
	FindingPenalty         = 0.5
	LinesPerPenaltyPoint   = 1000.0
	MaxLinePenalty         = 20.0
)

// DetectorFailure records a detector that contributed nothing because it
// failed, panicked or timed out.
type DetectorFailure struct {
	DetectorID string        `json:"detector_id"`
	Reason     string        `json:"reason"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ProjectMetrics is the aggregate measurement snapshot of an assessment.
type ProjectMetrics struct {
	TotalFiles           int              `json:"total_files"`
	TotalLines           int              `json:"total_lines"`
	FindingsBySeverity   map[Severity]int `json:"findings_by_severity"`
	FindingsByCategory   map[string]int   `json:"findings_by_category"`
	MaintainabilityIndex float64          `json:"maintainability_index"`
}

// AssessmentSummary is the headline view of an assessment.
type AssessmentSummary struct {
	TotalFindings        int              `json:"total_findings"`
	BySeverity           map[Severity]int `json:"by_severity"`
	MaintainabilityIndex float64          `json:"maintainability_index"`
	TotalFiles           int              `json:"total_files"`
	TotalLines           int              `json:"total_lines"`
}

// Assessment is the immutable result of running all detectors over one
// project snapshot. A later Assessment for the same project supersedes it.
type Assessment struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	CreatedAt time.Time         `json:"created_at"`
	Evidence  []Evidence        `json:"evidence"`
	Summary   AssessmentSummary `json:"summary"`
	Metrics   ProjectMetrics    `json:"metrics"`
	Failures  []DetectorFailure `json:"failures,omitempty"`
}

// MaintainabilityIndex computes the 10..100 quality score.
//
// The score starts at 100, loses FindingPenalty per finding and one point
// per thousand lines (at most MaxLinePenalty), and is clamped to
// [MaintainabilityFloor, MaintainabilityCeiling].
func MaintainabilityIndex(findings, totalLines int) float64 {
	linePenalty := math.Min(float64(max(totalLines, 0))/LinesPerPenaltyPoint, MaxLinePenalty)
	score := MaintainabilityCeiling - FindingPenalty*float64(max(findings, 0)) - linePenalty
	score = math.Max(score, MaintainabilityFloor)
	score = math.Min(score, MaintainabilityCeiling)
	return math.Round(score*100) / 100
}

// ComputeMetrics derives ProjectMetrics from a finding sequence and file
// totals.
func ComputeMetrics(findings []Evidence, totalFiles, totalLines int) ProjectMetrics {
	m := ProjectMetrics{
		TotalFiles:           totalFiles,
		TotalLines:           totalLines,
		FindingsBySeverity:   make(map[Severity]int, len(AllSeverities)),
		FindingsByCategory:   make(map[string]int),
		MaintainabilityIndex: MaintainabilityIndex(len(findings), totalLines),
	}
	for _, s := range AllSeverities {
		m.FindingsBySeverity[s] = 0
	}
	for _, e := range findings {
		m.FindingsBySeverity[e.Severity]++
		m.FindingsByCategory[e.CategoryPrefix()]++
	}
	return m
}

// Summarize builds the AssessmentSummary matching m.
func Summarize(findings []Evidence, m ProjectMetrics) AssessmentSummary {
	bySev := make(map[Severity]int, len(m.FindingsBySeverity))
	for k, v := range m.FindingsBySeverity {
		bySev[k] = v
	}
	return AssessmentSummary{
		TotalFindings:        len(findings),
		BySeverity:           bySev,
		MaintainabilityIndex: m.MaintainabilityIndex,
		TotalFiles:           m.TotalFiles,
		TotalLines:           m.TotalLines,
	}
}
