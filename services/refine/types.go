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
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`
}

// HealthResponse is returned by GET /v1/refine/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ProjectsResponse is returned by GET /v1/refine/projects.
type ProjectsResponse struct {
	Projects []string `json:"projects"`
}

// PlanRequest is the body of POST /v1/refine/projects/:id/plan. Omitted
// fields keep the configured defaults.
type PlanRequest struct {
	RiskTolerance *float64           `json:"risk_tolerance,omitempty"`
	MinSeverity   *evidence.Severity `json:"min_severity,omitempty"`
	MaxTransforms *int               `json:"max_transforms,omitempty"`
	Detectors     []string           `json:"detectors,omitempty"`
}

// options merges the request over base.
func (r PlanRequest) options(base plan.Options) plan.Options {
	o := base
	if r.RiskTolerance != nil {
		o.RiskTolerance = *r.RiskTolerance
	}
	if r.MinSeverity != nil {
		o.MinSeverity = *r.MinSeverity
	}
	if r.MaxTransforms != nil {
		o.MaxTransforms = *r.MaxTransforms
	}
	if r.Detectors != nil {
		o.Detectors = r.Detectors
	}
	return o
}

// ImpactRequest is the body of POST /v1/refine/projects/:id/impact.
type ImpactRequest struct {
	TransformIDs []string `json:"transform_ids"`
}

// ApplyRequest is the body of POST /v1/refine/projects/:id/apply.
type ApplyRequest struct {
	TransformIDs      []string `json:"transform_ids"`
	DryRun            bool     `json:"dry_run"`
	RollbackOnFailure *bool    `json:"rollback_on_failure,omitempty"`
	RunTests          *bool    `json:"run_tests,omitempty"`
	TestScope         string   `json:"test_scope,omitempty" binding:"omitempty,max=256,startsnotwith=-"`
}

// RollbackRequest is the body of POST /v1/refine/projects/:id/rollback.
type RollbackRequest struct {
	BackupID string `json:"backup_id" binding:"required,uuid"`
}
