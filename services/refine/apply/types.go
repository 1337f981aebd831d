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
	"errors"
	"time"

	"github.com/AleutianAI/AleutianRefine/services/refine/build"
	"github.com/AleutianAI/AleutianRefine/services/refine/impact"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

var (
	// ErrApplyInProgress is returned when the project already has an
	// apply running.
	ErrApplyInProgress = errors.New("apply already in progress for project")

	// ErrBackupFailed aborts an apply before any file is touched.
	ErrBackupFailed = errors.New("backup snapshot could not be created")

	// ErrBackupNotFound is returned by Rollback for an unknown backup id.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrNilPlan is returned when Apply is called without a plan.
	ErrNilPlan = errors.New("plan must not be nil")

	// ErrDirtyWorktree is returned when strict preflight finds local
	// changes in files the apply would touch.
	ErrDirtyWorktree = errors.New("target files have uncommitted changes")

	// ErrInvalidEdit is returned for edits escaping the project root.
	ErrInvalidEdit = errors.New("invalid file edit")

	// ErrNotApplicable is returned by a transformer that cannot handle a
	// target.
	ErrNotApplicable = errors.New("transformer not applicable")

	// ErrAborted marks transforms skipped after cancellation.
	ErrAborted = errors.New("aborted")
)

// State is a step of the apply state machine.
type State string

const (
	StatePending            State = "PENDING"
	StateApplying           State = "APPLYING"
	StateApplied            State = "APPLIED"
	StateFailed             State = "FAILED"
	StateVerifying          State = "VERIFYING"
	StateVerified           State = "VERIFIED"
	StateVerificationFailed State = "VERIFICATION_FAILED"
	StateRolledBack         State = "ROLLED_BACK"
	StateBlocked            State = "BLOCKED"
)

// ChangeAction tells what happened to a file.
type ChangeAction string

const (
	ActionModified ChangeAction = "modified"
	ActionCreated  ChangeAction = "created"
)

// FileChange is one file written by a transform.
type FileChange struct {
	Path         string       `json:"path"`
	Action       ChangeAction `json:"action"`
	Diff         string       `json:"diff"`
	LinesAdded   int          `json:"lines_added"`
	LinesDeleted int          `json:"lines_deleted"`
}

// Check is one verification step.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// VerificationResult aggregates checks. Skipped results count as passed.
type VerificationResult struct {
	Passed  bool          `json:"passed"`
	Skipped bool          `json:"skipped,omitempty"`
	Checks  []Check       `json:"checks,omitempty"`
	Compile *build.Result `json:"compile,omitempty"`
	Test    *build.Result `json:"test,omitempty"`
}

func (v *VerificationResult) add(c Check) {
	v.Checks = append(v.Checks, c)
	if !c.Passed {
		v.Passed = false
	}
}

// TransformResult is a transform that was applied.
type TransformResult struct {
	TransformID  string             `json:"transform_id"`
	Kind         plan.TransformKind `json:"kind"`
	State        State              `json:"state"`
	Changes      []FileChange       `json:"changes"`
	Verification VerificationResult `json:"verification"`
}

// FailedTransform is a transform that produced no changes.
type FailedTransform struct {
	TransformID string `json:"transform_id"`
	State       State  `json:"state"`
	Error       string `json:"error"`
}

// ApplyResult is emitted once every selected transform was attempted.
// For every selected id exactly one of Results or Failures holds an entry,
// except when Blocked, where both are empty.
type ApplyResult struct {
	ProjectID     string             `json:"project_id"`
	PlanID        string             `json:"plan_id"`
	BackupID      string             `json:"backup_id,omitempty"`
	State         State              `json:"state"`
	DryRun        bool               `json:"dry_run"`
	Blocked       bool               `json:"blocked"`
	BlockedReason string             `json:"blocked_reason,omitempty"`
	RiskLevel     impact.RiskLevel   `json:"risk_level"`
	Results       []TransformResult  `json:"results"`
	Failures      []FailedTransform  `json:"failures"`
	Verification  VerificationResult `json:"verification"`
	Warnings      []string           `json:"warnings,omitempty"`
	RolledBack    bool               `json:"rolled_back"`
	Timestamp     time.Time          `json:"timestamp"`
}

// RollbackResult reports what a rollback restored.
type RollbackResult struct {
	BackupID  string   `json:"backup_id"`
	ProjectID string   `json:"project_id"`
	Restored  []string `json:"restored"`
	Removed   []string `json:"removed"`
}
