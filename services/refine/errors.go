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
	"errors"

	"github.com/AleutianAI/AleutianRefine/services/refine/apply"
	"github.com/AleutianAI/AleutianRefine/services/refine/workspace"
)

// Sentinel errors returned by Service. Errors from the collaborating
// packages are re-exported where callers need to match them.
var (
	// ErrAssessmentNotFound means the project has not been assessed yet.
	ErrAssessmentNotFound = errors.New("assessment not found")

	// ErrPlanNotFound means no plan was generated for the project.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidInput covers malformed ids, options and transform ids.
	ErrInvalidInput = errors.New("invalid input")

	ErrProjectNotFound = workspace.ErrProjectNotFound
	ErrApplyInProgress = apply.ErrApplyInProgress
	ErrBackupFailed    = apply.ErrBackupFailed
	ErrBackupNotFound  = apply.ErrBackupNotFound
)
