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

import "errors"

// Sentinel errors for the evidence package.
var (
	// ErrInvalidSeverity indicates an unknown severity name or value.
	ErrInvalidSeverity = errors.New("invalid severity")

	// ErrInvalidPath indicates a path escaping the project root.
	ErrInvalidPath = errors.New("invalid project path")

	// ErrNotInProject indicates a file that is not part of the snapshot.
	ErrNotInProject = errors.New("file not in project")
)
