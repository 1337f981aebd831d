// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command refine assesses code quality, plans refactorings and applies
// them with backup, verification and rollback.
//
// Usage:
//
//	refine serve                         start the HTTP API
//	refine assess <project>              assess and print the assessment
//	refine plan <project>                plan from the last assessment
//	refine impact <project> [-t id...]   analyze plan transforms
//	refine apply <project> [-t id...]    apply plan transforms
//	refine rollback <project> <backup>   restore a backup
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
