// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence defines the value types shared by every stage of the
// refine pipeline: project snapshots, findings, severities and the
// immutable Assessment aggregate.
//
// # Thread Safety
//
// All types are values or are immutable after construction and may be
// shared between goroutines without synchronization.
package evidence

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity is the five-level total order used to rank findings.
//
// INFO < MINOR < MAJOR < CRITICAL < BLOCKER. The zero value is INFO.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityMinor
	SeverityMajor
	SeverityCritical
	SeverityBlocker
)

// AllSeverities lists every severity in ascending order.
var AllSeverities = []Severity{
	SeverityInfo,
	SeverityMinor,
	SeverityMajor,
	SeverityCritical,
	SeverityBlocker,
}

var severityNames = [...]string{"INFO", "MINOR", "MAJOR", "CRITICAL", "BLOCKER"}

// severityWeights are the priority weights used when scoring areas and
// ranking findings. BLOCKER doubles CRITICAL.
var severityWeights = [...]int{1, 2, 5, 10, 20}

// String returns the upper-case name of the severity.
func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityBlocker {
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
	return severityNames[s]
}

// Weight returns the numeric priority weight of the severity.
//
// Out-of-range values weigh 0.
func (s Severity) Weight() int {
	if s < SeverityInfo || s > SeverityBlocker {
		return 0
	}
	return severityWeights[s]
}

// Valid reports whether s is one of the five defined levels.
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityBlocker
}

// AtLeast reports whether s is the same as or more severe than other.
func (s Severity) AtLeast(other Severity) bool {
	return s >= other
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range severityNames {
		if n == upper {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("%w: unknown severity %q", ErrInvalidSeverity, name)
}

// MarshalJSON encodes the severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeverity, int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSeverity, string(data))
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText lets severities be used as JSON object keys.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeverity, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Category tags the family of issue a detector looks for.
type Category string

const (
	// CategoryDesign covers method and class shape problems.
	CategoryDesign Category = "design"

	// CategoryCode covers statement-level problems.
	CategoryCode Category = "code"

	// CategoryArchitecture covers module and dependency structure.
	CategoryArchitecture Category = "architecture"

	// CategoryMaintainability covers debt markers and hygiene.
	CategoryMaintainability Category = "maintainability"
)
