// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"fmt"
)

// Thresholds configures every built-in detector.
type Thresholds struct {
	// LongMethod counts executable lines in a function body.
	LongMethod Levels `yaml:"long_method" json:"long_method"`

	// ParameterList counts declared parameters.
	ParameterList Levels `yaml:"parameter_list" json:"parameter_list"`

	// ClassLines and ClassMethods size a type. The critical tier is
	// reported as a god class, lower tiers as a large class.
	ClassLines   Levels `yaml:"class_lines" json:"class_lines"`
	ClassMethods Levels `yaml:"class_methods" json:"class_methods"`

	// FeatureEnvy is the percentage of a function's calls aimed at one
	// foreign receiver.
	FeatureEnvy         Levels `yaml:"feature_envy" json:"feature_envy"`
	FeatureEnvyMinCalls int    `yaml:"feature_envy_min_calls" json:"feature_envy_min_calls" validate:"gte=1"`

	// MessageChain counts selector links in one expression.
	MessageChain Levels `yaml:"message_chain" json:"message_chain"`

	// DataClass flags types made of fields and accessors only.
	DataClassMinFields     int     `yaml:"data_class_min_fields" json:"data_class_min_fields" validate:"gte=1"`
	DataClassAccessorRatio float64 `yaml:"data_class_accessor_ratio" json:"data_class_accessor_ratio" validate:"gt=0,lte=1"`

	// Nesting is the deepest block nesting inside a function.
	Nesting Levels `yaml:"nesting" json:"nesting"`

	// MagicNumbers counts unexplained numeric literals per file.
	MagicNumbers Levels `yaml:"magic_numbers" json:"magic_numbers"`

	// DuplicateWindow is the block size, in normalized lines, compared
	// for duplication; DuplicateCopies grades the number of copies.
	DuplicateWindow int    `yaml:"duplicate_window" json:"duplicate_window" validate:"gte=2"`
	DuplicateCopies Levels `yaml:"duplicate_copies" json:"duplicate_copies"`

	// ImportCount counts imports per file.
	ImportCount Levels `yaml:"import_count" json:"import_count"`
}

// DefaultThresholds returns the built-in ladders.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LongMethod:             Levels{Major: 20, Critical: 50, Blocker: 100},
		ParameterList:          Levels{Minor: 4, Major: 6, Critical: 8},
		ClassLines:             Levels{Major: 500, Critical: 1000},
		ClassMethods:           Levels{Major: 20, Critical: 40},
		FeatureEnvy:            Levels{Major: 60, Critical: 80},
		FeatureEnvyMinCalls:    5,
		MessageChain:           Levels{Minor: 4, Major: 6},
		DataClassMinFields:     4,
		DataClassAccessorRatio: 0.9,
		Nesting:                Levels{Minor: 4, Major: 6},
		MagicNumbers:           Levels{Minor: 3, Major: 10},
		DuplicateWindow:        6,
		DuplicateCopies:        Levels{Minor: 2, Major: 3},
		ImportCount:            Levels{Minor: 15, Major: 25, Critical: 40},
	}
}

// Validate checks that every ladder increases with severity and that
// the scalar settings are in range.
func (t Thresholds) Validate() error {
	ladders := map[string]Levels{
		"long_method":      t.LongMethod,
		"parameter_list":   t.ParameterList,
		"class_lines":      t.ClassLines,
		"class_methods":    t.ClassMethods,
		"feature_envy":     t.FeatureEnvy,
		"message_chain":    t.MessageChain,
		"nesting":          t.Nesting,
		"magic_numbers":    t.MagicNumbers,
		"duplicate_copies": t.DuplicateCopies,
		"import_count":     t.ImportCount,
	}
	for name, l := range ladders {
		if !l.ascending() {
			return fmt.Errorf("%w: %s levels must increase with severity", ErrInvalidThresholds, name)
		}
	}
	if t.FeatureEnvy.Critical > 100 || t.FeatureEnvy.Major > 100 {
		return fmt.Errorf("%w: feature_envy is a percentage", ErrInvalidThresholds)
	}
	if t.FeatureEnvyMinCalls < 1 || t.DataClassMinFields < 1 || t.DuplicateWindow < 2 {
		return fmt.Errorf("%w: counts out of range", ErrInvalidThresholds)
	}
	if t.DataClassAccessorRatio <= 0 || t.DataClassAccessorRatio > 1 {
		return fmt.Errorf("%w: data_class_accessor_ratio must be in (0,1]", ErrInvalidThresholds)
	}
	if t.DuplicateCopies.Minor != 0 && t.DuplicateCopies.Minor < 2 {
		return fmt.Errorf("%w: duplicate_copies start at 2", ErrInvalidThresholds)
	}
	return nil
}
