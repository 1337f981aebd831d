// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detect holds the detector plugins: independent analyzers that
// scan a project snapshot and emit findings.
//
// Every detector implements the same four-method Detector contract and
// is registered in a static Registry at startup. Detectors never mutate
// the snapshot, never fail on malformed files (unreadable or unparseable
// files are skipped), and choose a severity by checking their tiers from
// the highest down.
package detect

import (
	"context"
	"errors"
	"iter"
	"slices"

	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

var (
	// ErrDuplicateDetector is returned when registering an id twice.
	ErrDuplicateDetector = errors.New("detector already registered")

	// ErrInvalidThresholds is returned by Thresholds.Validate.
	ErrInvalidThresholds = errors.New("invalid detector thresholds")
)

// Sequence is a finite sequence of findings. Ranging over it again
// re-runs the scan.
type Sequence = iter.Seq[evidence.Evidence]

// Detector is one pluggable analyzer.
type Detector interface {
	// ID returns the stable namespaced id, e.g. "design.long-method".
	ID() string

	// Category returns the family of issue the detector looks for.
	Category() evidence.Category

	// IsApplicable reports whether the detector has anything to scan.
	IsApplicable(pc *evidence.ProjectContext) bool

	// Detect returns the findings for pc. Every finding carries the
	// detector's id.
	Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence
}

// Tier is one severity step of a threshold ladder.
type Tier struct {
	Min      float64
	Severity evidence.Severity
}

// Tiers is a threshold ladder ordered from the highest tier down.
type Tiers []Tier

// Classify returns the first tier, highest first, whose minimum value
// is met or exceeded.
func (t Tiers) Classify(value float64) (Tier, bool) {
	for _, tier := range t {
		if value >= tier.Min {
			return tier, true
		}
	}
	return Tier{}, false
}

// Lowest returns the smallest minimum in the ladder.
func (t Tiers) Lowest() float64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].Min
}

// Levels configures a ladder. A zero level is disabled.
type Levels struct {
	Minor    float64 `yaml:"minor" json:"minor,omitempty" validate:"gte=0"`
	Major    float64 `yaml:"major" json:"major,omitempty" validate:"gte=0"`
	Critical float64 `yaml:"critical" json:"critical,omitempty" validate:"gte=0"`
	Blocker  float64 `yaml:"blocker" json:"blocker,omitempty" validate:"gte=0"`
}

// Tiers converts the levels into a ladder, highest first.
func (l Levels) Tiers() Tiers {
	var t Tiers
	for _, step := range []Tier{
		{l.Blocker, evidence.SeverityBlocker},
		{l.Critical, evidence.SeverityCritical},
		{l.Major, evidence.SeverityMajor},
		{l.Minor, evidence.SeverityMinor},
	} {
		if step.Min > 0 {
			t = append(t, step)
		}
	}
	return t
}

// ascending reports whether enabled levels increase with severity.
func (l Levels) ascending() bool {
	var prev float64
	for _, v := range []float64{l.Minor, l.Major, l.Critical, l.Blocker} {
		if v == 0 {
			continue
		}
		if v <= prev {
			return false
		}
		prev = v
	}
	return true
}

// base carries the id and category shared by every detector.
type base struct {
	id       string
	category evidence.Category
}

func (b base) ID() string                  { return b.id }
func (b base) Category() evidence.Category { return b.category }

func (b base) finding(ptr evidence.CodePointer, sev evidence.Severity, summary string, metrics map[string]evidence.Metric) evidence.Evidence {
	return evidence.New(b.id, b.category, ptr, sev, summary, metrics)
}

// modelBased is embedded by detectors that navigate the code model.
type modelBased struct {
	pool *codemodel.Pool
}

func (m modelBased) IsApplicable(pc *evidence.ProjectContext) bool {
	return slices.ContainsFunc(pc.SourceFiles(), m.pool.Registry().Supports)
}

// models yields the parsed model of every supported source file,
// skipping files that fail to read or parse.
func (m modelBased) models(ctx context.Context, pc *evidence.ProjectContext) iter.Seq[*codemodel.FileModel] {
	return func(yield func(*codemodel.FileModel) bool) {
		cache := m.pool.For(pc)
		for _, f := range pc.SourceFiles() {
			if ctx.Err() != nil {
				return
			}
			if !cache.Supports(f) {
				continue
			}
			fm, err := cache.Model(ctx, f)
			if err != nil {
				continue
			}
			if !yield(fm) {
				return
			}
		}
	}
}

// textBased is embedded by detectors that scan raw lines.
type textBased struct {
	pool *codemodel.Pool
}

func (textBased) IsApplicable(pc *evidence.ProjectContext) bool {
	return len(pc.SourceFiles()) > 0
}

type fileText struct {
	path string
	*codemodel.FileText
}

func (t textBased) texts(ctx context.Context, pc *evidence.ProjectContext) iter.Seq[fileText] {
	return func(yield func(fileText) bool) {
		cache := t.pool.For(pc)
		for _, f := range pc.SourceFiles() {
			if ctx.Err() != nil {
				return
			}
			txt, err := cache.Text(f)
			if err != nil {
				continue
			}
			if !yield(fileText{path: f, FileText: txt}) {
				return
			}
		}
	}
}
