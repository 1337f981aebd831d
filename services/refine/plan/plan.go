// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan turns an Assessment into a prioritized list of candidate
// refactorings.
//
// Generation is pure and deterministic: the same Assessment and Options
// always yield the same transforms, in the same order, with the same ids.
package plan

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// DefaultRiskTolerance weighs risk against payoff when none is configured.
const DefaultRiskTolerance = 0.5

// Summary defaults for transforms whose metadata lacks an estimate.
const (
	DefaultPayoff = 0.5
	DefaultRisk   = 0.5
	DefaultCost   = 1.0
)

// Metadata keys set on every PlannedTransform.
const (
	MetaKind          = "kind"
	MetaDetector      = "detector"
	MetaSeverity      = "severity"
	MetaEvidenceIndex = "evidence_index"
	MetaPayoff        = "payoff"
	MetaRisk          = "risk"
	MetaCost          = "cost"
	MetaSmell         = "smell"
)

// ErrInvalidOptions is returned for out-of-range options.
var ErrInvalidOptions = errors.New("invalid plan options")

var planValidate *validator.Validate

func init() {
	planValidate = validator.New()
	if err := planValidate.RegisterValidation("severity", validSeverity); err != nil {
		panic(fmt.Sprintf("plan: failed to register severity validation: %v", err))
	}
}

func validSeverity(fl validator.FieldLevel) bool {
	return evidence.Severity(fl.Field().Int()).Valid()
}

// Options tunes plan generation.
type Options struct {
	// RiskTolerance scales how much template risk lowers priority.
	RiskTolerance float64 `json:"risk_tolerance" yaml:"risk_tolerance" validate:"gte=0,lte=1"`

	// MinSeverity drops findings below this severity.
	MinSeverity evidence.Severity `json:"min_severity" yaml:"min_severity" validate:"severity"`

	// MaxTransforms truncates the sorted plan. Zero means unlimited.
	MaxTransforms int `json:"max_transforms" yaml:"max_transforms" validate:"gte=0"`

	// Detectors restricts planning to findings of these detectors.
	Detectors []string `json:"detectors,omitempty" yaml:"detectors" validate:"dive,required"`
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{RiskTolerance: DefaultRiskTolerance, MinSeverity: evidence.SeverityInfo}
}

// Validate checks the options.
func (o Options) Validate() error {
	if err := planValidate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// TargetKind is the granularity of a transform target.
type TargetKind string

const (
	TargetFile   TargetKind = "file"
	TargetClass  TargetKind = "class"
	TargetMethod TargetKind = "method"
)

// TransformTarget is the symbol or location a transform rewrites.
type TransformTarget struct {
	Kind      TargetKind `json:"kind"`
	File      string     `json:"file"`
	Class     string     `json:"class,omitempty"`
	Method    string     `json:"method,omitempty"`
	StartLine int        `json:"start_line,omitempty"`
	EndLine   int        `json:"end_line,omitempty"`
}

// Symbol returns the name references are searched for: the method, else
// the class, else "".
func (t TransformTarget) Symbol() string {
	if t.Method != "" {
		return t.Method
	}
	return t.Class
}

func targetOf(p evidence.CodePointer) TransformTarget {
	t := TransformTarget{
		Kind:      TargetFile,
		File:      p.File,
		Class:     p.Class,
		Method:    p.Method,
		StartLine: p.StartLine,
		EndLine:   p.EndLine,
	}
	switch {
	case p.Method != "":
		t.Kind = TargetMethod
	case p.Class != "":
		t.Kind = TargetClass
	}
	return t
}

// PlannedTransform is one candidate refactoring derived from exactly one
// finding.
type PlannedTransform struct {
	ID          string               `json:"id"`
	Kind        TransformKind        `json:"kind"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Target      TransformTarget      `json:"target"`
	Pointer     evidence.CodePointer `json:"pointer"`
	Metadata    map[string]string    `json:"metadata"`
	Priority    float64              `json:"priority"`
}

// Float returns a numeric metadata value.
func (t PlannedTransform) Float(key string, def float64) float64 {
	if v, ok := t.Metadata[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// PlanSummary aggregates a plan.
type PlanSummary struct {
	TotalTransforms int                   `json:"total_transforms"`
	ByKind          map[TransformKind]int `json:"by_kind"`
	TotalPayoff     float64               `json:"total_payoff"`
	TotalRisk       float64               `json:"total_risk"`
	TotalCost       float64               `json:"total_cost"`
}

// Plan is the ordered output of Generate. It is tied to one Assessment
// and superseded by the next Plan for the same project.
type Plan struct {
	ID           string             `json:"id"`
	ProjectID    string             `json:"project_id"`
	AssessmentID string             `json:"assessment_id"`
	CreatedAt    time.Time          `json:"created_at"`
	Options      Options            `json:"options"`
	Transforms   []PlannedTransform `json:"transforms"`
	Summary      PlanSummary        `json:"summary"`
}

// Transform looks up a transform by id.
func (p *Plan) Transform(id string) (PlannedTransform, bool) {
	for _, t := range p.Transforms {
		if t.ID == id {
			return t, true
		}
	}
	return PlannedTransform{}, false
}

// transformNamespace seeds deterministic transform ids.
var transformNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("aleutian.refine.transform"))

// TransformID derives the id of the transform built from the finding at
// index with kind k. Regenerating a plan yields the same ids.
func TransformID(assessmentID string, index int, k TransformKind) string {
	name := assessmentID + "|" + strconv.Itoa(index) + "|" + string(k)
	return uuid.NewSHA1(transformNamespace, []byte(name)).String()
}

// Priority is payoff minus risk scaled by tolerance.
func Priority(t Template, riskTolerance float64) float64 {
	return t.Payoff - t.Risk*riskTolerance
}

// Generate builds the plan for a.
//
// # Description
//
// Each selected finding expands to its templates. Candidates are sorted
// by priority descending; equal priorities keep finding order, then
// template order.
//
// # Outputs
//
//   - *Plan: Never nil on success. An Assessment without findings yields
//     an empty plan.
//   - error: ErrInvalidOptions.
func Generate(a *evidence.Assessment, opts Options) (*Plan, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var allowed map[string]bool
	if len(opts.Detectors) > 0 {
		allowed = make(map[string]bool, len(opts.Detectors))
		for _, id := range opts.Detectors {
			allowed[id] = true
		}
	}

	transforms := []PlannedTransform{}
	for i, e := range a.Evidence {
		if !e.Severity.AtLeast(opts.MinSeverity) {
			continue
		}
		if allowed != nil && !allowed[e.DetectorID] {
			continue
		}
		for _, tpl := range TemplatesFor(e) {
			transforms = append(transforms, candidate(a.ID, i, e, tpl, opts.RiskTolerance))
		}
	}

	slices.SortStableFunc(transforms, func(x, y PlannedTransform) int {
		return cmp.Compare(y.Priority, x.Priority)
	})
	if opts.MaxTransforms > 0 && len(transforms) > opts.MaxTransforms {
		transforms = transforms[:opts.MaxTransforms]
	}

	p := &Plan{
		ID:           uuid.NewString(),
		ProjectID:    a.ProjectID,
		AssessmentID: a.ID,
		CreatedAt:    time.Now().UTC(),
		Options:      opts,
		Transforms:   transforms,
		Summary:      Summarize(transforms),
	}
	recordPlan(p)
	return p, nil
}

func candidate(assessmentID string, index int, e evidence.Evidence, tpl Template, tolerance float64) PlannedTransform {
	md := map[string]string{
		MetaKind:          string(tpl.Kind),
		MetaDetector:      e.DetectorID,
		MetaSeverity:      e.Severity.String(),
		MetaEvidenceIndex: strconv.Itoa(index),
		MetaPayoff:        formatFloat(tpl.Payoff),
		MetaRisk:          formatFloat(tpl.Risk),
		MetaCost:          formatFloat(tpl.Cost),
	}
	if smell := e.Smell(); smell != "" {
		md[MetaSmell] = smell
	}
	desc := tpl.Description
	if e.Summary != "" {
		desc = tpl.Description + " " + e.Summary
	}
	return PlannedTransform{
		ID:          TransformID(assessmentID, index, tpl.Kind),
		Kind:        tpl.Kind,
		Name:        tpl.Name,
		Description: desc,
		Target:      targetOf(e.Pointer),
		Pointer:     e.Pointer,
		Metadata:    md,
		Priority:    Priority(tpl, tolerance),
	}
}

// Summarize totals the transforms. Missing estimates count as
// DefaultPayoff, DefaultRisk and DefaultCost.
func Summarize(transforms []PlannedTransform) PlanSummary {
	s := PlanSummary{TotalTransforms: len(transforms), ByKind: make(map[TransformKind]int)}
	for _, t := range transforms {
		s.ByKind[t.Kind]++
		s.TotalPayoff += t.Float(MetaPayoff, DefaultPayoff)
		s.TotalRisk += t.Float(MetaRisk, DefaultRisk)
		s.TotalCost += t.Float(MetaCost, DefaultCost)
	}
	return s
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
