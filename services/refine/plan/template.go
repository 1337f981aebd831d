// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"github.com/AleutianAI/AleutianRefine/services/refine/detect"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// TransformKind names a refactoring.
type TransformKind string

const (
	KindExtractMethod            TransformKind = "extract-method"
	KindIntroduceParameterObject TransformKind = "introduce-parameter-object"
	KindExtractClass             TransformKind = "extract-class"
	KindMoveMethod               TransformKind = "move-method"
	KindHideDelegate             TransformKind = "hide-delegate"
	KindEncapsulateData          TransformKind = "encapsulate-data"
	KindGuardClauses             TransformKind = "replace-nesting-with-guard-clauses"
	KindExtractConstant          TransformKind = "extract-constant"
	KindHandleError              TransformKind = "handle-swallowed-error"
	KindConsolidateDuplicate     TransformKind = "consolidate-duplicate"
	KindResolveDebtMarker        TransformKind = "resolve-debt-marker"
	KindSplitModule              TransformKind = "split-module"
	KindReviewFinding            TransformKind = "review-finding"

	// Inheritance-touching kinds.
	KindExtractSuperclass     TransformKind = "extract-superclass"
	KindExtractInterface      TransformKind = "extract-interface"
	KindPullUpMethod          TransformKind = "pull-up-method"
	KindInheritanceToDelegate TransformKind = "replace-inheritance-with-delegation"
)

var inheritanceKinds = map[TransformKind]bool{
	KindExtractSuperclass:     true,
	KindExtractInterface:      true,
	KindPullUpMethod:          true,
	KindInheritanceToDelegate: true,
}

// TouchesInheritance reports whether a kind rewrites supertype or
// interface-implementation relationships.
func TouchesInheritance(k TransformKind) bool {
	return inheritanceKinds[k]
}

// Template is the fixed recipe a finding maps to. Payoff and Risk are in
// [0,1]; Cost is a relative effort estimate.
type Template struct {
	Kind        TransformKind
	Name        string
	Description string
	Payoff      float64
	Risk        float64
	Cost        float64
}

var (
	extractMethod = Template{
		Kind: KindExtractMethod, Name: "Extract method",
		Description: "Split the body into smaller named functions.",
		Payoff:      0.8, Risk: 0.3, Cost: 1.0,
	}
	parameterObject = Template{
		Kind: KindIntroduceParameterObject, Name: "Introduce parameter object",
		Description: "Group related parameters into one value type.",
		Payoff:      0.6, Risk: 0.3, Cost: 1.0,
	}
	extractClass = Template{
		Kind: KindExtractClass, Name: "Extract class",
		Description: "Move a cohesive group of fields and methods into a new type.",
		Payoff:      0.9, Risk: 0.5, Cost: 3.0,
	}
	moveMethod = Template{
		Kind: KindMoveMethod, Name: "Move method",
		Description: "Move behaviour next to the data it uses.",
		Payoff:      0.7, Risk: 0.4, Cost: 1.5,
	}
	hideDelegate = Template{
		Kind: KindHideDelegate, Name: "Hide delegate",
		Description: "Replace the call chain with a method on the first receiver.",
		Payoff:      0.5, Risk: 0.2, Cost: 0.5,
	}
	encapsulateData = Template{
		Kind: KindEncapsulateData, Name: "Move behaviour into data class",
		Description: "Give the type the operations its callers perform on its fields.",
		Payoff:      0.4, Risk: 0.2, Cost: 1.0,
	}
	guardClauses = Template{
		Kind: KindGuardClauses, Name: "Replace nesting with guard clauses",
		Description: "Return early so the main path is not indented.",
		Payoff:      0.6, Risk: 0.2, Cost: 0.8,
	}
	extractConstant = Template{
		Kind: KindExtractConstant, Name: "Extract constant",
		Description: "Name the literal as a constant.",
		Payoff:      0.4, Risk: 0.1, Cost: 0.3,
	}
	handleError = Template{
		Kind: KindHandleError, Name: "Handle swallowed error",
		Description: "Log, wrap or propagate the error the handler discards.",
		Payoff:      0.6, Risk: 0.2, Cost: 0.3,
	}
	consolidateDuplicate = Template{
		Kind: KindConsolidateDuplicate, Name: "Consolidate duplicate code",
		Description: "Replace the copies with calls to one shared function.",
		Payoff:      0.7, Risk: 0.3, Cost: 1.0,
	}
	resolveDebt = Template{
		Kind: KindResolveDebtMarker, Name: "Resolve debt marker",
		Description: "Fix or ticket the marked work and remove the marker.",
		Payoff:      0.3, Risk: 0.1, Cost: 0.5,
	}
	splitModule = Template{
		Kind: KindSplitModule, Name: "Split module",
		Description: "Divide the file so each part depends on fewer packages.",
		Payoff:      0.5, Risk: 0.5, Cost: 2.0,
	}
	extractInterface = Template{
		Kind: KindExtractInterface, Name: "Break cycle with an interface",
		Description: "Invert one dependency of the cycle behind an interface owned by the caller.",
		Payoff:      0.8, Risk: 0.7, Cost: 2.5,
	}
	reviewFinding = Template{
		Kind: KindReviewFinding, Name: "Review finding",
		Description: "Mark the location for manual review.",
		Payoff:      0.2, Risk: 0.0, Cost: 0.2,
	}
)

var templates = map[string][]Template{
	detect.IDLongMethod:        {extractMethod},
	detect.IDLongParameterList: {parameterObject},
	detect.IDLargeClass:        {extractClass},
	detect.IDFeatureEnvy:       {moveMethod},
	detect.IDMessageChain:      {hideDelegate},
	detect.IDDataClass:         {encapsulateData},
	detect.IDDeepNesting:       {guardClauses},
	detect.IDMagicNumber:       {extractConstant},
	detect.IDEmptyCatch:        {handleError},
	detect.IDDuplicateBlock:    {consolidateDuplicate},
	detect.IDDebtMarker:        {resolveDebt},
	detect.IDImportCount:       {splitModule},
	detect.IDCyclicDependency:  {extractInterface},
}

var godClassTemplates = []Template{extractClass, moveMethod}

// TemplatesFor returns the templates e maps to. Unknown detectors get a
// single review template.
func TemplatesFor(e evidence.Evidence) []Template {
	if e.DetectorID == detect.IDLargeClass && e.Smell() == detect.SmellGodClass {
		return godClassTemplates
	}
	if t, ok := templates[e.DetectorID]; ok {
		return t
	}
	return []Template{reviewFinding}
}
