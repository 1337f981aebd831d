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
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// Detector ids of the architecture family.
const (
	IDImportCount      = "architecture.import-count"
	IDCyclicDependency = "architecture.cyclic-dependency"
)

// ImportCount flags files that import too many modules.
type ImportCount struct {
	base
	modelBased
	tiers Tiers
}

// NewImportCount creates the import-count detector.
func NewImportCount(th Thresholds, pool *codemodel.Pool) *ImportCount {
	return &ImportCount{
		base:       base{id: IDImportCount, category: evidence.CategoryArchitecture},
		modelBased: modelBased{pool: pool},
		tiers:      th.ImportCount.Tiers(),
	}
}

// Detect implements Detector.
func (d *ImportCount) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		for fm := range d.models(ctx, pc) {
			n := len(fm.Imports)
			tier, ok := d.tiers.Classify(float64(n))
			if !ok {
				continue
			}
			ptr := evidence.CodePointer{File: fm.Path, StartLine: fm.Imports[0].Line, EndLine: fm.Imports[n-1].Line}
			summary := fmt.Sprintf("%s imports %d modules (threshold %d)", fm.Path, n, int(tier.Min))
			if !yield(d.finding(ptr, tier.Severity, summary, tierMetrics(float64(n), tier))) {
				return
			}
		}
	}
}

// CyclicDependency reports each group of packages that import each
// other, directly or transitively.
type CyclicDependency struct {
	base
	modelBased
}

// NewCyclicDependency creates the cyclic-dependency detector.
func NewCyclicDependency(pool *codemodel.Pool) *CyclicDependency {
	return &CyclicDependency{
		base:       base{id: IDCyclicDependency, category: evidence.CategoryArchitecture},
		modelBased: modelBased{pool: pool},
	}
}

// Detect implements Detector. The pointer names the first file of the
// first package in the cycle.
func (d *CyclicDependency) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		module, _ := pc.Property(evidence.PropGoModule)
		graph := d.pool.For(pc).Graph(ctx, pc.SourceFiles(), module)
		for _, cycle := range graph.Cycles() {
			if ctx.Err() != nil {
				return
			}
			files := graph.Files(cycle[0])
			if len(files) == 0 {
				continue
			}
			ptr := evidence.CodePointer{File: files[0]}
			m := map[string]evidence.Metric{
				evidence.MetricValue: evidence.Int(len(cycle)),
				"packages":           evidence.Str(strings.Join(cycle, ",")),
			}
			summary := fmt.Sprintf("import cycle between %d packages: %s", len(cycle), strings.Join(cycle, " <-> "))
			if !yield(d.finding(ptr, evidence.SeverityCritical, summary, m)) {
				return
			}
		}
	}
}
