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
	"unicode"

	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// Detector ids of the design family.
const (
	IDLongMethod        = "design.long-method"
	IDLongParameterList = "design.long-parameter-list"
	IDLargeClass        = "design.large-class"
	IDFeatureEnvy       = "design.feature-envy"
	IDMessageChain      = "design.message-chain"
	IDDataClass         = "design.data-class"
)

// Values of the smell metric emitted by LargeClass.
const (
	SmellGodClass   = "god-class"
	SmellLargeClass = "large-class"
)

func functionPointer(path string, fn codemodel.Function) evidence.CodePointer {
	return evidence.CodePointer{
		File:      path,
		Class:     fn.Receiver,
		Method:    fn.Name,
		StartLine: fn.StartLine,
		EndLine:   fn.EndLine,
	}
}

func typePointer(path string, td codemodel.TypeDecl) evidence.CodePointer {
	return evidence.CodePointer{
		File:      path,
		Class:     td.Name,
		StartLine: td.StartLine,
		EndLine:   td.EndLine,
	}
}

func tierMetrics(value float64, tier Tier) map[string]evidence.Metric {
	return map[string]evidence.Metric{
		evidence.MetricValue:     evidence.Num(value),
		evidence.MetricThreshold: evidence.Num(tier.Min),
	}
}

// LongMethod flags functions whose body has too many executable lines.
// Blank, comment-only and brace-only lines do not count.
type LongMethod struct {
	base
	modelBased
	tiers Tiers
}

// NewLongMethod creates the long-method detector.
func NewLongMethod(th Thresholds, pool *codemodel.Pool) *LongMethod {
	return &LongMethod{
		base:       base{id: IDLongMethod, category: evidence.CategoryDesign},
		modelBased: modelBased{pool: pool},
		tiers:      th.LongMethod.Tiers(),
	}
}

// Detect implements Detector.
func (d *LongMethod) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		cache := d.pool.For(pc)
		for fm := range d.models(ctx, pc) {
			txt, err := cache.Text(fm.Path)
			if err != nil {
				continue
			}
			for _, fn := range fm.Functions {
				n := ExecutableLines(txt.Code, fn)
				tier, ok := d.tiers.Classify(float64(n))
				if !ok {
					continue
				}
				m := tierMetrics(float64(n), tier)
				m["lines"] = evidence.Int(fn.EndLine - fn.StartLine + 1)
				summary := fmt.Sprintf("%s has %d executable lines (threshold %d)", qualified(fn), n, int(tier.Min))
				if !yield(d.finding(functionPointer(fm.Path, fn), tier.Severity, summary, m)) {
					return
				}
			}
		}
	}
}

// ExecutableLines counts non-trivial body lines of fn in the stripped
// code of its file.
func ExecutableLines(code []string, fn codemodel.Function) int {
	if fn.BodyStartLine == 0 || fn.EndLine > len(code) {
		return 0
	}
	if fn.BodyStartLine == fn.EndLine {
		line := code[fn.BodyStartLine-1]
		open, end := strings.IndexByte(line, '{'), strings.LastIndexByte(line, '}')
		if open >= 0 && end > open && !trivial(line[open+1:end]) {
			return 1
		}
		return 0
	}
	n := 0
	for i := fn.BodyStartLine; i < fn.EndLine-1; i++ {
		if !trivial(code[i]) {
			n++
		}
	}
	return n
}

func trivial(line string) bool {
	return strings.TrimFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("{}();", r)
	}) == ""
}

func qualified(fn codemodel.Function) string {
	if fn.Receiver != "" {
		return fn.Receiver + "." + fn.Name
	}
	return fn.Name
}

// LongParameterList flags functions declaring too many parameters.
type LongParameterList struct {
	base
	modelBased
	tiers Tiers
}

// NewLongParameterList creates the long-parameter-list detector.
func NewLongParameterList(th Thresholds, pool *codemodel.Pool) *LongParameterList {
	return &LongParameterList{
		base:       base{id: IDLongParameterList, category: evidence.CategoryDesign},
		modelBased: modelBased{pool: pool},
		tiers:      th.ParameterList.Tiers(),
	}
}

// Detect implements Detector.
func (d *LongParameterList) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		for fm := range d.models(ctx, pc) {
			for _, fn := range fm.Functions {
				n := len(fn.Params)
				tier, ok := d.tiers.Classify(float64(n))
				if !ok {
					continue
				}
				m := tierMetrics(float64(n), tier)
				m["params"] = evidence.Str(strings.Join(fn.Params, ","))
				summary := fmt.Sprintf("%s takes %d parameters (threshold %d)", qualified(fn), n, int(tier.Min))
				if !yield(d.finding(functionPointer(fm.Path, fn), tier.Severity, summary, m)) {
					return
				}
			}
		}
	}
}

// LargeClass flags types that are too long or have too many methods.
// A type reaching a critical tier is reported with the god-class smell.
type LargeClass struct {
	base
	modelBased
	lines   Tiers
	methods Tiers
}

// NewLargeClass creates the large-class detector.
func NewLargeClass(th Thresholds, pool *codemodel.Pool) *LargeClass {
	return &LargeClass{
		base:       base{id: IDLargeClass, category: evidence.CategoryDesign},
		modelBased: modelBased{pool: pool},
		lines:      th.ClassLines.Tiers(),
		methods:    th.ClassMethods.Tiers(),
	}
}

// Detect implements Detector.
func (d *LargeClass) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		for fm := range d.models(ctx, pc) {
			for _, td := range fm.Types {
				if td.Kind == codemodel.KindInterface {
					continue
				}
				lineTier, byLines := d.lines.Classify(float64(td.Size))
				methodTier, byMethods := d.methods.Classify(float64(len(td.Methods)))
				if !byLines && !byMethods {
					continue
				}
				sev := lineTier.Severity
				if !byLines || (byMethods && methodTier.Severity > sev) {
					sev = methodTier.Severity
				}
				smell, label := SmellLargeClass, "large class"
				if sev.AtLeast(evidence.SeverityCritical) {
					smell, label = SmellGodClass, "god class"
				}
				m := map[string]evidence.Metric{
					evidence.MetricSmell: evidence.Str(smell),
					evidence.MetricValue: evidence.Int(td.Size),
					"lines":              evidence.Int(td.Size),
					"methods":            evidence.Int(len(td.Methods)),
					"fields":             evidence.Int(len(td.Fields)),
				}
				summary := fmt.Sprintf("%s %s: %d lines, %d methods", label, td.Name, td.Size, len(td.Methods))
				if !yield(d.finding(typePointer(fm.Path, td), sev, summary, m)) {
					return
				}
			}
		}
	}
}

// FeatureEnvy flags functions that call one foreign receiver more than
// their own. Package qualifiers, type names and the function's own
// receiver do not count as foreign.
type FeatureEnvy struct {
	base
	modelBased
	tiers    Tiers
	minCalls int
}

// NewFeatureEnvy creates the feature-envy detector.
func NewFeatureEnvy(th Thresholds, pool *codemodel.Pool) *FeatureEnvy {
	return &FeatureEnvy{
		base:       base{id: IDFeatureEnvy, category: evidence.CategoryDesign},
		modelBased: modelBased{pool: pool},
		tiers:      th.FeatureEnvy.Tiers(),
		minCalls:   th.FeatureEnvyMinCalls,
	}
}

var selfReceivers = map[string]bool{"this": true, "self": true, "super": true, "base": true}

// Detect implements Detector.
func (d *FeatureEnvy) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		for fm := range d.models(ctx, pc) {
			qualifiers := make(map[string]bool, len(fm.Imports))
			for _, imp := range fm.Imports {
				qualifiers[imp.Name()] = true
			}
			for _, fn := range fm.Functions {
				if len(fn.Calls) < d.minCalls {
					continue
				}
				envied, count := d.topForeign(fm.Language, fn, qualifiers)
				if count == 0 {
					continue
				}
				pct := float64(count) * 100 / float64(len(fn.Calls))
				tier, ok := d.tiers.Classify(pct)
				if !ok {
					continue
				}
				m := tierMetrics(pct, tier)
				m["envied"] = evidence.Str(envied)
				m["calls"] = evidence.Int(len(fn.Calls))
				summary := fmt.Sprintf("%s makes %.0f%% of its calls on %s", qualified(fn), pct, envied)
				if !yield(d.finding(functionPointer(fm.Path, fn), tier.Severity, summary, m)) {
					return
				}
			}
		}
	}
}

func (d *FeatureEnvy) topForeign(lang string, fn codemodel.Function, qualifiers map[string]bool) (string, int) {
	counts := make(map[string]int)
	var order []string
	for _, c := range fn.Calls {
		r := c.Receiver
		if r == "" || r == fn.ReceiverVar || selfReceivers[r] || qualifiers[r] {
			continue
		}
		if lang != codemodel.LangGo && unicode.IsUpper(rune(r[0])) {
			continue
		}
		if counts[r] == 0 {
			order = append(order, r)
		}
		counts[r]++
	}
	best, bestCount := "", 0
	for _, r := range order {
		if counts[r] > bestCount {
			best, bestCount = r, counts[r]
		}
	}
	return best, bestCount
}

// MessageChain flags functions containing long selector chains such as
// a.b().c().d().e().
type MessageChain struct {
	base
	modelBased
	tiers Tiers
}

// NewMessageChain creates the message-chain detector.
func NewMessageChain(th Thresholds, pool *codemodel.Pool) *MessageChain {
	return &MessageChain{
		base:       base{id: IDMessageChain, category: evidence.CategoryDesign},
		modelBased: modelBased{pool: pool},
		tiers:      th.MessageChain.Tiers(),
	}
}

// Detect implements Detector. One finding per function, at its longest
// chain.
func (d *MessageChain) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		for fm := range d.models(ctx, pc) {
			for _, fn := range fm.Functions {
				var longest codemodel.Call
				for _, c := range fn.Calls {
					if c.Chain > longest.Chain {
						longest = c
					}
				}
				tier, ok := d.tiers.Classify(float64(longest.Chain))
				if !ok {
					continue
				}
				ptr := functionPointer(fm.Path, fn)
				ptr.StartLine, ptr.EndLine = longest.Line, longest.Line
				m := tierMetrics(float64(longest.Chain), tier)
				m["root"] = evidence.Str(longest.Receiver)
				summary := fmt.Sprintf("%s chains %d calls ending in %s()", qualified(fn), longest.Chain, longest.Name)
				if !yield(d.finding(ptr, tier.Severity, summary, m)) {
					return
				}
			}
		}
	}
}

// DataClass flags types consisting of fields plus accessors only.
type DataClass struct {
	base
	modelBased
	minFields int
	ratio     float64
}

// NewDataClass creates the data-class detector.
func NewDataClass(th Thresholds, pool *codemodel.Pool) *DataClass {
	return &DataClass{
		base:       base{id: IDDataClass, category: evidence.CategoryDesign},
		modelBased: modelBased{pool: pool},
		minFields:  th.DataClassMinFields,
		ratio:      th.DataClassAccessorRatio,
	}
}

// Detect implements Detector.
func (d *DataClass) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		for fm := range d.models(ctx, pc) {
			for _, td := range fm.Types {
				if td.Kind != codemodel.KindClass && td.Kind != codemodel.KindStruct {
					continue
				}
				if len(td.Fields) < d.minFields || len(td.Methods) == 0 {
					continue
				}
				accessors := 0
				for _, m := range td.Methods {
					if isAccessor(m, td.Fields) {
						accessors++
					}
				}
				ratio := float64(accessors) / float64(len(td.Methods))
				if ratio < d.ratio {
					continue
				}
				m := map[string]evidence.Metric{
					evidence.MetricValue:     evidence.Num(ratio),
					evidence.MetricThreshold: evidence.Num(d.ratio),
					"fields":                 evidence.Int(len(td.Fields)),
					"accessors":              evidence.Int(accessors),
				}
				summary := fmt.Sprintf("%s holds %d fields and only accessor methods", td.Name, len(td.Fields))
				if !yield(d.finding(typePointer(fm.Path, td), evidence.SeverityMinor, summary, m)) {
					return
				}
			}
		}
	}
}

func isAccessor(method string, fields []string) bool {
	lower := strings.ToLower(method)
	for _, prefix := range []string{"get", "set", "is", "has"} {
		if rest, ok := strings.CutPrefix(method, prefix); ok && rest != "" && (unicode.IsUpper(rune(rest[0])) || rest[0] == '_') {
			return true
		}
		if rest, ok := strings.CutPrefix(method, strings.ToUpper(prefix[:1])+prefix[1:]); ok && rest != "" && unicode.IsUpper(rune(rest[0])) {
			return true
		}
	}
	for _, f := range fields {
		if strings.ToLower(f) == lower {
			return true
		}
	}
	return false
}
