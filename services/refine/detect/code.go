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
	"regexp"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// Detector ids of the code and maintainability families.
const (
	IDDeepNesting    = "code.deep-nesting"
	IDMagicNumber    = "code.magic-number"
	IDEmptyCatch     = "code.empty-catch"
	IDDuplicateBlock = "code.duplicate-block"
	IDDebtMarker     = "code.debt-marker"
)

// DeepNesting flags functions whose blocks nest too deeply.
type DeepNesting struct {
	base
	modelBased
	tiers Tiers
}

// NewDeepNesting creates the deep-nesting detector.
func NewDeepNesting(th Thresholds, pool *codemodel.Pool) *DeepNesting {
	return &DeepNesting{
		base:       base{id: IDDeepNesting, category: evidence.CategoryCode},
		modelBased: modelBased{pool: pool},
		tiers:      th.Nesting.Tiers(),
	}
}

// Detect implements Detector.
func (d *DeepNesting) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		cache := d.pool.For(pc)
		for fm := range d.models(ctx, pc) {
			txt, err := cache.Text(fm.Path)
			if err != nil {
				continue
			}
			for _, fn := range fm.Functions {
				depth, line := MaxNesting(txt.Code, fn)
				tier, ok := d.tiers.Classify(float64(depth))
				if !ok {
					continue
				}
				ptr := functionPointer(fm.Path, fn)
				m := tierMetrics(float64(depth), tier)
				m["deepest_line"] = evidence.Int(line)
				summary := fmt.Sprintf("%s nests blocks %d levels deep", qualified(fn), depth)
				if !yield(d.finding(ptr, tier.Severity, summary, m)) {
					return
				}
			}
		}
	}
}

// MaxNesting returns the deepest brace nesting inside the body of fn,
// not counting the body itself, and the line where it occurs.
func MaxNesting(code []string, fn codemodel.Function) (int, int) {
	if fn.BodyStartLine == 0 || fn.EndLine > len(code) {
		return 0, 0
	}
	depth, deepest, at := 0, 0, 0
	for i := fn.BodyStartLine - 1; i < fn.EndLine; i++ {
		for _, c := range code[i] {
			switch c {
			case '{':
				depth++
				if depth-1 > deepest {
					deepest, at = depth-1, i+1
				}
			case '}':
				depth--
			}
		}
	}
	return deepest, at
}

var (
	numberRe = regexp.MustCompile(`(?:^|[^\w.$])(-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)[fFdDlL]?\b`)

	constLineRe = regexp.MustCompile(`^\s*(?:(?:export\s+)?const\b|#define\b|(?:public\s+|private\s+|protected\s+)?(?:static\s+final|final\s+static|const)\b|(?:private\s+|public\s+)?const\s+val\b|import\b|package\b|@)`)
)

// wellKnownNumbers are literals too common to need a name.
var wellKnownNumbers = map[string]bool{
	"0": true, "1": true, "-1": true, "2": true, "0.0": true, "1.0": true,
	"0.5": true, "10": true, "100": true, "1000": true, "1024": true,
}

// MagicNumber flags files with many unexplained numeric literals.
// Constant declarations and well-known values are ignored.
type MagicNumber struct {
	base
	textBased
	tiers Tiers
}

// NewMagicNumber creates the magic-number detector.
func NewMagicNumber(th Thresholds, pool *codemodel.Pool) *MagicNumber {
	return &MagicNumber{
		base:      base{id: IDMagicNumber, category: evidence.CategoryCode},
		textBased: textBased{pool: pool},
		tiers:     th.MagicNumbers.Tiers(),
	}
}

// MagicLiteral is one unexplained numeric literal.
type MagicLiteral struct {
	Value  string
	Line   int
	Column int
}

// FindMagicNumbers lists the unexplained literals in stripped code.
func FindMagicNumbers(code []string) []MagicLiteral {
	var out []MagicLiteral
	inConstBlock := false
	for i, line := range code {
		trimmed := strings.TrimSpace(line)
		if inConstBlock {
			if strings.HasPrefix(trimmed, ")") {
				inConstBlock = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "const (") {
			inConstBlock = true
			continue
		}
		if constLineRe.MatchString(line) {
			continue
		}
		for _, loc := range numberRe.FindAllStringSubmatchIndex(line, -1) {
			v := line[loc[2]:loc[3]]
			if wellKnownNumbers[v] {
				continue
			}
			out = append(out, MagicLiteral{Value: v, Line: i + 1, Column: loc[2] + 1})
		}
	}
	return out
}

// Detect implements Detector.
func (d *MagicNumber) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		for ft := range d.texts(ctx, pc) {
			literals := FindMagicNumbers(ft.Code)
			tier, ok := d.tiers.Classify(float64(len(literals)))
			if !ok {
				continue
			}
			samples := make([]string, 0, 5)
			for _, l := range literals[:min(5, len(literals))] {
				samples = append(samples, l.Value)
			}
			first := literals[0]
			ptr := evidence.CodePointer{File: ft.path, StartLine: first.Line, EndLine: first.Line, StartColumn: first.Column}
			m := tierMetrics(float64(len(literals)), tier)
			m["samples"] = evidence.Str(strings.Join(samples, ","))
			summary := fmt.Sprintf("%d unexplained numeric literals, first %s at line %d", len(literals), first.Value, first.Line)
			if !yield(d.finding(ptr, tier.Severity, summary, m)) {
				return
			}
		}
	}
}

var emptyHandlerRes = []*regexp.Regexp{
	regexp.MustCompile(`\bcatch\s*(?:\([^)]*\))?\s*\{\s*\}`),
	regexp.MustCompile(`\bif\s+err\s*!=\s*nil\s*\{\s*\}`),
	regexp.MustCompile(`\.catch\(\s*\(\s*\w*\s*\)\s*=>\s*\{\s*\}\s*\)`),
}

// EmptyCatch flags error handlers that swallow the error: empty catch
// blocks, empty Go error branches and empty promise catch callbacks.
type EmptyCatch struct {
	base
	textBased
}

// NewEmptyCatch creates the empty-catch detector.
func NewEmptyCatch(pool *codemodel.Pool) *EmptyCatch {
	return &EmptyCatch{
		base:      base{id: IDEmptyCatch, category: evidence.CategoryCode},
		textBased: textBased{pool: pool},
	}
}

// Detect implements Detector. One MAJOR finding per swallowed handler.
func (d *EmptyCatch) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		for ft := range d.texts(ctx, pc) {
			joined := strings.Join(ft.Code, "\n")
			type hit struct{ start, end int }
			var hits []hit
			for _, re := range emptyHandlerRes {
				for _, loc := range re.FindAllStringIndex(joined, -1) {
					hits = append(hits, hit{loc[0], loc[1]})
				}
			}
			slices.SortFunc(hits, func(a, b hit) int { return a.start - b.start })
			for _, h := range hits {
				start := strings.Count(joined[:h.start], "\n") + 1
				end := start + strings.Count(joined[h.start:h.end], "\n")
				ptr := evidence.CodePointer{File: ft.path, StartLine: start, EndLine: end}
				m := map[string]evidence.Metric{evidence.MetricValue: evidence.Int(1)}
				summary := fmt.Sprintf("error handler at line %d swallows the error", start)
				if !yield(d.finding(ptr, evidence.SeverityMajor, summary, m)) {
					return
				}
			}
		}
	}
}

var debtMarkerRe = regexp.MustCompile(`(?://|#|/\*|\*|<!--)\s*(TODO|FIXME|HACK|XXX)\b[:(\s]*(.*)`)

// DebtMarker reports TODO, FIXME, HACK and XXX comments. FIXME, HACK and
// XXX are MINOR; TODO is INFO.
type DebtMarker struct {
	base
	textBased
}

// NewDebtMarker creates the debt-marker detector.
func NewDebtMarker(pool *codemodel.Pool) *DebtMarker {
	return &DebtMarker{
		base:      base{id: IDDebtMarker, category: evidence.CategoryMaintainability},
		textBased: textBased{pool: pool},
	}
}

// Detect implements Detector.
func (d *DebtMarker) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		for ft := range d.texts(ctx, pc) {
			for i, line := range ft.Raw {
				m := debtMarkerRe.FindStringSubmatch(line)
				if m == nil {
					continue
				}
				sev := evidence.SeverityMinor
				if m[1] == "TODO" {
					sev = evidence.SeverityInfo
				}
				note := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m[2]), "*/"))
				ptr := evidence.CodePointer{File: ft.path, StartLine: i + 1, EndLine: i + 1}
				metrics := map[string]evidence.Metric{
					evidence.MetricSmell: evidence.Str(strings.ToLower(m[1])),
					"note":               evidence.Str(note),
				}
				summary := fmt.Sprintf("%s marker: %s", m[1], note)
				if !yield(d.finding(ptr, sev, summary, metrics)) {
					return
				}
			}
		}
	}
}

// minDuplicateChars keeps windows of trivial lines (closing braces,
// short returns) from counting as duplication.
const minDuplicateChars = 60

// DuplicateBlock flags blocks of normalized lines that appear in more
// than one place. Each duplicated region is reported once, at its first
// occurrence, with the other locations in the "locations" metric.
type DuplicateBlock struct {
	base
	textBased
	window int
	tiers  Tiers
}

// NewDuplicateBlock creates the duplicate-block detector.
func NewDuplicateBlock(th Thresholds, pool *codemodel.Pool) *DuplicateBlock {
	return &DuplicateBlock{
		base:      base{id: IDDuplicateBlock, category: evidence.CategoryCode},
		textBased: textBased{pool: pool},
		window:    th.DuplicateWindow,
		tiers:     th.DuplicateCopies.Tiers(),
	}
}

type normalizedLine struct {
	text string
	line int
}

type blockSite struct {
	file  string
	index int
}

// Detect implements Detector. The scan needs every file before it can
// report, so the whole project is read on each iteration.
func (d *DuplicateBlock) Detect(ctx context.Context, pc *evidence.ProjectContext) Sequence {
	return func(yield func(evidence.Evidence) bool) {
		var files []string
		normalized := make(map[string][]normalizedLine)
		sites := make(map[string][]blockSite)

		for ft := range d.texts(ctx, pc) {
			lines := normalizeLines(ft.Code)
			if len(lines) < d.window {
				continue
			}
			files = append(files, ft.path)
			normalized[ft.path] = lines
			for i := 0; i+d.window <= len(lines); i++ {
				key, size := windowKey(lines[i : i+d.window])
				if size < minDuplicateChars {
					continue
				}
				sites[key] = append(sites[key], blockSite{file: ft.path, index: i})
			}
		}
		if ctx.Err() != nil {
			return
		}

		covered := make(map[blockSite]bool)
		for _, f := range files {
			lines := normalized[f]
			for i := 0; i+d.window <= len(lines); i++ {
				here := blockSite{file: f, index: i}
				if covered[here] {
					continue
				}
				key, _ := windowKey(lines[i : i+d.window])
				copies := distinctSites(sites[key], d.window)
				if len(copies) < 2 {
					continue
				}
				tier, ok := d.tiers.Classify(float64(len(copies)))
				if !ok {
					continue
				}
				var others []string
				for _, c := range copies {
					for k := range d.window {
						covered[blockSite{file: c.file, index: c.index + k}] = true
					}
					if c != here {
						others = append(others, fmt.Sprintf("%s:%d", c.file, normalized[c.file][c.index].line))
					}
				}
				start := lines[i].line
				end := lines[i+d.window-1].line
				ptr := evidence.CodePointer{File: f, StartLine: start, EndLine: end}
				m := tierMetrics(float64(len(copies)), tier)
				m["locations"] = evidence.Str(strings.Join(others, ","))
				summary := fmt.Sprintf("%d-line block duplicated %d times (also at %s)", d.window, len(copies), strings.Join(others, ", "))
				if !yield(d.finding(ptr, tier.Severity, summary, m)) {
					return
				}
			}
		}
	}
}

// normalizeLines drops blank, brace-only and import lines and collapses
// whitespace.
func normalizeLines(code []string) []normalizedLine {
	out := make([]normalizedLine, 0, len(code))
	for i, line := range code {
		t := strings.Join(strings.Fields(line), " ")
		if trivial(t) || strings.HasPrefix(t, "import ") || strings.HasPrefix(t, "package ") {
			continue
		}
		out = append(out, normalizedLine{text: t, line: i + 1})
	}
	return out
}

func windowKey(lines []normalizedLine) (string, int) {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.text)
		b.WriteByte('\n')
	}
	return b.String(), b.Len()
}

// distinctSites drops sites overlapping an earlier site in the same file.
func distinctSites(all []blockSite, window int) []blockSite {
	var out []blockSite
	last := make(map[string]int)
	for _, s := range all {
		if prev, ok := last[s.file]; ok && s.index < prev+window {
			continue
		}
		last[s.file] = s.index
		out = append(out, s)
	}
	return out
}
