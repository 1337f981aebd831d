// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact estimates which files a planned transform reaches and
// how risky it is to apply automatically.
//
// Traversal: the target symbol is looked up by word-bounded text search
// over every project file and structurally through the code model's
// supertype lists; the target file's importers are then followed over
// the reverse import graph up to MaxDepth hops.
package impact

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

// DefaultMaxDepth bounds the reverse import traversal.
const DefaultMaxDepth = 2

// ErrNilContext is returned when Analyze is called without a project.
var ErrNilContext = errors.New("project context must not be nil")

// RiskLevel is the coarse safety classification of an operation.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// Max returns the riskier of r and o.
func (r RiskLevel) Max(o RiskLevel) RiskLevel {
	if o.rank() > r.rank() {
		return o
	}
	return r
}

// Reason tells why a file is impacted.
type Reason string

const (
	ReasonTarget    Reason = "target"
	ReasonReference Reason = "reference"
	ReasonSubtype   Reason = "subtype"
	ReasonImporter  Reason = "importer"
)

// ImpactedFile is one file an operation reaches.
type ImpactedFile struct {
	Path   string `json:"path"`
	Lines  []int  `json:"lines,omitempty"`
	Reason Reason `json:"reason"`
	Depth  int    `json:"depth"`
}

// Dependency kinds.
const (
	DepImport    = "import"
	DepReference = "reference"
	DepInherits  = "inherits"
)

// Dependency is one edge examined during traversal, From depending on To.
type Dependency struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// Operation is the unit of analysis: one transform and its target.
type Operation struct {
	TransformID string               `json:"transform_id,omitempty"`
	Kind        plan.TransformKind   `json:"kind"`
	Target      plan.TransformTarget `json:"target"`
}

// OperationFor converts a planned transform.
func OperationFor(t plan.PlannedTransform) Operation {
	return Operation{TransformID: t.ID, Kind: t.Kind, Target: t.Target}
}

// TransformImpact is the analysis of one operation.
type TransformImpact struct {
	TransformID   string         `json:"transform_id,omitempty"`
	RiskLevel     RiskLevel      `json:"risk_level"`
	Reasons       []string       `json:"reasons,omitempty"`
	ImpactedFiles []ImpactedFile `json:"impacted_files"`
	Dependencies  []Dependency   `json:"dependencies"`
}

// Report is the combined analysis of every operation. RiskLevel is the
// maximum over PerTransform.
type Report struct {
	RiskLevel     RiskLevel         `json:"risk_level"`
	ImpactedFiles []ImpactedFile    `json:"impacted_files"`
	Dependencies  []Dependency      `json:"dependencies"`
	PerTransform  []TransformImpact `json:"per_transform"`
}

// Blocked reports whether the report gates automatic application.
func (r *Report) Blocked() bool { return r.RiskLevel == RiskHigh }

// memberChangingKinds alter the members of the target type, so they
// reach overriding subtypes.
var memberChangingKinds = map[plan.TransformKind]bool{
	plan.KindExtractClass:             true,
	plan.KindMoveMethod:               true,
	plan.KindIntroduceParameterObject: true,
	plan.KindEncapsulateData:          true,
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithMaxDepth overrides DefaultMaxDepth. Zero disables import traversal.
func WithMaxDepth(d int) Option {
	return func(a *Analyzer) {
		if d >= 0 {
			a.maxDepth = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// Analyzer computes impact reports.
//
// # Thread Safety
//
// Safe for concurrent use.
type Analyzer struct {
	pool     *codemodel.Pool
	maxDepth int
	logger   *slog.Logger
}

// NewAnalyzer creates an analyzer reading code through pool.
func NewAnalyzer(pool *codemodel.Pool, opts ...Option) *Analyzer {
	a := &Analyzer{
		pool:     pool,
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default().With("component", "impact.Analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze evaluates ops against pc.
//
// # Description
//
// Each operation is classified independently:
//
//   - HIGH when the kind rewrites inheritance, or when it changes the
//     members of a type that has subtypes or implementers in the project.
//   - MEDIUM when the target symbol is referenced from more than one file.
//   - LOW otherwise.
//
// Impacted files and dependencies are merged across operations; a file
// reached several ways keeps its shallowest depth.
//
// # Outputs
//
//   - *Report: RiskLevel is LOW when ops is empty.
//   - error: ErrNilContext, or the context error if ctx is done.
func (a *Analyzer) Analyze(ctx context.Context, pc *evidence.ProjectContext, ops ...Operation) (*Report, error) {
	if pc == nil {
		return nil, ErrNilContext
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "refine.impact.Analyze",
		trace.WithAttributes(
			attribute.String("refine.project_id", pc.ID()),
			attribute.Int("refine.operations", len(ops)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	cache := a.pool.For(pc)
	module, _ := pc.Property(evidence.PropGoModule)
	graph := cache.Graph(ctx, pc.SourceFiles(), module)
	subtypes := a.subtypeIndex(ctx, cache, pc)

	report := &Report{RiskLevel: RiskLow, ImpactedFiles: []ImpactedFile{}, Dependencies: []Dependency{}}
	files := newFileSet()
	deps := newDepSet()
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ti := a.analyzeOne(cache, pc, graph, subtypes, op)
		report.PerTransform = append(report.PerTransform, ti)
		report.RiskLevel = report.RiskLevel.Max(ti.RiskLevel)
		for _, f := range ti.ImpactedFiles {
			files.add(f)
		}
		for _, d := range ti.Dependencies {
			deps.add(d)
		}
	}
	report.ImpactedFiles = files.sorted()
	report.Dependencies = deps.list

	span.SetAttributes(
		attribute.String("refine.risk_level", string(report.RiskLevel)),
		attribute.Int("refine.impacted_files", len(report.ImpactedFiles)),
	)
	recordAnalysis(ctx, time.Since(start), report)
	a.logger.DebugContext(ctx, "impact analyzed",
		slog.String("project_id", pc.ID()),
		slog.Int("operations", len(ops)),
		slog.String("risk", string(report.RiskLevel)),
		slog.Int("impacted_files", len(report.ImpactedFiles)),
	)
	return report, nil
}

// typeRef is a declared type and the file declaring it.
type typeRef struct {
	file string
	name string
}

// subtypeIndex maps a type name to the types extending or implementing it.
func (a *Analyzer) subtypeIndex(ctx context.Context, cache *codemodel.Cache, pc *evidence.ProjectContext) map[string][]typeRef {
	idx := make(map[string][]typeRef)
	for _, f := range pc.SourceFiles() {
		if !cache.Supports(f) {
			continue
		}
		m, err := cache.Model(ctx, f)
		if err != nil {
			continue
		}
		for _, td := range m.Types {
			for _, super := range slices.Concat(td.Extends, td.Implements) {
				name := simpleName(super)
				idx[name] = append(idx[name], typeRef{file: f, name: td.Name})
			}
		}
	}
	return idx
}

func (a *Analyzer) analyzeOne(cache *codemodel.Cache, pc *evidence.ProjectContext, graph *codemodel.ImportGraph, subtypes map[string][]typeRef, op Operation) TransformImpact {
	ti := TransformImpact{TransformID: op.TransformID, RiskLevel: RiskLow}
	files := newFileSet()
	deps := newDepSet()

	target := op.Target.File
	if target == "" || !pc.Contains(target) {
		ti.Reasons = append(ti.Reasons, "target outside project; nothing to traverse")
		if plan.TouchesInheritance(op.Kind) {
			ti.RiskLevel = RiskHigh
		}
		ti.ImpactedFiles, ti.Dependencies = []ImpactedFile{}, []Dependency{}
		return ti
	}
	files.add(ImpactedFile{Path: target, Reason: ReasonTarget, Lines: lineRange(op.Target.StartLine, op.Target.EndLine)})

	if plan.TouchesInheritance(op.Kind) {
		ti.RiskLevel = RiskHigh
		ti.Reasons = append(ti.Reasons, "rewrites inheritance or interface implementation ("+string(op.Kind)+")")
	}

	if class := op.Target.Class; class != "" {
		subs := subtypes[class]
		for _, s := range subs {
			files.add(ImpactedFile{Path: s.file, Reason: ReasonSubtype, Depth: 1})
			deps.add(Dependency{From: s.file, To: target, Kind: DepInherits})
		}
		if len(subs) > 0 && memberChangingKinds[op.Kind] {
			ti.RiskLevel = RiskHigh
			ti.Reasons = append(ti.Reasons, class+" has subtypes or implementers")
		}
	}

	refFiles := 0
	if sym := op.Target.Symbol(); sym != "" {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(sym) + `\b`)
		for _, f := range pc.AllFiles() {
			txt, err := cache.Text(f)
			if err != nil {
				continue
			}
			var lines []int
			for i, line := range txt.Code {
				if re.MatchString(line) {
					lines = append(lines, i+1)
				}
			}
			if len(lines) == 0 {
				continue
			}
			refFiles++
			if f == target {
				continue
			}
			files.add(ImpactedFile{Path: f, Lines: lines, Reason: ReasonReference, Depth: 1})
			deps.add(Dependency{From: f, To: target, Kind: DepReference})
		}
	}
	if refFiles > 1 && ti.RiskLevel != RiskHigh {
		ti.RiskLevel = RiskMedium
		ti.Reasons = append(ti.Reasons, op.Target.Symbol()+" is referenced from several files")
	}

	// Reverse import BFS.
	frontier := []string{target}
	seen := map[string]bool{target: true}
	for depth := 1; depth <= a.maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, f := range frontier {
			for _, imp := range graph.Importers(f) {
				deps.add(Dependency{From: imp, To: f, Kind: DepImport})
				if seen[imp] {
					continue
				}
				seen[imp] = true
				files.add(ImpactedFile{Path: imp, Reason: ReasonImporter, Depth: depth})
				next = append(next, imp)
			}
		}
		frontier = next
	}

	ti.ImpactedFiles = files.sorted()
	ti.Dependencies = deps.list
	return ti
}

func lineRange(start, end int) []int {
	if start <= 0 {
		return nil
	}
	if end < start {
		end = start
	}
	lines := make([]int, 0, end-start+1)
	for l := start; l <= end; l++ {
		lines = append(lines, l)
	}
	return lines
}

// simpleName strips package qualifiers, pointers and type arguments.
func simpleName(s string) string {
	if i := strings.IndexAny(s, "<["); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimPrefix(strings.TrimSpace(s), "*")
}

type fileSet struct {
	byPath map[string]*ImpactedFile
	order  []string
}

func newFileSet() *fileSet {
	return &fileSet{byPath: make(map[string]*ImpactedFile)}
}

func (s *fileSet) add(f ImpactedFile) {
	cur, ok := s.byPath[f.Path]
	if !ok {
		cp := f
		cp.Lines = slices.Clone(f.Lines)
		s.byPath[f.Path] = &cp
		s.order = append(s.order, f.Path)
		return
	}
	if f.Depth < cur.Depth {
		cur.Depth = f.Depth
		cur.Reason = f.Reason
	}
	for _, l := range f.Lines {
		if !slices.Contains(cur.Lines, l) {
			cur.Lines = append(cur.Lines, l)
		}
	}
	slices.Sort(cur.Lines)
}

// sorted returns files by depth, then path.
func (s *fileSet) sorted() []ImpactedFile {
	out := make([]ImpactedFile, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, *s.byPath[p])
	}
	slices.SortStableFunc(out, func(a, b ImpactedFile) int {
		if c := cmp.Compare(a.Depth, b.Depth); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return out
}

type depSet struct {
	seen map[Dependency]bool
	list []Dependency
}

func newDepSet() *depSet {
	return &depSet{seen: make(map[Dependency]bool), list: []Dependency{}}
}

func (s *depSet) add(d Dependency) {
	if s.seen[d] {
		return
	}
	s.seen[d] = true
	s.list = append(s.list, d)
}
