// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apply

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/detect"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

// ExtractConstantTransformer names the magic numbers of a Go file as
// untyped package constants. Untyped constants behave exactly like the
// literals they replace.
type ExtractConstantTransformer struct{}

// NewExtractConstantTransformer creates the transformer.
func NewExtractConstantTransformer() *ExtractConstantTransformer {
	return &ExtractConstantTransformer{}
}

func (*ExtractConstantTransformer) Name() string { return "extract-constant" }

func (*ExtractConstantTransformer) Supports(t plan.PlannedTransform) bool {
	return t.Kind == plan.KindExtractConstant && strings.HasSuffix(t.Target.File, ".go")
}

type literalSite struct {
	line, col int
	value     string
}

func (x *ExtractConstantTransformer) Transform(ctx context.Context, files Files, t plan.PlannedTransform) ([]FileEdit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := files.ReadFile(t.Target.File)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", t.Target.File, err)
	}
	lines := strings.Split(string(content), "\n")
	code := codemodel.StripComments(lines)

	var sites []literalSite
	var order []string
	for _, lit := range detect.FindMagicNumbers(code) {
		v, col := lit.Value, lit.Column-1
		if strings.HasPrefix(v, "-") {
			v, col = v[1:], col+1
		}
		// Both views have equal widths; a literal must read the same in each,
		// which rules out digits inside strings and comments.
		raw, stripped := lines[lit.Line-1], code[lit.Line-1]
		if col < 0 || col+len(v) > len(raw) || raw[col:col+len(v)] != v || stripped[col:col+len(v)] != v {
			continue
		}
		sites = append(sites, literalSite{line: lit.Line - 1, col: col, value: v})
		if !slices.Contains(order, v) {
			order = append(order, v)
		}
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("%w: no magic numbers in %s", ErrNotApplicable, t.Target.File)
	}

	names := make(map[string]string, len(order))
	taken := make(map[string]bool)
	for _, v := range order {
		names[v] = uniqueName(string(content), constName(v), taken)
	}

	// Replace right to left so earlier columns stay valid.
	slices.SortFunc(sites, func(a, b literalSite) int {
		if c := cmp.Compare(a.line, b.line); c != 0 {
			return c
		}
		return cmp.Compare(b.col, a.col)
	})
	for _, s := range sites {
		l := lines[s.line]
		lines[s.line] = l[:s.col] + names[s.value] + l[s.col+len(s.value):]
	}

	at := goDeclInsertLine(code)
	if at < 0 {
		return nil, fmt.Errorf("%w: %s has no package clause", ErrNotApplicable, t.Target.File)
	}
	block := []string{"", "// Named literals.", "const ("}
	for _, v := range order {
		block = append(block, "\t"+names[v]+" = "+v)
	}
	block = append(block, ")")

	out := make([]string, 0, len(lines)+len(block))
	out = append(out, lines[:at]...)
	out = append(out, block...)
	out = append(out, lines[at:]...)
	return []FileEdit{{Path: t.Target.File, Content: []byte(strings.Join(out, "\n"))}}, nil
}

// constName derives an identifier from a numeric literal.
func constName(v string) string {
	r := strings.NewReplacer(".", "_", "+", "p", "-", "m")
	return "magic" + r.Replace(v)
}

func uniqueName(content, name string, taken map[string]bool) string {
	candidate := name
	for i := 2; ; i++ {
		if !taken[candidate] && !regexp.MustCompile(`\b`+regexp.QuoteMeta(candidate)+`\b`).MatchString(content) {
			taken[candidate] = true
			return candidate
		}
		candidate = name + "_" + strconv.Itoa(i)
	}
}

// goDeclInsertLine returns the index after the package clause and
// imports, or -1 without a package clause.
func goDeclInsertLine(code []string) int {
	insert := -1
	inImport := false
	for i, line := range code {
		t := strings.TrimSpace(line)
		switch {
		case inImport:
			if strings.HasPrefix(t, ")") {
				inImport = false
				insert = i + 1
			}
		case strings.HasPrefix(t, "package "):
			insert = i + 1
		case strings.HasPrefix(t, "import ("):
			inImport = true
		case strings.HasPrefix(t, "import "):
			insert = i + 1
		case t == "":
		default:
			if insert >= 0 {
				return insert
			}
		}
	}
	return insert
}
