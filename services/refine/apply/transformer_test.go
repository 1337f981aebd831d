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
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

// mapFiles serves file content from memory.
type mapFiles map[string]string

func (m mapFiles) ReadFile(rel string) ([]byte, error) {
	c, ok := m[rel]
	if !ok {
		return nil, assert.AnError
	}
	return []byte(c), nil
}

func markerTransform(id, file string, line int) plan.PlannedTransform {
	return plan.PlannedTransform{
		ID:     id,
		Kind:   plan.KindExtractMethod,
		Name:   "Extract method",
		Target: plan.TransformTarget{Kind: plan.TargetFile, File: file, StartLine: line},
	}
}

func TestMarkerTransformer_InsertsIndentedComment(t *testing.T) {
	files := mapFiles{"a.go": "package p\n\nfunc A() {\n\tdo()\n}\n"}
	tr := markerTransform("0123456789abcdef", "a.go", 4)

	edits, err := NewMarkerTransformer().Transform(context.Background(), files, tr)
	require.NoError(t, err)
	require.Len(t, edits, 1)

	want := "package p\n\nfunc A() {\n\t// REFACTOR(extract-method): Extract method [refine:01234567]\n\tdo()\n}\n"
	assert.Equal(t, want, string(edits[0].Content))
}

func TestMarkerTransformer_PythonAndCRLF(t *testing.T) {
	files := mapFiles{"m.py": "def f():\r\n    pass\r\n"}
	tr := markerTransform("abc", "m.py", 2)

	edits, err := NewMarkerTransformer().Transform(context.Background(), files, tr)
	require.NoError(t, err)
	assert.Equal(t, "def f():\r\n    # REFACTOR(extract-method): Extract method [refine:abc]\r\n    pass\r\n", string(edits[0].Content))
}

func TestMarkerTransformer_Errors(t *testing.T) {
	m := NewMarkerTransformer()
	ctx := context.Background()

	_, err := m.Transform(ctx, mapFiles{"a.go": "package p\n"}, markerTransform("t1", "a.go", 40))
	assert.ErrorContains(t, err, "outside")

	applied := mapFiles{"a.go": "// REFACTOR(x): y [refine:t1]\npackage p\n"}
	_, err = m.Transform(ctx, applied, markerTransform("t1", "a.go", 1))
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	assert.False(t, m.Supports(markerTransform("t1", "notes.txt", 1)))
}

func TestTransformerRegistry_Resolve(t *testing.T) {
	reg := DefaultTransformers()

	tr := markerTransform("t1", "a.go", 1)
	tr.Kind = plan.KindExtractConstant
	got, err := reg.Resolve(tr)
	require.NoError(t, err)
	assert.Equal(t, "extract-constant", got.Name())

	tr.Target.File = "A.java"
	got, err = reg.Resolve(tr)
	require.NoError(t, err)
	assert.Equal(t, "marker", got.Name())

	tr.Target.File = "README"
	_, err = reg.Resolve(tr)
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestExtractConstant_NamesLiterals(t *testing.T) {
	src := "package p\n\nfunc Area(r float64) float64 {\n\treturn r * r * 3.14159\n}\n\nfunc Answer() int { return 42 + 42 }\n"
	tr := markerTransform("t1", "p.go", 1)
	tr.Kind = plan.KindExtractConstant

	edits, err := NewExtractConstantTransformer().Transform(context.Background(), mapFiles{"p.go": src}, tr)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	out := string(edits[0].Content)

	assert.True(t, strings.HasPrefix(out, "package p\n\n// Named literals.\nconst (\n\tmagic3_14159 = 3.14159\n\tmagic42 = 42\n)\n"), out)
	assert.Contains(t, out, "return r * r * magic3_14159\n")
	assert.Contains(t, out, "return magic42 + magic42 }")
}

func TestExtractConstant_LeavesStringsAndCommentsAlone(t *testing.T) {
	src := "package p\n\nfunc F() {\n\th(\"33333\", 33) /* 33 */\n\tg(42, 77)\n}\n"
	tr := markerTransform("t1", "p.go", 1)
	tr.Kind = plan.KindExtractConstant

	edits, err := NewExtractConstantTransformer().Transform(context.Background(), mapFiles{"p.go": src}, tr)
	require.NoError(t, err)
	out := string(edits[0].Content)

	assert.Contains(t, out, "\th(\"33333\", magic33) /* 33 */\n")
	assert.Contains(t, out, "\tg(magic42, magic77)\n")
	assert.Contains(t, out, "\tmagic33 = 33\n")
}

func TestExtractConstant_AvoidsNameCollision(t *testing.T) {
	src := "package p\n\nvar magic42 = 0\n\nfunc F() int { return 42 }\n"
	tr := markerTransform("t1", "p.go", 1)
	tr.Kind = plan.KindExtractConstant

	edits, err := NewExtractConstantTransformer().Transform(context.Background(), mapFiles{"p.go": src}, tr)
	require.NoError(t, err)
	assert.Contains(t, string(edits[0].Content), "return magic42_2 }")
}

func TestExtractConstant_NothingToExtract(t *testing.T) {
	tr := markerTransform("t1", "p.go", 1)
	tr.Kind = plan.KindExtractConstant

	_, err := NewExtractConstantTransformer().Transform(context.Background(), mapFiles{"p.go": "package p\n\nvar x = 1\n"}, tr)
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestConstName(t *testing.T) {
	assert.Equal(t, "magic3_5", constName("3.5"))
	assert.Equal(t, "magic1em9", constName("1e-9"))
}
