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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDiff_Insertion(t *testing.T) {
	before := []byte("package p\n\nfunc A() {}\n")
	after := []byte("package p\n\n// note\nfunc A() {}\n")

	d, err := RenderDiff("p/a.go", before, after)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(d, "--- a/p/a.go\n+++ b/p/a.go\n"), d)
	assert.Contains(t, d, "@@ -1,3 +1,4 @@")
	assert.Contains(t, d, "\n+// note\n")

	added, deleted, err := DiffStat(d)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, deleted)
}

func TestRenderDiff_Replacement(t *testing.T) {
	d, err := RenderDiff("a.go", []byte("x := 42\ny\n"), []byte("x := answer\ny\n"))
	require.NoError(t, err)

	assert.Contains(t, d, "-x := 42\n+x := answer\n")
	added, deleted, err := DiffStat(d)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, deleted)
}

func TestRenderDiff_CreatedFile(t *testing.T) {
	d, err := RenderDiff("new.go", nil, []byte("package p\n"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(d, "--- /dev/null\n+++ b/new.go\n"), d)
	added, deleted, err := DiffStat(d)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, deleted)
}

func TestRenderDiff_Equal(t *testing.T) {
	d, err := RenderDiff("a.go", []byte("same\n"), []byte("same\n"))
	require.NoError(t, err)
	assert.Empty(t, d)

	added, deleted, err := DiffStat(d)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Zero(t, deleted)
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(nil))
	assert.Equal(t, []string{"a\n", "b"}, splitLines([]byte("a\nb")))
	assert.Equal(t, []string{"a\n", "b\n"}, splitLines([]byte("a\nb\n")))
}
