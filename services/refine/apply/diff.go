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
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// diffContext is the number of unchanged lines around each hunk.
const diffContext = 3

// RenderDiff returns the unified diff turning before into after, or ""
// when they are equal.
func RenderDiff(path string, before, after []byte) (string, error) {
	if bytes.Equal(before, after) {
		return "", nil
	}
	a := splitLines(before)
	b := splitLines(after)

	fd := &diff.FileDiff{OrigName: "a/" + path, NewName: "b/" + path}
	if before == nil {
		fd.OrigName = "/dev/null"
	}
	m := difflib.NewMatcher(a, b)
	for _, group := range m.GetGroupedOpCodes(diffContext) {
		first, last := group[0], group[len(group)-1]
		h := &diff.Hunk{
			OrigStartLine: int32(first.I1 + 1),
			OrigLines:     int32(last.I2 - first.I1),
			NewStartLine:  int32(first.J1 + 1),
			NewLines:      int32(last.J2 - first.J1),
		}
		if h.OrigLines == 0 {
			h.OrigStartLine--
		}
		if h.NewLines == 0 {
			h.NewStartLine--
		}
		var body bytes.Buffer
		for _, op := range group {
			switch op.Tag {
			case 'e':
				writeLines(&body, ' ', a[op.I1:op.I2])
			case 'd':
				writeLines(&body, '-', a[op.I1:op.I2])
			case 'i':
				writeLines(&body, '+', b[op.J1:op.J2])
			case 'r':
				writeLines(&body, '-', a[op.I1:op.I2])
				writeLines(&body, '+', b[op.J1:op.J2])
			}
		}
		h.Body = body.Bytes()
		fd.Hunks = append(fd.Hunks, h)
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("rendering diff for %s: %w", path, err)
	}
	return string(out), nil
}

// splitLines keeps line terminators and yields no phantom trailing line.
func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(content), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeLines(buf *bytes.Buffer, prefix byte, lines []string) {
	for _, l := range lines {
		buf.WriteByte(prefix)
		buf.WriteString(strings.TrimSuffix(l, "\n"))
		buf.WriteByte('\n')
	}
}

// DiffStat counts added and deleted lines of a rendered diff.
func DiffStat(rendered string) (added, deleted int, err error) {
	if rendered == "" {
		return 0, 0, nil
	}
	fd, err := diff.ParseFileDiff([]byte(rendered))
	if err != nil {
		return 0, 0, fmt.Errorf("parsing diff: %w", err)
	}
	st := fd.Stat()
	// Stat counts a replaced line as Changed once on each side.
	return int(st.Added + st.Changed), int(st.Deleted + st.Changed), nil
}
