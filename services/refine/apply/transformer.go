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
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

// ErrAlreadyApplied is returned when a transform's marker is present.
var ErrAlreadyApplied = errors.New("transform already applied")

// Files is the view of the project a transformer reads. It reflects the
// edits of earlier transforms in the same apply, including dry runs.
type Files interface {
	ReadFile(rel string) ([]byte, error)
}

// FileEdit replaces the whole content of one project file, creating it
// if needed.
type FileEdit struct {
	Path    string
	Content []byte
}

// Transformer turns a planned transform into file edits. It must not
// write to disk.
type Transformer interface {
	Name() string
	Supports(t plan.PlannedTransform) bool
	Transform(ctx context.Context, files Files, t plan.PlannedTransform) ([]FileEdit, error)
}

// TransformerRegistry resolves the transformer for a transform; the
// first registered transformer that supports it wins.
type TransformerRegistry struct {
	transformers []Transformer
}

// NewTransformerRegistry creates a registry.
func NewTransformerRegistry(ts ...Transformer) *TransformerRegistry {
	return &TransformerRegistry{transformers: ts}
}

// DefaultTransformers registers the constant extractor, then the marker
// fallback.
func DefaultTransformers() *TransformerRegistry {
	return NewTransformerRegistry(NewExtractConstantTransformer(), NewMarkerTransformer())
}

// Resolve returns the transformer for t.
func (r *TransformerRegistry) Resolve(t plan.PlannedTransform) (Transformer, error) {
	for _, tr := range r.transformers {
		if tr.Supports(t) {
			return tr, nil
		}
	}
	return nil, fmt.Errorf("%w: no transformer for %s on %s", ErrNotApplicable, t.Kind, t.Target.File)
}

// commentPrefixes maps extensions to line-comment syntax.
var commentPrefixes = map[string]string{
	".go": "//", ".java": "//", ".kt": "//", ".kts": "//", ".cs": "//",
	".js": "//", ".jsx": "//", ".mjs": "//", ".ts": "//", ".tsx": "//",
	".c": "//", ".h": "//", ".cpp": "//", ".rs": "//", ".swift": "//", ".scala": "//",
	".py": "#", ".rb": "#", ".sh": "#", ".yaml": "#", ".yml": "#", ".toml": "#",
}

// MarkerTransformer inserts a review comment above the target. It
// supports every kind in any file with line comments, so it is the
// fallback for transforms without an automated rewrite.
type MarkerTransformer struct{}

// NewMarkerTransformer creates the marker transformer.
func NewMarkerTransformer() *MarkerTransformer { return &MarkerTransformer{} }

func (*MarkerTransformer) Name() string { return "marker" }

func (*MarkerTransformer) Supports(t plan.PlannedTransform) bool {
	_, ok := commentPrefixes[strings.ToLower(path.Ext(t.Target.File))]
	return ok
}

// Marker returns the tag that identifies t's marker comment.
func Marker(t plan.PlannedTransform) string {
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "[refine:" + id + "]"
}

func (m *MarkerTransformer) Transform(ctx context.Context, files Files, t plan.PlannedTransform) ([]FileEdit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !m.Supports(t) {
		return nil, fmt.Errorf("%w: no comment syntax for %s", ErrNotApplicable, t.Target.File)
	}
	content, err := files.ReadFile(t.Target.File)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", t.Target.File, err)
	}
	tag := Marker(t)
	if bytes.Contains(content, []byte(tag)) {
		return nil, fmt.Errorf("%w: %s in %s", ErrAlreadyApplied, tag, t.Target.File)
	}

	eol := "\n"
	if bytes.Contains(content, []byte("\r\n")) {
		eol = "\r\n"
	}
	lines := strings.Split(string(content), "\n")
	at := max(t.Target.StartLine, 1)
	if at > len(lines) {
		return nil, fmt.Errorf("line %d is outside %s (%d lines)", at, t.Target.File, len(lines))
	}
	indent := leadingSpace(lines[at-1])
	prefix := commentPrefixes[strings.ToLower(path.Ext(t.Target.File))]
	comment := fmt.Sprintf("%s%s REFACTOR(%s): %s %s", indent, prefix, t.Kind, t.Name, tag)
	if eol == "\r\n" {
		comment += "\r"
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at-1]...)
	out = append(out, comment)
	out = append(out, lines[at-1:]...)
	return []FileEdit{{Path: t.Target.File, Content: []byte(strings.Join(out, "\n"))}}, nil
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}
