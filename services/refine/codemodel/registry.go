// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codemodel

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry dispatches files to the first provider that supports them.
type Registry struct {
	providers []Provider
}

// NewRegistry creates a registry over the given providers, consulted in
// order.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// DefaultRegistry returns the tree-sitter Go provider followed by the
// brace heuristic.
func DefaultRegistry() *Registry {
	return NewRegistry(NewTreeSitterGo(), NewBraceHeuristic())
}

// Supports reports whether any provider handles path.
func (r *Registry) Supports(path string) bool {
	_, ok := r.provider(path)
	return ok
}

func (r *Registry) provider(path string) (Provider, bool) {
	for _, p := range r.providers {
		if p.Supports(path) {
			return p, true
		}
	}
	return nil, false
}

// Parse builds the model of one file with the matching provider.
func (r *Registry) Parse(ctx context.Context, path string, content []byte) (*FileModel, error) {
	p, ok := r.provider(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	return p.Parse(ctx, path, content)
}

// Source reads project files for a Cache.
type Source interface {
	ReadFile(rel string) ([]byte, error)
}

type cacheEntry struct {
	once  sync.Once
	model *FileModel
	err   error
}

// Cache memoizes FileModels for one project snapshot so detectors
// running in parallel share a single parse per file.
//
// # Thread Safety
//
// Safe for concurrent use. A failed parse is cached too; callers skip
// the file.
type Cache struct {
	registry *Registry
	source   Source
	entries  sync.Map
	texts    sync.Map

	graphOnce sync.Once
	graph     *ImportGraph
}

// NewCache creates a cache reading files from src.
func NewCache(registry *Registry, src Source) *Cache {
	return &Cache{registry: registry, source: src}
}

// Supports reports whether the file has a provider.
func (c *Cache) Supports(rel string) bool {
	return c.registry.Supports(rel)
}

// Model returns the model of rel, parsing it on first use.
func (c *Cache) Model(ctx context.Context, rel string) (*FileModel, error) {
	if !c.registry.Supports(rel) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, rel)
	}
	v, _ := c.entries.LoadOrStore(rel, &cacheEntry{})
	entry := v.(*cacheEntry)
	entry.once.Do(func() {
		content, err := c.source.ReadFile(rel)
		if err != nil {
			entry.err = fmt.Errorf("reading %s: %w", rel, err)
			return
		}
		// The result is shared, so it must not depend on one caller's deadline.
		entry.model, entry.err = c.registry.Parse(context.WithoutCancel(ctx), rel, content)
	})
	return entry.model, entry.err
}

// FileText is the line view of a file: Raw keeps comments, Code has
// comments and string contents blanked. Both have the same lines and
// each line the same width.
type FileText struct {
	Raw  []string
	Code []string
}

type textEntry struct {
	once sync.Once
	text *FileText
	err  error
}

// Text returns the line view of rel, reading it on first use. Unlike
// Model it works for any file.
func (c *Cache) Text(rel string) (*FileText, error) {
	v, _ := c.texts.LoadOrStore(rel, &textEntry{})
	entry := v.(*textEntry)
	entry.once.Do(func() {
		content, err := c.source.ReadFile(rel)
		if err != nil {
			entry.err = fmt.Errorf("reading %s: %w", rel, err)
			return
		}
		raw := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
		if n := len(raw); n > 0 && raw[n-1] == "" {
			raw = raw[:n-1]
		}
		entry.text = &FileText{Raw: raw, Code: StripComments(raw)}
	})
	return entry.text, entry.err
}

// Graph returns the import graph over files, building it once per cache.
func (c *Cache) Graph(ctx context.Context, files []string, goModule string) *ImportGraph {
	c.graphOnce.Do(func() {
		c.graph = BuildImportGraph(context.WithoutCancel(ctx), c, files, goModule)
	})
	return c.graph
}
