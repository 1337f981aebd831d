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
	"log/slog"
	"maps"
	"path"
	"slices"
	"strings"
)

var jsExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs"}

// ImportGraph is the project-internal dependency graph at two
// granularities: packages (Go directories, Java/Kotlin packages, C#
// namespaces, JS/TS modules) and files.
//
// Imports that resolve outside the project are dropped.
type ImportGraph struct {
	pkgOf     map[string]string
	files     map[string][]string
	pkgEdges  map[string][]string
	fileEdges map[string][]string
	reverse   map[string][]string
}

// BuildImportGraph parses every supported file in files and resolves
// their imports against each other. goModule is the Go module path used
// to recognize internal Go imports; it may be empty.
func BuildImportGraph(ctx context.Context, cache *Cache, files []string, goModule string) *ImportGraph {
	g := &ImportGraph{
		pkgOf:     make(map[string]string),
		files:     make(map[string][]string),
		pkgEdges:  make(map[string][]string),
		fileEdges: make(map[string][]string),
		reverse:   make(map[string][]string),
	}

	models := make(map[string]*FileModel, len(files))
	members := make(map[string]bool, len(files))
	for _, f := range files {
		members[f] = true
	}
	for _, f := range files {
		if !cache.Supports(f) {
			continue
		}
		m, err := cache.Model(ctx, f)
		if err != nil {
			slog.Debug("skipping file in import graph", slog.String("file", f), slog.String("error", err.Error()))
			continue
		}
		models[f] = m
		key := packageKey(m)
		g.pkgOf[f] = key
		g.files[key] = append(g.files[key], f)
	}

	for _, f := range slices.Sorted(maps.Keys(models)) {
		m := models[f]
		from := g.pkgOf[f]
		for _, imp := range m.Imports {
			for _, target := range g.resolve(m, imp, goModule, members) {
				if target == f {
					continue
				}
				g.fileEdges[f] = appendUnique(g.fileEdges[f], target)
				g.reverse[target] = appendUnique(g.reverse[target], f)
				if to := g.pkgOf[target]; to != from {
					g.pkgEdges[from] = appendUnique(g.pkgEdges[from], to)
				}
			}
		}
	}

	for _, m := range []map[string][]string{g.files, g.pkgEdges, g.fileEdges, g.reverse} {
		for k := range m {
			slices.Sort(m[k])
		}
	}
	return g
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func packageKey(m *FileModel) string {
	switch m.Language {
	case LangGo:
		return path.Dir(m.Path)
	case LangJavaScript, LangTypeScript:
		return m.Path
	default:
		if m.Package != "" {
			return m.Package
		}
		return path.Dir(m.Path)
	}
}

// resolve maps one import to the project files it refers to.
func (g *ImportGraph) resolve(m *FileModel, imp Import, goModule string, members map[string]bool) []string {
	switch m.Language {
	case LangGo:
		if goModule == "" {
			return nil
		}
		var dir string
		switch {
		case imp.Path == goModule:
			dir = "."
		case strings.HasPrefix(imp.Path, goModule+"/"):
			dir = strings.TrimPrefix(imp.Path, goModule+"/")
		default:
			return nil
		}
		return g.files[dir]
	case LangJavaScript, LangTypeScript:
		if !strings.HasPrefix(imp.Path, ".") {
			return nil
		}
		base := path.Join(path.Dir(m.Path), imp.Path)
		candidates := []string{base}
		for _, ext := range jsExtensions {
			candidates = append(candidates, base+ext, base+"/index"+ext)
		}
		for _, c := range candidates {
			if members[c] {
				if _, ok := g.pkgOf[c]; ok {
					return []string{c}
				}
			}
		}
		return nil
	default:
		p := strings.TrimSuffix(imp.Path, ".*")
		if files, ok := g.files[p]; ok {
			return files
		}
		if i := strings.LastIndexByte(p, '.'); i > 0 {
			pkg, typeName := p[:i], p[i+1:]
			var out []string
			for _, f := range g.files[pkg] {
				if strings.TrimSuffix(path.Base(f), path.Ext(f)) == typeName {
					out = append(out, f)
				}
			}
			if len(out) == 0 {
				out = g.files[pkg]
			}
			return out
		}
		return nil
	}
}

// Package returns the package key of file.
func (g *ImportGraph) Package(file string) string { return g.pkgOf[file] }

// Files returns the files of a package.
func (g *ImportGraph) Files(pkg string) []string { return slices.Clone(g.files[pkg]) }

// Packages returns every package key, sorted.
func (g *ImportGraph) Packages() []string {
	return slices.Sorted(maps.Keys(g.files))
}

// DependsOn returns the packages pkg imports.
func (g *ImportGraph) DependsOn(pkg string) []string { return slices.Clone(g.pkgEdges[pkg]) }

// Imports returns the project files file imports.
func (g *ImportGraph) Imports(file string) []string { return slices.Clone(g.fileEdges[file]) }

// Importers returns the project files importing file.
func (g *ImportGraph) Importers(file string) []string { return slices.Clone(g.reverse[file]) }

// Cycles returns the package-level strongly connected components with
// more than one member, each sorted, ordered by first member.
func (g *ImportGraph) Cycles() [][]string {
	index := 0
	indices := make(map[string]int)
	low := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var out [][]string

	var connect func(v string)
	connect = func(v string) {
		indices[v] = index
		low[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.pkgEdges[v] {
			if _, seen := indices[w]; !seen {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], indices[w])
			}
		}

		if low[v] == indices[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			if len(comp) > 1 {
				slices.Sort(comp)
				out = append(out, comp)
			}
		}
	}

	for _, v := range g.Packages() {
		if _, seen := indices[v]; !seen {
			connect(v)
		}
	}
	slices.SortFunc(out, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return out
}
