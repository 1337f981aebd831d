// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evidence

import (
	"bufio"
	"bytes"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// BuildSystem identifies the build tool a project uses.
type BuildSystem string

const (
	BuildGo      BuildSystem = "go"
	BuildMaven   BuildSystem = "maven"
	BuildGradle  BuildSystem = "gradle"
	BuildNpm     BuildSystem = "npm"
	BuildUnknown BuildSystem = "unknown"
)

// Well-known ProjectContext properties.
const (
	// PropGoModule is the module path declared in go.mod.
	PropGoModule = "go.module"
)

// ProjectConfig carries the inputs for NewProjectContext.
type ProjectConfig struct {
	ID          string
	Root        string
	SourceFiles []string
	TestFiles   []string
	Properties  map[string]string
	BuildSystem BuildSystem
}

// ProjectContext is an immutable snapshot of a project.
//
// # Description
//
// File lists hold slash-separated paths relative to Root, sorted and
// de-duplicated. Every accessor returns a copy so callers cannot mutate
// the snapshot. A ProjectContext is created once per assessment request.
//
// # Thread Safety
//
// Safe for concurrent use.
type ProjectContext struct {
	id          string
	root        string
	sourceFiles []string
	testFiles   []string
	members     map[string]struct{}
	properties  map[string]string
	buildSystem BuildSystem
}

// NewProjectContext builds a snapshot from cfg.
//
// # Inputs
//
//   - cfg: Project description. Root must be non-empty. File paths may use
//     OS separators; they are normalized to slash form.
//
// # Outputs
//
//   - *ProjectContext: The snapshot.
//   - error: ErrInvalidPath if any file escapes the root.
func NewProjectContext(cfg ProjectConfig) (*ProjectContext, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: root is empty", ErrInvalidPath)
	}

	pc := &ProjectContext{
		id:          cfg.ID,
		root:        filepath.Clean(cfg.Root),
		members:     make(map[string]struct{}),
		properties:  maps.Clone(cfg.Properties),
		buildSystem: cfg.BuildSystem,
	}
	if pc.properties == nil {
		pc.properties = map[string]string{}
	}
	if pc.buildSystem == "" {
		pc.buildSystem = BuildUnknown
	}

	var err error
	if pc.sourceFiles, err = pc.normalize(cfg.SourceFiles); err != nil {
		return nil, err
	}
	if pc.testFiles, err = pc.normalize(cfg.TestFiles); err != nil {
		return nil, err
	}
	return pc, nil
}

func (pc *ProjectContext) normalize(files []string) ([]string, error) {
	out := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := CleanRelative(f)
		if err != nil {
			return nil, err
		}
		if _, dup := pc.members[rel]; dup {
			continue
		}
		pc.members[rel] = struct{}{}
		out = append(out, rel)
	}
	slices.Sort(out)
	return out, nil
}

// CleanRelative normalizes a project-relative path and rejects anything
// absolute or escaping the root.
func CleanRelative(p string) (string, error) {
	slashed := path.Clean(filepath.ToSlash(p))
	if slashed == "." || slashed == "" || path.IsAbs(slashed) || filepath.IsAbs(p) ||
		slashed == ".." || strings.HasPrefix(slashed, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return slashed, nil
}

// ID returns the project id.
func (pc *ProjectContext) ID() string { return pc.id }

// Root returns the absolute project root.
func (pc *ProjectContext) Root() string { return pc.root }

// BuildSystem returns the detected build-system kind.
func (pc *ProjectContext) BuildSystem() BuildSystem { return pc.buildSystem }

// SourceFiles returns a copy of the source file list.
func (pc *ProjectContext) SourceFiles() []string { return slices.Clone(pc.sourceFiles) }

// TestFiles returns a copy of the test file list.
func (pc *ProjectContext) TestFiles() []string { return slices.Clone(pc.testFiles) }

// AllFiles returns sources followed by tests.
func (pc *ProjectContext) AllFiles() []string {
	return slices.Concat(pc.sourceFiles, pc.testFiles)
}

// Property returns a property value.
func (pc *ProjectContext) Property(key string) (string, bool) {
	v, ok := pc.properties[key]
	return v, ok
}

// Properties returns a copy of all properties.
func (pc *ProjectContext) Properties() map[string]string { return maps.Clone(pc.properties) }

// Contains reports whether rel is a member of the snapshot.
func (pc *ProjectContext) Contains(rel string) bool {
	clean, err := CleanRelative(rel)
	if err != nil {
		return false
	}
	_, ok := pc.members[clean]
	return ok
}

// IsTest reports whether rel is one of the test files.
func (pc *ProjectContext) IsTest(rel string) bool {
	_, found := slices.BinarySearch(pc.testFiles, rel)
	return found
}

// Abs resolves rel against the project root.
func (pc *ProjectContext) Abs(rel string) (string, error) {
	clean, err := CleanRelative(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(pc.root, filepath.FromSlash(clean)), nil
}

// ReadFile reads a member file from disk.
func (pc *ProjectContext) ReadFile(rel string) ([]byte, error) {
	if !pc.Contains(rel) {
		return nil, fmt.Errorf("%w: %s", ErrNotInProject, rel)
	}
	abs, err := pc.Abs(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// ReadLines reads a member file and splits it into lines without
// terminators.
func (pc *ProjectContext) ReadLines(rel string) ([]string, error) {
	data, err := pc.ReadFile(rel)
	if err != nil {
		return nil, err
	}
	lines, err := SplitLines(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, err)
	}
	return lines, nil
}

// MaxLineLength is the longest line SplitLines accepts.
const MaxLineLength = 4 * 1024 * 1024

// SplitLines splits content on \n, dropping \r and a trailing empty line.
// A line longer than MaxLineLength fails with bufio.ErrTooLong rather
// than truncating the file.
func SplitLines(data []byte) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineLength)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("splitting lines: %w", err)
	}
	return lines, nil
}
