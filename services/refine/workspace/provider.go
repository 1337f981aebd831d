// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace maps project ids to directories under a workspace
// root and builds the ProjectContext snapshots the refine pipeline runs
// on.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianRefine/services/refine/build"
	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

var (
	// ErrInvalidProjectID is returned for ids that are not a plain
	// directory name.
	ErrInvalidProjectID = errors.New("invalid project id")

	// ErrProjectNotFound is returned when the project directory is missing.
	ErrProjectNotFound = errors.New("project not found")

	// ErrTooManyFiles is returned when a project exceeds MaxFiles.
	ErrTooManyFiles = errors.New("project exceeds file limit")
)

const (
	// DefaultMaxFiles bounds the number of source and test files.
	DefaultMaxFiles = 20000

	// DefaultMaxFileSize skips generated or vendored blobs.
	DefaultMaxFileSize = 1 << 20
)

// DefaultExcludes are directory names never walked.
var DefaultExcludes = []string{
	".git", ".hg", ".svn", ".idea", ".vscode",
	"node_modules", "vendor", "target", "dist",
	"__pycache__", ".venv", ".gradle",
}

var projectIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateID rejects ids that could leave the workspace root.
func ValidateID(id string) error {
	if !projectIDRe.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, id)
	}
	return nil
}

// Option configures a DirProvider.
type Option func(*DirProvider)

// WithExcludes replaces the excluded directory names and patterns.
func WithExcludes(patterns ...string) Option {
	return func(d *DirProvider) { d.excludes = patterns }
}

// WithMaxFiles sets the file limit. Zero or less keeps the default.
func WithMaxFiles(n int) Option {
	return func(d *DirProvider) {
		if n > 0 {
			d.maxFiles = n
		}
	}
}

// WithMaxFileSize sets the per-file size limit in bytes.
func WithMaxFileSize(n int64) Option {
	return func(d *DirProvider) {
		if n > 0 {
			d.maxFileSize = n
		}
	}
}

// WithBuildRegistry sets the registry used to detect the build system.
func WithBuildRegistry(r *build.Registry) Option {
	return func(d *DirProvider) { d.builds = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *DirProvider) {
		if l != nil {
			d.logger = l
		}
	}
}

// DirProvider serves projects that are direct subdirectories of a
// workspace root; the directory name is the project id.
//
// # Thread Safety
//
// Safe for concurrent use. Every Project call walks the directory again.
type DirProvider struct {
	root        string
	excludes    []string
	maxFiles    int
	maxFileSize int64
	models      *codemodel.Registry
	builds      *build.Registry
	logger      *slog.Logger
}

// NewDirProvider creates a provider. models decides which files are
// source files.
func NewDirProvider(root string, models *codemodel.Registry, opts ...Option) (*DirProvider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}

	d := &DirProvider{
		root:        abs,
		excludes:    DefaultExcludes,
		maxFiles:    DefaultMaxFiles,
		maxFileSize: DefaultMaxFileSize,
		models:      models,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "workspace.DirProvider")
	return d, nil
}

// Root returns the absolute workspace root.
func (d *DirProvider) Root() string { return d.root }

// Path returns the directory of a project.
func (d *DirProvider) Path(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(d.root, id), nil
}

// List returns the ids of all project directories, sorted.
func (d *DirProvider) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("listing workspace: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && ValidateID(e.Name()) == nil && !d.excluded(e.Name(), e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Project walks the project directory and returns a snapshot.
//
// # Outputs
//
//   - *evidence.ProjectContext: Source and test files split by
//     IsTestFile, the detected build system and, for Go modules, the
//     module path property.
//   - error: ErrInvalidProjectID, ErrProjectNotFound, ErrTooManyFiles or
//     the context error.
func (d *DirProvider) Project(ctx context.Context, id string) (*evidence.ProjectContext, error) {
	dir, err := d.Path(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("stat project %s: %w", id, err)
	}

	var sources, tests []string
	skipped := 0
	err = filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if d.excluded(entry.Name(), rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || d.excluded(entry.Name(), rel) || d.models == nil || !d.models.Supports(rel) {
			return nil
		}
		if fi, err := entry.Info(); err != nil || fi.Size() > d.maxFileSize {
			skipped++
			return nil
		}
		if len(sources)+len(tests) >= d.maxFiles {
			return fmt.Errorf("%w: more than %d files in %s", ErrTooManyFiles, d.maxFiles, id)
		}
		if IsTestFile(rel) {
			tests = append(tests, rel)
		} else {
			sources = append(sources, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	props := map[string]string{}
	kind := evidence.BuildUnknown
	if d.builds != nil {
		kind = d.builds.Kind(dir)
	}
	if content, err := os.ReadFile(filepath.Join(dir, "go.mod")); err == nil {
		if g, err := build.ParseGoMod(content); err == nil && g.Module != "" {
			props[evidence.PropGoModule] = g.Module
		}
	}

	d.logger.DebugContext(ctx, "project scanned",
		slog.String("project_id", id),
		slog.Int("sources", len(sources)),
		slog.Int("tests", len(tests)),
		slog.Int("skipped_large", skipped),
		slog.String("build", string(kind)),
	)
	return evidence.NewProjectContext(evidence.ProjectConfig{
		ID:          id,
		Root:        dir,
		SourceFiles: sources,
		TestFiles:   tests,
		Properties:  props,
		BuildSystem: kind,
	})
}

func (d *DirProvider) excluded(name, rel string) bool {
	for _, pattern := range d.excludes {
		if name == pattern {
			return true
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

var testDirs = []string{"test", "tests", "__tests__", "spec", "testdata"}

// IsTestFile classifies a slash-separated relative path by the naming
// conventions of the supported languages.
func IsTestFile(rel string) bool {
	base := path.Base(rel)
	lower := strings.ToLower(base)
	switch {
	case strings.HasSuffix(lower, "_test.go"),
		strings.HasSuffix(lower, "_test.py"),
		strings.HasPrefix(lower, "test_") && strings.HasSuffix(lower, ".py"),
		strings.Contains(lower, ".test."),
		strings.Contains(lower, ".spec."):
		return true
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	if ext := path.Ext(lower); ext == ".java" || ext == ".kt" || ext == ".cs" {
		if strings.HasSuffix(stem, "Test") || strings.HasSuffix(stem, "Tests") || strings.HasPrefix(stem, "Test") {
			return true
		}
	}
	dirs := strings.Split(path.Dir(rel), "/")
	return slices.ContainsFunc(dirs, func(s string) bool { return slices.Contains(testDirs, s) })
}
