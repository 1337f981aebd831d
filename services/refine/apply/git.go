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
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/go-git/go-git/v5"
)

// GitPreflight inspects the git worktree holding a project before an
// apply. Projects outside a repository pass silently.
type GitPreflight struct {
	// Strict refuses the apply when target files have local changes
	// instead of only warning.
	Strict bool
	logger *slog.Logger
}

// NewGitPreflight creates a preflight check.
func NewGitPreflight(strict bool, logger *slog.Logger) *GitPreflight {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitPreflight{Strict: strict, logger: logger.With("component", "apply.GitPreflight")}
}

// Check returns a warning for each target file with uncommitted changes.
//
// # Inputs
//
//   - root: Absolute project root.
//   - files: Slash-separated paths relative to root.
//
// # Outputs
//
//   - []string: Warnings, sorted.
//   - error: ErrDirtyWorktree when Strict and any target is dirty.
func (g *GitPreflight) Check(ctx context.Context, root string, files []string) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no worktree to protect.
		return nil, nil
	}
	status, err := wt.StatusWithOptions(git.StatusOptions{Strategy: git.Preload})
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %w", err)
	}

	repoRoot := wt.Filesystem.Root()
	var warnings []string
	for _, f := range files {
		abs := filepath.Join(root, filepath.FromSlash(f))
		rel, err := filepath.Rel(repoRoot, abs)
		if err != nil {
			continue
		}
		fs, ok := status[filepath.ToSlash(rel)]
		if !ok {
			continue
		}
		if fs.Worktree == git.Unmodified && fs.Staging == git.Unmodified {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("%s has uncommitted changes (%c%c)", f, fs.Staging, fs.Worktree))
	}
	slices.Sort(warnings)

	if len(warnings) > 0 {
		g.logger.WarnContext(ctx, "dirty target files", slog.Int("count", len(warnings)), slog.Bool("strict", g.Strict))
		if g.Strict {
			return warnings, fmt.Errorf("%w: %d file(s)", ErrDirtyWorktree, len(warnings))
		}
	}
	return warnings, nil
}
