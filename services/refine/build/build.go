// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package build detects a project's build system and runs its compile
// and test commands. It is used only to verify applied transforms.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// Defaults for command execution.
const (
	DefaultTimeout   = 5 * time.Minute
	DefaultMaxOutput = 64 * 1024

	waitDelay = 2 * time.Second
)

var (
	// ErrNoProvider is returned when no provider recognizes a project.
	ErrNoProvider = errors.New("no build provider for project")

	// ErrGraphUnavailable is returned when the build file cannot be read.
	ErrGraphUnavailable = errors.New("build graph unavailable")

	// ErrInvalidScope is returned for a test scope that is not a plain
	// test selector.
	ErrInvalidScope = errors.New("invalid test scope")
)

// MaxScopeLength bounds a test scope.
const MaxScopeLength = 256

// scopeRe admits test names, class#method selectors, globs and the
// regexp metacharacters go test -run understands. No whitespace, quotes
// or '='.
var scopeRe = regexp.MustCompile(`^[\w.*/:#$^|()\[\]{}+?,\\-]+$`)

// ValidateScope checks a test scope before it reaches a build tool. The
// scope is always passed as the value of a fixed filter flag, and a
// leading '-' is refused so no tool can read it as an option.
func ValidateScope(scope string) error {
	if scope == "" {
		return nil
	}
	if len(scope) > MaxScopeLength || strings.HasPrefix(scope, "-") || !scopeRe.MatchString(scope) {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil
}

// Dependency is one declared dependency of the project.
type Dependency struct {
	Path     string `json:"path"`
	Version  string `json:"version,omitempty"`
	Indirect bool   `json:"indirect,omitempty"`
}

// Graph is the project-level view a build file declares.
type Graph struct {
	Kind         evidence.BuildSystem `json:"kind"`
	Module       string               `json:"module"`
	Dependencies []Dependency         `json:"dependencies"`
}

// Result is the outcome of one build command. A Skipped result means the
// tool is not installed; it counts as passed.
type Result struct {
	Command   string        `json:"command"`
	Args      []string      `json:"args"`
	Passed    bool          `json:"passed"`
	Skipped   bool          `json:"skipped,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Provider is a build-system collaborator.
type Provider interface {
	Kind() evidence.BuildSystem
	IsApplicable(root string) bool
	Graph(ctx context.Context, root string) (*Graph, error)
	Compile(ctx context.Context, root string, changed []string) (*Result, error)
	Test(ctx context.Context, root, scope string) (*Result, error)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout bounds each command.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxOutput caps captured output per stream.
func WithMaxOutput(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxOutput = n
		}
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runner executes build commands with a timeout and bounded output.
type Runner struct {
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
	lookPath  func(string) (string, error)
}

// NewRunner creates a runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		timeout:   DefaultTimeout,
		maxOutput: DefaultMaxOutput,
		logger:    slog.Default().With("component", "build.Runner"),
		lookPath:  exec.LookPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes command in dir.
//
// # Outputs
//
//   - *Result: Always non-nil. A missing tool yields Skipped; a non-zero
//     exit or a timeout yields Passed == false.
//   - error: Only when the process could not be started.
func (r *Runner) Run(ctx context.Context, dir, command string, args ...string) (*Result, error) {
	result := &Result{Command: command, Args: args}
	if _, err := r.lookPath(command); err != nil {
		result.Skipped = true
		result.Passed = true
		result.Output = fmt.Sprintf("%s not found on PATH", command)
		r.logger.WarnContext(ctx, "build tool unavailable, skipping", slog.String("command", command))
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	// Children that inherit the output pipes must not outlive the kill.
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: r.maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: r.maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	r.logger.DebugContext(ctx, "executing build command",
		slog.String("command", command),
		slog.Any("args", args),
		slog.String("dir", dir),
	)

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Output = stdout.String() + stderr.String()
	result.Truncated = stdoutLimited.truncated || stderrLimited.truncated

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.WarnContext(ctx, "build command timed out", slog.Duration("timeout", r.timeout))
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("running %s: %w", command, err)
	}
	result.Passed = true
	return result, nil
}

// limitedWriter discards writes beyond limit.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.written >= lw.limit {
		lw.truncated = true
		return len(p), nil
	}
	n := len(p)
	if remaining := lw.limit - lw.written; n > remaining {
		p = p[:remaining]
		lw.truncated = true
	}
	written, err := lw.w.Write(p)
	lw.written += written
	return n, err
}

func exists(root string, names ...string) bool {
	for _, n := range names {
		if _, err := os.Stat(filepath.Join(root, n)); err == nil {
			return true
		}
	}
	return false
}

// Registry picks the provider for a project. Providers are consulted in
// registration order.
type Registry struct {
	providers []Provider
}

// NewRegistry creates a registry over providers.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// DefaultRegistry registers Go, Maven, Gradle and npm providers sharing r.
func DefaultRegistry(r *Runner) *Registry {
	return NewRegistry(
		NewGoProvider(r),
		NewMavenProvider(r),
		NewGradleProvider(r),
		NewNpmProvider(r),
	)
}

// Detect returns the first applicable provider.
func (reg *Registry) Detect(root string) (Provider, bool) {
	for _, p := range reg.providers {
		if p.IsApplicable(root) {
			return p, true
		}
	}
	return nil, false
}

// For returns the provider of kind.
func (reg *Registry) For(kind evidence.BuildSystem) (Provider, bool) {
	for _, p := range reg.providers {
		if p.Kind() == kind {
			return p, true
		}
	}
	return nil, false
}

// Kind returns the build system of root, or BuildUnknown.
func (reg *Registry) Kind(root string) evidence.BuildSystem {
	if p, ok := reg.Detect(root); ok {
		return p.Kind()
	}
	return evidence.BuildUnknown
}
