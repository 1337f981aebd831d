// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// GoProvider builds Go modules.
type GoProvider struct{ runner *Runner }

// NewGoProvider creates a Go provider.
func NewGoProvider(r *Runner) *GoProvider { return &GoProvider{runner: r} }

func (*GoProvider) Kind() evidence.BuildSystem { return evidence.BuildGo }

func (*GoProvider) IsApplicable(root string) bool { return exists(root, "go.mod") }

// Graph reads the module path and requirements from go.mod.
func (*GoProvider) Graph(_ context.Context, root string) (*Graph, error) {
	content, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	return ParseGoMod(content)
}

// ParseGoMod parses go.mod content.
func ParseGoMod(content []byte) (*Graph, error) {
	f, err := modfile.Parse("go.mod", content, nil)
	if err != nil {
		return nil, fmt.Errorf("parse go.mod: %w", err)
	}
	g := &Graph{Kind: evidence.BuildGo, Dependencies: []Dependency{}}
	if f.Module != nil {
		g.Module = f.Module.Mod.Path
	}
	for _, req := range f.Require {
		g.Dependencies = append(g.Dependencies, Dependency{
			Path:     req.Mod.Path,
			Version:  req.Mod.Version,
			Indirect: req.Indirect,
		})
	}
	return g, nil
}

// Compile runs go build on the packages of the changed files, or on the
// whole module when none are given.
func (p *GoProvider) Compile(ctx context.Context, root string, changed []string) (*Result, error) {
	return p.runner.Run(ctx, root, "go", append([]string{"build"}, goPackages(changed)...)...)
}

// Test runs the module's tests. A scope is the -run pattern.
func (p *GoProvider) Test(ctx context.Context, root, scope string) (*Result, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	args := []string{"test"}
	if scope != "" {
		args = append(args, "-run", scope)
	}
	return p.runner.Run(ctx, root, "go", append(args, "./...")...)
}

func goPackages(changed []string) []string {
	var pkgs []string
	for _, f := range changed {
		if !strings.HasSuffix(f, ".go") {
			continue
		}
		dir := filepath.ToSlash(filepath.Dir(f))
		pkg := "./" + dir
		if dir == "." {
			pkg = "."
		}
		if !slices.Contains(pkgs, pkg) {
			pkgs = append(pkgs, pkg)
		}
	}
	if len(pkgs) == 0 {
		return []string{"./..."}
	}
	return pkgs
}

// MavenProvider builds Maven projects.
type MavenProvider struct{ runner *Runner }

// NewMavenProvider creates a Maven provider.
func NewMavenProvider(r *Runner) *MavenProvider { return &MavenProvider{runner: r} }

func (*MavenProvider) Kind() evidence.BuildSystem { return evidence.BuildMaven }

func (*MavenProvider) IsApplicable(root string) bool { return exists(root, "pom.xml") }

type pom struct {
	GroupID      string `xml:"groupId"`
	ArtifactID   string `xml:"artifactId"`
	Dependencies []struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
	} `xml:"dependencies>dependency"`
}

// Graph reads coordinates and dependencies from pom.xml.
func (*MavenProvider) Graph(_ context.Context, root string) (*Graph, error) {
	content, err := os.ReadFile(filepath.Join(root, "pom.xml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	var p pom
	if err := xml.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("parse pom.xml: %w", err)
	}
	g := &Graph{Kind: evidence.BuildMaven, Module: p.GroupID + ":" + p.ArtifactID, Dependencies: []Dependency{}}
	for _, d := range p.Dependencies {
		g.Dependencies = append(g.Dependencies, Dependency{Path: d.GroupID + ":" + d.ArtifactID, Version: d.Version})
	}
	return g, nil
}

func (p *MavenProvider) Compile(ctx context.Context, root string, _ []string) (*Result, error) {
	return p.runner.Run(ctx, root, "mvn", "-q", "-B", "compile")
}

func (p *MavenProvider) Test(ctx context.Context, root, scope string) (*Result, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	args := []string{"-q", "-B", "test"}
	if scope != "" {
		args = append(args, "-Dtest="+scope)
	}
	return p.runner.Run(ctx, root, "mvn", args...)
}

// GradleProvider builds Gradle projects, preferring the wrapper.
type GradleProvider struct{ runner *Runner }

// NewGradleProvider creates a Gradle provider.
func NewGradleProvider(r *Runner) *GradleProvider { return &GradleProvider{runner: r} }

func (*GradleProvider) Kind() evidence.BuildSystem { return evidence.BuildGradle }

func (*GradleProvider) IsApplicable(root string) bool {
	return exists(root, "build.gradle", "build.gradle.kts", "settings.gradle", "settings.gradle.kts")
}

var rootProjectRe = regexp.MustCompile(`rootProject\.name\s*=\s*["']([^"']+)["']`)

// Graph reads the root project name from the settings file. Gradle
// dependency declarations are code and are not evaluated.
func (*GradleProvider) Graph(_ context.Context, root string) (*Graph, error) {
	g := &Graph{Kind: evidence.BuildGradle, Module: filepath.Base(root), Dependencies: []Dependency{}}
	for _, name := range []string{"settings.gradle.kts", "settings.gradle"} {
		content, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		if m := rootProjectRe.FindSubmatch(content); m != nil {
			g.Module = string(m[1])
		}
		break
	}
	return g, nil
}

func (p *GradleProvider) command(root string) string {
	if exists(root, "gradlew") {
		return filepath.Join(root, "gradlew")
	}
	return "gradle"
}

func (p *GradleProvider) Compile(ctx context.Context, root string, _ []string) (*Result, error) {
	return p.runner.Run(ctx, root, p.command(root), "-q", "classes")
}

func (p *GradleProvider) Test(ctx context.Context, root, scope string) (*Result, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	args := []string{"-q", "test"}
	if scope != "" {
		args = append(args, "--tests="+scope)
	}
	return p.runner.Run(ctx, root, p.command(root), args...)
}

// NpmProvider builds JavaScript and TypeScript packages.
type NpmProvider struct{ runner *Runner }

// NewNpmProvider creates an npm provider.
func NewNpmProvider(r *Runner) *NpmProvider { return &NpmProvider{runner: r} }

func (*NpmProvider) Kind() evidence.BuildSystem { return evidence.BuildNpm }

func (*NpmProvider) IsApplicable(root string) bool { return exists(root, "package.json") }

type packageJSON struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Graph reads package.json.
func (*NpmProvider) Graph(_ context.Context, root string) (*Graph, error) {
	content, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	var pkg packageJSON
	if err := json.Unmarshal(content, &pkg); err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}
	g := &Graph{Kind: evidence.BuildNpm, Module: pkg.Name, Dependencies: []Dependency{}}
	for _, name := range slices.Sorted(maps.Keys(pkg.Dependencies)) {
		g.Dependencies = append(g.Dependencies, Dependency{Path: name, Version: pkg.Dependencies[name]})
	}
	for _, name := range slices.Sorted(maps.Keys(pkg.DevDependencies)) {
		g.Dependencies = append(g.Dependencies, Dependency{Path: name, Version: pkg.DevDependencies[name], Indirect: true})
	}
	return g, nil
}

func (p *NpmProvider) Compile(ctx context.Context, root string, _ []string) (*Result, error) {
	return p.runner.Run(ctx, root, "npm", "run", "build", "--if-present")
}

func (p *NpmProvider) Test(ctx context.Context, root, scope string) (*Result, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	args := []string{"test", "--silent"}
	if scope != "" {
		args = append(args, "--", scope)
	}
	return p.runner.Run(ctx, root, "npm", args...)
}
