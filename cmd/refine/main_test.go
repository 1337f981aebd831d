// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRefine/services/refine/apply"
	"github.com/AleutianAI/AleutianRefine/services/refine/config"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

type cli struct {
	workspace string
	stateDir  string
	config    string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	ws := t.TempDir()
	dir := filepath.Join(ws, "calc")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var b strings.Builder
	b.WriteString("package calc\n\nfunc Sum(a, b, c int) int {\n\tx := 0\n")
	for range 24 {
		b.WriteString("\tx += a\n")
	}
	b.WriteString("\treturn x\n}\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sum.go"), []byte(b.String()), 0o644))

	return &cli{
		workspace: ws,
		stateDir:  t.TempDir(),
		config:    filepath.Join(t.TempDir(), "absent.yaml"),
	}
}

func (c *cli) run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{
		"--config", c.config,
		"--env-file", "",
		"--workspace", c.workspace,
		"--state-dir", c.stateDir,
		"--log-level", "error",
	}, args...))
	require.NoError(t, root.Execute(), errOut.String())
	return out.Bytes()
}

func TestCLI_AssessPlanApplyRollback(t *testing.T) {
	c := newCLI(t)
	original, err := os.ReadFile(filepath.Join(c.workspace, "calc", "sum.go"))
	require.NoError(t, err)

	var a evidence.Assessment
	require.NoError(t, json.Unmarshal(c.run(t, "assess", "calc"), &a))
	assert.Equal(t, "calc", a.ProjectID)

	// The plan is built from the assessment persisted by the previous run.
	var p plan.Plan
	require.NoError(t, json.Unmarshal(c.run(t, "plan", "calc"), &p))
	assert.Equal(t, a.ID, p.AssessmentID)
	require.NotEmpty(t, p.Transforms)
	id := p.Transforms[0].ID

	var dry apply.ApplyResult
	require.NoError(t, json.Unmarshal(c.run(t, "apply", "calc", "-t", id, "--dry-run"), &dry))
	assert.True(t, dry.DryRun)

	var res apply.ApplyResult
	require.NoError(t, json.Unmarshal(c.run(t, "apply", "calc", "-t", id), &res))
	require.NotEmpty(t, res.BackupID)
	changed, err := os.ReadFile(filepath.Join(c.workspace, "calc", "sum.go"))
	require.NoError(t, err)
	assert.NotEqual(t, string(original), string(changed))

	var rb apply.RollbackResult
	require.NoError(t, json.Unmarshal(c.run(t, "rollback", "calc", res.BackupID), &rb))
	restored, err := os.ReadFile(filepath.Join(c.workspace, "calc", "sum.go"))
	require.NoError(t, err)
	assert.Equal(t, string(original), string(restored))

	assert.DirExists(t, filepath.Join(c.stateDir, "backups", res.BackupID))
}

func TestCLI_PlanAssessesWhenNeeded(t *testing.T) {
	c := newCLI(t)
	var p plan.Plan
	require.NoError(t, json.Unmarshal(c.run(t, "plan", "calc", "--max-transforms", "1"), &p))
	assert.Len(t, p.Transforms, 1)
	assert.Equal(t, 1, p.Options.MaxTransforms)
}

func TestCLI_UnknownProjectFails(t *testing.T) {
	c := newCLI(t)
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", c.config, "--env-file", "", "--workspace", c.workspace,
		"--state-dir", c.stateDir, "--log-level", "error", "assess", "nope"})
	assert.Error(t, root.Execute())
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(&globalFlags{
		configPath: filepath.Join(dir, "absent.yaml"),
		workspace:  dir,
		stateDir:   filepath.Join(dir, "state"),
		logLevel:   "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Workspace.Root)
	assert.Equal(t, filepath.Join(dir, "state", "backups"), cfg.Apply.BackupDir())
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = loadConfig(&globalFlags{configPath: filepath.Join(dir, "absent.yaml"), logLevel: "loud"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("REFINE_PORT=9191\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("REFINE_PORT") })

	cfg, err := loadConfig(&globalFlags{configPath: filepath.Join(dir, "absent.yaml"), envFile: env})
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}
