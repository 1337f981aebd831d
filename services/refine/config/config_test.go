// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "refine.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
server:
  port: 9100
assessment:
  detector_timeout: 5s
  disabled_detectors: [magic-number]
planning:
  risk_tolerance: 0.8
  min_severity: MAJOR
  max_transforms: 10
thresholds:
  long_method:
    major: 30
    critical: 60
    blocker: 120
store:
  backend: badger
  path: /var/lib/refine
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Assessment.DetectorTimeout)
	assert.Equal(t, []string{"magic-number"}, cfg.Assessment.DisabledDetectors)
	assert.InDelta(t, 0.8, cfg.Planning.RiskTolerance, 1e-9)
	assert.Equal(t, evidence.SeverityMajor, cfg.Planning.MinSeverity)
	assert.Equal(t, 10, cfg.Planning.MaxTransforms)
	assert.Equal(t, store.BackendBadger, cfg.Store.Backend)
	assert.Equal(t, "info", cfg.Logging.Level, "unset keys keep defaults")
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	p := writeConfig(t, "server:\n  port: 9100\nworkspace:\n  root: /srv/a\n")
	t.Setenv("REFINE_PORT", "9200")
	t.Setenv("REFINE_WORKSPACE_ROOT", "/srv/b")
	t.Setenv("REFINE_LOG_LEVEL", "DEBUG")
	t.Setenv("REFINE_RISK_TOLERANCE", "0.25")
	t.Setenv("REFINE_DETECTOR_TIMEOUT", "2m")
	t.Setenv("REFINE_STATE_DIR", "/tmp/state")

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "/srv/b", cfg.Workspace.Root)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.InDelta(t, 0.25, cfg.Planning.RiskTolerance, 1e-9)
	assert.Equal(t, 2*time.Minute, cfg.Assessment.DetectorTimeout)
	assert.Equal(t, filepath.Join("/tmp/state", "backups"), cfg.Apply.BackupDir())
	assert.Equal(t, ":9200", cfg.Server.Addr())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "bad port env", env: map[string]string{"REFINE_PORT": "http"}},
		{name: "port out of range", file: "server:\n  port: 70000\n"},
		{name: "unknown log level", file: "logging:\n  level: loud\n"},
		{name: "risk tolerance above one", env: map[string]string{"REFINE_RISK_TOLERANCE": "1.5"}},
		{name: "postgres without dsn", env: map[string]string{"REFINE_STORE_BACKEND": "postgres"}},
		{name: "otlp without endpoint", file: "telemetry:\n  trace_exporter: otlp\n"},
		{name: "zero detector timeout", file: "assessment:\n  detector_timeout: 0s\n"},
		{name: "descending ladder", file: "thresholds:\n  long_method:\n    major: 50\n    critical: 20\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}
			_, err := Load(path)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
