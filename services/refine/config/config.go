// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the refine service configuration with priority
// env > file > defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRefine/services/refine/assess"
	"github.com/AleutianAI/AleutianRefine/services/refine/build"
	"github.com/AleutianAI/AleutianRefine/services/refine/detect"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
	"github.com/AleutianAI/AleutianRefine/services/refine/store"
	"github.com/AleutianAI/AleutianRefine/services/refine/workspace"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// Config is the whole service configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Logging    LoggingConfig     `yaml:"logging"`
	Workspace  WorkspaceConfig   `yaml:"workspace"`
	Assessment AssessmentConfig  `yaml:"assessment"`
	Thresholds detect.Thresholds `yaml:"thresholds" validate:"-"`
	Planning   plan.Options      `yaml:"planning" validate:"-"`
	Apply      ApplyConfig       `yaml:"apply"`
	Store      store.Config      `yaml:"store"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"gte=1,lte=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// MutationRate limits apply and rollback calls per second per
	// client. Zero disables the limit.
	MutationRate  float64 `yaml:"mutation_rate" validate:"gte=0"`
	MutationBurst int     `yaml:"mutation_burst" validate:"gte=1"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`

	// Dir enables a JSON file sink next to stderr.
	Dir string `yaml:"dir"`
}

// WorkspaceConfig locates projects.
type WorkspaceConfig struct {
	Root        string   `yaml:"root" validate:"required"`
	Excludes    []string `yaml:"excludes"`
	MaxFiles    int      `yaml:"max_files" validate:"gte=0"`
	MaxFileSize int64    `yaml:"max_file_size" validate:"gte=0"`

	// Watch evicts stored artifacts when a project directory disappears.
	Watch bool `yaml:"watch"`
}

// AssessmentConfig tunes the orchestrator.
type AssessmentConfig struct {
	DetectorTimeout   time.Duration `yaml:"detector_timeout" validate:"gt=0"`
	MaxConcurrency    int           `yaml:"max_concurrency" validate:"gte=0"`
	DisabledDetectors []string      `yaml:"disabled_detectors" validate:"dive,required"`
	ModelPoolSize     int           `yaml:"model_pool_size" validate:"gte=0"`
}

// ApplyConfig tunes the apply engine.
type ApplyConfig struct {
	// StateDir holds backups.
	StateDir          string        `yaml:"state_dir" validate:"required"`
	StrictGit         bool          `yaml:"strict_git"`
	BuildTimeout      time.Duration `yaml:"build_timeout" validate:"gt=0"`
	RunTests          bool          `yaml:"run_tests"`
	RollbackOnFailure bool          `yaml:"rollback_on_failure"`
}

// BackupDir is where the apply engine keeps snapshots.
func (a ApplyConfig) BackupDir() string {
	return filepath.Join(a.StateDir, "backups")
}

// TelemetryConfig selects exporters.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" validate:"required"`
	TraceExporter  string  `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	MetricExporter string  `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	SampleRate     float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// DefaultStateDir is ~/.aleutian/refine, or a temp directory without a
// home.
func DefaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".aleutian", "refine")
	}
	return filepath.Join(os.TempDir(), "aleutian-refine")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:          8090,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  10 * time.Minute,
			MutationRate:  1,
			MutationBurst: 3,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Workspace: WorkspaceConfig{
			Root:        ".",
			Excludes:    workspace.DefaultExcludes,
			MaxFiles:    workspace.DefaultMaxFiles,
			MaxFileSize: workspace.DefaultMaxFileSize,
			Watch:       true,
		},
		Assessment: AssessmentConfig{DetectorTimeout: assess.DefaultDetectorTimeout},
		Thresholds: detect.DefaultThresholds(),
		Planning:   plan.DefaultOptions(),
		Apply: ApplyConfig{
			StateDir:     DefaultStateDir(),
			BuildTimeout: build.DefaultTimeout,
		},
		Store: store.DefaultConfig(),
		Telemetry: TelemetryConfig{
			ServiceName:    "aleutian-refine",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRate:     1.0,
		},
	}
}

// Load reads path over the defaults, applies REFINE_* environment
// overrides, then validates. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("load config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("REFINE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: REFINE_PORT: %v", ErrInvalidConfig, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("REFINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("REFINE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("REFINE_WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("REFINE_STATE_DIR"); v != "" {
		cfg.Apply.StateDir = v
	}
	if v := os.Getenv("REFINE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("REFINE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("REFINE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REFINE_RISK_TOLERANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: REFINE_RISK_TOLERANCE: %v", ErrInvalidConfig, err)
		}
		cfg.Planning.RiskTolerance = f
	}
	if v := os.Getenv("REFINE_DETECTOR_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: REFINE_DETECTOR_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		cfg.Assessment.DetectorTimeout = d
	}
	if v := os.Getenv("REFINE_TRACE_EXPORTER"); v != "" {
		cfg.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("REFINE_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("REFINE_METRIC_EXPORTER"); v != "" {
		cfg.Telemetry.MetricExporter = v
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: thresholds: %v", ErrInvalidConfig, err)
	}
	if err := c.Planning.Validate(); err != nil {
		return fmt.Errorf("%w: planning: %v", ErrInvalidConfig, err)
	}
	return nil
}
