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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRefine/pkg/logging"
	"github.com/AleutianAI/AleutianRefine/services/refine"
	"github.com/AleutianAI/AleutianRefine/services/refine/apply"
	"github.com/AleutianAI/AleutianRefine/services/refine/assess"
	"github.com/AleutianAI/AleutianRefine/services/refine/build"
	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
	"github.com/AleutianAI/AleutianRefine/services/refine/config"
	"github.com/AleutianAI/AleutianRefine/services/refine/detect"
	"github.com/AleutianAI/AleutianRefine/services/refine/impact"
	"github.com/AleutianAI/AleutianRefine/services/refine/store"
	"github.com/AleutianAI/AleutianRefine/services/refine/workspace"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	workspace  string
	stateDir   string
	logLevel   string
}

// app is the wired service and everything that must be closed with it.
type app struct {
	cfg    config.Config
	logger *logging.Logger
	svc    *refine.Service
	store  store.Store
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "refine",
		Short:         "Assess code quality and apply reversible refactorings",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "refine.yaml", "path to the YAML config file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the config")
	pf.StringVarP(&flags.workspace, "workspace", "w", "", "workspace root (overrides config)")
	pf.StringVar(&flags.stateDir, "state-dir", "", "state directory for backups and the CLI store")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newServeCmd(&flags),
		newAssessCmd(&flags),
		newClustersCmd(&flags),
		newPlanCmd(&flags),
		newImpactCmd(&flags),
		newApplyCmd(&flags),
		newRollbackCmd(&flags),
	)
	return root
}

// loadConfig reads the dotenv file, the config file and the flag
// overrides, in increasing priority.
func loadConfig(flags *globalFlags) (config.Config, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("loading %s: %w", flags.envFile, err)
		}
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.workspace != "" {
		cfg.Workspace.Root = flags.workspace
	}
	if flags.stateDir != "" {
		cfg.Apply.StateDir = flags.stateDir
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, cfg.Validate()
}

// newApp wires the service from cfg. oneShot runs keep their artifacts
// between invocations, so an in-memory store is replaced with a badger
// store under the state directory.
func newApp(ctx context.Context, cmd *cobra.Command, cfg config.Config, oneShot bool) (*app, error) {
	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Dir:     cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	log := logger.Logger

	storeCfg := cfg.Store
	if oneShot && (storeCfg.Backend == "" || storeCfg.Backend == store.BackendMemory) {
		storeCfg.Backend = store.BackendBadger
		storeCfg.Path = filepath.Join(cfg.Apply.StateDir, "store")
		storeCfg.GCInterval = 0
	}
	st, err := store.Open(ctx, storeCfg, log)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a, err := wire(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		_ = logger.Close()
		return nil, err
	}
	return a, nil
}

func wire(cfg config.Config, st store.Store, logger *logging.Logger) (*app, error) {
	log := logger.Logger
	models := codemodel.DefaultRegistry()
	pool, err := codemodel.NewPool(models, cfg.Assessment.ModelPoolSize)
	if err != nil {
		return nil, err
	}
	builds := build.DefaultRegistry(build.NewRunner(
		build.WithTimeout(cfg.Apply.BuildTimeout),
		build.WithRunnerLogger(log),
	))

	ws, err := workspace.NewDirProvider(cfg.Workspace.Root, models,
		workspace.WithExcludes(cfg.Workspace.Excludes...),
		workspace.WithMaxFiles(cfg.Workspace.MaxFiles),
		workspace.WithMaxFileSize(cfg.Workspace.MaxFileSize),
		workspace.WithBuildRegistry(builds),
		workspace.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	detectors := detect.DefaultRegistry(cfg.Thresholds, pool).Without(cfg.Assessment.DisabledDetectors...)
	orchestrator := assess.New(detectors,
		assess.WithTimeout(cfg.Assessment.DetectorTimeout),
		assess.WithMaxConcurrency(cfg.Assessment.MaxConcurrency),
		assess.WithModelPool(pool),
		assess.WithLogger(log),
	)
	analyzer := impact.NewAnalyzer(pool, impact.WithLogger(log))

	backups, err := apply.NewBackupStore(cfg.Apply.BackupDir())
	if err != nil {
		return nil, err
	}
	engine := apply.NewEngine(backups, pool,
		apply.WithAnalyzer(analyzer),
		apply.WithBuildRegistry(builds),
		apply.WithPreflight(apply.NewGitPreflight(cfg.Apply.StrictGit, log)),
		apply.WithEngineLogger(log),
		apply.WithTracing(cfg.Telemetry.TraceExporter != "none"),
	)

	svc, err := refine.NewService(refine.ServiceConfig{
		Planning:          cfg.Planning,
		RunTests:          cfg.Apply.RunTests,
		RollbackOnFailure: cfg.Apply.RollbackOnFailure,
	}, refine.Deps{
		Workspace:    ws,
		Store:        st,
		Orchestrator: orchestrator,
		Analyzer:     analyzer,
		Engine:       engine,
		Pool:         pool,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, svc: svc, store: st}, nil
}

func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.logger.Close())
}
