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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRefine/services/refine"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// runOneShot loads the config, wires the service, runs fn and prints its
// result as indented JSON.
func runOneShot(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, svc *refine.Service) (any, error)) (err error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cmd, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()

	out, err := fn(ctx, a.svc)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newAssessCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "assess <project>",
		Short: "Assess a project and store the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, flags, func(ctx context.Context, svc *refine.Service) (any, error) {
				return svc.Assess(ctx, args[0])
			})
		},
	}
}

func newClustersCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "clusters <project>",
		Short: "Group the stored assessment's findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, flags, func(ctx context.Context, svc *refine.Service) (any, error) {
				return svc.Clusters(ctx, args[0], limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", refine.DefaultClusterLimit, "number of top areas")
	return cmd
}

func newPlanCmd(flags *globalFlags) *cobra.Command {
	var (
		fresh         bool
		riskTolerance float64
		minSeverity   string
		maxTransforms int
		detectors     []string
	)
	cmd := &cobra.Command{
		Use:   "plan <project>",
		Short: "Generate a refactoring plan from the last assessment",
		Long:  "Generate a refactoring plan. The project is assessed first when it has no stored assessment or --fresh is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, flags, func(ctx context.Context, svc *refine.Service) (any, error) {
				id := args[0]
				if fresh {
					if _, err := svc.Assess(ctx, id); err != nil {
						return nil, err
					}
				} else if _, err := svc.Assessment(ctx, id); errors.Is(err, refine.ErrAssessmentNotFound) {
					if _, err := svc.Assess(ctx, id); err != nil {
						return nil, err
					}
				} else if err != nil {
					return nil, err
				}

				opts := svc.PlanDefaults()
				if cmd.Flags().Changed("risk-tolerance") {
					opts.RiskTolerance = riskTolerance
				}
				if cmd.Flags().Changed("min-severity") {
					sev, err := evidence.ParseSeverity(minSeverity)
					if err != nil {
						return nil, fmt.Errorf("%w: %v", refine.ErrInvalidInput, err)
					}
					opts.MinSeverity = sev
				}
				if cmd.Flags().Changed("max-transforms") {
					opts.MaxTransforms = maxTransforms
				}
				if len(detectors) > 0 {
					opts.Detectors = detectors
				}
				return svc.Plan(ctx, id, &opts)
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&fresh, "fresh", false, "re-assess before planning")
	f.Float64Var(&riskTolerance, "risk-tolerance", 0, "how much transform risk lowers priority (0..1)")
	f.StringVar(&minSeverity, "min-severity", "", "drop findings below this severity")
	f.IntVar(&maxTransforms, "max-transforms", 0, "keep at most this many transforms")
	f.StringSliceVar(&detectors, "detector", nil, "plan only findings of these detectors")
	return cmd
}

func newImpactCmd(flags *globalFlags) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "impact <project>",
		Short: "Analyze the impact of plan transforms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, flags, func(ctx context.Context, svc *refine.Service) (any, error) {
				return svc.Impact(ctx, args[0], ids)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&ids, "transform", "t", nil, "transform ids (default: whole plan)")
	return cmd
}

func newApplyCmd(flags *globalFlags) *cobra.Command {
	var (
		ids               []string
		dryRun            bool
		runTests          bool
		rollbackOnFailure bool
		testScope         string
	)
	cmd := &cobra.Command{
		Use:   "apply <project>",
		Short: "Apply plan transforms with backup and verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, flags, func(ctx context.Context, svc *refine.Service) (any, error) {
				opts := refine.ApplyOptions{TransformIDs: ids, DryRun: dryRun, TestScope: testScope}
				if cmd.Flags().Changed("run-tests") {
					opts.RunTests = &runTests
				}
				if cmd.Flags().Changed("rollback-on-failure") {
					opts.RollbackOnFailure = &rollbackOnFailure
				}
				return svc.Apply(ctx, args[0], opts)
			})
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&ids, "transform", "t", nil, "transform ids (default: whole plan)")
	f.BoolVar(&dryRun, "dry-run", false, "compute diffs without writing")
	f.BoolVar(&runTests, "run-tests", false, "run tests after compiling")
	f.BoolVar(&rollbackOnFailure, "rollback-on-failure", false, "restore the backup when verification fails")
	f.StringVar(&testScope, "test-scope", "", "test filter passed to the build tool (e.g. a go test -run pattern)")
	return cmd
}

func newRollbackCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <project> <backup-id>",
		Short: "Restore the files captured by an earlier apply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, flags, func(ctx context.Context, svc *refine.Service) (any, error) {
				return svc.Rollback(ctx, args[0], args[1])
			})
		},
	}
}
