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
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianRefine/services/refine"
	"github.com/AleutianAI/AleutianRefine/services/refine/apply"
	"github.com/AleutianAI/AleutianRefine/services/refine/assess"
	"github.com/AleutianAI/AleutianRefine/services/refine/config"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
	"github.com/AleutianAI/AleutianRefine/services/refine/telemetry"
	"github.com/AleutianAI/AleutianRefine/services/refine/workspace"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the refine HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, cfg, debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode and request logging")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg config.Config, debug bool) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: refine.ServiceVersion,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		MetricExporter: cfg.Telemetry.MetricExporter,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	metricsOn := cfg.Telemetry.MetricExporter != telemetry.ExporterNone
	assess.SetMetricsEnabled(metricsOn)
	plan.SetMetricsEnabled(metricsOn)
	apply.SetMetricsEnabled(metricsOn)

	a, err := newApp(ctx, cmd, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.logger.Logger

	if cfg.Workspace.Watch {
		root, err := filepath.Abs(cfg.Workspace.Root)
		if err != nil {
			return err
		}
		w, err := workspace.NewWatcher(root, a.svc.Evict, log)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if debug {
		router.Use(gin.Logger())
	}
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	var limiter *refine.ClientLimiter
	if cfg.Server.MutationRate > 0 {
		limiter = refine.NewClientLimiter(cfg.Server.MutationRate, cfg.Server.MutationBurst)
	}
	refine.RegisterRoutes(router.Group("/v1"), refine.NewHandlers(a.svc), limiter)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting refine server",
			slog.String("address", srv.Addr),
			slog.String("workspace", cfg.Workspace.Root),
			slog.String("store", cfg.Store.Backend),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down refine server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
