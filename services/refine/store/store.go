// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store keeps the last Assessment and last Plan of each project.
//
// A later save for the same project supersedes the earlier one; Delete
// evicts both. Three backends share the Store interface: a bounded
// in-process LRU, an embedded BadgerDB, and PostgreSQL through pgx.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

var (
	// ErrNotFound is returned when a project has no stored artifact.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArtifact is returned when saving nil or an artifact
	// without a project id.
	ErrInvalidArtifact = errors.New("invalid artifact")

	// ErrUnknownBackend is returned by Open for an unsupported backend.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Store persists assessments and plans keyed by project id.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type Store interface {
	SaveAssessment(ctx context.Context, a *evidence.Assessment) error
	Assessment(ctx context.Context, projectID string) (*evidence.Assessment, error)
	SavePlan(ctx context.Context, p *plan.Plan) error
	Plan(ctx context.Context, projectID string) (*plan.Plan, error)
	Delete(ctx context.Context, projectID string) error
	Close() error
}

// Backend names.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config selects and tunes a backend.
type Config struct {
	Backend string `yaml:"backend" validate:"oneof=memory badger postgres"`

	// MaxProjects bounds the memory backend.
	MaxProjects int `yaml:"max_projects" validate:"gte=0"`

	// Path is the badger directory. Empty opens badger in memory.
	Path string `yaml:"path"`

	// SyncWrites makes badger fsync every commit.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is the badger value log GC period. Zero disables GC.
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn" validate:"required_if=Backend postgres"`
}

// DefaultConfig returns the in-memory backend.
func DefaultConfig() Config {
	return Config{Backend: BackendMemory, MaxProjects: DefaultMaxProjects, GCInterval: 5 * time.Minute}
}

// Open creates the backend named by cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(cfg.MaxProjects)
	case BackendBadger:
		return OpenBadger(BadgerConfig{
			Path:           cfg.Path,
			InMemory:       cfg.Path == "",
			SyncWrites:     cfg.SyncWrites,
			GCInterval:     cfg.GCInterval,
			GCDiscardRatio: DefaultGCDiscardRatio,
			Logger:         logger,
		})
	case BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s := NewPostgresStore(pool, logger)
		s.closer = pool.Close
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func checkAssessment(a *evidence.Assessment) error {
	if a == nil || a.ProjectID == "" {
		return fmt.Errorf("%w: assessment needs a project id", ErrInvalidArtifact)
	}
	return nil
}

func checkPlan(p *plan.Plan) error {
	if p == nil || p.ProjectID == "" {
		return fmt.Errorf("%w: plan needs a project id", ErrInvalidArtifact)
	}
	return nil
}
