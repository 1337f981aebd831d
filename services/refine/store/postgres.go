// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

// DBPool is the subset of pgxpool.Pool the store needs, so tests can use
// pgxmock.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	sqlCreateAssessments = `CREATE TABLE IF NOT EXISTS refine_assessments (
    project_id TEXT PRIMARY KEY,
    assessment_id TEXT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`

	sqlCreatePlans = `CREATE TABLE IF NOT EXISTS refine_plans (
    project_id TEXT PRIMARY KEY,
    plan_id TEXT NOT NULL,
    assessment_id TEXT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`

	sqlUpsertAssessment = `INSERT INTO refine_assessments (project_id, assessment_id, data, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (project_id) DO UPDATE SET
    assessment_id = EXCLUDED.assessment_id,
    data = EXCLUDED.data,
    created_at = EXCLUDED.created_at`

	sqlUpsertPlan = `INSERT INTO refine_plans (project_id, plan_id, assessment_id, data, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (project_id) DO UPDATE SET
    plan_id = EXCLUDED.plan_id,
    assessment_id = EXCLUDED.assessment_id,
    data = EXCLUDED.data,
    created_at = EXCLUDED.created_at`

	sqlSelectAssessment = `SELECT data FROM refine_assessments WHERE project_id = $1`
	sqlSelectPlan       = `SELECT data FROM refine_plans WHERE project_id = $1`
	sqlDeleteAssessment = `DELETE FROM refine_assessments WHERE project_id = $1`
	sqlDeletePlan       = `DELETE FROM refine_plans WHERE project_id = $1`
)

// PostgresStore keeps artifacts as JSONB rows, one per project per table.
type PostgresStore struct {
	pool   DBPool
	closer func()
	logger *slog.Logger
}

// NewPostgresStore wraps a pool. The caller keeps ownership of the pool.
func NewPostgresStore(pool DBPool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger.With("component", "store.PostgresStore")}
}

// EnsureSchema creates the tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateAssessments, sqlCreatePlans} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveAssessment(ctx context.Context, a *evidence.Assessment) error {
	if err := checkAssessment(a); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling assessment: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertAssessment, a.ProjectID, a.ID, data, a.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Assessment(ctx context.Context, projectID string) (*evidence.Assessment, error) {
	var a evidence.Assessment
	if err := s.selectJSON(ctx, sqlSelectAssessment, projectID, &a); err != nil {
		return nil, fmt.Errorf("assessment for %s: %w", projectID, err)
	}
	return &a, nil
}

func (s *PostgresStore) SavePlan(ctx context.Context, p *plan.Plan) error {
	if err := checkPlan(p); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertPlan, p.ProjectID, p.ID, p.AssessmentID, data, p.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) Plan(ctx context.Context, projectID string) (*plan.Plan, error) {
	var p plan.Plan
	if err := s.selectJSON(ctx, sqlSelectPlan, projectID, &p); err != nil {
		return nil, fmt.Errorf("plan for %s: %w", projectID, err)
	}
	return &p, nil
}

// Delete removes both rows in one transaction.
func (s *PostgresStore) Delete(ctx context.Context, projectID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, stmt := range []string{sqlDeleteAssessment, sqlDeletePlan} {
		if _, err := tx.Exec(ctx, stmt, projectID); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error("Failed to rollback transaction", slog.String("error", rbErr.Error()))
			}
			return fmt.Errorf("failed to delete project %s: %w", projectID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

func (s *PostgresStore) selectJSON(ctx context.Context, query, projectID string, v any) error {
	var data []byte
	err := s.pool.QueryRow(ctx, query, projectID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}
	return nil
}
