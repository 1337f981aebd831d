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
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

// DefaultMaxProjects bounds the memory store.
const DefaultMaxProjects = 256

type record struct {
	assessment *evidence.Assessment
	plan       *plan.Plan
}

// MemoryStore keeps artifacts in process. When full, the least recently
// used project is evicted with both of its artifacts.
type MemoryStore struct {
	mu      sync.Mutex
	records *lru.Cache[string, record]
}

// NewMemoryStore creates a store holding at most maxProjects projects.
func NewMemoryStore(maxProjects int) (*MemoryStore, error) {
	if maxProjects <= 0 {
		maxProjects = DefaultMaxProjects
	}
	records, err := lru.New[string, record](maxProjects)
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %w", err)
	}
	return &MemoryStore{records: records}, nil
}

func (m *MemoryStore) SaveAssessment(_ context.Context, a *evidence.Assessment) error {
	if err := checkAssessment(a); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, _ := m.records.Get(a.ProjectID)
	r.assessment = a
	m.records.Add(a.ProjectID, r)
	return nil
}

func (m *MemoryStore) Assessment(_ context.Context, projectID string) (*evidence.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records.Get(projectID)
	if !ok || r.assessment == nil {
		return nil, fmt.Errorf("assessment for %s: %w", projectID, ErrNotFound)
	}
	return r.assessment, nil
}

func (m *MemoryStore) SavePlan(_ context.Context, p *plan.Plan) error {
	if err := checkPlan(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, _ := m.records.Get(p.ProjectID)
	r.plan = p
	m.records.Add(p.ProjectID, r)
	return nil
}

func (m *MemoryStore) Plan(_ context.Context, projectID string) (*plan.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records.Get(projectID)
	if !ok || r.plan == nil {
		return nil, fmt.Errorf("plan for %s: %w", projectID, ErrNotFound)
	}
	return r.plan, nil
}

func (m *MemoryStore) Delete(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records.Remove(projectID)
	return nil
}

// Len returns the number of projects held.
func (m *MemoryStore) Len() int { return m.records.Len() }

func (m *MemoryStore) Close() error {
	m.records.Purge()
	return nil
}
