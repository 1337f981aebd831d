// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codemodel

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

// DefaultPoolSize is the number of project snapshots whose models stay
// resident.
const DefaultPoolSize = 32

// Pool hands out one Cache per ProjectContext, keeping the most recently
// used snapshots resident.
//
// # Thread Safety
//
// Safe for concurrent use.
type Pool struct {
	registry *Registry
	caches   *lru.Cache[*evidence.ProjectContext, *Cache]
}

// NewPool creates a pool holding at most size snapshots.
func NewPool(registry *Registry, size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	caches, err := lru.New[*evidence.ProjectContext, *Cache](size)
	if err != nil {
		return nil, fmt.Errorf("creating model pool: %w", err)
	}
	return &Pool{registry: registry, caches: caches}, nil
}

// Registry returns the provider registry.
func (p *Pool) Registry() *Registry { return p.registry }

// For returns the cache of pc, creating it on first use.
func (p *Pool) For(pc *evidence.ProjectContext) *Cache {
	if c, ok := p.caches.Get(pc); ok {
		return c
	}
	c := NewCache(p.registry, pc)
	if prev, ok, _ := p.caches.PeekOrAdd(pc, c); ok {
		return prev
	}
	return c
}

// Forget drops the cache of pc.
func (p *Pool) Forget(pc *evidence.ProjectContext) {
	p.caches.Remove(pc)
}
