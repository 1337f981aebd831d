// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"fmt"
	"slices"
	"sync"

	"github.com/AleutianAI/AleutianRefine/services/refine/codemodel"
)

// Registry is the ordered, static set of detectors. Assessment output
// follows registration order.
//
// # Thread Safety
//
// Safe for concurrent use; registration normally happens once at startup.
type Registry struct {
	mu        sync.RWMutex
	detectors []Detector
	byID      map[string]Detector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Detector)}
}

// Register appends d. Ids must be unique.
func (r *Registry) Register(d Detector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[d.ID()]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateDetector, d.ID())
	}
	r.byID[d.ID()] = d
	r.detectors = append(r.detectors, d)
	return nil
}

// MustRegister registers d and panics on duplicates.
func (r *Registry) MustRegister(d Detector) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// All returns the detectors in registration order.
func (r *Registry) All() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.detectors)
}

// Get returns the detector with the given id.
func (r *Registry) Get(id string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// IDs returns the registered ids in order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.detectors))
	for i, d := range r.detectors {
		ids[i] = d.ID()
	}
	return ids
}

// Without returns a copy of the registry minus the given ids.
func (r *Registry) Without(ids ...string) *Registry {
	out := NewRegistry()
	for _, d := range r.All() {
		if slices.Contains(ids, d.ID()) {
			continue
		}
		out.MustRegister(d)
	}
	return out
}

// DefaultRegistry builds the built-in catalogue in its canonical order.
func DefaultRegistry(th Thresholds, pool *codemodel.Pool) *Registry {
	r := NewRegistry()
	for _, d := range []Detector{
		NewLongMethod(th, pool),
		NewLongParameterList(th, pool),
		NewLargeClass(th, pool),
		NewFeatureEnvy(th, pool),
		NewMessageChain(th, pool),
		NewDataClass(th, pool),
		NewDeepNesting(th, pool),
		NewMagicNumber(th, pool),
		NewEmptyCatch(pool),
		NewDuplicateBlock(th, pool),
		NewDebtMarker(pool),
		NewImportCount(th, pool),
		NewCyclicDependency(pool),
	} {
		r.MustRegister(d)
	}
	return r
}
