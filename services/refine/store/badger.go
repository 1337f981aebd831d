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
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
)

// DefaultGCDiscardRatio triggers value log GC when half of a file is
// garbage.
const DefaultGCDiscardRatio = 0.5

const (
	assessmentPrefix = "assessment/"
	planPrefix       = "plan/"
)

// BadgerConfig configures the embedded backend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	SyncWrites bool

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64

	// Logger receives badger's own messages. Nil silences them.
	Logger *slog.Logger
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps artifacts in an embedded BadgerDB, one JSON value per
// project and artifact kind.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
}

// OpenBadger opens the database and starts value log GC when configured.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "store.badger")})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, logger: logger.With("component", "store.BadgerStore")}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = DefaultGCDiscardRatio
		}
		s.gc = newGCRunner(db, cfg.GCInterval, ratio, s.logger)
		s.gc.start()
	}
	return s, nil
}

func (s *BadgerStore) SaveAssessment(ctx context.Context, a *evidence.Assessment) error {
	if err := checkAssessment(a); err != nil {
		return err
	}
	return s.put(ctx, assessmentPrefix+a.ProjectID, a)
}

func (s *BadgerStore) Assessment(ctx context.Context, projectID string) (*evidence.Assessment, error) {
	var a evidence.Assessment
	if err := s.get(ctx, assessmentPrefix+projectID, &a); err != nil {
		return nil, fmt.Errorf("assessment for %s: %w", projectID, err)
	}
	return &a, nil
}

func (s *BadgerStore) SavePlan(ctx context.Context, p *plan.Plan) error {
	if err := checkPlan(p); err != nil {
		return err
	}
	return s.put(ctx, planPrefix+p.ProjectID, p)
}

func (s *BadgerStore) Plan(ctx context.Context, projectID string) (*plan.Plan, error) {
	var p plan.Plan
	if err := s.get(ctx, planPrefix+projectID, &p); err != nil {
		return nil, fmt.Errorf("plan for %s: %w", projectID, err)
	}
	return &p, nil
}

// Delete removes both artifacts in one transaction.
func (s *BadgerStore) Delete(ctx context.Context, projectID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		for _, k := range []string{assessmentPrefix + projectID, planPrefix + projectID} {
			if err := txn.Delete([]byte(k)); err != nil {
				return fmt.Errorf("deleting %s: %w", k, err)
			}
		}
		return nil
	})
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func (s *BadgerStore) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *BadgerStore) get(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// gcRunner runs value log GC periodically.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() { go r.run() }

func (r *gcRunner) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite only means there was nothing to collect.
			if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
