// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// Key prefixes. Values are JSON.
const (
	prefixPlan      = "plan/"
	prefixExecution = "exec/"
	prefixRollback  = "rb/"
)

// Config holds configuration for a BadgerArchive.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Used in tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often to run value log GC. 0 disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC rewrites a file.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: synchronous writes and value
// log GC every 5 minutes at a 0.5 discard ratio.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory, async, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
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

// BadgerArchive stores terminal records in BadgerDB.
//
// # Description
//
// Each record is one key (prefix + id) holding the JSON encoding of the
// record. Saving the same id twice overwrites, so a retried archive call
// never duplicates history.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerArchive struct {
	db       *badger.DB
	gcRunner *GCRunner
	once     sync.Once
	closeErr error
}

// OpenBadgerArchive opens (or creates) an archive.
//
// # Inputs
//
//   - cfg: Path is required unless InMemory is true.
//
// # Outputs
//
//   - *BadgerArchive: call Close when done
//   - error: non-nil if the directory or database cannot be opened
func OpenBadgerArchive(cfg Config) (*BadgerArchive, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent archive")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger archive: %w", err)
	}

	a := &BadgerArchive{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		a.gcRunner = runner
		runner.Start()
	}
	return a, nil
}

// SavePlan implements Archive.
func (a *BadgerArchive) SavePlan(ctx context.Context, plan *datatypes.DeploymentPlan) error {
	return a.put(ctx, prefixPlan+plan.ID, plan)
}

// SaveExecution implements Archive.
func (a *BadgerArchive) SaveExecution(ctx context.Context, exec *datatypes.DeploymentExecution) error {
	return a.put(ctx, prefixExecution+exec.ID, exec)
}

// SaveRollback implements Archive.
func (a *BadgerArchive) SaveRollback(ctx context.Context, rb *datatypes.RollbackExecution) error {
	return a.put(ctx, prefixRollback+rb.ID, rb)
}

// LoadPlans implements Archive. Plans are ordered by creation time.
func (a *BadgerArchive) LoadPlans(ctx context.Context, limit int) ([]*datatypes.DeploymentPlan, error) {
	plans, err := loadPrefix[datatypes.DeploymentPlan](ctx, a.db, prefixPlan)
	if err != nil {
		return nil, err
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.After(plans[j].CreatedAt) })
	return truncate(plans, limit), nil
}

// LoadExecutions implements Archive. Executions are ordered by start time.
func (a *BadgerArchive) LoadExecutions(ctx context.Context, limit int) ([]*datatypes.DeploymentExecution, error) {
	execs, err := loadPrefix[datatypes.DeploymentExecution](ctx, a.db, prefixExecution)
	if err != nil {
		return nil, err
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].StartedAt.After(execs[j].StartedAt) })
	return truncate(execs, limit), nil
}

// LoadRollbacks implements Archive. Rollbacks are ordered by trigger time.
func (a *BadgerArchive) LoadRollbacks(ctx context.Context, limit int) ([]*datatypes.RollbackExecution, error) {
	rbs, err := loadPrefix[datatypes.RollbackExecution](ctx, a.db, prefixRollback)
	if err != nil {
		return nil, err
	}
	sort.Slice(rbs, func(i, j int) bool { return rbs[i].TriggeredAt.After(rbs[j].TriggeredAt) })
	return truncate(rbs, limit), nil
}

// Close stops GC and closes the database. Safe to call multiple times.
func (a *BadgerArchive) Close() error {
	a.once.Do(func() {
		if a.gcRunner != nil {
			a.gcRunner.Stop()
		}
		a.closeErr = a.db.Close()
	})
	return a.closeErr
}

func (a *BadgerArchive) put(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func loadPrefix[T any](ctx context.Context, db *badger.DB, prefix string) ([]*T, error) {
	var out []*T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				v := new(T)
				if err := json.Unmarshal(val, v); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				out = append(out, v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", prefix, err)
	}
	return out, nil
}

func truncate[T any](in []*T, limit int) []*T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

// =============================================================================
// Garbage Collection
// =============================================================================

// GCRunner runs periodic value log garbage collection on a BadgerDB instance.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewGCRunner creates a runner. Call Start to begin and Stop to halt.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins periodic GC. Subsequent calls are no-ops.
func (r *GCRunner) Start() {
	r.startOnce.Do(func() { go r.run() })
}

// Stop signals the GC goroutine and waits for it to exit.
func (r *GCRunner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	// A runner that never started has nothing to wait for.
	r.startOnce.Do(func() { close(r.doneCh) })
	<-r.doneCh
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *GCRunner) runGC() {
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		if r.logger != nil {
			r.logger.Debug("badger value log GC completed")
		}
		return
	}
	// ErrNoRewrite means nothing was worth collecting.
	if !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
		r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
	}
}
