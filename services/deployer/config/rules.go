// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// DefaultRulesDebounce is how long RulesWatcher waits for writes to settle.
const DefaultRulesDebounce = 200 * time.Millisecond

// rulesFile is the on-disk layout of a rules file.
type rulesFile struct {
	Rules []datatypes.RollbackRule `yaml:"rules"`
}

// LoadRules reads and validates a rules file.
//
// # Outputs
//
//   - []datatypes.RollbackRule: the rules in file order
//   - error: unreadable file, malformed YAML, an empty rule list, an
//     invalid rule or a duplicate id
func LoadRules(path string) ([]datatypes.RollbackRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}
	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		if err := f.Rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("rules file %s: rule %d: %w", path, i, err)
		}
		if seen[f.Rules[i].ID] {
			return nil, fmt.Errorf("rules file %s: duplicate rule id %q", path, f.Rules[i].ID)
		}
		seen[f.Rules[i].ID] = true
	}
	return f.Rules, nil
}

// RulesApplier receives a freshly loaded rule set.
type RulesApplier func(rules []datatypes.RollbackRule) error

// RulesWatcher reloads a rules file whenever it changes.
//
// # Description
//
// The watcher observes the file's directory so editors that replace the
// file by rename are handled. Bursts of events are collapsed by a debounce
// window. A file that fails to load or apply is logged and the previous
// rule set stays in force.
//
// # Thread Safety
//
// Start and Stop are safe to call from different goroutines. The applier
// is only ever called from the watcher goroutine.
type RulesWatcher struct {
	path     string
	apply    RulesApplier
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}

	reloads int
}

// NewRulesWatcher creates a watcher for path. A zero debounce uses
// DefaultRulesDebounce.
func NewRulesWatcher(path string, apply RulesApplier, logger *slog.Logger, debounce time.Duration) *RulesWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultRulesDebounce
	}
	return &RulesWatcher{
		path:     filepath.Clean(path),
		apply:    apply,
		logger:   logger.With("component", "rules_watcher", "path", path),
		debounce: debounce,
	}
}

// Start loads and applies the file once, then watches it.
//
// # Outputs
//
//   - error: the initial load or apply failed, the watcher could not be
//     created, or the watcher is already running
func (w *RulesWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return errors.New("rules watcher already running")
	}

	rules, err := LoadRules(w.path)
	if err != nil {
		return err
	}
	if err := w.apply(rules); err != nil {
		return fmt.Errorf("failed to apply rules from %s: %w", w.path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = fw
	w.done = make(chan struct{})
	w.stopped = make(chan struct{})
	w.logger.Info("rules watcher started", "rules", len(rules))
	go w.run(ctx, fw, w.done, w.stopped)
	return nil
}

// Stop ends watching and waits for the watcher goroutine. Safe to call
// more than once.
func (w *RulesWatcher) Stop() {
	w.mu.Lock()
	fw, done, stopped := w.watcher, w.done, w.stopped
	w.watcher = nil
	w.mu.Unlock()
	if fw == nil {
		return
	}
	close(done)
	<-stopped
	fw.Close()
}

// Reloads returns how many times the rules were reloaded after Start.
func (w *RulesWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *RulesWatcher) run(ctx context.Context, fw *fsnotify.Watcher, done, stopped chan struct{}) {
	defer close(stopped)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		case <-timer.C:
			pending = false
			w.reload()
		}
	}
}

func (w *RulesWatcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Error("rules reload failed, keeping previous rules", "error", err)
		return
	}
	if err := w.apply(rules); err != nil {
		w.logger.Error("rules apply failed, keeping previous rules", "error", err)
		return
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.logger.Info("rollback rules reloaded", "rules", len(rules))
}
