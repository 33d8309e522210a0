// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rollback restores previous model versions, on request or when a
// rule fires against live metrics.
//
// # Description
//
// The Manager owns the model version registry, the rule set and every
// rollback execution. Rollbacks run synchronously in the caller's
// goroutine: a manual request, the deployment executor's failure path, or
// the watch loop. A successful rollback makes the restored version
// current and quarantines the version it moved away from, so a later
// automatic rollback never lands on it again.
//
// # Thread Safety
//
// Manager is safe for concurrent use.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/monitoring"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/observability"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/storage"
)

// Defaults.
const (
	DefaultWatchInterval    = 30 * time.Second
	DefaultHistoryLimit     = 100
	DefaultStepDelay        = 200 * time.Millisecond
	DefaultFetchConcurrency = 8
)

var (
	// ErrModelNotRegistered is returned for models the registry does not know.
	ErrModelNotRegistered = errors.New("model not registered for rollback")

	// ErrUnknownVersion is returned when a target version is not among the
	// model's known versions.
	ErrUnknownVersion = errors.New("target version not known for model")

	// ErrTargetIsCurrent is returned when the target version is already current.
	ErrTargetIsCurrent = errors.New("target version is already current")

	// ErrInsufficientHistory is returned when no previous version exists to
	// roll back to.
	ErrInsufficientHistory = errors.New("insufficient version history for rollback")

	// ErrRuleNotFound is returned when removing an unknown rule.
	ErrRuleNotFound = errors.New("rollback rule not found")

	// ErrInvalidRule is returned when a rule or rule set is rejected.
	ErrInvalidRule = errors.New("invalid rollback rule")

	// ErrMonitoringActive is returned by StartMonitoring when the watch loop
	// is already running.
	ErrMonitoringActive = errors.New("rollback monitoring already running")
)

// Config configures a Manager. Zero values get defaults.
type Config struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Archive storage.Archive
	Clock   clock.Clock

	// Provider supplies live metrics to the watch loop.
	Provider monitoring.Provider

	// Rules replaces DefaultRules when non-nil.
	Rules []datatypes.RollbackRule

	// Strategies are merged over the simulated defaults.
	Strategies map[datatypes.RollbackStrategy]StrategyFunc

	WatchInterval    time.Duration
	StepDelay        time.Duration
	HistoryLimit     int
	FetchConcurrency int

	// AutoRollbackRate throttles automatic rollbacks across all models.
	// Zero means unlimited.
	AutoRollbackRate  rate.Limit
	AutoRollbackBurst int

	// OnFinished, when set, receives a snapshot of every finished rollback
	// regardless of trigger.
	OnFinished func(*datatypes.RollbackExecution)
}

// Manager executes rollbacks and runs the rule watch loop.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	archive storage.Archive
	clock   clock.Clock
	limiter *rate.Limiter

	mu         sync.RWMutex
	models     map[string]*modelEntry
	rules      []datatypes.RollbackRule
	strategies map[datatypes.RollbackStrategy]StrategyFunc
	active     map[string]*datatypes.RollbackExecution
	history    []*datatypes.RollbackExecution

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Archive == nil {
		cfg.Archive = storage.NopArchive{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = DefaultWatchInterval
	}
	if cfg.StepDelay < 0 {
		cfg.StepDelay = 0
	} else if cfg.StepDelay == 0 {
		cfg.StepDelay = DefaultStepDelay
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}

	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	rules = append([]datatypes.RollbackRule(nil), rules...)
	sortRules(rules)

	strategies := SimulatedStrategies(cfg.Clock, cfg.StepDelay)
	for s, fn := range cfg.Strategies {
		strategies[s] = fn
	}

	m := &Manager{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "rollback"),
		metrics:    cfg.Metrics,
		archive:    cfg.Archive,
		clock:      cfg.Clock,
		models:     make(map[string]*modelEntry),
		rules:      rules,
		strategies: strategies,
		active:     make(map[string]*datatypes.RollbackExecution),
	}
	if cfg.AutoRollbackRate > 0 {
		burst := cfg.AutoRollbackBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(cfg.AutoRollbackRate, burst)
	}
	return m
}

// =============================================================================
// Model Registry
// =============================================================================

// AddModelMonitoring registers a model and puts it under watch. An existing
// registration is replaced.
//
// # Inputs
//
//   - modelID: model to watch
//   - currentVersion: version serving now
//   - history: earlier versions, most recent first; duplicates are dropped
func (m *Manager) AddModelMonitoring(modelID, currentVersion string, history []string) error {
	req := datatypes.MonitoringRequest{ModelID: modelID, CurrentVersion: currentVersion, VersionHistory: history}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid monitoring request: %w", err)
	}

	entry := newModelEntry(currentVersion, history)
	entry.monitored = true

	m.mu.Lock()
	m.models[modelID] = entry
	monitored := m.monitoredCountLocked()
	m.mu.Unlock()

	m.metrics.SetMonitoredModels(monitored)
	m.logger.Info("model monitoring added",
		"model_id", modelID,
		"current_version", currentVersion,
		"known_versions", len(entry.versions))
	return nil
}

// RemoveModelMonitoring takes a model out of the watch loop. Its version
// history stays available for manual rollbacks. Returns false when the
// model was not monitored.
func (m *Manager) RemoveModelMonitoring(modelID string) bool {
	m.mu.Lock()
	entry, ok := m.models[modelID]
	wasMonitored := ok && entry.monitored
	if ok {
		entry.monitored = false
	}
	monitored := m.monitoredCountLocked()
	m.mu.Unlock()

	if wasMonitored {
		m.metrics.SetMonitoredModels(monitored)
		m.logger.Info("model monitoring removed", "model_id", modelID)
	}
	return wasMonitored
}

// IsMonitored reports whether the watch loop evaluates modelID.
func (m *Manager) IsMonitored(modelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.models[modelID]
	return ok && e.monitored
}

// ModelVersions returns the registry view of a model.
func (m *Manager) ModelVersions(modelID string) (*datatypes.ModelVersionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.models[modelID]
	if !ok {
		return nil, false
	}
	return e.info(modelID), true
}

// RecordDeployment makes version current after a successful deployment.
// An unknown model is registered, unmonitored, with previous as its only
// history entry.
func (m *Manager) RecordDeployment(modelID, version, previous string) {
	if modelID == "" || version == "" {
		return
	}
	m.mu.Lock()
	e, ok := m.models[modelID]
	if !ok {
		var hist []string
		if previous != "" {
			hist = []string{previous}
		}
		m.models[modelID] = newModelEntry(version, hist)
	} else {
		e.recordDeployment(version)
	}
	m.mu.Unlock()
	m.logger.Debug("deployment recorded", "model_id", modelID, "version", version)
}

func (m *Manager) monitoredCountLocked() int {
	n := 0
	for _, e := range m.models {
		if e.monitored {
			n++
		}
	}
	return n
}

// =============================================================================
// Rules
// =============================================================================

// Rules returns the rule set, highest priority first.
func (m *Manager) Rules() []datatypes.RollbackRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]datatypes.RollbackRule(nil), m.rules...)
}

// AddRule validates rule and adds it, replacing any rule with the same id.
func (m *Manager) AddRule(rule datatypes.RollbackRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	m.mu.Lock()
	rules := make([]datatypes.RollbackRule, 0, len(m.rules)+1)
	for _, r := range m.rules {
		if r.ID != rule.ID {
			rules = append(rules, r)
		}
	}
	rules = append(rules, rule)
	sortRules(rules)
	m.rules = rules
	m.mu.Unlock()

	m.logger.Info("rollback rule added", "rule_id", rule.ID, "trigger", rule.Trigger, "threshold", rule.Threshold)
	return nil
}

// RemoveRule deletes a rule by id.
func (m *Manager) RemoveRule(ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rules {
		if r.ID == ruleID {
			m.rules = append(m.rules[:i:i], m.rules[i+1:]...)
			m.logger.Info("rollback rule removed", "rule_id", ruleID)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
}

// ReplaceRules swaps the whole rule set. Nothing changes if any rule is
// invalid or two rules share an id.
func (m *Manager) ReplaceRules(rules []datatypes.RollbackRule) error {
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return fmt.Errorf("%w %q: %w", ErrInvalidRule, rules[i].ID, err)
		}
		if seen[rules[i].ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidRule, rules[i].ID)
		}
		seen[rules[i].ID] = true
	}
	next := append([]datatypes.RollbackRule(nil), rules...)
	sortRules(next)

	m.mu.Lock()
	m.rules = next
	m.mu.Unlock()
	m.logger.Info("rollback rules replaced", "rules", len(next))
	return nil
}

// RegisterStrategy installs or replaces the implementation of a strategy.
func (m *Manager) RegisterStrategy(strategy datatypes.RollbackStrategy, fn StrategyFunc) {
	m.mu.Lock()
	m.strategies[strategy] = fn
	m.mu.Unlock()
}

// =============================================================================
// Rollback Entry Points
// =============================================================================

// TriggerManualRollback rolls a registered model back and returns the
// finished rollback.
//
// # Description
//
// An empty TargetVersion selects the same version an automatic rollback
// would. The strategy defaults to version_revert. A rollback whose strategy
// fails is still returned, with Success false and a nil error.
//
// # Outputs
//
//   - error: validation failure, ErrModelNotRegistered, ErrUnknownVersion,
//     ErrTargetIsCurrent or ErrInsufficientHistory; no rollback is created
func (m *Manager) TriggerManualRollback(ctx context.Context, req datatypes.RollbackRequest) (*datatypes.RollbackExecution, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rollback request: %w", err)
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = datatypes.RollbackVersionRevert
	}

	m.mu.RLock()
	entry, ok := m.models[req.ModelID]
	var from, to string
	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", ErrModelNotRegistered, req.ModelID)
	} else {
		from = entry.current()
		to, err = manualTarget(entry, req.TargetVersion)
	}
	m.mu.RUnlock()
	if err != nil {
		m.logger.Warn("manual rollback refused", "model_id", req.ModelID, "target_version", req.TargetVersion, "error", err)
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual rollback"
	}
	rb := m.newExecution(req.ModelID, datatypes.TriggerManual, strategy, from, to, reason)
	return m.execute(ctx, rb), nil
}

func manualTarget(e *modelEntry, requested string) (string, error) {
	if requested == "" {
		if len(e.versions) < 2 {
			return "", ErrInsufficientHistory
		}
		to, ok := e.autoTarget()
		if !ok {
			return "", ErrInsufficientHistory
		}
		return to, nil
	}
	if !e.has(requested) {
		return "", fmt.Errorf("%w: %s", ErrUnknownVersion, requested)
	}
	if requested == e.current() {
		return "", fmt.Errorf("%w: %s", ErrTargetIsCurrent, requested)
	}
	return requested, nil
}

// RollbackDeployment reverses a deployment execution. The model does not
// need to be registered.
func (m *Manager) RollbackDeployment(ctx context.Context, req datatypes.DeploymentRollbackRequest) (*datatypes.RollbackExecution, error) {
	if req.ModelID == "" || req.ToVersion == "" {
		return nil, errors.New("deployment rollback needs a model and a target version")
	}
	strategy := req.Strategy
	if !strategy.Valid() {
		strategy = datatypes.RollbackVersionRevert
	}
	trigger := req.Trigger
	if !trigger.Valid() {
		trigger = datatypes.TriggerManual
	}
	rb := m.newExecution(req.ModelID, trigger, strategy, req.FromVersion, req.ToVersion, req.Reason)
	rb.DeploymentExecutionID = req.ExecutionID
	return m.execute(ctx, rb), nil
}

// =============================================================================
// Execution
// =============================================================================

func (m *Manager) newExecution(modelID string, trigger datatypes.TriggerType, strategy datatypes.RollbackStrategy, from, to, reason string) *datatypes.RollbackExecution {
	return &datatypes.RollbackExecution{
		ID:           "rb-" + uuid.NewString(),
		ModelID:      modelID,
		Trigger:      trigger,
		Strategy:     strategy,
		TriggeredAt:  m.clock.Now(),
		Status:       datatypes.RollbackTriggered,
		FromVersion:  from,
		ToVersion:    to,
		Reason:       reason,
		ExecutionLog: []datatypes.LogEntry{},
	}
}

// execute runs rb's strategy to completion and archives the result.
func (m *Manager) execute(ctx context.Context, rb *datatypes.RollbackExecution) *datatypes.RollbackExecution {
	ctx, span := observability.StartSpan(ctx, "rollback.Execute",
		attribute.String("rollback_id", rb.ID),
		attribute.String("model_id", rb.ModelID),
		attribute.String("strategy", string(rb.Strategy)),
		attribute.String("trigger", string(rb.Trigger)))
	defer span.End()

	m.mu.Lock()
	start := m.clock.Now()
	rb.StartedAt = &start
	rb.Status = datatypes.RollbackExecuting
	m.active[rb.ID] = rb
	fn := m.strategies[rb.Strategy]
	m.appendLogLocked(rb, fmt.Sprintf("Rollback started: %s from %s to %s", rb.Strategy, rb.FromVersion, rb.ToVersion))
	m.mu.Unlock()

	m.metrics.RollbackStarted()
	m.logger.Info("rollback started",
		"rollback_id", rb.ID,
		"model_id", rb.ModelID,
		"trigger", rb.Trigger,
		"strategy", rb.Strategy,
		"from_version", rb.FromVersion,
		"to_version", rb.ToVersion,
		"reason", rb.Reason)

	err := m.runStrategy(ctx, fn, rb)

	m.mu.Lock()
	end := m.clock.Now()
	rb.CompletedAt = &end
	rb.Duration = end.Sub(start)
	if err == nil {
		rb.Status = datatypes.RollbackCompleted
		rb.Success = true
		m.appendLogLocked(rb, "Rollback completed")
		if entry, ok := m.models[rb.ModelID]; ok {
			entry.promote(rb.ToVersion, rb.FromVersion)
		}
	} else {
		rb.Status = datatypes.RollbackFailed
		rb.ErrorMessage = err.Error()
		m.appendLogLocked(rb, "Rollback failed: "+err.Error())
	}
	delete(m.active, rb.ID)
	m.history = append(m.history, rb)
	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = append([]*datatypes.RollbackExecution(nil), m.history[over:]...)
	}
	snap := rb.Clone()
	m.mu.Unlock()

	m.metrics.RollbackFinished(string(snap.Trigger), string(snap.Strategy), string(snap.Status), snap.Duration)
	if err := m.archive.SaveRollback(context.WithoutCancel(ctx), snap); err != nil {
		m.logger.Warn("failed to archive rollback", "rollback_id", snap.ID, "error", err)
	}
	if snap.Success {
		observability.SetSpanOK(span)
		m.logger.Info("rollback completed",
			"rollback_id", snap.ID, "model_id", snap.ModelID, "to_version", snap.ToVersion, "duration", snap.Duration)
	} else {
		observability.RecordError(span, err)
		m.logger.Error("rollback failed",
			"rollback_id", snap.ID, "model_id", snap.ModelID, "error", snap.ErrorMessage)
	}
	if m.cfg.OnFinished != nil {
		m.cfg.OnFinished(snap.Clone())
	}
	return snap
}

func (m *Manager) runStrategy(ctx context.Context, fn StrategyFunc, rb *datatypes.RollbackExecution) (err error) {
	if fn == nil {
		return fmt.Errorf("no implementation for rollback strategy %q", rb.Strategy)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rollback strategy panicked: %v", p)
		}
	}()
	target := Target{ModelID: rb.ModelID, FromVersion: rb.FromVersion, ToVersion: rb.ToVersion}
	return fn(ctx, target, func(msg string) {
		m.mu.Lock()
		m.appendLogLocked(rb, msg)
		m.mu.Unlock()
	})
}

func (m *Manager) appendLogLocked(rb *datatypes.RollbackExecution, msg string) {
	rb.ExecutionLog = append(rb.ExecutionLog, datatypes.LogEntry{Timestamp: m.clock.Now(), Message: msg})
}

// =============================================================================
// Queries
// =============================================================================

// GetRollback returns an active rollback, falling back to history.
func (m *Manager) GetRollback(rollbackID string) (*datatypes.RollbackExecution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rb, ok := m.active[rollbackID]; ok {
		return rb.Clone(), true
	}
	for _, rb := range m.history {
		if rb.ID == rollbackID {
			return rb.Clone(), true
		}
	}
	return nil, false
}

// ListActive returns running rollbacks newest-first, optionally for one model.
func (m *Manager) ListActive(modelID string) []*datatypes.RollbackExecution {
	m.mu.RLock()
	out := make([]*datatypes.RollbackExecution, 0, len(m.active))
	for _, rb := range m.active {
		if modelID == "" || rb.ModelID == modelID {
			out = append(out, rb.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out
}

// History returns finished rollbacks newest-first, at most limit (0 = all).
func (m *Manager) History(modelID string, limit int) []*datatypes.RollbackExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*datatypes.RollbackExecution
	for i := len(m.history) - 1; i >= 0; i-- {
		rb := m.history[i]
		if modelID != "" && rb.ModelID != modelID {
			continue
		}
		out = append(out, rb.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// SeedHistory loads finished rollbacks (newest-first) into history.
func (m *Manager) SeedHistory(rbs []*datatypes.RollbackExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seeded := make([]*datatypes.RollbackExecution, 0, len(rbs)+len(m.history))
	for i := len(rbs) - 1; i >= 0; i-- {
		if rbs[i] != nil {
			seeded = append(seeded, rbs[i].Clone())
		}
	}
	seeded = append(seeded, m.history...)
	if over := len(seeded) - m.cfg.HistoryLimit; over > 0 {
		seeded = seeded[over:]
	}
	m.history = seeded
}

// Health reports the rollback component's state.
func (m *Manager) Health() datatypes.ComponentHealth {
	active := m.MonitoringActive()

	m.mu.RLock()
	defer m.mu.RUnlock()
	status := datatypes.HealthHealthy
	if m.cfg.Provider == nil && m.monitoredCountLocked() > 0 {
		status = datatypes.HealthDegraded
	}
	return datatypes.ComponentHealth{
		Name:   "rollback",
		Status: status,
		Details: map[string]any{
			"monitoring_active": active,
			"registered_models": len(m.models),
			"monitored_models":  m.monitoredCountLocked(),
			"active_rollbacks":  len(m.active),
			"history_size":      len(m.history),
			"rules":             len(m.rules),
		},
	}
}
