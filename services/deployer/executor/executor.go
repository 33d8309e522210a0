// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor drives approved deployment plans through the phase
// state machine.
//
// # Description
//
// Each execution runs in its own goroutine and advances strictly through
// PreChecks, Deploying, PostChecks, Validating and Monitoring. A failed
// pre-check fails the execution outright since nothing was deployed yet;
// any later failure hands the execution to the RollbackRunner. Finished
// executions leave the active set for a capped history.
//
// # Thread Safety
//
// Executor is safe for concurrent use. Different executions interleave
// freely; phases within one execution are strictly ordered.
package executor

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

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/monitoring"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/observability"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/storage"
)

// Defaults.
const (
	DefaultMonitorInterval    = 10 * time.Second
	DefaultErrorRateThreshold = 0.05
	DefaultHistoryLimit       = 100
	DefaultStepDelay          = 500 * time.Millisecond
)

// DefaultMonitorDurations is how long the monitoring phase watches a
// deployment, by plan risk.
func DefaultMonitorDurations() map[datatypes.RiskLevel]time.Duration {
	return map[datatypes.RiskLevel]time.Duration{
		datatypes.RiskLow:      30 * time.Second,
		datatypes.RiskMedium:   60 * time.Second,
		datatypes.RiskHigh:     180 * time.Second,
		datatypes.RiskCritical: 300 * time.Second,
	}
}

var (
	// ErrNilPlan is returned when Execute is given no plan.
	ErrNilPlan = errors.New("deployment plan is nil")

	// ErrApprovalRequired is returned when executing an unapproved plan
	// that requires approval.
	ErrApprovalRequired = errors.New("deployment plan requires approval")

	// ErrExecutionNotFound is returned for unknown execution ids.
	ErrExecutionNotFound = errors.New("deployment execution not found")

	// ErrShuttingDown is returned by Execute after Shutdown.
	ErrShuttingDown = errors.New("executor is shutting down")
)

// RollbackRunner reverses a deployment. Implemented by the rollback manager.
type RollbackRunner interface {
	RollbackDeployment(ctx context.Context, req datatypes.DeploymentRollbackRequest) (*datatypes.RollbackExecution, error)
}

// Config configures an Executor. Zero values get defaults.
type Config struct {
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Archive  storage.Archive
	Clock    clock.Clock
	Monitor  monitoring.Provider
	Rollback RollbackRunner

	// Checks are merged over the built-in registry (health_check).
	Checks map[string]Check

	// Deployers are merged over the simulated defaults.
	Deployers map[datatypes.DeploymentStrategy]Deployer

	// Validator defaults to RequirementsValidator over Monitor.
	Validator Validator

	MonitorInterval    time.Duration
	MonitorDurations   map[datatypes.RiskLevel]time.Duration
	ErrorRateThreshold float64

	// PhaseTimeout bounds each phase. Zero disables it.
	PhaseTimeout time.Duration

	// StepDelay paces the simulated deployers.
	StepDelay time.Duration

	HistoryLimit int

	// OnFinished receives a snapshot of every execution as it finalizes,
	// before the terminal progress event is published.
	OnFinished func(*datatypes.DeploymentExecution)
}

// run is the executor's private state for one active execution.
type run struct {
	exec *datatypes.DeploymentExecution

	cancelCh     chan struct{}
	cancelOnce   sync.Once
	cancelReason string
	finalized    bool
}

// Executor runs deployment plans.
type Executor struct {
	cfg       Config
	logger    *slog.Logger
	clock     clock.Clock
	checks    map[string]Check
	deployers map[datatypes.DeploymentStrategy]Deployer
	validator Validator
	hub       *eventHub

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.RWMutex
	active   map[string]*run
	history  []*datatypes.DeploymentExecution
	stopping bool
}

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Archive == nil {
		cfg.Archive = storage.NopArchive{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	durations := DefaultMonitorDurations()
	for risk, d := range cfg.MonitorDurations {
		durations[risk] = d
	}
	cfg.MonitorDurations = durations
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = DefaultErrorRateThreshold
	}
	if cfg.StepDelay < 0 {
		cfg.StepDelay = 0
	} else if cfg.StepDelay == 0 {
		cfg.StepDelay = DefaultStepDelay
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	checks := map[string]Check{
		"health_check": healthCheck(cfg.Monitor, cfg.ErrorRateThreshold),
	}
	for name, c := range cfg.Checks {
		checks[name] = c
	}
	deployers := SimulatedDeployers(cfg.Clock, cfg.StepDelay)
	for s, d := range cfg.Deployers {
		deployers[s] = d
	}
	validator := cfg.Validator
	if validator == nil {
		validator = RequirementsValidator{Provider: cfg.Monitor}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "executor"),
		clock:     cfg.Clock,
		checks:    checks,
		deployers: deployers,
		validator: validator,
		hub:       newEventHub(),
		baseCtx:   ctx,
		cancelAll: cancel,
		active:    make(map[string]*run),
	}
}

// =============================================================================
// Execution
// =============================================================================

// Execute starts running plan and returns the execution id immediately.
//
// # Description
//
// The plan is cloned; later changes to the caller's copy are not seen.
// The execution runs on the executor's own context, not ctx, so it
// outlives the request that started it.
//
// # Outputs
//
//   - string: execution id, unique by construction
//   - error: ErrNilPlan, ErrApprovalRequired or ErrShuttingDown
func (e *Executor) Execute(ctx context.Context, plan *datatypes.DeploymentPlan) (string, error) {
	if plan == nil {
		return "", ErrNilPlan
	}
	if !plan.IsApproved() {
		return "", fmt.Errorf("%w: %s", ErrApprovalRequired, plan.ID)
	}

	now := e.clock.Now()
	id := fmt.Sprintf("%s-%d-%s", plan.ID, now.UnixMilli(), uuid.NewString()[:8])
	total := len(plan.PreChecks) + 1 + len(plan.PostChecks) + 1 + 1
	eta := now.Add(plan.EstimatedDuration)

	exec := &datatypes.DeploymentExecution{
		ID:      id,
		PlanID:  plan.ID,
		ModelID: plan.ModelID,
		Plan:    plan.Clone(),
		Status:  datatypes.ExecutionPending,
		Progress: datatypes.ExecutionProgress{
			Phase:               datatypes.PhaseInitializing,
			CurrentStep:         "Initializing deployment",
			TotalSteps:          total,
			StartTime:           now,
			EstimatedCompletion: &eta,
		},
		PreCheckResults:  []datatypes.CheckResult{},
		PostCheckResults: []datatypes.CheckResult{},
		StartedAt:        now,
	}
	r := &run{exec: exec, cancelCh: make(chan struct{})}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return "", ErrShuttingDown
	}
	e.active[id] = r
	e.wg.Add(1)
	e.mu.Unlock()

	e.cfg.Metrics.ExecutionStarted(string(plan.Strategy))
	e.logger.Info("deployment execution started",
		"execution_id", id,
		"plan_id", plan.ID,
		"model_id", plan.ModelID,
		"strategy", plan.Strategy,
		"total_steps", total)

	go e.drive(e.baseCtx, r)
	return id, nil
}

// =============================================================================
// Queries
// =============================================================================

// GetStatus returns an active execution, falling back to history.
func (e *Executor) GetStatus(executionID string) (*datatypes.DeploymentExecution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.active[executionID]; ok {
		return r.exec.Clone(), true
	}
	for _, h := range e.history {
		if h.ID == executionID {
			return h.Clone(), true
		}
	}
	return nil, false
}

// ListActive returns active executions newest-first.
func (e *Executor) ListActive() []*datatypes.DeploymentExecution {
	e.mu.RLock()
	out := make([]*datatypes.DeploymentExecution, 0, len(e.active))
	for _, r := range e.active {
		out = append(out, r.exec.Clone())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// History returns finished executions newest-first, filtered by model
// when modelID is set, at most limit (0 = all).
func (e *Executor) History(modelID string, limit int) []*datatypes.DeploymentExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*datatypes.DeploymentExecution
	for i := len(e.history) - 1; i >= 0; i-- {
		h := e.history[i]
		if modelID != "" && h.ModelID != modelID {
			continue
		}
		out = append(out, h.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// SeedHistory loads finished executions (newest-first) into history.
func (e *Executor) SeedHistory(execs []*datatypes.DeploymentExecution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seeded := make([]*datatypes.DeploymentExecution, 0, len(execs)+len(e.history))
	for i := len(execs) - 1; i >= 0; i-- {
		if execs[i] != nil {
			seeded = append(seeded, execs[i].Clone())
		}
	}
	seeded = append(seeded, e.history...)
	if over := len(seeded) - e.cfg.HistoryLimit; over > 0 {
		seeded = seeded[over:]
	}
	e.history = seeded
}

// Health reports the executor's state.
func (e *Executor) Health() datatypes.ComponentHealth {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status := datatypes.HealthHealthy
	if e.cfg.Rollback == nil || e.stopping {
		status = datatypes.HealthDegraded
	}
	return datatypes.ComponentHealth{
		Name:   "executor",
		Status: status,
		Details: map[string]any{
			"active_executions":   len(e.active),
			"history_size":        len(e.history),
			"registered_checks":   len(e.checks),
			"rollback_configured": e.cfg.Rollback != nil,
			"monitor_configured":  e.cfg.Monitor != nil,
		},
	}
}

// =============================================================================
// Control
// =============================================================================

// Cancel asks an active execution to stop and roll back.
//
// # Description
//
// In-flight check or deployer calls finish first; the rollback starts at
// the next phase boundary, or immediately when the execution is waiting in
// the monitoring phase. Cancelling while deploying or rolling back is
// allowed but logged as unsafe.
//
// # Outputs
//
//   - bool: false when the execution is not active
func (e *Executor) Cancel(executionID, reason string) bool {
	e.mu.Lock()
	r, ok := e.active[executionID]
	if !ok || r.finalized {
		e.mu.Unlock()
		return false
	}
	if reason == "" {
		reason = "cancelled by operator"
	}
	phase := r.exec.Progress.Phase
	if r.cancelReason == "" {
		r.cancelReason = reason
		r.exec.CancelReason = reason
	}
	e.mu.Unlock()

	if phase == datatypes.PhaseDeploying || phase == datatypes.PhaseRollingBack {
		e.logger.Warn("cancelling execution during unsafe phase",
			"execution_id", executionID, "phase", phase, "reason", reason)
	} else {
		e.logger.Info("cancelling execution", "execution_id", executionID, "phase", phase, "reason", reason)
	}
	r.cancelOnce.Do(func() { close(r.cancelCh) })
	return true
}

// Subscribe streams progress events for one execution, or for every
// execution when executionID is empty.
//
// # Description
//
// Delivery never blocks an execution; a subscriber that falls behind
// loses events. The channel closes when the execution finalizes or when
// the returned cancel func is called. Subscribing to a finished execution
// returns an already closed channel.
//
// # Outputs
//
//   - <-chan datatypes.ProgressEvent: event stream
//   - func(): unsubscribe
//   - error: ErrExecutionNotFound
func (e *Executor) Subscribe(executionID string) (<-chan datatypes.ProgressEvent, func(), error) {
	if executionID == "" {
		s, unsubscribe := e.hub.subscribe(executionID)
		return s.ch, unsubscribe, nil
	}

	// Registering under e.mu orders the subscription before finalize, which
	// removes the execution from the active set under the same lock and
	// only then closes its subscribers.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, active := e.active[executionID]; active {
		s, unsubscribe := e.hub.subscribe(executionID)
		return s.ch, unsubscribe, nil
	}
	for _, h := range e.history {
		if h.ID == executionID {
			ch := make(chan datatypes.ProgressEvent)
			close(ch)
			return ch, func() {}, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
}

// Shutdown stops accepting executions, interrupts running ones and waits
// for their goroutines.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
	e.cancelAll()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.hub.closeAll()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown: %w", ctx.Err())
	}
}
