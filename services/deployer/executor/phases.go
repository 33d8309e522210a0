// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/monitoring"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/observability"
)

// Rollback reasons recorded on the execution.
const (
	ReasonDeployFailed     = "Deployment failed"
	ReasonPostChecksFailed = "Post-deployment checks failed"
	ReasonValidationFailed = "Deployment validation failed"
	ReasonMonitoringIssues = "Monitoring detected issues"
	ReasonCancelled        = "Deployment cancelled"
)

// =============================================================================
// Phase Sequence
// =============================================================================

// drive runs one execution to a terminal state.
func (e *Executor) drive(ctx context.Context, r *run) {
	defer e.wg.Done()

	plan := r.exec.Plan
	id := r.exec.ID

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("deployment execution panicked", "execution_id", id, "panic", p)
			e.failExecution(r, fmt.Sprintf("internal error: %v", p))
		}
	}()

	ctx, span := observability.StartSpan(ctx, "executor.Execute",
		attribute.String("execution_id", id),
		attribute.String("model_id", plan.ModelID),
		attribute.String("strategy", string(plan.Strategy)))
	defer span.End()

	// Pre-checks. Nothing is deployed yet, so failure ends the execution.
	if !e.enterPhase(ctx, r, datatypes.PhasePreChecks, "Running pre-deployment checks") {
		return
	}
	start := e.clock.Now()
	failed := e.runChecks(ctx, r, plan.PreChecks, true)
	e.cfg.Metrics.ObservePhase(string(datatypes.PhasePreChecks), e.clock.Now().Sub(start))
	if failed != "" {
		e.failExecution(r, fmt.Sprintf("Pre-deployment check %s failed", failed))
		return
	}

	// Deploy.
	if !e.enterPhase(ctx, r, datatypes.PhaseDeploying, fmt.Sprintf("Deploying %s with %s strategy", plan.TargetVersion, plan.Strategy)) {
		return
	}
	if err := e.deploy(ctx, r); err != nil {
		e.triggerRollback(ctx, r, ReasonDeployFailed, err.Error(), datatypes.TriggerHealthCheckFailure)
		return
	}

	// Post-checks.
	if !e.enterPhase(ctx, r, datatypes.PhasePostChecks, "Running post-deployment checks") {
		return
	}
	start = e.clock.Now()
	failed = e.runChecks(ctx, r, plan.PostChecks, false)
	e.cfg.Metrics.ObservePhase(string(datatypes.PhasePostChecks), e.clock.Now().Sub(start))
	if failed != "" {
		e.triggerRollback(ctx, r, ReasonPostChecksFailed, fmt.Sprintf("check %s failed", failed), datatypes.TriggerHealthCheckFailure)
		return
	}

	// Validate.
	if !e.enterPhase(ctx, r, datatypes.PhaseValidating, "Validating deployment") {
		return
	}
	if outcome := e.validate(ctx, r); !outcome.Passed() {
		e.triggerRollback(ctx, r, ReasonValidationFailed, strings.Join(outcome.Issues, "; "), datatypes.TriggerPerformanceDegradation)
		return
	}

	// Monitor.
	if !e.enterPhase(ctx, r, datatypes.PhaseMonitoring, "Monitoring deployment") {
		return
	}
	start = e.clock.Now()
	issue := e.monitor(ctx, r)
	e.cfg.Metrics.ObservePhase(string(datatypes.PhaseMonitoring), e.clock.Now().Sub(start))
	if issue != "" {
		e.triggerRollback(ctx, r, ReasonMonitoringIssues, issue, datatypes.TriggerErrorRateSpike)
		return
	}
	e.stepDone(r)

	if !e.checkpoint(ctx, r) {
		return
	}
	e.complete(r)
	observability.SetSpanOK(span)
}

// checkpoint is evaluated at every phase boundary. It returns false when
// the execution was ended by cancellation or shutdown.
func (e *Executor) checkpoint(ctx context.Context, r *run) bool {
	if ctx.Err() != nil {
		e.failExecution(r, "Execution interrupted: "+ErrShuttingDown.Error())
		return false
	}
	select {
	case <-r.cancelCh:
		e.mu.RLock()
		reason := r.cancelReason
		e.mu.RUnlock()
		e.triggerRollback(ctx, r, ReasonCancelled, reason, datatypes.TriggerManual)
		return false
	default:
		return true
	}
}

func (e *Executor) enterPhase(ctx context.Context, r *run, phase datatypes.ExecutionPhase, step string) bool {
	if !e.checkpoint(ctx, r) {
		return false
	}
	e.update(r, func(x *datatypes.DeploymentExecution) {
		x.Status = datatypes.ExecutionInProgress
		x.Progress.Phase = phase
		x.Progress.CurrentStep = step
	})
	e.logger.Debug("phase started", "execution_id", r.exec.ID, "phase", phase)
	return true
}

func (e *Executor) phaseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.PhaseTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.PhaseTimeout)
	}
	return context.WithCancel(ctx)
}

// =============================================================================
// Phases
// =============================================================================

// runChecks runs names in order and returns the first failing check name.
func (e *Executor) runChecks(ctx context.Context, r *run, names []string, pre bool) string {
	ctx, cancel := e.phaseContext(ctx)
	defer cancel()

	for _, name := range names {
		e.setStep(r, "Running check "+name)
		res := e.runCheck(ctx, r.exec.Plan, name)
		e.update(r, func(x *datatypes.DeploymentExecution) {
			if pre {
				x.PreCheckResults = append(x.PreCheckResults, res)
			} else {
				x.PostCheckResults = append(x.PostCheckResults, res)
			}
		})
		e.stepDone(r)
		if !res.Success {
			e.logger.Warn("deployment check failed",
				"execution_id", r.exec.ID, "check", name, "message", res.Message)
			return name
		}
	}
	return ""
}

func (e *Executor) runCheck(ctx context.Context, plan *datatypes.DeploymentPlan, name string) datatypes.CheckResult {
	check, ok := e.checks[name]
	if !ok {
		return datatypes.CheckResult{
			Name:    name,
			Success: true,
			Message: "no check registered; skipped",
			Details: map[string]any{"stub": true},
		}
	}
	start := e.clock.Now()
	err := check.Run(ctx, plan)
	res := datatypes.CheckResult{
		Name:     name,
		Success:  err == nil,
		Message:  "passed",
		Duration: e.clock.Now().Sub(start),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

func (e *Executor) deploy(ctx context.Context, r *run) error {
	plan := r.exec.Plan
	deployer, ok := e.deployers[plan.Strategy]
	if !ok {
		deployer = stubDeployer
	}

	pctx, cancel := e.phaseContext(ctx)
	defer cancel()

	var (
		stepsMu sync.Mutex
		steps   []string
	)
	start := e.clock.Now()
	err := deployer.Deploy(pctx, plan, func(step string) {
		stepsMu.Lock()
		steps = append(steps, step)
		stepsMu.Unlock()
		e.setStep(r, step)
	})
	elapsed := e.clock.Now().Sub(start)
	e.cfg.Metrics.ObservePhase(string(datatypes.PhaseDeploying), elapsed)

	stepsMu.Lock()
	res := &datatypes.StrategyResult{
		Strategy: plan.Strategy,
		Success:  err == nil,
		Message:  fmt.Sprintf("deployed %s", plan.TargetVersion),
		Steps:    append([]string(nil), steps...),
		Duration: elapsed,
	}
	stepsMu.Unlock()
	if err != nil {
		res.Message = err.Error()
		e.logger.Warn("deployment strategy failed", "execution_id", r.exec.ID, "strategy", plan.Strategy, "error", err)
	}
	e.update(r, func(x *datatypes.DeploymentExecution) { x.DeploymentResult = res })
	e.stepDone(r)
	return err
}

func (e *Executor) validate(ctx context.Context, r *run) datatypes.ValidationOutcome {
	pctx, cancel := e.phaseContext(ctx)
	defer cancel()

	start := e.clock.Now()
	outcome := e.validator.Validate(pctx, r.exec.Plan)
	e.cfg.Metrics.ObservePhase(string(datatypes.PhaseValidating), e.clock.Now().Sub(start))

	e.update(r, func(x *datatypes.DeploymentExecution) {
		o := outcome
		o.Issues = append([]string(nil), outcome.Issues...)
		x.ValidationResult = &o
	})
	e.stepDone(r)
	if !outcome.Passed() {
		e.logger.Warn("deployment validation failed", "execution_id", r.exec.ID, "issues", outcome.Issues)
	}
	return outcome
}

// monitor polls the provider immediately and then every interval until
// the risk-keyed duration elapses. It returns a description of the first
// issue found, or "" when the window passed cleanly, was cut short by
// cancellation, or no provider is configured.
func (e *Executor) monitor(ctx context.Context, r *run) string {
	if e.cfg.Monitor == nil {
		return ""
	}
	plan := r.exec.Plan
	window, ok := e.cfg.MonitorDurations[plan.RiskLevel]
	if !ok {
		window = e.cfg.MonitorDurations[datatypes.RiskCritical]
	}
	deadline := e.clock.Now().Add(window)

	for poll := 1; ; poll++ {
		e.setStep(r, fmt.Sprintf("Monitoring poll %d", poll))
		if issue := e.poll(ctx, r); issue != "" {
			return issue
		}
		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			return ""
		}
		select {
		case <-e.clock.After(min(e.cfg.MonitorInterval, remaining)):
		case <-r.cancelCh:
			return ""
		case <-ctx.Done():
			return ""
		}
	}
}

func (e *Executor) poll(ctx context.Context, r *run) string {
	m, err := e.cfg.Monitor.GetCurrentMetrics(ctx, r.exec.ModelID)
	if err == nil && m == nil {
		err = monitoring.ErrMetricsUnavailable
	}
	if err != nil {
		e.cfg.Metrics.RecordMetricsUnavailable("executor")
		e.logger.Debug("metrics unavailable during monitoring; continuing",
			"execution_id", r.exec.ID, "error", err)
		return ""
	}
	if rate, ok := m.Value(datatypes.MetricErrorRate); ok && rate > e.cfg.ErrorRateThreshold {
		e.logger.Warn("error rate above threshold during monitoring",
			"execution_id", r.exec.ID,
			"error_rate", rate,
			"threshold", e.cfg.ErrorRateThreshold)
		return fmt.Sprintf("error rate %.4f exceeds %.4f", rate, e.cfg.ErrorRateThreshold)
	}
	return ""
}

// =============================================================================
// Terminal Transitions
// =============================================================================

// triggerRollback hands the execution to the rollback runner and finalizes
// it as rolled back or failed.
func (e *Executor) triggerRollback(ctx context.Context, r *run, reason, detail string, trigger datatypes.TriggerType) {
	plan := r.exec.Plan
	message := reason
	if detail != "" {
		message = reason + ": " + detail
	}
	e.update(r, func(x *datatypes.DeploymentExecution) {
		x.RollbackTriggered = true
		x.RollbackReason = reason
		x.Progress.Phase = datatypes.PhaseRollingBack
		x.Progress.CurrentStep = "Rolling back: " + reason
		x.Progress.ErrorMessage = message
	})
	e.logger.Warn("rolling back deployment",
		"execution_id", r.exec.ID,
		"model_id", plan.ModelID,
		"reason", reason,
		"detail", detail,
		"strategy", plan.RollbackStrategy)

	ctx, span := observability.StartSpan(ctx, "executor.Rollback",
		attribute.String("execution_id", r.exec.ID),
		attribute.String("reason", reason))
	defer span.End()

	start := e.clock.Now()
	var (
		rb  *datatypes.RollbackExecution
		err error
	)
	if e.cfg.Rollback == nil {
		err = errors.New("no rollback runner configured")
	} else {
		rb, err = e.cfg.Rollback.RollbackDeployment(ctx, datatypes.DeploymentRollbackRequest{
			ExecutionID: r.exec.ID,
			ModelID:     plan.ModelID,
			FromVersion: plan.TargetVersion,
			ToVersion:   plan.SourceVersion,
			Strategy:    plan.RollbackStrategy,
			Trigger:     trigger,
			Reason:      message,
		})
	}
	e.cfg.Metrics.ObservePhase(string(datatypes.PhaseRollingBack), e.clock.Now().Sub(start))

	if err == nil && (rb == nil || !rb.Success) {
		err = errors.New("rollback did not succeed")
		if rb != nil && rb.ErrorMessage != "" {
			err = errors.New(rb.ErrorMessage)
		}
	}

	e.update(r, func(x *datatypes.DeploymentExecution) {
		if rb != nil {
			x.RollbackID = rb.ID
		}
		if err == nil {
			x.RollbackCompleted = true
			x.Status = datatypes.ExecutionRolledBack
			x.Progress.Phase = datatypes.PhaseCompleted
			x.Progress.CurrentStep = "Rolled back to " + plan.SourceVersion
			return
		}
		x.Status = datatypes.ExecutionFailed
		x.Progress.Phase = datatypes.PhaseFailed
		x.Progress.CurrentStep = "Rollback failed"
		x.Progress.ErrorMessage = message + "; rollback failed: " + err.Error()
	})
	if err != nil {
		observability.RecordError(span, err)
		e.logger.Error("rollback of deployment failed", "execution_id", r.exec.ID, "error", err)
	}
	e.finalize(r)
}

func (e *Executor) failExecution(r *run, message string) {
	e.update(r, func(x *datatypes.DeploymentExecution) {
		x.Status = datatypes.ExecutionFailed
		x.Progress.Phase = datatypes.PhaseFailed
		x.Progress.CurrentStep = "Failed"
		x.Progress.ErrorMessage = message
	})
	e.finalize(r)
}

func (e *Executor) complete(r *run) {
	e.update(r, func(x *datatypes.DeploymentExecution) {
		x.Status = datatypes.ExecutionCompleted
		x.Progress.Phase = datatypes.PhaseCompleted
		x.Progress.CurrentStep = "Deployment completed"
		x.Progress.CompletedSteps = x.Progress.TotalSteps
		x.Progress.ProgressPercent = 100
		x.Progress.Success = true
	})
	e.finalize(r)
}

// finalize moves the execution from the active set into history. Only the
// first call has any effect.
func (e *Executor) finalize(r *run) {
	e.mu.Lock()
	if r.finalized {
		e.mu.Unlock()
		return
	}
	r.finalized = true
	now := e.clock.Now()
	r.exec.CompletedAt = &now
	delete(e.active, r.exec.ID)
	e.history = append(e.history, r.exec)
	if over := len(e.history) - e.cfg.HistoryLimit; over > 0 {
		e.history = append([]*datatypes.DeploymentExecution(nil), e.history[over:]...)
	}
	snap := r.exec.Clone()
	e.mu.Unlock()

	e.cfg.Metrics.ExecutionFinished(string(snap.Status))
	if err := e.cfg.Archive.SaveExecution(context.Background(), snap); err != nil {
		e.logger.Warn("failed to archive execution", "execution_id", snap.ID, "error", err)
	}
	e.logger.Info("deployment execution finished",
		"execution_id", snap.ID,
		"model_id", snap.ModelID,
		"status", snap.Status,
		"phase", snap.Progress.Phase,
		"rollback_triggered", snap.RollbackTriggered,
		"duration", now.Sub(snap.StartedAt))

	// The hook runs before the terminal event so subscribers observe its
	// effects.
	if e.cfg.OnFinished != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					e.logger.Error("OnFinished hook panicked", "execution_id", snap.ID, "panic", p)
				}
			}()
			e.cfg.OnFinished(snap)
		}()
	}

	e.hub.publish(snap.Event(now))
	e.hub.closeExecution(snap.ID)
}

// =============================================================================
// Progress
// =============================================================================

// update applies fn to an unfinalized execution and publishes the result.
func (e *Executor) update(r *run, fn func(*datatypes.DeploymentExecution)) {
	e.mu.Lock()
	if r.finalized {
		e.mu.Unlock()
		return
	}
	fn(r.exec)
	ev := r.exec.Event(e.clock.Now())
	e.mu.Unlock()
	e.hub.publish(ev)
}

func (e *Executor) setStep(r *run, step string) {
	e.update(r, func(x *datatypes.DeploymentExecution) { x.Progress.CurrentStep = step })
}

// stepDone counts one finished step. The percentage never decreases.
func (e *Executor) stepDone(r *run) {
	e.update(r, func(x *datatypes.DeploymentExecution) {
		p := &x.Progress
		if p.CompletedSteps < p.TotalSteps {
			p.CompletedSteps++
		}
		if p.TotalSteps > 0 {
			pct := float64(p.CompletedSteps) / float64(p.TotalSteps) * 100
			p.ProgressPercent = math.Max(p.ProgressPercent, math.Round(pct*100)/100)
		}
	})
}
