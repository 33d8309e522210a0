// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator is the public surface of the deployer.
//
// # Description
//
// The Orchestrator wires the plan manager, the deployment executor and the
// rollback manager together and exposes the operations the HTTP API and
// the CLI consume. It owns none of the state itself; every read and write
// goes through the owning component.
//
// Every public method recovers panics, logs them with a stack and returns
// ErrInternal (or the zero result for methods without an error), so one
// model's failure never takes the service down.
//
// # Usage
//
//	o := orchestrator.New(orchestrator.Config{Monitor: provider})
//	if err := o.Start(ctx); err != nil {
//	    return err
//	}
//	defer o.Shutdown(context.Background())
//
//	plan, err := o.PlanDeployment(ctx, req)
//	execID, err := o.ExecuteDeployment(ctx, plan.ID)
//
// # Thread Safety
//
// Orchestrator is safe for concurrent use.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianDeploy/pkg/extensions"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/executor"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/monitoring"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/observability"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/planning"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/rollback"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/storage"
)

// Defaults.
const (
	DefaultRecentLimit   = 10
	DefaultPingTimeout   = 2 * time.Second
	DefaultWarmStartSize = 100
)

var (
	// ErrInternal is returned when an operation hit an unexpected fault.
	ErrInternal = errors.New("internal orchestrator error")

	// ErrRollbackNotFound is returned for unknown rollback ids.
	ErrRollbackNotFound = errors.New("rollback not found")

	// ErrMetricsWriteUnsupported is returned by RecordMetrics when the
	// monitoring provider does not accept pushed snapshots.
	ErrMetricsWriteUnsupported = errors.New("monitoring provider does not accept metrics")

	// Re-exported so callers need only this package for errors.Is.
	ErrPlanNotFound      = planning.ErrPlanNotFound
	ErrPlanRetired       = planning.ErrPlanRetired
	ErrApprovalRequired  = executor.ErrApprovalRequired
	ErrExecutionNotFound = executor.ErrExecutionNotFound
)

// PlanInvalidError is returned by ExecuteDeployment for a plan that fails
// validation.
type PlanInvalidError struct {
	PlanID string
	Result datatypes.ValidationResult
}

func (e *PlanInvalidError) Error() string {
	return fmt.Sprintf("deployment plan %s is invalid: %s", e.PlanID, strings.Join(e.Result.Errors, "; "))
}

// Config configures an Orchestrator.
//
// Executor and Rollback carry component tuning. Logger, Metrics, Archive,
// Clock and Monitor are shared and override the matching fields in them.
type Config struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Archive storage.Archive
	Clock   clock.Clock
	Monitor monitoring.Provider

	// Audit receives an event for every state-changing operation. Nil
	// disables auditing.
	Audit extensions.AuditLogger

	PlanHistoryLimit int
	Executor         executor.Config
	Rollback         rollback.Config

	// RecentLimit bounds the recent lists in GetModelDeploymentStatus.
	RecentLimit int

	// WarmStartSize is how many archived records of each kind Start loads.
	WarmStartSize int
}

// Orchestrator coordinates planning, execution and rollback.
type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	archive  storage.Archive
	monitor  monitoring.Provider
	audit    extensions.AuditLogger
	plans    *planning.Manager
	exec     *executor.Executor
	rollback *rollback.Manager
}

// New wires the three components together.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Archive == nil {
		cfg.Archive = storage.NopArchive{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Audit == nil {
		cfg.Audit = extensions.NopAuditLogger{}
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultRecentLimit
	}
	if cfg.WarmStartSize <= 0 {
		cfg.WarmStartSize = DefaultWarmStartSize
	}

	o := &Orchestrator{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "orchestrator"),
		archive: cfg.Archive,
		monitor: cfg.Monitor,
		audit:   cfg.Audit,
	}

	o.plans = planning.NewManager(planning.Config{
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
		Archive:      cfg.Archive,
		Clock:        cfg.Clock,
		HistoryLimit: cfg.PlanHistoryLimit,
	})

	rbCfg := cfg.Rollback
	rbCfg.Logger, rbCfg.Metrics, rbCfg.Archive, rbCfg.Clock = cfg.Logger, cfg.Metrics, cfg.Archive, cfg.Clock
	rbCfg.Provider = cfg.Monitor
	rbCfg.OnFinished = o.onRollbackFinished
	o.rollback = rollback.NewManager(rbCfg)

	exCfg := cfg.Executor
	exCfg.Logger, exCfg.Metrics, exCfg.Archive, exCfg.Clock = cfg.Logger, cfg.Metrics, cfg.Archive, cfg.Clock
	exCfg.Monitor = cfg.Monitor
	exCfg.Rollback = o.rollback
	exCfg.OnFinished = o.onExecutionFinished
	o.exec = executor.New(exCfg)

	return o
}

// recoverOp converts a panic in a public operation into ErrInternal.
func (o *Orchestrator) recoverOp(op string, errp *error) {
	if p := recover(); p != nil {
		o.logger.Error("operation panicked",
			"operation", op,
			"panic", fmt.Sprint(p),
			"stack", string(debug.Stack()))
		if errp != nil {
			*errp = fmt.Errorf("%w: %s", ErrInternal, op)
		}
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start loads archived history and starts the rollback watch loop.
//
// # Description
//
// Archive read failures are logged and ignored; the service starts with
// whatever history it could load.
func (o *Orchestrator) Start(ctx context.Context) (err error) {
	defer o.recoverOp("Start", &err)

	n := o.cfg.WarmStartSize
	if plans, lerr := o.archive.LoadPlans(ctx, n); lerr != nil {
		o.logger.Warn("failed to load archived plans", "error", lerr)
	} else {
		o.plans.SeedHistory(plans)
	}
	if execs, lerr := o.archive.LoadExecutions(ctx, n); lerr != nil {
		o.logger.Warn("failed to load archived executions", "error", lerr)
	} else {
		o.exec.SeedHistory(execs)
	}
	if rbs, lerr := o.archive.LoadRollbacks(ctx, n); lerr != nil {
		o.logger.Warn("failed to load archived rollbacks", "error", lerr)
	} else {
		o.rollback.SeedHistory(rbs)
	}

	if err := o.rollback.StartMonitoring(ctx); err != nil && !errors.Is(err, rollback.ErrMonitoringActive) {
		return err
	}
	o.logger.Info("orchestrator started")
	return nil
}

// Shutdown stops the watch loop, then interrupts and waits for running
// executions.
func (o *Orchestrator) Shutdown(ctx context.Context) (err error) {
	defer o.recoverOp("Shutdown", &err)
	o.rollback.StopMonitoring()
	if err := o.exec.Shutdown(ctx); err != nil {
		return fmt.Errorf("executor shutdown: %w", err)
	}
	o.logger.Info("orchestrator stopped")
	return nil
}

// onExecutionFinished updates planning and rollback state after a
// successful deployment.
func (o *Orchestrator) onExecutionFinished(x *datatypes.DeploymentExecution) {
	ctx := context.Background()
	outcome := extensions.OutcomeSuccess
	if x.Status != datatypes.ExecutionCompleted {
		outcome = extensions.OutcomeFailure
	}
	o.record(ctx, extensions.AuditEvent{
		EventType:    extensions.EventDeploymentFinished,
		Actor:        extensions.ActorSystem,
		ResourceType: extensions.ResourceDeployment,
		ResourceID:   x.ID,
		ModelID:      x.ModelID,
		Outcome:      outcome,
		Metadata: map[string]any{
			"status":             string(x.Status),
			"plan_id":            x.PlanID,
			"rollback_triggered": x.RollbackTriggered,
		},
	})

	if x.Status != datatypes.ExecutionCompleted || x.Plan == nil {
		return
	}
	plan := x.Plan

	if n := o.plans.SupersedePlans(ctx, plan.ModelID, plan.ID); n > 0 {
		o.logger.Debug("plans superseded by completed deployment", "model_id", plan.ModelID, "count", n)
	}
	if pm := plan.Metadata.TargetMetadata.PerformanceMetrics; len(pm) > 0 {
		o.plans.SetBaseline(plan.ModelID, pm)
	}
	o.rollback.RecordDeployment(plan.ModelID, plan.TargetVersion, plan.SourceVersion)
}

// onRollbackFinished audits every finished rollback, manual or automatic.
func (o *Orchestrator) onRollbackFinished(rb *datatypes.RollbackExecution) {
	outcome := extensions.OutcomeSuccess
	if !rb.Success {
		outcome = extensions.OutcomeFailure
	}
	actor := extensions.ActorSystem
	if rb.Trigger == datatypes.TriggerManual {
		actor = ""
	}
	md := map[string]any{
		"trigger":      string(rb.Trigger),
		"strategy":     string(rb.Strategy),
		"from_version": rb.FromVersion,
		"to_version":   rb.ToVersion,
	}
	if rb.DeploymentExecutionID != "" {
		md["deployment_id"] = rb.DeploymentExecutionID
	}
	if rb.ErrorMessage != "" {
		md["error"] = rb.ErrorMessage
	}
	o.record(context.Background(), extensions.AuditEvent{
		EventType:    extensions.EventRollbackFinished,
		Actor:        actor,
		ResourceType: extensions.ResourceRollback,
		ResourceID:   rb.ID,
		ModelID:      rb.ModelID,
		Outcome:      outcome,
		Metadata:     md,
	})
}

// record writes an audit event. Audit failures are logged, never returned.
func (o *Orchestrator) record(ctx context.Context, ev extensions.AuditEvent) {
	if err := o.audit.Log(ctx, ev); err != nil {
		o.logger.Warn("failed to record audit event",
			"event_type", ev.EventType, "resource_id", ev.ResourceID, "error", err)
	}
}

// outcomeOf maps an operation error to an audit outcome.
func outcomeOf(err error) string {
	if err != nil {
		return extensions.OutcomeFailure
	}
	return extensions.OutcomeSuccess
}

func errorMetadata(err error, md map[string]any) map[string]any {
	if err == nil {
		return md
	}
	if md == nil {
		md = map[string]any{}
	}
	md["error"] = err.Error()
	return md
}

// =============================================================================
// Plans
// =============================================================================

// PlanDeployment creates a deployment plan.
func (o *Orchestrator) PlanDeployment(ctx context.Context, req datatypes.PlanRequest) (plan *datatypes.DeploymentPlan, err error) {
	defer o.recoverOp("PlanDeployment", &err)
	ctx, span := observability.StartSpan(ctx, "orchestrator.PlanDeployment",
		attribute.String("model_id", req.ModelID))
	defer span.End()

	plan, err = o.plans.CreatePlan(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		o.logger.Warn("plan deployment failed", "model_id", req.ModelID, "error", err)
		o.record(ctx, extensions.AuditEvent{
			EventType:    extensions.EventPlanCreate,
			ResourceType: extensions.ResourcePlan,
			ModelID:      req.ModelID,
			Outcome:      extensions.OutcomeFailure,
			Metadata:     errorMetadata(err, nil),
		})
		return nil, err
	}
	o.record(ctx, extensions.AuditEvent{
		EventType:    extensions.EventPlanCreate,
		ResourceType: extensions.ResourcePlan,
		ResourceID:   plan.ID,
		ModelID:      plan.ModelID,
		Outcome:      extensions.OutcomeSuccess,
		Metadata: map[string]any{
			"source_version": plan.SourceVersion,
			"target_version": plan.TargetVersion,
			"strategy":       string(plan.Strategy),
			"risk_level":     string(plan.RiskLevel),
		},
	})
	return plan, nil
}

// GetDeploymentPlan returns a plan, active or retired.
func (o *Orchestrator) GetDeploymentPlan(planID string) (plan *datatypes.DeploymentPlan, err error) {
	defer o.recoverOp("GetDeploymentPlan", &err)
	p, ok := o.plans.GetPlan(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return p, nil
}

// ListDeploymentPlans returns active plans newest-first.
func (o *Orchestrator) ListDeploymentPlans(modelID string) (plans []*datatypes.DeploymentPlan) {
	defer o.recoverOp("ListDeploymentPlans", nil)
	return o.plans.ListPlans(modelID)
}

// ValidateDeploymentPlan validates a plan.
func (o *Orchestrator) ValidateDeploymentPlan(planID string) (res datatypes.ValidationResult, err error) {
	defer o.recoverOp("ValidateDeploymentPlan", &err)
	return o.plans.ValidatePlan(planID)
}

// ApproveDeploymentPlan records approval. Returns true when the plan may
// now be executed.
func (o *Orchestrator) ApproveDeploymentPlan(planID, approver string) (ok bool, err error) {
	defer o.recoverOp("ApproveDeploymentPlan", &err)
	ok, err = o.plans.ApprovePlan(planID, approver)
	outcome := outcomeOf(err)
	if err == nil && !ok {
		outcome = extensions.OutcomeDenied
	}
	o.record(context.Background(), extensions.AuditEvent{
		EventType:    extensions.EventPlanApprove,
		Actor:        approver,
		ResourceType: extensions.ResourcePlan,
		ResourceID:   planID,
		ModelID:      o.planModel(planID),
		Outcome:      outcome,
		Metadata:     errorMetadata(err, nil),
	})
	return ok, err
}

// CancelDeploymentPlan retires an active plan.
func (o *Orchestrator) CancelDeploymentPlan(ctx context.Context, planID, reason string) (err error) {
	defer o.recoverOp("CancelDeploymentPlan", &err)
	err = o.plans.CancelPlan(ctx, planID, reason)
	o.record(ctx, extensions.AuditEvent{
		EventType:    extensions.EventPlanCancel,
		ResourceType: extensions.ResourcePlan,
		ResourceID:   planID,
		ModelID:      o.planModel(planID),
		Outcome:      outcomeOf(err),
		Metadata:     errorMetadata(err, map[string]any{"reason": reason}),
	})
	return err
}

// planModel returns the model of a known plan, or "".
func (o *Orchestrator) planModel(planID string) string {
	if p, ok := o.plans.GetPlan(planID); ok {
		return p.ModelID
	}
	return ""
}

// SetBaseline replaces the model's risk assessment baseline.
func (o *Orchestrator) SetBaseline(modelID string, metrics map[string]float64) {
	defer o.recoverOp("SetBaseline", nil)
	o.plans.SetBaseline(modelID, metrics)
	o.record(context.Background(), extensions.AuditEvent{
		EventType:    extensions.EventBaselineSet,
		ResourceType: extensions.ResourceModel,
		ResourceID:   modelID,
		ModelID:      modelID,
		Outcome:      extensions.OutcomeSuccess,
		Metadata:     map[string]any{"metrics": len(metrics)},
	})
}

// =============================================================================
// Deployments
// =============================================================================

// ExecuteDeployment starts executing a plan.
//
// # Description
//
// The plan must be active, valid, and approved when approval is required.
// Nothing is mutated when any of these preconditions fail.
//
// # Outputs
//
//   - string: execution id
//   - error: ErrPlanNotFound, ErrPlanRetired, *PlanInvalidError,
//     ErrApprovalRequired or executor.ErrShuttingDown
func (o *Orchestrator) ExecuteDeployment(ctx context.Context, planID string) (id string, err error) {
	defer o.recoverOp("ExecuteDeployment", &err)
	ctx, span := observability.StartSpan(ctx, "orchestrator.ExecuteDeployment",
		attribute.String("plan_id", planID))
	defer span.End()

	plan, ok := o.plans.GetPlan(planID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if !o.plans.IsActive(planID) {
		return "", fmt.Errorf("%w: %s", ErrPlanRetired, planID)
	}

	res, err := o.plans.ValidatePlan(planID)
	if err != nil {
		return "", err
	}
	if !res.IsValid {
		o.logger.Warn("refusing to execute invalid plan", "plan_id", planID, "errors", res.Errors)
		return "", &PlanInvalidError{PlanID: planID, Result: res}
	}

	id, err = o.exec.Execute(ctx, plan)
	if err != nil {
		observability.RecordError(span, err)
		o.logger.Warn("execute deployment refused", "plan_id", planID, "error", err)
		o.record(ctx, extensions.AuditEvent{
			EventType:    extensions.EventDeploymentExecute,
			ResourceType: extensions.ResourcePlan,
			ResourceID:   planID,
			ModelID:      plan.ModelID,
			Outcome:      extensions.OutcomeFailure,
			Metadata:     errorMetadata(err, nil),
		})
		return "", err
	}
	span.SetAttributes(attribute.String("execution_id", id))
	o.record(ctx, extensions.AuditEvent{
		EventType:    extensions.EventDeploymentExecute,
		ResourceType: extensions.ResourceDeployment,
		ResourceID:   id,
		ModelID:      plan.ModelID,
		Outcome:      extensions.OutcomeSuccess,
		Metadata:     map[string]any{"plan_id": planID},
	})
	return id, nil
}

// GetDeploymentStatus returns an execution, active or finished.
func (o *Orchestrator) GetDeploymentStatus(executionID string) (x *datatypes.DeploymentExecution, err error) {
	defer o.recoverOp("GetDeploymentStatus", &err)
	x, ok := o.exec.GetStatus(executionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return x, nil
}

// CancelDeployment asks a running execution to roll back.
func (o *Orchestrator) CancelDeployment(executionID, reason string) (ok bool) {
	defer o.recoverOp("CancelDeployment", nil)
	ok = o.exec.Cancel(executionID, reason)
	ev := extensions.AuditEvent{
		EventType:    extensions.EventDeploymentCancel,
		ResourceType: extensions.ResourceDeployment,
		ResourceID:   executionID,
		Outcome:      extensions.OutcomeSuccess,
		Metadata:     map[string]any{"reason": reason},
	}
	if !ok {
		ev.Outcome = extensions.OutcomeDenied
	}
	if x, found := o.exec.GetStatus(executionID); found {
		ev.ModelID = x.ModelID
	}
	o.record(context.Background(), ev)
	return ok
}

// ListDeployments returns active executions followed by finished ones,
// each group newest-first.
func (o *Orchestrator) ListDeployments(modelID string) (out []*datatypes.DeploymentExecution) {
	defer o.recoverOp("ListDeployments", nil)
	out = []*datatypes.DeploymentExecution{}
	for _, x := range o.exec.ListActive() {
		if modelID == "" || x.ModelID == modelID {
			out = append(out, x)
		}
	}
	return append(out, o.exec.History(modelID, 0)...)
}

// Subscribe streams progress events; see executor.Executor.Subscribe.
func (o *Orchestrator) Subscribe(executionID string) (ch <-chan datatypes.ProgressEvent, cancel func(), err error) {
	defer o.recoverOp("Subscribe", &err)
	return o.exec.Subscribe(executionID)
}

// =============================================================================
// Rollbacks
// =============================================================================

// TriggerRollback runs a manual rollback and returns the finished record.
func (o *Orchestrator) TriggerRollback(ctx context.Context, req datatypes.RollbackRequest) (rb *datatypes.RollbackExecution, err error) {
	defer o.recoverOp("TriggerRollback", &err)
	ctx, span := observability.StartSpan(ctx, "orchestrator.TriggerRollback",
		attribute.String("model_id", req.ModelID))
	defer span.End()

	rb, err = o.rollback.TriggerManualRollback(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return rb, nil
}

// GetRollbackStatus returns a rollback, active or finished.
func (o *Orchestrator) GetRollbackStatus(rollbackID string) (rb *datatypes.RollbackExecution, err error) {
	defer o.recoverOp("GetRollbackStatus", &err)
	rb, ok := o.rollback.GetRollback(rollbackID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRollbackNotFound, rollbackID)
	}
	return rb, nil
}

// ListRollbacks returns active rollbacks followed by finished ones, each
// group newest-first.
func (o *Orchestrator) ListRollbacks(modelID string) (out []*datatypes.RollbackExecution) {
	defer o.recoverOp("ListRollbacks", nil)
	out = append([]*datatypes.RollbackExecution{}, o.rollback.ListActive(modelID)...)
	return append(out, o.rollback.History(modelID, 0)...)
}

// AddModelMonitoring registers a model with the rollback watch loop.
func (o *Orchestrator) AddModelMonitoring(req datatypes.MonitoringRequest) (err error) {
	defer o.recoverOp("AddModelMonitoring", &err)
	err = o.rollback.AddModelMonitoring(req.ModelID, req.CurrentVersion, req.VersionHistory)
	o.record(context.Background(), extensions.AuditEvent{
		EventType:    extensions.EventMonitoringAdd,
		ResourceType: extensions.ResourceModel,
		ResourceID:   req.ModelID,
		ModelID:      req.ModelID,
		Outcome:      outcomeOf(err),
		Metadata:     errorMetadata(err, map[string]any{"current_version": req.CurrentVersion}),
	})
	return err
}

// RemoveModelMonitoring takes a model out of the watch loop.
func (o *Orchestrator) RemoveModelMonitoring(modelID string) (ok bool) {
	defer o.recoverOp("RemoveModelMonitoring", nil)
	ok = o.rollback.RemoveModelMonitoring(modelID)
	outcome := extensions.OutcomeSuccess
	if !ok {
		outcome = extensions.OutcomeDenied
	}
	o.record(context.Background(), extensions.AuditEvent{
		EventType:    extensions.EventMonitoringRemove,
		ResourceType: extensions.ResourceModel,
		ResourceID:   modelID,
		ModelID:      modelID,
		Outcome:      outcome,
	})
	return ok
}

// RollbackRules returns the active rule set.
func (o *Orchestrator) RollbackRules() (rules []datatypes.RollbackRule) {
	defer o.recoverOp("RollbackRules", nil)
	return o.rollback.Rules()
}

// AddRollbackRule adds one rule, replacing any rule with the same id.
func (o *Orchestrator) AddRollbackRule(rule datatypes.RollbackRule) (err error) {
	defer o.recoverOp("AddRollbackRule", &err)
	err = o.rollback.AddRule(rule)
	o.record(context.Background(), extensions.AuditEvent{
		EventType:    extensions.EventRuleAdd,
		ResourceType: extensions.ResourceRules,
		ResourceID:   rule.ID,
		Outcome:      outcomeOf(err),
		Metadata: errorMetadata(err, map[string]any{
			"trigger":   string(rule.Trigger),
			"threshold": rule.Threshold,
		}),
	})
	return err
}

// RemoveRollbackRule deletes one rule. Returns rollback.ErrRuleNotFound
// for an unknown id.
func (o *Orchestrator) RemoveRollbackRule(ruleID string) (err error) {
	defer o.recoverOp("RemoveRollbackRule", &err)
	err = o.rollback.RemoveRule(ruleID)
	o.record(context.Background(), extensions.AuditEvent{
		EventType:    extensions.EventRuleRemove,
		ResourceType: extensions.ResourceRules,
		ResourceID:   ruleID,
		Outcome:      outcomeOf(err),
		Metadata:     errorMetadata(err, nil),
	})
	return err
}

// ReplaceRollbackRules swaps the whole rule set.
func (o *Orchestrator) ReplaceRollbackRules(rules []datatypes.RollbackRule) (err error) {
	defer o.recoverOp("ReplaceRollbackRules", &err)
	err = o.rollback.ReplaceRules(rules)
	o.record(context.Background(), extensions.AuditEvent{
		EventType:    extensions.EventRulesReplace,
		ResourceType: extensions.ResourceRules,
		Outcome:      outcomeOf(err),
		Metadata:     errorMetadata(err, map[string]any{"rules": len(rules)}),
	})
	return err
}

// =============================================================================
// Metrics
// =============================================================================

// RecordMetrics pushes a metrics snapshot to the monitoring provider.
func (o *Orchestrator) RecordMetrics(ctx context.Context, m *datatypes.ModelMetrics) (err error) {
	defer o.recoverOp("RecordMetrics", &err)
	rec, ok := o.monitor.(monitoring.Recorder)
	if !ok {
		return ErrMetricsWriteUnsupported
	}
	err = rec.RecordMetrics(ctx, m)
	o.record(ctx, extensions.AuditEvent{
		EventType:    extensions.EventMetricsRecord,
		ResourceType: extensions.ResourceModel,
		ResourceID:   m.ModelID,
		ModelID:      m.ModelID,
		Outcome:      outcomeOf(err),
		Metadata:     errorMetadata(err, nil),
	})
	return err
}

// =============================================================================
// Audit
// =============================================================================

// AuditEvents returns recorded audit events newest-first.
func (o *Orchestrator) AuditEvents(ctx context.Context, filter extensions.AuditFilter) (events []extensions.AuditEvent, err error) {
	defer o.recoverOp("AuditEvents", &err)
	return o.audit.Query(ctx, filter)
}

// =============================================================================
// Status
// =============================================================================

// GetModelDeploymentStatus summarises one model across all components.
func (o *Orchestrator) GetModelDeploymentStatus(modelID string) (st *datatypes.ModelDeploymentStatus, err error) {
	defer o.recoverOp("GetModelDeploymentStatus", &err)

	st = &datatypes.ModelDeploymentStatus{
		ModelID:                   modelID,
		ActiveDeployments:         []*datatypes.DeploymentExecution{},
		ActiveRollbacks:           o.rollback.ListActive(modelID),
		RecentDeployments:         o.exec.History(modelID, o.cfg.RecentLimit),
		RecentRollbacks:           o.rollback.History(modelID, o.cfg.RecentLimit),
		RollbackMonitoringEnabled: o.rollback.IsMonitored(modelID),
	}
	for _, x := range o.exec.ListActive() {
		if x.ModelID == modelID {
			st.ActiveDeployments = append(st.ActiveDeployments, x)
		}
	}
	if st.RecentDeployments == nil {
		st.RecentDeployments = []*datatypes.DeploymentExecution{}
	}
	if st.RecentRollbacks == nil {
		st.RecentRollbacks = []*datatypes.RollbackExecution{}
	}

	switch {
	case len(st.ActiveDeployments) > 0:
		st.LastDeployment = st.ActiveDeployments[0]
	case len(st.RecentDeployments) > 0:
		st.LastDeployment = st.RecentDeployments[0]
	}
	switch {
	case len(st.ActiveRollbacks) > 0:
		st.LastRollback = st.ActiveRollbacks[0]
	case len(st.RecentRollbacks) > 0:
		st.LastRollback = st.RecentRollbacks[0]
	}
	if info, ok := o.rollback.ModelVersions(modelID); ok {
		st.Versions = info
	}
	return st, nil
}

// GetServiceHealth aggregates component health. The service is healthy
// only when every component is.
func (o *Orchestrator) GetServiceHealth(ctx context.Context) (h datatypes.ServiceHealth) {
	h = datatypes.ServiceHealth{Status: datatypes.HealthDegraded}
	defer o.recoverOp("GetServiceHealth", nil)

	components := []datatypes.ComponentHealth{
		o.plans.Health(),
		o.exec.Health(),
		o.rollback.Health(),
		o.monitorHealth(ctx),
	}
	status := datatypes.HealthHealthy
	for _, c := range components {
		if c.Status != datatypes.HealthHealthy {
			status = datatypes.HealthDegraded
		}
	}
	return datatypes.ServiceHealth{Status: status, Components: components}
}

func (o *Orchestrator) monitorHealth(ctx context.Context) datatypes.ComponentHealth {
	c := datatypes.ComponentHealth{Name: "monitoring", Status: datatypes.HealthHealthy}
	if o.monitor == nil {
		c.Status = datatypes.HealthDegraded
		c.Details = map[string]any{"error": "no monitoring provider configured"}
		return c
	}
	p, ok := o.monitor.(monitoring.Pinger)
	if !ok {
		return c
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		c.Status = datatypes.HealthDegraded
		c.Details = map[string]any{"error": err.Error()}
	}
	return c
}
