// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planning builds, validates and approves deployment plans.
//
// # Description
//
// The Manager turns a requested version change into an immutable
// DeploymentPlan: it assesses risk against the model's stored baseline,
// maps risk to a rollout strategy, estimates duration, derives pre and post
// checks, decides whether a human must approve, and picks the rollback
// strategy. Plans stay in the active set until cancelled or superseded,
// after which they move into a capped history.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Callers always receive clones; the
// stored plans are only mutated to record approval and retirement.
package planning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/observability"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/storage"
)

// DefaultHistoryLimit caps the retired plan history.
const DefaultHistoryLimit = 100

var (
	// ErrPlanNotFound is returned when no active or retired plan has the id.
	ErrPlanNotFound = errors.New("deployment plan not found")

	// ErrPlanRetired is returned when mutating a cancelled or superseded plan.
	ErrPlanRetired = errors.New("deployment plan is retired")

	// ErrApproverRequired is returned when approving without an identity.
	ErrApproverRequired = errors.New("approver identity is required")

	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid plan request")
)

// Config configures a Manager.
type Config struct {
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	Archive      storage.Archive
	Clock        clock.Clock
	HistoryLimit int
}

// Manager owns every deployment plan.
type Manager struct {
	logger       *slog.Logger
	metrics      *observability.Metrics
	archive      storage.Archive
	clock        clock.Clock
	historyLimit int
	assessor     *RiskAssessor

	mu        sync.RWMutex
	plans     map[string]*datatypes.DeploymentPlan
	history   []*datatypes.DeploymentPlan
	baselines map[string]map[string]float64
}

// NewManager creates a Manager. Zero config fields get defaults.
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
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Manager{
		logger:       cfg.Logger.With("component", "planning"),
		metrics:      cfg.Metrics,
		archive:      cfg.Archive,
		clock:        cfg.Clock,
		historyLimit: cfg.HistoryLimit,
		assessor:     NewRiskAssessor(),
		plans:        make(map[string]*datatypes.DeploymentPlan),
		baselines:    make(map[string]map[string]float64),
	}
}

// =============================================================================
// Plan Creation
// =============================================================================

// CreatePlan builds and stores a plan for the requested version change.
//
// # Description
//
// Steps, in order: assess risk against the baseline; map risk to strategy
// (unless the request overrides it); estimate duration; derive checks;
// decide approval; pick the rollback strategy. Missing requirements are
// derived from the target metadata.
//
// # Outputs
//
//   - *datatypes.DeploymentPlan: a clone of the stored plan
//   - error: wraps ErrInvalidRequest when the request fails validation
func (m *Manager) CreatePlan(ctx context.Context, req datatypes.PlanRequest) (*datatypes.DeploymentPlan, error) {
	_, span := observability.StartSpan(ctx, "planning.CreatePlan")
	defer span.End()

	if err := req.Validate(); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		observability.RecordError(span, err)
		return nil, err
	}

	baseline := m.Baseline(req.ModelID)
	assessment := m.assessor.Assess(baseline, req.Metadata)

	strategy := SelectStrategy(assessment.OverallRisk)
	if req.StrategyOverride != "" {
		strategy = req.StrategyOverride
	}

	requirements := req.Requirements
	if len(requirements) == 0 {
		requirements = DefaultRequirements(req.Metadata)
	}

	plan := &datatypes.DeploymentPlan{
		ID:                      "plan-" + uuid.NewString(),
		ModelID:                 req.ModelID,
		SourceVersion:           req.SourceVersion,
		TargetVersion:           req.TargetVersion,
		Strategy:                strategy,
		RiskLevel:               assessment.OverallRisk,
		CreatedAt:               m.clock.Now(),
		EstimatedDuration:       EstimateDuration(strategy, assessment.OverallRisk),
		RollbackStrategy:        RollbackStrategyFor(strategy),
		PerformanceRequirements: append([]datatypes.PerformanceRequirement(nil), requirements...),
		Constraints:             append([]datatypes.DeploymentConstraint{}, req.Constraints...),
		PreChecks:               PreChecks(req.Metadata),
		PostChecks:              PostChecks(),
		ApprovalRequired:        RequiresApproval(assessment.OverallRisk, strategy),
		Metadata: datatypes.PlanMetadata{
			RiskAssessment: assessment,
			TargetMetadata: req.Metadata.Clone(),
		},
	}

	m.mu.Lock()
	m.plans[plan.ID] = plan
	m.mu.Unlock()

	m.metrics.RecordPlanCreated(string(plan.RiskLevel), string(plan.Strategy))
	m.logger.Info("deployment plan created",
		"plan_id", plan.ID,
		"model_id", plan.ModelID,
		"source_version", plan.SourceVersion,
		"target_version", plan.TargetVersion,
		"risk", plan.RiskLevel,
		"strategy", plan.Strategy,
		"approval_required", plan.ApprovalRequired,
		"risk_factors", len(assessment.Factors))
	observability.SetSpanOK(span)

	return plan.Clone(), nil
}

// =============================================================================
// Lookup
// =============================================================================

// GetPlan returns an active plan, falling back to history.
func (m *Manager) GetPlan(planID string) (*datatypes.DeploymentPlan, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.plans[planID]; ok {
		return p.Clone(), true
	}
	for _, p := range m.history {
		if p.ID == planID {
			return p.Clone(), true
		}
	}
	return nil, false
}

// IsActive reports whether the plan exists and has not been retired.
func (m *Manager) IsActive(planID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.plans[planID]
	return ok
}

// ListPlans returns active plans newest-first. An empty modelID lists all.
func (m *Manager) ListPlans(modelID string) []*datatypes.DeploymentPlan {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*datatypes.DeploymentPlan, 0, len(m.plans))
	for _, p := range m.plans {
		if modelID == "" || p.ModelID == modelID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// History returns retired plans newest-first, at most limit (0 = all).
func (m *Manager) History(modelID string, limit int) []*datatypes.DeploymentPlan {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*datatypes.DeploymentPlan
	for i := len(m.history) - 1; i >= 0; i-- {
		p := m.history[i]
		if modelID != "" && p.ModelID != modelID {
			continue
		}
		out = append(out, p.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// =============================================================================
// Approval
// =============================================================================

// ApprovePlan records approval of an active plan.
//
// # Outputs
//
//   - bool: true when the plan may now execute. A plan that does not need
//     approval returns true without recording anything.
//   - error: ErrPlanNotFound, ErrPlanRetired or ErrApproverRequired
func (m *Manager) ApprovePlan(planID, approver string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, ok := m.plans[planID]
	if !ok {
		if m.inHistoryLocked(planID) {
			return false, fmt.Errorf("%w: %s", ErrPlanRetired, planID)
		}
		return false, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if !plan.ApprovalRequired {
		return true, nil
	}
	if approver == "" {
		return false, ErrApproverRequired
	}
	if plan.ApprovedBy != "" {
		// First approval wins; repeated approvals are idempotent.
		return true, nil
	}

	now := m.clock.Now()
	plan.ApprovedBy = approver
	plan.ApprovedAt = &now
	m.logger.Info("deployment plan approved", "plan_id", planID, "model_id", plan.ModelID, "approved_by", approver)
	return true, nil
}

// =============================================================================
// Retirement
// =============================================================================

// CancelPlan moves an active plan into history with a cancellation reason.
func (m *Manager) CancelPlan(ctx context.Context, planID, reason string) error {
	m.mu.Lock()
	plan, ok := m.plans[planID]
	if !ok {
		retired := m.inHistoryLocked(planID)
		m.mu.Unlock()
		if retired {
			return fmt.Errorf("%w: %s", ErrPlanRetired, planID)
		}
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if reason == "" {
		reason = "no reason given"
	}
	retiredCopy := m.retireLocked(plan, "cancelled: "+reason)
	m.mu.Unlock()

	m.archivePlan(ctx, retiredCopy)
	m.logger.Info("deployment plan cancelled", "plan_id", planID, "model_id", plan.ModelID, "reason", reason)
	return nil
}

// SupersedePlans retires every active plan for modelID except keepPlanID.
// Returns how many plans were retired.
func (m *Manager) SupersedePlans(ctx context.Context, modelID, keepPlanID string) int {
	m.mu.Lock()
	var retired []*datatypes.DeploymentPlan
	for id, p := range m.plans {
		if p.ModelID == modelID && id != keepPlanID {
			retired = append(retired, m.retireLocked(p, "superseded by "+keepPlanID))
		}
	}
	m.mu.Unlock()

	for _, p := range retired {
		m.archivePlan(ctx, p)
		m.logger.Info("deployment plan superseded", "plan_id", p.ID, "model_id", modelID, "superseded_by", keepPlanID)
	}
	return len(retired)
}

// retireLocked moves plan from the active map to history and returns a
// clone for archiving. Caller holds m.mu.
func (m *Manager) retireLocked(plan *datatypes.DeploymentPlan, reason string) *datatypes.DeploymentPlan {
	now := m.clock.Now()
	plan.RetiredAt = &now
	plan.RetirementReason = reason
	delete(m.plans, plan.ID)

	m.history = append(m.history, plan)
	if over := len(m.history) - m.historyLimit; over > 0 {
		m.history = append([]*datatypes.DeploymentPlan(nil), m.history[over:]...)
	}
	return plan.Clone()
}

func (m *Manager) inHistoryLocked(planID string) bool {
	for _, p := range m.history {
		if p.ID == planID {
			return true
		}
	}
	return false
}

func (m *Manager) archivePlan(ctx context.Context, plan *datatypes.DeploymentPlan) {
	if err := m.archive.SavePlan(ctx, plan); err != nil {
		m.logger.Warn("failed to archive plan", "plan_id", plan.ID, "error", err)
	}
}

// SeedHistory loads retired plans (newest-first, as returned by an
// Archive) into history. Existing history is kept.
func (m *Manager) SeedHistory(plans []*datatypes.DeploymentPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seeded := make([]*datatypes.DeploymentPlan, 0, len(plans)+len(m.history))
	for i := len(plans) - 1; i >= 0; i-- {
		if plans[i] != nil {
			seeded = append(seeded, plans[i].Clone())
		}
	}
	seeded = append(seeded, m.history...)
	if over := len(seeded) - m.historyLimit; over > 0 {
		seeded = seeded[over:]
	}
	m.history = seeded
}

// =============================================================================
// Baselines
// =============================================================================

// SetBaseline replaces the performance baseline used for risk assessment.
func (m *Manager) SetBaseline(modelID string, metrics map[string]float64) {
	cp := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		cp[k] = v
	}
	m.mu.Lock()
	m.baselines[modelID] = cp
	m.mu.Unlock()
	m.logger.Debug("baseline updated", "model_id", modelID, "metrics", len(cp))
}

// Baseline returns a copy of the model's baseline, nil if none is stored.
func (m *Manager) Baseline(modelID string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.baselines[modelID]
	if !ok {
		return nil
	}
	cp := make(map[string]float64, len(b))
	for k, v := range b {
		cp[k] = v
	}
	return cp
}

// Health reports the planning component's state.
func (m *Manager) Health() datatypes.ComponentHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return datatypes.ComponentHealth{
		Name:   "planning",
		Status: datatypes.HealthHealthy,
		Details: map[string]any{
			"active_plans":  len(m.plans),
			"history_size":  len(m.history),
			"baselines":     len(m.baselines),
			"history_limit": m.historyLimit,
		},
	}
}

func sortedKeys(in map[string]float64) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
