// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDeploy/pkg/logging"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/observability"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/storage"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(epoch)
	m := NewManager(Config{
		Logger:  logging.Discard(),
		Metrics: observability.NewMetrics(prometheus.NewRegistry()),
		Clock:   clk,
	})
	return m, clk
}

func request(model, source, target string, meta datatypes.ModelMetadata) datatypes.PlanRequest {
	return datatypes.PlanRequest{
		ModelID:       model,
		SourceVersion: source,
		TargetVersion: target,
		Metadata:      meta,
	}
}

// =============================================================================
// Risk assessment
// =============================================================================

func TestRiskAssessor_Assess(t *testing.T) {
	baseline := map[string]float64{"accuracy": 0.90, "error_rate": 0.02, "p99_latency_ms": 100}

	tests := []struct {
		name        string
		meta        datatypes.ModelMetadata
		wantRisk    datatypes.RiskLevel
		wantFactors int
	}{
		{
			name:     "no change",
			meta:     datatypes.ModelMetadata{PerformanceMetrics: map[string]float64{"accuracy": 0.90}},
			wantRisk: datatypes.RiskLow,
		},
		{
			name:        "accuracy down 15 percent is medium",
			meta:        datatypes.ModelMetadata{PerformanceMetrics: map[string]float64{"accuracy": 0.765}},
			wantRisk:    datatypes.RiskLow,
			wantFactors: 1,
		},
		{
			name: "two medium factors",
			meta: datatypes.ModelMetadata{
				PerformanceMetrics: map[string]float64{"accuracy": 0.765},
				ModelSizeBytes:     600 * 1024 * 1024,
			},
			wantRisk:    datatypes.RiskMedium,
			wantFactors: 2,
		},
		{
			name:        "latency up 30 percent is high",
			meta:        datatypes.ModelMetadata{PerformanceMetrics: map[string]float64{"p99_latency_ms": 130}},
			wantRisk:    datatypes.RiskHigh,
			wantFactors: 1,
		},
		{
			name:        "error rate halved is an improvement",
			meta:        datatypes.ModelMetadata{PerformanceMetrics: map[string]float64{"error_rate": 0.01}},
			wantRisk:    datatypes.RiskLow,
			wantFactors: 0,
		},
		{
			name:        "metric absent from baseline is ignored",
			meta:        datatypes.ModelMetadata{PerformanceMetrics: map[string]float64{"f1": 0.1}},
			wantRisk:    datatypes.RiskLow,
			wantFactors: 0,
		},
		{
			name: "architecture needs both sides",
			meta: datatypes.ModelMetadata{Architecture: "transformer"},
			wantRisk: datatypes.RiskLow,
		},
		{
			name: "architecture change and degradation",
			meta: datatypes.ModelMetadata{
				PerformanceMetrics:   map[string]float64{"accuracy": 0.5},
				Architecture:         "transformer",
				PreviousArchitecture: "lstm",
			},
			wantRisk:    datatypes.RiskCritical,
			wantFactors: 2,
		},
	}

	a := NewRiskAssessor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Assess(baseline, tt.meta)
			assert.Equal(t, tt.wantRisk, got.OverallRisk)
			assert.Len(t, got.Factors, tt.wantFactors)
			assert.InDelta(t, maxf(0.5, 1-0.1*float64(tt.wantFactors)), got.Confidence, 1e-9)
		})
	}
}

func TestRiskAssessor_ZeroBaselineSkipped(t *testing.T) {
	got := NewRiskAssessor().Assess(
		map[string]float64{"error_rate": 0},
		datatypes.ModelMetadata{PerformanceMetrics: map[string]float64{"error_rate": 0.5}},
	)
	assert.Empty(t, got.Factors)
}

func TestRiskAssessor_ConfidenceFloor(t *testing.T) {
	factors := make([]datatypes.RiskFactor, 7)
	for i := range factors {
		factors[i].Severity = datatypes.RiskMedium
	}
	assert.Equal(t, datatypes.RiskMedium, aggregateRisk(factors))

	baseline := map[string]float64{}
	target := map[string]float64{}
	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("score_%d", i)
		baseline[name] = 1
		target[name] = 0.5
	}
	got := NewRiskAssessor().Assess(baseline, datatypes.ModelMetadata{PerformanceMetrics: target})
	assert.Len(t, got.Factors, 7)
	assert.Equal(t, 0.5, got.Confidence)
	assert.Equal(t, datatypes.RiskCritical, got.OverallRisk)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// =============================================================================
// Policy
// =============================================================================

func TestPolicy_StrategyAndDuration(t *testing.T) {
	tests := []struct {
		risk     datatypes.RiskLevel
		strategy datatypes.DeploymentStrategy
		duration time.Duration
		rollback datatypes.RollbackStrategy
	}{
		{datatypes.RiskLow, datatypes.StrategyDirect, 15 * time.Minute, datatypes.RollbackVersionRevert},
		{datatypes.RiskMedium, datatypes.StrategyRolling, 36 * time.Minute, datatypes.RollbackReverseRolling},
		{datatypes.RiskHigh, datatypes.StrategyBlueGreen, 67*time.Minute + 30*time.Second, datatypes.RollbackInstantSwitch},
		{datatypes.RiskCritical, datatypes.StrategyCanary, 240 * time.Minute, datatypes.RollbackTrafficReduction},
	}
	for _, tt := range tests {
		t.Run(string(tt.risk), func(t *testing.T) {
			s := SelectStrategy(tt.risk)
			assert.Equal(t, tt.strategy, s)
			assert.Equal(t, tt.duration, EstimateDuration(s, tt.risk))
			assert.Equal(t, tt.rollback, RollbackStrategyFor(s))
		})
	}
}

func TestPolicy_PreChecks(t *testing.T) {
	base := PreChecks(datatypes.ModelMetadata{})
	assert.Equal(t, []string{CheckModelValidation, CheckResourceAvailability, CheckDependency, CheckSecurityScan}, base)

	all := PreChecks(datatypes.ModelMetadata{RequiresGPU: true, ModelSizeBytes: 200 * 1024 * 1024})
	assert.Equal(t, CheckGPUAvailability, all[4])
	assert.Equal(t, CheckStorageCapacity, all[5])

	assert.Equal(t, []string{CheckHealth, CheckPerformanceValidation, CheckIntegrationTest, CheckMonitoringSetup}, PostChecks())
}

func TestPolicy_RequiresApproval(t *testing.T) {
	risks := []datatypes.RiskLevel{datatypes.RiskLow, datatypes.RiskMedium, datatypes.RiskHigh, datatypes.RiskCritical}
	strategies := []datatypes.DeploymentStrategy{datatypes.StrategyDirect, datatypes.StrategyRolling, datatypes.StrategyBlueGreen, datatypes.StrategyCanary}
	for _, r := range risks {
		for _, s := range strategies {
			got := RequiresApproval(r, s)
			if r.AtLeast(datatypes.RiskHigh) || s == datatypes.StrategyBlueGreen || s == datatypes.StrategyCanary {
				assert.True(t, got, "%s/%s", r, s)
			} else {
				assert.False(t, got, "%s/%s", r, s)
			}
		}
	}
}

func TestPolicy_DefaultRequirements(t *testing.T) {
	reqs := DefaultRequirements(datatypes.ModelMetadata{PerformanceMetrics: map[string]float64{
		"accuracy":       0.9,
		"p99_latency_ms": 120,
		"recall":         0,
	}})
	require.Len(t, reqs, 2)
	assert.Equal(t, datatypes.MetricErrorRate, reqs[0].MetricName)
	assert.Equal(t, 0.05, reqs[0].CriticalThreshold)
	assert.Equal(t, "accuracy", reqs[1].MetricName)
	assert.InDelta(t, 0.81, reqs[1].MinValue, 1e-9)
	assert.InDelta(t, 0.72, reqs[1].CriticalThreshold, 1e-9)
}

// =============================================================================
// Manager
// =============================================================================

func TestCreatePlan_LowRiskDirect(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetBaseline("m1", map[string]float64{"accuracy": 0.96})

	plan, err := m.CreatePlan(context.Background(), request("m1", "1.0", "1.1", datatypes.ModelMetadata{
		PerformanceMetrics: map[string]float64{"accuracy": 0.95},
		ModelSizeBytes:     10 * 1024 * 1024,
	}))
	require.NoError(t, err)

	assert.Equal(t, datatypes.RiskLow, plan.RiskLevel)
	assert.Equal(t, datatypes.StrategyDirect, plan.Strategy)
	assert.False(t, plan.ApprovalRequired)
	assert.True(t, plan.IsApproved())
	assert.Equal(t, 15*time.Minute, plan.EstimatedDuration)
	assert.Equal(t, datatypes.RollbackVersionRevert, plan.RollbackStrategy)
	assert.Len(t, plan.PreChecks, 4)
	assert.Empty(t, plan.Metadata.RiskAssessment.Factors)
	assert.Equal(t, epoch, plan.CreatedAt)
}

func TestCreatePlan_ArchitectureAndDegradationIsCritical(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetBaseline("m1", map[string]float64{"accuracy": 0.96})

	plan, err := m.CreatePlan(context.Background(), request("m1", "1.0", "1.1", datatypes.ModelMetadata{
		PerformanceMetrics:   map[string]float64{"accuracy": 0.72},
		ModelSizeBytes:       10 * 1024 * 1024,
		Architecture:         "transformer",
		PreviousArchitecture: "cnn",
	}))
	require.NoError(t, err)

	var arch, perf bool
	for _, f := range plan.Metadata.RiskAssessment.Factors {
		if f.Severity != datatypes.RiskHigh {
			continue
		}
		switch f.Type {
		case FactorArchitectureChange:
			arch = true
		case FactorPerformanceDegradation:
			perf = true
		}
	}
	assert.True(t, arch, "expected high architecture factor")
	assert.True(t, perf, "expected high degradation factor")
	assert.Equal(t, datatypes.RiskCritical, plan.RiskLevel)
	assert.Equal(t, datatypes.StrategyCanary, plan.Strategy)
	assert.True(t, plan.ApprovalRequired)
	assert.False(t, plan.IsApproved())
	assert.Equal(t, datatypes.RollbackTrafficReduction, plan.RollbackStrategy)
	assert.NotEmpty(t, plan.Metadata.RiskAssessment.Mitigations)
}

func TestCreatePlan_NoBaselineSkipsDegradation(t *testing.T) {
	m, _ := newTestManager(t)
	plan, err := m.CreatePlan(context.Background(), request("m1", "1.0", "2.0", datatypes.ModelMetadata{
		PerformanceMetrics: map[string]float64{"accuracy": 0.1},
	}))
	require.NoError(t, err)
	assert.Equal(t, datatypes.RiskLow, plan.RiskLevel)
}

func TestCreatePlan_InvalidRequest(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreatePlan(context.Background(), request("", "1.0", "1.1", datatypes.ModelMetadata{}))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := request("m1", "1.0", "1.1", datatypes.ModelMetadata{})
	req.StrategyOverride = "yolo"
	_, err = m.CreatePlan(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, m.ListPlans(""))
}

func TestCreatePlan_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreatePlan(context.Background(), request("m1", "1.0", "1.1", datatypes.ModelMetadata{
		RequiresGPU: true,
	}))
	require.NoError(t, err)

	got, ok := m.GetPlan(created.ID)
	require.True(t, ok)
	assert.Equal(t, created, got)

	// Callers get clones.
	got.PreChecks[0] = "mutated"
	again, _ := m.GetPlan(created.ID)
	assert.Equal(t, CheckModelValidation, again.PreChecks[0])
}

func TestCreatePlan_ExplicitRequirementsKept(t *testing.T) {
	m, _ := newTestManager(t)
	req := request("m1", "1.0", "1.1", datatypes.ModelMetadata{PerformanceMetrics: map[string]float64{"accuracy": 0.9}})
	req.Requirements = []datatypes.PerformanceRequirement{{MetricName: "accuracy", MinValue: 0.85}}

	plan, err := m.CreatePlan(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, plan.PerformanceRequirements, 1)
	assert.Equal(t, 0.85, plan.PerformanceRequirements[0].MinValue)
}

func TestCreatePlan_RecordsMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	m := NewManager(Config{Logger: logging.Discard(), Metrics: metrics})

	_, err := m.CreatePlan(context.Background(), request("m1", "1.0", "1.1", datatypes.ModelMetadata{}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PlansCreatedTotal.WithLabelValues("low", "direct")))
}

func TestApprovePlan(t *testing.T) {
	m, clk := newTestManager(t)
	req := request("m1", "1.0", "1.1", datatypes.ModelMetadata{})
	req.StrategyOverride = datatypes.StrategyBlueGreen
	plan, err := m.CreatePlan(context.Background(), req)
	require.NoError(t, err)
	require.True(t, plan.ApprovalRequired)
	assert.Equal(t, datatypes.RollbackInstantSwitch, plan.RollbackStrategy)

	_, err = m.ApprovePlan(plan.ID, "")
	assert.ErrorIs(t, err, ErrApproverRequired)

	clk.Advance(time.Minute)
	ok, err := m.ApprovePlan(plan.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.ApprovePlan(plan.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := m.GetPlan(plan.ID)
	assert.Equal(t, "alice", got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, epoch.Add(time.Minute), *got.ApprovedAt)
	assert.True(t, got.IsApproved())
}

func TestApprovePlan_NotRequiredIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	plan, err := m.CreatePlan(context.Background(), request("m1", "1.0", "1.1", datatypes.ModelMetadata{}))
	require.NoError(t, err)

	ok, err := m.ApprovePlan(plan.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := m.GetPlan(plan.ID)
	assert.Empty(t, got.ApprovedBy)
	assert.Nil(t, got.ApprovedAt)
}

func TestApprovePlan_Unknown(t *testing.T) {
	m, _ := newTestManager(t)
	ok, err := m.ApprovePlan("plan-missing", "alice")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestCancelPlan(t *testing.T) {
	m, _ := newTestManager(t)
	plan, err := m.CreatePlan(context.Background(), request("m1", "1.0", "1.1", datatypes.ModelMetadata{}))
	require.NoError(t, err)

	require.NoError(t, m.CancelPlan(context.Background(), plan.ID, "operator request"))
	assert.False(t, m.IsActive(plan.ID))
	assert.Empty(t, m.ListPlans("m1"))

	hist := m.History("m1", 0)
	require.Len(t, hist, 1)
	assert.Equal(t, "cancelled: operator request", hist[0].RetirementReason)
	assert.NotNil(t, hist[0].RetiredAt)

	// Still readable, no longer mutable.
	_, ok := m.GetPlan(plan.ID)
	assert.True(t, ok)
	assert.ErrorIs(t, m.CancelPlan(context.Background(), plan.ID, ""), ErrPlanRetired)
	_, err = m.ApprovePlan(plan.ID, "alice")
	assert.ErrorIs(t, err, ErrPlanRetired)
	assert.ErrorIs(t, m.CancelPlan(context.Background(), "plan-missing", ""), ErrPlanNotFound)
}

func TestSupersedePlans(t *testing.T) {
	m, clk := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		p, err := m.CreatePlan(ctx, request("m1", "1.0", fmt.Sprintf("1.%d", i+1), datatypes.ModelMetadata{}))
		require.NoError(t, err)
		ids = append(ids, p.ID)
		clk.Advance(time.Second)
	}
	other, err := m.CreatePlan(ctx, request("m2", "1.0", "1.1", datatypes.ModelMetadata{}))
	require.NoError(t, err)

	listed := m.ListPlans("m1")
	require.Len(t, listed, 3)
	assert.Equal(t, ids[2], listed[0].ID, "newest first")

	n := m.SupersedePlans(ctx, "m1", ids[1])
	assert.Equal(t, 2, n)
	assert.True(t, m.IsActive(ids[1]))
	assert.True(t, m.IsActive(other.ID))
	for _, p := range m.History("m1", 0) {
		assert.Equal(t, "superseded by "+ids[1], p.RetirementReason)
	}
}

func TestHistoryCap(t *testing.T) {
	clk := testclock.NewClock(epoch)
	m := NewManager(Config{Logger: logging.Discard(), Clock: clk, HistoryLimit: 3})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		p, err := m.CreatePlan(ctx, request("m1", "1.0", "1.1", datatypes.ModelMetadata{}))
		require.NoError(t, err)
		require.NoError(t, m.CancelPlan(ctx, p.ID, "test"))
		ids = append(ids, p.ID)
	}

	hist := m.History("", 0)
	require.Len(t, hist, 3)
	assert.Equal(t, ids[4], hist[0].ID)
	assert.Equal(t, ids[2], hist[2].ID)
	_, ok := m.GetPlan(ids[0])
	assert.False(t, ok, "oldest entries are evicted")

	assert.Len(t, m.History("", 2), 2)
}

func TestCancelPlan_Archives(t *testing.T) {
	archive, err := storage.OpenBadgerArchive(storage.InMemoryConfig())
	require.NoError(t, err)
	defer archive.Close()

	m := NewManager(Config{Logger: logging.Discard(), Archive: archive})
	ctx := context.Background()
	p, err := m.CreatePlan(ctx, request("m1", "1.0", "1.1", datatypes.ModelMetadata{}))
	require.NoError(t, err)
	require.NoError(t, m.CancelPlan(ctx, p.ID, "test"))

	stored, err := archive.LoadPlans(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, p.ID, stored[0].ID)

	fresh := NewManager(Config{Logger: logging.Discard()})
	fresh.SeedHistory(stored)
	got, ok := fresh.GetPlan(p.ID)
	require.True(t, ok)
	assert.Equal(t, "cancelled: test", got.RetirementReason)
}

func TestBaseline_Copies(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Nil(t, m.Baseline("m1"))

	in := map[string]float64{"accuracy": 0.9}
	m.SetBaseline("m1", in)
	in["accuracy"] = 0.1

	out := m.Baseline("m1")
	assert.Equal(t, 0.9, out["accuracy"])
	out["accuracy"] = 0.2
	assert.Equal(t, 0.9, m.Baseline("m1")["accuracy"])
}

func TestHealth(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreatePlan(context.Background(), request("m1", "1.0", "1.1", datatypes.ModelMetadata{}))
	require.NoError(t, err)

	h := m.Health()
	assert.Equal(t, datatypes.HealthHealthy, h.Status)
	assert.Equal(t, 1, h.Details["active_plans"])
}

// =============================================================================
// Validation
// =============================================================================

func TestValidatePlan_CriticalDirectRejected(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetBaseline("m1", map[string]float64{"accuracy": 0.96})

	req := request("m1", "1.0", "1.1", datatypes.ModelMetadata{
		PerformanceMetrics:   map[string]float64{"accuracy": 0.70},
		Architecture:         "transformer",
		PreviousArchitecture: "cnn",
	})
	req.StrategyOverride = datatypes.StrategyDirect
	plan, err := m.CreatePlan(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, datatypes.RiskCritical, plan.RiskLevel)
	assert.True(t, plan.ApprovalRequired, "critical risk needs approval whatever the strategy")

	res, err := m.ValidatePlan(plan.ID)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, ErrMsgCriticalDirect)
}

func TestValidatePlan_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.ValidatePlan("plan-missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name         string
		plan         datatypes.DeploymentPlan
		wantValid    bool
		wantErrors   int
		wantWarnings int
	}{
		{
			name: "clean direct plan",
			plan: datatypes.DeploymentPlan{
				SourceVersion: "1.0.0", TargetVersion: "1.1.0",
				Strategy: datatypes.StrategyDirect, RiskLevel: datatypes.RiskLow,
				PerformanceRequirements: []datatypes.PerformanceRequirement{{MetricName: "accuracy", MinValue: 0.9, MaxDegradationPct: 10}},
			},
			wantValid: true,
		},
		{
			name: "negative error rate minimum allowed",
			plan: datatypes.DeploymentPlan{
				SourceVersion: "1", TargetVersion: "2", Strategy: datatypes.StrategyDirect,
				PerformanceRequirements: []datatypes.PerformanceRequirement{{MetricName: "error_rate", MinValue: -1}},
			},
			wantValid: true,
		},
		{
			name: "negative thresholds",
			plan: datatypes.DeploymentPlan{
				SourceVersion: "1", TargetVersion: "2", Strategy: datatypes.StrategyDirect,
				PerformanceRequirements: []datatypes.PerformanceRequirement{
					{MetricName: "accuracy", MinValue: -0.1, CriticalThreshold: -1, MaxDegradationPct: -5},
				},
			},
			wantErrors: 3,
		},
		{
			name: "loose degradation warns",
			plan: datatypes.DeploymentPlan{
				SourceVersion: "1", TargetVersion: "2", Strategy: datatypes.StrategyDirect,
				PerformanceRequirements: []datatypes.PerformanceRequirement{{MetricName: "accuracy", MaxDegradationPct: 75}},
			},
			wantValid:    true,
			wantWarnings: 1,
		},
		{
			name: "blocking constraint without function",
			plan: datatypes.DeploymentPlan{
				SourceVersion: "1", TargetVersion: "2", Strategy: datatypes.StrategyDirect,
				Constraints: []datatypes.DeploymentConstraint{
					{Type: "maintenance_window", Blocking: true},
					{Type: "quota", Blocking: true, ValidationFunction: "check_quota"},
					{Type: "note"},
				},
			},
			wantErrors: 1,
		},
		{
			name: "parallel capacity warnings",
			plan: datatypes.DeploymentPlan{
				SourceVersion: "1", TargetVersion: "2", Strategy: datatypes.StrategyCanary, RiskLevel: datatypes.RiskCritical,
			},
			wantValid:    true,
			wantWarnings: 1,
		},
		{
			name: "downgrade warns",
			plan: datatypes.DeploymentPlan{
				SourceVersion: "v2.1.0", TargetVersion: "v2.0.3", Strategy: datatypes.StrategyDirect,
			},
			wantValid:    true,
			wantWarnings: 1,
		},
		{
			name: "identical versions warn",
			plan: datatypes.DeploymentPlan{
				SourceVersion: "1.0", TargetVersion: "1.0", Strategy: datatypes.StrategyDirect,
			},
			wantValid:    true,
			wantWarnings: 1,
		},
		{
			name: "non semver versions only compared for equality",
			plan: datatypes.DeploymentPlan{
				SourceVersion: "blue", TargetVersion: "green", Strategy: datatypes.StrategyDirect,
			},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(&tt.plan)
			assert.Equal(t, tt.wantValid, res.IsValid, "errors: %v", res.Errors)
			assert.Len(t, res.Errors, tt.wantErrors)
			assert.Len(t, res.Warnings, tt.wantWarnings, "warnings: %v", res.Warnings)
		})
	}
}

func TestValidatePlan_RecordsMetric(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := NewManager(Config{Logger: logging.Discard(), Metrics: metrics})
	plan, err := m.CreatePlan(context.Background(), request("m1", "1.0", "1.1", datatypes.ModelMetadata{}))
	require.NoError(t, err)

	_, err = m.ValidatePlan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PlanValidationsTotal.WithLabelValues("valid")))
}
