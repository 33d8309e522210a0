// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDeploy/pkg/logging"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/monitoring"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/observability"
)

// =============================================================================
// Helpers
// =============================================================================

type fakeRollback struct {
	mu       sync.Mutex
	exec     *Executor
	requests []datatypes.DeploymentRollbackRequest
	phases   []datatypes.ExecutionPhase
	fail     bool
}

func (f *fakeRollback) RollbackDeployment(_ context.Context, req datatypes.DeploymentRollbackRequest) (*datatypes.RollbackExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.exec != nil {
		if x, ok := f.exec.GetStatus(req.ExecutionID); ok {
			f.phases = append(f.phases, x.Progress.Phase)
		}
	}
	rb := &datatypes.RollbackExecution{
		ID:          fmt.Sprintf("rb-%d", len(f.requests)),
		ModelID:     req.ModelID,
		FromVersion: req.FromVersion,
		ToVersion:   req.ToVersion,
		Strategy:    req.Strategy,
		Success:     !f.fail,
	}
	if f.fail {
		rb.ErrorMessage = "strategy exploded"
	}
	return rb, nil
}

func (f *fakeRollback) calls() []datatypes.DeploymentRollbackRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]datatypes.DeploymentRollbackRequest(nil), f.requests...)
}

func healthyProvider() *monitoring.StaticProvider {
	p := monitoring.NewStaticProvider()
	p.Set("m1", datatypes.ModelMetrics{ErrorRate: datatypes.Float(0.01), Accuracy: datatypes.Float(0.95), HealthScore: datatypes.Float(0.9)})
	return p
}

func baseConfig(provider monitoring.Provider, rb *fakeRollback) Config {
	return Config{
		Logger:          logging.Discard(),
		Monitor:         provider,
		Rollback:        rb,
		StepDelay:       -1,
		MonitorInterval: 5 * time.Millisecond,
		MonitorDurations: map[datatypes.RiskLevel]time.Duration{
			datatypes.RiskLow:      20 * time.Millisecond,
			datatypes.RiskMedium:   20 * time.Millisecond,
			datatypes.RiskHigh:     20 * time.Millisecond,
			datatypes.RiskCritical: 20 * time.Millisecond,
		},
	}
}

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	e := New(cfg)
	if rb, ok := cfg.Rollback.(*fakeRollback); ok && rb != nil {
		rb.exec = e
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func testPlan() *datatypes.DeploymentPlan {
	return &datatypes.DeploymentPlan{
		ID:                "plan-1",
		ModelID:           "m1",
		SourceVersion:     "1.0",
		TargetVersion:     "1.1",
		Strategy:          datatypes.StrategyDirect,
		RiskLevel:         datatypes.RiskLow,
		EstimatedDuration: 15 * time.Minute,
		RollbackStrategy:  datatypes.RollbackVersionRevert,
		PreChecks:         []string{"model_validation", "unregistered_check"},
		PostChecks:        []string{"health_check", "integration_test"},
	}
}

func waitTerminal(t *testing.T, e *Executor, id string) *datatypes.DeploymentExecution {
	t.Helper()
	var final *datatypes.DeploymentExecution
	require.Eventually(t, func() bool {
		x, ok := e.GetStatus(id)
		if ok && x.Status.Terminal() && x.CompletedAt != nil {
			final = x
			return true
		}
		return false
	}, 5*time.Second, 2*time.Millisecond)
	return final
}

func waitPhase(t *testing.T, e *Executor, id string, phase datatypes.ExecutionPhase) {
	t.Helper()
	require.Eventually(t, func() bool {
		x, ok := e.GetStatus(id)
		return ok && x.Progress.Phase == phase
	}, 5*time.Second, time.Millisecond)
}

// =============================================================================
// Happy Path
// =============================================================================

func TestExecute_Completes(t *testing.T) {
	rb := &fakeRollback{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	var finished atomic.Int32

	cfg := baseConfig(healthyProvider(), rb)
	cfg.Metrics = metrics
	cfg.OnFinished = func(x *datatypes.DeploymentExecution) { finished.Add(1) }
	e := newTestExecutor(t, cfg)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	assert.Contains(t, id, "plan-1-")

	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionCompleted, x.Status)
	assert.Equal(t, datatypes.PhaseCompleted, x.Progress.Phase)
	assert.Equal(t, 100.0, x.Progress.ProgressPercent)
	assert.True(t, x.Progress.Success)
	assert.Equal(t, 7, x.Progress.TotalSteps)
	assert.Equal(t, 7, x.Progress.CompletedSteps)
	require.NotNil(t, x.Progress.EstimatedCompletion)
	assert.Equal(t, x.StartedAt.Add(15*time.Minute), *x.Progress.EstimatedCompletion)

	require.Len(t, x.PreCheckResults, 2)
	assert.True(t, x.PreCheckResults[1].Success, "unregistered checks pass as stubs")
	assert.Equal(t, true, x.PreCheckResults[1].Details["stub"])
	require.Len(t, x.PostCheckResults, 2)
	assert.Equal(t, "passed", x.PostCheckResults[0].Message)

	require.NotNil(t, x.DeploymentResult)
	assert.True(t, x.DeploymentResult.Success)
	assert.Equal(t, []string{"Stop 1.0", "Start 1.1"}, x.DeploymentResult.Steps)
	require.NotNil(t, x.ValidationResult)
	assert.True(t, x.ValidationResult.Passed())

	assert.False(t, x.RollbackTriggered)
	assert.Empty(t, rb.calls())
	assert.Empty(t, e.ListActive())
	assert.Eventually(t, func() bool { return finished.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExecutionsFinishedTotal.WithLabelValues("completed")))
}

func TestExecute_UnregisteredCheckProceedsToDeploying(t *testing.T) {
	entered := make(chan struct{})
	cfg := baseConfig(healthyProvider(), &fakeRollback{})
	cfg.Deployers = map[datatypes.DeploymentStrategy]Deployer{
		datatypes.StrategyDirect: DeployerFunc(func(ctx context.Context, _ *datatypes.DeploymentPlan, _ func(string)) error {
			close(entered)
			return nil
		}),
	}
	e := newTestExecutor(t, cfg)

	plan := testPlan()
	plan.PreChecks = []string{"definitely_not_registered"}
	id, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("deployer never invoked")
	}
	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionCompleted, x.Status)
}

func TestExecute_UnknownStrategyUsesStub(t *testing.T) {
	e := newTestExecutor(t, baseConfig(healthyProvider(), &fakeRollback{}))
	plan := testPlan()
	plan.Strategy = "shadow"

	id, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionCompleted, x.Status)
	require.Len(t, x.DeploymentResult.Steps, 1)
	assert.Contains(t, x.DeploymentResult.Steps[0], "No deployer registered")
}

func TestExecute_Preconditions(t *testing.T) {
	e := newTestExecutor(t, baseConfig(nil, &fakeRollback{}))

	_, err := e.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilPlan)

	plan := testPlan()
	plan.ApprovalRequired = true
	_, err = e.Execute(context.Background(), plan)
	assert.ErrorIs(t, err, ErrApprovalRequired)
	assert.Empty(t, e.ListActive())
	assert.Empty(t, e.History("", 0))

	plan.ApprovedBy = "alice"
	id, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	waitTerminal(t, e, id)
}

// =============================================================================
// Failure Paths
// =============================================================================

func TestExecute_MonitoringErrorRateRollsBack(t *testing.T) {
	provider := monitoring.NewStaticProvider()
	provider.Set("m1", datatypes.ModelMetrics{ErrorRate: datatypes.Float(0.08), Accuracy: datatypes.Float(0.95), HealthScore: datatypes.Float(0.9)})
	rb := &fakeRollback{}
	e := newTestExecutor(t, baseConfig(provider, rb))

	plan := testPlan()
	plan.PostChecks = []string{"integration_test"}
	id, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionRolledBack, x.Status)
	assert.Equal(t, datatypes.PhaseCompleted, x.Progress.Phase)
	assert.True(t, x.RollbackTriggered)
	assert.True(t, x.RollbackCompleted)
	assert.Equal(t, ReasonMonitoringIssues, x.RollbackReason)
	assert.Equal(t, "rb-1", x.RollbackID)
	assert.False(t, x.Progress.Success)

	calls := rb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "1.1", calls[0].FromVersion)
	assert.Equal(t, "1.0", calls[0].ToVersion)
	assert.Equal(t, datatypes.RollbackVersionRevert, calls[0].Strategy)
	assert.Equal(t, datatypes.TriggerErrorRateSpike, calls[0].Trigger)
	assert.Equal(t, id, calls[0].ExecutionID)

	rb.mu.Lock()
	assert.Equal(t, []datatypes.ExecutionPhase{datatypes.PhaseRollingBack}, rb.phases)
	rb.mu.Unlock()
}

func TestExecute_MonitoringFailsOpen(t *testing.T) {
	polls := atomic.Int32{}
	provider := monitoring.ProviderFunc(func(context.Context, string) (*datatypes.ModelMetrics, error) {
		polls.Add(1)
		return nil, monitoring.ErrMetricsUnavailable
	})
	e := newTestExecutor(t, baseConfig(provider, &fakeRollback{}))

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionCompleted, x.Status)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestExecute_PreCheckFailureDoesNotRollBack(t *testing.T) {
	rb := &fakeRollback{}
	cfg := baseConfig(healthyProvider(), rb)
	cfg.Checks = map[string]Check{
		"model_validation": CheckFunc(func(context.Context, *datatypes.DeploymentPlan) error {
			return errors.New("checksum mismatch")
		}),
	}
	e := newTestExecutor(t, cfg)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)

	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionFailed, x.Status)
	assert.Equal(t, datatypes.PhaseFailed, x.Progress.Phase)
	assert.Contains(t, x.Progress.ErrorMessage, "model_validation")
	assert.False(t, x.RollbackTriggered)
	assert.Nil(t, x.DeploymentResult)
	require.Len(t, x.PreCheckResults, 1)
	assert.Equal(t, "checksum mismatch", x.PreCheckResults[0].Message)
	assert.Empty(t, rb.calls())
}

func TestExecute_PhaseFailuresRollBack(t *testing.T) {
	failing := DeployerFunc(func(context.Context, *datatypes.DeploymentPlan, func(string)) error {
		return errors.New("image pull failed")
	})
	unhealthy := monitoring.NewStaticProvider()
	unhealthy.Set("m1", datatypes.ModelMetrics{ErrorRate: datatypes.Float(0.01), HealthScore: datatypes.Float(0.2)})

	tests := []struct {
		name       string
		configure  func(*Config)
		wantReason string
	}{
		{
			name: "deploy",
			configure: func(c *Config) {
				c.Deployers = map[datatypes.DeploymentStrategy]Deployer{datatypes.StrategyDirect: failing}
			},
			wantReason: ReasonDeployFailed,
		},
		{
			name:       "post checks",
			configure:  func(c *Config) { c.Monitor = unhealthy },
			wantReason: ReasonPostChecksFailed,
		},
		{
			name: "validation",
			configure: func(c *Config) {
				c.Validator = ValidatorFunc(func(context.Context, *datatypes.DeploymentPlan) datatypes.ValidationOutcome {
					return datatypes.ValidationOutcome{Performance: true, Functional: false, Integration: true, Issues: []string{"smoke test failed"}}
				})
			},
			wantReason: ReasonValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := &fakeRollback{}
			cfg := baseConfig(healthyProvider(), rb)
			tt.configure(&cfg)
			e := newTestExecutor(t, cfg)

			id, err := e.Execute(context.Background(), testPlan())
			require.NoError(t, err)

			x := waitTerminal(t, e, id)
			assert.Equal(t, datatypes.ExecutionRolledBack, x.Status)
			assert.Equal(t, tt.wantReason, x.RollbackReason)
			assert.True(t, x.RollbackCompleted)
			assert.Len(t, rb.calls(), 1)
		})
	}
}

func TestExecute_RollbackFailureFailsExecution(t *testing.T) {
	rb := &fakeRollback{fail: true}
	cfg := baseConfig(healthyProvider(), rb)
	cfg.Deployers = map[datatypes.DeploymentStrategy]Deployer{
		datatypes.StrategyDirect: DeployerFunc(func(context.Context, *datatypes.DeploymentPlan, func(string)) error {
			return errors.New("boom")
		}),
	}
	e := newTestExecutor(t, cfg)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)

	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionFailed, x.Status)
	assert.Equal(t, datatypes.PhaseFailed, x.Progress.Phase)
	assert.True(t, x.RollbackTriggered)
	assert.False(t, x.RollbackCompleted)
	assert.Contains(t, x.Progress.ErrorMessage, "strategy exploded")
}

func TestExecute_NoRollbackRunner(t *testing.T) {
	cfg := baseConfig(healthyProvider(), nil)
	cfg.Rollback = nil
	cfg.Validator = ValidatorFunc(func(context.Context, *datatypes.DeploymentPlan) datatypes.ValidationOutcome {
		return datatypes.ValidationOutcome{}
	})
	e := newTestExecutor(t, cfg)
	assert.Equal(t, datatypes.HealthDegraded, e.Health().Status)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionFailed, x.Status)
	assert.Contains(t, x.Progress.ErrorMessage, "no rollback runner")
}

func TestExecute_PanicInCheckFailsExecution(t *testing.T) {
	cfg := baseConfig(healthyProvider(), &fakeRollback{})
	cfg.Checks = map[string]Check{
		"model_validation": CheckFunc(func(context.Context, *datatypes.DeploymentPlan) error {
			panic("nil map")
		}),
	}
	e := newTestExecutor(t, cfg)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionFailed, x.Status)
	assert.Contains(t, x.Progress.ErrorMessage, "internal error")
}

func TestExecute_PhaseTimeout(t *testing.T) {
	cfg := baseConfig(healthyProvider(), &fakeRollback{})
	cfg.PhaseTimeout = 20 * time.Millisecond
	cfg.Deployers = map[datatypes.DeploymentStrategy]Deployer{
		datatypes.StrategyDirect: DeployerFunc(func(ctx context.Context, _ *datatypes.DeploymentPlan, _ func(string)) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	}
	e := newTestExecutor(t, cfg)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionRolledBack, x.Status)
	assert.Equal(t, ReasonDeployFailed, x.RollbackReason)
	assert.Contains(t, x.Progress.ErrorMessage, "deadline exceeded")
}

// =============================================================================
// Progress
// =============================================================================

func TestExecute_ProgressIsMonotonic(t *testing.T) {
	e := newTestExecutor(t, baseConfig(healthyProvider(), &fakeRollback{}))

	events, unsubscribe, err := e.Subscribe("")
	require.NoError(t, err)
	defer unsubscribe()

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)

	var seen []datatypes.ProgressEvent
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.ExecutionID != id {
				continue
			}
			seen = append(seen, ev)
			done = ev.Terminal
		case <-timeout:
			t.Fatal("no terminal event")
		}
	}

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].ProgressPercent, seen[i-1].ProgressPercent, "event %d", i)
		assert.GreaterOrEqual(t, seen[i].CompletedSteps, seen[i-1].CompletedSteps, "event %d", i)
	}
	last := seen[len(seen)-1]
	assert.Equal(t, 100.0, last.ProgressPercent)
	assert.Equal(t, datatypes.ExecutionCompleted, last.Status)

	var phases []datatypes.ExecutionPhase
	for _, ev := range seen {
		if len(phases) == 0 || phases[len(phases)-1] != ev.Phase {
			phases = append(phases, ev.Phase)
		}
	}
	assert.Equal(t, []datatypes.ExecutionPhase{
		datatypes.PhasePreChecks,
		datatypes.PhaseDeploying,
		datatypes.PhasePostChecks,
		datatypes.PhaseValidating,
		datatypes.PhaseMonitoring,
		datatypes.PhaseCompleted,
	}, phases)
}

func TestSubscribe_ClosesOnFinalize(t *testing.T) {
	release := make(chan struct{})
	cfg := baseConfig(healthyProvider(), &fakeRollback{})
	cfg.Deployers = map[datatypes.DeploymentStrategy]Deployer{
		datatypes.StrategyDirect: DeployerFunc(func(ctx context.Context, _ *datatypes.DeploymentPlan, _ func(string)) error {
			<-release
			return nil
		}),
	}
	e := newTestExecutor(t, cfg)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	waitPhase(t, e, id, datatypes.PhaseDeploying)

	events, _, err := e.Subscribe(id)
	require.NoError(t, err)
	close(release)

	var last datatypes.ProgressEvent
	for ev := range events {
		last = ev
	}
	assert.True(t, last.Terminal)

	closed, _, err := e.Subscribe(id)
	require.NoError(t, err)
	_, open := <-closed
	assert.False(t, open)

	_, _, err = e.Subscribe("nope")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestSubscribe_RacingFinalizeAlwaysCloses(t *testing.T) {
	for i := 0; i < 100; i++ {
		release := make(chan struct{})
		cfg := baseConfig(healthyProvider(), &fakeRollback{})
		cfg.Deployers = map[datatypes.DeploymentStrategy]Deployer{
			datatypes.StrategyDirect: DeployerFunc(func(context.Context, *datatypes.DeploymentPlan, func(string)) error {
				<-release
				return nil
			}),
		}
		e := newTestExecutor(t, cfg)

		plan := testPlan()
		plan.PostChecks = nil
		id, err := e.Execute(context.Background(), plan)
		require.NoError(t, err)
		waitPhase(t, e, id, datatypes.PhaseDeploying)

		close(release)
		events, unsubscribe, err := e.Subscribe(id)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		deadline := time.After(5 * time.Second)
		for open := true; open; {
			select {
			case _, open = <-events:
			case <-deadline:
				t.Fatalf("iteration %d: subscriber never closed", i)
			}
		}
		unsubscribe()
	}
}

// =============================================================================
// Cancellation and Shutdown
// =============================================================================

func TestCancel_DuringDeployRollsBack(t *testing.T) {
	release := make(chan struct{})
	rb := &fakeRollback{}
	cfg := baseConfig(healthyProvider(), rb)
	cfg.Deployers = map[datatypes.DeploymentStrategy]Deployer{
		datatypes.StrategyDirect: DeployerFunc(func(ctx context.Context, _ *datatypes.DeploymentPlan, _ func(string)) error {
			<-release
			return nil
		}),
	}
	e := newTestExecutor(t, cfg)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	waitPhase(t, e, id, datatypes.PhaseDeploying)

	assert.True(t, e.Cancel(id, "bad config pushed"))
	assert.True(t, e.Cancel(id, "second request"), "repeat cancels are accepted")
	close(release)

	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionRolledBack, x.Status)
	assert.Equal(t, ReasonCancelled, x.RollbackReason)
	assert.Equal(t, "bad config pushed", x.CancelReason)
	require.NotNil(t, x.DeploymentResult, "in-flight deploy finishes before rollback")
	assert.Len(t, rb.calls(), 1)
	assert.Equal(t, datatypes.TriggerManual, rb.calls()[0].Trigger)

	assert.False(t, e.Cancel(id, "too late"))
	assert.False(t, e.Cancel("unknown", ""))
}

func TestCancel_DuringMonitoringStopsWaiting(t *testing.T) {
	cfg := baseConfig(healthyProvider(), &fakeRollback{})
	cfg.MonitorDurations = map[datatypes.RiskLevel]time.Duration{datatypes.RiskLow: time.Hour}
	cfg.MonitorInterval = time.Minute
	e := newTestExecutor(t, cfg)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	waitPhase(t, e, id, datatypes.PhaseMonitoring)

	require.True(t, e.Cancel(id, ""))
	x := waitTerminal(t, e, id)
	assert.Equal(t, datatypes.ExecutionRolledBack, x.Status)
	assert.Equal(t, "cancelled by operator", x.CancelReason)
}

func TestShutdown_InterruptsAndRefuses(t *testing.T) {
	cfg := baseConfig(healthyProvider(), &fakeRollback{})
	cfg.MonitorDurations = map[datatypes.RiskLevel]time.Duration{datatypes.RiskLow: time.Hour}
	cfg.MonitorInterval = time.Minute
	e := New(cfg)

	id, err := e.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	waitPhase(t, e, id, datatypes.PhaseMonitoring)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	x, ok := e.GetStatus(id)
	require.True(t, ok)
	assert.Equal(t, datatypes.ExecutionFailed, x.Status)
	assert.Contains(t, x.Progress.ErrorMessage, "interrupted")

	_, err = e.Execute(context.Background(), testPlan())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

// =============================================================================
// History
// =============================================================================

func TestFinalize_Idempotent(t *testing.T) {
	e := newTestExecutor(t, baseConfig(nil, &fakeRollback{}))
	r := &run{
		exec: &datatypes.DeploymentExecution{
			ID:      "exec-1",
			ModelID: "m1",
			Status:  datatypes.ExecutionCompleted,
		},
		cancelCh: make(chan struct{}),
	}
	e.mu.Lock()
	e.active[r.exec.ID] = r
	e.mu.Unlock()

	e.finalize(r)
	e.finalize(r)

	assert.Empty(t, e.ListActive())
	assert.Len(t, e.History("", 0), 1)
}

func TestHistory_CapAndOrder(t *testing.T) {
	cfg := baseConfig(nil, &fakeRollback{})
	cfg.HistoryLimit = 3
	e := newTestExecutor(t, cfg)

	var ids []string
	for i := 0; i < 5; i++ {
		plan := testPlan()
		plan.ModelID = fmt.Sprintf("m%d", i%2)
		id, err := e.Execute(context.Background(), plan)
		require.NoError(t, err)
		waitTerminal(t, e, id)
		ids = append(ids, id)
	}

	hist := e.History("", 0)
	require.Len(t, hist, 3)
	assert.Equal(t, ids[4], hist[0].ID)
	assert.Equal(t, ids[2], hist[2].ID)

	_, ok := e.GetStatus(ids[0])
	assert.False(t, ok)

	m0 := e.History("m0", 0)
	require.Len(t, m0, 2)
	assert.Equal(t, ids[4], m0[0].ID)
	assert.Len(t, e.History("", 1), 1)
}

func TestSeedHistory(t *testing.T) {
	e := newTestExecutor(t, baseConfig(nil, &fakeRollback{}))
	e.SeedHistory([]*datatypes.DeploymentExecution{
		{ID: "newer", ModelID: "m1", Status: datatypes.ExecutionCompleted},
		{ID: "older", ModelID: "m1", Status: datatypes.ExecutionFailed},
	})

	hist := e.History("m1", 0)
	require.Len(t, hist, 2)
	assert.Equal(t, "newer", hist[0].ID)
	x, ok := e.GetStatus("older")
	require.True(t, ok)
	assert.Equal(t, datatypes.ExecutionFailed, x.Status)
}

// =============================================================================
// Plugins
// =============================================================================

func TestRequirementsValidator(t *testing.T) {
	provider := monitoring.NewStaticProvider()
	provider.Set("m1", datatypes.ModelMetrics{ErrorRate: datatypes.Float(0.07), Accuracy: datatypes.Float(0.80), Extra: map[string]float64{"f1": 0.9}})

	plan := testPlan()
	plan.PerformanceRequirements = []datatypes.PerformanceRequirement{
		{MetricName: "error_rate", CriticalThreshold: 0.05},
		{MetricName: "accuracy", MinValue: 0.85},
		{MetricName: "f1", MinValue: 0.5},
		{MetricName: "missing", MinValue: 1},
		{MetricName: "health_score", MinValue: 0.5},
	}

	out := RequirementsValidator{Provider: provider}.Validate(context.Background(), plan)
	assert.False(t, out.Performance)
	assert.True(t, out.Functional)
	assert.True(t, out.Integration)
	assert.Len(t, out.Issues, 2)

	provider.SetUnavailable("m1")
	out = RequirementsValidator{Provider: provider}.Validate(context.Background(), plan)
	assert.True(t, out.Passed(), "unavailable metrics fail open")
}

func TestHealthCheck(t *testing.T) {
	plan := testPlan()
	ctx := context.Background()

	assert.NoError(t, healthCheck(nil, 0.05).Run(ctx, plan))

	p := monitoring.NewStaticProvider()
	assert.NoError(t, healthCheck(p, 0.05).Run(ctx, plan), "unknown model fails open")

	p.Set("m1", datatypes.ModelMetrics{HealthScore: datatypes.Float(0.9), ErrorRate: datatypes.Float(0.2)})
	assert.Error(t, healthCheck(p, 0.05).Run(ctx, plan))

	p.Set("m1", datatypes.ModelMetrics{HealthScore: datatypes.Float(0.3)})
	assert.Error(t, healthCheck(p, 0.05).Run(ctx, plan))

	p.Set("m1", datatypes.ModelMetrics{ErrorRate: datatypes.Float(0.01), Accuracy: datatypes.Float(0.95)})
	assert.NoError(t, healthCheck(p, 0.05).Run(ctx, plan), "unreported health score is not zero")
}

func TestSimulatedDeployers_Steps(t *testing.T) {
	deployers := SimulatedDeployers(nil, 0)
	for _, s := range []datatypes.DeploymentStrategy{
		datatypes.StrategyDirect, datatypes.StrategyRolling, datatypes.StrategyBlueGreen, datatypes.StrategyCanary,
	} {
		plan := testPlan()
		plan.Strategy = s
		var steps []string
		err := deployers[s].Deploy(context.Background(), plan, func(step string) { steps = append(steps, step) })
		require.NoError(t, err, s)
		assert.NotEmpty(t, steps, s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := SimulatedDeployers(nil, time.Hour)
	err := slow[datatypes.StrategyCanary].Deploy(ctx, testPlan(), func(string) {})
	assert.ErrorIs(t, err, context.Canceled)
}
