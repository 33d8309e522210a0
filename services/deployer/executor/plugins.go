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
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/monitoring"
)

// =============================================================================
// Checks
// =============================================================================

// Check is a named pre or post deployment check.
//
// # Description
//
// Run returns nil when the check passes. The error message becomes the
// check result message. Checks run to completion; the executor never
// interrupts one except through ctx.
type Check interface {
	Run(ctx context.Context, plan *datatypes.DeploymentPlan) error
}

// CheckFunc adapts a function to Check.
type CheckFunc func(ctx context.Context, plan *datatypes.DeploymentPlan) error

// Run calls f.
func (f CheckFunc) Run(ctx context.Context, plan *datatypes.DeploymentPlan) error {
	return f(ctx, plan)
}

// minHealthScore is the health score below which the built-in health check
// fails.
const minHealthScore = 0.5

// healthCheck consults the monitoring provider. It fails open: no provider,
// no metrics or an unreported metric counts as healthy.
func healthCheck(provider monitoring.Provider, errorRateLimit float64) Check {
	return CheckFunc(func(ctx context.Context, plan *datatypes.DeploymentPlan) error {
		if provider == nil {
			return nil
		}
		m, err := provider.GetCurrentMetrics(ctx, plan.ModelID)
		if err != nil || m == nil {
			return nil
		}
		if v, ok := m.Value(datatypes.MetricHealthScore); ok && v < minHealthScore {
			return fmt.Errorf("health score %.2f below %.2f", v, minHealthScore)
		}
		if v, ok := m.Value(datatypes.MetricErrorRate); ok && v > errorRateLimit {
			return fmt.Errorf("error rate %.4f above %.4f", v, errorRateLimit)
		}
		return nil
	})
}

// =============================================================================
// Deployers
// =============================================================================

// Deployer performs the mechanical rollout for one strategy.
//
// # Description
//
// logStep records human-readable progress; the recorded steps end up in
// the execution's StrategyResult. A returned error fails the deploying
// phase and triggers a rollback.
type Deployer interface {
	Deploy(ctx context.Context, plan *datatypes.DeploymentPlan, logStep func(string)) error
}

// DeployerFunc adapts a function to Deployer.
type DeployerFunc func(ctx context.Context, plan *datatypes.DeploymentPlan, logStep func(string)) error

// Deploy calls f.
func (f DeployerFunc) Deploy(ctx context.Context, plan *datatypes.DeploymentPlan, logStep func(string)) error {
	return f(ctx, plan, logStep)
}

// stubDeployer stands in for strategies with no registered deployer.
var stubDeployer = DeployerFunc(func(_ context.Context, plan *datatypes.DeploymentPlan, logStep func(string)) error {
	logStep(fmt.Sprintf("No deployer registered for %s; nothing to do", plan.Strategy))
	return nil
})

// simulatedSteps returns the scripted steps of each strategy.
func simulatedSteps(plan *datatypes.DeploymentPlan) []string {
	switch plan.Strategy {
	case datatypes.StrategyDirect:
		return []string{
			fmt.Sprintf("Stop %s", plan.SourceVersion),
			fmt.Sprintf("Start %s", plan.TargetVersion),
		}
	case datatypes.StrategyRolling:
		steps := make([]string, 0, 3)
		for i := 1; i <= 3; i++ {
			steps = append(steps, fmt.Sprintf("Update instance batch %d/3 to %s", i, plan.TargetVersion))
		}
		return steps
	case datatypes.StrategyBlueGreen:
		return []string{
			fmt.Sprintf("Provision green environment with %s", plan.TargetVersion),
			"Warm up green environment",
			"Switch traffic to green",
			fmt.Sprintf("Keep blue environment on %s for rollback", plan.SourceVersion),
		}
	case datatypes.StrategyCanary:
		steps := make([]string, 0, 4)
		for _, pct := range []int{5, 25, 50, 100} {
			steps = append(steps, fmt.Sprintf("Route %d%% of traffic to %s", pct, plan.TargetVersion))
		}
		return steps
	}
	return nil
}

// SimulatedDeployers returns a deployer per strategy that walks the
// strategy's scripted steps, waiting delay between them.
func SimulatedDeployers(clk clock.Clock, delay time.Duration) map[datatypes.DeploymentStrategy]Deployer {
	if clk == nil {
		clk = clock.WallClock
	}
	sim := DeployerFunc(func(ctx context.Context, plan *datatypes.DeploymentPlan, logStep func(string)) error {
		for _, step := range simulatedSteps(plan) {
			if err := sleep(ctx, clk, delay); err != nil {
				return err
			}
			logStep(step)
		}
		return nil
	})
	return map[datatypes.DeploymentStrategy]Deployer{
		datatypes.StrategyDirect:    sim,
		datatypes.StrategyRolling:   sim,
		datatypes.StrategyBlueGreen: sim,
		datatypes.StrategyCanary:    sim,
	}
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validator judges a deployed version across the performance, functional
// and integration dimensions.
type Validator interface {
	Validate(ctx context.Context, plan *datatypes.DeploymentPlan) datatypes.ValidationOutcome
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, plan *datatypes.DeploymentPlan) datatypes.ValidationOutcome

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, plan *datatypes.DeploymentPlan) datatypes.ValidationOutcome {
	return f(ctx, plan)
}

// RequirementsValidator evaluates the plan's performance requirements
// against live metrics.
//
// # Description
//
// Error-rate requirements are ceilings on CriticalThreshold; every other
// metric is a floor on MinValue. Metrics the provider does not report are
// skipped. An unreachable provider passes. Functional and integration
// dimensions always pass; plug a different Validator to test them.
type RequirementsValidator struct {
	Provider monitoring.Provider
}

// Validate implements Validator.
func (v RequirementsValidator) Validate(ctx context.Context, plan *datatypes.DeploymentPlan) datatypes.ValidationOutcome {
	out := datatypes.ValidationOutcome{Performance: true, Functional: true, Integration: true}
	if v.Provider == nil || len(plan.PerformanceRequirements) == 0 {
		return out
	}
	m, err := v.Provider.GetCurrentMetrics(ctx, plan.ModelID)
	if err != nil || m == nil {
		return out
	}
	for _, req := range plan.PerformanceRequirements {
		val, ok := m.Value(req.MetricName)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(req.MetricName), "error") {
			if req.CriticalThreshold > 0 && val > req.CriticalThreshold {
				out.Performance = false
				out.Issues = append(out.Issues, fmt.Sprintf("%s %.4f exceeds critical threshold %.4f", req.MetricName, val, req.CriticalThreshold))
			}
			continue
		}
		if val < req.MinValue {
			out.Performance = false
			out.Issues = append(out.Issues, fmt.Sprintf("%s %.4f below minimum %.4f", req.MetricName, val, req.MinValue))
		}
	}
	return out
}
