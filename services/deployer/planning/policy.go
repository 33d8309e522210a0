// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planning

import (
	"time"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// Check names produced by the planner.
const (
	CheckModelValidation       = "model_validation"
	CheckResourceAvailability  = "resource_availability"
	CheckDependency            = "dependency_check"
	CheckSecurityScan          = "security_scan"
	CheckGPUAvailability       = "gpu_availability"
	CheckStorageCapacity       = "storage_capacity"
	CheckHealth                = "health_check"
	CheckPerformanceValidation = "performance_validation"
	CheckIntegrationTest       = "integration_test"
	CheckMonitoringSetup       = "monitoring_setup"
)

// strategyByRisk is the deterministic risk to rollout mapping.
var strategyByRisk = map[datatypes.RiskLevel]datatypes.DeploymentStrategy{
	datatypes.RiskLow:      datatypes.StrategyDirect,
	datatypes.RiskMedium:   datatypes.StrategyRolling,
	datatypes.RiskHigh:     datatypes.StrategyBlueGreen,
	datatypes.RiskCritical: datatypes.StrategyCanary,
}

var baseDuration = map[datatypes.DeploymentStrategy]time.Duration{
	datatypes.StrategyDirect:    15 * time.Minute,
	datatypes.StrategyRolling:   30 * time.Minute,
	datatypes.StrategyBlueGreen: 45 * time.Minute,
	datatypes.StrategyCanary:    120 * time.Minute,
}

var riskMultiplier = map[datatypes.RiskLevel]float64{
	datatypes.RiskLow:      1.0,
	datatypes.RiskMedium:   1.2,
	datatypes.RiskHigh:     1.5,
	datatypes.RiskCritical: 2.0,
}

var rollbackByStrategy = map[datatypes.DeploymentStrategy]datatypes.RollbackStrategy{
	datatypes.StrategyBlueGreen: datatypes.RollbackInstantSwitch,
	datatypes.StrategyCanary:    datatypes.RollbackTrafficReduction,
	datatypes.StrategyRolling:   datatypes.RollbackReverseRolling,
}

// SelectStrategy maps a risk level to a rollout strategy. Unknown levels
// are treated as critical.
func SelectStrategy(risk datatypes.RiskLevel) datatypes.DeploymentStrategy {
	if s, ok := strategyByRisk[risk]; ok {
		return s
	}
	return datatypes.StrategyCanary
}

// EstimateDuration scales the strategy's base duration by the risk multiplier.
func EstimateDuration(strategy datatypes.DeploymentStrategy, risk datatypes.RiskLevel) time.Duration {
	base, ok := baseDuration[strategy]
	if !ok {
		base = baseDuration[datatypes.StrategyDirect]
	}
	mult, ok := riskMultiplier[risk]
	if !ok {
		mult = riskMultiplier[datatypes.RiskCritical]
	}
	return time.Duration(float64(base) * mult)
}

// PreChecks returns the ordered pre-deployment checks for a target.
func PreChecks(meta datatypes.ModelMetadata) []string {
	checks := []string{CheckModelValidation, CheckResourceAvailability, CheckDependency, CheckSecurityScan}
	if meta.RequiresGPU {
		checks = append(checks, CheckGPUAvailability)
	}
	if meta.ModelSizeBytes > storageCheckBytes {
		checks = append(checks, CheckStorageCapacity)
	}
	return checks
}

// PostChecks returns the ordered post-deployment checks.
func PostChecks() []string {
	return []string{CheckHealth, CheckPerformanceValidation, CheckIntegrationTest, CheckMonitoringSetup}
}

// RequiresApproval reports whether a human must approve before execution.
func RequiresApproval(risk datatypes.RiskLevel, strategy datatypes.DeploymentStrategy) bool {
	return risk.AtLeast(datatypes.RiskHigh) || strategy.NeedsParallelCapacity()
}

// RollbackStrategyFor picks the reversal mechanism matching a rollout.
func RollbackStrategyFor(strategy datatypes.DeploymentStrategy) datatypes.RollbackStrategy {
	if rb, ok := rollbackByStrategy[strategy]; ok {
		return rb
	}
	return datatypes.RollbackVersionRevert
}

// DefaultRequirements derives performance requirements from the target's
// own metrics when the caller supplied none.
//
// Higher-is-better metrics get a floor 10% under the target value and a
// critical threshold 20% under it. Error-rate metrics get a 0.05 ceiling.
// Latency metrics are left to the caller.
func DefaultRequirements(meta datatypes.ModelMetadata) []datatypes.PerformanceRequirement {
	reqs := []datatypes.PerformanceRequirement{{
		MetricName:        datatypes.MetricErrorRate,
		MinValue:          0,
		MaxDegradationPct: 10,
		CriticalThreshold: 0.05,
	}}
	for _, name := range sortedKeys(meta.PerformanceMetrics) {
		if lowerIsBetter(name) {
			continue
		}
		v := meta.PerformanceMetrics[name]
		if v <= 0 {
			continue
		}
		reqs = append(reqs, datatypes.PerformanceRequirement{
			MetricName:        name,
			MinValue:          v * 0.9,
			MaxDegradationPct: 10,
			CriticalThreshold: v * 0.8,
		})
	}
	return reqs
}
