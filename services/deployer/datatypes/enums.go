// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model of the deployment
// orchestrator: plans, executions, rollback records, rules and metrics.
//
// # Description
//
// Every dispatch axis (risk, deployment strategy, rollback strategy, phase,
// trigger) is a closed set of typed string constants. Components map each
// value to an implementation with an explicit table, so an unknown value is
// always handled by a deliberate default case rather than a string lookup
// that silently misses.
//
// # Thread Safety
//
// Values in this package are plain data. Components that share them across
// goroutines hand out copies via the Clone methods.
package datatypes

import "strings"

// =============================================================================
// Risk Levels
// =============================================================================

// RiskLevel is the coarse severity classification of a deployment.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is one of the known risk levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Rank orders risk levels from 0 (low) to 3 (critical). Unknown levels rank -1.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return -1
}

// AtLeast returns true if r is as severe as or more severe than other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// ParseRiskLevel parses a case-insensitive risk level name.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", false
	}
	return r, true
}

// =============================================================================
// Deployment Strategies
// =============================================================================

// DeploymentStrategy is the rollout mechanism used to move traffic to a new version.
type DeploymentStrategy string

const (
	StrategyDirect    DeploymentStrategy = "direct"
	StrategyRolling   DeploymentStrategy = "rolling"
	StrategyBlueGreen DeploymentStrategy = "blue_green"
	StrategyCanary    DeploymentStrategy = "canary"
)

// Valid reports whether s is one of the known deployment strategies.
func (s DeploymentStrategy) Valid() bool {
	switch s {
	case StrategyDirect, StrategyRolling, StrategyBlueGreen, StrategyCanary:
		return true
	}
	return false
}

// NeedsParallelCapacity is true for strategies that run old and new
// versions side by side.
func (s DeploymentStrategy) NeedsParallelCapacity() bool {
	return s == StrategyBlueGreen || s == StrategyCanary
}

// =============================================================================
// Rollback Strategies
// =============================================================================

// RollbackStrategy is the mechanism used to revert a model to an earlier version.
type RollbackStrategy string

const (
	RollbackInstantSwitch    RollbackStrategy = "instant_switch"
	RollbackTrafficReduction RollbackStrategy = "traffic_reduction"
	RollbackReverseRolling   RollbackStrategy = "reverse_rolling"
	RollbackVersionRevert    RollbackStrategy = "version_revert"
	RollbackEmergencyStop    RollbackStrategy = "emergency_stop"
)

// AllRollbackStrategies lists every rollback strategy in a stable order.
var AllRollbackStrategies = []RollbackStrategy{
	RollbackInstantSwitch,
	RollbackTrafficReduction,
	RollbackReverseRolling,
	RollbackVersionRevert,
	RollbackEmergencyStop,
}

// Valid reports whether s is one of the known rollback strategies.
func (s RollbackStrategy) Valid() bool {
	for _, known := range AllRollbackStrategies {
		if s == known {
			return true
		}
	}
	return false
}

// =============================================================================
// Execution Phases and Status
// =============================================================================

// ExecutionPhase is one discrete stage of a deployment execution.
//
// Phases advance strictly in the order Initializing, PreChecks, Deploying,
// PostChecks, Validating, Monitoring, Completed. Any phase may move to
// RollingBack or Failed; RollingBack ends in Completed (status RolledBack)
// or Failed.
type ExecutionPhase string

const (
	PhaseInitializing ExecutionPhase = "initializing"
	PhasePreChecks    ExecutionPhase = "pre_checks"
	PhaseDeploying    ExecutionPhase = "deploying"
	PhasePostChecks   ExecutionPhase = "post_checks"
	PhaseValidating   ExecutionPhase = "validating"
	PhaseMonitoring   ExecutionPhase = "monitoring"
	PhaseCompleted    ExecutionPhase = "completed"
	PhaseRollingBack  ExecutionPhase = "rolling_back"
	PhaseFailed       ExecutionPhase = "failed"
)

// Terminal reports whether no further transitions are possible from p.
func (p ExecutionPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// ExecutionStatus is the coarse outcome of a deployment execution.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionRolledBack ExecutionStatus = "rolled_back"
)

// Terminal reports whether the execution has finished.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionRolledBack
}

// =============================================================================
// Rollback Triggers and Status
// =============================================================================

// TriggerType identifies what caused a rollback.
type TriggerType string

const (
	TriggerManual                 TriggerType = "manual"
	TriggerPerformanceDegradation TriggerType = "performance_degradation"
	TriggerErrorRateSpike         TriggerType = "error_rate_spike"
	TriggerHealthCheckFailure     TriggerType = "health_check_failure"
	TriggerTimeout                TriggerType = "timeout"
	TriggerResourceExhaustion     TriggerType = "resource_exhaustion"
)

// Valid reports whether t is one of the known trigger types.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerManual, TriggerPerformanceDegradation, TriggerErrorRateSpike,
		TriggerHealthCheckFailure, TriggerTimeout, TriggerResourceExhaustion:
		return true
	}
	return false
}

// RollbackStatus is the lifecycle state of a rollback execution.
type RollbackStatus string

const (
	RollbackTriggered RollbackStatus = "triggered"
	RollbackExecuting RollbackStatus = "executing"
	RollbackCompleted RollbackStatus = "completed"
	RollbackFailed    RollbackStatus = "failed"
)

// Terminal reports whether the rollback has finished.
func (s RollbackStatus) Terminal() bool {
	return s == RollbackCompleted || s == RollbackFailed
}
