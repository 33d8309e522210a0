// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the deployer.
//
// # Description
//
// Prometheus metrics cover the three components:
//   - planning: plans created by risk and strategy, validation outcomes
//   - executor: executions started and finished, phase durations, active gauge
//   - rollback: rollbacks by trigger, strategy and status, rule evaluations,
//     watch cycles, monitored models
//
// Span helpers wrap the global OpenTelemetry tracer.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe to call on a nil *Metrics, which records nothing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "aleutian"
	deployerSubsystem = "deployer"
)

// Metrics holds all Prometheus metrics for the deployer.
type Metrics struct {
	// PlansCreatedTotal counts plans by risk level and strategy.
	PlansCreatedTotal *prometheus.CounterVec

	// PlanValidationsTotal counts validate calls by result (valid, invalid).
	PlanValidationsTotal *prometheus.CounterVec

	// ExecutionsStartedTotal counts executions by strategy.
	ExecutionsStartedTotal *prometheus.CounterVec

	// ExecutionsFinishedTotal counts terminal executions by status.
	ExecutionsFinishedTotal *prometheus.CounterVec

	// PhaseDurationSeconds measures each phase of an execution.
	PhaseDurationSeconds *prometheus.HistogramVec

	// ActiveExecutions tracks executions that have not finalized.
	ActiveExecutions prometheus.Gauge

	// RollbacksTotal counts finished rollbacks by trigger, strategy and status.
	RollbacksTotal *prometheus.CounterVec

	// RollbackDurationSeconds measures rollback strategy execution.
	RollbackDurationSeconds *prometheus.HistogramVec

	// ActiveRollbacks tracks rollbacks that have not finalized.
	ActiveRollbacks prometheus.Gauge

	// RuleEvaluationsTotal counts rule evaluations by rule id and outcome.
	RuleEvaluationsTotal *prometheus.CounterVec

	// WatchCyclesTotal counts completed watch loop cycles.
	WatchCyclesTotal prometheus.Counter

	// MetricsUnavailableTotal counts failed metric fetches by consumer.
	MetricsUnavailableTotal *prometheus.CounterVec

	// MonitoredModels tracks models registered with the watch loop.
	MonitoredModels prometheus.Gauge
}

// NewMetrics creates and registers the deployer metrics on reg.
//
// # Inputs
//
//   - reg: registry to register on. Tests pass prometheus.NewRegistry();
//     main passes prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PlansCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "plans_created_total",
				Help:      "Total deployment plans created by risk level and strategy",
			},
			[]string{"risk", "strategy"},
		),
		PlanValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "plan_validations_total",
				Help:      "Total plan validations by result",
			},
			[]string{"result"},
		),
		ExecutionsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "executions_started_total",
				Help:      "Total deployment executions started by strategy",
			},
			[]string{"strategy"},
		),
		ExecutionsFinishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "executions_finished_total",
				Help:      "Total deployment executions finished by terminal status",
			},
			[]string{"status"},
		),
		PhaseDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "phase_duration_seconds",
				Help:      "Duration of each execution phase in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 300, 900},
			},
			[]string{"phase"},
		),
		ActiveExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "active_executions",
				Help:      "Number of executions currently in progress",
			},
		),
		RollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "rollbacks_total",
				Help:      "Total rollbacks by trigger, strategy and status",
			},
			[]string{"trigger", "strategy", "status"},
		),
		RollbackDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "rollback_duration_seconds",
				Help:      "Duration of rollback strategy execution in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"strategy"},
		),
		ActiveRollbacks: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "active_rollbacks",
				Help:      "Number of rollbacks currently executing",
			},
		),
		RuleEvaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "rule_evaluations_total",
				Help:      "Total rollback rule evaluations by rule and outcome",
			},
			[]string{"rule", "outcome"},
		),
		WatchCyclesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "watch_cycles_total",
				Help:      "Total rollback watch loop cycles completed",
			},
		),
		MetricsUnavailableTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "metrics_unavailable_total",
				Help:      "Total metric fetches that failed by consumer",
			},
			[]string{"consumer"},
		),
		MonitoredModels: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: deployerSubsystem,
				Name:      "monitored_models",
				Help:      "Number of models registered with the rollback watch loop",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordPlanCreated records a new plan.
func (m *Metrics) RecordPlanCreated(risk, strategy string) {
	if m == nil {
		return
	}
	m.PlansCreatedTotal.WithLabelValues(risk, strategy).Inc()
}

// RecordPlanValidation records a validation outcome.
func (m *Metrics) RecordPlanValidation(valid bool) {
	if m == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.PlanValidationsTotal.WithLabelValues(result).Inc()
}

// ExecutionStarted records a started execution and bumps the active gauge.
func (m *Metrics) ExecutionStarted(strategy string) {
	if m == nil {
		return
	}
	m.ExecutionsStartedTotal.WithLabelValues(strategy).Inc()
	m.ActiveExecutions.Inc()
}

// ExecutionFinished records a terminal execution and drops the active gauge.
func (m *Metrics) ExecutionFinished(status string) {
	if m == nil {
		return
	}
	m.ExecutionsFinishedTotal.WithLabelValues(status).Inc()
	m.ActiveExecutions.Dec()
}

// ObservePhase records how long a phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDurationSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// RollbackStarted bumps the active rollback gauge.
func (m *Metrics) RollbackStarted() {
	if m == nil {
		return
	}
	m.ActiveRollbacks.Inc()
}

// RollbackFinished records a finished rollback and drops the active gauge.
func (m *Metrics) RollbackFinished(trigger, strategy, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RollbacksTotal.WithLabelValues(trigger, strategy, status).Inc()
	m.RollbackDurationSeconds.WithLabelValues(strategy).Observe(d.Seconds())
	m.ActiveRollbacks.Dec()
}

// RecordRuleEvaluation records whether a rule fired for one model.
func (m *Metrics) RecordRuleEvaluation(ruleID string, fired bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if fired {
		outcome = "fired"
	}
	m.RuleEvaluationsTotal.WithLabelValues(ruleID, outcome).Inc()
}

// RecordWatchCycle records one completed watch loop cycle.
func (m *Metrics) RecordWatchCycle() {
	if m == nil {
		return
	}
	m.WatchCyclesTotal.Inc()
}

// RecordMetricsUnavailable records a failed metrics fetch.
func (m *Metrics) RecordMetricsUnavailable(consumer string) {
	if m == nil {
		return
	}
	m.MetricsUnavailableTotal.WithLabelValues(consumer).Inc()
}

// SetMonitoredModels sets the monitored model gauge.
func (m *Metrics) SetMonitoredModels(n int) {
	if m == nil {
		return
	}
	m.MonitoredModels.Set(float64(n))
}
