// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"
)

// PerformanceRequirement is a metric bound a deployment must keep.
type PerformanceRequirement struct {
	MetricName string `json:"metric_name" yaml:"metric_name" validate:"required"`

	// MinValue is a floor for higher-is-better metrics. Error-rate metrics
	// are exempt from the non-negative rule because they are ceilings.
	MinValue float64 `json:"min_value" yaml:"min_value"`

	// MaxDegradationPct is the allowed degradation relative to baseline, in percent.
	MaxDegradationPct float64 `json:"max_degradation_pct" yaml:"max_degradation_pct"`

	// CriticalThreshold is the value past which the requirement is breached outright.
	CriticalThreshold float64 `json:"critical_threshold" yaml:"critical_threshold"`
}

// DeploymentConstraint is an operational restriction attached to a plan.
type DeploymentConstraint struct {
	Type        string `json:"type" yaml:"type" validate:"required"`
	Description string `json:"description" yaml:"description"`
	Blocking    bool   `json:"blocking" yaml:"blocking"`

	// ValidationFunction names the check that enforces a blocking constraint.
	ValidationFunction string `json:"validation_function,omitempty" yaml:"validation_function,omitempty"`
}

// ModelMetadata is the caller supplied description of the target artifact.
//
// Every field is optional. A zero value means "absent" and skips the
// corresponding risk check.
type ModelMetadata struct {
	PerformanceMetrics   map[string]float64 `json:"performance_metrics,omitempty"`
	ModelSizeBytes       int64              `json:"model_size_bytes,omitempty" validate:"gte=0"`
	Architecture         string             `json:"architecture,omitempty"`
	PreviousArchitecture string             `json:"previous_architecture,omitempty"`
	RequiresGPU          bool               `json:"requires_gpu,omitempty"`
}

// Clone returns a deep copy of m.
func (m ModelMetadata) Clone() ModelMetadata {
	out := m
	out.PerformanceMetrics = cloneFloatMap(m.PerformanceMetrics)
	return out
}

// RiskFactor is one contributor to a risk assessment.
type RiskFactor struct {
	Type        string            `json:"type"`
	Severity    RiskLevel         `json:"severity"`
	Description string            `json:"description"`
	Details     map[string]string `json:"details,omitempty"`
}

// RiskAssessment is the transient result of assessing a version change.
type RiskAssessment struct {
	OverallRisk RiskLevel    `json:"overall_risk"`
	Factors     []RiskFactor `json:"factors"`
	Mitigations []string     `json:"mitigations"`
	Confidence  float64      `json:"confidence"`
}

// Clone returns a deep copy of r.
func (r RiskAssessment) Clone() RiskAssessment {
	out := r
	out.Factors = make([]RiskFactor, len(r.Factors))
	for i, f := range r.Factors {
		out.Factors[i] = f
		if f.Details != nil {
			d := make(map[string]string, len(f.Details))
			for k, v := range f.Details {
				d[k] = v
			}
			out.Factors[i].Details = d
		}
	}
	out.Mitigations = append([]string(nil), r.Mitigations...)
	return out
}

// PlanMetadata carries the inputs that produced a plan.
type PlanMetadata struct {
	RiskAssessment RiskAssessment `json:"risk_assessment"`
	TargetMetadata ModelMetadata  `json:"target_metadata"`
}

// DeploymentPlan describes what deployment to perform and how.
//
// # Description
//
// A plan is created by the planning manager and never changes afterwards
// except to record approval and retirement. Readers outside the planning
// package always receive a Clone.
type DeploymentPlan struct {
	ID                string             `json:"id"`
	ModelID           string             `json:"model_id"`
	SourceVersion     string             `json:"source_version"`
	TargetVersion     string             `json:"target_version"`
	Strategy          DeploymentStrategy `json:"strategy"`
	RiskLevel         RiskLevel          `json:"risk_level"`
	CreatedAt         time.Time          `json:"created_at"`
	EstimatedDuration time.Duration      `json:"estimated_duration"`
	RollbackStrategy  RollbackStrategy   `json:"rollback_strategy"`

	PerformanceRequirements []PerformanceRequirement `json:"performance_requirements"`
	Constraints             []DeploymentConstraint   `json:"constraints"`
	PreChecks               []string                 `json:"pre_checks"`
	PostChecks              []string                 `json:"post_checks"`

	ApprovalRequired bool       `json:"approval_required"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`

	RetiredAt        *time.Time `json:"retired_at,omitempty"`
	RetirementReason string     `json:"retirement_reason,omitempty"`

	Metadata PlanMetadata `json:"metadata"`
}

// IsApproved reports whether the plan may be executed from an approval standpoint.
func (p *DeploymentPlan) IsApproved() bool {
	return !p.ApprovalRequired || p.ApprovedBy != ""
}

// Clone returns a deep copy of p.
func (p *DeploymentPlan) Clone() *DeploymentPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.PerformanceRequirements = append([]PerformanceRequirement(nil), p.PerformanceRequirements...)
	out.Constraints = append([]DeploymentConstraint(nil), p.Constraints...)
	out.PreChecks = append([]string(nil), p.PreChecks...)
	out.PostChecks = append([]string(nil), p.PostChecks...)
	out.ApprovedAt = cloneTime(p.ApprovedAt)
	out.RetiredAt = cloneTime(p.RetiredAt)
	out.Metadata = PlanMetadata{
		RiskAssessment: p.Metadata.RiskAssessment.Clone(),
		TargetMetadata: p.Metadata.TargetMetadata.Clone(),
	}
	return &out
}

// ValidationResult is the aggregated outcome of validating a plan.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
