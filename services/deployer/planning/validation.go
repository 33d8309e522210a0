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
	"fmt"

	"github.com/blang/semver"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// maxDegradationWarnPct is the allowed degradation above which a
// requirement is considered too loose to protect anything.
const maxDegradationWarnPct = 50.0

// ErrMsgCriticalDirect is the validation error for a critical plan that
// would cut over in one step.
const ErrMsgCriticalDirect = "critical risk deployments are incompatible with the direct strategy"

// ValidatePlan validates a stored plan.
//
// # Outputs
//
//   - datatypes.ValidationResult: IsValid iff Errors is empty
//   - error: ErrPlanNotFound if no plan has the id
func (m *Manager) ValidatePlan(planID string) (datatypes.ValidationResult, error) {
	plan, ok := m.GetPlan(planID)
	if !ok {
		return datatypes.ValidationResult{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	result := Validate(plan)
	m.metrics.RecordPlanValidation(result.IsValid)
	if !result.IsValid {
		m.logger.Warn("deployment plan failed validation",
			"plan_id", planID, "model_id", plan.ModelID, "errors", result.Errors)
	}
	return result, nil
}

// Validate checks a plan's structure and policy compatibility.
//
// # Description
//
// Errors:
//   - a requirement with a negative minimum (error-rate metrics exempt),
//     negative critical threshold, or negative allowed degradation
//   - a blocking constraint that names no validation function
//   - critical risk combined with the direct strategy
//
// Warnings:
//   - allowed degradation above 50%
//   - strategies that need capacity for two versions at once
//   - target version older than or equal to the source version
func Validate(plan *datatypes.DeploymentPlan) datatypes.ValidationResult {
	res := datatypes.ValidationResult{Errors: []string{}, Warnings: []string{}}

	for _, req := range plan.PerformanceRequirements {
		if req.MinValue < 0 && !isErrorMetric(req.MetricName) {
			res.Errors = append(res.Errors, fmt.Sprintf("requirement %s: minimum value must be non-negative", req.MetricName))
		}
		if req.CriticalThreshold < 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("requirement %s: critical threshold must be non-negative", req.MetricName))
		}
		if req.MaxDegradationPct < 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("requirement %s: allowed degradation must be non-negative", req.MetricName))
		} else if req.MaxDegradationPct > maxDegradationWarnPct {
			res.Warnings = append(res.Warnings, fmt.Sprintf("requirement %s: allowed degradation %.0f%% exceeds %.0f%%",
				req.MetricName, req.MaxDegradationPct, maxDegradationWarnPct))
		}
	}

	for _, c := range plan.Constraints {
		if c.Blocking && c.ValidationFunction == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("blocking constraint %s has no validation function", c.Type))
		}
	}

	if plan.RiskLevel == datatypes.RiskCritical && plan.Strategy == datatypes.StrategyDirect {
		res.Errors = append(res.Errors, ErrMsgCriticalDirect)
	}

	switch plan.Strategy {
	case datatypes.StrategyBlueGreen:
		res.Warnings = append(res.Warnings, "blue_green requires capacity for two full environments during cutover")
	case datatypes.StrategyCanary:
		res.Warnings = append(res.Warnings, "canary requires capacity to run both versions in parallel")
	}

	if w := versionWarning(plan.SourceVersion, plan.TargetVersion); w != "" {
		res.Warnings = append(res.Warnings, w)
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// versionWarning flags downgrades and no-op deployments. Versions that are
// not semver are only compared for equality.
func versionWarning(source, target string) string {
	if source == target {
		return fmt.Sprintf("target version %s equals source version", target)
	}
	sv, errS := semver.ParseTolerant(source)
	tv, errT := semver.ParseTolerant(target)
	if errS != nil || errT != nil {
		return ""
	}
	switch {
	case tv.LT(sv):
		return fmt.Sprintf("target version %s is older than source version %s", target, source)
	case tv.EQ(sv):
		return fmt.Sprintf("target version %s is equivalent to source version %s", target, source)
	}
	return ""
}
