// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollback

import (
	"sort"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// DefaultRules returns the rule set installed at construction.
func DefaultRules() []datatypes.RollbackRule {
	return []datatypes.RollbackRule{
		{
			ID:          "error_rate_spike",
			Trigger:     datatypes.TriggerErrorRateSpike,
			Condition:   "error_rate > threshold",
			Threshold:   0.05,
			Strategy:    datatypes.RollbackInstantSwitch,
			AutoExecute: true,
			Priority:    100,
			Description: "Error rate above 5%",
		},
		{
			ID:          "health_check_failure",
			Trigger:     datatypes.TriggerHealthCheckFailure,
			Condition:   "health_score < threshold",
			Threshold:   0.5,
			Strategy:    datatypes.RollbackEmergencyStop,
			AutoExecute: true,
			Priority:    90,
			Description: "Health score below 0.5",
		},
		{
			ID:          "performance_degradation",
			Trigger:     datatypes.TriggerPerformanceDegradation,
			Condition:   "accuracy < threshold",
			Threshold:   0.7,
			Strategy:    datatypes.RollbackTrafficReduction,
			AutoExecute: true,
			Priority:    80,
			Description: "Accuracy below 0.7",
		},
	}
}

// evaluate reports whether rule fires against m, with the observed value.
// Rules reading a metric the snapshot does not report never fire.
func evaluate(rule datatypes.RollbackRule, m *datatypes.ModelMetrics) (float64, bool) {
	var (
		name  string
		floor bool
	)
	switch rule.Trigger {
	case datatypes.TriggerPerformanceDegradation:
		name, floor = datatypes.MetricAccuracy, true
	case datatypes.TriggerErrorRateSpike:
		name = datatypes.MetricErrorRate
	case datatypes.TriggerHealthCheckFailure:
		name, floor = datatypes.MetricHealthScore, true
	case datatypes.TriggerTimeout:
		name = datatypes.MetricTimeoutRate
	case datatypes.TriggerResourceExhaustion:
		name = datatypes.MetricResourceUtilization
	default:
		return 0, false
	}
	v, ok := m.Value(name)
	if !ok {
		return 0, false
	}
	if floor {
		return v, v < rule.Threshold
	}
	return v, v > rule.Threshold
}

// sortRules orders rules by priority, highest first, then by id.
func sortRules(rules []datatypes.RollbackRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
