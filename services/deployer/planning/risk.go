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
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// Risk thresholds.
const (
	// degradationMediumPct flags a metric that got worse by more than this.
	degradationMediumPct = 10.0

	// degradationHighPct escalates a degraded metric to high severity.
	degradationHighPct = 20.0

	// largeModelBytes flags artifacts that are slow to load and roll back.
	largeModelBytes = 500 * 1024 * 1024

	// storageCheckBytes adds a storage capacity pre-check.
	storageCheckBytes = 100 * 1024 * 1024
)

// Risk factor types.
const (
	FactorPerformanceDegradation = "performance_degradation"
	FactorModelSize              = "model_size"
	FactorArchitectureChange     = "architecture_change"
)

// RiskAssessor scores a version change against a stored baseline.
//
// # Description
//
// Three independent checks each contribute at most one factor per subject:
//
//   - every metric present in both baseline and target that degrades more
//     than 10% (high severity above 20%)
//   - artifacts larger than 500MB (medium)
//   - a changed architecture identifier (high)
//
// Absent inputs skip their check. Metrics whose name contains "error" or
// "latency" are lower-is-better, so an increase is a degradation.
//
// # Thread Safety
//
// Stateless and safe for concurrent use.
type RiskAssessor struct{}

// NewRiskAssessor creates a RiskAssessor.
func NewRiskAssessor() *RiskAssessor {
	return &RiskAssessor{}
}

// Assess returns the risk assessment of deploying meta over baseline.
func (r *RiskAssessor) Assess(baseline map[string]float64, meta datatypes.ModelMetadata) datatypes.RiskAssessment {
	var factors []datatypes.RiskFactor

	factors = append(factors, degradationFactors(baseline, meta.PerformanceMetrics)...)

	if meta.ModelSizeBytes > largeModelBytes {
		factors = append(factors, datatypes.RiskFactor{
			Type:        FactorModelSize,
			Severity:    datatypes.RiskMedium,
			Description: fmt.Sprintf("model size %s exceeds %s", formatBytes(meta.ModelSizeBytes), formatBytes(largeModelBytes)),
			Details:     map[string]string{"size_bytes": fmt.Sprintf("%d", meta.ModelSizeBytes)},
		})
	}

	if meta.Architecture != "" && meta.PreviousArchitecture != "" && meta.Architecture != meta.PreviousArchitecture {
		factors = append(factors, datatypes.RiskFactor{
			Type:        FactorArchitectureChange,
			Severity:    datatypes.RiskHigh,
			Description: fmt.Sprintf("architecture changed from %s to %s", meta.PreviousArchitecture, meta.Architecture),
			Details: map[string]string{
				"from": meta.PreviousArchitecture,
				"to":   meta.Architecture,
			},
		})
	}

	overall := aggregateRisk(factors)
	return datatypes.RiskAssessment{
		OverallRisk: overall,
		Factors:     factors,
		Mitigations: mitigationsFor(factors, overall),
		Confidence:  math.Max(0.5, 1-0.1*float64(len(factors))),
	}
}

// degradationFactors compares target metrics with the baseline. Metrics are
// visited in name order so the factor list is deterministic.
func degradationFactors(baseline, target map[string]float64) []datatypes.RiskFactor {
	if len(baseline) == 0 || len(target) == 0 {
		return nil
	}
	names := make([]string, 0, len(target))
	for name := range target {
		if _, ok := baseline[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var factors []datatypes.RiskFactor
	for _, name := range names {
		pct, ok := degradationPct(name, baseline[name], target[name])
		if !ok || pct <= degradationMediumPct {
			continue
		}
		severity := datatypes.RiskMedium
		if pct > degradationHighPct {
			severity = datatypes.RiskHigh
		}
		factors = append(factors, datatypes.RiskFactor{
			Type:        FactorPerformanceDegradation,
			Severity:    severity,
			Description: fmt.Sprintf("%s degraded %.1f%% against baseline", name, pct),
			Details: map[string]string{
				"metric":          name,
				"baseline":        fmt.Sprintf("%g", baseline[name]),
				"target":          fmt.Sprintf("%g", target[name]),
				"degradation_pct": fmt.Sprintf("%.2f", pct),
			},
		})
	}
	return factors
}

// degradationPct returns how much worse target is than base, in percent.
// A zero baseline has no meaningful ratio and is skipped.
func degradationPct(name string, base, target float64) (float64, bool) {
	if base == 0 {
		return 0, false
	}
	if lowerIsBetter(name) {
		return (target - base) / math.Abs(base) * 100, true
	}
	return (base - target) / math.Abs(base) * 100, true
}

func lowerIsBetter(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "error") || strings.Contains(n, "latency")
}

func isErrorMetric(name string) bool {
	return strings.Contains(strings.ToLower(name), "error")
}

// aggregateRisk folds factor severities into an overall level.
func aggregateRisk(factors []datatypes.RiskFactor) datatypes.RiskLevel {
	var high, medium int
	for _, f := range factors {
		switch f.Severity {
		case datatypes.RiskHigh, datatypes.RiskCritical:
			high++
		case datatypes.RiskMedium:
			medium++
		}
	}
	switch {
	case high >= 2:
		return datatypes.RiskCritical
	case high >= 1:
		return datatypes.RiskHigh
	case medium >= 2:
		return datatypes.RiskMedium
	default:
		return datatypes.RiskLow
	}
}

func mitigationsFor(factors []datatypes.RiskFactor, overall datatypes.RiskLevel) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, f := range factors {
		switch f.Type {
		case FactorPerformanceDegradation:
			add(fmt.Sprintf("Compare %s against baseline under production traffic before full cutover", f.Details["metric"]))
		case FactorModelSize:
			add("Confirm memory and disk headroom and pre-warm model caches")
		case FactorArchitectureChange:
			add("Run the full integration suite against the new architecture")
		}
	}
	if overall.AtLeast(datatypes.RiskHigh) {
		add("Keep the previous version warm for an instant rollback")
	}
	return out
}

func formatBytes(n int64) string {
	const mb = 1024 * 1024
	return fmt.Sprintf("%.0fMB", float64(n)/mb)
}
