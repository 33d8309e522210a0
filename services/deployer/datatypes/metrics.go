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

import "time"

// Well known metric names.
const (
	MetricErrorRate           = "error_rate"
	MetricAccuracy            = "accuracy"
	MetricHealthScore         = "health_score"
	MetricTimeoutRate         = "timeout_rate"
	MetricResourceUtilization = "resource_utilization"
)

// ModelMetrics is a point-in-time snapshot of a model's live health.
//
// The fixed fields are pointers: a provider that does not report a metric
// leaves it nil, which is distinct from a reported zero. Rules and checks
// reading an absent metric do not fire.
type ModelMetrics struct {
	ModelID     string             `json:"model_id"`
	ErrorRate   *float64           `json:"error_rate,omitempty"`
	Accuracy    *float64           `json:"accuracy,omitempty"`
	HealthScore *float64           `json:"health_score,omitempty"`
	Extra       map[string]float64 `json:"extra,omitempty"`
	CollectedAt time.Time          `json:"collected_at"`
}

// Float returns a pointer to v, for filling ModelMetrics literals.
func Float(v float64) *float64 { return &v }

// Value returns the named metric and whether the snapshot reports it,
// looking at the fixed fields first.
func (m *ModelMetrics) Value(name string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	var p *float64
	switch name {
	case MetricErrorRate:
		p = m.ErrorRate
	case MetricAccuracy:
		p = m.Accuracy
	case MetricHealthScore:
		p = m.HealthScore
	default:
		v, ok := m.Extra[name]
		return v, ok
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Set stores v under name, in a fixed field when the name is well known.
func (m *ModelMetrics) Set(name string, v float64) {
	switch name {
	case MetricErrorRate:
		m.ErrorRate = Float(v)
	case MetricAccuracy:
		m.Accuracy = Float(v)
	case MetricHealthScore:
		m.HealthScore = Float(v)
	default:
		if m.Extra == nil {
			m.Extra = make(map[string]float64)
		}
		m.Extra[name] = v
	}
}

// Clone returns a deep copy of m.
func (m *ModelMetrics) Clone() *ModelMetrics {
	if m == nil {
		return nil
	}
	out := *m
	out.ErrorRate = cloneFloat(m.ErrorRate)
	out.Accuracy = cloneFloat(m.Accuracy)
	out.HealthScore = cloneFloat(m.HealthScore)
	out.Extra = cloneFloatMap(m.Extra)
	return &out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float(*p)
}
