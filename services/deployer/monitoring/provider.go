// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitoring supplies live model health metrics to the deployment
// executor and the rollback watch loop.
//
// # Description
//
// A Provider answers "what does model X look like right now". Being unable
// to answer is a normal condition signalled with ErrMetricsUnavailable;
// callers fail open (executor) or skip the model for a cycle (watch loop).
//
// Implementations:
//   - StaticProvider: settable in-memory values for development and tests
//   - InfluxProvider: last() of the model_metrics measurement in InfluxDB
//   - Guarded: wraps any Provider with a per-call timeout, collapses
//     concurrent fetches for the same model, and normalises errors
//
// # Thread Safety
//
// All providers in this package are safe for concurrent use.
package monitoring

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// ErrMetricsUnavailable is returned when metrics for a model cannot be obtained.
var ErrMetricsUnavailable = errors.New("metrics unavailable")

// Provider returns a point-in-time metrics snapshot for a model.
//
// Implementations must return promptly and must tolerate concurrent calls.
type Provider interface {
	GetCurrentMetrics(ctx context.Context, modelID string) (*datatypes.ModelMetrics, error)
}

// Pinger is implemented by providers that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Recorder is implemented by providers that accept pushed snapshots.
type Recorder interface {
	RecordMetrics(ctx context.Context, m *datatypes.ModelMetrics) error
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, modelID string) (*datatypes.ModelMetrics, error)

// GetCurrentMetrics calls f.
func (f ProviderFunc) GetCurrentMetrics(ctx context.Context, modelID string) (*datatypes.ModelMetrics, error) {
	return f(ctx, modelID)
}
