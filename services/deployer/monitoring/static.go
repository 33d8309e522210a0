// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// StaticProvider serves metrics that were set explicitly.
//
// Models without a value are unavailable unless a fallback is configured
// with SetDefault. Used by the dev server and by tests.
type StaticProvider struct {
	mu       sync.RWMutex
	metrics  map[string]*datatypes.ModelMetrics
	down     map[string]bool
	fallback *datatypes.ModelMetrics
	calls    map[string]int
}

// NewStaticProvider creates an empty StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		metrics: make(map[string]*datatypes.ModelMetrics),
		down:    make(map[string]bool),
		calls:   make(map[string]int),
	}
}

// Set stores the metrics returned for modelID and clears any unavailable mark.
func (p *StaticProvider) Set(modelID string, m datatypes.ModelMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m.ModelID = modelID
	p.metrics[modelID] = m.Clone()
	delete(p.down, modelID)
}

// SetDefault sets the metrics served for models with no explicit value.
// A nil value removes the fallback.
func (p *StaticProvider) SetDefault(m *datatypes.ModelMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = m.Clone()
}

// SetUnavailable makes modelID report ErrMetricsUnavailable.
func (p *StaticProvider) SetUnavailable(modelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down[modelID] = true
}

// Calls returns how many times metrics were requested for modelID.
func (p *StaticProvider) Calls(modelID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[modelID]
}

// GetCurrentMetrics implements Provider.
func (p *StaticProvider) GetCurrentMetrics(ctx context.Context, modelID string) (*datatypes.ModelMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[modelID]++

	if p.down[modelID] {
		return nil, fmt.Errorf("%w: model %s marked down", ErrMetricsUnavailable, modelID)
	}
	m, ok := p.metrics[modelID]
	if !ok {
		if p.fallback == nil {
			return nil, fmt.Errorf("%w: no metrics for model %s", ErrMetricsUnavailable, modelID)
		}
		m = p.fallback
	}
	out := m.Clone()
	out.ModelID = modelID
	out.CollectedAt = time.Now()
	return out, nil
}

// RecordMetrics implements Recorder.
func (p *StaticProvider) RecordMetrics(ctx context.Context, m *datatypes.ModelMetrics) error {
	if m == nil || m.ModelID == "" {
		return fmt.Errorf("record metrics: model id is required")
	}
	p.Set(m.ModelID, *m)
	return ctx.Err()
}

// Ping implements Pinger. A static provider is always reachable.
func (p *StaticProvider) Ping(ctx context.Context) error {
	return ctx.Err()
}
