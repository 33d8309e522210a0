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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// DefaultFetchTimeout bounds a single metrics fetch.
const DefaultFetchTimeout = 2 * time.Second

// Guarded wraps a Provider so that callers can always fail fast.
//
// # Description
//
// Every call is bounded by Timeout. Concurrent calls for the same model
// share one backend request. Any error, panic, or nil snapshot from the
// inner provider is returned as an error wrapping ErrMetricsUnavailable.
//
// # Thread Safety
//
// Safe for concurrent use.
type Guarded struct {
	inner   Provider
	timeout time.Duration
	logger  *slog.Logger
	flight  singleflight.Group
}

// NewGuarded wraps inner. A non-positive timeout uses DefaultFetchTimeout.
func NewGuarded(inner Provider, timeout time.Duration, logger *slog.Logger) *Guarded {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{inner: inner, timeout: timeout, logger: logger}
}

// GetCurrentMetrics implements Provider.
func (g *Guarded) GetCurrentMetrics(ctx context.Context, modelID string) (*datatypes.ModelMetrics, error) {
	if g.inner == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrMetricsUnavailable)
	}

	ch := g.flight.DoChan(modelID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.fetch(fetchCtx, modelID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, normalize(res.Err)
		}
		// Shared results are cloned so callers never alias each other.
		return res.Val.(*datatypes.ModelMetrics).Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrMetricsUnavailable, ctx.Err())
	}
}

func (g *Guarded) fetch(ctx context.Context, modelID string) (m *datatypes.ModelMetrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("metrics provider panicked", "model_id", modelID, "panic", r)
			m, err = nil, fmt.Errorf("provider panic: %v", r)
		}
	}()

	m, err = g.inner.GetCurrentMetrics(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("provider returned no metrics for %s", modelID)
	}
	return m, nil
}

// Ping forwards to the inner provider when it implements Pinger.
func (g *Guarded) Ping(ctx context.Context) error {
	p, ok := g.inner.(Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return p.Ping(ctx)
}

// RecordMetrics forwards to the inner provider when it implements Recorder.
func (g *Guarded) RecordMetrics(ctx context.Context, m *datatypes.ModelMetrics) error {
	r, ok := g.inner.(Recorder)
	if !ok {
		return fmt.Errorf("metrics provider does not accept pushed metrics")
	}
	return r.RecordMetrics(ctx, m)
}

func normalize(err error) error {
	if errors.Is(err, ErrMetricsUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
}
