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
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// CycleResult summarises one watch cycle.
type CycleResult struct {
	// Evaluated counts models whose metrics were fetched and checked.
	Evaluated int `json:"evaluated"`

	// Skipped counts models with unavailable metrics.
	Skipped int `json:"skipped"`

	// Fired counts rules that fired, auto or not.
	Fired int `json:"fired"`

	// Throttled counts automatic rollbacks refused by the rate limit.
	Throttled int `json:"throttled"`

	// RollbackIDs lists the automatic rollbacks started this cycle.
	RollbackIDs []string `json:"rollback_ids"`
}

// =============================================================================
// Loop Control
// =============================================================================

// StartMonitoring starts the background watch loop.
//
// # Description
//
// The loop runs one cycle every WatchInterval until StopMonitoring is
// called or ctx is cancelled. The first cycle runs one interval after
// start.
//
// # Outputs
//
//   - error: ErrMonitoringActive if the loop is already running.
//
// # Limitations
//
//   - Cycles never overlap; a slow cycle delays the next one.
func (m *Manager) StartMonitoring(ctx context.Context) error {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopDone != nil {
		return ErrMonitoringActive
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.loopCancel = cancel
	m.loopDone = done

	m.logger.Info("rollback monitoring starting", "interval", m.cfg.WatchInterval.String())
	go m.runLoop(loopCtx, done)
	return nil
}

// StopMonitoring stops the watch loop and waits for it to exit, so no
// automatic rollback starts after it returns. Safe to call when stopped.
func (m *Manager) StopMonitoring() {
	m.loopMu.Lock()
	cancel, done := m.loopCancel, m.loopDone
	m.loopCancel, m.loopDone = nil, nil
	m.loopMu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("rollback monitoring stopped")
}

// MonitoringActive reports whether the watch loop is running.
func (m *Manager) MonitoringActive() bool {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.loopDone != nil
}

func (m *Manager) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.cfg.WatchInterval):
		}
		res := m.RunWatchCycle(ctx)
		if res.Fired > 0 || res.Skipped > 0 {
			m.logger.Debug("watch cycle finished",
				"evaluated", res.Evaluated,
				"skipped", res.Skipped,
				"fired", res.Fired,
				"rollbacks", len(res.RollbackIDs))
		}
	}
}

// =============================================================================
// Watch Cycle
// =============================================================================

type observation struct {
	modelID string
	metrics *datatypes.ModelMetrics
}

// RunWatchCycle evaluates every monitored model once.
//
// # Description
//
// Metrics for all monitored models are fetched concurrently. Models whose
// metrics are unavailable are skipped. Every rule is evaluated against
// every snapshot in priority order. Each firing auto-execute rule starts an
// independent rollback to the model's rollback target; rollbacks run one
// after another in the calling goroutine. A model with no valid target is
// logged and left alone.
//
// # Thread Safety
//
// Safe to call concurrently with the loop, though overlapping cycles may
// both roll the same model back.
func (m *Manager) RunWatchCycle(ctx context.Context) CycleResult {
	res := CycleResult{RollbackIDs: []string{}}
	m.metrics.RecordWatchCycle()

	m.mu.RLock()
	ids := make([]string, 0, len(m.models))
	for id, e := range m.models {
		if e.monitored {
			ids = append(ids, id)
		}
	}
	rules := append([]datatypes.RollbackRule(nil), m.rules...)
	m.mu.RUnlock()
	sort.Strings(ids)

	if len(ids) == 0 {
		return res
	}
	if m.cfg.Provider == nil {
		res.Skipped = len(ids)
		return res
	}

	obs := m.fetchAll(ctx, ids)
	for i, o := range obs {
		if o.metrics == nil {
			res.Skipped++
			m.metrics.RecordMetricsUnavailable("rollback")
			m.logger.Debug("metrics unavailable, skipping model", "model_id", ids[i])
			continue
		}
		res.Evaluated++
		m.evaluateModel(ctx, o, rules, &res)
	}
	return res
}

// fetchAll returns one observation per id, in order. Fetch errors leave
// metrics nil.
func (m *Manager) fetchAll(ctx context.Context, ids []string) []observation {
	out := make([]observation, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.FetchConcurrency)
	for i, id := range ids {
		out[i].modelID = id
		g.Go(func() error {
			mt, err := m.cfg.Provider.GetCurrentMetrics(gctx, id)
			if err == nil {
				out[i].metrics = mt
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (m *Manager) evaluateModel(ctx context.Context, o observation, rules []datatypes.RollbackRule, res *CycleResult) {
	var (
		from, target string
		hasTarget    bool
		resolved     bool
	)
	for _, rule := range rules {
		if ctx.Err() != nil {
			return
		}
		observed, fired := evaluate(rule, o.metrics)
		m.metrics.RecordRuleEvaluation(rule.ID, fired)
		if !fired {
			continue
		}
		res.Fired++

		if !rule.AutoExecute {
			m.logger.Warn("rollback rule fired, manual intervention required",
				"model_id", o.modelID,
				"rule_id", rule.ID,
				"observed_value", observed,
				"threshold", rule.Threshold)
			continue
		}

		// Versions are fixed at the first firing rule; later rules that fire
		// for the same model roll back between the same two versions.
		if !resolved {
			from, target, hasTarget = m.autoTargetFor(o.modelID)
			resolved = true
		}
		if !hasTarget {
			m.logger.Warn("rollback rule fired but no rollback target is available",
				"model_id", o.modelID,
				"rule_id", rule.ID)
			continue
		}
		if m.limiter != nil && !m.limiter.Allow() {
			res.Throttled++
			m.logger.Warn("automatic rollback throttled",
				"model_id", o.modelID,
				"rule_id", rule.ID)
			continue
		}

		rb := m.autoRollback(ctx, o.modelID, from, target, rule, observed)
		if rb != nil {
			res.RollbackIDs = append(res.RollbackIDs, rb.ID)
		}
	}
}

// autoTargetFor returns the model's current version and the version an
// automatic rollback restores.
func (m *Manager) autoTargetFor(modelID string) (string, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.models[modelID]
	if !ok {
		return "", "", false
	}
	to, ok := e.autoTarget()
	return e.current(), to, ok
}

func (m *Manager) autoRollback(ctx context.Context, modelID, from, target string, rule datatypes.RollbackRule, observed float64) *datatypes.RollbackExecution {
	reason := fmt.Sprintf("rule %s fired: %s (observed %.4f, threshold %.4f)", rule.ID, rule.Condition, observed, rule.Threshold)
	rb := m.newExecution(modelID, rule.Trigger, rule.Strategy, from, target, reason)
	rb.TriggerDetails = map[string]any{
		"rule_id":        rule.ID,
		"condition":      rule.Condition,
		"threshold":      rule.Threshold,
		"observed_value": observed,
	}
	m.logger.Warn("automatic rollback triggered",
		"model_id", modelID,
		"rule_id", rule.ID,
		"observed_value", observed,
		"to_version", target)
	return m.execute(ctx, rb)
}
