// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions holds the deployer's pluggable hooks.
//
// The open source build ships the in-memory audit trail. Deployments that
// need durable or external audit storage supply their own AuditLogger.
package extensions

import (
	"context"
	"time"
)

// Audit event types. Format is "resource.action".
const (
	EventPlanCreate         = "plan.create"
	EventPlanApprove        = "plan.approve"
	EventPlanCancel         = "plan.cancel"
	EventDeploymentExecute  = "deployment.execute"
	EventDeploymentCancel   = "deployment.cancel"
	EventDeploymentFinished = "deployment.finished"
	EventRollbackFinished   = "rollback.finished"
	EventRulesReplace       = "rules.replace"
	EventRuleAdd            = "rules.add"
	EventRuleRemove         = "rules.remove"
	EventMonitoringAdd      = "monitoring.add"
	EventMonitoringRemove   = "monitoring.remove"
	EventBaselineSet        = "baseline.set"
	EventMetricsRecord      = "metrics.record"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Resource types.
const (
	ResourcePlan       = "plan"
	ResourceDeployment = "deployment"
	ResourceRollback   = "rollback"
	ResourceRules      = "rules"
	ResourceModel      = "model"
)

// ActorSystem marks events raised by the deployer itself rather than a caller.
const ActorSystem = "system"

// AuditEvent is one entry in the deployment audit trail.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    EventPlanApprove,
//	    Actor:        "alice",
//	    ResourceType: ResourcePlan,
//	    ResourceID:   plan.ID,
//	    ModelID:      plan.ModelID,
//	    Outcome:      OutcomeSuccess,
//	}
type AuditEvent struct {
	// ID is assigned by the logger when empty.
	ID string `json:"id"`

	EventType string `json:"event_type"`

	// Timestamp is set to now (UTC) by the logger when zero.
	Timestamp time.Time `json:"timestamp"`

	// Actor is who asked for the action. ActorSystem for automatic actions.
	Actor string `json:"actor,omitempty"`

	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	ModelID      string `json:"model_id,omitempty"`
	Outcome      string `json:"outcome"`

	// Metadata holds event specific detail such as versions or reasons.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects events in Query. Zero fields match everything.
type AuditFilter struct {
	EventTypes []string
	ModelID    string
	ResourceID string
	Outcome    string
	Since      time.Time

	// Limit caps the result. Zero means the logger's default.
	Limit int
}

// Matches reports whether e passes every set criterion of f.
func (f AuditFilter) Matches(e AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ModelID != "" && f.ModelID != e.ModelID {
		return false
	}
	if f.ResourceID != "" && f.ResourceID != e.ResourceID {
		return false
	}
	if f.Outcome != "" && f.Outcome != e.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// AuditLogger records and queries audit events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	// Log records an event. Implementations should not block on slow
	// storage; callers run on request paths.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events newest-first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush writes any buffered events.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

var _ AuditLogger = NopAuditLogger{}

// Log discards the event.
func (NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

// Query returns no events.
func (NopAuditLogger) Query(context.Context, AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op.
func (NopAuditLogger) Flush(context.Context) error { return nil }
