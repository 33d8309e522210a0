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

// RollbackRule is a condition-threshold-strategy triple evaluated against
// live metrics by the watch loop.
type RollbackRule struct {
	ID          string           `json:"id" yaml:"id" validate:"required"`
	Trigger     TriggerType      `json:"trigger" yaml:"trigger" validate:"required,trigger"`
	Condition   string           `json:"condition" yaml:"condition"`
	Threshold   float64          `json:"threshold" yaml:"threshold"`
	Strategy    RollbackStrategy `json:"strategy" yaml:"strategy" validate:"required,rollback_strategy"`
	AutoExecute bool             `json:"auto_execute" yaml:"auto_execute"`
	Priority    int              `json:"priority" yaml:"priority"`
	Description string           `json:"description" yaml:"description"`
}

// LogEntry is one timestamped entry of a rollback execution log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// RollbackExecution is one rollback attempt for a model.
type RollbackExecution struct {
	ID                    string           `json:"id"`
	ModelID               string           `json:"model_id"`
	DeploymentExecutionID string           `json:"deployment_execution_id,omitempty"`
	Trigger               TriggerType      `json:"trigger"`
	Strategy              RollbackStrategy `json:"strategy"`

	TriggeredAt time.Time     `json:"triggered_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`

	Status       RollbackStatus `json:"status"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`

	FromVersion    string         `json:"from_version"`
	ToVersion      string         `json:"to_version"`
	Reason         string         `json:"reason,omitempty"`
	TriggerDetails map[string]any `json:"trigger_details,omitempty"`
	ExecutionLog   []LogEntry     `json:"execution_log"`
}

// Clone returns a deep copy of r.
func (r *RollbackExecution) Clone() *RollbackExecution {
	if r == nil {
		return nil
	}
	out := *r
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.TriggerDetails = cloneAnyMap(r.TriggerDetails)
	out.ExecutionLog = append([]LogEntry(nil), r.ExecutionLog...)
	return &out
}

// ModelVersionInfo is the registry view of one monitored model.
type ModelVersionInfo struct {
	ModelID       string   `json:"model_id"`
	Versions      []string `json:"versions"`
	LastKnownGood string   `json:"last_known_good,omitempty"`
	Quarantined   []string `json:"quarantined,omitempty"`
	Monitored     bool     `json:"monitored"`
}

// DeploymentRollbackRequest asks the rollback manager to reverse a
// deployment execution that failed or was cancelled.
type DeploymentRollbackRequest struct {
	ExecutionID string           `json:"execution_id"`
	ModelID     string           `json:"model_id"`
	FromVersion string           `json:"from_version"`
	ToVersion   string           `json:"to_version"`
	Strategy    RollbackStrategy `json:"strategy"`
	Trigger     TriggerType      `json:"trigger"`
	Reason      string           `json:"reason"`
}
