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

// Health status values.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// ComponentHealth is the self-reported health of one component.
type ComponentHealth struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// ServiceHealth aggregates component health.
type ServiceHealth struct {
	Status     string            `json:"status"`
	Components []ComponentHealth `json:"components"`
}

// ModelDeploymentStatus summarises everything known about one model.
type ModelDeploymentStatus struct {
	ModelID                   string                 `json:"model_id"`
	ActiveDeployments         []*DeploymentExecution `json:"active_deployments"`
	ActiveRollbacks           []*RollbackExecution   `json:"active_rollbacks"`
	RecentDeployments         []*DeploymentExecution `json:"recent_deployments"`
	RecentRollbacks           []*RollbackExecution   `json:"recent_rollbacks"`
	LastDeployment            *DeploymentExecution   `json:"last_deployment,omitempty"`
	LastRollback              *RollbackExecution     `json:"last_rollback,omitempty"`
	RollbackMonitoringEnabled bool                   `json:"rollback_monitoring_enabled"`
	Versions                  *ModelVersionInfo      `json:"versions,omitempty"`
}
