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

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// deployValidate is the validator instance for deployment request types.
// Initialized in init() with the enum validators.
var deployValidate *validator.Validate

func init() {
	deployValidate = validator.New()

	_ = deployValidate.RegisterValidation("strategy", func(fl validator.FieldLevel) bool {
		s := DeploymentStrategy(fl.Field().String())
		return s == "" || s.Valid()
	})
	_ = deployValidate.RegisterValidation("rollback_strategy", func(fl validator.FieldLevel) bool {
		s := RollbackStrategy(fl.Field().String())
		return s == "" || s.Valid()
	})
	_ = deployValidate.RegisterValidation("trigger", func(fl validator.FieldLevel) bool {
		return TriggerType(fl.Field().String()).Valid()
	})
}

// =============================================================================
// Requests
// =============================================================================

// PlanRequest asks the planning manager for a new deployment plan.
//
// # Description
//
// Requirements and Constraints are optional. When Requirements is empty the
// planner derives defaults from the target metadata. StrategyOverride lets
// an operator force a rollout strategy; approval and rollback strategy are
// then derived from the forced strategy.
//
// # Validation
//
// Uses go-playground/validator:
//   - ModelID, SourceVersion, TargetVersion: required, at most 128 bytes
//   - StrategyOverride: empty or a known strategy
//   - Requirements, Constraints: each element validated
type PlanRequest struct {
	ModelID          string                   `json:"model_id" validate:"required,max=128"`
	SourceVersion    string                   `json:"source_version" validate:"required,max=128"`
	TargetVersion    string                   `json:"target_version" validate:"required,max=128"`
	Metadata         ModelMetadata            `json:"metadata"`
	Requirements     []PerformanceRequirement `json:"requirements,omitempty" validate:"omitempty,dive"`
	Constraints      []DeploymentConstraint   `json:"constraints,omitempty" validate:"omitempty,dive"`
	StrategyOverride DeploymentStrategy       `json:"strategy_override,omitempty" validate:"strategy"`
}

// Validate validates the PlanRequest fields.
func (r *PlanRequest) Validate() error {
	return deployValidate.Struct(r)
}

// RollbackRequest asks for an on-demand rollback of a monitored model.
//
// An empty TargetVersion means "the previous good version". An empty
// Strategy defaults to version_revert.
type RollbackRequest struct {
	ModelID       string           `json:"model_id" validate:"required,max=128"`
	TargetVersion string           `json:"target_version,omitempty" validate:"max=128"`
	Reason        string           `json:"reason" validate:"max=1024"`
	Strategy      RollbackStrategy `json:"strategy,omitempty" validate:"rollback_strategy"`
}

// Validate validates the RollbackRequest fields.
func (r *RollbackRequest) Validate() error {
	return deployValidate.Struct(r)
}

// MonitoringRequest registers a model with the rollback watch loop.
type MonitoringRequest struct {
	ModelID        string   `json:"model_id" validate:"required,max=128"`
	CurrentVersion string   `json:"current_version" validate:"required,max=128"`
	VersionHistory []string `json:"version_history,omitempty" validate:"omitempty,dive,required"`
}

// Validate validates the MonitoringRequest fields.
func (r *MonitoringRequest) Validate() error {
	return deployValidate.Struct(r)
}

// Validate checks that the rule is well formed.
func (r *RollbackRule) Validate() error {
	return deployValidate.Struct(r)
}
