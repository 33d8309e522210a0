// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers is the gin HTTP adapter over the deployer orchestrator.
//
// Handlers only decode requests, call the orchestrator and map its errors to
// status codes. No deployment logic lives here.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianDeploy/pkg/extensions"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/executor"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/monitoring"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/orchestrator"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/planning"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/rollback"
)

// Service is the subset of *orchestrator.Orchestrator the handlers call.
type Service interface {
	PlanDeployment(ctx context.Context, req datatypes.PlanRequest) (*datatypes.DeploymentPlan, error)
	GetDeploymentPlan(planID string) (*datatypes.DeploymentPlan, error)
	ListDeploymentPlans(modelID string) []*datatypes.DeploymentPlan
	ValidateDeploymentPlan(planID string) (datatypes.ValidationResult, error)
	ApproveDeploymentPlan(planID, approver string) (bool, error)
	CancelDeploymentPlan(ctx context.Context, planID, reason string) error
	SetBaseline(modelID string, metrics map[string]float64)

	ExecuteDeployment(ctx context.Context, planID string) (string, error)
	GetDeploymentStatus(executionID string) (*datatypes.DeploymentExecution, error)
	CancelDeployment(executionID, reason string) bool
	ListDeployments(modelID string) []*datatypes.DeploymentExecution
	Subscribe(executionID string) (<-chan datatypes.ProgressEvent, func(), error)

	TriggerRollback(ctx context.Context, req datatypes.RollbackRequest) (*datatypes.RollbackExecution, error)
	GetRollbackStatus(rollbackID string) (*datatypes.RollbackExecution, error)
	ListRollbacks(modelID string) []*datatypes.RollbackExecution
	RollbackRules() []datatypes.RollbackRule
	ReplaceRollbackRules(rules []datatypes.RollbackRule) error
	AddRollbackRule(rule datatypes.RollbackRule) error
	RemoveRollbackRule(ruleID string) error

	AddModelMonitoring(req datatypes.MonitoringRequest) error
	RemoveModelMonitoring(modelID string) bool
	GetModelDeploymentStatus(modelID string) (*datatypes.ModelDeploymentStatus, error)
	RecordMetrics(ctx context.Context, m *datatypes.ModelMetrics) error

	AuditEvents(ctx context.Context, filter extensions.AuditFilter) ([]extensions.AuditEvent, error)

	GetServiceHealth(ctx context.Context) datatypes.ServiceHealth
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error      string                      `json:"error"`
	Validation *datatypes.ValidationResult `json:"validation,omitempty"`
}

// statusFor maps an orchestrator error to an HTTP status code.
func statusFor(err error) int {
	var invalid *orchestrator.PlanInvalidError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrPlanNotFound),
		errors.Is(err, orchestrator.ErrExecutionNotFound),
		errors.Is(err, orchestrator.ErrRollbackNotFound),
		errors.Is(err, rollback.ErrModelNotRegistered),
		errors.Is(err, rollback.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrApprovalRequired),
		errors.Is(err, orchestrator.ErrPlanRetired),
		errors.Is(err, rollback.ErrTargetIsCurrent),
		errors.Is(err, rollback.ErrInsufficientHistory):
		return http.StatusConflict
	case errors.As(err, &verrs),
		errors.Is(err, planning.ErrInvalidRequest),
		errors.Is(err, planning.ErrApproverRequired),
		errors.Is(err, rollback.ErrInvalidRule),
		errors.Is(err, rollback.ErrUnknownVersion):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrMetricsWriteUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, executor.ErrShuttingDown),
		errors.Is(err, monitoring.ErrMetricsUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as an ErrorResponse. Internal errors are
// logged and their text is not echoed.
func abortWithError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var invalid *orchestrator.PlanInvalidError
	if errors.As(err, &invalid) {
		res := invalid.Result
		resp.Validation = &res
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "op", op, "path", c.FullPath(), "error", err)
		resp.Error = orchestrator.ErrInternal.Error()
	} else {
		slog.Debug("request rejected", "op", op, "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// badRequest rejects an undecodable body.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
}

// HealthCheck reports aggregated component health. Degraded is still 200;
// the body carries the detail.
func HealthCheck(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.GetServiceHealth(c.Request.Context()))
	}
}
