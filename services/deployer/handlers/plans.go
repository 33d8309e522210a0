// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// ApproveRequest is the body of POST /v1/plans/:id/approve.
type ApproveRequest struct {
	Approver string `json:"approver"`
}

// ApproveResponse reports whether the plan is now executable.
type ApproveResponse struct {
	PlanID   string `json:"plan_id"`
	Approved bool   `json:"approved"`
}

// ExecuteResponse is returned when an execution starts.
type ExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
}

// CreatePlan handles POST /v1/plans.
func CreatePlan(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		plan, err := svc.PlanDeployment(c.Request.Context(), req)
		if err != nil {
			abortWithError(c, "PlanDeployment", err)
			return
		}
		c.JSON(http.StatusCreated, plan)
	}
}

// ListPlans handles GET /v1/plans?model_id=.
func ListPlans(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.ListDeploymentPlans(c.Query("model_id")))
	}
}

// GetPlan handles GET /v1/plans/:id.
func GetPlan(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		plan, err := svc.GetDeploymentPlan(c.Param("id"))
		if err != nil {
			abortWithError(c, "GetDeploymentPlan", err)
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

// ValidatePlan handles POST /v1/plans/:id/validate. An invalid plan is
// still a 200; the result says why.
func ValidatePlan(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.ValidateDeploymentPlan(c.Param("id"))
		if err != nil {
			abortWithError(c, "ValidateDeploymentPlan", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ApprovePlan handles POST /v1/plans/:id/approve.
func ApprovePlan(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ApproveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ok, err := svc.ApproveDeploymentPlan(c.Param("id"), req.Approver)
		if err != nil {
			abortWithError(c, "ApproveDeploymentPlan", err)
			return
		}
		c.JSON(http.StatusOK, ApproveResponse{PlanID: c.Param("id"), Approved: ok})
	}
}

// CancelPlan handles DELETE /v1/plans/:id?reason=.
func CancelPlan(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.CancelDeploymentPlan(c.Request.Context(), c.Param("id"), c.Query("reason")); err != nil {
			abortWithError(c, "CancelDeploymentPlan", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ExecutePlan handles POST /v1/plans/:id/execute. The execution runs in
// the background; poll /v1/deployments/:id or stream its events.
func ExecutePlan(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := svc.ExecuteDeployment(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortWithError(c, "ExecuteDeployment", err)
			return
		}
		c.Header("Location", "/v1/deployments/"+id)
		c.JSON(http.StatusAccepted, ExecuteResponse{ExecutionID: id})
	}
}
