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

// TriggerRollback handles POST /v1/rollbacks. The rollback runs to
// completion before the reply; a failed strategy still answers 201 with
// status failed in the body.
func TriggerRollback(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RollbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		rb, err := svc.TriggerRollback(c.Request.Context(), req)
		if err != nil {
			abortWithError(c, "TriggerRollback", err)
			return
		}
		c.JSON(http.StatusCreated, rb)
	}
}

// ListRollbacks handles GET /v1/rollbacks?model_id=.
func ListRollbacks(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.ListRollbacks(c.Query("model_id")))
	}
}

// GetRollback handles GET /v1/rollbacks/:id.
func GetRollback(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rb, err := svc.GetRollbackStatus(c.Param("id"))
		if err != nil {
			abortWithError(c, "GetRollbackStatus", err)
			return
		}
		c.JSON(http.StatusOK, rb)
	}
}

// GetRules handles GET /v1/rules.
func GetRules(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.RollbackRules())
	}
}

// ReplaceRules handles PUT /v1/rules. The body is the complete rule set.
func ReplaceRules(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rules []datatypes.RollbackRule
		if err := c.ShouldBindJSON(&rules); err != nil {
			badRequest(c, err)
			return
		}
		if err := svc.ReplaceRollbackRules(rules); err != nil {
			abortWithError(c, "ReplaceRollbackRules", err)
			return
		}
		c.JSON(http.StatusOK, svc.RollbackRules())
	}
}

// AddRule handles POST /v1/rules. A rule with an existing id replaces it.
func AddRule(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rule datatypes.RollbackRule
		if err := c.ShouldBindJSON(&rule); err != nil {
			badRequest(c, err)
			return
		}
		if err := svc.AddRollbackRule(rule); err != nil {
			abortWithError(c, "AddRollbackRule", err)
			return
		}
		c.JSON(http.StatusCreated, svc.RollbackRules())
	}
}

// RemoveRule handles DELETE /v1/rules/:id.
func RemoveRule(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.RemoveRollbackRule(c.Param("id")); err != nil {
			abortWithError(c, "RemoveRollbackRule", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
