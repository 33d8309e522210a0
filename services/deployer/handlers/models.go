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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// MonitoringBody is the body of POST /v1/models/:id/monitoring. The model
// id comes from the path.
type MonitoringBody struct {
	CurrentVersion string   `json:"current_version"`
	VersionHistory []string `json:"version_history,omitempty"`
}

// AddMonitoring handles POST /v1/models/:id/monitoring.
func AddMonitoring(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body MonitoringBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		req := datatypes.MonitoringRequest{
			ModelID:        c.Param("id"),
			CurrentVersion: body.CurrentVersion,
			VersionHistory: body.VersionHistory,
		}
		if err := svc.AddModelMonitoring(req); err != nil {
			abortWithError(c, "AddModelMonitoring", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"model_id": req.ModelID, "monitoring": true})
	}
}

// RemoveMonitoring handles DELETE /v1/models/:id/monitoring.
func RemoveMonitoring(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !svc.RemoveModelMonitoring(id) {
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "model is not monitored: " + id})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ModelStatus handles GET /v1/models/:id/status. Unknown models get an
// empty summary rather than a 404.
func ModelStatus(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.GetModelDeploymentStatus(c.Param("id"))
		if err != nil {
			abortWithError(c, "GetModelDeploymentStatus", err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// SetBaseline handles PUT /v1/models/:id/baseline with a JSON object of
// metric name to value.
func SetBaseline(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var metrics map[string]float64
		if err := c.ShouldBindJSON(&metrics); err != nil {
			badRequest(c, err)
			return
		}
		svc.SetBaseline(c.Param("id"), metrics)
		c.Status(http.StatusNoContent)
	}
}

// RecordMetrics handles PUT /v1/models/:id/metrics. Returns 501 when the
// configured provider is read-only.
func RecordMetrics(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var m datatypes.ModelMetrics
		if err := c.ShouldBindJSON(&m); err != nil {
			badRequest(c, err)
			return
		}
		m.ModelID = c.Param("id")
		if m.CollectedAt.IsZero() {
			m.CollectedAt = time.Now().UTC()
		}
		if err := svc.RecordMetrics(c.Request.Context(), &m); err != nil {
			abortWithError(c, "RecordMetrics", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
