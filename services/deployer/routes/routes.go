// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/handlers"
)

// SetupRoutes registers the deployer API on router. A nil metrics handler
// serves the default Prometheus registry.
func SetupRoutes(router *gin.Engine, svc handlers.Service, metrics http.Handler) {
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router.GET("/health", handlers.HealthCheck(svc))
	router.GET("/metrics", gin.WrapH(metrics))

	v1 := router.Group("/v1")
	{
		plans := v1.Group("/plans")
		{
			plans.POST("", handlers.CreatePlan(svc))
			plans.GET("", handlers.ListPlans(svc))
			plans.GET("/:id", handlers.GetPlan(svc))
			plans.DELETE("/:id", handlers.CancelPlan(svc))
			plans.POST("/:id/validate", handlers.ValidatePlan(svc))
			plans.POST("/:id/approve", handlers.ApprovePlan(svc))
			plans.POST("/:id/execute", handlers.ExecutePlan(svc))
		}

		deployments := v1.Group("/deployments")
		{
			deployments.GET("", handlers.ListDeployments(svc))
			deployments.GET("/:id", handlers.GetDeployment(svc))
			deployments.POST("/:id/cancel", handlers.CancelDeployment(svc))
			deployments.GET("/:id/events", handlers.DeploymentEvents(svc))
		}

		rollbacks := v1.Group("/rollbacks")
		{
			rollbacks.POST("", handlers.TriggerRollback(svc))
			rollbacks.GET("", handlers.ListRollbacks(svc))
			rollbacks.GET("/:id", handlers.GetRollback(svc))
		}

		v1.GET("/rules", handlers.GetRules(svc))
		v1.PUT("/rules", handlers.ReplaceRules(svc))
		v1.POST("/rules", handlers.AddRule(svc))
		v1.DELETE("/rules/:id", handlers.RemoveRule(svc))
		v1.GET("/audit", handlers.ListAuditEvents(svc))

		models := v1.Group("/models/:id")
		{
			models.POST("/monitoring", handlers.AddMonitoring(svc))
			models.DELETE("/monitoring", handlers.RemoveMonitoring(svc))
			models.GET("/status", handlers.ModelStatus(svc))
			models.PUT("/baseline", handlers.SetBaseline(svc))
			models.PUT("/metrics", handlers.RecordMetrics(svc))
		}
	}
}
