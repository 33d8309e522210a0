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
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDeploy/pkg/extensions"
)

// maxAuditLimit caps the limit query parameter.
const maxAuditLimit = 1000

// ListAuditEvents handles GET /v1/audit.
//
// Query parameters: type (comma separated, repeatable), model_id,
// resource_id, outcome, since (RFC 3339) and limit.
func ListAuditEvents(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := auditFilterFrom(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		events, err := svc.AuditEvents(c.Request.Context(), filter)
		if err != nil {
			abortWithError(c, "AuditEvents", err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func auditFilterFrom(c *gin.Context) (extensions.AuditFilter, error) {
	f := extensions.AuditFilter{
		ModelID:    c.Query("model_id"),
		ResourceID: c.Query("resource_id"),
		Outcome:    c.Query("outcome"),
	}
	for _, v := range c.QueryArray("type") {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.EventTypes = append(f.EventTypes, t)
			}
		}
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("invalid since %q: expected RFC 3339", s)
		}
		f.Since = t
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", s)
		}
		f.Limit = min(n, maxAuditLimit)
	}
	return f, nil
}
