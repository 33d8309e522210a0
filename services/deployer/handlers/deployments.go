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
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// eventWriteTimeout bounds each websocket write so a stalled client cannot
// pin the handler.
const eventWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// CancelRequest is the optional body of POST /v1/deployments/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelResponse reports whether a running execution was asked to stop.
type CancelResponse struct {
	ExecutionID string `json:"execution_id"`
	Cancelled   bool   `json:"cancelled"`
}

// ListDeployments handles GET /v1/deployments?model_id=.
func ListDeployments(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.ListDeployments(c.Query("model_id")))
	}
}

// GetDeployment handles GET /v1/deployments/:id.
func GetDeployment(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		x, err := svc.GetDeploymentStatus(c.Param("id"))
		if err != nil {
			abortWithError(c, "GetDeploymentStatus", err)
			return
		}
		c.JSON(http.StatusOK, x)
	}
}

// CancelDeployment handles POST /v1/deployments/:id/cancel. Cancelling an
// unknown or finished execution is not an error; Cancelled is false.
func CancelDeployment(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}
		id := c.Param("id")
		c.JSON(http.StatusOK, CancelResponse{ExecutionID: id, Cancelled: svc.CancelDeployment(id, req.Reason)})
	}
}

// DeploymentEvents handles GET /v1/deployments/:id/events.
//
// # Description
//
// Upgrades to a websocket and streams datatypes.ProgressEvent JSON
// messages. The first message is the current snapshot. The stream ends
// with a Terminal event followed by a normal close frame. A finished
// execution gets its final snapshot and an immediate close.
//
// # Limitations
//
// Events are delivered best-effort. A slow client may miss intermediate
// events but always gets the terminal one.
func DeploymentEvents(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		snap, err := svc.GetDeploymentStatus(id)
		if err != nil {
			abortWithError(c, "GetDeploymentStatus", err)
			return
		}
		events, unsubscribe, err := svc.Subscribe(id)
		if err != nil {
			abortWithError(c, "Subscribe", err)
			return
		}
		defer unsubscribe()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("failed to upgrade event stream", "execution_id", id, "error", err)
			return
		}
		defer ws.Close()
		logger := slog.With("execution_id", id)
		logger.Debug("event stream client connected")

		// Drain client frames so close and ping control messages are handled.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(ev datatypes.ProgressEvent) bool {
			_ = ws.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				logger.Debug("event stream write failed", "error", err)
				return false
			}
			return true
		}
		finish := func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution finished")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}

		if !send(snap.Event(time.Now())) {
			return
		}
		if snap.Status.Terminal() {
			finish()
			return
		}

		for {
			select {
			case <-gone:
				logger.Debug("event stream client disconnected")
				return
			case ev, ok := <-events:
				if !ok {
					// The hub closed the stream; make sure the client sees
					// the final state even if the terminal event was dropped.
					if final, err := svc.GetDeploymentStatus(id); err == nil {
						send(final.Event(time.Now()))
					}
					finish()
					return
				}
				if !send(ev) {
					return
				}
				if ev.Terminal {
					finish()
					return
				}
			}
		}
	}
}
