// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package client is a Go client for the deployer HTTP API.

# Usage

	c := client.New("http://localhost:12230")

	plan, err := c.CreatePlan(ctx, datatypes.PlanRequest{...})
	id, err := c.ExecutePlan(ctx, plan.ID)

	// Stream progress until the execution finishes.
	err = c.WatchDeployment(ctx, id, func(ev datatypes.ProgressEvent) {
	    fmt.Println(ev.Phase, ev.ProgressPercent)
	})

Non-2xx replies are returned as *APIError. Use IsNotFound and IsConflict
to branch on the common cases.
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianDeploy/pkg/extensions"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// DefaultTimeout bounds each request. Event streams are not bounded.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string

	// Validation is set when a plan was refused as invalid.
	Validation *datatypes.ValidationResult
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("deployer API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("deployer API returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return statusIs(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409 from the API.
func IsConflict(err error) bool {
	return statusIs(err, http.StatusConflict)
}

func statusIs(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to one deployer server. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a client for baseURL, for example "http://localhost:12230".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// Plans
// =============================================================================

// CreatePlan asks the server for a new deployment plan.
func (c *Client) CreatePlan(ctx context.Context, req datatypes.PlanRequest) (*datatypes.DeploymentPlan, error) {
	var plan datatypes.DeploymentPlan
	if err := c.do(ctx, http.MethodPost, "/v1/plans", req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetPlan fetches a plan, active or retired.
func (c *Client) GetPlan(ctx context.Context, planID string) (*datatypes.DeploymentPlan, error) {
	var plan datatypes.DeploymentPlan
	if err := c.do(ctx, http.MethodGet, "/v1/plans/"+url.PathEscape(planID), nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListPlans returns active plans, optionally for one model.
func (c *Client) ListPlans(ctx context.Context, modelID string) ([]*datatypes.DeploymentPlan, error) {
	var plans []*datatypes.DeploymentPlan
	err := c.do(ctx, http.MethodGet, "/v1/plans"+modelQuery(modelID), nil, &plans)
	return plans, err
}

// ValidatePlan validates a plan.
func (c *Client) ValidatePlan(ctx context.Context, planID string) (datatypes.ValidationResult, error) {
	var res datatypes.ValidationResult
	err := c.do(ctx, http.MethodPost, "/v1/plans/"+url.PathEscape(planID)+"/validate", nil, &res)
	return res, err
}

// ApprovePlan records approver's approval. Returns true when the plan may
// now be executed.
func (c *Client) ApprovePlan(ctx context.Context, planID, approver string) (bool, error) {
	var resp struct {
		Approved bool `json:"approved"`
	}
	body := map[string]string{"approver": approver}
	if err := c.do(ctx, http.MethodPost, "/v1/plans/"+url.PathEscape(planID)+"/approve", body, &resp); err != nil {
		return false, err
	}
	return resp.Approved, nil
}

// CancelPlan retires an active plan.
func (c *Client) CancelPlan(ctx context.Context, planID, reason string) error {
	path := "/v1/plans/" + url.PathEscape(planID)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ExecutePlan starts executing a plan and returns the execution id.
func (c *Client) ExecutePlan(ctx context.Context, planID string) (string, error) {
	var resp struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/plans/"+url.PathEscape(planID)+"/execute", nil, &resp); err != nil {
		return "", err
	}
	return resp.ExecutionID, nil
}

// =============================================================================
// Deployments
// =============================================================================

// GetDeployment fetches an execution, active or finished.
func (c *Client) GetDeployment(ctx context.Context, executionID string) (*datatypes.DeploymentExecution, error) {
	var x datatypes.DeploymentExecution
	if err := c.do(ctx, http.MethodGet, "/v1/deployments/"+url.PathEscape(executionID), nil, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// ListDeployments returns active then finished executions.
func (c *Client) ListDeployments(ctx context.Context, modelID string) ([]*datatypes.DeploymentExecution, error) {
	var out []*datatypes.DeploymentExecution
	err := c.do(ctx, http.MethodGet, "/v1/deployments"+modelQuery(modelID), nil, &out)
	return out, err
}

// CancelDeployment asks a running execution to roll back. Returns false
// when nothing was running under executionID.
func (c *Client) CancelDeployment(ctx context.Context, executionID, reason string) (bool, error) {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/v1/deployments/"+url.PathEscape(executionID)+"/cancel", body, &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

// WatchDeployment streams progress events to fn until the execution
// reaches a terminal state, the server closes the stream, or ctx ends.
//
// # Outputs
//
//   - error: nil after a terminal event or a normal close; ctx.Err() when
//     cancelled; *APIError when the execution does not exist
func (c *Client) WatchDeployment(ctx context.Context, executionID string, fn func(datatypes.ProgressEvent)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/deployments/" + url.PathEscape(executionID) + "/events"
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev datatypes.ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("event stream ended: %w", err)
		}
		fn(ev)
		if ev.Terminal {
			return nil
		}
	}
}

// =============================================================================
// Rollbacks
// =============================================================================

// TriggerRollback runs a manual rollback and returns the finished record.
func (c *Client) TriggerRollback(ctx context.Context, req datatypes.RollbackRequest) (*datatypes.RollbackExecution, error) {
	var rb datatypes.RollbackExecution
	if err := c.do(ctx, http.MethodPost, "/v1/rollbacks", req, &rb); err != nil {
		return nil, err
	}
	return &rb, nil
}

// GetRollback fetches a rollback record.
func (c *Client) GetRollback(ctx context.Context, rollbackID string) (*datatypes.RollbackExecution, error) {
	var rb datatypes.RollbackExecution
	if err := c.do(ctx, http.MethodGet, "/v1/rollbacks/"+url.PathEscape(rollbackID), nil, &rb); err != nil {
		return nil, err
	}
	return &rb, nil
}

// ListRollbacks returns active then finished rollbacks.
func (c *Client) ListRollbacks(ctx context.Context, modelID string) ([]*datatypes.RollbackExecution, error) {
	var out []*datatypes.RollbackExecution
	err := c.do(ctx, http.MethodGet, "/v1/rollbacks"+modelQuery(modelID), nil, &out)
	return out, err
}

// Rules returns the active rollback rules.
func (c *Client) Rules(ctx context.Context) ([]datatypes.RollbackRule, error) {
	var rules []datatypes.RollbackRule
	err := c.do(ctx, http.MethodGet, "/v1/rules", nil, &rules)
	return rules, err
}

// ReplaceRules swaps the whole rule set.
func (c *Client) ReplaceRules(ctx context.Context, rules []datatypes.RollbackRule) ([]datatypes.RollbackRule, error) {
	var out []datatypes.RollbackRule
	err := c.do(ctx, http.MethodPut, "/v1/rules", rules, &out)
	return out, err
}

// AddRule adds one rule and returns the resulting rule set.
func (c *Client) AddRule(ctx context.Context, rule datatypes.RollbackRule) ([]datatypes.RollbackRule, error) {
	var out []datatypes.RollbackRule
	err := c.do(ctx, http.MethodPost, "/v1/rules", rule, &out)
	return out, err
}

// RemoveRule deletes one rule by id.
func (c *Client) RemoveRule(ctx context.Context, ruleID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/rules/"+url.PathEscape(ruleID), nil, nil)
}

// =============================================================================
// Models
// =============================================================================

// AddMonitoring registers a model with the rollback watch loop.
func (c *Client) AddMonitoring(ctx context.Context, req datatypes.MonitoringRequest) error {
	body := map[string]any{
		"current_version": req.CurrentVersion,
		"version_history": req.VersionHistory,
	}
	return c.do(ctx, http.MethodPost, "/v1/models/"+url.PathEscape(req.ModelID)+"/monitoring", body, nil)
}

// RemoveMonitoring takes a model out of the watch loop.
func (c *Client) RemoveMonitoring(ctx context.Context, modelID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/models/"+url.PathEscape(modelID)+"/monitoring", nil, nil)
}

// ModelStatus summarises one model.
func (c *Client) ModelStatus(ctx context.Context, modelID string) (*datatypes.ModelDeploymentStatus, error) {
	var st datatypes.ModelDeploymentStatus
	if err := c.do(ctx, http.MethodGet, "/v1/models/"+url.PathEscape(modelID)+"/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetBaseline replaces the model's risk assessment baseline.
func (c *Client) SetBaseline(ctx context.Context, modelID string, metrics map[string]float64) error {
	return c.do(ctx, http.MethodPut, "/v1/models/"+url.PathEscape(modelID)+"/baseline", metrics, nil)
}

// RecordMetrics pushes a metrics snapshot for m.ModelID.
func (c *Client) RecordMetrics(ctx context.Context, m datatypes.ModelMetrics) error {
	return c.do(ctx, http.MethodPut, "/v1/models/"+url.PathEscape(m.ModelID)+"/metrics", m, nil)
}

// Health returns aggregated service health.
func (c *Client) Health(ctx context.Context) (datatypes.ServiceHealth, error) {
	var h datatypes.ServiceHealth
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// AuditEvents queries the audit trail. Zero filter fields are omitted.
func (c *Client) AuditEvents(ctx context.Context, filter extensions.AuditFilter) ([]extensions.AuditEvent, error) {
	q := url.Values{}
	if len(filter.EventTypes) > 0 {
		q.Set("type", strings.Join(filter.EventTypes, ","))
	}
	if filter.ModelID != "" {
		q.Set("model_id", filter.ModelID)
	}
	if filter.ResourceID != "" {
		q.Set("resource_id", filter.ResourceID)
	}
	if filter.Outcome != "" {
		q.Set("outcome", filter.Outcome)
	}
	if !filter.Since.IsZero() {
		q.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/v1/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var events []extensions.AuditEvent
	err := c.do(ctx, http.MethodGet, path, nil, &events)
	return events, err
}

// =============================================================================
// Transport
// =============================================================================

func modelQuery(modelID string) string {
	if modelID == "" {
		return ""
	}
	return "?model_id=" + url.QueryEscape(modelID)
}

// do sends body as JSON and decodes a 2xx reply into out. A nil out
// discards the body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body struct {
		Error      string                      `json:"error"`
		Validation *datatypes.ValidationResult `json:"validation"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Validation = body.Validation
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
