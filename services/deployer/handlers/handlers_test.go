// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDeploy/pkg/extensions"
	"github.com/AleutianAI/AleutianDeploy/pkg/logging"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/executor"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/monitoring"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/orchestrator"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/planning"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/rollback"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func testOrchestrator(t *testing.T, provider monitoring.Provider) *orchestrator.Orchestrator {
	t.Helper()
	fast := 20 * time.Millisecond
	o := orchestrator.New(orchestrator.Config{
		Logger:  logging.Discard(),
		Monitor: provider,
		Audit:   extensions.NewMemoryAuditLogger(100, nil),
		Executor: executor.Config{
			StepDelay:       -1,
			MonitorInterval: 5 * time.Millisecond,
			MonitorDurations: map[datatypes.RiskLevel]time.Duration{
				datatypes.RiskLow:      fast,
				datatypes.RiskMedium:   fast,
				datatypes.RiskHigh:     fast,
				datatypes.RiskCritical: fast,
			},
		},
		Rollback: rollback.Config{StepDelay: -1, WatchInterval: time.Hour},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

// newTestRouter wires the handlers the same way routes.SetupRoutes does.
func newTestRouter(svc Service) *gin.Engine {
	r := gin.New()
	r.GET("/health", HealthCheck(svc))
	v1 := r.Group("/v1")
	v1.POST("/plans", CreatePlan(svc))
	v1.GET("/plans", ListPlans(svc))
	v1.GET("/plans/:id", GetPlan(svc))
	v1.DELETE("/plans/:id", CancelPlan(svc))
	v1.POST("/plans/:id/validate", ValidatePlan(svc))
	v1.POST("/plans/:id/approve", ApprovePlan(svc))
	v1.POST("/plans/:id/execute", ExecutePlan(svc))
	v1.GET("/deployments", ListDeployments(svc))
	v1.GET("/deployments/:id", GetDeployment(svc))
	v1.POST("/deployments/:id/cancel", CancelDeployment(svc))
	v1.GET("/deployments/:id/events", DeploymentEvents(svc))
	v1.POST("/rollbacks", TriggerRollback(svc))
	v1.GET("/rollbacks", ListRollbacks(svc))
	v1.GET("/rollbacks/:id", GetRollback(svc))
	v1.GET("/rules", GetRules(svc))
	v1.PUT("/rules", ReplaceRules(svc))
	v1.POST("/rules", AddRule(svc))
	v1.DELETE("/rules/:id", RemoveRule(svc))
	v1.GET("/audit", ListAuditEvents(svc))
	v1.POST("/models/:id/monitoring", AddMonitoring(svc))
	v1.DELETE("/models/:id/monitoring", RemoveMonitoring(svc))
	v1.GET("/models/:id/status", ModelStatus(svc))
	v1.PUT("/models/:id/baseline", SetBaseline(svc))
	v1.PUT("/models/:id/metrics", RecordMetrics(svc))
	return r
}

func healthyProvider() *monitoring.StaticProvider {
	p := monitoring.NewStaticProvider()
	p.Set("m1", datatypes.ModelMetrics{ErrorRate: datatypes.Float(0.01), Accuracy: datatypes.Float(0.95), HealthScore: datatypes.Float(0.9)})
	return p
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func lowRiskPlan() datatypes.PlanRequest {
	return datatypes.PlanRequest{
		ModelID:       "m1",
		SourceVersion: "1.0",
		TargetVersion: "1.1",
		Metadata: datatypes.ModelMetadata{
			PerformanceMetrics: map[string]float64{"accuracy": 0.95},
			ModelSizeBytes:     10 << 20,
		},
	}
}

func createPlan(t *testing.T, r http.Handler, req datatypes.PlanRequest) *datatypes.DeploymentPlan {
	t.Helper()
	w := do(t, r, http.MethodPost, "/v1/plans", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[*datatypes.DeploymentPlan](t, w)
}

func waitTerminal(t *testing.T, r http.Handler, id string) *datatypes.DeploymentExecution {
	t.Helper()
	var x *datatypes.DeploymentExecution
	require.Eventually(t, func() bool {
		w := do(t, r, http.MethodGet, "/v1/deployments/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		x = decode[*datatypes.DeploymentExecution](t, w)
		return x.Status.Terminal() && x.CompletedAt != nil
	}, 5*time.Second, 5*time.Millisecond)
	return x
}

// ============================================================================
// Error Mapping
// ============================================================================

func TestStatusFor(t *testing.T) {
	verr := (&datatypes.RollbackRequest{}).Validate()
	require.Error(t, verr)

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: p1", orchestrator.ErrPlanNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x1", orchestrator.ErrExecutionNotFound), http.StatusNotFound},
		{orchestrator.ErrRollbackNotFound, http.StatusNotFound},
		{rollback.ErrModelNotRegistered, http.StatusNotFound},
		{&orchestrator.PlanInvalidError{PlanID: "p1"}, http.StatusUnprocessableEntity},
		{orchestrator.ErrApprovalRequired, http.StatusConflict},
		{orchestrator.ErrPlanRetired, http.StatusConflict},
		{rollback.ErrTargetIsCurrent, http.StatusConflict},
		{rollback.ErrInsufficientHistory, http.StatusConflict},
		{fmt.Errorf("invalid rollback request: %w", verr), http.StatusBadRequest},
		{planning.ErrInvalidRequest, http.StatusBadRequest},
		{planning.ErrApproverRequired, http.StatusBadRequest},
		{rollback.ErrInvalidRule, http.StatusBadRequest},
		{rollback.ErrUnknownVersion, http.StatusBadRequest},
		{orchestrator.ErrMetricsWriteUnsupported, http.StatusNotImplemented},
		{executor.ErrShuttingDown, http.StatusServiceUnavailable},
		{monitoring.ErrMetricsUnavailable, http.StatusServiceUnavailable},
		{orchestrator.ErrInternal, http.StatusInternalServerError},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

// ============================================================================
// Plans and Deployments
// ============================================================================

func TestPlanToCompletedDeployment(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))

	plan := createPlan(t, r, lowRiskPlan())
	assert.Equal(t, "m1", plan.ModelID)

	w := do(t, r, http.MethodGet, "/v1/plans/"+plan.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/v1/plans?model_id=m1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]*datatypes.DeploymentPlan](t, w), 1)

	w = do(t, r, http.MethodPost, "/v1/plans/"+plan.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[datatypes.ValidationResult](t, w).IsValid)

	w = do(t, r, http.MethodPost, "/v1/plans/"+plan.ID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode[ExecuteResponse](t, w).ExecutionID
	require.NotEmpty(t, id)
	assert.Equal(t, "/v1/deployments/"+id, w.Header().Get("Location"))

	x := waitTerminal(t, r, id)
	assert.Equal(t, datatypes.ExecutionCompleted, x.Status)

	w = do(t, r, http.MethodGet, "/v1/deployments?model_id=m1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]*datatypes.DeploymentExecution](t, w), 1)

	w = do(t, r, http.MethodGet, "/v1/models/m1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[datatypes.ModelDeploymentStatus](t, w)
	require.NotNil(t, st.LastDeployment)
	assert.Equal(t, id, st.LastDeployment.ID)
	require.NotNil(t, st.Versions)
	assert.Equal(t, "1.1", st.Versions.Versions[0])
}

func TestPlanErrors(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))

	w := do(t, r, http.MethodPost, "/v1/plans", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/v1/plans", datatypes.PlanRequest{SourceVersion: "1", TargetVersion: "2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/v1/plans/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/v1/plans/nope/validate", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/v1/plans/nope/execute", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/v1/plans/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/v1/deployments/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/v1/rollbacks/nope", nil).Code)
}

func TestExecute_ApprovalFlow(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))

	req := lowRiskPlan()
	req.StrategyOverride = datatypes.StrategyBlueGreen
	plan := createPlan(t, r, req)

	w := do(t, r, http.MethodPost, "/v1/plans/"+plan.ID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "requires approval")

	w = do(t, r, http.MethodPost, "/v1/plans/"+plan.ID+"/approve", ApproveRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/v1/plans/"+plan.ID+"/approve", ApproveRequest{Approver: "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[ApproveResponse](t, w).Approved)

	w = do(t, r, http.MethodPost, "/v1/plans/"+plan.ID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	waitTerminal(t, r, decode[ExecuteResponse](t, w).ExecutionID)
}

func TestExecute_InvalidPlanReturnsValidation(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))

	req := lowRiskPlan()
	req.Constraints = []datatypes.DeploymentConstraint{{Type: "change_window", Blocking: true}}
	plan := createPlan(t, r, req)

	w := do(t, r, http.MethodPost, "/v1/plans/"+plan.ID+"/execute", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[ErrorResponse](t, w)
	require.NotNil(t, resp.Validation)
	assert.False(t, resp.Validation.IsValid)
	assert.NotEmpty(t, resp.Validation.Errors)
}

func TestCancelPlan(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))
	plan := createPlan(t, r, lowRiskPlan())

	w := do(t, r, http.MethodDelete, "/v1/plans/"+plan.ID+"?reason=obsolete", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/v1/plans/"+plan.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, "retired plans stay readable")
	assert.Contains(t, decode[*datatypes.DeploymentPlan](t, w).RetirementReason, "obsolete")

	w = do(t, r, http.MethodPost, "/v1/plans/"+plan.ID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelDeployment_Unknown(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))

	w := do(t, r, http.MethodPost, "/v1/deployments/nope/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[CancelResponse](t, w).Cancelled)

	w = do(t, r, http.MethodPost, "/v1/deployments/nope/cancel", "{bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Rollbacks, Rules and Models
// ============================================================================

func TestRollbackEndpoints(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))

	w := do(t, r, http.MethodPost, "/v1/rollbacks", datatypes.RollbackRequest{ModelID: "m1"})
	assert.Equal(t, http.StatusNotFound, w.Code, "unregistered model")

	w = do(t, r, http.MethodPost, "/v1/models/m1/monitoring", MonitoringBody{CurrentVersion: "v2", VersionHistory: []string{"v1"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/v1/rollbacks", datatypes.RollbackRequest{ModelID: "m1", TargetVersion: "v2"})
	assert.Equal(t, http.StatusConflict, w.Code, "target is current")

	w = do(t, r, http.MethodPost, "/v1/rollbacks", datatypes.RollbackRequest{ModelID: "m1", TargetVersion: "v9"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown version")

	w = do(t, r, http.MethodPost, "/v1/rollbacks", datatypes.RollbackRequest{ModelID: "m1", Strategy: "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "invalid strategy")

	w = do(t, r, http.MethodPost, "/v1/rollbacks", datatypes.RollbackRequest{ModelID: "m1", Reason: "bad release"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rb := decode[*datatypes.RollbackExecution](t, w)
	assert.Equal(t, datatypes.RollbackCompleted, rb.Status)
	assert.Equal(t, "v2", rb.FromVersion)
	assert.Equal(t, "v1", rb.ToVersion)

	w = do(t, r, http.MethodGet, "/v1/rollbacks/"+rb.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/v1/rollbacks?model_id=m1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]*datatypes.RollbackExecution](t, w), 1)

	w = do(t, r, http.MethodGet, "/v1/models/m1/status", nil)
	st := decode[datatypes.ModelDeploymentStatus](t, w)
	assert.True(t, st.RollbackMonitoringEnabled)
	require.NotNil(t, st.LastRollback)
	assert.Equal(t, rb.ID, st.LastRollback.ID)

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/v1/models/m1/monitoring", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/v1/models/m1/monitoring", nil).Code)
}

func TestAddMonitoring_Invalid(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))
	w := do(t, r, http.MethodPost, "/v1/models/m1/monitoring", MonitoringBody{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRulesEndpoints(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))

	w := do(t, r, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]datatypes.RollbackRule](t, w), len(rollback.DefaultRules()))

	rules := []datatypes.RollbackRule{{
		ID: "acc", Trigger: datatypes.TriggerPerformanceDegradation,
		Condition: "accuracy < threshold", Threshold: 0.7,
		Strategy: datatypes.RollbackTrafficReduction, AutoExecute: true, Priority: 5,
	}}
	w = do(t, r, http.MethodPut, "/v1/rules", rules)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[[]datatypes.RollbackRule](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, "acc", got[0].ID)

	w = do(t, r, http.MethodPut, "/v1/rules", append(rules, rules[0]))
	assert.Equal(t, http.StatusBadRequest, w.Code, "duplicate ids")
	w = do(t, r, http.MethodGet, "/v1/rules", nil)
	assert.Len(t, decode[[]datatypes.RollbackRule](t, w), 1, "rejected set leaves rules unchanged")

	health := datatypes.RollbackRule{
		ID: "health", Trigger: datatypes.TriggerHealthCheckFailure,
		Threshold: 0.5, Strategy: datatypes.RollbackEmergencyStop, Priority: 10,
	}
	w = do(t, r, http.MethodPost, "/v1/rules", health)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got = decode[[]datatypes.RollbackRule](t, w)
	require.Len(t, got, 2)
	assert.Equal(t, "health", got[0].ID)

	w = do(t, r, http.MethodPost, "/v1/rules", datatypes.RollbackRule{ID: "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/v1/rules/health", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodDelete, "/v1/rules/health", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBaselineAndMetrics(t *testing.T) {
	provider := healthyProvider()
	r := newTestRouter(testOrchestrator(t, provider))

	w := do(t, r, http.MethodPut, "/v1/models/m1/baseline", map[string]float64{"accuracy": 0.9})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodPut, "/v1/models/m1/baseline", "[1,2]")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/v1/models/m2/metrics", datatypes.ModelMetrics{ErrorRate: datatypes.Float(0.2), Accuracy: datatypes.Float(0.5)})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	m, err := provider.GetCurrentMetrics(context.Background(), "m2")
	require.NoError(t, err)
	assert.Equal(t, "m2", m.ModelID, "model id comes from the path")
	assert.Equal(t, datatypes.Float(0.2), m.ErrorRate)
	assert.Nil(t, m.HealthScore, "fields left out of the body stay unreported")

	readOnly := newTestRouter(testOrchestrator(t, monitoring.ProviderFunc(
		func(context.Context, string) (*datatypes.ModelMetrics, error) {
			return nil, monitoring.ErrMetricsUnavailable
		})))
	w = do(t, readOnly, http.MethodPut, "/v1/models/m1/metrics", datatypes.ModelMetrics{})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

type panicRecorder struct{}

func (panicRecorder) GetCurrentMetrics(context.Context, string) (*datatypes.ModelMetrics, error) {
	return nil, monitoring.ErrMetricsUnavailable
}

func (panicRecorder) RecordMetrics(context.Context, *datatypes.ModelMetrics) error {
	panic("write path exploded")
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, panicRecorder{}))
	w := do(t, r, http.MethodPut, "/v1/models/m1/metrics", datatypes.ModelMetrics{})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, orchestrator.ErrInternal.Error(), resp.Error)
	assert.NotContains(t, w.Body.String(), "exploded")
}

func TestListAuditEvents(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))
	plan := createPlan(t, r, lowRiskPlan())
	require.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/v1/plans/"+plan.ID+"?reason=obsolete", nil).Code)
	other := lowRiskPlan()
	other.ModelID = "m2"
	createPlan(t, r, other)

	w := do(t, r, http.MethodGet, "/v1/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[[]extensions.AuditEvent](t, w)
	require.Len(t, all, 3)
	assert.Equal(t, "m2", all[0].ModelID)

	w = do(t, r, http.MethodGet, "/v1/audit?type=plan.cancel&model_id=m1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cancels := decode[[]extensions.AuditEvent](t, w)
	require.Len(t, cancels, 1)
	assert.Equal(t, plan.ID, cancels[0].ResourceID)
	assert.Equal(t, "obsolete", cancels[0].Metadata["reason"])

	w = do(t, r, http.MethodGet, "/v1/audit?type=plan.create,plan.cancel&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]extensions.AuditEvent](t, w), 2)

	w = do(t, r, http.MethodGet, "/v1/audit?since=2999-01-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]extensions.AuditEvent](t, w))

	for _, q := range []string{"since=yesterday", "limit=-1", "limit=many"} {
		w = do(t, r, http.MethodGet, "/v1/audit?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHealthCheck(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, nil))
	w := do(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	h := decode[datatypes.ServiceHealth](t, w)
	assert.Equal(t, datatypes.HealthDegraded, h.Status)
}

// ============================================================================
// Event Stream
// ============================================================================

func dialEvents(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/deployments/" + id + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntilClose(t *testing.T, conn *websocket.Conn) []datatypes.ProgressEvent {
	t.Helper()
	var events []datatypes.ProgressEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev datatypes.ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			return events
		}
		events = append(events, ev)
	}
}

func TestDeploymentEvents_StreamsUntilTerminal(t *testing.T) {
	o := testOrchestrator(t, healthyProvider())
	srv := httptest.NewServer(newTestRouter(o))
	defer srv.Close()

	plan, err := o.PlanDeployment(context.Background(), lowRiskPlan())
	require.NoError(t, err)
	id, err := o.ExecuteDeployment(context.Background(), plan.ID)
	require.NoError(t, err)

	events := readUntilClose(t, dialEvents(t, srv, id))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Terminal)
	assert.Equal(t, datatypes.ExecutionCompleted, last.Status)
	for _, ev := range events {
		assert.Equal(t, id, ev.ExecutionID)
	}
}

func TestDeploymentEvents_FinishedExecution(t *testing.T) {
	o := testOrchestrator(t, healthyProvider())
	r := newTestRouter(o)
	srv := httptest.NewServer(r)
	defer srv.Close()

	plan, err := o.PlanDeployment(context.Background(), lowRiskPlan())
	require.NoError(t, err)
	id, err := o.ExecuteDeployment(context.Background(), plan.ID)
	require.NoError(t, err)
	waitTerminal(t, r, id)

	events := readUntilClose(t, dialEvents(t, srv, id))
	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal)
	assert.Equal(t, 100.0, events[0].ProgressPercent)
}

func TestDeploymentEvents_UnknownExecution(t *testing.T) {
	r := newTestRouter(testOrchestrator(t, healthyProvider()))
	w := do(t, r, http.MethodGet, "/v1/deployments/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
