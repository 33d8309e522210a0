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

import "time"

// ExecutionProgress is the fine-grained progress of one execution.
type ExecutionProgress struct {
	Phase               ExecutionPhase `json:"phase"`
	ProgressPercent     float64        `json:"progress_percent"`
	CurrentStep         string         `json:"current_step"`
	TotalSteps          int            `json:"total_steps"`
	CompletedSteps      int            `json:"completed_steps"`
	StartTime           time.Time      `json:"start_time"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	Success             bool           `json:"success"`
	ErrorMessage        string         `json:"error_message,omitempty"`
}

// CheckResult records one pre- or post-deployment check.
type CheckResult struct {
	Name     string         `json:"name"`
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Duration time.Duration  `json:"duration"`
	Details  map[string]any `json:"details,omitempty"`
}

// StrategyResult records the deploy phase outcome.
type StrategyResult struct {
	Strategy DeploymentStrategy `json:"strategy"`
	Success  bool               `json:"success"`
	Message  string             `json:"message,omitempty"`
	Steps    []string           `json:"steps,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// ValidationOutcome is the pass/fail outcome of the validation phase.
type ValidationOutcome struct {
	Performance bool     `json:"performance"`
	Functional  bool     `json:"functional"`
	Integration bool     `json:"integration"`
	Issues      []string `json:"issues,omitempty"`
}

// Passed reports whether every dimension passed.
func (v ValidationOutcome) Passed() bool {
	return v.Performance && v.Functional && v.Integration
}

// DeploymentExecution is one attempt to carry out a plan.
//
// The plan is held by value so the execution is self-describing once it
// has moved into history.
type DeploymentExecution struct {
	ID       string            `json:"id"`
	PlanID   string            `json:"plan_id"`
	ModelID  string            `json:"model_id"`
	Plan     *DeploymentPlan   `json:"plan"`
	Status   ExecutionStatus   `json:"status"`
	Progress ExecutionProgress `json:"progress"`

	PreCheckResults  []CheckResult      `json:"pre_check_results"`
	DeploymentResult *StrategyResult    `json:"deployment_result,omitempty"`
	PostCheckResults []CheckResult      `json:"post_check_results"`
	ValidationResult *ValidationOutcome `json:"validation_result,omitempty"`

	RollbackTriggered bool   `json:"rollback_triggered"`
	RollbackReason    string `json:"rollback_reason,omitempty"`
	RollbackCompleted bool   `json:"rollback_completed"`
	RollbackID        string `json:"rollback_id,omitempty"`

	CancelReason string     `json:"cancel_reason,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of e.
func (e *DeploymentExecution) Clone() *DeploymentExecution {
	if e == nil {
		return nil
	}
	out := *e
	out.Plan = e.Plan.Clone()
	out.Progress.EstimatedCompletion = cloneTime(e.Progress.EstimatedCompletion)
	out.PreCheckResults = cloneChecks(e.PreCheckResults)
	out.PostCheckResults = cloneChecks(e.PostCheckResults)
	if e.DeploymentResult != nil {
		r := *e.DeploymentResult
		r.Steps = append([]string(nil), e.DeploymentResult.Steps...)
		out.DeploymentResult = &r
	}
	if e.ValidationResult != nil {
		v := *e.ValidationResult
		v.Issues = append([]string(nil), e.ValidationResult.Issues...)
		out.ValidationResult = &v
	}
	out.CompletedAt = cloneTime(e.CompletedAt)
	return &out
}

func cloneChecks(in []CheckResult) []CheckResult {
	if in == nil {
		return nil
	}
	out := make([]CheckResult, len(in))
	for i, c := range in {
		out[i] = c
		out[i].Details = cloneAnyMap(c.Details)
	}
	return out
}

// Event returns the progress event describing e at ts.
func (e *DeploymentExecution) Event(ts time.Time) ProgressEvent {
	return ProgressEvent{
		ExecutionID:     e.ID,
		ModelID:         e.ModelID,
		Phase:           e.Progress.Phase,
		Status:          e.Status,
		ProgressPercent: e.Progress.ProgressPercent,
		CurrentStep:     e.Progress.CurrentStep,
		CompletedSteps:  e.Progress.CompletedSteps,
		TotalSteps:      e.Progress.TotalSteps,
		Timestamp:       ts,
		Terminal:        e.Status.Terminal(),
	}
}

// ProgressEvent is published on every progress change of an execution.
type ProgressEvent struct {
	ExecutionID     string          `json:"execution_id"`
	ModelID         string          `json:"model_id"`
	Phase           ExecutionPhase  `json:"phase"`
	Status          ExecutionStatus `json:"status"`
	ProgressPercent float64         `json:"progress_percent"`
	CurrentStep     string          `json:"current_step"`
	CompletedSteps  int             `json:"completed_steps"`
	TotalSteps      int             `json:"total_steps"`
	Timestamp       time.Time       `json:"timestamp"`
	Terminal        bool            `json:"terminal"`
}
