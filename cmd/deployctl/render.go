// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/AleutianDeploy/pkg/extensions"
	"github.com/AleutianAI/AleutianDeploy/pkg/ux"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// progressBarWidth is the character width of execution progress bars.
const progressBarWidth = 30

func when(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.Time(t))
}

func whenPtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return when(*t)
}

func renderPlan(p *ux.Printer, plan *datatypes.DeploymentPlan) {
	p.Title(fmt.Sprintf("Plan %s", plan.ID))
	p.Field("id", plan.ID)
	p.Field("model", plan.ModelID)
	p.Field("versions", fmt.Sprintf("%s %s %s", plan.SourceVersion, ux.IconArrow, plan.TargetVersion))
	p.Field("strategy", plan.Strategy)
	p.Field("risk", plan.RiskLevel)
	p.Field("rollback", plan.RollbackStrategy)
	p.Field("estimated", plan.EstimatedDuration)
	p.Field("created", when(plan.CreatedAt))
	if size := plan.Metadata.TargetMetadata.ModelSizeBytes; size > 0 {
		p.Field("model size", humanize.IBytes(uint64(size)))
	}

	switch {
	case plan.RetiredAt != nil:
		p.Field("state", "retired: "+plan.RetirementReason)
	case plan.ApprovalRequired && plan.ApprovedBy == "":
		p.Field("state", "awaiting approval")
	case plan.ApprovedBy != "":
		p.Field("state", "approved by "+plan.ApprovedBy)
	default:
		p.Field("state", "ready")
	}

	if len(plan.Metadata.RiskAssessment.Factors) > 0 {
		p.Field("risk factors", len(plan.Metadata.RiskAssessment.Factors))
		for _, f := range plan.Metadata.RiskAssessment.Factors {
			p.Bullet(fmt.Sprintf("[%s] %s", f.Severity, f.Description))
		}
	}
	if len(plan.Metadata.RiskAssessment.Mitigations) > 0 {
		p.Field("mitigations", len(plan.Metadata.RiskAssessment.Mitigations))
		for _, m := range plan.Metadata.RiskAssessment.Mitigations {
			p.Bullet(m)
		}
	}
	if len(plan.Constraints) > 0 {
		p.Field("constraints", len(plan.Constraints))
		for _, c := range plan.Constraints {
			label := c.Type
			if c.Blocking {
				label += " (blocking)"
			}
			p.Bullet(label)
		}
	}
}

func renderPlanRow(p *ux.Printer, plan *datatypes.DeploymentPlan) {
	state := "active"
	if plan.RetiredAt != nil {
		state = "retired"
	}
	p.Row(plan.ID, plan.ModelID, plan.SourceVersion+"->"+plan.TargetVersion,
		string(plan.Strategy), string(plan.RiskLevel), state)
}

func renderValidation(p *ux.Printer, res datatypes.ValidationResult) {
	if res.IsValid {
		p.Success("plan is valid")
	} else {
		p.Error("plan is invalid")
	}
	for _, e := range res.Errors {
		p.Bullet("error: " + e)
	}
	for _, w := range res.Warnings {
		p.Bullet("warning: " + w)
	}
}

func renderExecution(p *ux.Printer, x *datatypes.DeploymentExecution) {
	p.Title(fmt.Sprintf("Deployment %s", x.ID))
	p.Field("id", x.ID)
	p.Status(string(x.Status), fmt.Sprintf("%s (%s)", x.Status, x.Progress.Phase))
	p.Field("model", x.ModelID)
	p.Field("plan", x.PlanID)
	if x.Plan != nil {
		p.Field("versions", fmt.Sprintf("%s %s %s", x.Plan.SourceVersion, ux.IconArrow, x.Plan.TargetVersion))
		p.Field("strategy", x.Plan.Strategy)
	}
	p.Field("progress", p.ProgressBar(x.Progress.ProgressPercent, progressBarWidth))
	if x.Progress.CurrentStep != "" {
		p.Field("step", fmt.Sprintf("%s (%d/%d)", x.Progress.CurrentStep, x.Progress.CompletedSteps, x.Progress.TotalSteps))
	}
	p.Field("started", when(x.StartedAt))
	p.Field("completed", whenPtr(x.CompletedAt))
	if x.Progress.ErrorMessage != "" {
		p.Field("error", x.Progress.ErrorMessage)
	}

	for _, c := range append(append([]datatypes.CheckResult(nil), x.PreCheckResults...), x.PostCheckResults...) {
		status := "completed"
		if !c.Success {
			status = "failed"
		}
		p.Status(status, fmt.Sprintf("check %s %s", c.Name, c.Message))
	}
	if x.ValidationResult != nil {
		for _, issue := range x.ValidationResult.Issues {
			p.Bullet("validation: " + issue)
		}
	}
	if x.RollbackTriggered {
		p.Field("rollback", fmt.Sprintf("%s (completed=%t)", x.RollbackReason, x.RollbackCompleted))
		if x.RollbackID != "" {
			p.Field("rollback id", x.RollbackID)
		}
	}
	if x.CancelReason != "" {
		p.Field("cancelled", x.CancelReason)
	}
}

func renderExecutionRow(p *ux.Printer, x *datatypes.DeploymentExecution) {
	p.Row(x.ID, x.ModelID, string(x.Status), string(x.Progress.Phase),
		fmt.Sprintf("%.0f%%", x.Progress.ProgressPercent))
}

func renderEvent(p *ux.Printer, ev datatypes.ProgressEvent) {
	step := ev.CurrentStep
	if step == "" {
		step = string(ev.Phase)
	}
	p.Status(string(ev.Status), fmt.Sprintf("%-12s %s %s",
		ev.Phase, p.ProgressBar(ev.ProgressPercent, progressBarWidth), step))
}

func renderRollback(p *ux.Printer, r *datatypes.RollbackExecution) {
	p.Title(fmt.Sprintf("Rollback %s", r.ID))
	p.Field("id", r.ID)
	p.Status(string(r.Status), string(r.Status))
	p.Field("model", r.ModelID)
	p.Field("versions", fmt.Sprintf("%s %s %s", r.FromVersion, ux.IconArrow, r.ToVersion))
	p.Field("trigger", r.Trigger)
	p.Field("strategy", r.Strategy)
	if r.Reason != "" {
		p.Field("reason", r.Reason)
	}
	if r.DeploymentExecutionID != "" {
		p.Field("deployment", r.DeploymentExecutionID)
	}
	p.Field("triggered", when(r.TriggeredAt))
	p.Field("duration", r.Duration)
	if r.ErrorMessage != "" {
		p.Field("error", r.ErrorMessage)
	}
	for _, entry := range r.ExecutionLog {
		p.Bullet(entry.Timestamp.Format("15:04:05.000") + " " + entry.Message)
	}
}

func renderRollbackRow(p *ux.Printer, r *datatypes.RollbackExecution) {
	p.Row(r.ID, r.ModelID, r.FromVersion+"->"+r.ToVersion, string(r.Trigger), string(r.Status))
}

func renderRules(p *ux.Printer, rules []datatypes.RollbackRule) {
	for _, r := range rules {
		auto := "manual"
		if r.AutoExecute {
			auto = "auto"
		}
		p.Row(r.ID, string(r.Trigger), strconv.FormatFloat(r.Threshold, 'g', -1, 64),
			string(r.Strategy), auto, strconv.Itoa(r.Priority))
	}
}

func renderModelStatus(p *ux.Printer, st *datatypes.ModelDeploymentStatus) {
	p.Title(fmt.Sprintf("Model %s", st.ModelID))
	p.Field("monitoring", st.RollbackMonitoringEnabled)
	if v := st.Versions; v != nil {
		p.Field("versions", strings.Join(v.Versions, ", "))
		if v.LastKnownGood != "" {
			p.Field("last known good", v.LastKnownGood)
		}
		if len(v.Quarantined) > 0 {
			p.Field("quarantined", strings.Join(v.Quarantined, ", "))
		}
	}
	p.Field("active deploys", len(st.ActiveDeployments))
	for _, x := range st.ActiveDeployments {
		renderExecutionRow(p, x)
	}
	p.Field("active rollbacks", len(st.ActiveRollbacks))
	for _, r := range st.ActiveRollbacks {
		renderRollbackRow(p, r)
	}
	if st.LastDeployment != nil {
		p.Field("last deployment", fmt.Sprintf("%s %s", st.LastDeployment.ID, st.LastDeployment.Status))
	}
	if st.LastRollback != nil {
		p.Field("last rollback", fmt.Sprintf("%s %s", st.LastRollback.ID, st.LastRollback.Status))
	}
}

func renderAuditRow(p *ux.Printer, e extensions.AuditEvent) {
	actor := e.Actor
	if actor == "" {
		actor = "-"
	}
	resource := e.ResourceType
	if e.ResourceID != "" {
		resource += "/" + e.ResourceID
	}
	p.Row(e.Timestamp.Format(time.RFC3339), e.EventType, actor, resource, e.Outcome)
}

func renderHealth(p *ux.Printer, h datatypes.ServiceHealth) {
	p.Status(h.Status, "deployer "+h.Status)
	for _, c := range h.Components {
		p.Status(c.Status, c.Name)
		keys := make([]string, 0, len(c.Details))
		for k := range c.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p.Bullet(fmt.Sprintf("%s=%v", k, c.Details[k]))
		}
	}
}
