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
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

func newPlanCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plan",
		Aliases: []string{"plans"},
		Short:   "Create, inspect and execute deployment plans",
	}
	cmd.AddCommand(
		newPlanCreateCmd(opts),
		newPlanGetCmd(opts),
		newPlanListCmd(opts),
		newPlanValidateCmd(opts),
		newPlanApproveCmd(opts),
		newPlanCancelCmd(opts),
		newPlanExecuteCmd(opts),
	)
	return cmd
}

// planCreateFlags are the flags of "plan create". Values given on the
// command line override those read from --file.
type planCreateFlags struct {
	file     string
	model    string
	from     string
	to       string
	strategy string
	size     string
	arch     string
	prevArch string
	gpu      bool
	metrics  map[string]string
}

// newPlanCreateCmd builds "plan create".
//
// # Description
//
// Builds a PlanRequest from an optional YAML or JSON file plus flags and
// submits it. The server assesses risk and picks the strategy unless
// --strategy overrides it.
//
// # Examples
//
//	deployctl plan create --model fraud --from 1.0 --to 1.1 --size 2GiB --metric accuracy=0.94
//	deployctl plan create -f request.yaml --strategy blue_green
func newPlanCreateCmd(opts *rootOptions) *cobra.Command {
	f := &planCreateFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a deployment plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			plan, err := opts.api.CreatePlan(cmd.Context(), req)
			if err != nil {
				return err
			}
			return opts.emit(plan, func() {
				opts.printer.Success("plan created")
				renderPlan(opts.printer, plan)
			})
		},
	}
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Read the plan request from a YAML or JSON file")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model id")
	cmd.Flags().StringVar(&f.from, "from", "", "Currently deployed version")
	cmd.Flags().StringVar(&f.to, "to", "", "Version to deploy")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "Override the strategy (direct, rolling, blue_green, canary)")
	cmd.Flags().StringVar(&f.size, "size", "", "Model artifact size, for example 750MB or 2GiB")
	cmd.Flags().StringVar(&f.arch, "arch", "", "Target model architecture")
	cmd.Flags().StringVar(&f.prevArch, "prev-arch", "", "Architecture of the deployed version")
	cmd.Flags().BoolVar(&f.gpu, "gpu", false, "Target version requires a GPU")
	cmd.Flags().StringToStringVar(&f.metrics, "metric", nil, "Expected performance metric, name=value (repeatable)")
	return cmd
}

func (f *planCreateFlags) request() (datatypes.PlanRequest, error) {
	var req datatypes.PlanRequest
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return req, fmt.Errorf("failed to read %s: %w", f.file, err)
		}
		// sigs.k8s.io/yaml converts to JSON first so the json tags apply.
		if err := yaml.UnmarshalStrict(data, &req); err != nil {
			return req, fmt.Errorf("failed to parse %s: %w", f.file, err)
		}
	}

	setIf(&req.ModelID, f.model)
	setIf(&req.SourceVersion, f.from)
	setIf(&req.TargetVersion, f.to)
	setIf(&req.Metadata.Architecture, f.arch)
	setIf(&req.Metadata.PreviousArchitecture, f.prevArch)
	if f.strategy != "" {
		req.StrategyOverride = datatypes.DeploymentStrategy(f.strategy)
	}
	if f.gpu {
		req.Metadata.RequiresGPU = true
	}
	if f.size != "" {
		n, err := humanize.ParseBytes(f.size)
		if err != nil {
			return req, fmt.Errorf("invalid --size %q: %w", f.size, err)
		}
		req.Metadata.ModelSizeBytes = int64(n)
	}
	if len(f.metrics) > 0 && req.Metadata.PerformanceMetrics == nil {
		req.Metadata.PerformanceMetrics = make(map[string]float64, len(f.metrics))
	}
	for name, raw := range f.metrics {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, fmt.Errorf("invalid --metric %s=%q: %w", name, raw, err)
		}
		req.Metadata.PerformanceMetrics[name] = v
	}

	if req.ModelID == "" || req.SourceVersion == "" || req.TargetVersion == "" {
		return req, errors.New("a model id, source version and target version are required (flags or --file)")
	}
	return req, nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func newPlanGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <plan-id>",
		Short: "Show a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := opts.api.GetPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.emit(plan, func() { renderPlan(opts.printer, plan) })
		},
	}
}

func newPlanListCmd(opts *rootOptions) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := opts.api.ListPlans(cmd.Context(), model)
			if err != nil {
				return err
			}
			return opts.emit(plans, func() {
				for _, p := range plans {
					renderPlanRow(opts.printer, p)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Only plans for this model")
	return cmd
}

func newPlanValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-id>",
		Short: "Validate a plan without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.api.ValidatePlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := opts.emit(res, func() { renderValidation(opts.printer, res) }); err != nil {
				return err
			}
			if !res.IsValid {
				return fmt.Errorf("plan %s failed validation", args[0])
			}
			return nil
		},
	}
}

func newPlanApproveCmd(opts *rootOptions) *cobra.Command {
	var approver string
	cmd := &cobra.Command{
		Use:   "approve <plan-id>",
		Short: "Approve a plan that requires approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approver == "" {
				approver = os.Getenv("USER")
			}
			ok, err := opts.api.ApprovePlan(cmd.Context(), args[0], approver)
			if err != nil {
				return err
			}
			return opts.emit(map[string]any{"plan_id": args[0], "approved": ok}, func() {
				opts.printer.Success(fmt.Sprintf("plan %s approved by %s", args[0], approver))
			})
		},
	}
	cmd.Flags().StringVar(&approver, "by", "", "Approver identity (default $USER)")
	return cmd
}

func newPlanCancelCmd(opts *rootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <plan-id>",
		Short: "Retire a plan so it can no longer be executed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.api.CancelPlan(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			return opts.emit(map[string]any{"plan_id": args[0], "cancelled": true}, func() {
				opts.printer.Success("plan " + args[0] + " cancelled")
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the plan is being retired")
	return cmd
}

// newPlanExecuteCmd builds "plan execute". With --watch it streams
// progress until the execution finishes and fails unless it completed.
func newPlanExecuteCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "execute <plan-id>",
		Short: "Execute a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.api.ExecutePlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := opts.emit(map[string]string{"execution_id": id}, func() {
				opts.printer.Success("deployment started: " + id)
			}); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchDeployment(cmd, opts, id)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream progress until the deployment finishes")
	return cmd
}
