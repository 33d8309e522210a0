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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

func newDeploymentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployment",
		Aliases: []string{"deploy", "deployments"},
		Short:   "Inspect and control deployment executions",
	}
	cmd.AddCommand(
		newDeploymentGetCmd(opts),
		newDeploymentListCmd(opts),
		newDeploymentWatchCmd(opts),
		newDeploymentCancelCmd(opts),
	)
	return cmd
}

func newDeploymentGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show a deployment execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := opts.api.GetDeployment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.emit(x, func() { renderExecution(opts.printer, x) })
		},
	}
}

func newDeploymentListCmd(opts *rootOptions) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active and recent deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.api.ListDeployments(cmd.Context(), model)
			if err != nil {
				return err
			}
			return opts.emit(list, func() {
				for _, x := range list {
					renderExecutionRow(opts.printer, x)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Only deployments of this model")
	return cmd
}

func newDeploymentWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <execution-id>",
		Short: "Stream progress of a deployment until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchDeployment(cmd, opts, args[0])
		},
	}
}

func newDeploymentCancelCmd(opts *rootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a running deployment and roll it back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := opts.api.CancelDeployment(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return opts.emit(map[string]any{"execution_id": args[0], "cancelled": ok}, func() {
				if ok {
					opts.printer.Success("cancellation requested for " + args[0])
				} else {
					opts.printer.Warning(args[0] + " is not running")
				}
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "cancelled from deployctl", "Reason recorded on the execution")
	return cmd
}

// watchDeployment streams events for id and returns an error unless the
// execution completed successfully. With --json each event is printed
// as one JSON line.
func watchDeployment(cmd *cobra.Command, opts *rootOptions, id string) error {
	var last datatypes.ProgressEvent
	enc := json.NewEncoder(opts.printer.Out())
	err := opts.api.WatchDeployment(cmd.Context(), id, func(ev datatypes.ProgressEvent) {
		last = ev
		if opts.json {
			_ = enc.Encode(ev)
			return
		}
		renderEvent(opts.printer, ev)
	})
	if err != nil {
		return err
	}
	if !last.Terminal {
		return fmt.Errorf("event stream for %s closed before the deployment finished", id)
	}
	if last.Status != datatypes.ExecutionCompleted {
		return fmt.Errorf("deployment %s finished as %s", id, last.Status)
	}
	if !opts.json {
		opts.printer.Success("deployment " + id + " completed")
	}
	return nil
}
