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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/config"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

func newRollbackCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rollback",
		Aliases: []string{"rollbacks"},
		Short:   "Trigger and inspect rollbacks",
	}
	cmd.AddCommand(
		newRollbackTriggerCmd(opts),
		newRollbackGetCmd(opts),
		newRollbackListCmd(opts),
	)
	return cmd
}

// newRollbackTriggerCmd builds "rollback trigger".
//
// # Description
//
// Requests an on-demand rollback of a monitored model. Without --to the
// server picks the previous good version. The command fails when the
// rollback itself failed, even though the server accepted it.
func newRollbackTriggerCmd(opts *rootOptions) *cobra.Command {
	var (
		target   string
		reason   string
		strategy string
	)
	cmd := &cobra.Command{
		Use:   "trigger <model-id>",
		Short: "Roll a model back to an earlier version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rb, err := opts.api.TriggerRollback(cmd.Context(), datatypes.RollbackRequest{
				ModelID:       args[0],
				TargetVersion: target,
				Reason:        reason,
				Strategy:      datatypes.RollbackStrategy(strategy),
			})
			if err != nil {
				return err
			}
			if err := opts.emit(rb, func() { renderRollback(opts.printer, rb) }); err != nil {
				return err
			}
			if rb.Status == datatypes.RollbackFailed {
				return fmt.Errorf("rollback %s failed: %s", rb.ID, rb.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "Version to roll back to (default: previous good version)")
	cmd.Flags().StringVar(&reason, "reason", "manual rollback", "Reason recorded on the rollback")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Rollback strategy (default version_revert)")
	return cmd
}

func newRollbackGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <rollback-id>",
		Short: "Show a rollback and its execution log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rb, err := opts.api.GetRollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.emit(rb, func() { renderRollback(opts.printer, rb) })
		},
	}
}

func newRollbackListCmd(opts *rootOptions) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active and recent rollbacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.api.ListRollbacks(cmd.Context(), model)
			if err != nil {
				return err
			}
			return opts.emit(list, func() {
				for _, r := range list {
					renderRollbackRow(opts.printer, r)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Only rollbacks of this model")
	return cmd
}

// =============================================================================
// RULES
// =============================================================================

func newRulesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Show or change automatic rollback rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := opts.api.Rules(cmd.Context())
			if err != nil {
				return err
			}
			return opts.emit(rules, func() { renderRules(opts.printer, rules) })
		},
	}
	cmd.AddCommand(newRulesApplyCmd(opts), newRulesAddCmd(opts), newRulesRemoveCmd(opts))
	return cmd
}

// newRulesAddCmd adds a single rule; an existing rule with the same id is
// replaced.
func newRulesAddCmd(opts *rootOptions) *cobra.Command {
	var (
		rule              datatypes.RollbackRule
		trigger, strategy string
	)
	cmd := &cobra.Command{
		Use:   "add <rule-id>",
		Short: "Add or replace one rollback rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule.ID = args[0]
			rule.Trigger = datatypes.TriggerType(trigger)
			rule.Strategy = datatypes.RollbackStrategy(strategy)
			rules, err := opts.api.AddRule(cmd.Context(), rule)
			if err != nil {
				return err
			}
			return opts.emit(rules, func() {
				opts.printer.Success("rule " + rule.ID + " added")
				renderRules(opts.printer, rules)
			})
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "", "Trigger type, e.g. error_rate_spike")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Rollback strategy, e.g. instant_switch")
	cmd.Flags().Float64Var(&rule.Threshold, "threshold", 0, "Threshold the metric is compared with")
	cmd.Flags().StringVar(&rule.Condition, "condition", "", "Human-readable condition")
	cmd.Flags().BoolVar(&rule.AutoExecute, "auto", false, "Roll back automatically when the rule fires")
	cmd.Flags().IntVar(&rule.Priority, "priority", 0, "Higher priorities are evaluated first")
	cmd.Flags().StringVar(&rule.Description, "description", "", "Rule description")
	_ = cmd.MarkFlagRequired("trigger")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

func newRulesRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <rule-id>",
		Aliases: []string{"rm"},
		Short:   "Remove one rollback rule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.api.RemoveRule(cmd.Context(), args[0]); err != nil {
				return err
			}
			return opts.emit(map[string]string{"removed": args[0]}, func() {
				opts.printer.Success("rule " + args[0] + " removed")
			})
		},
	}
}

// newRulesApplyCmd uploads a rules file in the same format the server
// watches with --rules-file, so a file can be checked locally first.
func newRulesApplyCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "apply <rules.yaml>",
		Short: "Replace the rule set from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := config.LoadRules(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				return opts.emit(rules, func() {
					opts.printer.Success(fmt.Sprintf("%d rules are valid", len(rules)))
					renderRules(opts.printer, rules)
				})
			}
			applied, err := opts.api.ReplaceRules(cmd.Context(), rules)
			if err != nil {
				return err
			}
			return opts.emit(applied, func() {
				opts.printer.Success(fmt.Sprintf("%d rules applied", len(applied)))
				renderRules(opts.printer, applied)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without uploading it")
	return cmd
}
