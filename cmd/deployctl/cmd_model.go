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
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

func newModelCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "model",
		Aliases: []string{"models"},
		Short:   "Model monitoring, status and metrics",
	}
	cmd.AddCommand(
		newModelStatusCmd(opts),
		newModelMonitorCmd(opts),
		newModelUnmonitorCmd(opts),
		newModelBaselineCmd(opts),
		newModelMetricsCmd(opts),
	)
	return cmd
}

func newModelStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <model-id>",
		Short: "Show deployments, rollbacks and versions of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.api.ModelStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.emit(st, func() { renderModelStatus(opts.printer, st) })
		},
	}
}

func newModelMonitorCmd(opts *rootOptions) *cobra.Command {
	var (
		current string
		history []string
	)
	cmd := &cobra.Command{
		Use:     "monitor <model-id>",
		Short:   "Register a model with automatic rollback monitoring",
		Example: `  deployctl model monitor fraud --current 1.2 --history 1.1,1.0`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := opts.api.AddMonitoring(cmd.Context(), datatypes.MonitoringRequest{
				ModelID:        args[0],
				CurrentVersion: current,
				VersionHistory: history,
			})
			if err != nil {
				return err
			}
			return opts.emit(map[string]any{"model_id": args[0], "monitored": true}, func() {
				opts.printer.Success(fmt.Sprintf("monitoring %s at %s", args[0], current))
			})
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "Version currently serving traffic")
	cmd.Flags().StringSliceVar(&history, "history", nil, "Earlier versions, newest first")
	_ = cmd.MarkFlagRequired("current")
	return cmd
}

func newModelUnmonitorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unmonitor <model-id>",
		Short: "Stop automatic rollback monitoring of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.api.RemoveMonitoring(cmd.Context(), args[0]); err != nil {
				return err
			}
			return opts.emit(map[string]any{"model_id": args[0], "monitored": false}, func() {
				opts.printer.Success("stopped monitoring " + args[0])
			})
		},
	}
}

func newModelBaselineCmd(opts *rootOptions) *cobra.Command {
	var values map[string]string
	cmd := &cobra.Command{
		Use:     "baseline <model-id>",
		Short:   "Set baseline metrics for degradation rules",
		Example: `  deployctl model baseline fraud --metric accuracy=0.95 --metric error_rate=0.01`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseline, err := parseMetrics(values)
			if err != nil {
				return err
			}
			if err := opts.api.SetBaseline(cmd.Context(), args[0], baseline); err != nil {
				return err
			}
			return opts.emit(baseline, func() {
				opts.printer.Success(fmt.Sprintf("baseline set for %s (%d metrics)", args[0], len(baseline)))
			})
		},
	}
	cmd.Flags().StringToStringVar(&values, "metric", nil, "Baseline metric, name=value (repeatable)")
	_ = cmd.MarkFlagRequired("metric")
	return cmd
}

// newModelMetricsCmd pushes a metrics snapshot. Only servers running the
// static provider accept writes.
func newModelMetricsCmd(opts *rootOptions) *cobra.Command {
	var (
		extras map[string]string
		values = make(map[string]*float64)
	)
	// Flag name to metric name. Unset flags are left out of the snapshot.
	flags := []struct{ flag, metric, usage string }{
		{"error-rate", datatypes.MetricErrorRate, "Fraction of failed requests"},
		{"accuracy", datatypes.MetricAccuracy, "Model accuracy"},
		{"health-score", datatypes.MetricHealthScore, "Health score between 0 and 1"},
		{"timeout-rate", datatypes.MetricTimeoutRate, "Fraction of timed out requests"},
		{"resource-utilization", datatypes.MetricResourceUtilization, "Resource utilisation between 0 and 1"},
	}
	cmd := &cobra.Command{
		Use:   "metrics <model-id>",
		Short: "Record a metrics snapshot for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseMetrics(extras)
			if err != nil {
				return err
			}
			m := datatypes.ModelMetrics{Extra: extra}
			for _, f := range flags {
				if cmd.Flags().Changed(f.flag) {
					m.Set(f.metric, *values[f.flag])
				}
			}
			if m.ErrorRate == nil && m.Accuracy == nil && m.HealthScore == nil && len(m.Extra) == 0 {
				return fmt.Errorf("no metrics given")
			}
			m.ModelID = args[0]
			m.CollectedAt = time.Now().UTC()
			if err := opts.api.RecordMetrics(cmd.Context(), m); err != nil {
				return err
			}
			return opts.emit(m, func() { opts.printer.Success("metrics recorded for " + args[0]) })
		},
	}
	for _, f := range flags {
		values[f.flag] = cmd.Flags().Float64(f.flag, 0, f.usage)
	}
	cmd.Flags().StringToStringVar(&extras, "extra", nil, "Additional metric, name=value (repeatable)")
	return cmd
}

func parseMetrics(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for name, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %q is not a number", name, s)
		}
		out[name] = v
	}
	return out, nil
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show deployer service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.api.Health(cmd.Context())
			if err != nil {
				return err
			}
			return opts.emit(h, func() { renderHealth(opts.printer, h) })
		},
	}
}
