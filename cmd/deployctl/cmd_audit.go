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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/pkg/extensions"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		filter extensions.AuditFilter
		within time.Duration
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the deployer audit trail, newest first",
		Example: `  deployctl audit --model fraud --since 24h
  deployctl audit --type plan.approve,rollback.finished --outcome failure`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if within > 0 {
				filter.Since = time.Now().Add(-within)
			}
			events, err := opts.api.AuditEvents(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return opts.emit(events, func() {
				for _, e := range events {
					renderAuditRow(opts.printer, e)
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&filter.EventTypes, "type", nil, "Event types, e.g. plan.approve (repeatable)")
	cmd.Flags().StringVarP(&filter.ModelID, "model", "m", "", "Only events for this model")
	cmd.Flags().StringVar(&filter.ResourceID, "resource", "", "Only events for this plan, deployment or rollback id")
	cmd.Flags().StringVar(&filter.Outcome, "outcome", "", "Only events with this outcome (success, failure, denied)")
	cmd.Flags().DurationVar(&within, "since", 0, "Only events newer than this, e.g. 1h")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of events")
	return cmd
}
