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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/pkg/ux"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/client"
)

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

const (
	defaultServer = "http://localhost:12230"
	serverEnvVar  = "DEPLOYER_URL"
)

// rootOptions holds the persistent flags shared by every subcommand and
// the collaborators derived from them in PersistentPreRunE.
type rootOptions struct {
	server  string
	output  string
	json    bool
	timeout time.Duration

	printer *ux.Printer
	api     *client.Client
}

// =============================================================================
// COMMAND TREE
// =============================================================================

// newRootCmd builds the deployctl command tree.
//
// # Description
//
// Every invocation builds a fresh tree so flag state never leaks between
// runs. Output is written to cmd.OutOrStdout and cmd.ErrOrStderr so the
// tree can be driven from tests.
//
// # Examples
//
//	deployctl plan create --model fraud --from 1.0 --to 1.1
//	deployctl plan execute <plan-id> --watch
//	deployctl rollback trigger fraud --to 1.0 --reason "latency regression"
//	deployctl model status fraud --json
func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "deployctl",
		Short: "Plan, execute and roll back model deployments",
		Long: `deployctl talks to the Aleutian deployer service.

It creates risk-assessed deployment plans, executes them with live progress,
and triggers or inspects rollbacks of monitored models.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
	}

	server := os.Getenv(serverEnvVar)
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server,
		"Deployer base URL (env "+serverEnvVar+")")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", os.Getenv(ux.ModeEnvVar),
		"Output mode: rich, plain or machine (default: auto-detect)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false,
		"Print raw JSON responses")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout,
		"HTTP request timeout")

	root.AddCommand(
		newPlanCmd(opts),
		newDeploymentCmd(opts),
		newRollbackCmd(opts),
		newRulesCmd(opts),
		newModelCmd(opts),
		newHealthCmd(opts),
		newAuditCmd(opts),
	)

	return root, opts
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	o.printer = ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(),
		ux.DetectMode(cmd.OutOrStdout(), o.output))
	o.api = client.New(o.server, client.WithTimeout(o.timeout))
	return nil
}

// run executes the command tree with args and reports any failure once.
// It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, opts := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		opts.reportError(stderr, err)
		return 1
	}
	return 0
}

func (o *rootOptions) reportError(stderr io.Writer, err error) {
	if o.printer == nil {
		fmt.Fprintln(stderr, "Error:", err)
		return
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Validation != nil {
		o.printer.Error(apiErr.Message)
		for _, e := range apiErr.Validation.Errors {
			o.printer.Bullet(e)
		}
		return
	}
	o.printer.Error(err.Error())
}

// emit prints v as indented JSON when --json is set and otherwise calls
// render.
func (o *rootOptions) emit(v any, render func()) error {
	if !o.json {
		render()
		return nil
	}
	enc := json.NewEncoder(o.printer.Out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
