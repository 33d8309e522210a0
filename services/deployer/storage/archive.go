// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage archives finished deployment records.
//
// The in-memory histories owned by the planning, executor and rollback
// components are capped. An Archive keeps every terminal record so the
// service can warm-start its histories after a restart.
//
// Implementations:
//   - NopArchive: discards everything (default when no path is configured)
//   - BadgerArchive: JSON values in an embedded BadgerDB
package storage

import (
	"context"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// Archive persists terminal records.
//
// Save methods are called once per record when it leaves the active set.
// Load methods return records newest-first, at most limit (0 = all).
type Archive interface {
	SavePlan(ctx context.Context, plan *datatypes.DeploymentPlan) error
	SaveExecution(ctx context.Context, exec *datatypes.DeploymentExecution) error
	SaveRollback(ctx context.Context, rb *datatypes.RollbackExecution) error

	LoadPlans(ctx context.Context, limit int) ([]*datatypes.DeploymentPlan, error)
	LoadExecutions(ctx context.Context, limit int) ([]*datatypes.DeploymentExecution, error)
	LoadRollbacks(ctx context.Context, limit int) ([]*datatypes.RollbackExecution, error)

	Close() error
}

// NopArchive drops every record.
type NopArchive struct{}

func (NopArchive) SavePlan(context.Context, *datatypes.DeploymentPlan) error { return nil }
func (NopArchive) SaveExecution(context.Context, *datatypes.DeploymentExecution) error { return nil }
func (NopArchive) SaveRollback(context.Context, *datatypes.RollbackExecution) error { return nil }

func (NopArchive) LoadPlans(context.Context, int) ([]*datatypes.DeploymentPlan, error) {
	return nil, nil
}

func (NopArchive) LoadExecutions(context.Context, int) ([]*datatypes.DeploymentExecution, error) {
	return nil, nil
}

func (NopArchive) LoadRollbacks(context.Context, int) ([]*datatypes.RollbackExecution, error) {
	return nil, nil
}

func (NopArchive) Close() error { return nil }
