// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// Target names what a rollback strategy moves between.
type Target struct {
	ModelID     string
	FromVersion string
	ToVersion   string
}

// StrategyFunc performs the mechanical work of one rollback strategy.
//
// # Description
//
// logStep appends a timestamped entry to the rollback's execution log. A
// returned error marks the rollback failed. The manager never retries, so
// implementations should be safe to run again for the same target.
type StrategyFunc func(ctx context.Context, target Target, logStep func(string)) error

// trafficSteps is the traffic share left on the bad version after each
// traffic reduction step.
var trafficSteps = []int{80, 60, 40, 20, 0}

// SimulatedStrategies returns a StrategyFunc per rollback strategy that
// logs the scripted steps, waiting delay between them.
func SimulatedStrategies(clk clock.Clock, delay time.Duration) map[datatypes.RollbackStrategy]StrategyFunc {
	if clk == nil {
		clk = clock.WallClock
	}
	scripted := func(steps func(Target) []string) StrategyFunc {
		return func(ctx context.Context, t Target, logStep func(string)) error {
			for _, s := range steps(t) {
				if err := wait(ctx, clk, delay); err != nil {
					return err
				}
				logStep(s)
			}
			return nil
		}
	}

	return map[datatypes.RollbackStrategy]StrategyFunc{
		datatypes.RollbackInstantSwitch: scripted(func(t Target) []string {
			return []string{
				fmt.Sprintf("Switching all traffic from %s to %s", t.FromVersion, t.ToVersion),
			}
		}),
		datatypes.RollbackTrafficReduction: scripted(func(t Target) []string {
			steps := make([]string, 0, len(trafficSteps)+1)
			for _, pct := range trafficSteps {
				steps = append(steps, fmt.Sprintf("Traffic to %s reduced to %d%%", t.FromVersion, pct))
			}
			return append(steps, fmt.Sprintf("All traffic served by %s", t.ToVersion))
		}),
		datatypes.RollbackReverseRolling: scripted(func(t Target) []string {
			steps := make([]string, 0, 3)
			for i := 1; i <= 3; i++ {
				steps = append(steps, fmt.Sprintf("Reverted instance batch %d/3 to %s", i, t.ToVersion))
			}
			return steps
		}),
		datatypes.RollbackVersionRevert: scripted(func(t Target) []string {
			return []string{
				fmt.Sprintf("Model %s version pointer set to %s", t.ModelID, t.ToVersion),
			}
		}),
		datatypes.RollbackEmergencyStop: scripted(func(t Target) []string {
			return []string{
				fmt.Sprintf("Emergency stop: halted %s without draining", t.FromVersion),
				fmt.Sprintf("Started %s", t.ToVersion),
			}
		}),
	}
}

func wait(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
