// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/executor"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/rollback"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

// =============================================================================
// Defaults and Loading
// =============================================================================

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12230, cfg.Server.Port)
	assert.Equal(t, ProviderStatic, cfg.Monitoring.Provider)
	assert.Equal(t, rollback.DefaultWatchInterval, cfg.Rollback.WatchInterval)
	assert.Len(t, cfg.Executor.MonitorDurations, 4)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := writeFile(t, t.TempDir(), "deployer.yaml", `
server:
  port: 9000
logging:
  level: debug
executor:
  monitor_interval: 3s
  monitor_durations:
    high: 90s
rollback:
  watch_interval: 45s
  auto_rollbacks_per_minute: 6
  auto_rollback_burst: 2
audit:
  capacity: 250
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3*time.Second, cfg.Executor.MonitorInterval)
	assert.Equal(t, 90*time.Second, cfg.Executor.MonitorDurations["high"])
	assert.Equal(t, 45*time.Second, cfg.Rollback.WatchInterval)
	assert.Equal(t, 6.0, cfg.Rollback.AutoRollbacksPerMinute)
	assert.Equal(t, 250, cfg.Audit.Capacity)
	assert.False(t, cfg.Audit.Disabled)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "server: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := writeFile(t, t.TempDir(), "deployer.yaml", "executor:\n  error_rate_threshold: 2\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error_rate_threshold")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envLookup(map[string]string{
		"DEPLOYER_PORT":               "8081",
		"DEPLOYER_LOG_LEVEL":          "warn",
		"DEPLOYER_BADGER_PATH":        "/data/badger",
		"INFLUXDB_URL":                "http://influx:8086",
		"INFLUXDB_TOKEN":              "secret",
		"INFLUXDB_ORG":                "aleutian",
		"INFLUXDB_BUCKET":             "models",
		"OTEL_EXPORTER_OTLP_ENDPOINT": `"collector:4317"`,
	}))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/data/badger", cfg.Storage.BadgerPath)
	assert.Equal(t, ProviderInflux, cfg.Monitoring.Provider)
	assert.Equal(t, "secret", cfg.Monitoring.Influx.Token)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.True(t, cfg.Tracing.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_BadPort(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envLookup(map[string]string{"DEPLOYER_PORT": "http"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEPLOYER_PORT")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"monitor interval", func(c *Config) { c.Executor.MonitorInterval = 0 }, "monitor_interval"},
		{"risk level key", func(c *Config) { c.Executor.MonitorDurations["extreme"] = time.Minute }, "unknown risk level"},
		{"duration value", func(c *Config) { c.Executor.MonitorDurations["low"] = 0 }, "monitor_durations.low"},
		{"watch interval", func(c *Config) { c.Rollback.WatchInterval = -time.Second }, "watch_interval"},
		{"auto rate", func(c *Config) { c.Rollback.AutoRollbacksPerMinute = -1 }, "auto_rollbacks_per_minute"},
		{"rule", func(c *Config) {
			c.Rollback.Rules = []datatypes.RollbackRule{{ID: "r", Trigger: "bogus", Strategy: datatypes.RollbackVersionRevert}}
		}, "rollback.rules[0]"},
		{"provider", func(c *Config) { c.Monitoring.Provider = "datadog" }, "monitoring.provider"},
		{"audit capacity", func(c *Config) { c.Audit.Capacity = -1 }, "audit.capacity"},
		{"influx fields", func(c *Config) { c.Monitoring.Provider = ProviderInflux }, "url, org and bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Monitoring.Provider = "nope"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "monitoring.provider")
}

// =============================================================================
// Component Configs
// =============================================================================

func TestExecutorConfig(t *testing.T) {
	cfg := Default()
	cfg.Executor.MonitorDurations = map[string]time.Duration{"critical": time.Hour}
	cfg.Executor.PhaseTimeout = time.Minute

	ec := cfg.ExecutorConfig()
	assert.Equal(t, executor.DefaultMonitorInterval, ec.MonitorInterval)
	assert.Equal(t, map[datatypes.RiskLevel]time.Duration{datatypes.RiskCritical: time.Hour}, ec.MonitorDurations)
	assert.Equal(t, time.Minute, ec.PhaseTimeout)
}

func TestRollbackConfig(t *testing.T) {
	cfg := Default()
	rc := cfg.RollbackConfig()
	assert.Nil(t, rc.Rules, "no configured rules leaves the built-in set")
	assert.Equal(t, rate.Limit(0), rc.AutoRollbackRate)

	cfg.Rollback.AutoRollbacksPerMinute = 30
	cfg.Rollback.AutoRollbackBurst = 3
	cfg.Rollback.Rules = []datatypes.RollbackRule{{
		ID: "acc", Trigger: datatypes.TriggerPerformanceDegradation,
		Condition: "accuracy < threshold", Threshold: 0.7,
		Strategy: datatypes.RollbackTrafficReduction, AutoExecute: true,
	}}
	rc = cfg.RollbackConfig()
	assert.InDelta(t, 0.5, float64(rc.AutoRollbackRate), 1e-9)
	assert.Equal(t, 3, rc.AutoRollbackBurst)
	require.Len(t, rc.Rules, 1)

	rc.Rules[0].ID = "mutated"
	assert.Equal(t, "acc", cfg.Rollback.Rules[0].ID, "component config gets a copy")
}

// =============================================================================
// Rules File
// =============================================================================

const twoRules = `
rules:
  - id: error_spike
    trigger: error_rate_spike
    condition: error_rate > threshold
    threshold: 0.1
    strategy: instant_switch
    auto_execute: true
    priority: 1
  - id: accuracy_drop
    trigger: performance_degradation
    condition: accuracy < threshold
    threshold: 0.8
    strategy: traffic_reduction
    auto_execute: true
    priority: 2
`

func TestLoadRules(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", twoRules)
	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "error_spike", rules[0].ID)
	assert.Equal(t, datatypes.RollbackTrafficReduction, rules[1].Strategy)
	assert.Equal(t, 0.8, rules[1].Threshold)
}

func TestLoadRules_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "rules: []\n", "defines no rules"},
		{"malformed", "rules: {", "failed to parse"},
		{"invalid rule", "rules:\n  - id: x\n    trigger: nope\n    strategy: version_revert\n", "rule 0"},
		{"duplicate", "rules:\n  - id: x\n    trigger: manual\n    strategy: version_revert\n  - id: x\n    trigger: timeout\n    strategy: version_revert\n", "duplicate rule id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".yaml", tt.body)
			_, err := LoadRules(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadRules(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

type ruleSink struct {
	mu    sync.Mutex
	sets  [][]datatypes.RollbackRule
	fails bool
}

func (s *ruleSink) apply(rules []datatypes.RollbackRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails {
		return errors.New("rejected")
	}
	s.sets = append(s.sets, rules)
	return nil
}

func (s *ruleSink) last() []datatypes.RollbackRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sets) == 0 {
		return nil
	}
	return s.sets[len(s.sets)-1]
}

func TestRulesWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.yaml", twoRules)
	sink := &ruleSink{}

	w := NewRulesWatcher(path, sink.apply, nil, 20*time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	require.Len(t, sink.last(), 2, "Start applies the file once")

	writeFile(t, dir, "rules.yaml", "rules:\n  - id: only\n    trigger: timeout\n    strategy: emergency_stop\n")
	assert.Eventually(t, func() bool {
		rules := sink.last()
		return len(rules) == 1 && rules[0].ID == "only"
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, w.Reloads(), 1)
}

func TestRulesWatcher_KeepsRulesOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.yaml", twoRules)
	sink := &ruleSink{}

	w := NewRulesWatcher(path, sink.apply, nil, 20*time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	writeFile(t, dir, "rules.yaml", "rules: [")
	// Unrelated files in the directory are ignored.
	writeFile(t, dir, "other.yaml", "noise")
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 0, w.Reloads())
	assert.Len(t, sink.last(), 2)
}

func TestRulesWatcher_StartErrors(t *testing.T) {
	dir := t.TempDir()

	w := NewRulesWatcher(filepath.Join(dir, "missing.yaml"), (&ruleSink{}).apply, nil, 0)
	require.Error(t, w.Start(context.Background()))

	path := writeFile(t, dir, "rules.yaml", twoRules)
	w = NewRulesWatcher(path, (&ruleSink{fails: true}).apply, nil, 0)
	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply rules")

	w = NewRulesWatcher(path, (&ruleSink{}).apply, nil, 0)
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "second Start is refused")
	w.Stop()
	w.Stop()
}
