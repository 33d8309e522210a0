// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the deployer configuration.
//
// # Description
//
// Configuration comes from a YAML file (deployer.yaml by default) layered
// over Default(), then from environment variables. A missing file is not
// an error. Durations are Go duration strings ("10s", "5m").
//
// Rollback rules can live in a separate file that RulesWatcher reloads on
// change.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianDeploy/pkg/extensions"
	"github.com/AleutianAI/AleutianDeploy/pkg/logging"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/executor"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/rollback"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "deployer.yaml"

// Monitoring provider names.
const (
	ProviderStatic = "static"
	ProviderInflux = "influx"
)

// Config is the complete deployer configuration.
type Config struct {
	Service    string           `yaml:"service"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Planning   PlanningConfig   `yaml:"planning"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Rollback   RollbackConfig   `yaml:"rollback"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Storage    StorageConfig    `yaml:"storage"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// PlanningConfig configures the plan manager.
type PlanningConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

// ExecutorConfig configures the deployment executor.
type ExecutorConfig struct {
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	// MonitorDurations is keyed by risk level (low, medium, high, critical).
	MonitorDurations   map[string]time.Duration `yaml:"monitor_durations"`
	ErrorRateThreshold float64                  `yaml:"error_rate_threshold"`
	PhaseTimeout       time.Duration            `yaml:"phase_timeout"`
	StepDelay          time.Duration            `yaml:"step_delay"`
	HistoryLimit       int                      `yaml:"history_limit"`
}

// RollbackConfig configures the rollback manager.
type RollbackConfig struct {
	WatchInterval    time.Duration `yaml:"watch_interval"`
	StepDelay        time.Duration `yaml:"step_delay"`
	HistoryLimit     int           `yaml:"history_limit"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`

	// AutoRollbacksPerMinute throttles automatic rollbacks. 0 is unlimited.
	AutoRollbacksPerMinute float64 `yaml:"auto_rollbacks_per_minute"`
	AutoRollbackBurst      int     `yaml:"auto_rollback_burst"`

	// Rules replaces the built-in rule set when non-empty.
	Rules []datatypes.RollbackRule `yaml:"rules"`

	// RulesFile, when set, holds the rule set and is watched for changes.
	RulesFile string `yaml:"rules_file"`
}

// MonitoringConfig selects and configures the metrics provider.
type MonitoringConfig struct {
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`
	Influx   InfluxConfig  `yaml:"influx"`
}

// InfluxConfig configures the InfluxDB provider.
type InfluxConfig struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	Org         string        `yaml:"org"`
	Bucket      string        `yaml:"bucket"`
	Measurement string        `yaml:"measurement"`
	Lookback    time.Duration `yaml:"lookback"`
}

// StorageConfig configures the history archive. An empty BadgerPath with
// InMemory false disables archiving.
type StorageConfig struct {
	BadgerPath string        `yaml:"badger_path"`
	InMemory   bool          `yaml:"in_memory"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// TracingConfig configures OTLP tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// AuditConfig configures the in-memory audit trail. Disabled drops every
// event.
type AuditConfig struct {
	Disabled bool `yaml:"disabled"`
	Capacity int  `yaml:"capacity"`
}

// Default returns the built-in configuration.
func Default() Config {
	durations := executor.DefaultMonitorDurations()
	return Config{
		Service: "deployer",
		Server: ServerConfig{
			Port:            12230,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Planning: PlanningConfig{
			HistoryLimit: 100,
		},
		Executor: ExecutorConfig{
			MonitorInterval: executor.DefaultMonitorInterval,
			MonitorDurations: map[string]time.Duration{
				string(datatypes.RiskLow):      durations[datatypes.RiskLow],
				string(datatypes.RiskMedium):   durations[datatypes.RiskMedium],
				string(datatypes.RiskHigh):     durations[datatypes.RiskHigh],
				string(datatypes.RiskCritical): durations[datatypes.RiskCritical],
			},
			ErrorRateThreshold: executor.DefaultErrorRateThreshold,
			StepDelay:          executor.DefaultStepDelay,
			HistoryLimit:       executor.DefaultHistoryLimit,
		},
		Rollback: RollbackConfig{
			WatchInterval:    rollback.DefaultWatchInterval,
			StepDelay:        rollback.DefaultStepDelay,
			HistoryLimit:     rollback.DefaultHistoryLimit,
			FetchConcurrency: rollback.DefaultFetchConcurrency,
		},
		Monitoring: MonitoringConfig{
			Provider: ProviderStatic,
			Timeout:  2 * time.Second,
			Influx: InfluxConfig{
				Measurement: "model_metrics",
				Lookback:    15 * time.Minute,
			},
		},
		Storage: StorageConfig{
			GCInterval: 5 * time.Minute,
		},
		Tracing: TracingConfig{
			Endpoint: "aleutian-otel-collector:4317",
		},
		Audit: AuditConfig{
			Capacity: extensions.DefaultAuditCapacity,
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load reads path over Default() and applies environment overrides.
//
// # Inputs
//
//   - path: YAML file. Empty means DefaultPath. A missing file leaves the
//     defaults in place.
//
// # Outputs
//
//   - Config: validated configuration
//   - error: unreadable or malformed file, bad env value, or a failed
//     Validate
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables read through lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DEPLOYER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DEPLOYER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("DEPLOYER_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("DEPLOYER_BADGER_PATH"); ok && v != "" {
		c.Storage.BadgerPath = v
	}
	if v, ok := lookup("INFLUXDB_URL"); ok && v != "" {
		c.Monitoring.Influx.URL = v
		c.Monitoring.Provider = ProviderInflux
	}
	if v, ok := lookup("INFLUXDB_TOKEN"); ok {
		c.Monitoring.Influx.Token = v
	}
	if v, ok := lookup("INFLUXDB_ORG"); ok && v != "" {
		c.Monitoring.Influx.Org = v
	}
	if v, ok := lookup("INFLUXDB_BUCKET"); ok && v != "" {
		c.Monitoring.Influx.Bucket = v
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		c.Tracing.Endpoint = strings.Trim(v, "\"' ")
		c.Tracing.Enabled = true
	}
	return nil
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Executor.MonitorInterval <= 0 {
		errs = append(errs, errors.New("executor.monitor_interval must be positive"))
	}
	if c.Executor.ErrorRateThreshold <= 0 || c.Executor.ErrorRateThreshold > 1 {
		errs = append(errs, fmt.Errorf("executor.error_rate_threshold %v must be in (0, 1]", c.Executor.ErrorRateThreshold))
	}
	for level, d := range c.Executor.MonitorDurations {
		if _, ok := datatypes.ParseRiskLevel(level); !ok {
			errs = append(errs, fmt.Errorf("executor.monitor_durations: unknown risk level %q", level))
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("executor.monitor_durations.%s must be positive", level))
		}
	}
	if c.Audit.Capacity < 0 {
		errs = append(errs, errors.New("audit.capacity must not be negative"))
	}
	if c.Rollback.WatchInterval <= 0 {
		errs = append(errs, errors.New("rollback.watch_interval must be positive"))
	}
	if c.Rollback.AutoRollbacksPerMinute < 0 {
		errs = append(errs, errors.New("rollback.auto_rollbacks_per_minute must not be negative"))
	}
	for i := range c.Rollback.Rules {
		if err := c.Rollback.Rules[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rollback.rules[%d]: %w", i, err))
		}
	}
	switch c.Monitoring.Provider {
	case ProviderStatic:
	case ProviderInflux:
		in := c.Monitoring.Influx
		if in.URL == "" || in.Org == "" || in.Bucket == "" {
			errs = append(errs, errors.New("monitoring.influx needs url, org and bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("monitoring.provider %q is not one of static, influx", c.Monitoring.Provider))
	}
	return errors.Join(errs...)
}

// =============================================================================
// Component Configs
// =============================================================================

// ExecutorConfig returns the executor tuning. Shared fields (logger,
// metrics, archive, monitor) are left for the orchestrator to fill.
func (c *Config) ExecutorConfig() executor.Config {
	durations := make(map[datatypes.RiskLevel]time.Duration, len(c.Executor.MonitorDurations))
	for level, d := range c.Executor.MonitorDurations {
		if r, ok := datatypes.ParseRiskLevel(level); ok {
			durations[r] = d
		}
	}
	return executor.Config{
		MonitorInterval:    c.Executor.MonitorInterval,
		MonitorDurations:   durations,
		ErrorRateThreshold: c.Executor.ErrorRateThreshold,
		PhaseTimeout:       c.Executor.PhaseTimeout,
		StepDelay:          c.Executor.StepDelay,
		HistoryLimit:       c.Executor.HistoryLimit,
	}
}

// RollbackConfig returns the rollback manager tuning.
func (c *Config) RollbackConfig() rollback.Config {
	rc := rollback.Config{
		WatchInterval:    c.Rollback.WatchInterval,
		StepDelay:        c.Rollback.StepDelay,
		HistoryLimit:     c.Rollback.HistoryLimit,
		FetchConcurrency: c.Rollback.FetchConcurrency,
	}
	if len(c.Rollback.Rules) > 0 {
		rc.Rules = append([]datatypes.RollbackRule(nil), c.Rollback.Rules...)
	}
	if c.Rollback.AutoRollbacksPerMinute > 0 {
		rc.AutoRollbackRate = rate.Limit(c.Rollback.AutoRollbacksPerMinute / 60)
		rc.AutoRollbackBurst = c.Rollback.AutoRollbackBurst
	}
	return rc
}
