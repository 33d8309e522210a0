// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitoring

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianDeploy/pkg/validation"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// DefaultMeasurement is the InfluxDB measurement holding model health points.
const DefaultMeasurement = "model_metrics"

// InfluxConfig configures an InfluxProvider.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string

	// Lookback bounds how far back last() searches. Default: 15m.
	Lookback time.Duration
}

// InfluxProvider reads the latest model metrics from InfluxDB.
//
// # Description
//
// Points are expected in the measurement (default model_metrics) tagged
// with model_id, one field per metric. Fields error_rate, accuracy and
// health_score populate the fixed snapshot fields; anything else lands in
// ModelMetrics.Extra.
//
// # Limitations
//
// A model with no points inside Lookback is reported as unavailable rather
// than as zero-valued metrics.
type InfluxProvider struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	cfg      InfluxConfig
}

// NewInfluxProvider creates a provider backed by an InfluxDB client.
func NewInfluxProvider(cfg InfluxConfig) (*InfluxProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx provider: url is required")
	}
	if cfg.Bucket == "" || cfg.Org == "" {
		return nil, fmt.Errorf("influx provider: org and bucket are required")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 15 * time.Minute
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxProvider{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Org),
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		cfg:      cfg,
	}, nil
}

// GetCurrentMetrics implements Provider.
func (p *InfluxProvider) GetCurrentMetrics(ctx context.Context, modelID string) (*datatypes.ModelMetrics, error) {
	if err := validation.ValidateIdentifier("model id", modelID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	query := buildLastQuery(p.cfg.Bucket, p.cfg.Measurement, modelID, p.cfg.Lookback)

	result, err := p.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query model %s: %v", ErrMetricsUnavailable, modelID, err)
	}
	defer result.Close()

	m := &datatypes.ModelMetrics{ModelID: modelID}
	found := false
	for result.Next() {
		record := result.Record()
		v, ok := toFloat(record.Value())
		if !ok {
			continue
		}
		m.Set(record.Field(), v)
		if t := record.Time(); t.After(m.CollectedAt) {
			m.CollectedAt = t
		}
		found = true
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: read model %s: %v", ErrMetricsUnavailable, modelID, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: no points for model %s in last %s", ErrMetricsUnavailable, modelID, p.cfg.Lookback)
	}
	return m, nil
}

// RecordMetrics writes a snapshot as one point.
func (p *InfluxProvider) RecordMetrics(ctx context.Context, m *datatypes.ModelMetrics) error {
	if m == nil {
		return fmt.Errorf("record metrics: snapshot is nil")
	}
	if err := validation.ValidateIdentifier("model id", m.ModelID); err != nil {
		return err
	}
	extra := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		extra = append(extra, k)
	}
	if err := validation.ValidateIdentifiers("metric name", extra); err != nil {
		return err
	}
	ts := m.CollectedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	point, err := metricsPoint(p.cfg.Measurement, m, ts)
	if err != nil {
		return err
	}
	if err := p.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write metrics for %s: %w", m.ModelID, err)
	}
	return nil
}

// Ping implements Pinger.
func (p *InfluxProvider) Ping(ctx context.Context) error {
	ok, err := p.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb ping: not ready")
	}
	return nil
}

// Close releases the client.
func (p *InfluxProvider) Close() {
	p.client.Close()
}

func buildLastQuery(bucket, measurement, modelID string, lookback time.Duration) string {
	return fmt.Sprintf(`
		from(bucket: %s)
		  |> range(start: -%ds)
		  |> filter(fn: (r) => r._measurement == %s)
		  |> filter(fn: (r) => r.model_id == %s)
		  |> last()
	`, strconv.Quote(bucket), int64(lookback.Seconds()), strconv.Quote(measurement), strconv.Quote(modelID))
}


// metricsPoint builds the point for m. Unreported fixed metrics are left
// out so a later read does not see them as zero.
func metricsPoint(measurement string, m *datatypes.ModelMetrics, ts time.Time) (*write.Point, error) {
	point := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("model_id", m.ModelID).
		SetTime(ts)
	fields := 0
	for _, name := range []string{datatypes.MetricErrorRate, datatypes.MetricAccuracy, datatypes.MetricHealthScore} {
		if v, ok := m.Value(name); ok {
			point.AddField(name, v)
			fields++
		}
	}
	for k, v := range m.Extra {
		point.AddField(k, v)
		fields++
	}
	if fields == 0 {
		return nil, fmt.Errorf("record metrics for %s: snapshot has no metrics", m.ModelID)
	}
	return point, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
