// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package telemetry forwards decoded subscription updates to time-series
// and message-broker sinks.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	gnmi "github.com/STORDIS/orca-nw-lib-sub000"
	"github.com/STORDIS/orca-nw-lib-sub000/config"
)

// Sentinel errors.
var (
	// ErrDisabled is returned when a sink is not enabled in the configuration.
	ErrDisabled = errors.New("telemetry sink disabled")

	// ErrConnectionFailed indicates the sink backend could not be reached.
	ErrConnectionFailed = errors.New("telemetry connection failed")
)

const defaultConnectTimeout = 10 * time.Second

// InfluxSink writes every update as one InfluxDB point.
//
// Writes are non-blocking and batched by the InfluxDB client; write
// failures surface asynchronously and are logged.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   gnmi.Logger
}

var _ gnmi.TelemetrySink = (*InfluxSink)(nil)

// ConnectInflux creates the client, verifies the server answers a ping and
// sets up the batching write API.
func ConnectInflux(ctx context.Context, cfg config.InfluxDBConfig, logger gnmi.Logger) (*InfluxSink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 500
	}
	flushInterval := cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = 1000
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushInterval))

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb not healthy", ErrConnectionFailed)
	}

	s := NewInfluxSink(client.WriteAPI(cfg.Org, cfg.Bucket), logger)
	s.client = client
	go s.handleWriteErrors(s.writeAPI.Errors())
	return s, nil
}

// NewInfluxSink wraps an existing write API.
func NewInfluxSink(writeAPI api.WriteAPI, logger gnmi.Logger) *InfluxSink {
	if logger == nil {
		logger = &gnmi.NoOpLogger{}
	}
	return &InfluxSink{writeAPI: writeAPI, logger: logger}
}

func (s *InfluxSink) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		s.logger.Warn(context.Background(), "influxdb write failed",
			"error", err.Error())
	}
}

// WriteUpdate queues one point for u. Leaves that InfluxDB cannot store as
// a field (bytes, objects) are skipped; an update without any storable
// leaf writes nothing.
func (s *InfluxSink) WriteUpdate(_ context.Context, u *gnmi.DecodedUpdate) error {
	fields := make(map[string]any, len(u.Leaves))
	for _, l := range u.Leaves {
		if v, ok := fieldValue(l.Value); ok {
			fields[l.Name] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}

	tags := map[string]string{"device": u.DeviceIP}
	if u.Key != "" {
		tags["key"] = u.Key
	}

	ts := u.Timestamp
	if ts.IsZero() || ts.Unix() == 0 {
		ts = time.Now()
	}

	s.writeAPI.WritePoint(write.NewPoint(measurement(u.Kind), tags, fields, ts))
	return nil
}

// Close flushes pending points and closes the client.
func (s *InfluxSink) Close() error {
	s.writeAPI.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// measurement maps a kind to an InfluxDB measurement name.
func measurement(k gnmi.UpdateKind) string {
	return "gnmi_" + strings.ReplaceAll(k.String(), "-", "_")
}

func fieldValue(v any) (any, bool) {
	switch x := v.(type) {
	case string, bool, int64, uint64, float64:
		return x, true
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, fmt.Sprint(e))
		}
		return strings.Join(parts, ","), true
	default:
		return nil, false
	}
}
