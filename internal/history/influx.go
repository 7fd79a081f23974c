// Package history records attribute reads and writes as InfluxDB points.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/cloud"
	"hubspace-go-home/internal/store"
)

const (
	measurement    = "attribute"
	connectTimeout = 10 * time.Second
)

// Config holds InfluxDB connection settings.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// InfluxRecorder writes one point per attribute read or write through the
// non-blocking write API.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

// NewInfluxRecorder connects to InfluxDB and verifies the server is healthy.
func NewInfluxRecorder(cfg Config, logger *slog.Logger) (*InfluxRecorder, error) {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval / time.Millisecond))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb not healthy")
	}

	r := &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger.With("component", "history"),
	}
	go r.logErrors()
	return r, nil
}

func (r *InfluxRecorder) logErrors() {
	for err := range r.writeAPI.Errors() {
		r.logger.Warn("influxdb write failed", "err", err)
	}
}

// RecordRead writes a point for a completed read.
func (r *InfluxRecorder) RecordRead(acc *store.Accessory, q capability.Query, reading cloud.Reading) {
	r.writeAPI.WritePoint(readPoint(acc, q, reading, time.Now()))
}

// RecordWrite writes a point for a completed write.
func (r *InfluxRecorder) RecordWrite(acc *store.Accessory, q capability.Query, key capability.AttributeKey, value cloud.Value) {
	r.writeAPI.WritePoint(writePoint(acc, q, key, value, time.Now()))
}

// Close flushes pending points and closes the client.
func (r *InfluxRecorder) Close() error {
	r.writeAPI.Flush()
	r.client.Close()
	return nil
}

func tags(acc *store.Accessory, q capability.Query, key capability.AttributeKey, op string) map[string]string {
	t := map[string]string{
		"accessory":  acc.ID,
		"name":       acc.Name,
		"capability": string(q.Capability),
		"key":        string(key),
		"op":         op,
	}
	if q.Instance != "" {
		t["instance"] = q.Instance
	}
	if q.Index != nil {
		t["index"] = strconv.Itoa(*q.Index)
	}
	return t
}

func readPoint(acc *store.Accessory, q capability.Query, reading cloud.Reading, now time.Time) *write.Point {
	fields := map[string]interface{}{
		"status": reading.Status.String(),
	}
	if reading.Status == cloud.Present {
		fields["raw"] = reading.Raw
		if n, ok := reading.Integer(); ok {
			fields["decoded"] = n
		}
	}
	return write.NewPoint(measurement, tags(acc, q, reading.Key, "read"), fields, now)
}

func writePoint(acc *store.Accessory, q capability.Query, key capability.AttributeKey, value cloud.Value, now time.Time) *write.Point {
	fields := map[string]interface{}{
		"written": value.String(),
		"kind":    value.Kind().String(),
	}
	return write.NewPoint(measurement, tags(acc, q, key, "write"), fields, now)
}
