// Package metrics writes operational time series to InfluxDB: share
// rates, hashrate samples, blocks found, and payout volumes.
package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Recorder receives pool metrics. The nop implementation lets metrics be
// disabled without conditionals at every call site.
type Recorder interface {
	RecordShare(minerAddr string, difficulty float64, valid bool)
	RecordHashrate(minerAddr string, hashrate float64)
	RecordBlockFound(height int64, reward int64)
	RecordPayout(minerAddr string, amount int64, succeeded bool)
	Close()
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) RecordShare(string, float64, bool) {}
func (NopRecorder) RecordHashrate(string, float64)    {}
func (NopRecorder) RecordBlockFound(int64, int64)     {}
func (NopRecorder) RecordPayout(string, int64, bool)  {}
func (NopRecorder) Close()                            {}

var _ Recorder = (*NopRecorder)(nil)

// Config holds InfluxDB connection parameters.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxRecorder writes metrics through the async write API; points are
// batched and flushed by the client.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewInfluxRecorder connects to InfluxDB and verifies health.
func NewInfluxRecorder(cfg *Config) (*InfluxRecorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}, nil
}

// Close flushes pending points and shuts the client down.
func (r *InfluxRecorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
}

// RecordShare writes one share submission point.
func (r *InfluxRecorder) RecordShare(minerAddr string, difficulty float64, valid bool) {
	point := influxdb2.NewPointWithMeasurement("shares").
		AddTag("miner", minerAddr).
		AddTag("valid", fmt.Sprintf("%t", valid)).
		AddField("difficulty", difficulty).
		SetTime(time.Now())
	r.writeAPI.WritePoint(point)
}

// RecordHashrate writes one hashrate sample.
func (r *InfluxRecorder) RecordHashrate(minerAddr string, hashrate float64) {
	point := influxdb2.NewPointWithMeasurement("hashrate").
		AddTag("miner", minerAddr).
		AddField("hashrate", hashrate).
		SetTime(time.Now())
	r.writeAPI.WritePoint(point)
}

// RecordBlockFound writes one block discovery point.
func (r *InfluxRecorder) RecordBlockFound(height int64, reward int64) {
	point := influxdb2.NewPointWithMeasurement("blocks").
		AddField("height", height).
		AddField("reward", reward).
		SetTime(time.Now())
	r.writeAPI.WritePoint(point)
}

// RecordPayout writes one payout outcome point.
func (r *InfluxRecorder) RecordPayout(minerAddr string, amount int64, succeeded bool) {
	point := influxdb2.NewPointWithMeasurement("payouts").
		AddTag("miner", minerAddr).
		AddTag("succeeded", fmt.Sprintf("%t", succeeded)).
		AddField("amount", amount).
		SetTime(time.Now())
	r.writeAPI.WritePoint(point)
}

var _ Recorder = (*InfluxRecorder)(nil)
