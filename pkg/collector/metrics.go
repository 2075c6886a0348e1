package collector

import (
	"context"
	"math"
	"time"

	"github.com/adaptivelb/server/pkg/counters"
	"github.com/adaptivelb/server/pkg/store"
)

// The names of the metrics saved on every tick of the collector.
const (
	CPUUsage          = "cpu_usage"
	MemoryUsage       = "memory_usage"
	DiskUsage         = "disk_usage"
	ErrorRate         = "error_rate"
	RequestsPerSecond = "requests_per_second"
	ErrorsPerSecond   = "errors_per_second"
	NetworkIOBytes    = "network_io_bytes"
	ProcessUptime     = "process_uptime"
	ActiveConnections = "active_connections"
)

var MetricNames = []string{
	CPUUsage,
	MemoryUsage,
	DiskUsage,
	ErrorRate,
	RequestsPerSecond,
	ErrorsPerSecond,
	NetworkIOBytes,
	ProcessUptime,
	ActiveConnections,
}

// averageRequestSize is the assumed size of a request, with responses about twice as big.
// It's used to estimate the network traffic, which is not measured.
const averageRequestSize = 4096

// CollectMetrics samples the system and the traffic counters, and saves all the samples in one batch.
func (c *Engine) CollectMetrics(ctx context.Context) {
	now := time.Now()
	metrics := c.sample(now)

	if err := c.store.SaveBatchMetrics(ctx, metrics); err != nil {
		// the store already logged the cause
		return
	}

	c.log.Debug("collector: metrics collected",
		"cpu", metrics[0].Value,
		"memory", metrics[1].Value,
		"disk", metrics[2].Value,
		"rps", metrics[4].Value,
		"error_rate", metrics[3].Value,
	)
}

// sample returns the metrics in the order of [MetricNames], all with the same timestamp.
// It must not be called concurrently because it updates the rate counters.
func (c *Engine) sample(now time.Time) []store.Metric {
	snap := c.counters.Snapshot()
	rps, eps := c.rates(snap, now)
	timestamp := store.Timestamp(now)

	values := []float64{
		round2(c.system.CPU()),
		round2(c.system.Memory()),
		round2(c.system.Disk()),
		round2(snap.ErrorRate()),
		rps,
		eps,
		float64(snap.TotalRequests * averageRequestSize * 3),
		math.Floor(now.Sub(c.startedAt).Seconds()),
		float64(snap.ActiveConnections),
	}

	metrics := make([]store.Metric, len(MetricNames))
	for i, name := range MetricNames {
		metrics[i] = store.Metric{Name: name, Value: values[i], Timestamp: timestamp}
	}
	return metrics
}

// rates returns the requests and errors per second since the previous call.
func (c *Engine) rates(snap counters.Snapshot, now time.Time) (rps, eps float64) {
	elapsed := now.Sub(c.lastTick).Seconds()
	requests := snap.TotalRequests - c.lastRequests
	failed := snap.FailedRequests - c.lastFailed

	c.lastTick = now
	c.lastRequests = snap.TotalRequests
	c.lastFailed = snap.FailedRequests

	if elapsed <= 0 {
		return 0, 0
	}
	return round2(max(0, float64(requests)/elapsed)), round2(max(0, float64(failed)/elapsed))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
