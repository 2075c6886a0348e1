// Package collector runs the background writers of the dashboard: the system metrics collector,
// the synthetic log and traffic generators, the retention sweeper, and the queue that saves the
// requests observed by the HTTP server.
//
// Every job runs on its own ticker. Jobs sharing a period start at staggered offsets so that
// their writes rarely compete for the database lock.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adaptivelb/server/pkg/counters"
	"github.com/adaptivelb/server/pkg/store"
)

// Store is the subset of the [store.Store] written by the collector.
type Store interface {
	SaveRequest(ctx context.Context, r store.Request) (int64, error)
	SaveBatchMetrics(ctx context.Context, metrics []store.Metric) error
	SaveLog(ctx context.Context, l store.Log) error
	CleanupOldData(ctx context.Context, daysToKeep int) (store.Removed, error)
}

// Decider assigns a routing decision to a request.
type Decider interface {
	Decide(ip, userAgent, endpoint string) string
}

// sweepOffset puts the first retention sweep after the first tick of every other job.
const sweepOffset = 4 * time.Second

type Engine struct {
	store    Store
	counters counters.Reader
	decider  Decider
	system   *systemSampler

	requests chan store.Request

	// last values seen by the metrics job, to compute rates
	lastTick     time.Time
	lastRequests int64
	lastFailed   int64
	startedAt    time.Time

	config Config
	log    *slog.Logger
	wg     sync.WaitGroup
	done   chan struct{}
}

func New(c Config, s Store, traffic counters.Reader, decider Decider, logger *slog.Logger) (*Engine, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if traffic == nil {
		return nil, errors.New("counters are required")
	}
	if decider == nil {
		return nil, errors.New("decider is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	now := time.Now()
	return &Engine{
		store:     s,
		counters:  traffic,
		decider:   decider,
		system:    newSystemSampler(c.DiskPath),
		requests:  make(chan store.Request, c.QueueSize),
		lastTick:  now,
		startedAt: now,
		config:    c,
		log:       logger,
		done:      make(chan struct{}),
	}, nil
}

// Start launches the jobs. It must be called at most once.
func (c *Engine) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeRequests()
	}()

	c.every("metrics", 0, c.config.Interval, c.CollectMetrics)

	if c.config.GeneratorsEnabled {
		c.every("logs", c.config.LogOffset, c.config.Interval, c.GenerateLog)
		c.every("traffic", c.config.TrafficOffset, c.config.Interval, c.GenerateRequest)
	}

	if c.config.RetentionDays > 0 {
		c.every("retention", sweepOffset, c.config.RetentionInterval, c.Sweep)
	}

	c.log.Info("collector: started",
		"interval", c.config.Interval,
		"generators", c.config.GeneratorsEnabled,
		"retention_days", c.config.RetentionDays,
	)
}

// Close stops the jobs, waiting for the running ones to finish,
// and saves the requests still in the queue.
func (c *Engine) Close() {
	close(c.done)
	c.wg.Wait()
	c.log.Info("collector: stopped")
}

// RecordRequest queues the request to be saved. It never blocks: when the queue is full
// the request is dropped and a warning is logged.
func (c *Engine) RecordRequest(r store.Request) {
	select {
	case c.requests <- r:
	default:
		c.log.Warn("collector: failed to record request", "error", "queue is full", "endpoint", r.Endpoint)
	}
}

// Pending returns the number of requests waiting to be saved.
func (c *Engine) Pending() int {
	return len(c.requests)
}

// every runs job after offset, and then every interval, until the collector is closed.
func (c *Engine) every(name string, offset, interval time.Duration, job func(context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		timer := time.NewTimer(offset)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			c.log.Debug("collector: running job", "job", name)
			c.run(job)

			select {
			case <-c.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (c *Engine) run(job func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
	defer cancel()
	job(ctx)
}

func (c *Engine) writeRequests() {
	for {
		select {
		case <-c.done:
			c.drain()
			return

		case r := <-c.requests:
			c.run(func(ctx context.Context) { c.store.SaveRequest(ctx, r) })
		}
	}
}

// drain saves the queued requests on a best effort basis, returning the first time the queue is empty.
func (c *Engine) drain() {
	saved := 0
	for {
		select {
		case r := <-c.requests:
			c.run(func(ctx context.Context) { c.store.SaveRequest(ctx, r) })
			saved++

		default:
			if saved > 0 {
				c.log.Info("collector: saved pending requests", "count", saved)
			}
			return
		}
	}
}

// Sweep deletes the data older than [Config.RetentionDays].
func (c *Engine) Sweep(ctx context.Context) {
	// the store logs the outcome
	c.store.CleanupOldData(ctx, c.config.RetentionDays)
}
