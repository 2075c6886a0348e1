// Package counters aggregates the HTTP traffic served by the process: request and connection
// tallies, plus a sliding window of the latest response times.
// The same numbers are exported as Prometheus collectors on a registry owned by the [Counters].
package counters

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the HTTP middleware needs to account a request.
type Recorder interface {
	// Begin is called when a request arrives.
	Begin()

	// End is called once the response has been written.
	End(method, route string, status int, duration time.Duration)
}

// Reader exposes the aggregated numbers.
type Reader interface {
	Snapshot() Snapshot
}

// Snapshot is a copy of the counters at a point in time. Response times are in milliseconds.
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	SuccessRequests   int64   `json:"success_requests"`
	FailedRequests    int64   `json:"failed_requests"`
	ActiveConnections int64   `json:"active_connections"`
	TotalConnections  int64   `json:"total_connections"`
	AvgResponseTime   float64 `json:"avg_response_time"`
	MinResponseTime   float64 `json:"min_response_time"`
	MaxResponseTime   float64 `json:"max_response_time"`
	Uptime            float64 `json:"uptime"` // seconds

	// ResponseTimes are the latest response times, oldest first.
	ResponseTimes []float64 `json:"-"`
}

// SuccessRate returns the percentage of successful requests, or 0 when no request has been served.
func (s Snapshot) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessRequests) / float64(s.TotalRequests) * 100
}

// ErrorRate returns the percentage of failed requests, or 0 when no request has been served.
func (s Snapshot) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.FailedRequests) / float64(s.TotalRequests) * 100
}

// IsSuccess reports whether a response status counts as a successful request.
func IsSuccess(status int) bool {
	return status >= 200 && status < 400
}

// Counters is safe for concurrent use. Use [New] to create one.
type Counters struct {
	mu        sync.Mutex
	total     int64
	success   int64
	failed    int64
	active    int64
	conns     int64
	window    []float64 // ring of the latest response times
	next      int
	startedAt time.Time

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// New returns counters keeping the latest window response times.
// A non positive window means 100.
func New(window int) *Counters {
	if window <= 0 {
		window = 100
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	c := &Counters{
		window:    make([]float64, 0, window),
		startedAt: time.Now(),
		registry:  registry,

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_http_requests_total",
			Help: "Total number of HTTP requests served",
		}, []string{"method", "route", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_http_active_connections",
			Help: "Number of requests currently being served",
		}),
	}

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dashboard_http_failed_requests_total",
		Help: "Total number of HTTP requests answered with a status outside [200, 400)",
	}, func() float64 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return float64(c.failed)
	})

	return c
}

func (c *Counters) Begin() {
	c.mu.Lock()
	c.total++
	c.conns++
	c.active++
	c.mu.Unlock()

	c.inflight.Inc()
}

func (c *Counters) End(method, route string, status int, duration time.Duration) {
	ms := float64(duration.Microseconds()) / 1000

	c.mu.Lock()
	if IsSuccess(status) {
		c.success++
	} else {
		c.failed++
	}
	c.active--

	if len(c.window) < cap(c.window) {
		c.window = append(c.window, ms)
	} else {
		c.window[c.next] = ms
		c.next = (c.next + 1) % len(c.window)
	}
	c.mu.Unlock()

	c.inflight.Dec()
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalRequests:     c.total,
		SuccessRequests:   c.success,
		FailedRequests:    c.failed,
		ActiveConnections: c.active,
		TotalConnections:  c.conns,
		Uptime:            time.Since(c.startedAt).Seconds(),
	}

	if len(c.window) == 0 {
		return s
	}

	s.ResponseTimes = make([]float64, 0, len(c.window))
	s.ResponseTimes = append(s.ResponseTimes, c.window[c.next:]...)
	s.ResponseTimes = append(s.ResponseTimes, c.window[:c.next]...)

	var sum float64
	s.MinResponseTime = c.window[0]
	s.MaxResponseTime = c.window[0]
	for _, ms := range c.window {
		sum += ms
		s.MinResponseTime = min(s.MinResponseTime, ms)
		s.MaxResponseTime = max(s.MaxResponseTime, ms)
	}

	s.AvgResponseTime = sum / float64(len(c.window))
	return s
}

// Handler serves the Prometheus exposition of the counters and of the Go runtime.
func (c *Counters) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
