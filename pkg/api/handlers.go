package api

import (
	"math"
	"net/http"
	"runtime"
	"time"

	"github.com/adaptivelb/server/pkg/collector"
	"github.com/adaptivelb/server/pkg/store"
)

const statsKey = "stats"

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.fail(w, http.StatusNotFound, "Can't find "+r.URL.Path+" on this server")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, envelope{
		"status":    "success",
		"message":   "Server is running",
		"uptime":    time.Since(s.startedAt).Seconds(),
		"database":  s.store.Counts(r.Context()),
		"timestamp": store.Now(),
	})
}

// metrics returns the live traffic counters of the process.
func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	snap := s.traffic.Snapshot()
	s.write(w, http.StatusOK, envelope{
		"requests": envelope{
			"total":   snap.TotalRequests,
			"success": snap.SuccessRequests,
			"failed":  snap.FailedRequests,
		},
		"responseTime": envelope{
			"average": snap.AvgResponseTime,
			"min":     snap.MinResponseTime,
			"max":     snap.MaxResponseTime,
		},
		"activeConnections": snap.ActiveConnections,
		"totalConnections":  snap.TotalConnections,
		"timestamp":         store.Now(),
	})
}

// detailedMetrics returns the traffic counters together with the latest response times
// and the memory of the process.
func (s *Server) detailedMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.traffic.Snapshot()
	recent := snap.ResponseTimes
	if recent == nil {
		recent = []float64{}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.write(w, http.StatusOK, envelope{
		"server": envelope{
			"uptime":     time.Since(s.startedAt).Seconds(),
			"goroutines": runtime.NumGoroutine(),
			"memory": envelope{
				"heapAlloc": mem.HeapAlloc,
				"heapInuse": mem.HeapInuse,
				"sys":       mem.Sys,
				"numGC":     mem.NumGC,
			},
		},
		"requests": envelope{
			"total":       snap.TotalRequests,
			"success":     snap.SuccessRequests,
			"failed":      snap.FailedRequests,
			"successRate": math.Round(snap.SuccessRate()*100) / 100,
		},
		"performance": envelope{
			"avgResponseTime":     snap.AvgResponseTime,
			"minResponseTime":     snap.MinResponseTime,
			"maxResponseTime":     snap.MaxResponseTime,
			"recentResponseTimes": recent,
		},
		"connections": envelope{
			"active": snap.ActiveConnections,
			"total":  snap.TotalConnections,
		},
		"timestamp": store.Now(),
	})
}

type routeRequest struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Endpoint  string `json:"endpoint"`
}

// route returns the routing decision for the described request.
// A missing ip or user agent defaults to the ones of the caller.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Endpoint == "" {
		s.fail(w, http.StatusBadRequest, "Please provide the endpoint")
		return
	}
	if req.IP == "" {
		req.IP = s.clientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	s.success(w, http.StatusOK, envelope{
		"decision": s.decider.Decide(req.IP, req.UserAgent, req.Endpoint),
		"ip":       req.IP,
		"endpoint": req.Endpoint,
	})
}

type point struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

type series struct {
	Latest  float64 `json:"latest"`
	Unit    string  `json:"unit"`
	History []point `json:"history"`
}

// systemMetrics returns the history of every collected metric, grouped by concern.
func (s *Server) systemMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := s.store.RecentMetrics(r.Context(), limitParam(r, store.DefaultMetricsLimit))

	history := make(map[string][]point, len(collector.MetricNames))
	for _, m := range metrics {
		history[m.Name] = append(history[m.Name], point{Timestamp: m.Timestamp, Value: m.Value})
	}

	get := func(name, unit string) series {
		points := history[name]
		if points == nil {
			points = []point{}
		}

		out := series{Unit: unit, History: points}
		if len(points) > 0 {
			out.Latest = points[len(points)-1].Value
		}
		return out
	}

	s.write(w, http.StatusOK, envelope{
		"system": envelope{
			"cpu":    get(collector.CPUUsage, "%"),
			"memory": get(collector.MemoryUsage, "%"),
			"disk":   get(collector.DiskUsage, "%"),
		},
		"performance": envelope{
			"errorRate": get(collector.ErrorRate, "%"),
			"rps":       get(collector.RequestsPerSecond, "req/s"),
			"eps":       get(collector.ErrorsPerSecond, "err/s"),
			"networkIO": get(collector.NetworkIOBytes, "bytes"),
		},
		"health": envelope{
			"uptime":            get(collector.ProcessUptime, "seconds"),
			"activeConnections": get(collector.ActiveConnections, "connections"),
		},
		"timestamp": store.Now(),
	})
}

func (s *Server) metricsRange(w http.ResponseWriter, r *http.Request) {
	start, end, err := rangeParams(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	list(s, w, s.store.MetricsByTimeRange(r.Context(), start, end))
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	list(s, w, s.store.RecentRequests(r.Context(), limitParam(r, store.DefaultRequestsLimit)))
}

func (s *Server) logsRange(w http.ResponseWriter, r *http.Request) {
	start, end, err := rangeParams(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	list(s, w, s.store.RequestsByTimeRange(r.Context(), start, end))
}

// logStats returns the statistics of the last hour of requests, cached for a short while.
func (s *Server) logStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.success(w, http.StatusOK, s.store.Stats(r.Context()))
		return
	}

	stats, ok := s.stats.Get(statsKey)
	if !ok {
		stats = s.store.Stats(r.Context())
		s.stats.Add(statsKey, stats)
	}
	s.success(w, http.StatusOK, stats)
}

func (s *Server) systemLogs(w http.ResponseWriter, r *http.Request) {
	list(s, w, s.store.SystemLogs(r.Context(), limitParam(r, store.DefaultLogsLimit)))
}
