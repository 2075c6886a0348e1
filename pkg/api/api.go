// The api package serves the dashboard HTTP API: health and traffic counters,
// the stored requests, metrics and logs, the dashboard accounts, and a live websocket feed.
// It exposes a [Setup] function to create the [Server] with its dependencies.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/adaptivelb/server/pkg/auth"
	"github.com/adaptivelb/server/pkg/counters"
	"github.com/adaptivelb/server/pkg/rate"
	"github.com/adaptivelb/server/pkg/store"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/klauspost/compress/gzhttp"
)

// Store is the subset of the [store.Store] read by the API.
type Store interface {
	RecentRequests(ctx context.Context, limit int) []store.Request
	RequestsByTimeRange(ctx context.Context, start, end string) []store.Request
	Stats(ctx context.Context) store.Stats
	RecentMetrics(ctx context.Context, limit int) []store.Metric
	MetricsByTimeRange(ctx context.Context, start, end string) []store.Metric
	SystemLogs(ctx context.Context, limit int) []store.Log
	AllUsers(ctx context.Context) []store.User
	CleanupOldData(ctx context.Context, daysToKeep int) (store.Removed, error)
	Counts(ctx context.Context) map[string]int64
}

// Traffic accounts the served requests and exposes them.
type Traffic interface {
	counters.Recorder
	counters.Reader
	Handler() http.Handler
}

// Recorder saves the observed requests, without blocking the caller.
type Recorder interface {
	RecordRequest(r store.Request)
}

// Decider assigns a routing decision to a request.
type Decider interface {
	Decide(ip, userAgent, endpoint string) string
}

// Locator resolves the country of an IP. It returns "" when unknown.
type Locator interface {
	Country(ip string) string
}

// Deps are the dependencies of the [Server]. Locator is optional.
type Deps struct {
	Store    Store
	Auth     *auth.Service
	Traffic  Traffic
	Recorder Recorder
	Decider  Decider
	Limiter  rate.Limiter
	Locator  Locator
}

type Server struct {
	store    Store
	auth     *auth.Service
	traffic  Traffic
	recorder Recorder
	decider  Decider
	limiter  rate.Limiter
	locator  Locator

	stats    *expirable.LRU[string, store.Stats]
	upgrader websocket.Upgrader

	startedAt time.Time
	config    Config
	log       *slog.Logger

	// live websocket connections
	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

func Setup(c Config, d Deps, logger *slog.Logger) (*Server, error) {
	if d.Store == nil {
		return nil, errors.New("store is required")
	}
	if d.Auth == nil {
		return nil, errors.New("auth is required")
	}
	if d.Traffic == nil {
		return nil, errors.New("traffic counters are required")
	}
	if d.Recorder == nil {
		return nil, errors.New("recorder is required")
	}
	if d.Decider == nil {
		return nil, errors.New("decider is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	s := &Server{
		store:     d.Store,
		auth:      d.Auth,
		traffic:   d.Traffic,
		recorder:  d.Recorder,
		decider:   d.Decider,
		limiter:   d.Limiter,
		locator:   d.Locator,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		startedAt: time.Now(),
		config:    c,
		log:       logger,
		done:      make(chan struct{}),
	}

	if c.StatsCacheTTL > 0 {
		s.stats = expirable.NewLRU[string, store.Stats](1, nil, c.StatsCacheTTL)
	}
	return s, nil
}

// Handler returns the root handler of the server.
// The live feed and the Prometheus exposition are not observed, all the other routes are.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/health", s.health)
	api.HandleFunc("GET /api/v1/metrics", s.metrics)
	api.HandleFunc("GET /api/v1/metrics/detailed", s.detailedMetrics)
	api.HandleFunc("GET /api/v1/metrics/system", s.systemMetrics)
	api.HandleFunc("GET /api/v1/metrics/range", s.metricsRange)
	api.HandleFunc("GET /api/v1/logs", s.logs)
	api.HandleFunc("GET /api/v1/logs/stats", s.logStats)
	api.HandleFunc("GET /api/v1/logs/range", s.logsRange)
	api.HandleFunc("GET /api/v1/system-logs", s.systemLogs)
	api.HandleFunc("POST /api/v1/load-balancer/route", s.route)

	api.HandleFunc("POST /api/v1/auth/signup", s.signup)
	api.HandleFunc("POST /api/v1/auth/login", s.login)
	api.HandleFunc("POST /api/v1/auth/logout", s.logout)
	api.HandleFunc("GET /api/v1/auth/me", s.requireUser(s.me))

	api.HandleFunc("GET /api/v1/users", s.requireAdmin(s.users))
	api.HandleFunc("POST /api/v1/admin/cleanup", s.requireAdmin(s.cleanup))
	api.HandleFunc("/", s.notFound)

	root := http.NewServeMux()
	root.Handle("GET /metrics", s.traffic.Handler())
	root.HandleFunc("GET /api/v1/live", s.live)
	root.Handle("/", s.observe(gzhttp.GzipHandler(api)))
	return root
}

// StartAndServe serves the API on the address until the context is cancelled,
// then shuts the server down gracefully.
func (s *Server) StartAndServe(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	exit := make(chan error, 1)
	go func() {
		s.log.Info("api: serving", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			exit <- err
		}
	}()

	select {
	case err := <-exit:
		return err

	case <-ctx.Done():
		s.Close()

		shutdown, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdown)
	}
}

// Close disconnects the live websocket clients, waiting for them to be gone.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}
