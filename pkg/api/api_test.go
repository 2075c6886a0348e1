package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adaptivelb/server/pkg/auth"
	"github.com/adaptivelb/server/pkg/counters"
	"github.com/adaptivelb/server/pkg/decision"
	"github.com/adaptivelb/server/pkg/rate"
	"github.com/adaptivelb/server/pkg/store"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

var (
	ctx    = context.Background()
	logger = slog.New(slog.DiscardHandler)
)

type recorder struct {
	mu       sync.Mutex
	requests []store.Request
}

func (r *recorder) RecordRequest(req store.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *recorder) Last() store.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return store.Request{}
	}
	return r.requests[len(r.requests)-1]
}

// policy blocks 10.0.0.66 and flags /api/v1/logs/range.
type policy struct{}

func (policy) Decide(ip, userAgent, endpoint string) string {
	switch {
	case ip == "10.0.0.66":
		return decision.Blocked
	case strings.HasPrefix(endpoint, "/api/v1/logs/range"):
		return decision.Flagged
	default:
		return decision.Allowed
	}
}

type env struct {
	server   *Server
	handler  http.Handler
	db       *store.Store
	traffic  *counters.Counters
	recorder *recorder
}

func newTestEnv(t *testing.T, limiter rate.Limiter) *env {
	t.Helper()
	storeConfig := store.NewConfig()
	storeConfig.Path = ":memory:"

	db, err := store.New(storeConfig, logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	authConfig := auth.NewConfig()
	authConfig.Secret = strings.Repeat("s", 32)
	authConfig.BcryptCost = bcrypt.MinCost

	service, err := auth.New(authConfig, db, logger)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}

	e := &env{db: db, traffic: counters.New(100), recorder: &recorder{}}
	config := NewConfig()
	config.LiveInterval = 100 * time.Millisecond

	e.server, err = Setup(config, Deps{
		Store:    db,
		Auth:     service,
		Traffic:  e.traffic,
		Recorder: e.recorder,
		Decider:  policy{},
		Limiter:  limiter,
	}, logger)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	t.Cleanup(e.server.Close)
	e.handler = e.server.Handler()
	return e
}

type call struct {
	method string
	path   string
	body   string
	token  string
	ip     string
}

func (e *env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}

	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ip != "" {
		req.RemoteAddr = c.ip + ":1234"
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Results int             `json:"results"`
	Token   string          `json:"token"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := e.do(t, call{
		method: "POST",
		path:   "/api/v1/auth/login",
		body:   `{"email":"` + email + `","password":"` + password + `"}`,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[response](t, rec).Token
}

func (e *env) createAdmin(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	_, err = e.db.SaveUser(ctx, store.NewUser{
		Name:         "Admin",
		Email:        "admin@example.com",
		PasswordHash: string(hash),
		Role:         store.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	return e.login(t, "admin@example.com", "admin password")
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})
	rec := e.do(t, call{method: "GET", path: "/api/v1/health"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	health := decode[struct {
		Status   string           `json:"status"`
		Database map[string]int64 `json:"database"`
	}](t, rec)

	if health.Status != "success" {
		t.Fatalf("expected status success, got %s", health.Status)
	}
	for _, table := range []string{"requests", "metrics", "logs", "users"} {
		if _, ok := health.Database[table]; !ok {
			t.Errorf("missing count of %s", table)
		}
	}
}

func TestObserve(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})

	tests := []struct {
		name     string
		call     call
		status   int
		decision string
	}{
		{
			name:     "allowed",
			call:     call{method: "GET", path: "/api/v1/logs", ip: "1.2.3.4"},
			status:   http.StatusOK,
			decision: decision.Allowed,
		},
		{
			name:     "flagged",
			call:     call{method: "GET", path: "/api/v1/logs/range?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z", ip: "1.2.3.4"},
			status:   http.StatusOK,
			decision: decision.Flagged,
		},
		{
			name:     "blocked",
			call:     call{method: "GET", path: "/api/v1/logs", ip: "10.0.0.66"},
			status:   http.StatusForbidden,
			decision: decision.Blocked,
		},
		{
			name:     "not found",
			call:     call{method: "GET", path: "/api/v1/nope", ip: "1.2.3.4"},
			status:   http.StatusNotFound,
			decision: decision.Allowed,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := e.do(t, test.call)
			if rec.Code != test.status {
				t.Fatalf("expected status %d, got %d", test.status, rec.Code)
			}

			recorded := e.recorder.Last()
			if recorded.Status != test.status {
				t.Errorf("expected recorded status %d, got %d", test.status, recorded.Status)
			}
			if recorded.Decision != test.decision {
				t.Errorf("expected decision %s, got %s", test.decision, recorded.Decision)
			}
			if recorded.IP != test.call.ip {
				t.Errorf("expected ip %s, got %s", test.call.ip, recorded.IP)
			}
			if recorded.Device != "Windows" {
				t.Errorf("expected device Windows, got %s", recorded.Device)
			}
		})
	}

	snap := e.traffic.Snapshot()
	if snap.TotalRequests != int64(len(tests)) {
		t.Fatalf("expected %d requests, got %d", len(tests), snap.TotalRequests)
	}
	if snap.FailedRequests != 2 {
		t.Fatalf("expected 2 failed requests, got %d", snap.FailedRequests)
	}
	if snap.ActiveConnections != 0 {
		t.Fatalf("expected no active connections, got %d", snap.ActiveConnections)
	}
}

func TestRateLimit(t *testing.T) {
	config := rate.NewConfig()
	config.InitialTokens = 2
	config.MaxTokens = 2
	config.TokensPerInterval = 1
	config.Interval = time.Hour

	e := newTestEnv(t, rate.NewLimiter(config))
	for range 2 {
		if rec := e.do(t, call{method: "GET", path: "/api/v1/logs", ip: "1.2.3.4"}); rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
	}

	rec := e.do(t, call{method: "GET", path: "/api/v1/logs", ip: "1.2.3.4"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
	if d := e.recorder.Last().Decision; d != decision.Throttled {
		t.Fatalf("expected decision %s, got %s", decision.Throttled, d)
	}

	// other clients and health checks are not affected
	if rec := e.do(t, call{method: "GET", path: "/api/v1/logs", ip: "5.6.7.8"}); rec.Code != http.StatusOK {
		t.Fatalf("other ip: expected status 200, got %d", rec.Code)
	}
	if rec := e.do(t, call{method: "GET", path: "/api/v1/health", ip: "1.2.3.4"}); rec.Code != http.StatusOK {
		t.Fatalf("health: expected status 200, got %d", rec.Code)
	}
}

func TestLogs(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})
	for _, ts := range []string{"2024-01-01T10:00:00.000Z", "2024-01-02T10:00:00.000Z", "2024-01-03T10:00:00.000Z"} {
		if _, err := e.db.SaveRequest(ctx, store.Request{Timestamp: ts, Endpoint: "/x"}); err != nil {
			t.Fatalf("SaveRequest: %v", err)
		}
	}

	tests := []struct {
		path    string
		status  int
		results int
	}{
		{path: "/api/v1/logs", status: http.StatusOK, results: 3},
		{path: "/api/v1/logs?limit=2", status: http.StatusOK, results: 2},
		{path: "/api/v1/logs?limit=-1", status: http.StatusOK, results: 3},
		{path: "/api/v1/logs/range?start=2024-01-02T00:00:00.000Z&end=2024-01-04T00:00:00.000Z", status: http.StatusOK, results: 2},
		{path: "/api/v1/logs/range?start=2024-01-02T00:00:00.000Z", status: http.StatusBadRequest},
		{path: "/api/v1/logs/range?start=2024-01-04T00:00:00Z&end=2024-01-02T00:00:00Z", status: http.StatusBadRequest},
		{path: "/api/v1/logs/range?start=2024-01-02&end=2024-01-04", status: http.StatusBadRequest},
		{path: "/api/v1/logs/range?start=a&end=b", status: http.StatusBadRequest},
	}

	for _, test := range tests {
		rec := e.do(t, call{method: "GET", path: test.path})
		if rec.Code != test.status {
			t.Fatalf("%s: expected status %d, got %d", test.path, test.status, rec.Code)
		}

		res := decode[response](t, rec)
		if test.status == http.StatusOK && res.Results != test.results {
			t.Fatalf("%s: expected %d results, got %d", test.path, test.results, res.Results)
		}
		if test.status != http.StatusOK && res.Status != "fail" {
			t.Fatalf("%s: expected status fail, got %s", test.path, res.Status)
		}
	}
}

func TestRange_Bounds(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})
	timestamps := []string{
		"2024-01-01T09:59:59.999Z",
		"2024-01-01T10:00:00.500Z",
		"2024-01-01T10:30:00.000Z",
		"2024-01-01T11:00:00.000Z",
		"2024-01-01T11:00:00.500Z",
	}

	for _, ts := range timestamps {
		if _, err := e.db.SaveRequest(ctx, store.Request{Timestamp: ts, Endpoint: "/x"}); err != nil {
			t.Fatalf("SaveRequest: %v", err)
		}
		if err := e.db.SaveBatchMetrics(ctx, []store.Metric{{Name: "cpu_usage", Value: 1, Timestamp: ts}}); err != nil {
			t.Fatalf("SaveBatchMetrics: %v", err)
		}
	}

	tests := []struct {
		name    string
		query   string
		results int
	}{
		{name: "seconds", query: "start=2024-01-01T10:00:00Z&end=2024-01-01T11:00:00Z", results: 3},
		{name: "milliseconds", query: "start=2024-01-01T10:00:00.500Z&end=2024-01-01T11:00:00.500Z", results: 4},
		{name: "offset", query: "start=2024-01-01T11:00:00%2B01:00&end=2024-01-01T12:00:00%2B01:00", results: 3},
		{name: "same instant", query: "start=2024-01-01T10:30:00Z&end=2024-01-01T10:30:00Z", results: 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			for _, path := range []string{"/api/v1/logs/range?", "/api/v1/metrics/range?"} {
				rec := e.do(t, call{method: "GET", path: path + test.query})
				if rec.Code != http.StatusOK {
					t.Fatalf("%s: expected status 200, got %d: %s", path, rec.Code, rec.Body.String())
				}

				if res := decode[response](t, rec); res.Results != test.results {
					t.Fatalf("%s: expected %d results, got %d", path, test.results, res.Results)
				}
			}
		})
	}
}

func TestDetailedMetrics(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})
	e.do(t, call{method: "GET", path: "/api/v1/logs"})
	e.do(t, call{method: "GET", path: "/api/v1/nope"})

	rec := e.do(t, call{method: "GET", path: "/api/v1/metrics/detailed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	detailed := decode[struct {
		Server struct {
			Uptime float64 `json:"uptime"`
			Memory struct {
				Sys uint64 `json:"sys"`
			} `json:"memory"`
		} `json:"server"`
		Requests struct {
			Total       int64   `json:"total"`
			Success     int64   `json:"success"`
			SuccessRate float64 `json:"successRate"`
		} `json:"requests"`
		Performance struct {
			RecentResponseTimes []float64 `json:"recentResponseTimes"`
		} `json:"performance"`
		Connections struct {
			Active int64 `json:"active"`
		} `json:"connections"`
	}](t, rec)

	// the request being served is counted, but has no response time yet
	if detailed.Requests.Total != 3 || detailed.Requests.Success != 1 {
		t.Fatalf("unexpected requests %+v", detailed.Requests)
	}
	if detailed.Requests.SuccessRate != 33.33 {
		t.Errorf("expected success rate 33.33, got %v", detailed.Requests.SuccessRate)
	}
	if len(detailed.Performance.RecentResponseTimes) != 2 {
		t.Errorf("expected 2 recent response times, got %v", detailed.Performance.RecentResponseTimes)
	}
	if detailed.Connections.Active != 1 {
		t.Errorf("expected 1 active connection, got %d", detailed.Connections.Active)
	}
	if detailed.Server.Memory.Sys == 0 || detailed.Server.Uptime <= 0 {
		t.Errorf("expected the process stats, got %+v", detailed.Server)
	}
}

func TestRoute(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})

	tests := []struct {
		name     string
		body     string
		status   int
		decision string
	}{
		{
			name:     "allowed",
			body:     `{"ip":"1.1.1.1","user_agent":"curl/8.0","endpoint":"/api/v1/logs"}`,
			status:   http.StatusOK,
			decision: decision.Allowed,
		},
		{
			name:     "blocked ip",
			body:     `{"ip":"10.0.0.66","endpoint":"/api/v1/logs"}`,
			status:   http.StatusOK,
			decision: decision.Blocked,
		},
		{
			name:     "flagged endpoint",
			body:     `{"endpoint":"/api/v1/logs/range"}`,
			status:   http.StatusOK,
			decision: decision.Flagged,
		},
		{
			name:   "missing endpoint",
			body:   `{"ip":"1.1.1.1"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid body",
			body:   `{"ip":`,
			status: http.StatusBadRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := e.do(t, call{method: "POST", path: "/api/v1/load-balancer/route", body: test.body, ip: "1.2.3.4"})
			if rec.Code != test.status {
				t.Fatalf("expected status %d, got %d: %s", test.status, rec.Code, rec.Body.String())
			}
			if test.status != http.StatusOK {
				return
			}

			res := decode[response](t, rec)
			var data struct {
				Decision string `json:"decision"`
				IP       string `json:"ip"`
			}
			if err := json.Unmarshal(res.Data, &data); err != nil {
				t.Fatalf("failed to decode data: %v", err)
			}
			if data.Decision != test.decision {
				t.Fatalf("expected decision %s, got %s", test.decision, data.Decision)
			}
			if data.IP == "" {
				t.Fatal("expected the ip to default to the caller's")
			}
		})
	}
}

func TestSystemMetrics(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})
	err := e.db.SaveBatchMetrics(ctx, []store.Metric{
		{Name: "cpu_usage", Value: 10, Timestamp: "2024-01-01T10:00:00.000Z"},
		{Name: "cpu_usage", Value: 20, Timestamp: "2024-01-01T10:00:05.000Z"},
		{Name: "memory_usage", Value: 50, Timestamp: "2024-01-01T10:00:05.000Z"},
	})
	if err != nil {
		t.Fatalf("SaveBatchMetrics: %v", err)
	}

	rec := e.do(t, call{method: "GET", path: "/api/v1/metrics/system"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := decode[struct {
		System map[string]series `json:"system"`
	}](t, rec)

	cpu := body.System["cpu"]
	if cpu.Latest != 20 || len(cpu.History) != 2 || cpu.Unit != "%" {
		t.Fatalf("unexpected cpu series %+v", cpu)
	}
	if body.System["memory"].Latest != 50 {
		t.Fatalf("unexpected memory series %+v", body.System["memory"])
	}

	disk := body.System["disk"]
	if disk.History == nil || len(disk.History) != 0 {
		t.Fatalf("expected empty disk history, got %+v", disk)
	}
}

func TestLogStats_Cached(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})

	first := decode[struct {
		Data store.Stats `json:"data"`
	}](t, e.do(t, call{method: "GET", path: "/api/v1/logs/stats"}))

	if _, err := e.db.SaveRequest(ctx, store.Request{}); err != nil {
		t.Fatalf("SaveRequest: %v", err)
	}

	second := decode[struct {
		Data store.Stats `json:"data"`
	}](t, e.do(t, call{method: "GET", path: "/api/v1/logs/stats"}))

	if first.Data != second.Data {
		t.Fatalf("expected cached stats %+v, got %+v", first.Data, second.Data)
	}
}

func TestAuth(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})
	signup := `{"name":"Jane","email":"jane@example.com","password":"secret","passwordConfirm":"secret"}`

	tests := []struct {
		name   string
		call   call
		status int
	}{
		{
			name:   "signup",
			call:   call{method: "POST", path: "/api/v1/auth/signup", body: signup},
			status: http.StatusCreated,
		},
		{
			name:   "signup duplicate",
			call:   call{method: "POST", path: "/api/v1/auth/signup", body: signup},
			status: http.StatusConflict,
		},
		{
			name:   "signup mismatch",
			call:   call{method: "POST", path: "/api/v1/auth/signup", body: `{"name":"J","email":"j@x.com","password":"a","passwordConfirm":"b"}`},
			status: http.StatusBadRequest,
		},
		{
			name:   "signup invalid json",
			call:   call{method: "POST", path: "/api/v1/auth/signup", body: `{"name":`},
			status: http.StatusBadRequest,
		},
		{
			name:   "login wrong password",
			call:   call{method: "POST", path: "/api/v1/auth/login", body: `{"email":"jane@example.com","password":"nope"}`},
			status: http.StatusUnauthorized,
		},
		{
			name:   "login unknown email",
			call:   call{method: "POST", path: "/api/v1/auth/login", body: `{"email":"john@example.com","password":"secret"}`},
			status: http.StatusUnauthorized,
		},
		{
			name:   "login missing fields",
			call:   call{method: "POST", path: "/api/v1/auth/login", body: `{"email":"jane@example.com"}`},
			status: http.StatusBadRequest,
		},
		{
			name:   "me without token",
			call:   call{method: "GET", path: "/api/v1/auth/me"},
			status: http.StatusUnauthorized,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := e.do(t, test.call)
			if rec.Code != test.status {
				t.Fatalf("expected status %d, got %d: %s", test.status, rec.Code, rec.Body.String())
			}
		})
	}

	token := e.login(t, "jane@example.com", "secret")
	rec := e.do(t, call{method: "GET", path: "/api/v1/auth/me", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected status 200, got %d", rec.Code)
	}

	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("the response leaks the password: %s", rec.Body.String())
	}

	if recorded := e.recorder.Last(); recorded.UserEmail != "jane@example.com" || recorded.UserID == "" {
		t.Fatalf("expected the request to be attributed to jane, got %+v", recorded)
	}

	if rec := e.do(t, call{method: "GET", path: "/api/v1/users", token: token}); rec.Code != http.StatusForbidden {
		t.Fatalf("users: expected status 403, got %d", rec.Code)
	}

	if rec := e.do(t, call{method: "POST", path: "/api/v1/auth/logout", token: token}); rec.Code != http.StatusOK {
		t.Fatalf("logout: expected status 200, got %d", rec.Code)
	}

	if rec := e.do(t, call{method: "GET", path: "/api/v1/auth/me", token: token}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout: expected status 401, got %d", rec.Code)
	}
}

func TestAdmin(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})
	token := e.createAdmin(t)

	if _, err := e.db.SaveRequest(ctx, store.Request{Timestamp: "2000-01-01T00:00:00.000Z"}); err != nil {
		t.Fatalf("SaveRequest: %v", err)
	}
	if _, err := e.db.SaveRequest(ctx, store.Request{}); err != nil {
		t.Fatalf("SaveRequest: %v", err)
	}

	rec := e.do(t, call{method: "GET", path: "/api/v1/users", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("users: expected status 200, got %d", rec.Code)
	}
	if res := decode[response](t, rec); res.Results != 1 {
		t.Fatalf("users: expected 1 result, got %d", res.Results)
	}

	if rec := e.do(t, call{method: "POST", path: "/api/v1/admin/cleanup?days=x", token: token}); rec.Code != http.StatusBadRequest {
		t.Fatalf("cleanup: expected status 400, got %d", rec.Code)
	}

	rec = e.do(t, call{method: "POST", path: "/api/v1/admin/cleanup?days=30", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup: expected status 200, got %d", rec.Code)
	}

	body := decode[struct {
		Data struct {
			Removed store.Removed `json:"removed"`
		} `json:"data"`
	}](t, rec)

	if body.Data.Removed.Requests != 1 {
		t.Fatalf("expected 1 removed request, got %d", body.Data.Removed.Requests)
	}
	if n := len(e.db.RecentRequests(ctx, 10)); n != 1 {
		t.Fatalf("expected 1 request left, got %d", n)
	}
}

func TestGzip(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})
	for range 50 {
		if _, err := e.db.SaveRequest(ctx, store.Request{Endpoint: "/some/long/endpoint/to/compress"}); err != nil {
			t.Fatalf("SaveRequest: %v", err)
		}
	}

	req := httptest.NewRequest("GET", "/api/v1/logs", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if enc := rec.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", enc)
	}
}

func TestLive(t *testing.T) {
	e := newTestEnv(t, rate.Limiter{})
	server := httptest.NewServer(e.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	for i := range 2 {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		var u update
		if err := conn.ReadJSON(&u); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if u.Timestamp == "" {
			t.Fatalf("update %d: missing timestamp", i)
		}
	}

	e.server.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Fatalf("expected close going away, got %v", err)
			}
			break
		}
	}
}

func TestSource(t *testing.T) {
	tests := []struct {
		referer  string
		expected string
	}{
		{"", "Direct"},
		{"https://www.google.com/search?q=x", "Google"},
		{"https://google.co.uk/", "Google"},
		{"https://t.co/abc", "Twitter"},
		{"https://ghost.com/", "Direct"},
		{"https://github.com/user/repo", "GitHub"},
		{"not a url", "Direct"},
	}

	for _, test := range tests {
		if got := source(test.referer); got != test.expected {
			t.Errorf("source(%q): expected %s, got %s", test.referer, test.expected, got)
		}
	}
}

func TestDevice(t *testing.T) {
	tests := []struct {
		agent    string
		expected string
	}{
		{"", "Unknown"},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", "iOS"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", "Android"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)", "MacOS"},
		{"Mozilla/5.0 (X11; Linux x86_64)", "Linux"},
		{"curl/8.0", "Unknown"},
	}

	for _, test := range tests {
		if got := device(test.agent); got != test.expected {
			t.Errorf("device(%q): expected %s, got %s", test.agent, test.expected, got)
		}
	}
}
