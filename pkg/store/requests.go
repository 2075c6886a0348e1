package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	DefaultRequestsLimit = 100
	DefaultMetricsLimit  = 50
	DefaultLogsLimit     = 100
)

// Request is an HTTP request, either observed by the server or made up by the traffic generator.
// The zero value of every field is replaced by its default when saved, see [Request.WithDefaults].
type Request struct {
	ID           int64  `json:"id"`
	Timestamp    string `json:"timestamp"`
	IP           string `json:"ip"`
	Method       string `json:"method"`
	Endpoint     string `json:"endpoint"`
	Status       int    `json:"status"`
	Device       string `json:"device"`
	Source       string `json:"source"`
	Bytes        int64  `json:"bytes"`
	Decision     string `json:"ai_decision"`
	ResponseTime int64  `json:"response_time"` // milliseconds
	UserAgent    string `json:"user_agent"`
	UserEmail    string `json:"user_email,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Country      string `json:"country,omitempty"` // ISO 2 letter code
	CreatedAt    string `json:"created_at"`
}

// WithDefaults returns a copy of the request where every missing field has its default value.
// User email and id stay empty and are stored as NULL.
func (r Request) WithDefaults() Request {
	if r.Timestamp == "" {
		r.Timestamp = Now()
	}
	if r.IP == "" {
		r.IP = "unknown"
	}
	if r.Method == "" {
		r.Method = "GET"
	}
	if r.Endpoint == "" {
		r.Endpoint = "/"
	}
	if r.Status == 0 {
		r.Status = 200
	}
	if r.Device == "" {
		r.Device = "Unknown"
	}
	if r.Source == "" {
		r.Source = "Direct"
	}
	if r.Bytes < 0 {
		r.Bytes = 0
	}
	if r.Decision == "" {
		r.Decision = "Allowed"
	}
	if r.ResponseTime < 0 {
		r.ResponseTime = 0
	}
	return r
}

// SaveRequest appends the request, with defaults applied, and returns its id.
// On failure the error is logged and [ErrNotSaved] is returned.
func (s *Store) SaveRequest(ctx context.Context, r Request) (int64, error) {
	r = r.WithDefaults()

	var id int64
	err := s.withRetry(ctx, func() error {
		res, err := s.insertRequest.ExecContext(ctx,
			r.Timestamp,
			r.IP,
			r.Method,
			r.Endpoint,
			r.Status,
			r.Device,
			r.Source,
			r.Bytes,
			r.Decision,
			r.ResponseTime,
			r.UserAgent,
			nullable(r.UserEmail),
			nullable(r.UserID),
			r.Country,
		)
		if err != nil {
			return err
		}

		id, err = res.LastInsertId()
		return err
	})

	if err != nil {
		s.log.Error("store: failed to save request", "error", err, "endpoint", r.Endpoint)
		return 0, ErrNotSaved
	}
	return id, nil
}

const requestColumns = `id, timestamp, ip, method, endpoint, status, device, source, bytes,
	ai_decision, response_time, user_agent, user_email, user_id, country, created_at`

// RecentRequests returns the last limit requests saved, most recent first.
// A non positive limit means [DefaultRequestsLimit].
func (s *Store) RecentRequests(ctx context.Context, limit int) []Request {
	if limit <= 0 {
		limit = DefaultRequestsLimit
	}

	query := `SELECT ` + requestColumns + ` FROM api_requests
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	return s.queryRequests(ctx, query, limit)
}

// RequestsByTimeRange returns the requests whose timestamp is within [start, end], most recent first.
// Bounds are timestamps formatted with [TimeLayout].
func (s *Store) RequestsByTimeRange(ctx context.Context, start, end string) []Request {
	query := `SELECT ` + requestColumns + ` FROM api_requests
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp DESC, id DESC`

	return s.queryRequests(ctx, query, start, end)
}

// queryRequests runs the query and scans its rows. It never fails: errors are logged and an empty slice is returned.
func (s *Store) queryRequests(ctx context.Context, query string, args ...any) []Request {
	requests, err := s.scanRequests(ctx, query, args...)
	if err != nil {
		s.log.Error("store: failed to fetch requests", "error", err)
		return []Request{}
	}
	return requests
}

func (s *Store) scanRequests(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	requests := []Request{}
	for rows.Next() {
		var r Request
		var email, userID sql.NullString

		err := rows.Scan(
			&r.ID,
			&r.Timestamp,
			&r.IP,
			&r.Method,
			&r.Endpoint,
			&r.Status,
			&r.Device,
			&r.Source,
			&r.Bytes,
			&r.Decision,
			&r.ResponseTime,
			&r.UserAgent,
			&email,
			&userID,
			&r.Country,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}

		r.UserEmail = email.String
		r.UserID = userID.String
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// Stats aggregates the requests of a time window.
type Stats struct {
	TotalRequests   int64   `json:"total_requests"`
	UniqueVisitors  int64   `json:"unique_visitors"` // distinct IPs
	TotalBytes      int64   `json:"total_bytes"`
	AvgResponseTime float64 `json:"avg_response_time"` // milliseconds
	ErrorCount      int64   `json:"error_count"`       // status >= 400
	SuccessCount    int64   `json:"success_count"`     // status in [200, 300)
}

// Stats aggregates the requests of the last hour.
func (s *Store) Stats(ctx context.Context) Stats {
	return s.StatsSince(ctx, time.Now().Add(-time.Hour))
}

// StatsSince aggregates the requests whose timestamp is not older than since.
// On failure the error is logged and zeroed stats are returned.
func (s *Store) StatsSince(ctx context.Context, since time.Time) Stats {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT ip),
			COALESCE(SUM(bytes), 0),
			COALESCE(AVG(response_time), 0),
			COALESCE(SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status >= 200 AND status < 300 THEN 1 ELSE 0 END), 0)
		FROM api_requests
		WHERE timestamp >= ?`, Timestamp(since),
	).Scan(
		&stats.TotalRequests,
		&stats.UniqueVisitors,
		&stats.TotalBytes,
		&stats.AvgResponseTime,
		&stats.ErrorCount,
		&stats.SuccessCount,
	)

	if err != nil {
		s.log.Error("store: failed to compute stats", "error", err)
		return Stats{}
	}
	return stats
}

// nullable maps the empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
