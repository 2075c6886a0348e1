// Package store is the sqlite-backed telemetry store of the dashboard.
// It owns a single database file holding observed API requests, metric samples,
// system logs and dashboard users.
//
// Every write goes through a bounded exponential retry on lock errors (see [Backoff]).
// Telemetry writes and dashboard reads are best-effort: failures are logged and turned
// into [ErrNotSaved] or empty results, so that losing a sample never affects the caller.
// The only errors that carry meaning are [ErrDuplicateEmail] and [ErrUserNotFound].
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

var (
	ErrNotSaved       = errors.New("not saved")
	ErrDuplicateEmail = errors.New("email already in use")
	ErrUserNotFound   = errors.New("user not found")
)

// Store manages the telemetry database through a single connection and its prepared statements.
// All methods are safe for concurrent use.
type Store struct {
	db *sql.DB

	insertRequest   *sql.Stmt
	insertMetric    *sql.Stmt
	insertLog       *sql.Stmt
	insertUser      *sql.Stmt
	updateLastLogin *sql.Stmt

	backoff Backoff
	log     *slog.Logger
}

// New opens (or creates) the database at [Config.Path], creating missing parent directories,
// applies the pragmas and the schema, and prepares the write statements.
// An error here means the environment is unusable and should stop the process.
func New(c Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	if c.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite3 at %s: %w", c.Path, err)
	}

	// One connection for the whole process: pragmas are per connection,
	// and an in-memory database only exists inside its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sqlite3 at %s: %w", c.Path, err)
	}

	if err := applyPragmas(db, c); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		backoff: c.Backoff(),
		log:     logger,
	}

	if err := s.prepare(); err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("store: database initialized", "path", c.Path)
	return s, nil
}

func applyPragmas(db *sql.DB, c Config) error {
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d;", c.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	// a negative cache size is expressed in KiB
	if _, err := db.Exec(fmt.Sprintf("PRAGMA cache_size = -%d;", c.CacheSizeKB)); err != nil {
		return fmt.Errorf("failed to set cache size: %w", err)
	}
	return nil
}

// migrate creates the tables and indexes that don't exist yet. It's safe to run on every startup.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply base schema: %w", err)
	}
	return nil
}

func (s *Store) prepare() error {
	statements := []struct {
		stmt  **sql.Stmt
		query string
	}{
		{&s.insertRequest, `
			INSERT INTO api_requests (
				timestamp, ip, method, endpoint, status, device, source, bytes,
				ai_decision, response_time, user_agent, user_email, user_id, country
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		},
		{&s.insertMetric, `
			INSERT INTO metrics (metric_name, metric_value, timestamp)
			VALUES (?, ?, ?)`,
		},
		{&s.insertLog, `
			INSERT INTO system_logs (level, message, metadata, timestamp)
			VALUES (?, ?, ?, ?)`,
		},
		{&s.insertUser, `
			INSERT INTO "dashboard-user" (name, email, password, role)
			VALUES (?, ?, ?, ?)`,
		},
		{&s.updateLastLogin, `
			UPDATE "dashboard-user"
			SET last_login = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'),
				updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			WHERE id = ?`,
		},
	}

	for _, st := range statements {
		stmt, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		*st.stmt = stmt
	}
	return nil
}

// Close releases the prepared statements and closes the database connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertRequest, s.insertMetric, s.insertLog, s.insertUser, s.updateLastLogin} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// Counts returns the number of rows of every table, keyed by "requests", "metrics", "logs" and "users".
// Tables that can't be counted are omitted.
func (s *Store) Counts(ctx context.Context) map[string]int64 {
	tables := map[string]string{
		"requests": "api_requests",
		"metrics":  "metrics",
		"logs":     "system_logs",
		"users":    `"dashboard-user"`,
	}

	counts := make(map[string]int64, len(tables))
	for name, table := range tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			s.log.Error("store: failed to count rows", "table", table, "error", err)
			continue
		}
		counts[name] = n
	}
	return counts
}

// TimeLayout is the ISO-8601 layout of every timestamp stored, always in UTC with millisecond precision.
// Its strings sort in chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t with [TimeLayout].
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Now returns the current time formatted with [TimeLayout].
func Now() string {
	return Timestamp(time.Now())
}
