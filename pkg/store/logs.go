package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
)

const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
	LevelSuccess = "SUCCESS"
)

// Log is a structured log event. Metadata is any value that can be encoded to JSON;
// when read back it's decoded into the generic JSON types (map[string]any, []any, float64...).
type Log struct {
	ID        int64  `json:"id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Metadata  any    `json:"metadata"`
	Timestamp string `json:"timestamp"`
	CreatedAt string `json:"created_at"`
}

// SaveLog appends the log. An empty level means [LevelInfo], an empty timestamp means now,
// and nil metadata is stored as NULL.
// On failure the error is logged and [ErrNotSaved] is returned.
func (s *Store) SaveLog(ctx context.Context, l Log) error {
	if l.Level == "" {
		l.Level = LevelInfo
	}
	if l.Timestamp == "" {
		l.Timestamp = Now()
	}

	var metadata sql.NullString
	if l.Metadata != nil {
		data, err := json.Marshal(l.Metadata)
		if err != nil {
			s.log.Error("store: failed to encode log metadata", "error", err)
			return ErrNotSaved
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.insertLog.ExecContext(ctx, l.Level, l.Message, metadata, l.Timestamp)
		return err
	})

	if err != nil {
		s.log.Error("store: failed to save log", "error", err, "level", l.Level)
		return ErrNotSaved
	}
	return nil
}

// SystemLogs returns the last limit logs saved, most recent first.
// A non positive limit means [DefaultLogsLimit].
func (s *Store) SystemLogs(ctx context.Context, limit int) []Log {
	if limit <= 0 {
		limit = DefaultLogsLimit
	}

	logs, err := s.scanLogs(ctx, `
		SELECT id, level, message, metadata, timestamp, created_at
		FROM system_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)

	if err != nil {
		s.log.Error("store: failed to fetch system logs", "error", err)
		return []Log{}
	}
	return logs
}

func (s *Store) scanLogs(ctx context.Context, query string, args ...any) ([]Log, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	logs := []Log{}
	for rows.Next() {
		var l Log
		var metadata sql.NullString

		if err := rows.Scan(&l.ID, &l.Level, &l.Message, &metadata, &l.Timestamp, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}

		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &l.Metadata); err != nil {
				// keep the row, the raw text is better than nothing
				l.Metadata = metadata.String
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
