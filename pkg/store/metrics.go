package store

import (
	"context"
	"fmt"
	"slices"
)

// Metric is a named numeric sample. Names are open: new kinds of metrics need no schema change.
type Metric struct {
	ID        int64   `json:"id"`
	Name      string  `json:"metric_name"`
	Value     float64 `json:"metric_value"`
	Timestamp string  `json:"timestamp"`
	CreatedAt string  `json:"created_at"`
}

// SaveMetric appends a single sample. An empty timestamp means now.
// On failure the error is logged and [ErrNotSaved] is returned.
func (s *Store) SaveMetric(ctx context.Context, name string, value float64, timestamp string) error {
	if timestamp == "" {
		timestamp = Now()
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.insertMetric.ExecContext(ctx, name, value, timestamp)
		return err
	})

	if err != nil {
		s.log.Error("store: failed to save metric", "error", err, "name", name)
		return ErrNotSaved
	}
	return nil
}

// SaveBatchMetrics appends all the samples in a single transaction, so that the write lock is
// acquired once for the whole batch. Either every sample is committed or none is.
// Empty timestamps mean now. On failure the error is logged and [ErrNotSaved] is returned.
func (s *Store) SaveBatchMetrics(ctx context.Context, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	now := Now()
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt := tx.StmtContext(ctx, s.insertMetric)
		defer stmt.Close()

		for _, m := range metrics {
			timestamp := m.Timestamp
			if timestamp == "" {
				timestamp = now
			}

			if _, err := stmt.ExecContext(ctx, m.Name, m.Value, timestamp); err != nil {
				return fmt.Errorf("failed to insert metric %q: %w", m.Name, err)
			}
		}
		return tx.Commit()
	})

	if err != nil {
		s.log.Error("store: failed to save metrics batch", "error", err, "size", len(metrics))
		return ErrNotSaved
	}
	return nil
}

const metricColumns = `id, metric_name, metric_value, timestamp, created_at`

// RecentMetrics returns the last limit samples saved, oldest first, ready to be charted.
// A non positive limit means [DefaultMetricsLimit].
func (s *Store) RecentMetrics(ctx context.Context, limit int) []Metric {
	if limit <= 0 {
		limit = DefaultMetricsLimit
	}

	query := `SELECT ` + metricColumns + ` FROM metrics
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	metrics := s.queryMetrics(ctx, query, limit)
	slices.Reverse(metrics)
	return metrics
}

// RecentMetricsByName is like [Store.RecentMetrics], but only returns samples with the given name.
func (s *Store) RecentMetricsByName(ctx context.Context, name string, limit int) []Metric {
	if limit <= 0 {
		limit = DefaultMetricsLimit
	}

	query := `SELECT ` + metricColumns + ` FROM metrics
		WHERE metric_name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	metrics := s.queryMetrics(ctx, query, name, limit)
	slices.Reverse(metrics)
	return metrics
}

// MetricsByTimeRange returns the samples whose timestamp is within [start, end], most recent first.
func (s *Store) MetricsByTimeRange(ctx context.Context, start, end string) []Metric {
	query := `SELECT ` + metricColumns + ` FROM metrics
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp DESC, id DESC`

	return s.queryMetrics(ctx, query, start, end)
}

func (s *Store) queryMetrics(ctx context.Context, query string, args ...any) []Metric {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Error("store: failed to fetch metrics", "error", err)
		return []Metric{}
	}
	defer rows.Close()

	metrics := []Metric{}
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &m.Timestamp, &m.CreatedAt); err != nil {
			s.log.Error("store: failed to scan metric", "error", err)
			return []Metric{}
		}
		metrics = append(metrics, m)
	}

	if err := rows.Err(); err != nil {
		s.log.Error("store: failed to fetch metrics", "error", err)
		return []Metric{}
	}
	return metrics
}
