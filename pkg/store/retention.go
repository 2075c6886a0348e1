package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Removed counts the rows deleted from every time-series table by a cleanup.
type Removed struct {
	Requests int64 `json:"requests"`
	Metrics  int64 `json:"metrics"`
	Logs     int64 `json:"logs"`
}

func (r Removed) Total() int64 {
	return r.Requests + r.Metrics + r.Logs
}

// CleanupOldData deletes the requests, metrics and logs whose timestamp is older than daysToKeep days.
// Dashboard users are never touched. The three deletions happen in a single transaction.
// On failure the error is logged and [ErrNotSaved] is returned together with zero counts.
func (s *Store) CleanupOldData(ctx context.Context, daysToKeep int) (Removed, error) {
	if daysToKeep < 0 {
		return Removed{}, errors.New("days to keep must not be negative")
	}

	cutoff := Timestamp(time.Now().AddDate(0, 0, -daysToKeep))
	tables := []string{"api_requests", "metrics", "system_logs"}
	counts := make([]int64, len(tables))

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		for i, table := range tables {
			res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", cutoff)
			if err != nil {
				return fmt.Errorf("failed to clean %s: %w", table, err)
			}

			if counts[i], err = res.RowsAffected(); err != nil {
				return err
			}
		}
		return tx.Commit()
	})

	if err != nil {
		s.log.Error("store: failed to cleanup old data", "error", err, "days_to_keep", daysToKeep)
		return Removed{}, ErrNotSaved
	}

	removed := Removed{Requests: counts[0], Metrics: counts[1], Logs: counts[2]}
	s.log.Info("store: cleaned up old data",
		"cutoff", cutoff,
		"requests", removed.Requests,
		"metrics", removed.Metrics,
		"logs", removed.Logs,
	)
	return removed, nil
}
