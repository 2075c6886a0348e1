package store

import (
	"context"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Backoff is a bounded exponential retry policy for writes that find the database locked.
// With 5 attempts and a 50ms base delay, the waits between attempts are 50, 100, 200 and 400ms.
type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
}

// Delay returns the wait that follows the given failed attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return b.BaseDelay << (attempt - 1)
}

// Retry calls op until it succeeds, fails with an error that is not a lock error, or the attempts
// are exhausted. In the last two cases the error of the last attempt is returned as is.
//
// The wait between attempts blocks the calling goroutine only. If ctx is cancelled during a wait,
// Retry stops and returns the last lock error joined with the context error.
// onLocked, when not nil, is called before every wait.
func (b Backoff) Retry(ctx context.Context, op func() error, onLocked func(attempt int, wait time.Duration, err error)) error {
	attempts := max(b.Attempts, 1)

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !IsLocked(err) || attempt >= attempts {
			return err
		}

		wait := b.Delay(attempt)
		if onLocked != nil {
			onLocked(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// IsLocked reports whether err is sqlite signalling that another writer holds the database lock.
func IsLocked(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// withRetry runs op with the store's backoff, logging every lock it waits on.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return s.backoff.Retry(ctx, op, func(attempt int, wait time.Duration, err error) {
		s.log.Warn("store: database locked, retrying",
			"attempt", attempt,
			"max_attempts", s.backoff.Attempts,
			"wait", wait,
			"error", err,
		)
	})
}
