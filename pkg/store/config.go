package store

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	// Path is the path of the sqlite database file. Missing parent directories are created.
	// Default is "data/monitoring.db".
	Path string `env:"DB_PATH"`

	// RetryAttempts is the maximum number of attempts for a write that finds the database locked.
	// Default is 5.
	RetryAttempts int `env:"STORE_RETRY_ATTEMPTS"`

	// RetryBaseDelay is the wait before the second attempt. Every following wait doubles it.
	// Default is 50ms.
	RetryBaseDelay time.Duration `env:"STORE_RETRY_BASE_DELAY"`

	// BusyTimeout is how long the sqlite engine itself waits on a locked database before
	// reporting it to the caller. Default is 5 seconds.
	BusyTimeout time.Duration `env:"STORE_BUSY_TIMEOUT"`

	// CacheSizeKB is the page cache size in KiB. Default is 64000 (64MB).
	CacheSizeKB int `env:"STORE_CACHE_SIZE_KB"`
}

func NewConfig() Config {
	return Config{
		Path:           "data/monitoring.db",
		RetryAttempts:  5,
		RetryBaseDelay: 50 * time.Millisecond,
		BusyTimeout:    5 * time.Second,
		CacheSizeKB:    64000,
	}
}

func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("path is not set")
	}
	if c.RetryAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}
	if c.RetryBaseDelay < 0 {
		return errors.New("retry base delay must not be negative")
	}
	if c.BusyTimeout < 0 {
		return errors.New("busy timeout must not be negative")
	}
	if c.CacheSizeKB <= 0 {
		return errors.New("cache size must be greater than 0")
	}
	return nil
}

// Backoff returns the retry policy described by the config.
func (c Config) Backoff() Backoff {
	return Backoff{
		Attempts:  c.RetryAttempts,
		BaseDelay: c.RetryBaseDelay,
	}
}

func (c Config) String() string {
	return fmt.Sprintf("Store:\n"+
		"\tPath: %s\n"+
		"\tRetry Attempts: %d\n"+
		"\tRetry Base Delay: %s\n"+
		"\tBusy Timeout: %s\n"+
		"\tCache Size: %d KiB\n",
		c.Path,
		c.RetryAttempts,
		c.RetryBaseDelay,
		c.BusyTimeout,
		c.CacheSizeKB)
}
