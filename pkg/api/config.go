package api

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	// Port is the port the dashboard API will listen on. Default is "8000".
	Port string `env:"API_PORT"`

	// MaxBodyBytes is the maximum size of a request body. Default is 10_000 (10KB).
	MaxBodyBytes int64 `env:"API_MAX_BODY_BYTES"`

	// StatsCacheTTL is how long the aggregated request statistics are cached. Default is 2 seconds.
	StatsCacheTTL time.Duration `env:"API_STATS_CACHE_TTL"`

	// LiveInterval is the period of the updates pushed to the live websocket clients.
	// Default is 5 seconds.
	LiveInterval time.Duration `env:"API_LIVE_INTERVAL"`

	// TrustProxy makes the client IP be read from the X-Forwarded-For header.
	// Enable it only behind a reverse proxy. Default is false.
	TrustProxy bool `env:"API_TRUST_PROXY"`

	// ShutdownTimeout bounds the graceful shutdown of the server. Default is 10 seconds.
	ShutdownTimeout time.Duration `env:"API_SHUTDOWN_TIMEOUT"`
}

func NewConfig() Config {
	return Config{
		Port:            "8000",
		MaxBodyBytes:    10_000,
		StatsCacheTTL:   2 * time.Second,
		LiveInterval:    5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be greater than 0")
	}
	if c.StatsCacheTTL < 0 {
		return errors.New("stats cache TTL must not be negative")
	}
	if c.LiveInterval < 100*time.Millisecond {
		return errors.New("live interval must be at least 100ms")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be greater than 0")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("API:\n"+
		"\tPort: %s\n"+
		"\tMax Body Bytes: %d\n"+
		"\tStats Cache TTL: %s\n"+
		"\tLive Interval: %s\n"+
		"\tTrust Proxy: %t\n"+
		"\tShutdown Timeout: %s\n",
		c.Port,
		c.MaxBodyBytes,
		c.StatsCacheTTL,
		c.LiveInterval,
		c.TrustProxy,
		c.ShutdownTimeout)
}
