package collector

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	// Interval is the period of the metrics collector and of the generators. Default is 5 seconds.
	Interval time.Duration `env:"COLLECTOR_INTERVAL"`

	// GeneratorsEnabled turns on the synthetic log and traffic generators. Default is true.
	GeneratorsEnabled bool `env:"COLLECTOR_GENERATORS_ENABLED"`

	// LogOffset delays the first generated log so that its writes don't collide with
	// the metrics collector. Default is 1.5 seconds.
	LogOffset time.Duration `env:"COLLECTOR_LOG_OFFSET"`

	// TrafficOffset delays the first generated request. Default is 3 seconds.
	TrafficOffset time.Duration `env:"COLLECTOR_TRAFFIC_OFFSET"`

	// DiskPath is the path whose file system is reported as disk_usage. Default is "/".
	DiskPath string `env:"COLLECTOR_DISK_PATH"`

	// RetentionDays is how many days of requests, metrics and logs are kept.
	// Zero disables the retention sweeper. Default is 7.
	RetentionDays int `env:"RETENTION_DAYS"`

	// RetentionInterval is the period of the retention sweeper. Default is 24 hours.
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL"`

	// QueueSize is the number of observed requests that can wait to be saved.
	// When the queue is full new requests are dropped. Default is 1024.
	QueueSize int `env:"COLLECTOR_QUEUE_SIZE"`

	// WriteTimeout bounds every job, retries included. Default is 10 seconds.
	WriteTimeout time.Duration `env:"COLLECTOR_WRITE_TIMEOUT"`
}

func NewConfig() Config {
	return Config{
		Interval:          5 * time.Second,
		GeneratorsEnabled: true,
		LogOffset:         1500 * time.Millisecond,
		TrafficOffset:     3 * time.Second,
		DiskPath:          "/",
		RetentionDays:     7,
		RetentionInterval: 24 * time.Hour,
		QueueSize:         1024,
		WriteTimeout:      10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	if c.LogOffset < 0 || c.TrafficOffset < 0 {
		return errors.New("offsets must not be negative")
	}
	if c.RetentionDays < 0 {
		return errors.New("retention days must not be negative")
	}
	if c.RetentionDays > 0 && c.RetentionInterval < time.Minute {
		return errors.New("retention interval must be at least 1 minute")
	}
	if c.QueueSize <= 0 {
		return errors.New("queue size must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("Collector:\n"+
		"\tInterval: %s\n"+
		"\tGenerators Enabled: %t\n"+
		"\tLog Offset: %s\n"+
		"\tTraffic Offset: %s\n"+
		"\tDisk Path: %s\n"+
		"\tRetention Days: %d\n"+
		"\tRetention Interval: %s\n"+
		"\tQueue Size: %d\n"+
		"\tWrite Timeout: %s\n",
		c.Interval,
		c.GeneratorsEnabled,
		c.LogOffset,
		c.TrafficOffset,
		c.DiskPath,
		c.RetentionDays,
		c.RetentionInterval,
		c.QueueSize,
		c.WriteTimeout)
}
